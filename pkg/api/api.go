// Package api defines the messages and procedure names of the theia RPC
// services. Messages are plain structs; they travel as CBOR
// (application/cbor, application/grpc+cbor) or JSON (application/json).
package api

import "github.com/maxstrauch/theia/vm"

const (
	MachineServiceName = "theia.v1.MachineService"
	SessionServiceName = "theia.v1.SessionService"
)

// Procedure paths, as used by Connect and gRPC.
const (
	MachineServiceCompileProcedure        = "/" + MachineServiceName + "/Compile"
	MachineServiceDisassembleProcedure    = "/" + MachineServiceName + "/Disassemble"
	MachineServiceRunProcedure            = "/" + MachineServiceName + "/Run"
	MachineServiceStopProcedure           = "/" + MachineServiceName + "/Stop"
	MachineServiceStatusProcedure         = "/" + MachineServiceName + "/Status"
	MachineServiceGetRegistersProcedure   = "/" + MachineServiceName + "/GetRegisters"
	MachineServiceSetRegisterProcedure    = "/" + MachineServiceName + "/SetRegister"
	MachineServiceClearRegistersProcedure = "/" + MachineServiceName + "/ClearRegisters"
	MachineServiceHistoryProcedure        = "/" + MachineServiceName + "/History"

	SessionServiceCreateSessionProcedure  = "/" + SessionServiceName + "/CreateSession"
	SessionServiceDestroySessionProcedure = "/" + SessionServiceName + "/DestroySession"
	SessionServiceListSessionsProcedure   = "/" + SessionServiceName + "/ListSessions"
)

// DefaultSession is the session used when a request names none.
const DefaultSession = "default"

// ---------------------------------------------------------------------------
// Compilation
// ---------------------------------------------------------------------------

type CompileRequest struct {
	Source   string `json:"source"`
	Language string `json:"language"`
}

// Diagnostic is a compile error. Line and Column are 1-based and zero when
// unknown; Start and End are byte offsets of the offending text.
type Diagnostic struct {
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Start   int    `json:"start,omitempty"`
	End     int    `json:"end,omitempty"`
}

type CompileResponse struct {
	ProgramID  string      `json:"program_id,omitempty"`
	Words      []uint32    `json:"words,omitempty"`
	Labels     map[int]int `json:"labels,omitempty"`
	Diagnostic *Diagnostic `json:"diagnostic,omitempty"`
}

// DisassembleRequest names the program by ID, by raw words or by source.
type DisassembleRequest struct {
	ProgramID string   `json:"program_id,omitempty"`
	Words     []uint32 `json:"words,omitempty"`
	Source    string   `json:"source,omitempty"`
	Language  string   `json:"language,omitempty"`
}

type DisassembleResponse struct {
	Listing    string      `json:"listing"`
	Diagnostic *Diagnostic `json:"diagnostic,omitempty"`
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// RunRequest names the program by ID or by source. Registers are stored
// before the run starts. With Wait the call returns once the run has ended.
type RunRequest struct {
	SessionID string    `json:"session_id,omitempty"`
	ProgramID string    `json:"program_id,omitempty"`
	Source    string    `json:"source,omitempty"`
	Language  string    `json:"language,omitempty"`
	Registers []vm.Cell `json:"registers,omitempty"`
	Trace     bool      `json:"trace,omitempty"`
	Wait      bool      `json:"wait,omitempty"`
}

type RunResponse struct {
	SessionID  string      `json:"session_id"`
	Status     RunStatus   `json:"status"`
	Diagnostic *Diagnostic `json:"diagnostic,omitempty"`
}

// RunStatus describes the latest run of a session. Outcome is empty while
// the run is in flight or when the session never ran.
type RunStatus struct {
	Running   bool      `json:"running"`
	Outcome   string    `json:"outcome,omitempty"`
	Error     string    `json:"error,omitempty"`
	Steps     uint64    `json:"steps"`
	ElapsedNs int64     `json:"elapsed_ns,omitempty"`
	Registers []vm.Cell `json:"registers,omitempty"`
}

type StopRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

type StopResponse struct {
	Stopped bool      `json:"stopped"`
	Status  RunStatus `json:"status"`
}

type StatusRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

type StatusResponse struct {
	Status RunStatus `json:"status"`
}

// ---------------------------------------------------------------------------
// Registers
// ---------------------------------------------------------------------------

type GetRegistersRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

type GetRegistersResponse struct {
	Registers []vm.Cell `json:"registers"`
}

type SetRegisterRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Index     uint32 `json:"index"`
	Value     int64  `json:"value"`
}

type SetRegisterResponse struct{}

type ClearRegistersRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

type ClearRegistersResponse struct{}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

type HistoryRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type HistoryEntry struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Language    string    `json:"language"`
	Source      string    `json:"source"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	Steps       uint64    `json:"steps"`
	ElapsedNs   int64     `json:"elapsed_ns"`
	StartedAtNs int64     `json:"started_at_ns"`
	Registers   []vm.Cell `json:"registers,omitempty"`
}

type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

type CreateSessionRequest struct {
	Name string `json:"name,omitempty"`
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

type DestroySessionRequest struct {
	SessionID string `json:"session_id"`
}

type DestroySessionResponse struct{}

type ListSessionsRequest struct{}

type SessionInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Running     bool   `json:"running"`
	Registers   int    `json:"registers"`
	CreatedAtNs int64  `json:"created_at_ns"`
}

type ListSessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}
