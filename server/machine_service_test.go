package server

import (
	"context"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxstrauch/theia/pkg/api"
	"github.com/maxstrauch/theia/pkg/bytecode"
	"github.com/maxstrauch/theia/vm"
)

// ---------------------------------------------------------------------------
// Compile
// ---------------------------------------------------------------------------

func TestCompile_Success(t *testing.T) {
	ts := newTestServices(t)

	resp, err := ts.machine.Compile(bg(), connectReq(&api.CompileRequest{Source: factorial}))
	require.NoError(t, err)
	assert.Nil(t, resp.Msg.Diagnostic)
	assert.NotEmpty(t, resp.Msg.ProgramID)
	assert.NotEmpty(t, resp.Msg.Words)
	assert.Empty(t, resp.Msg.Labels)
	assert.Equal(t, 1, ts.programs.Len())
}

func TestCompile_GotoLabels(t *testing.T) {
	ts := newTestServices(t)

	resp, err := ts.machine.Compile(bg(), connectReq(&api.CompileRequest{
		Source:   "1 : if x1 = 0 goto 3 ; 2 : x1 := x1 - 1 ; 3 : x2 := x1",
		Language: "goto",
	}))
	require.NoError(t, err)
	require.Nil(t, resp.Msg.Diagnostic)
	assert.Equal(t, map[int]int{1: 0, 2: 4, 3: 8}, resp.Msg.Labels)
}

func TestCompile_ErrorIsInBand(t *testing.T) {
	ts := newTestServices(t)

	resp, err := ts.machine.Compile(bg(), connectReq(&api.CompileRequest{Source: "x1 := ;"}))
	require.NoError(t, err)
	require.NotNil(t, resp.Msg.Diagnostic)
	assert.Empty(t, resp.Msg.ProgramID)
	assert.Equal(t, 1, resp.Msg.Diagnostic.Line)
	assert.Equal(t, 7, resp.Msg.Diagnostic.Column)
	assert.Equal(t, 6, resp.Msg.Diagnostic.Start)
	assert.Equal(t, 7, resp.Msg.Diagnostic.End)
	assert.Equal(t, 0, ts.programs.Len())
}

func TestCompile_UnknownLanguage(t *testing.T) {
	ts := newTestServices(t)

	_, err := ts.machine.Compile(bg(), connectReq(&api.CompileRequest{Source: "x1 := 1", Language: "basic"}))
	requireCode(t, err, connect.CodeInvalidArgument)
}

// ---------------------------------------------------------------------------
// Disassemble
// ---------------------------------------------------------------------------

func TestDisassemble_ByProgramID(t *testing.T) {
	ts := newTestServices(t)

	compiled, err := ts.machine.Compile(bg(), connectReq(&api.CompileRequest{Source: "loop x1 do x2 := x2 + 1 end"}))
	require.NoError(t, err)

	resp, err := ts.machine.Disassemble(bg(), connectReq(&api.DisassembleRequest{ProgramID: compiled.Msg.ProgramID}))
	require.NoError(t, err)
	assert.Contains(t, resp.Msg.Listing, "Code:")
	assert.Contains(t, resp.Msg.Listing, "push x1")
	assert.Contains(t, resp.Msg.Listing, "pop")
}

func TestDisassemble_Words(t *testing.T) {
	ts := newTestServices(t)

	resp, err := ts.machine.Disassemble(bg(), connectReq(&api.DisassembleRequest{Words: []uint32{0x99, 0x77}}))
	require.NoError(t, err)
	assert.Contains(t, resp.Msg.Listing, "nop")
	assert.Contains(t, resp.Msg.Listing, "unknown opcode")
}

func TestDisassemble_SourceWithError(t *testing.T) {
	ts := newTestServices(t)

	resp, err := ts.machine.Disassemble(bg(), connectReq(&api.DisassembleRequest{Source: "loop x1 do"}))
	require.NoError(t, err)
	require.NotNil(t, resp.Msg.Diagnostic)
	assert.Empty(t, resp.Msg.Listing)
}

func TestDisassemble_UnknownProgram(t *testing.T) {
	ts := newTestServices(t)

	_, err := ts.machine.Disassemble(bg(), connectReq(&api.DisassembleRequest{ProgramID: "p-404"}))
	requireCode(t, err, connect.CodeNotFound)
}

// ---------------------------------------------------------------------------
// Run / Stop / Status
// ---------------------------------------------------------------------------

func TestRun_WaitFactorial(t *testing.T) {
	ts := newTestServices(t)

	resp, err := ts.machine.Run(bg(), connectReq(&api.RunRequest{
		Source:    factorial,
		Registers: []vm.Cell{{Index: 1, Value: 5}},
		Wait:      true,
	}))
	require.NoError(t, err)
	require.Nil(t, resp.Msg.Diagnostic)

	status := resp.Msg.Status
	assert.Equal(t, api.DefaultSession, resp.Msg.SessionID)
	assert.False(t, status.Running)
	assert.Equal(t, "completed", status.Outcome)
	assert.Empty(t, status.Error)
	assert.NotZero(t, status.Steps)
	assert.Equal(t, []vm.Cell{{Index: 1, Value: 0}, {Index: 2, Value: 120}, {Index: 3, Value: 0}}, status.Registers)
}

func TestRun_StoredProgram(t *testing.T) {
	ts := newTestServices(t)

	compiled, err := ts.machine.Compile(bg(), connectReq(&api.CompileRequest{
		Source:   "while x1 != 0 do x1 := x1 - 1 ; x2 := x2 + 2 end",
		Language: "while",
	}))
	require.NoError(t, err)

	for range 2 {
		resp, err := ts.machine.Run(bg(), connectReq(&api.RunRequest{
			ProgramID: compiled.Msg.ProgramID,
			Registers: []vm.Cell{{Index: 1, Value: 4}, {Index: 2, Value: 0}},
			Wait:      true,
		}))
		require.NoError(t, err)
		assert.Equal(t, "completed", resp.Msg.Status.Outcome)
		assert.Equal(t, []vm.Cell{{Index: 1, Value: 0}, {Index: 2, Value: 8}}, resp.Msg.Status.Registers)
	}
}

func TestRun_CompileErrorDoesNotRun(t *testing.T) {
	ts := newTestServices(t)

	resp, err := ts.machine.Run(bg(), connectReq(&api.RunRequest{Source: "x1 := x2 +", Wait: true}))
	require.NoError(t, err)
	require.NotNil(t, resp.Msg.Diagnostic)
	assert.Empty(t, resp.Msg.Status.Outcome)

	session, _ := ts.sessions.Get("")
	assert.Nil(t, session.Machine.Current())
}

func TestStatus_ReportsFault(t *testing.T) {
	ts := newTestServices(t)

	// pop on an empty loop stack
	session, _ := ts.sessions.Get("")
	session.Machine.Run(bg(), bytecode.Program{bytecode.Word(bytecode.OpPop)}).Wait()

	resp, err := ts.machine.Status(bg(), connectReq(&api.StatusRequest{}))
	require.NoError(t, err)
	assert.Equal(t, "fault", resp.Msg.Status.Outcome)
	assert.Contains(t, resp.Msg.Status.Error, "stack underflow")
	assert.Contains(t, resp.Msg.Status.Error, "fault at 0")
}

func TestRun_MissingSource(t *testing.T) {
	ts := newTestServices(t)

	_, err := ts.machine.Run(bg(), connectReq(&api.RunRequest{}))
	requireCode(t, err, connect.CodeInvalidArgument)
}

func TestRun_UnknownSession(t *testing.T) {
	ts := newTestServices(t)

	_, err := ts.machine.Run(bg(), connectReq(&api.RunRequest{SessionID: "s-404", Source: "x1 := 1"}))
	requireCode(t, err, connect.CodeNotFound)
}

func TestRun_WaitHonoursDeadline(t *testing.T) {
	ts := newTestServices(t)

	ctx, cancel := context.WithTimeout(bg(), 20*time.Millisecond)
	defer cancel()

	_, err := ts.machine.Run(ctx, connectReq(&api.RunRequest{Source: spin, Language: "while", Wait: true}))
	requireCode(t, err, connect.CodeDeadlineExceeded)

	// The run outlives the request until it is stopped.
	resp, err := ts.machine.Stop(bg(), connectReq(&api.StopRequest{}))
	require.NoError(t, err)
	assert.True(t, resp.Msg.Stopped)
	assert.Equal(t, "terminated", resp.Msg.Status.Outcome)
}

func TestStop_TerminatesRun(t *testing.T) {
	ts := newTestServices(t)

	resp, err := ts.machine.Run(bg(), connectReq(&api.RunRequest{Source: spin, Language: "while"}))
	require.NoError(t, err)
	assert.True(t, resp.Msg.Status.Running)

	waitRunning(t, ts, "")

	stopped, err := ts.machine.Stop(bg(), connectReq(&api.StopRequest{}))
	require.NoError(t, err)
	assert.True(t, stopped.Msg.Stopped)
	assert.False(t, stopped.Msg.Status.Running)
	assert.Equal(t, "terminated", stopped.Msg.Status.Outcome)
	assert.Empty(t, stopped.Msg.Status.Error)

	again, err := ts.machine.Stop(bg(), connectReq(&api.StopRequest{}))
	require.NoError(t, err)
	assert.False(t, again.Msg.Stopped)
}

func TestRun_ReplacesRunningProgram(t *testing.T) {
	ts := newTestServices(t)

	_, err := ts.machine.Run(bg(), connectReq(&api.RunRequest{Source: spin, Language: "while"}))
	require.NoError(t, err)
	waitRunning(t, ts, "")

	resp, err := ts.machine.Run(bg(), connectReq(&api.RunRequest{
		Source:    "x5 := 42",
		Registers: []vm.Cell{{Index: 2, Value: 0}},
		Wait:      true,
	}))
	require.NoError(t, err)
	assert.Equal(t, "completed", resp.Msg.Status.Outcome)
	assert.Equal(t, []vm.Cell{{Index: 1, Value: 1}, {Index: 2, Value: 0}, {Index: 5, Value: 42}}, resp.Msg.Status.Registers)
}

func TestStatus_NeverRan(t *testing.T) {
	ts := newTestServices(t)

	resp, err := ts.machine.Status(bg(), connectReq(&api.StatusRequest{}))
	require.NoError(t, err)
	assert.False(t, resp.Msg.Status.Running)
	assert.Empty(t, resp.Msg.Status.Outcome)
	assert.Empty(t, resp.Msg.Status.Registers)
}

// ---------------------------------------------------------------------------
// Registers
// ---------------------------------------------------------------------------

func TestRegisters_SetGetClear(t *testing.T) {
	ts := newTestServices(t)

	for _, c := range []vm.Cell{{Index: 7, Value: -3}, {Index: 2, Value: 9}} {
		_, err := ts.machine.SetRegister(bg(), connectReq(&api.SetRegisterRequest{Index: c.Index, Value: c.Value}))
		require.NoError(t, err)
	}

	got, err := ts.machine.GetRegisters(bg(), connectReq(&api.GetRegistersRequest{}))
	require.NoError(t, err)
	assert.Equal(t, []vm.Cell{{Index: 2, Value: 9}, {Index: 7, Value: -3}}, got.Msg.Registers)

	_, err = ts.machine.ClearRegisters(bg(), connectReq(&api.ClearRegistersRequest{}))
	require.NoError(t, err)

	got, err = ts.machine.GetRegisters(bg(), connectReq(&api.GetRegistersRequest{}))
	require.NoError(t, err)
	assert.Empty(t, got.Msg.Registers)
}

func TestRegisters_IndexOutOfRange(t *testing.T) {
	ts := newTestServices(t)

	_, err := ts.machine.SetRegister(bg(), connectReq(&api.SetRegisterRequest{Index: 1 << 31, Value: 1}))
	requireCode(t, err, connect.CodeInvalidArgument)
}

func TestRegisters_SetDuringRun(t *testing.T) {
	ts := newTestServices(t)

	_, err := ts.machine.Run(bg(), connectReq(&api.RunRequest{Source: spin, Language: "while"}))
	require.NoError(t, err)
	waitRunning(t, ts, "")

	// Zeroing x1 ends the while loop.
	_, err = ts.machine.SetRegister(bg(), connectReq(&api.SetRegisterRequest{Index: 1, Value: 0}))
	require.NoError(t, err)

	session, _ := ts.sessions.Get("")
	res := session.Machine.Current().Wait()
	assert.Equal(t, vm.Completed, res.Outcome)
}

func TestRegisters_SessionsAreIsolated(t *testing.T) {
	ts := newTestServices(t)
	other := ts.sessions.Create("other")

	_, err := ts.machine.SetRegister(bg(), connectReq(&api.SetRegisterRequest{SessionID: other.ID, Index: 1, Value: 5}))
	require.NoError(t, err)

	got, err := ts.machine.GetRegisters(bg(), connectReq(&api.GetRegistersRequest{}))
	require.NoError(t, err)
	assert.Empty(t, got.Msg.Registers)

	got, err = ts.machine.GetRegisters(bg(), connectReq(&api.GetRegistersRequest{SessionID: other.ID}))
	require.NoError(t, err)
	assert.Equal(t, []vm.Cell{{Index: 1, Value: 5}}, got.Msg.Registers)
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

func TestHistory_Disabled(t *testing.T) {
	ts := newTestServices(t)

	_, err := ts.machine.History(bg(), connectReq(&api.HistoryRequest{}))
	requireCode(t, err, connect.CodeFailedPrecondition)
}

func TestHistory_RecordsRuns(t *testing.T) {
	ts := newTestServicesWithJournal(t, openTestJournal(t))

	_, err := ts.machine.Run(bg(), connectReq(&api.RunRequest{
		Source:    factorial,
		Registers: []vm.Cell{{Index: 1, Value: 3}},
		Wait:      true,
	}))
	require.NoError(t, err)

	var entries []api.HistoryEntry
	require.Eventually(t, func() bool {
		resp, err := ts.machine.History(bg(), connectReq(&api.HistoryRequest{SessionID: api.DefaultSession}))
		if err != nil || len(resp.Msg.Entries) == 0 {
			return false
		}
		entries = resp.Msg.Entries
		return true
	}, 5*time.Second, 5*time.Millisecond)

	e := entries[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, api.DefaultSession, e.SessionID)
	assert.Equal(t, "loop", e.Language)
	assert.Equal(t, factorial, e.Source)
	assert.Equal(t, "completed", e.Outcome)
	assert.Contains(t, e.Registers, vm.Cell{Index: 2, Value: 6})
}
