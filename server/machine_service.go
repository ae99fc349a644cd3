package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"connectrpc.com/connect"

	"github.com/maxstrauch/theia/compiler"
	"github.com/maxstrauch/theia/history"
	"github.com/maxstrauch/theia/pkg/api"
	"github.com/maxstrauch/theia/pkg/bytecode"
	"github.com/maxstrauch/theia/vm"
)

// MachineService implements the MachineService Connect/gRPC handlers:
// compilation, execution and register access.
type MachineService struct {
	sessions *SessionStore
	programs *ProgramStore
	recorder *Recorder
	language compiler.Language
	trace    bool
}

// NewMachineService creates a MachineService. lang is used when a request
// names no language.
func NewMachineService(sessions *SessionStore, programs *ProgramStore, recorder *Recorder, lang compiler.Language, trace bool) *MachineService {
	return &MachineService{
		sessions: sessions,
		programs: programs,
		recorder: recorder,
		language: lang,
		trace:    trace,
	}
}

// Compile compiles source text. Compile errors are reported in-band as a
// diagnostic; the program is stored so later calls can refer to it by ID.
func (s *MachineService) Compile(
	ctx context.Context,
	req *connect.Request[api.CompileRequest],
) (*connect.Response[api.CompileResponse], error) {
	lang, err := s.parseLanguage(req.Msg.Language)
	if err != nil {
		return nil, err
	}

	c := compiler.NewCompiler(req.Msg.Source, lang)
	code, compileErr := c.Compile()
	if compileErr != nil {
		return connect.NewResponse(&api.CompileResponse{Diagnostic: diagnostic(compileErr)}), nil
	}

	resp := &api.CompileResponse{
		ProgramID: s.programs.Create(code, lang, req.Msg.Source),
		Words:     code.Ints(),
	}
	if lang == compiler.LangGoto {
		resp.Labels = c.Labels()
	}
	return connect.NewResponse(resp), nil
}

// Disassemble returns the listing of a stored program, raw words or source.
func (s *MachineService) Disassemble(
	ctx context.Context,
	req *connect.Request[api.DisassembleRequest],
) (*connect.Response[api.DisassembleResponse], error) {
	var code bytecode.Program
	switch {
	case len(req.Msg.Words) > 0:
		code = bytecode.FromInts(req.Msg.Words)
	default:
		resolved, diag, err := s.resolve(req.Msg.ProgramID, req.Msg.Source, req.Msg.Language)
		if err != nil {
			return nil, err
		}
		if diag != nil {
			return connect.NewResponse(&api.DisassembleResponse{Diagnostic: diag}), nil
		}
		code = resolved.code
	}

	return connect.NewResponse(&api.DisassembleResponse{
		Listing: bytecode.Disassemble(code),
	}), nil
}

// Run starts a program in a session, stopping any run already in flight.
func (s *MachineService) Run(
	ctx context.Context,
	req *connect.Request[api.RunRequest],
) (*connect.Response[api.RunResponse], error) {
	session, err := s.session(req.Msg.SessionID)
	if err != nil {
		return nil, err
	}

	prog, diag, err := s.resolve(req.Msg.ProgramID, req.Msg.Source, req.Msg.Language)
	if err != nil {
		return nil, err
	}
	if diag != nil {
		return connect.NewResponse(&api.RunResponse{
			SessionID:  session.ID,
			Status:     runStatus(session),
			Diagnostic: diag,
		}), nil
	}

	// Initial registers must not race with a previous run.
	session.Machine.Stop()
	session.Machine.Registers().Load(req.Msg.Registers)

	run := session.Machine.Run(context.Background(), prog.code, vm.WithTrace(s.trace || req.Msg.Trace))
	log.Infof("session %s: started %s program (%d words)", session.ID, prog.language, len(prog.code))
	go s.record(session.ID, prog, run)

	if req.Msg.Wait {
		select {
		case <-run.Done():
		case <-ctx.Done():
			code := connect.CodeCanceled
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				code = connect.CodeDeadlineExceeded
			}
			return nil, connect.NewError(code, ctx.Err())
		}
	}

	return connect.NewResponse(&api.RunResponse{
		SessionID: session.ID,
		Status:    runStatus(session),
	}), nil
}

// record journals a run once it has ended.
func (s *MachineService) record(sessionID string, prog *program, run *vm.Run) {
	res := run.Wait()
	log.Infof("session %s: %s", sessionID, res)
	s.recorder.Submit(history.NewEntry(sessionID, strings.ToLower(prog.language.String()), prog.source, res, run.Registers().Snapshot()))
}

// Stop stops the session's in-flight run and waits for it to end.
func (s *MachineService) Stop(
	ctx context.Context,
	req *connect.Request[api.StopRequest],
) (*connect.Response[api.StopResponse], error) {
	session, err := s.session(req.Msg.SessionID)
	if err != nil {
		return nil, err
	}
	stopped := session.Machine.Stop()
	return connect.NewResponse(&api.StopResponse{
		Stopped: stopped,
		Status:  runStatus(session),
	}), nil
}

// Status reports the session's latest run.
func (s *MachineService) Status(
	ctx context.Context,
	req *connect.Request[api.StatusRequest],
) (*connect.Response[api.StatusResponse], error) {
	session, err := s.session(req.Msg.SessionID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&api.StatusResponse{Status: runStatus(session)}), nil
}

// GetRegisters returns the session's registers in ascending index order.
func (s *MachineService) GetRegisters(
	ctx context.Context,
	req *connect.Request[api.GetRegistersRequest],
) (*connect.Response[api.GetRegistersResponse], error) {
	session, err := s.session(req.Msg.SessionID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&api.GetRegistersResponse{
		Registers: session.Machine.Registers().Snapshot(),
	}), nil
}

// SetRegister stores a register value. It is permitted while a run is in
// flight.
func (s *MachineService) SetRegister(
	ctx context.Context,
	req *connect.Request[api.SetRegisterRequest],
) (*connect.Response[api.SetRegisterResponse], error) {
	session, err := s.session(req.Msg.SessionID)
	if err != nil {
		return nil, err
	}
	if int64(req.Msg.Index) > bytecode.MaxValue {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("register index %d out of range", req.Msg.Index))
	}
	session.Machine.Registers().Set(req.Msg.Index, req.Msg.Value)
	return connect.NewResponse(&api.SetRegisterResponse{}), nil
}

// ClearRegisters removes every register of the session.
func (s *MachineService) ClearRegisters(
	ctx context.Context,
	req *connect.Request[api.ClearRegistersRequest],
) (*connect.Response[api.ClearRegistersResponse], error) {
	session, err := s.session(req.Msg.SessionID)
	if err != nil {
		return nil, err
	}
	session.Machine.Registers().Clear()
	return connect.NewResponse(&api.ClearRegistersResponse{}), nil
}

// History returns journaled runs, newest first. An empty session ID lists
// every session.
func (s *MachineService) History(
	ctx context.Context,
	req *connect.Request[api.HistoryRequest],
) (*connect.Response[api.HistoryResponse], error) {
	j := s.recorder.Journal()
	if j == nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition, errors.New("history is disabled"))
	}

	entries, err := j.Recent(ctx, history.Query{Session: req.Msg.SessionID, Limit: req.Msg.Limit})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	resp := &api.HistoryResponse{Entries: make([]api.HistoryEntry, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, api.HistoryEntry{
			ID:          e.ID,
			SessionID:   e.Session,
			Language:    e.Language,
			Source:      e.Source,
			Outcome:     e.Outcome.String(),
			Error:       e.Error,
			Steps:       e.Steps,
			ElapsedNs:   int64(e.Elapsed),
			StartedAtNs: e.StartedAt.UnixNano(),
			Registers:   e.Registers,
		})
	}
	return connect.NewResponse(resp), nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *MachineService) session(id string) (*Session, error) {
	session, ok := s.sessions.Get(id)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", id))
	}
	return session, nil
}

func (s *MachineService) parseLanguage(name string) (compiler.Language, error) {
	if name == "" {
		return s.language, nil
	}
	lang, err := compiler.ParseLanguage(name)
	if err != nil {
		return 0, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return lang, nil
}

// resolve finds the program a request names: a stored program by ID, or
// source text compiled on the spot.
func (s *MachineService) resolve(programID, source, language string) (*program, *api.Diagnostic, error) {
	if programID != "" {
		p, ok := s.programs.Lookup(programID)
		if !ok {
			return nil, nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("program %q not found", programID))
		}
		return p, nil, nil
	}
	if source == "" {
		return nil, nil, connect.NewError(connect.CodeInvalidArgument, errors.New("source or program_id is required"))
	}

	lang, err := s.parseLanguage(language)
	if err != nil {
		return nil, nil, err
	}
	code, err := compiler.Compile(source, lang)
	if err != nil {
		return nil, diagnostic(err), nil
	}
	return &program{code: code, language: lang, source: source}, nil, nil
}

// diagnostic converts a compile error.
func diagnostic(err error) *api.Diagnostic {
	d := &api.Diagnostic{Message: err.Error()}
	var cerr *compiler.Error
	if errors.As(err, &cerr) {
		d.Message = cerr.Msg
		if cerr.HasPosition() {
			d.Line = cerr.Pos.Line
			d.Column = cerr.Pos.Column
		}
		if cerr.HasSpan() {
			d.Start, d.End = cerr.Span()
		}
	}
	return d
}

// runStatus describes the session's latest run.
func runStatus(session *Session) api.RunStatus {
	status := api.RunStatus{}
	run := session.Machine.Current()
	if run != nil {
		res, ended := run.Result()
		status.Running = !ended
		status.Steps = run.Steps()
		if ended {
			status.Outcome = res.Outcome.String()
			status.Steps = res.Steps
			status.ElapsedNs = int64(res.Elapsed)
			if res.Err != nil {
				status.Error = res.Err.Error()
			}
		}
	}
	status.Registers = session.Machine.Registers().Snapshot()
	return status
}
