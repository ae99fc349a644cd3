package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/maxstrauch/theia/compiler"
	"github.com/maxstrauch/theia/history"
	"github.com/maxstrauch/theia/pkg/api"
	"github.com/maxstrauch/theia/pkg/wire"
	"github.com/maxstrauch/theia/vm"
)

var log = commonlog.GetLogger("theia.server")

// Server exposes register machine sessions over Connect and gRPC on the
// same port. Messages travel as CBOR or JSON.
type Server struct {
	sessions *SessionStore
	programs *ProgramStore
	recorder *Recorder
	mux      *http.ServeMux
	http     *http.Server

	machine *MachineService
	session *SessionService

	stopSweepers []func()
}

// Option configures a Server.
type Option func(*config)

type config struct {
	journal  *history.Journal
	keep     int
	language compiler.Language
	trace    bool
	ttl      time.Duration
	vmOpts   []vm.Option
}

// WithJournal records every finished run in j.
func WithJournal(j *history.Journal) Option {
	return func(c *config) { c.journal = j }
}

// WithHistoryLimit keeps only the newest n journal entries.
func WithHistoryLimit(n int) Option {
	return func(c *config) { c.keep = n }
}

// WithLanguage sets the language used when a request names none.
func WithLanguage(lang compiler.Language) Option {
	return func(c *config) { c.language = lang }
}

// WithTrace enables instruction tracing for every run.
func WithTrace(trace bool) Option {
	return func(c *config) { c.trace = trace }
}

// WithIdleTTL sets how long unused sessions and programs are kept.
func WithIdleTTL(ttl time.Duration) Option {
	return func(c *config) { c.ttl = ttl }
}

// WithMachineOptions applies vm options to every run.
func WithMachineOptions(opts ...vm.Option) Option {
	return func(c *config) { c.vmOpts = append(c.vmOpts, opts...) }
}

// New creates a Server.
func New(opts ...Option) *Server {
	cfg := &config{
		language: compiler.LangLoop,
		ttl:      30 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &Server{
		sessions: NewSessionStore(cfg.vmOpts...),
		programs: NewProgramStore(),
		recorder: NewRecorder(cfg.journal, cfg.keep),
		mux:      http.NewServeMux(),
	}
	s.http = newHTTPServer(s.mux)
	s.machine = NewMachineService(s.sessions, s.programs, s.recorder, cfg.language, cfg.trace)
	s.session = NewSessionService(s.sessions)

	handlerOpts := []connect.HandlerOption{
		connect.WithCodec(wire.Codec{}),
		connect.WithCodec(wire.JSONCodec{}),
	}

	handle(s.mux, api.MachineServiceCompileProcedure, s.machine.Compile, handlerOpts)
	handle(s.mux, api.MachineServiceDisassembleProcedure, s.machine.Disassemble, handlerOpts)
	handle(s.mux, api.MachineServiceRunProcedure, s.machine.Run, handlerOpts)
	handle(s.mux, api.MachineServiceStopProcedure, s.machine.Stop, handlerOpts)
	handle(s.mux, api.MachineServiceStatusProcedure, s.machine.Status, handlerOpts)
	handle(s.mux, api.MachineServiceGetRegistersProcedure, s.machine.GetRegisters, handlerOpts)
	handle(s.mux, api.MachineServiceSetRegisterProcedure, s.machine.SetRegister, handlerOpts)
	handle(s.mux, api.MachineServiceClearRegistersProcedure, s.machine.ClearRegisters, handlerOpts)
	handle(s.mux, api.MachineServiceHistoryProcedure, s.machine.History, handlerOpts)

	handle(s.mux, api.SessionServiceCreateSessionProcedure, s.session.CreateSession, handlerOpts)
	handle(s.mux, api.SessionServiceDestroySessionProcedure, s.session.DestroySession, handlerOpts)
	handle(s.mux, api.SessionServiceListSessionsProcedure, s.session.ListSessions, handlerOpts)

	// Sweep every 5 minutes.
	s.stopSweepers = append(s.stopSweepers,
		s.sessions.StartSweeper(5*time.Minute, cfg.ttl),
		s.programs.StartSweeper(5*time.Minute, cfg.ttl),
	)

	return s
}

func handle[Req, Res any](
	mux *http.ServeMux,
	procedure string,
	fn func(context.Context, *connect.Request[Req]) (*connect.Response[Res], error),
	opts []connect.HandlerOption,
) {
	mux.Handle(procedure, connect.NewUnaryHandler(procedure, fn, opts...))
}

// Handler returns the HTTP handler serving every procedure.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Sessions returns the server's session store.
func (s *Server) Sessions() *SessionStore {
	return s.sessions
}

// ListenAndServe serves HTTP/1.1 and unencrypted HTTP/2 on addr, the latter
// for gRPC clients. It returns http.ErrServerClosed after Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves requests on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	addr := ln.Addr().String()
	log.Infof("theia server listening on %s", addr)
	log.Infof("  Connect (HTTP/JSON): http://%s%s", addr, api.MachineServiceRunProcedure)
	log.Infof("  gRPC (CBOR):         grpc://%s", addr)
	return s.http.Serve(ln)
}

func newHTTPServer(h http.Handler) *http.Server {
	protocols := new(http.Protocols)
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)
	return &http.Server{
		Handler:           h,
		Protocols:         protocols,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Shutdown stops accepting requests, then stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.Stop()
	return err
}

// Stop stops the sweepers and every in-flight run, then flushes the journal.
func (s *Server) Stop() {
	for _, stop := range s.stopSweepers {
		stop()
	}
	s.sessions.StopAll()
	s.recorder.Stop()
}
