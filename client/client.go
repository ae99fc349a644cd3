// Package client calls a theia server over Connect (HTTP/1.1 or HTTP/2) or
// gRPC. Both transports carry the messages of package api as CBOR.
package client

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/maxstrauch/theia/pkg/api"
	"github.com/maxstrauch/theia/pkg/wire"
	"github.com/maxstrauch/theia/vm"
)

// caller performs one unary call.
type caller[Req, Res any] func(ctx context.Context, req *Req) (*Res, error)

func connectCaller[Req, Res any](hc connect.HTTPClient, baseURL, procedure string, opts ...connect.ClientOption) caller[Req, Res] {
	c := connect.NewClient[Req, Res](hc, baseURL+procedure, opts...)
	return func(ctx context.Context, req *Req) (*Res, error) {
		resp, err := c.CallUnary(ctx, connect.NewRequest(req))
		if err != nil {
			return nil, err
		}
		return resp.Msg, nil
	}
}

func grpcCaller[Req, Res any](conn grpc.ClientConnInterface, procedure string) caller[Req, Res] {
	return func(ctx context.Context, req *Req) (*Res, error) {
		res := new(Res)
		if err := conn.Invoke(ctx, procedure, req, res, grpc.ForceCodec(wire.Codec{})); err != nil {
			return nil, err
		}
		return res, nil
	}
}

// Client is a typed client for the machine and session services.
type Client struct {
	compile        caller[api.CompileRequest, api.CompileResponse]
	disassemble    caller[api.DisassembleRequest, api.DisassembleResponse]
	run            caller[api.RunRequest, api.RunResponse]
	stop           caller[api.StopRequest, api.StopResponse]
	status         caller[api.StatusRequest, api.StatusResponse]
	getRegisters   caller[api.GetRegistersRequest, api.GetRegistersResponse]
	setRegister    caller[api.SetRegisterRequest, api.SetRegisterResponse]
	clearRegisters caller[api.ClearRegistersRequest, api.ClearRegistersResponse]
	history        caller[api.HistoryRequest, api.HistoryResponse]
	createSession  caller[api.CreateSessionRequest, api.CreateSessionResponse]
	destroySession caller[api.DestroySessionRequest, api.DestroySessionResponse]
	listSessions   caller[api.ListSessionsRequest, api.ListSessionsResponse]

	close func() error
}

// Option configures a Connect client.
type Option func(*options)

type options struct {
	httpClient connect.HTTPClient
	codec      connect.Codec
	grpcWeb    bool
}

// WithHTTPClient sets the HTTP client. The default is http.DefaultClient.
func WithHTTPClient(hc connect.HTTPClient) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithJSON sends JSON instead of CBOR.
func WithJSON() Option {
	return func(o *options) { o.codec = wire.JSONCodec{} }
}

// WithGRPCWeb uses the gRPC-Web protocol instead of the Connect protocol.
func WithGRPCWeb() Option {
	return func(o *options) { o.grpcWeb = true }
}

// New creates a client speaking the Connect protocol to the server at
// baseURL, such as "http://localhost:4567".
func New(baseURL string, opts ...Option) *Client {
	o := &options{
		httpClient: http.DefaultClient,
		codec:      wire.Codec{},
	}
	for _, opt := range opts {
		opt(o)
	}

	base := strings.TrimRight(baseURL, "/")
	clientOpts := []connect.ClientOption{connect.WithCodec(o.codec)}
	if o.grpcWeb {
		clientOpts = append(clientOpts, connect.WithGRPCWeb())
	}
	hc := o.httpClient

	return &Client{
		compile:        connectCaller[api.CompileRequest, api.CompileResponse](hc, base, api.MachineServiceCompileProcedure, clientOpts...),
		disassemble:    connectCaller[api.DisassembleRequest, api.DisassembleResponse](hc, base, api.MachineServiceDisassembleProcedure, clientOpts...),
		run:            connectCaller[api.RunRequest, api.RunResponse](hc, base, api.MachineServiceRunProcedure, clientOpts...),
		stop:           connectCaller[api.StopRequest, api.StopResponse](hc, base, api.MachineServiceStopProcedure, clientOpts...),
		status:         connectCaller[api.StatusRequest, api.StatusResponse](hc, base, api.MachineServiceStatusProcedure, clientOpts...),
		getRegisters:   connectCaller[api.GetRegistersRequest, api.GetRegistersResponse](hc, base, api.MachineServiceGetRegistersProcedure, clientOpts...),
		setRegister:    connectCaller[api.SetRegisterRequest, api.SetRegisterResponse](hc, base, api.MachineServiceSetRegisterProcedure, clientOpts...),
		clearRegisters: connectCaller[api.ClearRegistersRequest, api.ClearRegistersResponse](hc, base, api.MachineServiceClearRegistersProcedure, clientOpts...),
		history:        connectCaller[api.HistoryRequest, api.HistoryResponse](hc, base, api.MachineServiceHistoryProcedure, clientOpts...),
		createSession:  connectCaller[api.CreateSessionRequest, api.CreateSessionResponse](hc, base, api.SessionServiceCreateSessionProcedure, clientOpts...),
		destroySession: connectCaller[api.DestroySessionRequest, api.DestroySessionResponse](hc, base, api.SessionServiceDestroySessionProcedure, clientOpts...),
		listSessions:   connectCaller[api.ListSessionsRequest, api.ListSessionsResponse](hc, base, api.SessionServiceListSessionsProcedure, clientOpts...),
		close:          func() error { return nil },
	}
}

// NewGRPC creates a client calling through an existing gRPC connection. The
// caller owns conn.
func NewGRPC(conn grpc.ClientConnInterface) *Client {
	return &Client{
		compile:        grpcCaller[api.CompileRequest, api.CompileResponse](conn, api.MachineServiceCompileProcedure),
		disassemble:    grpcCaller[api.DisassembleRequest, api.DisassembleResponse](conn, api.MachineServiceDisassembleProcedure),
		run:            grpcCaller[api.RunRequest, api.RunResponse](conn, api.MachineServiceRunProcedure),
		stop:           grpcCaller[api.StopRequest, api.StopResponse](conn, api.MachineServiceStopProcedure),
		status:         grpcCaller[api.StatusRequest, api.StatusResponse](conn, api.MachineServiceStatusProcedure),
		getRegisters:   grpcCaller[api.GetRegistersRequest, api.GetRegistersResponse](conn, api.MachineServiceGetRegistersProcedure),
		setRegister:    grpcCaller[api.SetRegisterRequest, api.SetRegisterResponse](conn, api.MachineServiceSetRegisterProcedure),
		clearRegisters: grpcCaller[api.ClearRegistersRequest, api.ClearRegistersResponse](conn, api.MachineServiceClearRegistersProcedure),
		history:        grpcCaller[api.HistoryRequest, api.HistoryResponse](conn, api.MachineServiceHistoryProcedure),
		createSession:  grpcCaller[api.CreateSessionRequest, api.CreateSessionResponse](conn, api.SessionServiceCreateSessionProcedure),
		destroySession: grpcCaller[api.DestroySessionRequest, api.DestroySessionResponse](conn, api.SessionServiceDestroySessionProcedure),
		listSessions:   grpcCaller[api.ListSessionsRequest, api.ListSessionsResponse](conn, api.SessionServiceListSessionsProcedure),
		close:          func() error { return nil },
	}
}

// DialGRPC connects to target ("host:port") over unencrypted HTTP/2.
func DialGRPC(target string) (*Client, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	c := NewGRPC(conn)
	c.close = conn.Close
	return c, nil
}

// Close releases the connection opened by DialGRPC.
func (c *Client) Close() error {
	return c.close()
}

// CodeOf returns the RPC status code of an error from either transport.
func CodeOf(err error) connect.Code {
	if err == nil {
		return 0
	}
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		return cerr.Code()
	}
	if s, ok := status.FromError(err); ok {
		return connect.Code(s.Code())
	}
	return connect.CodeUnknown
}

// ---------------------------------------------------------------------------
// Machine service
// ---------------------------------------------------------------------------

// Compile compiles source. A compile error is reported in the response's
// Diagnostic, not as an error.
func (c *Client) Compile(ctx context.Context, source, language string) (*api.CompileResponse, error) {
	return c.compile(ctx, &api.CompileRequest{Source: source, Language: language})
}

// Disassemble returns the listing of a stored program, raw words or source.
func (c *Client) Disassemble(ctx context.Context, req *api.DisassembleRequest) (*api.DisassembleResponse, error) {
	return c.disassemble(ctx, req)
}

// Run starts a program, stopping the session's previous run.
func (c *Client) Run(ctx context.Context, req *api.RunRequest) (*api.RunResponse, error) {
	return c.run(ctx, req)
}

// Stop stops the session's run and reports whether one was in flight.
func (c *Client) Stop(ctx context.Context, sessionID string) (*api.StopResponse, error) {
	return c.stop(ctx, &api.StopRequest{SessionID: sessionID})
}

// Status reports the session's latest run.
func (c *Client) Status(ctx context.Context, sessionID string) (api.RunStatus, error) {
	resp, err := c.status(ctx, &api.StatusRequest{SessionID: sessionID})
	if err != nil {
		return api.RunStatus{}, err
	}
	return resp.Status, nil
}

// Registers returns the session's registers in ascending index order.
func (c *Client) Registers(ctx context.Context, sessionID string) ([]vm.Cell, error) {
	resp, err := c.getRegisters(ctx, &api.GetRegistersRequest{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	return resp.Registers, nil
}

// SetRegister stores a register value.
func (c *Client) SetRegister(ctx context.Context, sessionID string, index uint32, value int64) error {
	_, err := c.setRegister(ctx, &api.SetRegisterRequest{SessionID: sessionID, Index: index, Value: value})
	return err
}

// ClearRegisters removes every register of the session.
func (c *Client) ClearRegisters(ctx context.Context, sessionID string) error {
	_, err := c.clearRegisters(ctx, &api.ClearRegistersRequest{SessionID: sessionID})
	return err
}

// History returns up to limit journaled runs, newest first.
func (c *Client) History(ctx context.Context, sessionID string, limit int) ([]api.HistoryEntry, error) {
	resp, err := c.history(ctx, &api.HistoryRequest{SessionID: sessionID, Limit: limit})
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// ---------------------------------------------------------------------------
// Session service
// ---------------------------------------------------------------------------

// CreateSession creates a session and returns its ID.
func (c *Client) CreateSession(ctx context.Context, name string) (string, error) {
	resp, err := c.createSession(ctx, &api.CreateSessionRequest{Name: name})
	if err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

// DestroySession stops the session's run and removes it.
func (c *Client) DestroySession(ctx context.Context, sessionID string) error {
	_, err := c.destroySession(ctx, &api.DestroySessionRequest{SessionID: sessionID})
	return err
}

// ListSessions lists every session, oldest first.
func (c *Client) ListSessions(ctx context.Context) ([]api.SessionInfo, error) {
	resp, err := c.listSessions(ctx, &api.ListSessionsRequest{})
	if err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}
