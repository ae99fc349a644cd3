package server

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"

	"github.com/maxstrauch/theia/pkg/api"
)

// SessionService implements the SessionService Connect/gRPC handlers.
type SessionService struct {
	sessions *SessionStore
}

// NewSessionService creates a SessionService.
func NewSessionService(sessions *SessionStore) *SessionService {
	return &SessionService{sessions: sessions}
}

// CreateSession creates a new session with its own register store.
func (s *SessionService) CreateSession(
	ctx context.Context,
	req *connect.Request[api.CreateSessionRequest],
) (*connect.Response[api.CreateSessionResponse], error) {
	session := s.sessions.Create(req.Msg.Name)
	log.Debugf("created session %s", session.ID)
	return connect.NewResponse(&api.CreateSessionResponse{
		SessionID: session.ID,
	}), nil
}

// DestroySession stops the session's run and removes it.
func (s *SessionService) DestroySession(
	ctx context.Context,
	req *connect.Request[api.DestroySessionRequest],
) (*connect.Response[api.DestroySessionResponse], error) {
	id := req.Msg.SessionID
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("session_id is required"))
	}
	if id == api.DefaultSession {
		return nil, connect.NewError(connect.CodeFailedPrecondition, errors.New("the default session cannot be destroyed"))
	}
	if !s.sessions.Destroy(id) {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", id))
	}
	log.Debugf("destroyed session %s", id)
	return connect.NewResponse(&api.DestroySessionResponse{}), nil
}

// ListSessions lists every session, oldest first.
func (s *SessionService) ListSessions(
	ctx context.Context,
	req *connect.Request[api.ListSessionsRequest],
) (*connect.Response[api.ListSessionsResponse], error) {
	sessions := s.sessions.List()
	resp := &api.ListSessionsResponse{Sessions: make([]api.SessionInfo, 0, len(sessions))}
	for _, session := range sessions {
		resp.Sessions = append(resp.Sessions, session.Info())
	}
	return connect.NewResponse(resp), nil
}
