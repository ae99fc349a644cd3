package server

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxstrauch/theia/pkg/api"
	"github.com/maxstrauch/theia/vm"
)

// Session is a named register machine: a register store plus at most one
// in-flight run.
type Session struct {
	ID      string
	Name    string
	Created time.Time
	Machine *vm.Session

	lastUsed atomic.Int64 // unix nanoseconds
}

func (s *Session) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

// Info summarizes the session for listings.
func (s *Session) Info() api.SessionInfo {
	return api.SessionInfo{
		ID:          s.ID,
		Name:        s.Name,
		Running:     s.Machine.Running(),
		Registers:   s.Machine.Registers().Len(),
		CreatedAtNs: s.Created.UnixNano(),
	}
}

// SessionStore manages sessions. The default session always exists.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	nextID   atomic.Uint64
	opts     []vm.Option
}

// NewSessionStore creates a store holding only the default session. The
// options apply to every run of every session.
func NewSessionStore(opts ...vm.Option) *SessionStore {
	s := &SessionStore{
		sessions: make(map[string]*Session),
		opts:     opts,
	}
	s.add(api.DefaultSession, "default")
	return s
}

func (s *SessionStore) add(id, name string) *Session {
	session := &Session{
		ID:      id,
		Name:    name,
		Created: time.Now(),
		Machine: vm.NewSession(s.opts...),
	}
	session.touch()

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	return session
}

// Create creates a new session with an optional name.
func (s *SessionStore) Create(name string) *Session {
	id := fmt.Sprintf("s-%d", s.nextID.Add(1))
	return s.add(id, name)
}

// Get retrieves a session by ID. An empty ID selects the default session.
func (s *SessionStore) Get(id string) (*Session, bool) {
	if id == "" {
		id = api.DefaultSession
	}

	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()

	if ok {
		session.touch()
	}
	return session, ok
}

// Destroy stops the session's run and removes it. The default session
// cannot be destroyed; it reports false for it and for unknown IDs.
func (s *SessionStore) Destroy(id string) bool {
	if id == api.DefaultSession {
		return false
	}

	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		session.Machine.Stop()
	}
	return ok
}

// List returns all sessions ordered by creation time.
func (s *SessionStore) List() []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out
}

// StopAll stops every in-flight run.
func (s *SessionStore) StopAll() {
	for _, session := range s.List() {
		session.Machine.Stop()
	}
}

// Sweep removes idle sessions that haven't been used within the TTL. Sessions
// with a run in flight and the default session are kept.
func (s *SessionStore) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl).UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, session := range s.sessions {
		if id == api.DefaultSession || session.Machine.Running() {
			continue
		}
		if session.lastUsed.Load() < cutoff {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *SessionStore) StartSweeper(interval, ttl time.Duration) func() {
	return startSweeper(interval, func() {
		if n := s.Sweep(ttl); n > 0 {
			log.Infof("swept %d idle sessions", n)
		}
	})
}

func startSweeper(interval time.Duration, sweep func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				sweep()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
