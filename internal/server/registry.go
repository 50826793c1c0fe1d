package server

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/orbis/fab/internal/fab"
)

var (
	// ErrSessionExists reports a create with an id already in use.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionNotFound reports an operation on an unknown session.
	ErrSessionNotFound = errors.New("session not found")
)

// Session serializes access to one core. The control loop itself is
// single-threaded; the registry provides the per-session mutex so HTTP
// handlers can run concurrently across sessions.
type Session struct {
	mu   sync.Mutex
	core *fab.Core
}

// Do runs fn while holding the session lock.
func (s *Session) Do(fn func(*fab.Core) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.core)
}

// Registry maps session ids to live cores.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	build    func(id string, seed int64) (*fab.Core, error)
}

// NewRegistry creates a registry. build constructs a core for each new
// session.
func NewRegistry(build func(id string, seed int64) (*fab.Core, error)) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		build:    build,
	}
}

// Create builds and registers a session. An empty id is assigned a random
// one. The chosen id is returned.
func (r *Registry) Create(id string, seed int64) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return "", ErrSessionExists
	}

	core, err := r.build(id, seed)
	if err != nil {
		return "", err
	}
	r.sessions[id] = &Session{core: core}
	return id, nil
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove drops a session, reporting whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Each calls fn for every live session.
func (r *Registry) Each(fn func(id string, s *Session)) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		if s, ok := r.Get(id); ok {
			fn(id, s)
		}
	}
}
