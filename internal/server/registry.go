package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/circl-chat/circl-server/internal/types"
)

// Session is the ephemeral per-connection record of a logged-in user. The
// registry owns every Session exclusively; the room directory and call
// manager hold weak references into it. Identity fields are immutable after
// Register, status and lastActive are guarded by the registry's lock.
type Session struct {
	ConnId string
	User   types.User

	client     *Client
	status     types.Status
	lastActive time.Time
}

// queue hands a message to the session's connection, dropping it if the
// connection's send buffer is full.
func (s *Session) queue(msg *ServerMessage) bool {
	if s.client == nil {
		return false
	}
	return s.client.queueMessage(msg)
}

type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	// byUser maps a user id to their most recent session, used for targeted
	// delivery (mentions, signaling relay).
	byUser map[int]*Session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*Session),
		byUser:   make(map[int]*Session),
	}
}

func (r *SessionRegistry) Register(connId string, user types.User, c *Client) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[connId]; ok {
		return nil, fmt.Errorf("connection %q: %w", connId, ErrDuplicateConnection)
	}

	s := &Session{
		ConnId:     connId,
		User:       user,
		client:     c,
		status:     types.StatusOnline,
		lastActive: time.Now(),
	}
	r.sessions[connId] = s
	r.byUser[user.Id] = s

	return s, nil
}

func (r *SessionRegistry) Get(connId string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[connId]
	return s, ok
}

// LookupUser returns the most recent live session for a user id.
func (r *SessionRegistry) LookupUser(userId int) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byUser[userId]
	return s, ok
}

// Touch records liveness for the session. Returns false if the connection
// has no session.
func (r *SessionRegistry) Touch(connId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connId]
	if !ok {
		return false
	}

	s.lastActive = time.Now()
	return true
}

// SetStatus updates the session's status and returns the previous value so
// callers can skip broadcasting unchanged statuses.
func (r *SessionRegistry) SetStatus(connId string, status types.Status) (types.Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connId]
	if !ok {
		return "", false
	}

	prev := s.status
	s.status = status
	return prev, true
}

func (r *SessionRegistry) Status(connId string) (types.Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[connId]
	if !ok {
		return "", false
	}
	return s.status, true
}

func (r *SessionRegistry) Unregister(connId string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connId]
	if !ok {
		return nil, false
	}

	r.removeLocked(s)
	return s, true
}

// UnregisterIfIdle removes the session only if its last-active timestamp is
// older than timeout at the moment of removal, so an in-flight Touch cannot
// lose against the reaper.
func (r *SessionRegistry) UnregisterIfIdle(connId string, timeout time.Duration) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connId]
	if !ok || time.Since(s.lastActive) < timeout {
		return nil, false
	}

	r.removeLocked(s)
	return s, true
}

func (r *SessionRegistry) removeLocked(s *Session) {
	delete(r.sessions, s.ConnId)
	if cur, ok := r.byUser[s.User.Id]; ok && cur == s {
		delete(r.byUser, s.User.Id)
	}
}

// IdleCandidates returns sessions whose last activity is older than timeout.
// Callers must confirm with UnregisterIfIdle before acting on a candidate.
func (r *SessionRegistry) IdleCandidates(timeout time.Duration) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var idle []*Session
	for _, s := range r.sessions {
		if time.Since(s.lastActive) >= timeout {
			idle = append(idle, s)
		}
	}
	return idle
}

// ActiveUsers returns a point-in-time view of every live session's user,
// with current status filled in.
func (r *SessionRegistry) ActiveUsers() []types.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]types.User, 0, len(r.sessions))
	for _, s := range r.sessions {
		u := s.User
		u.Status = s.status
		users = append(users, u)
	}
	return users
}

// Sessions returns a snapshot of all live sessions, used for global fan-out.
func (r *SessionRegistry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}
