package server

import (
	"sync"
	"time"

	"github.com/circl-chat/circl-server/internal/types"
)

// PresenceCoordinator broadcasts status changes globally and debounces
// typing signals per session. A typing burst produces one typing=true at its
// start and exactly one typing=false after the quiet interval, no matter how
// many keystroke signals arrive in between.
type PresenceCoordinator struct {
	cs    *ChatServer
	quiet time.Duration

	mu     sync.Mutex
	timers map[string]*typingState
}

type typingState struct {
	roomId string
	timer  *time.Timer
	// gen invalidates callbacks from timers that were re-armed or cancelled
	// after the callback was already scheduled.
	gen uint64
}

func newPresenceCoordinator(cs *ChatServer, quiet time.Duration) *PresenceCoordinator {
	return &PresenceCoordinator{
		cs:     cs,
		quiet:  quiet,
		timers: make(map[string]*typingState),
	}
}

// BroadcastStatus sets the session's status and, if it actually changed,
// announces it to every connection. Presence is global, not room-scoped.
// Reports whether a change was broadcast.
func (p *PresenceCoordinator) BroadcastStatus(s *Session, status types.Status) bool {
	prev, ok := p.cs.registry.SetStatus(s.ConnId, status)
	if !ok || prev == status {
		return false
	}

	p.cs.broadcastAll(&ServerMessage{
		UserStatusChanged: &UserStatusChanged{
			UserId:   s.User.Id,
			Username: s.User.Username,
			Avatar:   s.User.Avatar,
			Status:   status,
		},
	}, nil)
	return true
}

// StartTyping emits typing=true to the session's room on the first signal of
// a burst and re-arms the quiet timer on every subsequent one.
func (p *PresenceCoordinator) StartTyping(s *Session) {
	roomId, ok := p.cs.rooms.CurrentRoom(s.ConnId)
	if !ok {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.timers[s.ConnId]
	if st != nil && st.roomId != roomId {
		// the session changed rooms mid-burst; settle the old room
		st.gen++
		st.timer.Stop()
		delete(p.timers, s.ConnId)
		p.emitTyping(s, st.roomId, false)
		st = nil
	}

	if st == nil {
		st = &typingState{roomId: roomId}
		p.timers[s.ConnId] = st
		p.emitTyping(s, roomId, true)
	} else {
		st.timer.Stop()
	}

	st.gen++
	gen := st.gen
	st.timer = time.AfterFunc(p.quiet, func() {
		p.expire(s, gen)
	})
}

// StopTyping cancels a pending burst and emits typing=false immediately.
// No-op if the session has no burst pending.
func (p *PresenceCoordinator) StopTyping(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.timers[s.ConnId]
	if !ok {
		return
	}

	st.gen++
	st.timer.Stop()
	delete(p.timers, s.ConnId)
	p.emitTyping(s, st.roomId, false)
}

func (p *PresenceCoordinator) expire(s *Session, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.timers[s.ConnId]
	if !ok || st.gen != gen {
		return
	}

	delete(p.timers, s.ConnId)
	p.emitTyping(s, st.roomId, false)
}

func (p *PresenceCoordinator) emitTyping(s *Session, roomId string, isTyping bool) {
	p.cs.broadcastRoom(roomId, &ServerMessage{
		UserTyping: &UserTyping{
			RoomId:   roomId,
			UserId:   s.User.Id,
			Username: s.User.Username,
			IsTyping: isTyping,
		},
	}, s.client)
}
