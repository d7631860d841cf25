package server

import (
	"testing"
	"time"

	"github.com/circl-chat/circl-server/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestSessionRegistryRegister(t *testing.T) {
	r := NewSessionRegistry()

	sess, err := r.Register("conn-1", types.User{Id: 1, Username: "alice"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, "conn-1", sess.ConnId)
	assert.Equal(t, types.StatusOnline, sess.status, "expected new sessions to start online")
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get("conn-1")
	assert.True(t, ok)
	assert.Equal(t, sess, got)

	byUser, ok := r.LookupUser(1)
	assert.True(t, ok)
	assert.Equal(t, sess, byUser)
}

func TestSessionRegistryRegister_DuplicateConnection(t *testing.T) {
	r := NewSessionRegistry()

	_, err := r.Register("conn-1", types.User{Id: 1, Username: "alice"}, nil)
	assert.NoError(t, err)

	_, err = r.Register("conn-1", types.User{Id: 2, Username: "bob"}, nil)
	assert.ErrorIs(t, err, ErrDuplicateConnection)
	assert.Equal(t, 1, r.Len(), "expected duplicate registration to be rejected")
}

func TestSessionRegistrySetStatus(t *testing.T) {
	r := NewSessionRegistry()
	_, err := r.Register("conn-1", types.User{Id: 1, Username: "alice"}, nil)
	assert.NoError(t, err)

	prev, ok := r.SetStatus("conn-1", types.StatusAway)
	assert.True(t, ok)
	assert.Equal(t, types.StatusOnline, prev, "expected previous status to be returned")

	status, ok := r.Status("conn-1")
	assert.True(t, ok)
	assert.Equal(t, types.StatusAway, status)

	_, ok = r.SetStatus("conn-missing", types.StatusBusy)
	assert.False(t, ok)
}

func TestSessionRegistryUnregister(t *testing.T) {
	r := NewSessionRegistry()
	_, err := r.Register("conn-1", types.User{Id: 1, Username: "alice"}, nil)
	assert.NoError(t, err)

	sess, ok := r.Unregister("conn-1")
	assert.True(t, ok)
	assert.Equal(t, "conn-1", sess.ConnId)
	assert.Equal(t, 0, r.Len())

	_, ok = r.LookupUser(1)
	assert.False(t, ok, "expected user index entry to be removed")

	_, ok = r.Unregister("conn-1")
	assert.False(t, ok, "expected second unregister to be a no-op")
}

func TestSessionRegistryUnregister_KeepsNewerSession(t *testing.T) {
	r := NewSessionRegistry()

	_, err := r.Register("conn-1", types.User{Id: 1, Username: "alice"}, nil)
	assert.NoError(t, err)
	newer, err := r.Register("conn-2", types.User{Id: 1, Username: "alice"}, nil)
	assert.NoError(t, err)

	// removing the stale connection must not evict the user's newer session
	_, ok := r.Unregister("conn-1")
	assert.True(t, ok)

	got, ok := r.LookupUser(1)
	assert.True(t, ok)
	assert.Equal(t, newer, got)
}

func TestSessionRegistryIdle(t *testing.T) {
	r := NewSessionRegistry()
	sess, err := r.Register("conn-1", types.User{Id: 1, Username: "alice"}, nil)
	assert.NoError(t, err)

	assert.Empty(t, r.IdleCandidates(time.Minute), "expected a fresh session not to be idle")

	sess.lastActive = time.Now().Add(-2 * time.Minute)
	candidates := r.IdleCandidates(time.Minute)
	assert.Len(t, candidates, 1)

	// a touch between the scan and the removal keeps the session alive
	assert.True(t, r.Touch("conn-1"))
	_, ok := r.UnregisterIfIdle("conn-1", time.Minute)
	assert.False(t, ok, "expected touched session to survive the idle check")
	assert.Equal(t, 1, r.Len())

	sess.lastActive = time.Now().Add(-2 * time.Minute)
	removed, ok := r.UnregisterIfIdle("conn-1", time.Minute)
	assert.True(t, ok)
	assert.Equal(t, "conn-1", removed.ConnId)
	assert.Equal(t, 0, r.Len())
}

func TestSessionRegistryActiveUsers(t *testing.T) {
	r := NewSessionRegistry()
	_, err := r.Register("conn-1", types.User{Id: 1, Username: "alice"}, nil)
	assert.NoError(t, err)
	_, err = r.Register("conn-2", types.User{Id: 2, Username: "bob"}, nil)
	assert.NoError(t, err)

	_, ok := r.SetStatus("conn-2", types.StatusBusy)
	assert.True(t, ok)

	users := r.ActiveUsers()
	assert.Len(t, users, 2)

	statuses := make(map[int]types.Status)
	for _, u := range users {
		statuses[u.Id] = u.Status
	}
	assert.Equal(t, types.StatusOnline, statuses[1])
	assert.Equal(t, types.StatusBusy, statuses[2], "expected live status, not the registration snapshot")
}
