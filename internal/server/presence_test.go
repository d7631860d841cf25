package server

import (
	"testing"
	"time"

	"github.com/circl-chat/circl-server/internal/database"
	"github.com/circl-chat/circl-server/internal/stats"
	"github.com/circl-chat/circl-server/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestBroadcastStatus(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)
	su := &stats.MockStatsProvider{}
	defer su.AssertExpectations(t)
	cs := newTestChatServer(t, db, su)

	s1, _ := addTestSession(t, cs, "conn-1", types.User{Id: 1, Username: "alice"})
	_, c2 := addTestSession(t, cs, "conn-2", types.User{Id: 2, Username: "bob"})

	changed := cs.presence.BroadcastStatus(s1, types.StatusBusy)
	assert.True(t, changed)

	msg := recvMessage(t, c2)
	assert.NotNil(t, msg.UserStatusChanged)
	assert.Equal(t, 1, msg.UserStatusChanged.UserId)
	assert.Equal(t, types.StatusBusy, msg.UserStatusChanged.Status)

	// setting the same status again is not rebroadcast
	changed = cs.presence.BroadcastStatus(s1, types.StatusBusy)
	assert.False(t, changed)
	assertNoMessage(t, c2)
}

func TestTypingDebounce(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)
	su := &stats.MockStatsProvider{}
	defer su.AssertExpectations(t)
	cs := newTestChatServer(t, db, su)

	s1, c1 := addTestSession(t, cs, "conn-1", types.User{Id: 1, Username: "alice"})
	_, c2 := addTestSession(t, cs, "conn-2", types.User{Id: 2, Username: "bob"})

	// a burst of keystroke signals within the quiet interval
	for i := 0; i < 5; i++ {
		cs.presence.StartTyping(s1)
		time.Sleep(5 * time.Millisecond)
	}

	msg := recvMessage(t, c2)
	assert.NotNil(t, msg.UserTyping)
	assert.True(t, msg.UserTyping.IsTyping, "expected one typing=true at the start of the burst")
	assert.Equal(t, "general", msg.UserTyping.RoomId)
	assert.Equal(t, 1, msg.UserTyping.UserId)
	assertNoMessage(t, c2)

	// after the quiet interval the burst settles with exactly one typing=false
	msg = recvMessage(t, c2)
	assert.NotNil(t, msg.UserTyping)
	assert.False(t, msg.UserTyping.IsTyping)
	assertNoMessage(t, c2)

	assertNoMessage(t, c1)
}

func TestStopTyping(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)
	su := &stats.MockStatsProvider{}
	defer su.AssertExpectations(t)
	cs := newTestChatServer(t, db, su)

	s1, _ := addTestSession(t, cs, "conn-1", types.User{Id: 1, Username: "alice"})
	_, c2 := addTestSession(t, cs, "conn-2", types.User{Id: 2, Username: "bob"})

	cs.presence.StartTyping(s1)
	cs.presence.StopTyping(s1)

	msg := recvMessage(t, c2)
	assert.True(t, msg.UserTyping.IsTyping)
	msg = recvMessage(t, c2)
	assert.False(t, msg.UserTyping.IsTyping, "expected typing=false immediately on stop")

	// the expired timer must not emit a second typing=false
	time.Sleep(cs.presence.quiet + 20*time.Millisecond)
	assertNoMessage(t, c2)

	// stop without a pending burst is a no-op
	cs.presence.StopTyping(s1)
	assertNoMessage(t, c2)
}

func TestTypingAcrossRoomChange(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)
	su := &stats.MockStatsProvider{}
	defer su.AssertExpectations(t)
	cs := newTestChatServer(t, db, su)

	s1, _ := addTestSession(t, cs, "conn-1", types.User{Id: 1, Username: "alice"})
	_, c2 := addTestSession(t, cs, "conn-2", types.User{Id: 2, Username: "bob"})
	techie, c3 := addTestSession(t, cs, "conn-3", types.User{Id: 3, Username: "carol"})
	if _, err := cs.rooms.Move(techie, "tech"); err != nil {
		t.Fatalf("failed to move session: %v", err)
	}

	cs.presence.StartTyping(s1)
	msg := recvMessage(t, c2)
	assert.True(t, msg.UserTyping.IsTyping)

	// moving mid-burst settles the old room and starts a burst in the new one
	if _, err := cs.rooms.Move(s1, "tech"); err != nil {
		t.Fatalf("failed to move session: %v", err)
	}
	cs.presence.StartTyping(s1)

	msg = recvMessage(t, c2)
	assert.False(t, msg.UserTyping.IsTyping, "expected the old room to see the burst settle")
	assert.Equal(t, "general", msg.UserTyping.RoomId)

	msg = recvMessage(t, c3)
	assert.True(t, msg.UserTyping.IsTyping)
	assert.Equal(t, "tech", msg.UserTyping.RoomId)
}

func TestTypingWithoutRoom(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)
	su := &stats.MockStatsProvider{}
	defer su.AssertExpectations(t)
	cs := newTestChatServer(t, db, su)

	s1, _ := addTestSession(t, cs, "conn-1", types.User{Id: 1, Username: "alice"})
	_, c2 := addTestSession(t, cs, "conn-2", types.User{Id: 2, Username: "bob"})
	cs.rooms.Remove(s1)

	cs.presence.StartTyping(s1)
	assertNoMessage(t, c2)
}
