package server

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/circl-chat/circl-server/internal/database"
	"github.com/circl-chat/circl-server/internal/stats"
	"github.com/circl-chat/circl-server/internal/types"
)

// MessagePipeline validates drafts, persists them through the message store
// and fans the stored message out to the room's members. Like toggles are
// serialized per message id so concurrent read-modify-write cycles cannot
// overwrite each other.
type MessagePipeline struct {
	cs *ChatServer

	mu       sync.Mutex
	msgLocks map[string]*msgLock
}

type msgLock struct {
	mu   sync.Mutex
	refs int
}

func newMessagePipeline(cs *ChatServer) *MessagePipeline {
	return &MessagePipeline{
		cs:       cs,
		msgLocks: make(map[string]*msgLock),
	}
}

// Send stores the draft and emits newMessage to every member of the target
// room at the moment of send. Mentioned users who are currently connected
// additionally receive a mention event; delivery is best-effort, offline
// mentions are not queued. No event is emitted if persistence fails.
func (mp *MessagePipeline) Send(s *Session, draft *SendMessage) (*types.Message, error) {
	roomId := draft.RoomId
	if roomId == "" {
		cur, ok := mp.cs.rooms.CurrentRoom(s.ConnId)
		if !ok {
			return nil, fmt.Errorf("session has no room: %w", ErrNotFound)
		}
		roomId = cur
	}

	meta, ok := mp.cs.rooms.Meta(roomId)
	if !ok {
		return nil, fmt.Errorf("room %q: %w", roomId, ErrNotFound)
	}
	if meta.Type == "private" && !mp.cs.rooms.IsMember(roomId, s.ConnId) {
		return nil, fmt.Errorf("room %q is private: %w", roomId, ErrForbidden)
	}

	msgType := draft.Type
	if msgType == "" {
		msgType = types.MessageTypeText
	}
	if draft.Content == "" && draft.FileUrl == "" {
		return nil, fmt.Errorf("empty message: %w", ErrInvalidMessage)
	}

	stored, err := mp.cs.db.CreateMessage(database.CreateMessageParams{
		RoomId:   roomId,
		SenderId: s.User.Id,
		Content:  draft.Content,
		Type:     string(msgType),
		FileUrl:  draft.FileUrl,
		FileName: draft.FileName,
		FileType: draft.FileType,
		FileSize: draft.FileSize,
		ReplyTo:  draft.ReplyTo,
	})
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	msg := &types.Message{
		Id:        stored.Id,
		RoomId:    stored.RoomId,
		Sender:    s.User,
		Content:   stored.Content,
		Type:      msgType,
		FileUrl:   stored.FileUrl,
		FileName:  stored.FileName,
		FileType:  stored.FileType,
		FileSize:  stored.FileSize,
		ReplyTo:   stored.ReplyTo,
		Likes:     stored.Likes,
		CreatedAt: stored.CreatedAt,
	}

	mp.cs.broadcastRoom(roomId, &ServerMessage{NewMessage: msg}, nil)
	mp.cs.stats.Incr(stats.MessagesSent)

	for _, userId := range draft.Mentions {
		if userId == s.User.Id {
			continue
		}
		target, ok := mp.cs.registry.LookupUser(userId)
		if !ok {
			continue
		}
		target.queue(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Mention: &Mention{
				RoomId:       roomId,
				MessageId:    msg.Id,
				FromId:       s.User.Id,
				FromUsername: s.User.Username,
			},
		})
	}

	return msg, nil
}

// ToggleLike flips the caller's membership in the message's like set and
// broadcasts the resulting set to the message's room. Toggles for the same
// message are serialized.
func (mp *MessagePipeline) ToggleLike(s *Session, messageId string) (*MessageLiked, error) {
	unlock := mp.lockMessage(messageId)
	defer unlock()

	msg, err := mp.cs.db.GetMessageById(messageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %q: %w", messageId, ErrNotFound)
		}
		return nil, fmt.Errorf("fetch message: %w", err)
	}

	likes := toggleLike(msg.Likes, s.User.Id)
	if err := mp.cs.db.UpdateMessageLikes(messageId, likes); err != nil {
		return nil, fmt.Errorf("update likes: %w", err)
	}

	liked := &MessageLiked{
		MessageId: messageId,
		Likes:     likes,
		LikedBy:   s.User.Id,
	}
	mp.cs.broadcastRoom(msg.RoomId, &ServerMessage{MessageLiked: liked}, nil)
	mp.cs.stats.Incr(stats.LikesToggled)

	return liked, nil
}

// toggleLike returns the like set with userId added if absent, removed if
// present. The set never holds a user more than once.
func toggleLike(likes []int, userId int) []int {
	result := make([]int, 0, len(likes)+1)
	found := false
	for _, id := range likes {
		if id == userId {
			found = true
			continue
		}
		result = append(result, id)
	}
	if !found {
		result = append(result, userId)
	}
	return result
}

func (mp *MessagePipeline) lockMessage(id string) func() {
	mp.mu.Lock()
	l := mp.msgLocks[id]
	if l == nil {
		l = &msgLock{}
		mp.msgLocks[id] = l
	}
	l.refs++
	mp.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		mp.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(mp.msgLocks, id)
		}
		mp.mu.Unlock()
	}
}
