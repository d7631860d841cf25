package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/circl-chat/circl-server/internal/config"
	"github.com/circl-chat/circl-server/internal/database"
	"github.com/circl-chat/circl-server/internal/stats"
	"github.com/circl-chat/circl-server/internal/types"
)

// ChatServer is the realtime coordinator: it owns the session registry, the
// room directory, the presence/typing coordinator, the message pipeline, the
// call manager and the idle reaper, and routes client frames between them.
type ChatServer struct {
	log         *log.Logger
	db          database.ChatRepository
	stats       stats.StatsProvider
	defaultRoom string

	registry *SessionRegistry
	rooms    *RoomDirectory
	presence *PresenceCoordinator
	pipeline *MessagePipeline
	calls    *CallManager
	reaper   *IdleReaper

	clientsLock sync.Mutex
	clients     map[*Client]struct{}
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, su stats.StatsProvider, cfg *config.Config) (*ChatServer, error) {
	dbRooms, err := db.ListRooms()
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	rooms := make([]types.Room, 0, len(dbRooms)+1)
	hasDefault := false
	for _, r := range dbRooms {
		if r.Id == cfg.DefaultRoom {
			hasDefault = true
		}
		rooms = append(rooms, types.Room{Id: r.Id, Name: r.Name, Type: r.Type})
	}
	if !hasDefault {
		rooms = append([]types.Room{{Id: cfg.DefaultRoom, Name: cfg.DefaultRoom, Type: "public"}}, rooms...)
	}

	cs := &ChatServer{
		log:         logger,
		db:          db,
		stats:       su,
		defaultRoom: cfg.DefaultRoom,
		registry:    NewSessionRegistry(),
		rooms:       NewRoomDirectory(rooms),
		clients:     make(map[*Client]struct{}),
	}
	cs.presence = newPresenceCoordinator(cs, cfg.TypingInterval)
	cs.pipeline = newMessagePipeline(cs)
	cs.calls = newCallManager(cs)
	cs.reaper = newIdleReaper(cs, cfg.SweepInterval, cfg.IdleTimeout)

	for _, metric := range []string{
		stats.ActiveSessions,
		stats.ActiveCalls,
		stats.MessagesSent,
		stats.LikesToggled,
		stats.SessionsReaped,
	} {
		su.RegisterMetric(metric)
	}

	return cs, nil
}

// Run drives the idle reaper until Shutdown is called.
func (cs *ChatServer) Run() {
	cs.reaper.Run()
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	stopped := make(chan struct{})
	go func() {
		cs.reaper.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterClient tracks a freshly upgraded connection. The connection has no
// session until its login frame is handled.
func (cs *ChatServer) RegisterClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	delete(cs.clients, c)
}

func (cs *ChatServer) handleLogin(c *Client, msg *ClientMessage) {
	if c.session != nil {
		c.queueMessage(ErrDuplicateConnectionResponse(msg.Id))
		return
	}

	login := msg.Login
	if login.Username == "" {
		c.queueMessage(ErrInvalidMessageResponse(msg.Id))
		return
	}

	account, err := cs.db.ResolveOrCreateAccount(database.ResolveAccountParams{
		Username: login.Username,
		Avatar:   login.Avatar,
	})
	if err != nil {
		cs.log.Printf("resolve account %q: %v", login.Username, err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	user := types.User{
		Id:       account.Id,
		Username: account.Username,
		Avatar:   account.Avatar,
		Status:   types.StatusOnline,
	}

	sess, err := cs.registry.Register(c.connId, user, c)
	if err != nil {
		c.queueMessage(errorResponse(msg.Id, err))
		return
	}
	c.session = sess

	if err := cs.rooms.Join(cs.defaultRoom, sess); err != nil {
		// the default room always exists; a failure here means the session
		// raced its own cleanup
		cs.log.Printf("join default room: %v", err)
	}

	cs.log.Printf("user %q logged in on connection %q", user.Username, c.connId)

	c.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Id: msg.Id, Timestamp: Now()},
		LoginSuccess: &LoginSuccess{
			User:        user,
			ActiveUsers: cs.registry.ActiveUsers(),
			Rooms:       cs.rooms.Rooms(),
		},
	})

	cs.broadcastAll(&ServerMessage{
		UserStatusChanged: &UserStatusChanged{
			UserId:   user.Id,
			Username: user.Username,
			Avatar:   user.Avatar,
			Status:   types.StatusOnline,
		},
	}, c)

	cs.stats.Incr(stats.ActiveSessions)
}

func (cs *ChatServer) handleSendMessage(c *Client, msg *ClientMessage) {
	// a message send settles the sender's typing burst
	cs.presence.StopTyping(c.session)

	if _, err := cs.pipeline.Send(c.session, msg.SendMessage); err != nil {
		cs.log.Printf("send message: %v", err)
		c.queueMessage(errorResponse(msg.Id, err))
	}
}

func (cs *ChatServer) handleJoinRoom(c *Client, msg *ClientMessage) {
	sess := c.session
	req := msg.JoinRoom

	meta, ok := cs.rooms.Meta(req.RoomId)
	if !ok {
		c.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}
	if meta.Type == "private" {
		c.queueMessage(ErrForbiddenResponse(msg.Id))
		return
	}

	// leaving a room settles any typing burst in it
	cs.presence.StopTyping(sess)

	from, err := cs.rooms.Move(sess, req.RoomId)
	if err != nil {
		c.queueMessage(errorResponse(msg.Id, err))
		return
	}

	c.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Id: msg.Id, Timestamp: Now()},
		RoomChanged: &RoomChanged{RoomId: meta.Id, RoomName: meta.Name},
	})

	if from != req.RoomId {
		cs.broadcastRoom(req.RoomId, &ServerMessage{
			UserJoinedRoom: &UserJoinedRoom{
				RoomId:   req.RoomId,
				UserId:   sess.User.Id,
				Username: sess.User.Username,
				Avatar:   sess.User.Avatar,
			},
		}, c)
	}
}

func (cs *ChatServer) handleTyping(c *Client, msg *ClientMessage) {
	if msg.Typing.IsTyping {
		cs.presence.StartTyping(c.session)
	} else {
		cs.presence.StopTyping(c.session)
	}
}

func (cs *ChatServer) handleLikeMessage(c *Client, msg *ClientMessage) {
	if _, err := cs.pipeline.ToggleLike(c.session, msg.LikeMessage.MessageId); err != nil {
		cs.log.Printf("toggle like: %v", err)
		c.queueMessage(errorResponse(msg.Id, err))
	}
}

func (cs *ChatServer) handleUpdateStatus(c *Client, msg *ClientMessage) {
	status := msg.UpdateStatus.Status
	if !types.ValidStatus(status) {
		c.queueMessage(ErrInvalidMessageResponse(msg.Id))
		return
	}

	if cs.presence.BroadcastStatus(c.session, status) {
		cs.persistStatus(c.session.User.Id, status)
	}
}

func (cs *ChatServer) handleStartCall(c *Client, msg *ClientMessage) {
	if _, err := cs.calls.StartCall(c.session, msg.StartCall); err != nil {
		cs.log.Printf("start call: %v", err)
		c.queueMessage(errorResponse(msg.Id, err))
	}
}

func (cs *ChatServer) handleAcceptCall(c *Client, msg *ClientMessage) {
	if err := cs.calls.AcceptCall(c.session, msg.AcceptCall); err != nil {
		cs.log.Printf("accept call: %v", err)
		c.queueMessage(errorResponse(msg.Id, err))
	}
}

func (cs *ChatServer) handleEndCall(c *Client, msg *ClientMessage) {
	if _, err := cs.calls.EndCall(msg.EndCall.CallId, c.session.User.Id, "hangup"); err != nil {
		cs.log.Printf("end call: %v", err)
		c.queueMessage(errorResponse(msg.Id, err))
	}
}

func (cs *ChatServer) handleSignal(c *Client, msg *ClientMessage) {
	cs.calls.RelaySignal(c.session, msg.Signal)
}

func (cs *ChatServer) handlePing(c *Client, msg *ClientMessage) {
	cs.registry.Touch(c.connId)
	c.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Id: msg.Id, Timestamp: Now()},
		Pong:        &Pong{},
	})
}

// handleDisconnect runs the disconnect cascade for a closed connection. Safe
// to call for connections the reaper already unregistered.
func (cs *ChatServer) handleDisconnect(c *Client) {
	cs.removeClient(c)

	sess, ok := cs.registry.Unregister(c.connId)
	if !ok {
		return
	}

	cs.log.Printf("user %q disconnected (connection %q)", sess.User.Username, c.connId)
	cs.cascade(sess, "peer_disconnected")
	cs.stats.Decr(stats.ActiveSessions)
}

// cascade tears down everything a session touched: typing state, room
// membership, live calls, presence, and the persisted status. Store errors
// are logged and never stop the in-memory cleanup.
func (cs *ChatServer) cascade(sess *Session, reason string) {
	cs.presence.StopTyping(sess)
	cs.rooms.Remove(sess)
	cs.calls.EndAllForUser(sess.User.Id, reason)

	cs.broadcastAll(&ServerMessage{
		UserStatusChanged: &UserStatusChanged{
			UserId:   sess.User.Id,
			Username: sess.User.Username,
			Avatar:   sess.User.Avatar,
			Status:   types.StatusOffline,
		},
	}, sess.client)

	cs.persistStatus(sess.User.Id, types.StatusOffline)
}

// persistStatus writes the user's status to the identity store without
// holding any lock or blocking the caller.
func (cs *ChatServer) persistStatus(userId int, status types.Status) {
	go func() {
		if err := cs.db.SetAccountStatus(userId, string(status), time.Now().UTC()); err != nil {
			cs.log.Printf("persist status for user %d: %v", userId, err)
		}
	}()
}

// broadcastAll queues the message for every live session. The session
// snapshot is taken once; sessions registered mid-emit do not receive it.
func (cs *ChatServer) broadcastAll(msg *ServerMessage, skip *Client) {
	msg.Timestamp = Now()
	for _, s := range cs.registry.Sessions() {
		if skip != nil && s.client == skip {
			continue
		}
		s.queue(msg)
	}
}

// broadcastRoom queues the message for every member of the room, using one
// consistent membership snapshot for the whole emission.
func (cs *ChatServer) broadcastRoom(roomId string, msg *ServerMessage, skip *Client) {
	msg.Timestamp = Now()
	for _, s := range cs.rooms.Members(roomId) {
		if skip != nil && s.client == skip {
			continue
		}
		s.queue(msg)
	}
}
