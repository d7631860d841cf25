package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client owns one websocket connection. Before a login frame arrives it has
// no session; every other frame is rejected until it does.
type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	connId     string
	send       chan *ServerMessage
	session    *Session
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(connId string, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		connId:     connId,
		send:       make(chan *ServerMessage, 256),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.writeMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessageResponse(-1))
			continue
		}

		msg.Timestamp = Now()
		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *ClientMessage) {
	cs := c.chatServer

	if msg.Login != nil {
		cs.handleLogin(c, msg)
		return
	}

	if c.session == nil {
		c.queueMessage(ErrLoginRequired(msg.Id))
		return
	}

	switch {
	case msg.SendMessage != nil:
		cs.handleSendMessage(c, msg)
	case msg.JoinRoom != nil:
		cs.handleJoinRoom(c, msg)
	case msg.Typing != nil:
		cs.handleTyping(c, msg)
	case msg.LikeMessage != nil:
		cs.handleLikeMessage(c, msg)
	case msg.UpdateStatus != nil:
		cs.handleUpdateStatus(c, msg)
	case msg.StartCall != nil:
		cs.handleStartCall(c, msg)
	case msg.AcceptCall != nil:
		cs.handleAcceptCall(c, msg)
	case msg.EndCall != nil:
		cs.handleEndCall(c, msg)
	case msg.Signal != nil:
		cs.handleSignal(c, msg)
	case msg.Ping != nil:
		cs.handlePing(c, msg)
	default:
		c.queueMessage(ErrInvalidMessageResponse(msg.Id))
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) writeMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.chatServer.handleDisconnect(c)
	c.stopClient()
}
