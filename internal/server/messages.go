package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/circl-chat/circl-server/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the envelope for every frame a client sends. Exactly one
// of the event fields is set.
type ClientMessage struct {
	BaseMessage
	Login        *Login        `json:"login,omitempty"`
	SendMessage  *SendMessage  `json:"sendMessage,omitempty"`
	JoinRoom     *JoinRoom     `json:"joinRoom,omitempty"`
	Typing       *Typing       `json:"typing,omitempty"`
	LikeMessage  *LikeMessage  `json:"likeMessage,omitempty"`
	UpdateStatus *UpdateStatus `json:"updateStatus,omitempty"`
	StartCall    *StartCall    `json:"startCall,omitempty"`
	AcceptCall   *AcceptCall   `json:"acceptCall,omitempty"`
	EndCall      *EndCall      `json:"endCall,omitempty"`
	Signal       *WebrtcSignal `json:"webrtcSignal,omitempty"`
	Ping         *Ping         `json:"ping,omitempty"`
}

type Login struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

type SendMessage struct {
	RoomId   string            `json:"room_id,omitempty"`
	Content  string            `json:"content,omitempty"`
	Type     types.MessageType `json:"type,omitempty"`
	FileUrl  string            `json:"file_url,omitempty"`
	FileName string            `json:"file_name,omitempty"`
	FileType string            `json:"file_type,omitempty"`
	FileSize int64             `json:"file_size,omitempty"`
	ReplyTo  string            `json:"reply_to,omitempty"`
	Mentions []int             `json:"mentions,omitempty"`
}

type JoinRoom struct {
	RoomId string `json:"room_id"`
}

type Typing struct {
	IsTyping bool `json:"is_typing"`
}

type LikeMessage struct {
	MessageId string `json:"message_id"`
}

type UpdateStatus struct {
	Status types.Status `json:"status"`
}

type StartCall struct {
	RoomId string          `json:"room_id,omitempty"`
	Type   types.MediaType `json:"type,omitempty"`
	Offer  json.RawMessage `json:"offer,omitempty"`
}

type AcceptCall struct {
	CallId string          `json:"call_id"`
	Answer json.RawMessage `json:"answer,omitempty"`
}

type EndCall struct {
	CallId string `json:"call_id"`
}

// WebrtcSignal is relayed verbatim between peers; the payload is never
// inspected by the server.
type WebrtcSignal struct {
	To     int             `json:"to,omitempty"`
	From   int             `json:"from,omitempty"`
	Signal json.RawMessage `json:"signal"`
	Type   string          `json:"type,omitempty"`
}

type Ping struct{}

// ServerMessage is the envelope for every frame sent to a client. Exactly
// one of the event fields is set; the JSON key is the event name.
type ServerMessage struct {
	BaseMessage
	Response          *Response          `json:"response,omitempty"`
	LoginSuccess      *LoginSuccess      `json:"loginSuccess,omitempty"`
	UserStatusChanged *UserStatusChanged `json:"userStatusChanged,omitempty"`
	UserJoinedRoom    *UserJoinedRoom    `json:"userJoinedRoom,omitempty"`
	RoomChanged       *RoomChanged       `json:"roomChanged,omitempty"`
	NewMessage        *types.Message     `json:"newMessage,omitempty"`
	Mention           *Mention           `json:"mention,omitempty"`
	UserTyping        *UserTyping        `json:"userTyping,omitempty"`
	MessageLiked      *MessageLiked      `json:"messageLiked,omitempty"`
	IncomingCall      *IncomingCall      `json:"incomingCall,omitempty"`
	CallStarted       *CallStarted       `json:"callStarted,omitempty"`
	CallAccepted      *CallAccepted      `json:"callAccepted,omitempty"`
	Signal            *WebrtcSignal      `json:"webrtcSignal,omitempty"`
	CallEnded         *CallEnded         `json:"callEnded,omitempty"`
	Pong              *Pong              `json:"pong,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
}

type LoginSuccess struct {
	User        types.User   `json:"user"`
	ActiveUsers []types.User `json:"active_users"`
	Rooms       []types.Room `json:"rooms"`
}

type UserStatusChanged struct {
	UserId   int          `json:"user_id"`
	Username string       `json:"username"`
	Avatar   string       `json:"avatar,omitempty"`
	Status   types.Status `json:"status"`
}

type UserJoinedRoom struct {
	RoomId   string `json:"room_id"`
	UserId   int    `json:"user_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

type RoomChanged struct {
	RoomId   string `json:"room_id"`
	RoomName string `json:"room_name"`
}

type Mention struct {
	RoomId       string `json:"room_id"`
	MessageId    string `json:"message_id"`
	FromId       int    `json:"from_id"`
	FromUsername string `json:"from_username"`
}

type UserTyping struct {
	RoomId   string `json:"room_id"`
	UserId   int    `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

type MessageLiked struct {
	MessageId string `json:"message_id"`
	Likes     []int  `json:"likes"`
	LikedBy   int    `json:"liked_by"`
}

type IncomingCall struct {
	CallId   string          `json:"call_id"`
	CallerId int             `json:"caller_id"`
	Caller   string          `json:"caller"`
	Type     types.MediaType `json:"type"`
	RoomId   string          `json:"room_id"`
	Offer    json.RawMessage `json:"offer,omitempty"`
}

type CallStarted struct {
	CallId string `json:"call_id"`
}

type CallAccepted struct {
	CallId       string                  `json:"call_id"`
	Participants []types.CallParticipant `json:"participants"`
	Answer       json.RawMessage         `json:"answer,omitempty"`
}

type CallEnded struct {
	CallId   string `json:"call_id"`
	EndedBy  int    `json:"ended_by,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Duration int    `json:"duration"`
}

type Pong struct{}

func newResponse(id, code int, errMsg string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        errMsg,
		},
	}
}

func ErrRoomNotFound(id int) *ServerMessage {
	return newResponse(id, http.StatusNotFound, "room not found")
}

func ErrNotFoundResponse(id int) *ServerMessage {
	return newResponse(id, http.StatusNotFound, "not found")
}

func ErrForbiddenResponse(id int) *ServerMessage {
	return newResponse(id, http.StatusForbidden, "forbidden")
}

func ErrDuplicateConnectionResponse(id int) *ServerMessage {
	return newResponse(id, http.StatusConflict, "connection already logged in")
}

func ErrInvalidStateResponse(id int) *ServerMessage {
	return newResponse(id, http.StatusConflict, "invalid call state")
}

func ErrLoginRequired(id int) *ServerMessage {
	return newResponse(id, http.StatusUnauthorized, "login required")
}

func ErrInternalError(id int) *ServerMessage {
	return newResponse(id, http.StatusInternalServerError, "internal server error")
}

func ErrInvalidMessageResponse(id int) *ServerMessage {
	msg := newResponse(0, http.StatusBadRequest, "invalid message format")
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
