package types

import (
	"time"
)

type Status string

const (
	StatusOnline    Status = "online"
	StatusAway      Status = "away"
	StatusBusy      Status = "busy"
	StatusInvisible Status = "invisible"
	StatusOffline   Status = "offline"
)

// ValidStatus reports whether s is one of the presence statuses a client may
// set. Offline is server-assigned on disconnect and is not settable.
func ValidStatus(s Status) bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusInvisible:
		return true
	}
	return false
}

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeAudio  MessageType = "audio"
	MessageTypeVideo  MessageType = "video"
	MessageTypeSystem MessageType = "system"
)

type User struct {
	Id       int       `json:"id"`
	Username string    `json:"username"`
	Avatar   string    `json:"avatar,omitempty"`
	Status   Status    `json:"status,omitempty"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

type Room struct {
	Id          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	MemberCount int    `json:"members_count"`
}

type Message struct {
	Id        string      `json:"id"`
	RoomId    string      `json:"room_id"`
	Sender    User        `json:"sender"`
	Content   string      `json:"content,omitempty"`
	Type      MessageType `json:"type"`
	FileUrl   string      `json:"file_url,omitempty"`
	FileName  string      `json:"file_name,omitempty"`
	FileType  string      `json:"file_type,omitempty"`
	FileSize  int64       `json:"file_size,omitempty"`
	ReplyTo   string      `json:"reply_to,omitempty"`
	Likes     []int       `json:"likes"`
	CreatedAt time.Time   `json:"created_at"`
}

type MediaType string

const (
	MediaAudio  MediaType = "audio"
	MediaVideo  MediaType = "video"
	MediaScreen MediaType = "screen"
)

type CallParticipant struct {
	UserId   int        `json:"user_id"`
	Username string     `json:"username"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

// CallSummary is the finished form of a call, handed to the call record
// store once the call reaches a terminal state.
type CallSummary struct {
	Id              string            `json:"id"`
	InitiatorId     int               `json:"initiator_id"`
	MediaType       MediaType         `json:"media_type"`
	RoomId          string            `json:"room_id"`
	Status          string            `json:"status"`
	Participants    []CallParticipant `json:"participants"`
	StartedAt       time.Time         `json:"started_at"`
	EndedAt         time.Time         `json:"ended_at"`
	DurationSeconds int               `json:"duration"`
}
