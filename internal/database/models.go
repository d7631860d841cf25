package database

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	Avatar       string
	Status       string
	LastSeen     time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	Id        string
	Name      string
	Type      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Message struct {
	Id           string
	RoomId       string
	SenderId     int
	SenderName   string
	SenderAvatar string
	Content      string
	Type         string
	FileUrl      string
	FileName     string
	FileType     string
	FileSize     int64
	ReplyTo      string
	Likes        []int
	CreatedAt    time.Time
}

type CallRecord struct {
	Id              string
	InitiatorId     int
	MediaType       string
	RoomId          string
	Status          string
	StartedAt       time.Time
	EndedAt         time.Time
	DurationSeconds int
	Participants    []CallRecordParticipant
}

type CallRecordParticipant struct {
	UserId   int
	JoinedAt time.Time
	LeftAt   *time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
	Avatar       string
}

type ResolveAccountParams struct {
	Username string
	Avatar   string
}

type CreateMessageParams struct {
	RoomId   string
	SenderId int
	Content  string
	Type     string
	FileUrl  string
	FileName string
	FileType string
	FileSize int64
	ReplyTo  string
}
