package database

import "time"

// ChatRepository is the persistence contract the realtime coordinator
// depends on. Sessions, room membership, typing state and live calls are
// never persisted; only users, messages, room metadata and finished call
// records cross this boundary.
type ChatRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountByEmail(email string) (User, error)
	GetAccountById(accountId int) (User, error)
	ResolveOrCreateAccount(params ResolveAccountParams) (User, error)
	SetAccountStatus(accountId int, status string, lastSeen time.Time) error
	ListAccounts() ([]User, error)
	ListRooms() ([]Room, error)
	GetRoomById(id string) (Room, error)
	CreateMessage(params CreateMessageParams) (Message, error)
	GetMessageById(id string) (Message, error)
	UpdateMessageLikes(id string, likes []int) error
	ListMessages(roomId string, limit int) ([]Message, error)
	CreateCallRecord(record CallRecord) error
}
