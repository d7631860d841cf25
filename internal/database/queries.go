package database

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/teris-io/shortid"
)

func (db *PgChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, avatar, status, last_seen, created_at) "+
			"VALUES ($1, $2, $3, $4, 'offline', $5, $5) RETURNING id, username, email, avatar",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		params.Avatar,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.Avatar,
	)

	return u, err
}

func (db *PgChatRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, avatar, status, last_seen FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.PasswordHash,
		&u.Avatar,
		&u.Status,
		&u.LastSeen,
	)

	return u, err
}

func (db *PgChatRepository) GetAccountById(accountId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, avatar, status, last_seen FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.Avatar,
		&u.Status,
		&u.LastSeen,
	)

	return u, err
}

// ResolveOrCreateAccount looks up an account by username, creating a
// passwordless one if it does not exist. Used by the socket login flow,
// which identifies users by display name alone.
func (db *PgChatRepository) ResolveOrCreateAccount(params ResolveAccountParams) (User, error) {
	row := db.conn.QueryRow(
		"INSERT INTO accounts (username, avatar, status, last_seen, created_at) "+
			"VALUES ($1, $2, 'online', $3, $3) "+
			"ON CONFLICT (username) DO UPDATE SET status = 'online', last_seen = $3 "+
			"RETURNING id, username, avatar, status, last_seen",
		params.Username,
		params.Avatar,
		time.Now().UTC(),
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.Avatar,
		&u.Status,
		&u.LastSeen,
	)

	return u, err
}

func (db *PgChatRepository) SetAccountStatus(accountId int, status string, lastSeen time.Time) error {
	_, err := db.conn.Exec(
		"UPDATE accounts SET status = $2, last_seen = $3 WHERE id = $1",
		accountId,
		status,
		lastSeen,
	)

	return err
}

func (db *PgChatRepository) ListAccounts() ([]User, error) {
	rows, err := db.conn.Query(
		"SELECT id, username, avatar, status, last_seen FROM accounts ORDER BY username",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Id, &u.Username, &u.Avatar, &u.Status, &u.LastSeen); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *PgChatRepository) ListRooms() ([]Room, error) {
	rows, err := db.conn.Query(
		"SELECT id, name, type, created_at FROM rooms ORDER BY created_at",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.Id, &r.Name, &r.Type, &r.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}

	return rooms, rows.Err()
}

func (db *PgChatRepository) GetRoomById(id string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, type, created_at FROM rooms WHERE id = $1 LIMIT 1",
		id,
	)

	var r Room
	err := row.Scan(&r.Id, &r.Name, &r.Type, &r.CreatedAt)

	return r, err
}

func (db *PgChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	id, err := shortid.Generate()
	if err != nil {
		return Message{}, err
	}

	row := db.conn.QueryRow(
		"INSERT INTO messages (id, room_id, sender_id, content, type, file_url, file_name, file_type, file_size, reply_to, likes, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, '{}', $11) "+
			"RETURNING id, created_at",
		id,
		params.RoomId,
		params.SenderId,
		params.Content,
		params.Type,
		params.FileUrl,
		params.FileName,
		params.FileType,
		params.FileSize,
		params.ReplyTo,
		time.Now().UTC(),
	)

	msg := Message{
		RoomId:   params.RoomId,
		SenderId: params.SenderId,
		Content:  params.Content,
		Type:     params.Type,
		FileUrl:  params.FileUrl,
		FileName: params.FileName,
		FileType: params.FileType,
		FileSize: params.FileSize,
		ReplyTo:  params.ReplyTo,
		Likes:    []int{},
	}
	err = row.Scan(&msg.Id, &msg.CreatedAt)

	return msg, err
}

func (db *PgChatRepository) GetMessageById(id string) (Message, error) {
	row := db.conn.QueryRow(
		"SELECT m.id, m.room_id, m.sender_id, a.username, a.avatar, m.content, m.type, "+
			"m.file_url, m.file_name, m.file_type, m.file_size, m.reply_to, m.likes, m.created_at "+
			"FROM messages m JOIN accounts a ON a.id = m.sender_id "+
			"WHERE m.id = $1 LIMIT 1",
		id,
	)

	return scanMessage(row)
}

func (db *PgChatRepository) UpdateMessageLikes(id string, likes []int) error {
	res, err := db.conn.Exec(
		"UPDATE messages SET likes = $2 WHERE id = $1",
		id,
		pq.Array(likes),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (db *PgChatRepository) ListMessages(roomId string, limit int) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT * FROM ("+
			"SELECT m.id, m.room_id, m.sender_id, a.username, a.avatar, m.content, m.type, "+
			"m.file_url, m.file_name, m.file_type, m.file_size, m.reply_to, m.likes, m.created_at "+
			"FROM messages m JOIN accounts a ON a.id = m.sender_id "+
			"WHERE m.room_id = $1 ORDER BY m.created_at DESC LIMIT $2"+
			") sub ORDER BY created_at ASC",
		roomId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PgChatRepository) CreateCallRecord(record CallRecord) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO calls (id, initiator_id, media_type, room_id, status, started_at, ended_at, duration) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		record.Id,
		record.InitiatorId,
		record.MediaType,
		record.RoomId,
		record.Status,
		record.StartedAt,
		record.EndedAt,
		record.DurationSeconds,
	)
	if err != nil {
		return err
	}

	for _, p := range record.Participants {
		_, err = tx.Exec(
			"INSERT INTO call_participants (call_id, account_id, joined_at, left_at) "+
				"VALUES ($1, $2, $3, $4)",
			record.Id,
			p.UserId,
			p.JoinedAt,
			p.LeftAt,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var msg Message
	var likes pq.Int64Array
	err := row.Scan(
		&msg.Id,
		&msg.RoomId,
		&msg.SenderId,
		&msg.SenderName,
		&msg.SenderAvatar,
		&msg.Content,
		&msg.Type,
		&msg.FileUrl,
		&msg.FileName,
		&msg.FileType,
		&msg.FileSize,
		&msg.ReplyTo,
		&likes,
		&msg.CreatedAt,
	)
	if err != nil {
		return Message{}, err
	}

	msg.Likes = make([]int, len(likes))
	for i, l := range likes {
		msg.Likes[i] = int(l)
	}

	return msg, nil
}
