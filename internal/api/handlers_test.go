package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/circl-chat/circl-server/internal/database"
	"github.com/circl-chat/circl-server/internal/testutil"
	"github.com/circl-chat/circl-server/internal/types"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newTestAppWithRepo(t *testing.T, db database.ChatRepository) *CirclApp {
	t.Helper()

	return &CirclApp{
		log:        testutil.TestLogger(t),
		db:         db,
		signingKey: []byte("test-signing-key"),
	}
}

// findCookie returns the named cookie from the recorded response, or nil.
func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()

	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("failed to encode body: %v", err)
	}
	return buf
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
		want    int
	}{
		{
			name: "healthy",
			want: http.StatusOK,
		},
		{
			name:    "database unreachable",
			mockErr: assert.AnError,
			want:    http.StatusInternalServerError,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			defer mockRepo.AssertExpectations(t)
			mockRepo.On("Ping").Return(tc.mockErr).Once()

			app := newTestAppWithRepo(t, mockRepo)
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			app.healthCheck(rr, req)

			assert.Equal(t, tc.want, rr.Code)
			if tc.mockErr == nil {
				assert.Equal(t, "OK", rr.Body.String())
			}
		})
	}
}

func TestCreateAccountHandler(t *testing.T) {
	t.Run("creates account", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("CreateAccount", mock.MatchedBy(func(params database.CreateAccountParams) bool {
			return params.Username == "alice" &&
				params.EmailAddress == "alice@example.com" &&
				verifyPassword(params.PasswordHash, "s3cret")
		})).Return(database.User{Id: 1, Username: "alice", Avatar: "a.png"}, nil).Once()

		app := newTestAppWithRepo(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/register", jsonBody(t, RegisterRequest{
			Email:    "alice@example.com",
			Username: "alice",
			Password: "s3cret",
			Avatar:   "a.png",
		}))
		app.createAccount(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)

		var user types.User
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&user))
		assert.Equal(t, 1, user.Id)
		assert.Equal(t, "alice", user.Username)
	})

	t.Run("duplicate account", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("CreateAccount", mock.Anything).
			Return(database.User{}, &pq.Error{Code: "23505"}).Once()

		app := newTestAppWithRepo(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/register", jsonBody(t, RegisterRequest{
			Email:    "alice@example.com",
			Username: "alice",
			Password: "s3cret",
		}))
		app.createAccount(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)

		app := newTestAppWithRepo(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/register", jsonBody(t, RegisterRequest{
			Username: "alice",
		}))
		app.createAccount(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)

		app := newTestAppWithRepo(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewBufferString("{not json"))
		app.createAccount(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestLoginHandler(t *testing.T) {
	passwordHash, err := hashPassword("s3cret")
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	storedUser := database.User{
		Id:           1,
		Username:     "alice",
		EmailAddress: "alice@example.com",
		PasswordHash: passwordHash,
		Status:       "offline",
		LastSeen:     time.Now().UTC(),
	}

	t.Run("sets session cookie", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetAccountByEmail", "alice@example.com").Return(storedUser, nil).Once()

		app := newTestAppWithRepo(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, LoginRequest{
			Email:    "alice@example.com",
			Password: "s3cret",
		}))
		app.login(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		cookie := findCookie(rr, tokenCookieKey)
		assert.NotNil(t, cookie, "expected session cookie to be set")
		assert.True(t, cookie.HttpOnly)

		userId, err := app.extractUserIdFromToken(cookie.Value)
		assert.NoError(t, err)
		assert.Equal(t, 1, userId)
	})

	t.Run("wrong password", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetAccountByEmail", "alice@example.com").Return(storedUser, nil).Once()

		app := newTestAppWithRepo(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, LoginRequest{
			Email:    "alice@example.com",
			Password: "wrong",
		}))
		app.login(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Nil(t, findCookie(rr, tokenCookieKey))
	})

	t.Run("unknown account", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetAccountByEmail", "ghost@example.com").Return(database.User{}, sql.ErrNoRows).Once()

		app := newTestAppWithRepo(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, LoginRequest{
			Email:    "ghost@example.com",
			Password: "s3cret",
		}))
		app.login(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestSessionHandler(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	defer mockRepo.AssertExpectations(t)
	mockRepo.On("GetAccountById", 1).Return(database.User{
		Id:       1,
		Username: "alice",
		Status:   "online",
	}, nil).Once()

	app := newTestAppWithRepo(t, mockRepo)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req = req.WithContext(WithUserId(req.Context(), 1))
	app.session(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var user types.User
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&user))
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, types.StatusOnline, user.Status)
}

func TestLogoutHandler(t *testing.T) {
	app := newTestAppWithRepo(t, &database.MockChatRepository{})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/logout", nil)
	app.logout(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	cookie := findCookie(rr, tokenCookieKey)
	assert.NotNil(t, cookie)
	assert.Empty(t, cookie.Value, "expected session cookie to be cleared")
	assert.True(t, cookie.Expires.Before(time.Now()))
}

func TestGetMessagesHandler(t *testing.T) {
	t.Run("returns room history", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("ListMessages", "general", messageHistoryLimit).Return([]database.Message{
			{
				Id:         "msg_1",
				RoomId:     "general",
				SenderId:   1,
				SenderName: "alice",
				Content:    "hello",
				Type:       "text",
				Likes:      []int{2},
			},
		}, nil).Once()

		app := newTestAppWithRepo(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/messages?room=general", nil)
		app.getMessages(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var messages []types.Message
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&messages))
		assert.Len(t, messages, 1)
		assert.Equal(t, "msg_1", messages[0].Id)
		assert.Equal(t, "alice", messages[0].Sender.Username)
		assert.Equal(t, []int{2}, messages[0].Likes)
	})

	t.Run("missing room parameter", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)

		app := newTestAppWithRepo(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
		app.getMessages(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestGetRoomsHandler(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	defer mockRepo.AssertExpectations(t)
	mockRepo.On("ListRooms").Return([]database.Room{
		{Id: "general", Name: "General", Type: "public"},
		{Id: "tech", Name: "Tech", Type: "public"},
	}, nil).Once()

	app := newTestAppWithRepo(t, mockRepo)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	app.getRooms(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var rooms []types.Room
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&rooms))
	assert.Len(t, rooms, 2)
	assert.Equal(t, "general", rooms[0].Id)
}

func TestGetRoomHandler(t *testing.T) {
	t.Run("returns room", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetRoomById", "general").Return(database.Room{
			Id:   "general",
			Name: "General",
			Type: "public",
		}, nil).Once()

		app := newTestAppWithRepo(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/rooms/general", nil)
		req.SetPathValue("id", "general")
		app.getRoom(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var room types.Room
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&room))
		assert.Equal(t, "General", room.Name)
	})

	t.Run("unknown room", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetRoomById", "nope").Return(database.Room{}, sql.ErrNoRows).Once()

		app := newTestAppWithRepo(t, mockRepo)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/rooms/nope", nil)
		req.SetPathValue("id", "nope")
		app.getRoom(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestGetUsersHandler(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	defer mockRepo.AssertExpectations(t)
	mockRepo.On("ListAccounts").Return([]database.User{
		{Id: 1, Username: "alice", Status: "online"},
		{Id: 2, Username: "bob", Status: "offline"},
	}, nil).Once()

	app := newTestAppWithRepo(t, mockRepo)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	app.getUsers(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var users []types.User
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&users))
	assert.Len(t, users, 2)
	assert.Equal(t, types.StatusOnline, users[0].Status)
}
