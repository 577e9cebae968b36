package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/bcrypt"

	"github.com/cmorrow/waxroom/internal/auth"
	"github.com/cmorrow/waxroom/internal/config"
	"github.com/cmorrow/waxroom/internal/database"
	"github.com/cmorrow/waxroom/internal/rooms"
	"github.com/cmorrow/waxroom/internal/stats"
	"github.com/cmorrow/waxroom/internal/testutil"
)

// findCookie returns the named cookie from the recorded response, or
// nil if it was not set.
func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func newTestApp(t *testing.T) (*WaxroomApp, *database.MockWaxroomRepository, *stats.MockStatsUpdater) {
	t.Helper()

	mockRepo := &database.MockWaxroomRepository{}
	mockStats := &stats.MockStatsUpdater{}
	mockStats.On("RegisterMetric", mock.AnythingOfType("string")).Times(5)

	logger := testutil.TestLogger(t)
	authService := auth.NewAuthService(logger, mockRepo)
	roomService := rooms.NewRoomService(logger, mockRepo)

	cfg := &config.Config{ServerAddr: "localhost:0", DatabaseDSN: "sqlite::memory:"}
	app := NewWaxroomApp(http.NewServeMux(), logger, authService, roomService, mockRepo, mockStats, cfg)

	return app, mockRepo, mockStats
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
		code    int
	}{
		{
			name:    "successful health check",
			mockErr: nil,
			code:    http.StatusOK,
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
			code:    http.StatusInternalServerError,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app, mockRepo, _ := newTestApp(t)
			defer mockRepo.AssertExpectations(t)

			mockRepo.On("Ping").Return(tc.mockErr).Once()

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			app.healthCheck(rr, req)

			assert.Equal(t, tc.code, rr.Code)
			if tc.mockErr == nil {
				assert.Equal(t, "OK", rr.Body.String())
			}
		})
	}
}

func TestRegister(t *testing.T) {
	expectedUser := database.User{
		Id:          1,
		Username:    "newuser",
		DisplayName: "New User",
	}

	tcases := []struct {
		name    string
		body    string
		mockErr error
		code    int
	}{
		{
			name: "successful registration",
			body: `{"username":"newuser","password":"secret","display_name":"New User"}`,
			code: http.StatusCreated,
		},
		{
			name: "missing fields",
			body: `{"username":"newuser"}`,
			code: http.StatusBadRequest,
		},
		{
			name: "invalid json",
			body: `{`,
			code: http.StatusBadRequest,
		},
		{
			name:    "duplicate username",
			body:    `{"username":"newuser","password":"secret","display_name":"New User"}`,
			mockErr: database.ErrConflict,
			code:    http.StatusConflict,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app, mockRepo, _ := newTestApp(t)
			defer mockRepo.AssertExpectations(t)

			if tc.code == http.StatusCreated || tc.mockErr != nil {
				mockRepo.On("CreateUser", mock.MatchedBy(func(p database.CreateUserParams) bool {
					return p.Username == "newuser" && !p.Superuser && p.Password != "secret"
				})).Return(expectedUser, tc.mockErr).Once()
			}

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewBufferString(tc.body))
			app.register(rr, req)

			assert.Equal(t, tc.code, rr.Code)

			if tc.code == http.StatusCreated {
				var user User
				assert.NoError(t, json.NewDecoder(rr.Body).Decode(&user))
				assert.Equal(t, expectedUser.Username, user.Username)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	assert.NoError(t, err)

	storedUser := database.User{
		Id:          1,
		Username:    "user",
		Password:    string(hash),
		DisplayName: "User",
	}

	tcases := []struct {
		name     string
		body     string
		userErr  error
		password string
		code     int
	}{
		{
			name: "successful login",
			body: `{"username":"user","password":"secret"}`,
			code: http.StatusOK,
		},
		{
			name: "wrong password",
			body: `{"username":"user","password":"nope"}`,
			code: http.StatusUnauthorized,
		},
		{
			name:    "unknown user",
			body:    `{"username":"user","password":"secret"}`,
			userErr: database.ErrNotFound,
			code:    http.StatusUnauthorized,
		},
		{
			name: "missing credentials",
			body: `{"username":"user"}`,
			code: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app, mockRepo, mockStats := newTestApp(t)
			defer mockRepo.AssertExpectations(t)

			if tc.code != http.StatusBadRequest {
				mockRepo.On("GetUserByUsername", "user").Return(storedUser, tc.userErr).Once()
			}

			if tc.code == http.StatusOK {
				session := database.Session{
					Id:        1,
					Token:     "session-token",
					UserId:    storedUser.Id,
					ExpiresAt: time.Now().UTC().Add(auth.SessionDuration),
				}
				mockRepo.On("CreateSession", mock.AnythingOfType("database.CreateSessionParams")).
					Return(session, nil).Once()
				mockRepo.On("GetUserById", storedUser.Id).Return(storedUser, nil).Once()
				mockStats.On("Incr", sessionsIssuedMetric).Once()
			}

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(tc.body))
			app.login(rr, req)

			assert.Equal(t, tc.code, rr.Code)

			if tc.code == http.StatusOK {
				var result LoginResult
				assert.NoError(t, json.NewDecoder(rr.Body).Decode(&result))
				assert.Equal(t, "session-token", result.Token)
				assert.Equal(t, storedUser.Username, result.User.Username)

				cookie := findCookie(rr, sessionCookieKey)
				assert.NotNil(t, cookie)
				assert.Equal(t, "session-token", cookie.Value)
				assert.True(t, cookie.HttpOnly)
			}
		})
	}
}

func TestLogout(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name: "successful logout",
		},
		{
			name:    "already revoked",
			mockErr: database.ErrNotFound,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app, mockRepo, mockStats := newTestApp(t)
			defer mockRepo.AssertExpectations(t)

			mockRepo.On("DeleteSessionByToken", "session-token").Return(tc.mockErr).Once()
			if tc.mockErr == nil {
				mockStats.On("Incr", sessionsRevokedMetric).Once()
			}
			defer mockStats.AssertExpectations(t)

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
			req.Header.Set("Authorization", "Bearer session-token")
			app.logout(rr, req)

			assert.Equal(t, http.StatusNoContent, rr.Code)

			cookie := findCookie(rr, sessionCookieKey)
			assert.NotNil(t, cookie)
			assert.Empty(t, cookie.Value)
		})
	}
}

func TestSessionHandler(t *testing.T) {
	app, mockRepo, _ := newTestApp(t)
	defer mockRepo.AssertExpectations(t)

	user := database.User{Id: 1, Username: "user", DisplayName: "User"}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req = req.WithContext(WithUser(req.Context(), user))
	app.session(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var got User
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, user.Username, got.Username)
}

func TestCreateRoom(t *testing.T) {
	user := database.User{Id: 1, Username: "owner"}

	tcases := []struct {
		name string
		body string
		slug string
		code int
	}{
		{
			name: "explicit slug",
			body: `{"slug":"listening-den","title":"Listening Den"}`,
			slug: "listening-den",
			code: http.StatusCreated,
		},
		{
			name: "generated slug",
			body: `{"title":"Listening Den"}`,
			code: http.StatusCreated,
		},
		{
			name: "missing title",
			body: `{"slug":"listening-den"}`,
			code: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app, mockRepo, _ := newTestApp(t)
			defer mockRepo.AssertExpectations(t)

			if tc.code == http.StatusCreated {
				mockRepo.On("CreateRoom", mock.MatchedBy(func(p database.CreateRoomParams) bool {
					if p.Title != "Listening Den" || p.OwnerId != user.Id {
						return false
					}
					if tc.slug != "" {
						return p.Slug == tc.slug
					}
					return p.Slug != ""
				})).Return(database.Room{Id: 1, Slug: "listening-den", Title: "Listening Den"}, nil).Once()
			}

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/rooms", bytes.NewBufferString(tc.body))
			req = req.WithContext(WithUser(req.Context(), user))
			app.createRoom(rr, req)

			assert.Equal(t, tc.code, rr.Code)
		})
	}
}

func TestGetRoom(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
		code    int
	}{
		{
			name: "room found",
			code: http.StatusOK,
		},
		{
			name:    "room not found",
			mockErr: database.ErrNotFound,
			code:    http.StatusNotFound,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app, mockRepo, _ := newTestApp(t)
			defer mockRepo.AssertExpectations(t)

			room := database.Room{Id: 1, Slug: "listening-den", Title: "Listening Den"}
			mockRepo.On("GetRoomBySlug", "listening-den").Return(room, tc.mockErr).Once()

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/rooms/listening-den", nil)
			req.SetPathValue("slug", "listening-den")
			app.getRoom(rr, req)

			assert.Equal(t, tc.code, rr.Code)
		})
	}
}

func TestUpdateRoomKeepsAbsentFields(t *testing.T) {
	app, mockRepo, _ := newTestApp(t)
	defer mockRepo.AssertExpectations(t)

	user := database.User{Id: 1}
	room := database.Room{Id: 1, Slug: "den", Title: "Old Title", Description: "Old description"}

	mockRepo.On("GetRoomBySlug", "den").Return(room, nil).Once()
	mockRepo.On("GetMember", room.Id, user.Id).
		Return(database.RoomMember{RoomId: room.Id, UserId: user.Id, Owner: true}, nil).Once()
	mockRepo.On("UpdateRoom", database.UpdateRoomParams{
		RoomId:      room.Id,
		Title:       "New Title",
		Description: "Old description",
	}).Return(database.Room{Id: 1, Slug: "den", Title: "New Title", Description: "Old description"}, nil).Once()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/api/rooms/den", bytes.NewBufferString(`{"title":"New Title"}`))
	req.SetPathValue("slug", "den")
	req = req.WithContext(WithUser(req.Context(), user))
	app.updateRoom(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRemoveMemberRequiresOwner(t *testing.T) {
	app, mockRepo, _ := newTestApp(t)
	defer mockRepo.AssertExpectations(t)

	user := database.User{Id: 2}
	room := database.Room{Id: 1, Slug: "den"}

	mockRepo.On("GetRoomBySlug", "den").Return(room, nil).Once()
	mockRepo.On("GetMember", room.Id, user.Id).
		Return(database.RoomMember{RoomId: room.Id, UserId: user.Id, Owner: false}, nil).Once()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/rooms/den/members/3", nil)
	req.SetPathValue("slug", "den")
	req.SetPathValue("userId", "3")
	req = req.WithContext(WithUser(req.Context(), user))
	app.removeMember(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestLeaveRoomLastOwner(t *testing.T) {
	app, mockRepo, _ := newTestApp(t)
	defer mockRepo.AssertExpectations(t)

	user := database.User{Id: 1}
	room := database.Room{Id: 1, Slug: "den"}

	mockRepo.On("GetRoomBySlug", "den").Return(room, nil).Once()
	mockRepo.On("RemoveMember", room.Id, user.Id).Return(database.ErrLastOwner).Once()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/rooms/den/leave", nil)
	req.SetPathValue("slug", "den")
	req = req.WithContext(WithUser(req.Context(), user))
	app.leaveRoom(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRedeemInvite(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
		code    int
	}{
		{
			name: "successful redemption",
			code: http.StatusCreated,
		},
		{
			name:    "unknown invite",
			mockErr: database.ErrNotFound,
			code:    http.StatusNotFound,
		},
		{
			name:    "already a member",
			mockErr: database.ErrConflict,
			code:    http.StatusConflict,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app, mockRepo, mockStats := newTestApp(t)
			defer mockRepo.AssertExpectations(t)

			user := database.User{Id: 2, Username: "joiner"}
			member := database.RoomMember{Id: 5, RoomId: 1, UserId: user.Id}

			mockRepo.On("RedeemInvite", "invite-token", user.Id).Return(member, tc.mockErr).Once()
			if tc.mockErr == nil {
				mockStats.On("Incr", inviteRedemptionsMetric).Once()
			}

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/invites/invite-token", nil)
			req.SetPathValue("token", "invite-token")
			req = req.WithContext(WithUser(req.Context(), user))
			app.redeemInvite(rr, req)

			assert.Equal(t, tc.code, rr.Code)
		})
	}
}

func TestCreateStreamKey(t *testing.T) {
	app, mockRepo, _ := newTestApp(t)
	defer mockRepo.AssertExpectations(t)

	user := database.User{Id: 1}
	room := database.Room{Id: 1, Slug: "den"}

	mockRepo.On("GetRoomBySlug", "den").Return(room, nil).Once()
	mockRepo.On("GetMember", room.Id, user.Id).
		Return(database.RoomMember{RoomId: room.Id, UserId: user.Id}, nil).Once()
	mockRepo.On("CreateStreamKey", mock.MatchedBy(func(p database.CreateStreamKeyParams) bool {
		return p.Source == "turntable" && p.RoomId == room.Id && p.UserId == user.Id && p.Token != ""
	})).Return(database.StreamKey{Id: 1, Token: "key-token", Source: "turntable", RoomId: room.Id, UserId: user.Id}, nil).Once()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/rooms/den/keys", bytes.NewBufferString(`{"source":"turntable"}`))
	req.SetPathValue("slug", "den")
	req = req.WithContext(WithUser(req.Context(), user))
	app.createStreamKey(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)

	var key StreamKey
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&key))
	assert.Equal(t, "key-token", key.Token)
}

func TestRevokeStreamKey(t *testing.T) {
	app, mockRepo, _ := newTestApp(t)
	defer mockRepo.AssertExpectations(t)

	user := database.User{Id: 2}
	key := database.StreamKey{Id: 7, Token: "key-token", Source: "mic", RoomId: 1, UserId: user.Id}

	// The handler goes through the service, which resolves the key
	// exactly once.
	mockRepo.On("GetStreamKeyById", key.Id).Return(key, nil).Once()
	mockRepo.On("DeleteStreamKey", key.Id).Return(nil).Once()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/keys/7", nil)
	req.SetPathValue("id", "7")
	req = req.WithContext(WithUser(req.Context(), user))
	app.revokeStreamKey(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestAuthorizeIngest(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
		code    int
	}{
		{
			name: "valid key",
			code: http.StatusOK,
		},
		{
			name:    "unknown key",
			mockErr: database.ErrNotFound,
			code:    http.StatusUnauthorized,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app, mockRepo, mockStats := newTestApp(t)
			defer mockRepo.AssertExpectations(t)

			key := database.StreamKey{Id: 1, Token: "key-token", Source: "turntable", RoomId: 1, UserId: 2}
			mockRepo.On("GetStreamKeyByToken", "key-token").Return(key, tc.mockErr).Once()
			if tc.mockErr == nil {
				mockStats.On("Incr", ingestAuthorizationsMetric).Once()
			}

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/ingest/key-token", nil)
			req.SetPathValue("token", "key-token")
			app.authorizeIngest(rr, req)

			assert.Equal(t, tc.code, rr.Code)

			if tc.mockErr == nil {
				var authz IngestAuthorization
				assert.NoError(t, json.NewDecoder(rr.Body).Decode(&authz))
				assert.Equal(t, key.RoomId, authz.RoomId)
				assert.Equal(t, key.UserId, authz.UserId)
				assert.Equal(t, key.Source, authz.Source)
			}
		})
	}
}
