package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cmorrow/waxroom/internal/database"
)

func TestSessionToken(t *testing.T) {
	tcases := []struct {
		name   string
		header string
		cookie string
		token  string
		err    bool
	}{
		{
			name:   "bearer header",
			header: "Bearer abc123",
			token:  "abc123",
		},
		{
			name:   "wrong scheme",
			header: "Basic abc123",
			err:    true,
		},
		{
			name:   "cookie fallback",
			cookie: "abc123",
			token:  "abc123",
		},
		{
			name:   "header wins over cookie",
			header: "Bearer fromheader",
			cookie: "fromcookie",
			token:  "fromheader",
		},
		{
			name: "no credentials",
			err:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: sessionCookieKey, Value: tc.cookie})
			}

			token, err := sessionToken(req)
			if tc.err {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tc.token, token)
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	user := database.User{Id: 1, Username: "user"}

	tcases := []struct {
		name      string
		token     string
		expiresAt time.Time
		mockErr   error
		code      int
	}{
		{
			name:      "valid session",
			token:     "valid-token",
			expiresAt: time.Now().UTC().Add(time.Hour),
			code:      http.StatusOK,
		},
		{
			name:    "unknown token",
			token:   "bad-token",
			mockErr: database.ErrNotFound,
			code:    http.StatusUnauthorized,
		},
		{
			name:      "expired session",
			token:     "expired-token",
			expiresAt: time.Now().UTC().Add(-time.Hour),
			code:      http.StatusUnauthorized,
		},
		{
			name: "missing token",
			code: http.StatusUnauthorized,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app, mockRepo, _ := newTestApp(t)
			defer mockRepo.AssertExpectations(t)

			if tc.token != "" {
				session := database.Session{
					Token:     tc.token,
					UserId:    user.Id,
					ExpiresAt: tc.expiresAt,
				}
				mockRepo.On("GetSessionByToken", tc.token).Return(session, tc.mockErr).Once()
				if tc.mockErr == nil && time.Now().UTC().Before(tc.expiresAt) {
					mockRepo.On("GetUserById", user.Id).Return(user, nil).Once()
				}
			}

			var gotUser database.User
			handler := app.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
				gotUser, _ = CurrentUser(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			handler(rr, req)

			assert.Equal(t, tc.code, rr.Code)
			if tc.code == http.StatusOK {
				assert.Equal(t, user, gotUser)
				assert.Contains(t, rr.Header().Get("Cache-Control"), "no-store")
			}
		})
	}
}
