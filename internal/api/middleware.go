package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/cmorrow/waxroom/internal/database"
)

const sessionCookieKey = "waxroom_session"

type contextKey string

const userKey contextKey = "user"

func WithUser(ctx context.Context, user database.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func CurrentUser(ctx context.Context) (database.User, bool) {
	user, ok := ctx.Value(userKey).(database.User)
	return user, ok
}

// sessionToken extracts the bearer token from the Authorization header
// or, failing that, the session cookie.
func sessionToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if !found || scheme != "Bearer" {
			return "", fmt.Errorf("authorization must be Bearer")
		}
		return token, nil
	}

	cookie, err := r.Cookie(sessionCookieKey)
	if err != nil {
		return "", fmt.Errorf("get cookie: %w", err)
	}

	return cookie.Value, nil
}

func (s *WaxroomApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *WaxroomApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := sessionToken(r)
		if err != nil {
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		user, err := s.auth.ValidateSession(token)
		if err != nil {
			s.log.Printf("validate session: %v", err)
			errResp := s.errorResponse(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		ctx := WithUser(r.Context(), user)
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}
