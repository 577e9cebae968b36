// Package auth implements the identity store and session manager:
// account registration, credential verification, and opaque
// store-backed session tokens with absolute expiry.
package auth

import (
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/cmorrow/waxroom/internal/database"
	"github.com/cmorrow/waxroom/internal/token"
)

// SessionDuration is the absolute lifetime of a session.
const SessionDuration = 7 * 24 * time.Hour

var (
	// ErrInvalidCredentials covers both unknown usernames and wrong
	// passwords so callers cannot tell which check failed.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidSession covers unknown, revoked, and expired tokens.
	ErrInvalidSession = errors.New("invalid session")
	// ErrSuperuserExists is returned when the bootstrap registration
	// has already been performed.
	ErrSuperuserExists = errors.New("a superuser already exists")
)

// dummyHash is compared against when the username is unknown, so a
// login attempt takes roughly the same time either way.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

type AuthService struct {
	log *log.Logger
	db  database.WaxroomRepository
}

func NewAuthService(logger *log.Logger, db database.WaxroomRepository) *AuthService {
	return &AuthService{
		log: logger,
		db:  db,
	}
}

// Register creates a regular account. The superuser flag is only
// reachable through RegisterSuperuser.
func (a *AuthService) Register(username, password, displayName string) (database.User, error) {
	return a.createUser(username, password, displayName, false)
}

// RegisterSuperuser creates the administrative account. It is refused
// once any superuser exists.
func (a *AuthService) RegisterSuperuser(username, password, displayName string) (database.User, error) {
	exists, err := a.db.HasSuperuser()
	if err != nil {
		return database.User{}, fmt.Errorf("check for superuser: %w", err)
	}
	if exists {
		return database.User{}, ErrSuperuserExists
	}

	return a.createUser(username, password, displayName, true)
}

func (a *AuthService) createUser(username, password, displayName string, superuser bool) (database.User, error) {
	pwdHash, err := hashPassword(password)
	if err != nil {
		return database.User{}, fmt.Errorf("hash password: %w", err)
	}

	return a.db.CreateUser(database.CreateUserParams{
		Username:    username,
		Password:    pwdHash,
		DisplayName: displayName,
		Superuser:   superuser,
	})
}

// Login verifies the credentials and issues a new session.
func (a *AuthService) Login(username, password string) (database.Session, error) {
	user, err := a.db.GetUserByUsername(username)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			verifyPassword(dummyHash, password)
			return database.Session{}, ErrInvalidCredentials
		}
		return database.Session{}, err
	}

	if !verifyPassword(user.Password, password) {
		return database.Session{}, ErrInvalidCredentials
	}

	tok, err := token.New()
	if err != nil {
		return database.Session{}, fmt.Errorf("generate session token: %w", err)
	}

	return a.db.CreateSession(database.CreateSessionParams{
		Token:     tok,
		UserId:    user.Id,
		ExpiresAt: time.Now().UTC().Add(SessionDuration),
	})
}

// ValidateSession resolves a token to its user. Expiry is evaluated
// here, at lookup time; expired rows are never mutated or swept.
func (a *AuthService) ValidateSession(tok string) (database.User, error) {
	sess, err := a.db.GetSessionByToken(tok)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.User{}, ErrInvalidSession
		}
		return database.User{}, err
	}

	if !time.Now().UTC().Before(sess.ExpiresAt) {
		return database.User{}, ErrInvalidSession
	}

	return a.db.GetUserById(sess.UserId)
}

// Logout revokes the session. Revoking an already-revoked token
// surfaces the store's not-found; callers may treat that as success.
func (a *AuthService) Logout(tok string) error {
	return a.db.DeleteSessionByToken(tok)
}

func (a *AuthService) UpdateUser(userId int, displayName string) (database.User, error) {
	return a.db.UpdateUser(database.UpdateUserParams{
		UserId:      userId,
		DisplayName: displayName,
	})
}

// DeleteUser removes the account; sessions, memberships, invites, and
// stream keys it owns go with it.
func (a *AuthService) DeleteUser(userId int) error {
	return a.db.DeleteUser(userId)
}

func hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}
