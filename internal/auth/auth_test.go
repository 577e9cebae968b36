package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmorrow/waxroom/internal/database"
	"github.com/cmorrow/waxroom/internal/testutil"
)

func newTestService(t *testing.T) (*AuthService, database.WaxroomRepository) {
	t.Helper()

	repo, err := database.NewSqliteWaxroomRepository(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		repo.Close()
	})

	return NewAuthService(testutil.TestLogger(t), repo), repo
}

func TestRegister(t *testing.T) {
	svc, _ := newTestService(t)

	user, err := svc.Register("alice", "opensesame", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "Alice", user.DisplayName)
	assert.False(t, user.Superuser)
	assert.NotEqual(t, "opensesame", user.Password, "password must be stored hashed")

	_, err = svc.Register("alice", "different", "Alice Two")
	assert.ErrorIs(t, err, database.ErrConflict)
}

func TestRegisterSuperuserOnlyOnce(t *testing.T) {
	svc, _ := newTestService(t)

	root, err := svc.RegisterSuperuser("root", "changeme", "Root")
	require.NoError(t, err)
	assert.True(t, root.Superuser)

	_, err = svc.RegisterSuperuser("root2", "changeme", "Root Two")
	assert.ErrorIs(t, err, ErrSuperuserExists)
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Register("alice", "opensesame", "Alice")
	require.NoError(t, err)

	tcases := []struct {
		name     string
		username string
		password string
		err      error
	}{
		{
			name:     "valid credentials",
			username: "alice",
			password: "opensesame",
		},
		{
			name:     "wrong password",
			username: "alice",
			password: "sesameopen",
			err:      ErrInvalidCredentials,
		},
		{
			name:     "unknown username",
			username: "mallory",
			password: "opensesame",
			err:      ErrInvalidCredentials,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			sess, err := svc.Login(tc.username, tc.password)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}

			require.NoError(t, err)
			assert.Len(t, sess.Token, 32)
			assert.WithinDuration(t, time.Now().Add(SessionDuration), sess.ExpiresAt, time.Minute)
		})
	}
}

func TestValidateSession(t *testing.T) {
	svc, repo := newTestService(t)

	user, err := svc.Register("alice", "opensesame", "Alice")
	require.NoError(t, err)

	sess, err := svc.Login("alice", "opensesame")
	require.NoError(t, err)

	got, err := svc.ValidateSession(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, user.Id, got.Id)

	_, err = svc.ValidateSession("no-such-token")
	assert.ErrorIs(t, err, ErrInvalidSession)

	// An expired session fails validation without being mutated.
	_, err = repo.CreateSession(database.CreateSessionParams{
		Token:     "expired-token",
		UserId:    user.Id,
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	})
	require.NoError(t, err)

	_, err = svc.ValidateSession("expired-token")
	assert.ErrorIs(t, err, ErrInvalidSession)

	// The row is still there; expiry is lazy.
	_, err = repo.GetSessionByToken("expired-token")
	require.NoError(t, err)
}

func TestLogout(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Register("alice", "opensesame", "Alice")
	require.NoError(t, err)

	sess, err := svc.Login("alice", "opensesame")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(sess.Token))

	_, err = svc.ValidateSession(sess.Token)
	assert.ErrorIs(t, err, ErrInvalidSession, "no sequence of operations restores validity")

	// Second revocation surfaces not-found for the boundary layer to
	// swallow.
	assert.ErrorIs(t, svc.Logout(sess.Token), database.ErrNotFound)
}

func TestDeleteUserRevokesSessions(t *testing.T) {
	svc, _ := newTestService(t)

	user, err := svc.Register("alice", "opensesame", "Alice")
	require.NoError(t, err)

	sess, err := svc.Login("alice", "opensesame")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteUser(user.Id))

	_, err = svc.ValidateSession(sess.Token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}
