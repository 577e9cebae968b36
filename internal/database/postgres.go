package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

type PgWaxroomRepository struct {
	conn *sql.DB
}

func NewPgWaxroomRepository(dsn string) (*PgWaxroomRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgWaxroomRepository{conn: db}, nil
}

func (db *PgWaxroomRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgWaxroomRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// notFoundOr converts sql.ErrNoRows into ErrNotFound tagged with the
// resource name, leaving other errors untouched.
func notFoundOr(err error, resource string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", resource, ErrNotFound)
	}
	return err
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// mapPgError translates constraint violations into the store error
// taxonomy so callers never depend on driver error codes.
func mapPgError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w", pqErr.Constraint, ErrConflict)
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %w", pqErr.Constraint, ErrNotFound)
		}
	}
	return err
}

func (db *PgWaxroomRepository) HasSuperuser() (bool, error) {
	var one int
	err := db.conn.QueryRow("SELECT 1 FROM users WHERE superuser LIMIT 1").Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	return err == nil, err
}

func (db *PgWaxroomRepository) CreateUser(params CreateUserParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO users (username, password, display_name, superuser, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) "+
			"RETURNING id, username, password, display_name, superuser, created_at, updated_at",
		params.Username,
		params.Password,
		params.DisplayName,
		params.Superuser,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(&u.Id, &u.Username, &u.Password, &u.DisplayName, &u.Superuser, &u.CreatedAt, &u.UpdatedAt)

	return u, mapPgError(err)
}

func (db *PgWaxroomRepository) GetUserById(userId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, password, display_name, superuser, created_at, updated_at "+
			"FROM users WHERE id = $1 LIMIT 1",
		userId,
	)

	var u User
	err := row.Scan(&u.Id, &u.Username, &u.Password, &u.DisplayName, &u.Superuser, &u.CreatedAt, &u.UpdatedAt)

	return u, notFoundOr(err, "user")
}

func (db *PgWaxroomRepository) GetUserByUsername(username string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, password, display_name, superuser, created_at, updated_at "+
			"FROM users WHERE username = $1 LIMIT 1",
		username,
	)

	var u User
	err := row.Scan(&u.Id, &u.Username, &u.Password, &u.DisplayName, &u.Superuser, &u.CreatedAt, &u.UpdatedAt)

	return u, notFoundOr(err, "user")
}

func (db *PgWaxroomRepository) UpdateUser(params UpdateUserParams) (User, error) {
	res := db.conn.QueryRow(
		"UPDATE users SET display_name = $2, updated_at = $3 WHERE id = $1 "+
			"RETURNING id, username, password, display_name, superuser, created_at, updated_at",
		params.UserId,
		params.DisplayName,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(&u.Id, &u.Username, &u.Password, &u.DisplayName, &u.Superuser, &u.CreatedAt, &u.UpdatedAt)

	return u, notFoundOr(err, "user")
}

func (db *PgWaxroomRepository) DeleteUser(userId int) error {
	res, err := db.conn.Exec("DELETE FROM users WHERE id = $1", userId)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("user: %w", ErrNotFound)
	}

	return err
}

func (db *PgWaxroomRepository) CreateSession(params CreateSessionParams) (Session, error) {
	res := db.conn.QueryRow(
		"INSERT INTO sessions (token, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4) "+
			"RETURNING id, token, user_id, expires_at, created_at",
		params.Token,
		params.UserId,
		params.ExpiresAt,
		time.Now().UTC(),
	)

	var s Session
	err := res.Scan(&s.Id, &s.Token, &s.UserId, &s.ExpiresAt, &s.CreatedAt)

	return s, mapPgError(err)
}

func (db *PgWaxroomRepository) GetSessionByToken(token string) (Session, error) {
	row := db.conn.QueryRow(
		"SELECT id, token, user_id, expires_at, created_at FROM sessions WHERE token = $1 LIMIT 1",
		token,
	)

	var s Session
	err := row.Scan(&s.Id, &s.Token, &s.UserId, &s.ExpiresAt, &s.CreatedAt)

	return s, notFoundOr(err, "session")
}

func (db *PgWaxroomRepository) DeleteSessionByToken(token string) error {
	res, err := db.conn.Exec("DELETE FROM sessions WHERE token = $1", token)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("session: %w", ErrNotFound)
	}

	return err
}

func (db *PgWaxroomRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res := tx.QueryRow(
		"INSERT INTO rooms (slug, title, description, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) "+
			"RETURNING id, slug, title, description, created_at, updated_at",
		params.Slug,
		params.Title,
		params.Description,
		time.Now().UTC(),
	)

	var room Room
	err = res.Scan(&room.Id, &room.Slug, &room.Title, &room.Description, &room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		return Room{}, mapPgError(err)
	}

	// The creator becomes the room's first owning member.
	_, err = tx.Exec(
		"INSERT INTO room_members (room_id, user_id, owner, created_at) VALUES ($1, $2, TRUE, $3)",
		room.Id,
		params.OwnerId,
		time.Now().UTC(),
	)
	if err != nil {
		return Room{}, mapPgError(err)
	}

	if err = tx.Commit(); err != nil {
		return Room{}, err
	}

	return db.GetRoomById(room.Id)
}

func (db *PgWaxroomRepository) roomMembers(roomId int) ([]RoomMember, error) {
	rows, err := db.conn.Query(
		"SELECT m.id, m.room_id, m.user_id, m.owner, m.created_at, u.username, u.display_name "+
			"FROM room_members m JOIN users u ON m.user_id = u.id WHERE m.room_id = $1",
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]RoomMember, 0)
	for rows.Next() {
		var m RoomMember
		if err := rows.Scan(&m.Id, &m.RoomId, &m.UserId, &m.Owner, &m.CreatedAt, &m.Username, &m.DisplayName); err != nil {
			return nil, err
		}
		members = append(members, m)
	}

	return members, rows.Err()
}

func (db *PgWaxroomRepository) GetRoomById(roomId int) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, slug, title, description, created_at, updated_at FROM rooms WHERE id = $1 LIMIT 1",
		roomId,
	)

	var room Room
	err := row.Scan(&room.Id, &room.Slug, &room.Title, &room.Description, &room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		return Room{}, notFoundOr(err, "room")
	}

	room.Members, err = db.roomMembers(room.Id)
	return room, err
}

func (db *PgWaxroomRepository) GetRoomBySlug(slug string) (Room, error) {
	var roomId int
	err := db.conn.QueryRow("SELECT id FROM rooms WHERE slug = $1 LIMIT 1", slug).Scan(&roomId)
	if err != nil {
		return Room{}, notFoundOr(err, "room")
	}

	return db.GetRoomById(roomId)
}

func (db *PgWaxroomRepository) ListRooms() ([]Room, error) {
	rows, err := db.conn.Query("SELECT id, slug, title, description, created_at, updated_at FROM rooms ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := make([]Room, 0)
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.Id, &room.Slug, &room.Title, &room.Description, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range rooms {
		rooms[i].Members, err = db.roomMembers(rooms[i].Id)
		if err != nil {
			return nil, err
		}
	}

	return rooms, nil
}

func (db *PgWaxroomRepository) UpdateRoom(params UpdateRoomParams) (Room, error) {
	res, err := db.conn.Exec(
		"UPDATE rooms SET title = $2, description = $3, updated_at = $4 WHERE id = $1",
		params.RoomId,
		params.Title,
		params.Description,
		time.Now().UTC(),
	)
	if err != nil {
		return Room{}, err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Room{}, fmt.Errorf("room: %w", ErrNotFound)
	}

	return db.GetRoomById(params.RoomId)
}

func (db *PgWaxroomRepository) DeleteRoom(roomId int) error {
	res, err := db.conn.Exec("DELETE FROM rooms WHERE id = $1", roomId)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("room: %w", ErrNotFound)
	}

	return err
}

func (db *PgWaxroomRepository) CreateMember(params CreateMemberParams) (RoomMember, error) {
	_, err := db.conn.Exec(
		"INSERT INTO room_members (room_id, user_id, owner, created_at) VALUES ($1, $2, $3, $4)",
		params.RoomId,
		params.UserId,
		params.Owner,
		time.Now().UTC(),
	)
	if err != nil {
		return RoomMember{}, mapPgError(err)
	}

	return db.GetMember(params.RoomId, params.UserId)
}

func (db *PgWaxroomRepository) GetMember(roomId, userId int) (RoomMember, error) {
	row := db.conn.QueryRow(
		"SELECT m.id, m.room_id, m.user_id, m.owner, m.created_at, u.username, u.display_name "+
			"FROM room_members m JOIN users u ON m.user_id = u.id "+
			"WHERE m.room_id = $1 AND m.user_id = $2 LIMIT 1",
		roomId,
		userId,
	)

	var m RoomMember
	err := row.Scan(&m.Id, &m.RoomId, &m.UserId, &m.Owner, &m.CreatedAt, &m.Username, &m.DisplayName)

	return m, notFoundOr(err, "room member")
}

// RemoveMember deletes a membership row. A room must keep at least one
// owner while other members remain; the last member may always leave.
// The room row is locked first: membership inserts take a key share on
// it through the FK, so adds serialize against the removal and the
// owner count cannot go stale before commit. Locking only the member
// rows would not block a concurrent insert.
func (db *PgWaxroomRepository) RemoveMember(roomId, userId int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var lockedRoomId int
	err = tx.QueryRow("SELECT id FROM rooms WHERE id = $1 FOR UPDATE", roomId).Scan(&lockedRoomId)
	if err != nil {
		err = notFoundOr(err, "room")
		return err
	}

	rows, err := tx.Query(
		"SELECT user_id, owner FROM room_members WHERE room_id = $1 FOR UPDATE",
		roomId,
	)
	if err != nil {
		return err
	}

	var total, owners int
	var isOwner, found bool
	for rows.Next() {
		var memberId int
		var owner bool
		if err = rows.Scan(&memberId, &owner); err != nil {
			rows.Close()
			return err
		}

		total++
		if owner {
			owners++
		}
		if memberId == userId {
			found = true
			isOwner = owner
		}
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return err
	}

	if !found {
		err = fmt.Errorf("room member: %w", ErrNotFound)
		return err
	}

	if isOwner && owners == 1 && total > 1 {
		err = ErrLastOwner
		return err
	}

	_, err = tx.Exec("DELETE FROM room_members WHERE room_id = $1 AND user_id = $2", roomId, userId)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgWaxroomRepository) CreateInvite(params CreateInviteParams) (RoomInvite, error) {
	res := db.conn.QueryRow(
		"INSERT INTO room_invites (token, room_id, inviter_id, created_at) VALUES ($1, $2, $3, $4) "+
			"RETURNING id, token, room_id, inviter_id, created_at",
		params.Token,
		params.RoomId,
		params.InviterId,
		time.Now().UTC(),
	)

	var inv RoomInvite
	err := res.Scan(&inv.Id, &inv.Token, &inv.RoomId, &inv.InviterId, &inv.CreatedAt)

	return inv, mapPgError(err)
}

func (db *PgWaxroomRepository) GetInviteById(inviteId int) (RoomInvite, error) {
	row := db.conn.QueryRow(
		"SELECT id, token, room_id, inviter_id, created_at FROM room_invites WHERE id = $1 LIMIT 1",
		inviteId,
	)

	var inv RoomInvite
	err := row.Scan(&inv.Id, &inv.Token, &inv.RoomId, &inv.InviterId, &inv.CreatedAt)

	return inv, notFoundOr(err, "room invite")
}

func (db *PgWaxroomRepository) GetInviteByToken(token string) (RoomInvite, error) {
	row := db.conn.QueryRow(
		"SELECT id, token, room_id, inviter_id, created_at FROM room_invites WHERE token = $1 LIMIT 1",
		token,
	)

	var inv RoomInvite
	err := row.Scan(&inv.Id, &inv.Token, &inv.RoomId, &inv.InviterId, &inv.CreatedAt)

	return inv, notFoundOr(err, "room invite")
}

func (db *PgWaxroomRepository) ListInvites(roomId int) ([]RoomInvite, error) {
	rows, err := db.conn.Query(
		"SELECT id, token, room_id, inviter_id, created_at FROM room_invites WHERE room_id = $1 ORDER BY id",
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invites := make([]RoomInvite, 0)
	for rows.Next() {
		var inv RoomInvite
		if err := rows.Scan(&inv.Id, &inv.Token, &inv.RoomId, &inv.InviterId, &inv.CreatedAt); err != nil {
			return nil, err
		}
		invites = append(invites, inv)
	}

	return invites, rows.Err()
}

// RedeemInvite consumes an invite and creates the membership in one
// transaction. Concurrent redemptions serialize on the invite row
// lock; whichever commits second sees no invite and gets ErrNotFound.
func (db *PgWaxroomRepository) RedeemInvite(token string, userId int) (RoomMember, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return RoomMember{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var inviteId, roomId int
	err = tx.QueryRow(
		"SELECT id, room_id FROM room_invites WHERE token = $1 FOR UPDATE",
		token,
	).Scan(&inviteId, &roomId)
	if err != nil {
		err = notFoundOr(err, "room invite")
		return RoomMember{}, err
	}

	_, err = tx.Exec(
		"INSERT INTO room_members (room_id, user_id, owner, created_at) VALUES ($1, $2, FALSE, $3)",
		roomId,
		userId,
		time.Now().UTC(),
	)
	if err != nil {
		err = mapPgError(err)
		return RoomMember{}, err
	}

	_, err = tx.Exec("DELETE FROM room_invites WHERE id = $1", inviteId)
	if err != nil {
		return RoomMember{}, err
	}

	if err = tx.Commit(); err != nil {
		return RoomMember{}, err
	}

	return db.GetMember(roomId, userId)
}

func (db *PgWaxroomRepository) DeleteInvite(inviteId int) error {
	res, err := db.conn.Exec("DELETE FROM room_invites WHERE id = $1", inviteId)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("room invite: %w", ErrNotFound)
	}

	return err
}

func (db *PgWaxroomRepository) CreateStreamKey(params CreateStreamKeyParams) (StreamKey, error) {
	res := db.conn.QueryRow(
		"INSERT INTO stream_keys (token, source, room_id, user_id, created_at) VALUES ($1, $2, $3, $4, $5) "+
			"RETURNING id, token, source, room_id, user_id, created_at",
		params.Token,
		params.Source,
		params.RoomId,
		params.UserId,
		time.Now().UTC(),
	)

	var key StreamKey
	err := res.Scan(&key.Id, &key.Token, &key.Source, &key.RoomId, &key.UserId, &key.CreatedAt)

	return key, mapPgError(err)
}

func (db *PgWaxroomRepository) GetStreamKeyById(keyId int) (StreamKey, error) {
	row := db.conn.QueryRow(
		"SELECT id, token, source, room_id, user_id, created_at FROM stream_keys WHERE id = $1 LIMIT 1",
		keyId,
	)

	var key StreamKey
	err := row.Scan(&key.Id, &key.Token, &key.Source, &key.RoomId, &key.UserId, &key.CreatedAt)

	return key, notFoundOr(err, "stream key")
}

func (db *PgWaxroomRepository) GetStreamKeyByToken(token string) (StreamKey, error) {
	row := db.conn.QueryRow(
		"SELECT id, token, source, room_id, user_id, created_at FROM stream_keys WHERE token = $1 LIMIT 1",
		token,
	)

	var key StreamKey
	err := row.Scan(&key.Id, &key.Token, &key.Source, &key.RoomId, &key.UserId, &key.CreatedAt)

	return key, notFoundOr(err, "stream key")
}

func (db *PgWaxroomRepository) ListStreamKeys(roomId, userId int) ([]StreamKey, error) {
	rows, err := db.conn.Query(
		"SELECT id, token, source, room_id, user_id, created_at FROM stream_keys "+
			"WHERE room_id = $1 AND user_id = $2 ORDER BY id",
		roomId,
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]StreamKey, 0)
	for rows.Next() {
		var key StreamKey
		if err := rows.Scan(&key.Id, &key.Token, &key.Source, &key.RoomId, &key.UserId, &key.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

func (db *PgWaxroomRepository) DeleteStreamKey(keyId int) error {
	res, err := db.conn.Exec("DELETE FROM stream_keys WHERE id = $1", keyId)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("stream key: %w", ErrNotFound)
	}

	return err
}
