package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SqliteWaxroomRepository is a single-file store used for local
// development and tests. It exposes the same contract as the postgres
// store, including the constraint-to-error mapping.
type SqliteWaxroomRepository struct {
	conn *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	password TEXT NOT NULL,
	display_name TEXT NOT NULL,
	superuser BOOLEAN NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	token TEXT NOT NULL UNIQUE,
	user_id INTEGER NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	expires_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS rooms (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	slug TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS room_members (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id INTEGER NOT NULL REFERENCES rooms (id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	owner BOOLEAN NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	UNIQUE (user_id, room_id)
);

CREATE TABLE IF NOT EXISTS room_invites (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	token TEXT NOT NULL UNIQUE,
	room_id INTEGER NOT NULL REFERENCES rooms (id) ON DELETE CASCADE,
	inviter_id INTEGER NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS stream_keys (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	token TEXT NOT NULL UNIQUE,
	source TEXT NOT NULL,
	room_id INTEGER NOT NULL REFERENCES rooms (id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	created_at TIMESTAMP NOT NULL,
	UNIQUE (source, room_id, user_id)
);
`

func NewSqliteWaxroomRepository(path string) (*SqliteWaxroomRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// A single connection keeps in-memory databases coherent and
	// serializes writes the way sqlite expects.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, err
	}

	return &SqliteWaxroomRepository{conn: db}, nil
}

func (db *SqliteWaxroomRepository) Ping() error {
	return db.conn.Ping()
}

func (db *SqliteWaxroomRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// mapSqliteError translates constraint violations into the store error
// taxonomy, mirroring mapPgError.
func mapSqliteError(err error) error {
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("unique constraint: %w", ErrConflict)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("foreign key constraint: %w", ErrNotFound)
		}
	}
	return err
}

func (db *SqliteWaxroomRepository) HasSuperuser() (bool, error) {
	var one int
	err := db.conn.QueryRow("SELECT 1 FROM users WHERE superuser LIMIT 1").Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	return err == nil, err
}

func (db *SqliteWaxroomRepository) CreateUser(params CreateUserParams) (User, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRow(
		"INSERT INTO users (username, password, display_name, superuser, created_at, updated_at) "+
			"VALUES (?, ?, ?, ?, ?, ?) "+
			"RETURNING id, username, password, display_name, superuser, created_at, updated_at",
		params.Username,
		params.Password,
		params.DisplayName,
		params.Superuser,
		now,
		now,
	)

	var u User
	err := res.Scan(&u.Id, &u.Username, &u.Password, &u.DisplayName, &u.Superuser, &u.CreatedAt, &u.UpdatedAt)

	return u, mapSqliteError(err)
}

func (db *SqliteWaxroomRepository) GetUserById(userId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, password, display_name, superuser, created_at, updated_at "+
			"FROM users WHERE id = ? LIMIT 1",
		userId,
	)

	var u User
	err := row.Scan(&u.Id, &u.Username, &u.Password, &u.DisplayName, &u.Superuser, &u.CreatedAt, &u.UpdatedAt)

	return u, notFoundOr(err, "user")
}

func (db *SqliteWaxroomRepository) GetUserByUsername(username string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, password, display_name, superuser, created_at, updated_at "+
			"FROM users WHERE username = ? LIMIT 1",
		username,
	)

	var u User
	err := row.Scan(&u.Id, &u.Username, &u.Password, &u.DisplayName, &u.Superuser, &u.CreatedAt, &u.UpdatedAt)

	return u, notFoundOr(err, "user")
}

func (db *SqliteWaxroomRepository) UpdateUser(params UpdateUserParams) (User, error) {
	res := db.conn.QueryRow(
		"UPDATE users SET display_name = ?, updated_at = ? WHERE id = ? "+
			"RETURNING id, username, password, display_name, superuser, created_at, updated_at",
		params.DisplayName,
		time.Now().UTC(),
		params.UserId,
	)

	var u User
	err := res.Scan(&u.Id, &u.Username, &u.Password, &u.DisplayName, &u.Superuser, &u.CreatedAt, &u.UpdatedAt)

	return u, notFoundOr(err, "user")
}

func (db *SqliteWaxroomRepository) DeleteUser(userId int) error {
	res, err := db.conn.Exec("DELETE FROM users WHERE id = ?", userId)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("user: %w", ErrNotFound)
	}

	return err
}

func (db *SqliteWaxroomRepository) CreateSession(params CreateSessionParams) (Session, error) {
	res := db.conn.QueryRow(
		"INSERT INTO sessions (token, user_id, expires_at, created_at) VALUES (?, ?, ?, ?) "+
			"RETURNING id, token, user_id, expires_at, created_at",
		params.Token,
		params.UserId,
		params.ExpiresAt,
		time.Now().UTC(),
	)

	var s Session
	err := res.Scan(&s.Id, &s.Token, &s.UserId, &s.ExpiresAt, &s.CreatedAt)

	return s, mapSqliteError(err)
}

func (db *SqliteWaxroomRepository) GetSessionByToken(token string) (Session, error) {
	row := db.conn.QueryRow(
		"SELECT id, token, user_id, expires_at, created_at FROM sessions WHERE token = ? LIMIT 1",
		token,
	)

	var s Session
	err := row.Scan(&s.Id, &s.Token, &s.UserId, &s.ExpiresAt, &s.CreatedAt)

	return s, notFoundOr(err, "session")
}

func (db *SqliteWaxroomRepository) DeleteSessionByToken(token string) error {
	res, err := db.conn.Exec("DELETE FROM sessions WHERE token = ?", token)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("session: %w", ErrNotFound)
	}

	return err
}

func (db *SqliteWaxroomRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res := tx.QueryRow(
		"INSERT INTO rooms (slug, title, description, created_at, updated_at) "+
			"VALUES (?, ?, ?, ?, ?) "+
			"RETURNING id, slug, title, description, created_at, updated_at",
		params.Slug,
		params.Title,
		params.Description,
		now,
		now,
	)

	var room Room
	err = res.Scan(&room.Id, &room.Slug, &room.Title, &room.Description, &room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		return Room{}, mapSqliteError(err)
	}

	_, err = tx.Exec(
		"INSERT INTO room_members (room_id, user_id, owner, created_at) VALUES (?, ?, 1, ?)",
		room.Id,
		params.OwnerId,
		now,
	)
	if err != nil {
		return Room{}, mapSqliteError(err)
	}

	if err = tx.Commit(); err != nil {
		return Room{}, err
	}

	return db.GetRoomById(room.Id)
}

func (db *SqliteWaxroomRepository) roomMembers(roomId int) ([]RoomMember, error) {
	rows, err := db.conn.Query(
		"SELECT m.id, m.room_id, m.user_id, m.owner, m.created_at, u.username, u.display_name "+
			"FROM room_members m JOIN users u ON m.user_id = u.id WHERE m.room_id = ?",
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

func (db *SqliteWaxroomRepository) GetRoomById(roomId int) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, slug, title, description, created_at, updated_at FROM rooms WHERE id = ? LIMIT 1",
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

func (db *SqliteWaxroomRepository) GetRoomBySlug(slug string) (Room, error) {
	var roomId int
	err := db.conn.QueryRow("SELECT id FROM rooms WHERE slug = ? LIMIT 1", slug).Scan(&roomId)
	if err != nil {
		return Room{}, notFoundOr(err, "room")
	}

	return db.GetRoomById(roomId)
}

func (db *SqliteWaxroomRepository) ListRooms() ([]Room, error) {
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
	rows.Close()

	for i := range rooms {
		rooms[i].Members, err = db.roomMembers(rooms[i].Id)
		if err != nil {
			return nil, err
		}
	}

	return rooms, nil
}

func (db *SqliteWaxroomRepository) UpdateRoom(params UpdateRoomParams) (Room, error) {
	res, err := db.conn.Exec(
		"UPDATE rooms SET title = ?, description = ?, updated_at = ? WHERE id = ?",
		params.Title,
		params.Description,
		time.Now().UTC(),
		params.RoomId,
	)
	if err != nil {
		return Room{}, err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Room{}, fmt.Errorf("room: %w", ErrNotFound)
	}

	return db.GetRoomById(params.RoomId)
}

func (db *SqliteWaxroomRepository) DeleteRoom(roomId int) error {
	res, err := db.conn.Exec("DELETE FROM rooms WHERE id = ?", roomId)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("room: %w", ErrNotFound)
	}

	return err
}

func (db *SqliteWaxroomRepository) CreateMember(params CreateMemberParams) (RoomMember, error) {
	_, err := db.conn.Exec(
		"INSERT INTO room_members (room_id, user_id, owner, created_at) VALUES (?, ?, ?, ?)",
		params.RoomId,
		params.UserId,
		params.Owner,
		time.Now().UTC(),
	)
	if err != nil {
		return RoomMember{}, mapSqliteError(err)
	}

	return db.GetMember(params.RoomId, params.UserId)
}

func (db *SqliteWaxroomRepository) GetMember(roomId, userId int) (RoomMember, error) {
	row := db.conn.QueryRow(
		"SELECT m.id, m.room_id, m.user_id, m.owner, m.created_at, u.username, u.display_name "+
			"FROM room_members m JOIN users u ON m.user_id = u.id "+
			"WHERE m.room_id = ? AND m.user_id = ? LIMIT 1",
		roomId,
		userId,
	)

	var m RoomMember
	err := row.Scan(&m.Id, &m.RoomId, &m.UserId, &m.Owner, &m.CreatedAt, &m.Username, &m.DisplayName)

	return m, notFoundOr(err, "room member")
}

func (db *SqliteWaxroomRepository) RemoveMember(roomId, userId int) error {
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
	err = tx.QueryRow("SELECT id FROM rooms WHERE id = ?", roomId).Scan(&lockedRoomId)
	if err != nil {
		err = notFoundOr(err, "room")
		return err
	}

	rows, err := tx.Query("SELECT user_id, owner FROM room_members WHERE room_id = ?", roomId)
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

	_, err = tx.Exec("DELETE FROM room_members WHERE room_id = ? AND user_id = ?", roomId, userId)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *SqliteWaxroomRepository) CreateInvite(params CreateInviteParams) (RoomInvite, error) {
	res := db.conn.QueryRow(
		"INSERT INTO room_invites (token, room_id, inviter_id, created_at) VALUES (?, ?, ?, ?) "+
			"RETURNING id, token, room_id, inviter_id, created_at",
		params.Token,
		params.RoomId,
		params.InviterId,
		time.Now().UTC(),
	)

	var inv RoomInvite
	err := res.Scan(&inv.Id, &inv.Token, &inv.RoomId, &inv.InviterId, &inv.CreatedAt)

	return inv, mapSqliteError(err)
}

func (db *SqliteWaxroomRepository) GetInviteById(inviteId int) (RoomInvite, error) {
	row := db.conn.QueryRow(
		"SELECT id, token, room_id, inviter_id, created_at FROM room_invites WHERE id = ? LIMIT 1",
		inviteId,
	)

	var inv RoomInvite
	err := row.Scan(&inv.Id, &inv.Token, &inv.RoomId, &inv.InviterId, &inv.CreatedAt)

	return inv, notFoundOr(err, "room invite")
}

func (db *SqliteWaxroomRepository) GetInviteByToken(token string) (RoomInvite, error) {
	row := db.conn.QueryRow(
		"SELECT id, token, room_id, inviter_id, created_at FROM room_invites WHERE token = ? LIMIT 1",
		token,
	)

	var inv RoomInvite
	err := row.Scan(&inv.Id, &inv.Token, &inv.RoomId, &inv.InviterId, &inv.CreatedAt)

	return inv, notFoundOr(err, "room invite")
}

func (db *SqliteWaxroomRepository) ListInvites(roomId int) ([]RoomInvite, error) {
	rows, err := db.conn.Query(
		"SELECT id, token, room_id, inviter_id, created_at FROM room_invites WHERE room_id = ? ORDER BY id",
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

func (db *SqliteWaxroomRepository) RedeemInvite(token string, userId int) (RoomMember, error) {
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
	err = tx.QueryRow("SELECT id, room_id FROM room_invites WHERE token = ?", token).Scan(&inviteId, &roomId)
	if err != nil {
		err = notFoundOr(err, "room invite")
		return RoomMember{}, err
	}

	_, err = tx.Exec(
		"INSERT INTO room_members (room_id, user_id, owner, created_at) VALUES (?, ?, 0, ?)",
		roomId,
		userId,
		time.Now().UTC(),
	)
	if err != nil {
		err = mapSqliteError(err)
		return RoomMember{}, err
	}

	_, err = tx.Exec("DELETE FROM room_invites WHERE id = ?", inviteId)
	if err != nil {
		return RoomMember{}, err
	}

	if err = tx.Commit(); err != nil {
		return RoomMember{}, err
	}

	return db.GetMember(roomId, userId)
}

func (db *SqliteWaxroomRepository) DeleteInvite(inviteId int) error {
	res, err := db.conn.Exec("DELETE FROM room_invites WHERE id = ?", inviteId)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("room invite: %w", ErrNotFound)
	}

	return err
}

func (db *SqliteWaxroomRepository) CreateStreamKey(params CreateStreamKeyParams) (StreamKey, error) {
	res := db.conn.QueryRow(
		"INSERT INTO stream_keys (token, source, room_id, user_id, created_at) VALUES (?, ?, ?, ?, ?) "+
			"RETURNING id, token, source, room_id, user_id, created_at",
		params.Token,
		params.Source,
		params.RoomId,
		params.UserId,
		time.Now().UTC(),
	)

	var key StreamKey
	err := res.Scan(&key.Id, &key.Token, &key.Source, &key.RoomId, &key.UserId, &key.CreatedAt)

	return key, mapSqliteError(err)
}

func (db *SqliteWaxroomRepository) GetStreamKeyById(keyId int) (StreamKey, error) {
	row := db.conn.QueryRow(
		"SELECT id, token, source, room_id, user_id, created_at FROM stream_keys WHERE id = ? LIMIT 1",
		keyId,
	)

	var key StreamKey
	err := row.Scan(&key.Id, &key.Token, &key.Source, &key.RoomId, &key.UserId, &key.CreatedAt)

	return key, notFoundOr(err, "stream key")
}

func (db *SqliteWaxroomRepository) GetStreamKeyByToken(token string) (StreamKey, error) {
	row := db.conn.QueryRow(
		"SELECT id, token, source, room_id, user_id, created_at FROM stream_keys WHERE token = ? LIMIT 1",
		token,
	)

	var key StreamKey
	err := row.Scan(&key.Id, &key.Token, &key.Source, &key.RoomId, &key.UserId, &key.CreatedAt)

	return key, notFoundOr(err, "stream key")
}

func (db *SqliteWaxroomRepository) ListStreamKeys(roomId, userId int) ([]StreamKey, error) {
	rows, err := db.conn.Query(
		"SELECT id, token, source, room_id, user_id, created_at FROM stream_keys "+
			"WHERE room_id = ? AND user_id = ? ORDER BY id",
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

func (db *SqliteWaxroomRepository) DeleteStreamKey(keyId int) error {
	res, err := db.conn.Exec("DELETE FROM stream_keys WHERE id = ?", keyId)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("stream key: %w", ErrNotFound)
	}

	return err
}
