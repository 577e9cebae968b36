package database

import "strings"

type WaxroomRepository interface {
	HasSuperuser() (bool, error)
	CreateUser(params CreateUserParams) (User, error)
	GetUserById(userId int) (User, error)
	GetUserByUsername(username string) (User, error)
	UpdateUser(params UpdateUserParams) (User, error)
	DeleteUser(userId int) error

	CreateSession(params CreateSessionParams) (Session, error)
	GetSessionByToken(token string) (Session, error)
	DeleteSessionByToken(token string) error

	CreateRoom(params CreateRoomParams) (Room, error)
	GetRoomById(roomId int) (Room, error)
	GetRoomBySlug(slug string) (Room, error)
	ListRooms() ([]Room, error)
	UpdateRoom(params UpdateRoomParams) (Room, error)
	DeleteRoom(roomId int) error

	CreateMember(params CreateMemberParams) (RoomMember, error)
	GetMember(roomId, userId int) (RoomMember, error)
	RemoveMember(roomId, userId int) error

	CreateInvite(params CreateInviteParams) (RoomInvite, error)
	GetInviteById(inviteId int) (RoomInvite, error)
	GetInviteByToken(token string) (RoomInvite, error)
	ListInvites(roomId int) ([]RoomInvite, error)
	RedeemInvite(token string, userId int) (RoomMember, error)
	DeleteInvite(inviteId int) error

	CreateStreamKey(params CreateStreamKeyParams) (StreamKey, error)
	GetStreamKeyById(keyId int) (StreamKey, error)
	GetStreamKeyByToken(token string) (StreamKey, error)
	ListStreamKeys(roomId, userId int) ([]StreamKey, error)
	DeleteStreamKey(keyId int) error

	Ping() error
	Close() error
}

// NewRepository opens a store based on the DSN scheme: "sqlite:" paths
// use the embedded sqlite store, anything else is treated as a
// postgres connection string.
func NewRepository(dsn string) (WaxroomRepository, error) {
	if path, ok := strings.CutPrefix(dsn, "sqlite:"); ok {
		return NewSqliteWaxroomRepository(path)
	}
	return NewPgWaxroomRepository(dsn)
}
