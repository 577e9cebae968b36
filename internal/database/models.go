package database

import "time"

type User struct {
	Id          int
	Username    string
	Password    string
	DisplayName string
	Superuser   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// A session is immutable once issued; validity is derived from
// ExpiresAt at lookup time.
type Session struct {
	Id        int
	Token     string
	UserId    int
	ExpiresAt time.Time
	CreatedAt time.Time
}

type Room struct {
	Id          int
	Slug        string
	Title       string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Members     []RoomMember
}

type RoomMember struct {
	Id          int
	RoomId      int
	UserId      int
	Owner       bool
	Username    string
	DisplayName string
	CreatedAt   time.Time
}

type RoomInvite struct {
	Id        int
	Token     string
	RoomId    int
	InviterId int
	CreatedAt time.Time
}

type StreamKey struct {
	Id        int
	Token     string
	Source    string
	RoomId    int
	UserId    int
	CreatedAt time.Time
}

type CreateUserParams struct {
	Username    string
	Password    string
	DisplayName string
	Superuser   bool
}

type UpdateUserParams struct {
	UserId      int
	DisplayName string
}

type CreateSessionParams struct {
	Token     string
	UserId    int
	ExpiresAt time.Time
}

type CreateRoomParams struct {
	Slug        string
	Title       string
	Description string
	OwnerId     int
}

type UpdateRoomParams struct {
	RoomId      int
	Title       string
	Description string
}

type CreateMemberParams struct {
	RoomId int
	UserId int
	Owner  bool
}

type CreateInviteParams struct {
	Token     string
	RoomId    int
	InviterId int
}

type CreateStreamKeyParams struct {
	Token  string
	Source string
	RoomId int
	UserId int
}
