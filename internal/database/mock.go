package database

import (
	"github.com/stretchr/testify/mock"
)

type MockWaxroomRepository struct {
	mock.Mock
}

func (m *MockWaxroomRepository) HasSuperuser() (bool, error) {
	args := m.Called()
	return args.Bool(0), args.Error(1)
}
func (m *MockWaxroomRepository) CreateUser(params CreateUserParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockWaxroomRepository) GetUserById(userId int) (User, error) {
	args := m.Called(userId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockWaxroomRepository) GetUserByUsername(username string) (User, error) {
	args := m.Called(username)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockWaxroomRepository) UpdateUser(params UpdateUserParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockWaxroomRepository) DeleteUser(userId int) error {
	args := m.Called(userId)
	return args.Error(0)
}
func (m *MockWaxroomRepository) CreateSession(params CreateSessionParams) (Session, error) {
	args := m.Called(params)
	return args.Get(0).(Session), args.Error(1)
}
func (m *MockWaxroomRepository) GetSessionByToken(token string) (Session, error) {
	args := m.Called(token)
	return args.Get(0).(Session), args.Error(1)
}
func (m *MockWaxroomRepository) DeleteSessionByToken(token string) error {
	args := m.Called(token)
	return args.Error(0)
}
func (m *MockWaxroomRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockWaxroomRepository) GetRoomById(roomId int) (Room, error) {
	args := m.Called(roomId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockWaxroomRepository) GetRoomBySlug(slug string) (Room, error) {
	args := m.Called(slug)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockWaxroomRepository) ListRooms() ([]Room, error) {
	args := m.Called()
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockWaxroomRepository) UpdateRoom(params UpdateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockWaxroomRepository) DeleteRoom(roomId int) error {
	args := m.Called(roomId)
	return args.Error(0)
}
func (m *MockWaxroomRepository) CreateMember(params CreateMemberParams) (RoomMember, error) {
	args := m.Called(params)
	return args.Get(0).(RoomMember), args.Error(1)
}
func (m *MockWaxroomRepository) GetMember(roomId, userId int) (RoomMember, error) {
	args := m.Called(roomId, userId)
	return args.Get(0).(RoomMember), args.Error(1)
}
func (m *MockWaxroomRepository) RemoveMember(roomId, userId int) error {
	args := m.Called(roomId, userId)
	return args.Error(0)
}
func (m *MockWaxroomRepository) CreateInvite(params CreateInviteParams) (RoomInvite, error) {
	args := m.Called(params)
	return args.Get(0).(RoomInvite), args.Error(1)
}
func (m *MockWaxroomRepository) GetInviteById(inviteId int) (RoomInvite, error) {
	args := m.Called(inviteId)
	return args.Get(0).(RoomInvite), args.Error(1)
}
func (m *MockWaxroomRepository) GetInviteByToken(token string) (RoomInvite, error) {
	args := m.Called(token)
	return args.Get(0).(RoomInvite), args.Error(1)
}
func (m *MockWaxroomRepository) ListInvites(roomId int) ([]RoomInvite, error) {
	args := m.Called(roomId)
	return args.Get(0).([]RoomInvite), args.Error(1)
}
func (m *MockWaxroomRepository) RedeemInvite(token string, userId int) (RoomMember, error) {
	args := m.Called(token, userId)
	return args.Get(0).(RoomMember), args.Error(1)
}
func (m *MockWaxroomRepository) DeleteInvite(inviteId int) error {
	args := m.Called(inviteId)
	return args.Error(0)
}
func (m *MockWaxroomRepository) CreateStreamKey(params CreateStreamKeyParams) (StreamKey, error) {
	args := m.Called(params)
	return args.Get(0).(StreamKey), args.Error(1)
}
func (m *MockWaxroomRepository) GetStreamKeyById(keyId int) (StreamKey, error) {
	args := m.Called(keyId)
	return args.Get(0).(StreamKey), args.Error(1)
}
func (m *MockWaxroomRepository) GetStreamKeyByToken(token string) (StreamKey, error) {
	args := m.Called(token)
	return args.Get(0).(StreamKey), args.Error(1)
}
func (m *MockWaxroomRepository) ListStreamKeys(roomId, userId int) ([]StreamKey, error) {
	args := m.Called(roomId, userId)
	return args.Get(0).([]StreamKey), args.Error(1)
}
func (m *MockWaxroomRepository) DeleteStreamKey(keyId int) error {
	args := m.Called(keyId)
	return args.Error(0)
}
func (m *MockWaxroomRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockWaxroomRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
