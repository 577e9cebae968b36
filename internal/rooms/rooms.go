// Package rooms implements the room registry, the invite service, and
// stream-ingestion authorization over the shared store.
package rooms

import (
	"errors"
	"fmt"
	"log"

	"github.com/cmorrow/waxroom/internal/database"
	"github.com/cmorrow/waxroom/internal/token"
)

var (
	// ErrNotAuthorized means the requester is authenticated but lacks
	// the membership or ownership the action requires.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrInvalidStreamKey covers unknown and revoked ingest tokens.
	ErrInvalidStreamKey = errors.New("invalid stream key")
)

type RoomService struct {
	log *log.Logger
	db  database.WaxroomRepository
}

func NewRoomService(logger *log.Logger, db database.WaxroomRepository) *RoomService {
	return &RoomService{
		log: logger,
		db:  db,
	}
}

// CreateRoom creates a room with the creator as its first owning
// member, atomically.
func (s *RoomService) CreateRoom(ownerId int, slug, title, description string) (database.Room, error) {
	return s.db.CreateRoom(database.CreateRoomParams{
		Slug:        slug,
		Title:       title,
		Description: description,
		OwnerId:     ownerId,
	})
}

func (s *RoomService) GetRoom(slug string) (database.Room, error) {
	return s.db.GetRoomBySlug(slug)
}

func (s *RoomService) ListRooms() ([]database.Room, error) {
	return s.db.ListRooms()
}

func (s *RoomService) UpdateRoom(roomId, requesterId int, title, description string) (database.Room, error) {
	if err := s.requireOwner(roomId, requesterId); err != nil {
		return database.Room{}, err
	}

	return s.db.UpdateRoom(database.UpdateRoomParams{
		RoomId:      roomId,
		Title:       title,
		Description: description,
	})
}

// DeleteRoom destroys the room and everything scoped to it.
func (s *RoomService) DeleteRoom(roomId, requesterId int) error {
	if err := s.requireOwner(roomId, requesterId); err != nil {
		return err
	}

	return s.db.DeleteRoom(roomId)
}

func (s *RoomService) AddMember(roomId, userId int, owner bool) (database.RoomMember, error) {
	return s.db.CreateMember(database.CreateMemberParams{
		RoomId: roomId,
		UserId: userId,
		Owner:  owner,
	})
}

// RemoveMember deletes a membership. Removing the last owner of a room
// that still has other members is refused with ErrLastOwner. Live
// stream keys held by the removed member are NOT revoked; the caller
// decides whether to revoke them.
func (s *RoomService) RemoveMember(roomId, userId int) error {
	return s.db.RemoveMember(roomId, userId)
}

func (s *RoomService) IsMember(roomId, userId int) (bool, error) {
	_, err := s.db.GetMember(roomId, userId)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}

	return err == nil, err
}

func (s *RoomService) IsOwner(roomId, userId int) (bool, error) {
	member, err := s.db.GetMember(roomId, userId)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return member.Owner, nil
}

// CreateInvite issues a single-use join token. Only members may
// invite.
func (s *RoomService) CreateInvite(roomId, inviterId int) (database.RoomInvite, error) {
	if err := s.requireMember(roomId, inviterId); err != nil {
		return database.RoomInvite{}, err
	}

	tok, err := token.New()
	if err != nil {
		return database.RoomInvite{}, fmt.Errorf("generate invite token: %w", err)
	}

	return s.db.CreateInvite(database.CreateInviteParams{
		Token:     tok,
		RoomId:    roomId,
		InviterId: inviterId,
	})
}

// RedeemInvite consumes the invite and adds the user as a non-owning
// member in one transaction.
func (s *RoomService) RedeemInvite(tok string, userId int) (database.RoomMember, error) {
	return s.db.RedeemInvite(tok, userId)
}

// RevokeInvite deletes an unredeemed invite. Allowed for the inviter
// and for room owners.
func (s *RoomService) RevokeInvite(inviteId, requesterId int) error {
	invite, err := s.db.GetInviteById(inviteId)
	if err != nil {
		return err
	}

	if invite.InviterId != requesterId {
		owner, err := s.IsOwner(invite.RoomId, requesterId)
		if err != nil {
			return err
		}
		if !owner {
			return ErrNotAuthorized
		}
	}

	return s.db.DeleteInvite(invite.Id)
}

func (s *RoomService) ListInvites(roomId, requesterId int) ([]database.RoomInvite, error) {
	if err := s.requireMember(roomId, requesterId); err != nil {
		return nil, err
	}

	return s.db.ListInvites(roomId)
}

// IssueStreamKey creates an ingestion credential for a member. At most
// one live key may exist per (source, room, user).
func (s *RoomService) IssueStreamKey(roomId, userId int, source string) (database.StreamKey, error) {
	if err := s.requireMember(roomId, userId); err != nil {
		return database.StreamKey{}, err
	}

	tok, err := token.New()
	if err != nil {
		return database.StreamKey{}, fmt.Errorf("generate stream key token: %w", err)
	}

	return s.db.CreateStreamKey(database.CreateStreamKeyParams{
		Token:  tok,
		Source: source,
		RoomId: roomId,
		UserId: userId,
	})
}

// AuthorizeIngest resolves an ingest token to its key. This is a pure
// lookup: membership is not re-checked, so a key stays valid after the
// member leaves until it is explicitly revoked.
func (s *RoomService) AuthorizeIngest(tok string) (database.StreamKey, error) {
	key, err := s.db.GetStreamKeyByToken(tok)
	if errors.Is(err, database.ErrNotFound) {
		return database.StreamKey{}, ErrInvalidStreamKey
	}

	return key, err
}

// RevokeStreamKey deletes a key and returns it so callers can report
// what was revoked. Allowed for the key's owner and for room owners.
func (s *RoomService) RevokeStreamKey(keyId, requesterId int) (database.StreamKey, error) {
	key, err := s.db.GetStreamKeyById(keyId)
	if err != nil {
		return database.StreamKey{}, err
	}

	if key.UserId != requesterId {
		owner, err := s.IsOwner(key.RoomId, requesterId)
		if err != nil {
			return database.StreamKey{}, err
		}
		if !owner {
			return database.StreamKey{}, ErrNotAuthorized
		}
	}

	return key, s.db.DeleteStreamKey(key.Id)
}

func (s *RoomService) ListStreamKeys(roomId, userId int) ([]database.StreamKey, error) {
	return s.db.ListStreamKeys(roomId, userId)
}

func (s *RoomService) requireMember(roomId, userId int) error {
	member, err := s.IsMember(roomId, userId)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotAuthorized
	}

	return nil
}

func (s *RoomService) requireOwner(roomId, userId int) error {
	owner, err := s.IsOwner(roomId, userId)
	if err != nil {
		return err
	}
	if !owner {
		return ErrNotAuthorized
	}

	return nil
}
