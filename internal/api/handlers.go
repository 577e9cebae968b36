package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/teris-io/shortid"

	"github.com/cmorrow/waxroom/internal/database"
)

type RegisterRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type UpdateAccountRequest struct {
	DisplayName string `json:"display_name"`
}

type CreateRoomRequest struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type UpdateRoomRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

type CreateStreamKeyRequest struct {
	Source string `json:"source"`
}

type User struct {
	Id          int       `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Superuser   bool      `json:"superuser,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

type Member struct {
	Id          int    `json:"id"`
	UserId      int    `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Owner       bool   `json:"owner"`
}

type Room struct {
	Id          int       `json:"id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
	Members     []Member  `json:"members,omitempty"`
}

type Invite struct {
	Id        int       `json:"id"`
	Token     string    `json:"token"`
	RoomId    int       `json:"room_id"`
	InviterId int       `json:"inviter_id"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type StreamKey struct {
	Id        int       `json:"id"`
	Token     string    `json:"token"`
	Source    string    `json:"source"`
	RoomId    int       `json:"room_id"`
	UserId    int       `json:"user_id"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type IngestAuthorization struct {
	RoomId int    `json:"room_id"`
	UserId int    `json:"user_id"`
	Source string `json:"source"`
}

func apiUser(u database.User) User {
	return User{
		Id:          u.Id,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Superuser:   u.Superuser,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func apiMember(m database.RoomMember) Member {
	return Member{
		Id:          m.Id,
		UserId:      m.UserId,
		Username:    m.Username,
		DisplayName: m.DisplayName,
		Owner:       m.Owner,
	}
}

func apiRoom(r database.Room) Room {
	room := Room{
		Id:          r.Id,
		Slug:        r.Slug,
		Title:       r.Title,
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	for _, m := range r.Members {
		room.Members = append(room.Members, apiMember(m))
	}

	return room
}

func apiInvite(i database.RoomInvite) Invite {
	return Invite{
		Id:        i.Id,
		Token:     i.Token,
		RoomId:    i.RoomId,
		InviterId: i.InviterId,
		CreatedAt: i.CreatedAt,
	}
}

func apiStreamKey(k database.StreamKey) StreamKey {
	return StreamKey{
		Id:        k.Id,
		Token:     k.Token,
		Source:    k.Source,
		RoomId:    k.RoomId,
		UserId:    k.UserId,
		CreatedAt: k.CreatedAt,
	}
}

func (s *WaxroomApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *WaxroomApp) writeError(w http.ResponseWriter, err error) {
	errResp := s.errorResponse(err)
	if errResp.StatusCode == http.StatusInternalServerError {
		s.log.Printf("internal error: %v", err)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *WaxroomApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Printf("health check: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *WaxroomApp) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Username == "" || req.Password == "" || req.DisplayName == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newUser, err := s.auth.Register(req.Username, req.Password, req.DisplayName)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, apiUser(newUser))
}

func createSessionCookie(token string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookieKey,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

func (s *WaxroomApp) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Username == "" || req.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sess, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}

	user, err := s.db.GetUserById(sess.UserId)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.stats.Incr(sessionsIssuedMetric)
	http.SetCookie(w, createSessionCookie(sess.Token, sess.ExpiresAt))

	s.writeJson(w, http.StatusOK, LoginResult{
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
		User:      apiUser(user),
	})
}

func (s *WaxroomApp) logout(w http.ResponseWriter, r *http.Request) {
	token, err := sessionToken(r)
	if err == nil {
		// Revoking an already-revoked session is a no-op success from
		// the client's perspective, but only a real revocation counts.
		switch err := s.auth.Logout(token); {
		case err == nil:
			s.stats.Incr(sessionsRevokedMetric)
		case !errors.Is(err, database.ErrNotFound):
			s.writeError(w, err)
			return
		}
	}

	http.SetCookie(w, createSessionCookie("", time.Unix(0, 0)))
	w.WriteHeader(http.StatusNoContent)
}

func (s *WaxroomApp) session(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, apiUser(user))
}

func (s *WaxroomApp) updateAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req UpdateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DisplayName == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	updated, err := s.auth.UpdateUser(user.Id, req.DisplayName)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, apiUser(updated))
}

func (s *WaxroomApp) deleteAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.auth.DeleteUser(user.Id); err != nil {
		s.writeError(w, err)
		return
	}

	http.SetCookie(w, createSessionCookie("", time.Unix(0, 0)))
	w.WriteHeader(http.StatusNoContent)
}

func (s *WaxroomApp) generateSlug() (string, error) {
	sid, err := shortid.Generate()
	if err != nil {
		return "", err
	}

	return strings.ToLower(sid), nil
}

func (s *WaxroomApp) createRoom(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	slug := req.Slug
	if slug == "" {
		var err error
		slug, err = s.generateSlug()
		if err != nil {
			s.writeError(w, err)
			return
		}
	}

	room, err := s.rooms.CreateRoom(user.Id, slug, req.Title, req.Description)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, apiRoom(room))
}

func (s *WaxroomApp) listRooms(w http.ResponseWriter, _ *http.Request) {
	dbRooms, err := s.rooms.ListRooms()
	if err != nil {
		s.writeError(w, err)
		return
	}

	roomList := make([]Room, 0, len(dbRooms))
	for _, room := range dbRooms {
		roomList = append(roomList, apiRoom(room))
	}

	s.writeJson(w, http.StatusOK, roomList)
}

func (s *WaxroomApp) getRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.rooms.GetRoom(r.PathValue("slug"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, apiRoom(room))
}

func (s *WaxroomApp) updateRoom(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.rooms.GetRoom(r.PathValue("slug"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req UpdateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// Absent fields keep their current value.
	title := room.Title
	if req.Title != nil {
		title = *req.Title
	}
	description := room.Description
	if req.Description != nil {
		description = *req.Description
	}

	updated, err := s.rooms.UpdateRoom(room.Id, user.Id, title, description)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.hub.Broadcast(RoomEvent{Type: EventRoomUpdated, RoomId: room.Id, UserId: user.Id})
	s.writeJson(w, http.StatusOK, apiRoom(updated))
}

func (s *WaxroomApp) deleteRoom(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.rooms.GetRoom(r.PathValue("slug"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.rooms.DeleteRoom(room.Id, user.Id); err != nil {
		s.writeError(w, err)
		return
	}

	s.hub.Broadcast(RoomEvent{Type: EventRoomDeleted, RoomId: room.Id, UserId: user.Id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *WaxroomApp) leaveRoom(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.rooms.GetRoom(r.PathValue("slug"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.rooms.RemoveMember(room.Id, user.Id); err != nil {
		s.writeError(w, err)
		return
	}

	s.hub.Broadcast(RoomEvent{Type: EventMemberLeft, RoomId: room.Id, UserId: user.Id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *WaxroomApp) removeMember(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	memberId, err := strconv.Atoi(r.PathValue("userId"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.rooms.GetRoom(r.PathValue("slug"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	// Kicking other members is owner-only.
	owner, err := s.rooms.IsOwner(room.Id, user.Id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !owner {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.rooms.RemoveMember(room.Id, memberId); err != nil {
		s.writeError(w, err)
		return
	}

	s.hub.Broadcast(RoomEvent{Type: EventMemberLeft, RoomId: room.Id, UserId: memberId})
	w.WriteHeader(http.StatusNoContent)
}

func (s *WaxroomApp) createInvite(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.rooms.GetRoom(r.PathValue("slug"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	invite, err := s.rooms.CreateInvite(room.Id, user.Id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, apiInvite(invite))
}

func (s *WaxroomApp) listInvites(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.rooms.GetRoom(r.PathValue("slug"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	invites, err := s.rooms.ListInvites(room.Id, user.Id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	inviteList := make([]Invite, 0, len(invites))
	for _, invite := range invites {
		inviteList = append(inviteList, apiInvite(invite))
	}

	s.writeJson(w, http.StatusOK, inviteList)
}

func (s *WaxroomApp) redeemInvite(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	member, err := s.rooms.RedeemInvite(r.PathValue("token"), user.Id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.stats.Incr(inviteRedemptionsMetric)
	s.hub.Broadcast(RoomEvent{Type: EventMemberJoined, RoomId: member.RoomId, UserId: member.UserId})
	s.writeJson(w, http.StatusCreated, apiMember(member))
}

func (s *WaxroomApp) revokeInvite(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	inviteId, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.rooms.RevokeInvite(inviteId, user.Id); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *WaxroomApp) createStreamKey(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateStreamKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Source == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.rooms.GetRoom(r.PathValue("slug"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	key, err := s.rooms.IssueStreamKey(room.Id, user.Id, req.Source)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.hub.Broadcast(RoomEvent{Type: EventKeyIssued, RoomId: room.Id, UserId: user.Id, Source: key.Source})
	s.writeJson(w, http.StatusCreated, apiStreamKey(key))
}

func (s *WaxroomApp) listStreamKeys(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.rooms.GetRoom(r.PathValue("slug"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	keys, err := s.rooms.ListStreamKeys(room.Id, user.Id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	keyList := make([]StreamKey, 0, len(keys))
	for _, key := range keys {
		keyList = append(keyList, apiStreamKey(key))
	}

	s.writeJson(w, http.StatusOK, keyList)
}

func (s *WaxroomApp) revokeStreamKey(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	keyId, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	key, err := s.rooms.RevokeStreamKey(keyId, user.Id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.hub.Broadcast(RoomEvent{Type: EventKeyRevoked, RoomId: key.RoomId, UserId: key.UserId, Source: key.Source})
	w.WriteHeader(http.StatusNoContent)
}

func (s *WaxroomApp) authorizeIngest(w http.ResponseWriter, r *http.Request) {
	key, err := s.rooms.AuthorizeIngest(r.PathValue("token"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.stats.Incr(ingestAuthorizationsMetric)
	s.writeJson(w, http.StatusOK, IngestAuthorization{
		RoomId: key.RoomId,
		UserId: key.UserId,
		Source: key.Source,
	})
}
