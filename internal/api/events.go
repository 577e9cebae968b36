package api

import (
	"log"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	EventMemberJoined = "member_joined"
	EventMemberLeft   = "member_left"
	EventKeyIssued    = "key_issued"
	EventKeyRevoked   = "key_revoked"
	EventRoomUpdated  = "room_updated"
	EventRoomDeleted  = "room_deleted"
)

const (
	eventWriteWait    = 10 * time.Second
	eventPongWait     = 60 * time.Second
	eventPingInterval = (eventPongWait * 9) / 10
)

// RoomEvent is pushed to subscribers of a room's event feed whenever
// the room's membership or stream keys change.
type RoomEvent struct {
	Type      string    `json:"type"`
	RoomId    int       `json:"room_id"`
	UserId    int       `json:"user_id,omitempty"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type subscriber struct {
	roomId int
	events chan RoomEvent
}

// EventHub fans out room events to websocket subscribers. Slow
// subscribers are dropped rather than blocking the sender.
type EventHub struct {
	log  *log.Logger
	lock sync.RWMutex
	subs map[*subscriber]struct{}
}

func NewEventHub(l *log.Logger) *EventHub {
	return &EventHub{
		log:  l,
		subs: make(map[*subscriber]struct{}),
	}
}

func (h *EventHub) Subscribe(roomId int) *subscriber {
	sub := &subscriber{
		roomId: roomId,
		events: make(chan RoomEvent, 32),
	}

	h.lock.Lock()
	h.subs[sub] = struct{}{}
	h.lock.Unlock()

	return sub
}

func (h *EventHub) Unsubscribe(sub *subscriber) {
	h.lock.Lock()
	delete(h.subs, sub)
	h.lock.Unlock()
}

func (h *EventHub) Broadcast(event RoomEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	h.lock.RLock()
	defer h.lock.RUnlock()

	for sub := range h.subs {
		if sub.roomId != event.RoomId {
			continue
		}
		select {
		case sub.events <- event:
		default:
			h.log.Printf("dropping %s event for room %d: subscriber queue full", event.Type, event.RoomId)
		}
	}
}

func (s *WaxroomApp) serveEvents(w http.ResponseWriter, r *http.Request) {
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

	member, err := s.rooms.IsMember(room.Id, user.Id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !member {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(s.allowedOrigins, origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Printf("ws upgrade: %v", err)
		return
	}

	sub := s.hub.Subscribe(room.Id)
	s.stats.Incr(eventConnectionsMetric)

	go s.writeEvents(conn, sub)
	s.readUntilClosed(conn, sub)
}

// readUntilClosed drains the connection so close and pong frames are
// processed, then tears the subscription down.
func (s *WaxroomApp) readUntilClosed(conn *websocket.Conn, sub *subscriber) {
	defer func() {
		s.hub.Unsubscribe(sub)
		close(sub.events)
		s.stats.Decr(eventConnectionsMetric)
		conn.Close()
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(eventPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(eventPongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.log.Printf("ws: read: %v", err)
			}
			return
		}
	}
}

func (s *WaxroomApp) writeEvents(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(eventPingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case event, ok := <-sub.events:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
				conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}

			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				s.log.Printf("ws: write: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
