package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cmorrow/waxroom/internal/testutil"
)

func TestEventHubBroadcast(t *testing.T) {
	hub := NewEventHub(testutil.TestLogger(t))

	sub := hub.Subscribe(1)
	other := hub.Subscribe(2)
	defer hub.Unsubscribe(sub)
	defer hub.Unsubscribe(other)

	hub.Broadcast(RoomEvent{Type: EventMemberJoined, RoomId: 1, UserId: 7})

	select {
	case event := <-sub.events:
		assert.Equal(t, EventMemberJoined, event.Type)
		assert.Equal(t, 1, event.RoomId)
		assert.Equal(t, 7, event.UserId)
		assert.False(t, event.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected event for room 1")
	}

	select {
	case event := <-other.events:
		t.Fatalf("unexpected event for room 2: %+v", event)
	default:
	}
}

func TestEventHubUnsubscribe(t *testing.T) {
	hub := NewEventHub(testutil.TestLogger(t))

	sub := hub.Subscribe(1)
	hub.Unsubscribe(sub)

	hub.Broadcast(RoomEvent{Type: EventKeyIssued, RoomId: 1})

	select {
	case event := <-sub.events:
		t.Fatalf("unexpected event after unsubscribe: %+v", event)
	default:
	}
}

func TestEventHubDropsSlowSubscriber(t *testing.T) {
	hub := NewEventHub(testutil.TestLogger(t))

	sub := hub.Subscribe(1)
	defer hub.Unsubscribe(sub)

	// Fill the queue past capacity; the overflow is dropped rather
	// than blocking the broadcaster.
	for i := 0; i < cap(sub.events)+10; i++ {
		hub.Broadcast(RoomEvent{Type: EventMemberLeft, RoomId: 1, UserId: i})
	}

	assert.Equal(t, cap(sub.events), len(sub.events))
}
