package sse

import (
	"testing"

	"github.com/google/uuid"

	"github.com/coursetrail/coursetrail-backend/internal/logger"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewHub(log)
}

func TestHub_PublishReachesAllClientsOfUser(t *testing.T) {
	hub := newTestHub(t)
	userID := uuid.New()
	otherID := uuid.New()

	c1 := hub.Register(userID)
	c2 := hub.Register(userID)
	other := hub.Register(otherID)

	hub.PublishToUser(Message{UserID: userID, Event: EventMilestoneReached, Data: 50})

	for i, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.Outbound:
			if msg.Event != EventMilestoneReached {
				t.Fatalf("client %d event = %s", i, msg.Event)
			}
		default:
			t.Fatalf("client %d received nothing", i)
		}
	}
	select {
	case msg := <-other.Outbound:
		t.Fatalf("other user received %+v", msg)
	default:
	}
}

func TestHub_UnregisterStopsDeliveryAndClosesDone(t *testing.T) {
	hub := newTestHub(t)
	userID := uuid.New()
	c := hub.Register(userID)

	hub.Unregister(c)
	select {
	case <-c.Done():
	default:
		t.Fatalf("done not closed after unregister")
	}

	hub.PublishToUser(Message{UserID: userID, Event: EventCourseCompleted})
	select {
	case msg := <-c.Outbound:
		t.Fatalf("unregistered client received %+v", msg)
	default:
	}

	// Unregistering twice must not panic or close done again.
	hub.Unregister(c)
	hub.Unregister(nil)
}

func TestHub_SlowClientDoesNotBlockPublisher(t *testing.T) {
	hub := newTestHub(t)
	userID := uuid.New()
	c := hub.Register(userID)

	// Fill the outbound buffer and keep publishing; the publisher must
	// drop instead of blocking.
	for i := 0; i < cap(c.Outbound)+10; i++ {
		hub.PublishToUser(Message{UserID: userID, Event: EventMilestoneReached, Data: i})
	}
	if len(c.Outbound) != cap(c.Outbound) {
		t.Fatalf("outbound len = %d, want full buffer %d", len(c.Outbound), cap(c.Outbound))
	}
}
