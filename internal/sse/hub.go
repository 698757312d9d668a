package sse

import (
	"sync"

	"github.com/google/uuid"

	"github.com/coursetrail/coursetrail-backend/internal/logger"
)

type Event string

const (
	EventMilestoneReached Event = "MilestoneReached"
	EventCourseCompleted  Event = "CourseCompleted"
)

type Message struct {
	UserID uuid.UUID `json:"user_id"`
	Event  Event     `json:"event"`
	Data   any       `json:"data,omitempty"`
}

type Client struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Outbound chan Message
	done     chan struct{}
}

func (c *Client) Done() <-chan struct{} { return c.done }

// Hub fans notification messages out to the SSE clients of a user connected
// to this instance. Cross-instance delivery goes through the redis bus.
type Hub struct {
	mu      sync.RWMutex
	log     *logger.Logger
	clients map[uuid.UUID]map[*Client]bool
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:     log.With("component", "SSEHub"),
		clients: make(map[uuid.UUID]map[*Client]bool),
	}
}

func (h *Hub) Register(userID uuid.UUID) *Client {
	client := &Client{
		ID:       uuid.New(),
		UserID:   userID,
		Outbound: make(chan Message, 16),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[userID]
	if !ok {
		set = make(map[*Client]bool)
		h.clients[userID] = set
	}
	set[client] = true

	h.log.Debug("SSE client registered", "clientID", client.ID, "userID", userID)
	return client
}

func (h *Hub) Unregister(client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[client.UserID]
	if !ok || !set[client] {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, client.UserID)
	}
	close(client.done)

	h.log.Debug("SSE client unregistered", "clientID", client.ID)
}

// PublishToUser delivers to every connected client of the user. Slow clients
// are skipped rather than blocking the publisher.
func (h *Hub) PublishToUser(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[msg.UserID] {
		select {
		case client.Outbound <- msg:
		default:
			h.log.Warn("SSE client outbound full, dropping message", "clientID", client.ID, "event", msg.Event)
		}
	}
}
