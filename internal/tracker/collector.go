package tracker

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coursetrail/coursetrail-backend/internal/events"
	"github.com/coursetrail/coursetrail-backend/internal/logger"
)

type CollectorConfig struct {
	ThrottleInterval time.Duration
	MinDelta         float64
}

func (c *CollectorConfig) withDefaults() {
	if c.ThrottleInterval <= 0 {
		c.ThrottleInterval = 10 * time.Second
	}
	if c.MinDelta <= 0 {
		c.MinDelta = 0.02
	}
}

// ProgressExtra carries the context a playback tick can't infer on its own.
type ProgressExtra struct {
	CourseID      uuid.UUID
	ChapterID     uuid.UUID
	PlayedSeconds float64
	Duration      float64
}

// SavedPosition is the client-local resume point for one (course, chapter)
// pair. It expires with the store's retention window.
type SavedPosition struct {
	EntityID  uuid.UUID `json:"entity_id"`
	Seconds   float64   `json:"seconds"`
	Timestamp time.Time `json:"timestamp"`
}

type entityState struct {
	liveFraction  float64
	liveExtra     ProgressExtra
	lastPersisted float64
	lastPersistAt time.Time
	everPersisted bool
	unthrottled   bool
}

// Collector turns noisy playback signals into a small number of storable
// events. RecordProgress returns immediately: the in-memory value always
// reflects the latest tick, persisted writes are throttled by interval and
// minimum delta, and Close flushes the tail so nothing meaningful is lost.
type Collector struct {
	log        *logger.Logger
	store      LocalStore
	dispatcher *Dispatcher
	userID     uuid.UUID
	cfg        CollectorConfig

	mu       sync.Mutex
	entities map[uuid.UUID]*entityState
	degraded bool
	now      func() time.Time
}

func NewCollector(baseLog *logger.Logger, store LocalStore, dispatcher *Dispatcher, userID uuid.UUID, cfg CollectorConfig) *Collector {
	cfg.withDefaults()
	return &Collector{
		log:        baseLog.With("component", "Collector"),
		store:      store,
		dispatcher: dispatcher,
		userID:     userID,
		cfg:        cfg,
		entities:   make(map[uuid.UUID]*entityState),
		now:        time.Now,
	}
}

// RecordProgress updates the live value immediately and persists at most
// once per throttle interval, and only when the fraction moved by at least
// the configured delta. Entities that already saw a completion stay
// unthrottled for the rest of the session.
func (c *Collector) RecordProgress(entityID uuid.UUID, fraction float64, extra ProgressExtra) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.entities[entityID]
	if !ok {
		st = &entityState{}
		c.entities[entityID] = st
	}
	st.liveFraction = fraction
	st.liveExtra = extra

	now := c.now()
	if !st.unthrottled && st.everPersisted {
		if now.Sub(st.lastPersistAt) < c.cfg.ThrottleInterval {
			return
		}
		if fraction-st.lastPersisted < c.cfg.MinDelta {
			return
		}
	}
	c.persistLocked(entityID, st, now, false)
}

// RecordCompletion bypasses throttling and asks for an immediate flush.
func (c *Collector) RecordCompletion(entityID uuid.UUID, extra ProgressExtra) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.entities[entityID]
	if !ok {
		st = &entityState{}
		c.entities[entityID] = st
	}
	st.liveFraction = 1
	st.liveExtra = extra
	st.unthrottled = true

	now := c.now()
	st.lastPersisted = 1
	st.lastPersistAt = now
	st.everPersisted = true
	c.writePosition(entityID, extra, now)

	e := events.ProgressEvent{
		ID:         uuid.New(),
		UserID:     c.userID,
		EntityID:   entityID,
		EntityType: events.EntityChapter,
		Type:       events.TypeChapterCompleted,
		Timestamp:  now,
		ChapterCompleted: &events.ChapterCompletedPayload{
			CourseID:         extra.CourseID,
			ChapterID:        extra.ChapterID,
			TimeSpentSeconds: int(extra.PlayedSeconds),
		},
	}
	c.dispatcher.EnqueueUrgent(e)
}

// Flush performs the exit guarantee: if the live value differs from the
// last persisted one, exactly one unthrottled write goes out.
func (c *Collector) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for entityID, st := range c.entities {
		if st.everPersisted && st.liveFraction == st.lastPersisted {
			continue
		}
		c.persistLocked(entityID, st, now, true)
	}
}

// Close flushes the tail; the dispatcher keeps running independently and
// owns final delivery.
func (c *Collector) Close() {
	c.Flush()
}

// Position returns the saved resume point for an entity, if one is stored
// and not expired.
func (c *Collector) Position(entityID uuid.UUID) (SavedPosition, bool) {
	raw, ok := c.store.Get(positionKey(entityID))
	if !ok {
		return SavedPosition{}, false
	}
	var pos SavedPosition
	if err := json.Unmarshal(raw, &pos); err != nil {
		c.store.Delete(positionKey(entityID))
		return SavedPosition{}, false
	}
	return pos, true
}

func (c *Collector) persistLocked(entityID uuid.UUID, st *entityState, now time.Time, urgent bool) {
	st.lastPersisted = st.liveFraction
	st.lastPersistAt = now
	st.everPersisted = true

	c.writePosition(entityID, st.liveExtra, now)

	e := events.ProgressEvent{
		ID:          uuid.New(),
		UserID:      c.userID,
		EntityID:    entityID,
		EntityType:  events.EntityVideo,
		Type:        events.TypeVideoWatched,
		Timestamp:   now,
		DebounceKey: "progress:" + entityID.String(),
		VideoWatched: &events.VideoWatchedPayload{
			CourseID:      st.liveExtra.CourseID,
			ChapterID:     st.liveExtra.ChapterID,
			Progress:      st.liveFraction,
			PlayedSeconds: st.liveExtra.PlayedSeconds,
			Duration:      st.liveExtra.Duration,
		},
	}
	if urgent {
		c.dispatcher.EnqueueUrgent(e)
	} else {
		c.dispatcher.Enqueue(e)
	}
}

// writePosition is best-effort: a quota or store failure switches to
// memory-only operation for the rest of the session and is never surfaced
// to the recording caller.
func (c *Collector) writePosition(entityID uuid.UUID, extra ProgressExtra, now time.Time) {
	if c.degraded {
		return
	}
	pos := SavedPosition{
		EntityID:  entityID,
		Seconds:   extra.PlayedSeconds,
		Timestamp: now,
	}
	raw, err := json.Marshal(pos)
	if err != nil {
		return
	}
	switch c.store.Set(positionKey(entityID), raw) {
	case WriteOk:
	case WriteQuotaExceeded:
		c.log.Warn("local store quota exceeded, continuing in memory only", "entityID", entityID)
		c.degraded = true
	case WriteUnavailable:
		c.log.Warn("local store unavailable, continuing in memory only", "entityID", entityID)
		c.degraded = true
	}
}

func positionKey(entityID uuid.UUID) string {
	return "position:" + entityID.String()
}
