package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/coursetrail/coursetrail-backend/internal/logger"
	"github.com/coursetrail/coursetrail-backend/internal/sse"
)

var DefaultMilestoneThresholds = []int{25, 50, 75, 100}

type MilestoneNotification struct {
	CourseID  uuid.UUID `json:"course_id"`
	Threshold int       `json:"threshold"`
	Message   string    `json:"message"`
}

// MilestoneStore records which (user, entity, threshold) triples have
// already been notified. It is injectable so tests can reset it and so the
// session scope is explicit instead of hiding in package state.
type MilestoneStore interface {
	MarkIfNew(userID, entityID uuid.UUID, threshold int) bool
}

type sessionMilestoneStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

// NewSessionMilestoneStore keeps dedup state in memory only. A process
// restart re-arms every threshold, which is the intended tradeoff: a
// returning user may be congratulated once more, never twice in a session.
func NewSessionMilestoneStore() MilestoneStore {
	return &sessionMilestoneStore{seen: make(map[string]bool)}
}

func (s *sessionMilestoneStore) MarkIfNew(userID, entityID uuid.UUID, threshold int) bool {
	key := fmt.Sprintf("%s:%s:%d", userID, entityID, threshold)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[key] {
		return false
	}
	s.seen[key] = true
	return true
}

// Notifier is the outbound side of milestone delivery. The SSE hub and the
// redis bus both satisfy it through the app wiring.
type Notifier interface {
	Notify(ctx context.Context, msg sse.Message)
}

type MilestoneEvaluator interface {
	Evaluate(ctx context.Context, userID, courseID uuid.UUID, completedChapters, totalChapters int) []MilestoneNotification
}

type milestoneEvaluator struct {
	log        *logger.Logger
	store      MilestoneStore
	notifier   Notifier
	thresholds []int
}

func NewMilestoneEvaluator(baseLog *logger.Logger, store MilestoneStore, notifier Notifier, thresholds []int) MilestoneEvaluator {
	if len(thresholds) == 0 {
		thresholds = DefaultMilestoneThresholds
	}
	return &milestoneEvaluator{
		log:        baseLog.With("service", "MilestoneEvaluator"),
		store:      store,
		notifier:   notifier,
		thresholds: thresholds,
	}
}

// Evaluate checks thresholds in ascending order and fires each one at most
// once per session. The store is marked before emitting so a concurrent
// re-check of the same ratio cannot double-fire.
func (e *milestoneEvaluator) Evaluate(ctx context.Context, userID, courseID uuid.UUID, completedChapters, totalChapters int) []MilestoneNotification {
	if totalChapters <= 0 || completedChapters <= 0 {
		return nil
	}
	ratio := float64(completedChapters) / float64(totalChapters) * 100

	var fired []MilestoneNotification
	for _, threshold := range e.thresholds {
		if ratio < float64(threshold) {
			break
		}
		if !e.store.MarkIfNew(userID, courseID, threshold) {
			continue
		}
		n := MilestoneNotification{
			CourseID:  courseID,
			Threshold: threshold,
			Message:   milestoneMessage(threshold),
		}
		fired = append(fired, n)
		if e.notifier != nil {
			e.notifier.Notify(ctx, sse.Message{
				UserID: userID,
				Event:  sse.EventMilestoneReached,
				Data:   n,
			})
		}
		e.log.Debug("milestone fired", "userID", userID, "courseID", courseID, "threshold", threshold)
	}
	return fired
}

func milestoneMessage(threshold int) string {
	switch threshold {
	case 100:
		return "Course complete! Great work."
	case 75:
		return "75% done, the finish line is in sight."
	case 50:
		return "Halfway there, keep the momentum going."
	default:
		return fmt.Sprintf("You've reached %d%% of this course.", threshold)
	}
}
