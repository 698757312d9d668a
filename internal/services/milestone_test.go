package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestMilestoneEvaluator_FiresEachThresholdOnce(t *testing.T) {
	log := newTestLogger(t)
	notifier := &captureNotifier{}
	eval := NewMilestoneEvaluator(log, NewSessionMilestoneStore(), notifier, nil)

	userID := uuid.New()
	courseID := uuid.New()
	ctx := context.Background()

	// Progress moving 10% -> 30% -> 55% -> 80% -> 100% over a session.
	steps := []struct {
		completed int
		total     int
		want      []int
	}{
		{completed: 1, total: 10, want: nil},
		{completed: 3, total: 10, want: []int{25}},
		{completed: 3, total: 10, want: nil},
		{completed: 5, total: 10, want: []int{50}},
		{completed: 8, total: 10, want: []int{75}},
		{completed: 10, total: 10, want: []int{100}},
		{completed: 10, total: 10, want: nil},
	}

	for i, step := range steps {
		fired := eval.Evaluate(ctx, userID, courseID, step.completed, step.total)
		got := make([]int, 0, len(fired))
		for _, m := range fired {
			got = append(got, m.Threshold)
		}
		if len(got) != len(step.want) {
			t.Fatalf("step %d: fired %v, want %v", i, got, step.want)
		}
		for j := range got {
			if got[j] != step.want[j] {
				t.Fatalf("step %d: fired %v, want %v", i, got, step.want)
			}
		}
	}

	notifier.mu.Lock()
	sent := len(notifier.msgs)
	notifier.mu.Unlock()
	if sent != 4 {
		t.Fatalf("notifications sent = %d, want 4", sent)
	}
}

func TestMilestoneEvaluator_JumpFiresAllCrossedThresholds(t *testing.T) {
	log := newTestLogger(t)
	eval := NewMilestoneEvaluator(log, NewSessionMilestoneStore(), nil, nil)

	fired := eval.Evaluate(context.Background(), uuid.New(), uuid.New(), 3, 4)
	if len(fired) != 3 {
		t.Fatalf("fired = %#v, want 25, 50 and 75", fired)
	}
	for i, want := range []int{25, 50, 75} {
		if fired[i].Threshold != want {
			t.Fatalf("fired[%d] = %d, want %d", i, fired[i].Threshold, want)
		}
	}
}

func TestMilestoneEvaluator_ScopesDedupPerUserAndCourse(t *testing.T) {
	log := newTestLogger(t)
	eval := NewMilestoneEvaluator(log, NewSessionMilestoneStore(), nil, nil)
	ctx := context.Background()

	userA, userB := uuid.New(), uuid.New()
	courseX, courseY := uuid.New(), uuid.New()

	if fired := eval.Evaluate(ctx, userA, courseX, 1, 4); len(fired) != 1 {
		t.Fatalf("userA/courseX: %#v", fired)
	}
	// Same ratio for another user or course is a fresh milestone.
	if fired := eval.Evaluate(ctx, userB, courseX, 1, 4); len(fired) != 1 {
		t.Fatalf("userB/courseX: %#v", fired)
	}
	if fired := eval.Evaluate(ctx, userA, courseY, 1, 4); len(fired) != 1 {
		t.Fatalf("userA/courseY: %#v", fired)
	}
	if fired := eval.Evaluate(ctx, userA, courseX, 1, 4); len(fired) != 0 {
		t.Fatalf("userA/courseX repeat: %#v", fired)
	}
}

func TestMilestoneEvaluator_IgnoresEmptyCourses(t *testing.T) {
	log := newTestLogger(t)
	eval := NewMilestoneEvaluator(log, NewSessionMilestoneStore(), nil, nil)
	ctx := context.Background()

	if fired := eval.Evaluate(ctx, uuid.New(), uuid.New(), 0, 4); fired != nil {
		t.Fatalf("zero completed fired: %#v", fired)
	}
	if fired := eval.Evaluate(ctx, uuid.New(), uuid.New(), 2, 0); fired != nil {
		t.Fatalf("zero total fired: %#v", fired)
	}
}

func TestSessionMilestoneStore_MarkIfNew(t *testing.T) {
	store := NewSessionMilestoneStore()
	userID, entityID := uuid.New(), uuid.New()

	if !store.MarkIfNew(userID, entityID, 25) {
		t.Fatalf("first mark returned false")
	}
	if store.MarkIfNew(userID, entityID, 25) {
		t.Fatalf("second mark returned true")
	}
	if !store.MarkIfNew(userID, entityID, 50) {
		t.Fatalf("different threshold returned false")
	}
}
