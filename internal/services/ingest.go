package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/coursetrail/coursetrail-backend/internal/events"
	"github.com/coursetrail/coursetrail-backend/internal/logger"
	"github.com/coursetrail/coursetrail-backend/internal/repos"
	"github.com/coursetrail/coursetrail-backend/internal/types"
)

const maxBatchSize = 200

type IngestResult struct {
	Journaled  int                     `json:"journaled"`
	Duplicates int                     `json:"duplicates"`
	Milestones []MilestoneNotification `json:"milestones,omitempty"`
}

type IngestService interface {
	IngestBatch(ctx context.Context, userID uuid.UUID, batch []events.ProgressEvent) (*IngestResult, error)
}

type ingestService struct {
	db           *gorm.DB
	log          *logger.Logger
	progressRepo repos.CourseProgressRepo
	attemptRepo  repos.QuizAttemptRepo
	eventRepo    repos.ProgressEventRepo
	courseRepo   repos.CourseRepo
	milestones   MilestoneEvaluator
	tracer       trace.Tracer
}

func NewIngestService(
	db *gorm.DB,
	baseLog *logger.Logger,
	progressRepo repos.CourseProgressRepo,
	attemptRepo repos.QuizAttemptRepo,
	eventRepo repos.ProgressEventRepo,
	courseRepo repos.CourseRepo,
	milestones MilestoneEvaluator,
) IngestService {
	return &ingestService{
		db:           db,
		log:          baseLog.With("service", "IngestService"),
		progressRepo: progressRepo,
		attemptRepo:  attemptRepo,
		eventRepo:    eventRepo,
		courseRepo:   courseRepo,
		milestones:   milestones,
		tracer:       otel.Tracer("ingest"),
	}
}

// chapterOutcome is what the milestone evaluator needs after commit.
type chapterOutcome struct {
	userID    uuid.UUID
	courseID  uuid.UUID
	completed int
	total     int
}

// IngestBatch validates, partitions by event kind and applies every group
// inside one transaction: the whole batch lands or none of it does.
// Replayed events are filtered against the journal inside the same
// transaction, so re-sending a batch whose ack was lost changes nothing.
func (s *ingestService) IngestBatch(ctx context.Context, userID uuid.UUID, batch []events.ProgressEvent) (*IngestResult, error) {
	ctx, span := s.tracer.Start(ctx, "ingest_batch",
		trace.WithAttributes(attribute.Int("batch.size", len(batch))))
	defer span.End()

	if userID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated")
	}
	if len(batch) == 0 {
		return &IngestResult{}, nil
	}
	if len(batch) > maxBatchSize {
		return nil, fmt.Errorf("%w: too many events (max %d)", ErrInvalidBatch, maxBatchSize)
	}
	for i := range batch {
		batch[i].UserID = userID
		if err := batch[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: event at index %d: %v", ErrInvalidBatch, i, err)
		}
	}

	// Priority is an intra-batch ordering hint; higher applies first.
	sort.SliceStable(batch, func(i, j int) bool {
		if batch[i].Priority != batch[j].Priority {
			return batch[i].Priority > batch[j].Priority
		}
		return batch[i].Timestamp.Before(batch[j].Timestamp)
	})

	result := &IngestResult{}
	var outcomes []chapterOutcome

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fresh, dupes, err := s.journal(ctx, tx, batch)
		if err != nil {
			return fmt.Errorf("journal events: %w", err)
		}
		result.Journaled = len(fresh)
		result.Duplicates = dupes

		var videoEvents, quizEvents, chapterEvents []events.ProgressEvent
		for _, e := range fresh {
			switch e.Type.Kind() {
			case events.KindVideoProgress:
				videoEvents = append(videoEvents, e)
			case events.KindQuizCompletion:
				quizEvents = append(quizEvents, e)
			case events.KindChapterComplete:
				chapterEvents = append(chapterEvents, e)
			}
		}

		if err := s.applyVideoProgress(ctx, tx, videoEvents); err != nil {
			return fmt.Errorf("apply video progress: %w", err)
		}
		if err := s.applyQuizCompletions(ctx, tx, quizEvents); err != nil {
			return fmt.Errorf("apply quiz completions: %w", err)
		}
		outcomes, err = s.applyChapterCompletions(ctx, tx, chapterEvents)
		if err != nil {
			return fmt.Errorf("apply chapter completions: %w", err)
		}
		return nil
	})
	if err != nil {
		s.log.Warn("batch ingest failed", "userID", userID, "events", len(batch), "error", err)
		return nil, err
	}

	// Milestones fire outside the transaction: notification delivery must
	// not be able to roll back committed progress.
	for _, o := range outcomes {
		fired := s.milestones.Evaluate(ctx, o.userID, o.courseID, o.completed, o.total)
		result.Milestones = append(result.Milestones, fired...)
	}
	return result, nil
}

// journal writes each event under its client id and returns the events not
// seen before. Counter updates are applied only to fresh events, which is
// what makes non-monotonic fields (interaction counts, time spent) safe
// under replay.
func (s *ingestService) journal(ctx context.Context, tx *gorm.DB, batch []events.ProgressEvent) ([]events.ProgressEvent, int, error) {
	ids := make([]uuid.UUID, 0, len(batch))
	for _, e := range batch {
		ids = append(ids, e.ID)
	}
	existing, err := s.eventRepo.GetByIDs(ctx, tx, ids)
	if err != nil {
		return nil, 0, err
	}
	seen := make(map[uuid.UUID]bool, len(existing))
	for _, row := range existing {
		seen[row.ID] = true
	}

	now := time.Now().UTC()
	var fresh []events.ProgressEvent
	var rows []*types.ProgressEvent
	for _, e := range batch {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		fresh = append(fresh, e)

		raw, err := json.Marshal(e)
		if err != nil {
			return nil, 0, err
		}
		rows = append(rows, &types.ProgressEvent{
			ID:         e.ID,
			UserID:     e.UserID,
			EntityID:   e.EntityID,
			EntityType: string(e.EntityType),
			Type:       string(e.Type),
			BatchID:    e.BatchID,
			OccurredAt: e.Timestamp.UTC(),
			Data:       datatypes.JSON(raw),
			CreatedAt:  now,
		})
	}
	if _, err := s.eventRepo.CreateIgnoreDuplicates(ctx, tx, rows); err != nil {
		return nil, 0, err
	}
	return fresh, len(batch) - len(fresh), nil
}

func (s *ingestService) loadOrCreateAggregate(ctx context.Context, tx *gorm.DB, userID, courseID uuid.UUID) (*types.CourseProgress, bool, error) {
	row, err := s.progressRepo.GetByUserAndCourse(ctx, tx, userID, courseID)
	if err != nil {
		return nil, false, err
	}
	if row != nil {
		return row, false, nil
	}
	now := time.Now().UTC()
	row = &types.CourseProgress{
		ID:        uuid.New(),
		UserID:    userID,
		CourseID:  courseID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return row, true, nil
}

func (s *ingestService) saveAggregate(ctx context.Context, tx *gorm.DB, row *types.CourseProgress, created bool) error {
	if created {
		return s.progressRepo.Create(ctx, tx, row)
	}
	return s.progressRepo.Save(ctx, tx, row)
}

// applyVideoProgress upserts the (user, course) aggregate per event group.
// Progress only moves up; reaching 100 is terminal and marks the course
// completed. Stale replays still refresh last_accessed_at.
func (s *ingestService) applyVideoProgress(ctx context.Context, tx *gorm.DB, group []events.ProgressEvent) error {
	byCourse := groupByCourse(group)
	for key, evs := range byCourse {
		row, created, err := s.loadOrCreateAggregate(ctx, tx, key.userID, key.courseID)
		if err != nil {
			return err
		}
		for _, e := range evs {
			mergeVideoEvent(row, e)
		}
		row.InteractionCount += len(evs)
		if err := s.saveAggregate(ctx, tx, row, created); err != nil {
			return err
		}
	}
	return nil
}

func mergeVideoEvent(row *types.CourseProgress, e events.ProgressEvent) {
	touchLastAccessed(row, e.Timestamp)

	switch e.Type {
	case events.TypeCourseCompleted:
		row.Progress = 100
		row.IsCompleted = true
		return
	case events.TypeVideoWatched, events.TypeCourseProgressUpdated:
		if e.VideoWatched == nil {
			return
		}
		p := e.VideoWatched
		if p.ChapterID != uuid.Nil {
			chapterID := p.ChapterID
			row.CurrentChapterID = &chapterID
			mergeChapterFraction(row, chapterID, p.Progress)
		}
		pct := clampPercent(p.Progress * 100)
		if pct > row.Progress {
			row.Progress = pct
		}
		if row.Progress >= 100 {
			row.Progress = 100
			row.IsCompleted = true
		}
	}
}

// applyQuizCompletions always inserts: attempts are facts in time. The
// unique client_event_id index absorbs replays.
func (s *ingestService) applyQuizCompletions(ctx context.Context, tx *gorm.DB, group []events.ProgressEvent) error {
	if len(group) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]*types.QuizAttempt, 0, len(group))
	for _, e := range group {
		if e.QuizCompleted == nil {
			return fmt.Errorf("event %s missing quiz completion metadata", e.ID)
		}
		p := e.QuizCompleted
		quizID := p.QuizID
		if quizID == uuid.Nil {
			quizID = e.EntityID
		}
		meta, _ := json.Marshal(p)
		rows = append(rows, &types.QuizAttempt{
			ID:               uuid.New(),
			ClientEventID:    e.ID,
			UserID:           e.UserID,
			QuizID:           quizID,
			CourseID:         p.CourseID,
			Score:            p.Score,
			Accuracy:         p.Accuracy,
			TimeSpentSeconds: p.TimeSpentSeconds,
			Metadata:         datatypes.JSON(meta),
			CreatedAt:        now,
		})
	}
	_, err := s.attemptRepo.CreateIgnoreDuplicates(ctx, tx, rows)
	return err
}

// applyChapterCompletions unions chapters into the aggregate's completed
// set, refreshes the current chapter and recomputes the percent when the
// course's chapter count is known.
func (s *ingestService) applyChapterCompletions(ctx context.Context, tx *gorm.DB, group []events.ProgressEvent) ([]chapterOutcome, error) {
	var outcomes []chapterOutcome
	byCourse := groupByCourse(group)
	for key, evs := range byCourse {
		row, created, err := s.loadOrCreateAggregate(ctx, tx, key.userID, key.courseID)
		if err != nil {
			return nil, err
		}
		completed, err := decodeIDSet(row.CompletedChapters)
		if err != nil {
			return nil, fmt.Errorf("decode completed chapters for %s: %w", row.ID, err)
		}
		for _, e := range evs {
			if e.ChapterCompleted == nil {
				return nil, fmt.Errorf("event %s missing chapter completion metadata", e.ID)
			}
			p := e.ChapterCompleted
			chapterID := p.ChapterID
			if chapterID == uuid.Nil {
				chapterID = e.EntityID
			}
			completed[chapterID] = true
			row.CurrentChapterID = &chapterID
			mergeChapterFraction(row, chapterID, 1)
			row.TimeSpentSeconds += p.TimeSpentSeconds
			touchLastAccessed(row, e.Timestamp)
		}
		row.CompletedChapters, err = encodeIDSet(completed)
		if err != nil {
			return nil, err
		}
		row.InteractionCount += len(evs)

		total, err := s.courseRepo.ChapterCount(ctx, tx, key.courseID)
		if err != nil {
			return nil, err
		}
		if total > 0 {
			pct := clampPercent(float64(len(completed)) / float64(total) * 100)
			if pct > row.Progress {
				row.Progress = pct
			}
			if row.Progress >= 100 {
				row.Progress = 100
				row.IsCompleted = true
			}
		}
		if err := s.saveAggregate(ctx, tx, row, created); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, chapterOutcome{
			userID:    key.userID,
			courseID:  key.courseID,
			completed: len(completed),
			total:     total,
		})
	}
	return outcomes, nil
}

type courseKey struct {
	userID   uuid.UUID
	courseID uuid.UUID
}

func groupByCourse(group []events.ProgressEvent) map[courseKey][]events.ProgressEvent {
	byCourse := make(map[courseKey][]events.ProgressEvent)
	for _, e := range group {
		courseID := e.CourseID()
		if courseID == uuid.Nil {
			continue
		}
		key := courseKey{userID: e.UserID, courseID: courseID}
		byCourse[key] = append(byCourse[key], e)
	}
	return byCourse
}

func touchLastAccessed(row *types.CourseProgress, ts time.Time) {
	if ts.IsZero() {
		return
	}
	t := ts.UTC()
	if row.LastAccessedAt == nil || t.After(*row.LastAccessedAt) {
		row.LastAccessedAt = &t
	}
}

func mergeChapterFraction(row *types.CourseProgress, chapterID uuid.UUID, fraction float64) {
	m := map[string]float64{}
	if len(row.ChapterProgress) > 0 {
		_ = json.Unmarshal(row.ChapterProgress, &m)
	}
	if fraction > 1 {
		fraction = 1
	}
	if fraction > m[chapterID.String()] {
		m[chapterID.String()] = fraction
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return
	}
	row.ChapterProgress = datatypes.JSON(raw)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func decodeIDSet(raw datatypes.JSON) (map[uuid.UUID]bool, error) {
	set := make(map[uuid.UUID]bool)
	if len(raw) == 0 {
		return set, nil
	}
	var ids []uuid.UUID
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, err
	}
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

func encodeIDSet(set map[uuid.UUID]bool) (datatypes.JSON, error) {
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	raw, err := json.Marshal(ids)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
