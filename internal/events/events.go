package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type enumerates the progress event kinds accepted by the engine. Anything
// outside this set is rejected at ingest rather than journaled blindly.
type Type string

const (
	TypeCourseStarted         Type = "COURSE_STARTED"
	TypeCourseProgressUpdated Type = "COURSE_PROGRESS_UPDATED"
	TypeQuizStarted           Type = "QUIZ_STARTED"
	TypeQuestionAnswered      Type = "QUESTION_ANSWERED"
	TypeQuizCompleted         Type = "QUIZ_COMPLETED"
	TypeCourseCompleted       Type = "COURSE_COMPLETED"
	TypeVideoWatched          Type = "VIDEO_WATCHED"
	TypeChapterCompleted      Type = "CHAPTER_COMPLETED"
)

type EntityType string

const (
	EntityCourse   EntityType = "course"
	EntityChapter  EntityType = "chapter"
	EntityQuiz     EntityType = "quiz"
	EntityQuestion EntityType = "question"
	EntityVideo    EntityType = "video"
)

// Kind is the ingestion grouping: events of the same kind share one merge
// strategy inside the bulk transaction.
type Kind string

const (
	KindVideoProgress    Kind = "video_progress"
	KindQuizCompletion   Kind = "quiz_completion"
	KindChapterComplete  Kind = "chapter_complete"
	KindEngagementSignal Kind = "engagement_signal"
)

func (t Type) Valid() bool {
	switch t {
	case TypeCourseStarted, TypeCourseProgressUpdated, TypeQuizStarted,
		TypeQuestionAnswered, TypeQuizCompleted, TypeCourseCompleted,
		TypeVideoWatched, TypeChapterCompleted:
		return true
	}
	return false
}

// Kind maps an event type to its merge strategy. Course start/completion
// flow through the video-progress upsert because they touch the same
// aggregate row.
func (t Type) Kind() Kind {
	switch t {
	case TypeVideoWatched, TypeCourseProgressUpdated, TypeCourseStarted, TypeCourseCompleted:
		return KindVideoProgress
	case TypeQuizCompleted:
		return KindQuizCompletion
	case TypeChapterCompleted:
		return KindChapterComplete
	default:
		return KindEngagementSignal
	}
}

// VideoWatchedPayload carries playback progress against a course chapter.
type VideoWatchedPayload struct {
	CourseID      uuid.UUID `json:"course_id"`
	ChapterID     uuid.UUID `json:"chapter_id"`
	Progress      float64   `json:"progress"`
	PlayedSeconds float64   `json:"played_seconds"`
	Duration      float64   `json:"duration"`
}

type QuizCompletedPayload struct {
	QuizID           uuid.UUID `json:"quiz_id"`
	CourseID         uuid.UUID `json:"course_id"`
	Score            float64   `json:"score"`
	Accuracy         float64   `json:"accuracy"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
}

type ChapterCompletedPayload struct {
	CourseID         uuid.UUID `json:"course_id"`
	ChapterID        uuid.UUID `json:"chapter_id"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
}

type QuestionAnsweredPayload struct {
	QuizID           uuid.UUID `json:"quiz_id"`
	QuestionID       uuid.UUID `json:"question_id"`
	Correct          bool      `json:"correct"`
	Answer           string    `json:"answer,omitempty"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
}

// GenericPayload covers lifecycle markers (COURSE_STARTED, QUIZ_STARTED,
// COURSE_COMPLETED) whose metadata is a free-form bag.
type GenericPayload struct {
	CourseID uuid.UUID      `json:"course_id"`
	Data     map[string]any `json:"data,omitempty"`
}

// ProgressEvent is the unit of transmission between the client tracker and
// the ingestion endpoint. Exactly one payload field is set, keyed by Type.
type ProgressEvent struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	EntityID    uuid.UUID  `json:"entity_id"`
	EntityType  EntityType `json:"entity_type"`
	Type        Type       `json:"type"`
	Timestamp   time.Time  `json:"timestamp"`
	BatchID     string     `json:"batch_id,omitempty"`
	Priority    int        `json:"priority,omitempty"`
	DebounceKey string     `json:"debounce_key,omitempty"`

	VideoWatched     *VideoWatchedPayload     `json:"-"`
	QuizCompleted    *QuizCompletedPayload    `json:"-"`
	ChapterCompleted *ChapterCompletedPayload `json:"-"`
	QuestionAnswered *QuestionAnsweredPayload `json:"-"`
	Generic          *GenericPayload          `json:"-"`
}

// wireEvent is the on-the-wire shape: the payload union travels in a single
// "metadata" object keyed by the event type.
type wireEvent struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	EntityID    uuid.UUID       `json:"entity_id"`
	EntityType  EntityType      `json:"entity_type"`
	Type        Type            `json:"type"`
	Timestamp   time.Time       `json:"timestamp"`
	BatchID     string          `json:"batch_id,omitempty"`
	Priority    int             `json:"priority,omitempty"`
	DebounceKey string          `json:"debounce_key,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

func (e ProgressEvent) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		ID:          e.ID,
		UserID:      e.UserID,
		EntityID:    e.EntityID,
		EntityType:  e.EntityType,
		Type:        e.Type,
		Timestamp:   e.Timestamp,
		BatchID:     e.BatchID,
		Priority:    e.Priority,
		DebounceKey: e.DebounceKey,
	}
	var payload any
	switch {
	case e.VideoWatched != nil:
		payload = e.VideoWatched
	case e.QuizCompleted != nil:
		payload = e.QuizCompleted
	case e.ChapterCompleted != nil:
		payload = e.ChapterCompleted
	case e.QuestionAnswered != nil:
		payload = e.QuestionAnswered
	case e.Generic != nil:
		payload = e.Generic
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		w.Metadata = raw
	}
	return json.Marshal(w)
}

func (e *ProgressEvent) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = ProgressEvent{
		ID:          w.ID,
		UserID:      w.UserID,
		EntityID:    w.EntityID,
		EntityType:  w.EntityType,
		Type:        w.Type,
		Timestamp:   w.Timestamp,
		BatchID:     w.BatchID,
		Priority:    w.Priority,
		DebounceKey: w.DebounceKey,
	}
	if len(w.Metadata) == 0 {
		return nil
	}
	switch w.Type.Kind() {
	case KindVideoProgress:
		if w.Type == TypeVideoWatched || w.Type == TypeCourseProgressUpdated {
			var p VideoWatchedPayload
			if err := json.Unmarshal(w.Metadata, &p); err != nil {
				return fmt.Errorf("decode %s metadata: %w", w.Type, err)
			}
			e.VideoWatched = &p
			return nil
		}
		var p GenericPayload
		if err := json.Unmarshal(w.Metadata, &p); err != nil {
			return fmt.Errorf("decode %s metadata: %w", w.Type, err)
		}
		e.Generic = &p
	case KindQuizCompletion:
		var p QuizCompletedPayload
		if err := json.Unmarshal(w.Metadata, &p); err != nil {
			return fmt.Errorf("decode %s metadata: %w", w.Type, err)
		}
		e.QuizCompleted = &p
	case KindChapterComplete:
		var p ChapterCompletedPayload
		if err := json.Unmarshal(w.Metadata, &p); err != nil {
			return fmt.Errorf("decode %s metadata: %w", w.Type, err)
		}
		e.ChapterCompleted = &p
	default:
		if w.Type == TypeQuestionAnswered {
			var p QuestionAnsweredPayload
			if err := json.Unmarshal(w.Metadata, &p); err != nil {
				return fmt.Errorf("decode %s metadata: %w", w.Type, err)
			}
			e.QuestionAnswered = &p
			return nil
		}
		var p GenericPayload
		if err := json.Unmarshal(w.Metadata, &p); err != nil {
			return fmt.Errorf("decode %s metadata: %w", w.Type, err)
		}
		e.Generic = &p
	}
	return nil
}

// Validate checks the envelope, not the payload: payload-level checks belong
// to the merge strategy for the event's kind.
func (e *ProgressEvent) Validate() error {
	if e.ID == uuid.Nil {
		return fmt.Errorf("event missing id")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.EntityID == uuid.Nil {
		return fmt.Errorf("event %s missing entity id", e.ID)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event %s missing timestamp", e.ID)
	}
	return nil
}

// CourseID extracts the course the event belongs to, whichever payload
// variant carries it.
func (e *ProgressEvent) CourseID() uuid.UUID {
	switch {
	case e.VideoWatched != nil:
		return e.VideoWatched.CourseID
	case e.QuizCompleted != nil:
		return e.QuizCompleted.CourseID
	case e.ChapterCompleted != nil:
		return e.ChapterCompleted.CourseID
	case e.Generic != nil:
		return e.Generic.CourseID
	}
	if e.EntityType == EntityCourse {
		return e.EntityID
	}
	return uuid.Nil
}
