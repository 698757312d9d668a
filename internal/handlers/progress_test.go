package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coursetrail/coursetrail-backend/internal/events"
	"github.com/coursetrail/coursetrail-backend/internal/logger"
	"github.com/coursetrail/coursetrail-backend/internal/requestdata"
	"github.com/coursetrail/coursetrail-backend/internal/services"
	"github.com/coursetrail/coursetrail-backend/internal/types"
)

type stubIngestService struct {
	gotUserID uuid.UUID
	gotBatch  []events.ProgressEvent
	result    *services.IngestResult
	err       error
}

func (s *stubIngestService) IngestBatch(_ context.Context, userID uuid.UUID, batch []events.ProgressEvent) (*services.IngestResult, error) {
	s.gotUserID = userID
	s.gotBatch = batch
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubProgressService struct {
	rows     []*types.CourseProgress
	row      *types.CourseProgress
	attempts []*types.QuizAttempt
	err      error
}

func (s *stubProgressService) GetCourseProgressForUser(context.Context, uuid.UUID) ([]*types.CourseProgress, error) {
	return s.rows, s.err
}

func (s *stubProgressService) GetCourseProgress(context.Context, uuid.UUID, uuid.UUID) (*types.CourseProgress, error) {
	return s.row, s.err
}

func (s *stubProgressService) GetQuizAttempts(context.Context, uuid.UUID, uuid.UUID) ([]*types.QuizAttempt, error) {
	return s.attempts, s.err
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func progressRouter(t *testing.T, ingest services.IngestService, progress services.ProgressService, userID uuid.UUID) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := NewProgressHandler(newTestLogger(t), ingest, progress)

	r := gin.New()
	if userID != uuid.Nil {
		r.Use(func(c *gin.Context) {
			rd := &requestdata.RequestData{UserID: userID}
			c.Request = c.Request.WithContext(requestdata.WithRequestData(c.Request.Context(), rd))
			c.Next()
		})
	}
	r.POST("/progress/bulk", h.BulkIngest)
	r.GET("/progress/courses", h.ListCourseProgress)
	r.GET("/progress/courses/:courseId", h.GetCourseProgress)
	r.GET("/progress/quizzes/:quizId/attempts", h.ListQuizAttempts)
	return r
}

func bulkBody(t *testing.T, evs ...events.ProgressEvent) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"updates": evs})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(raw)
}

func sampleEvent() events.ProgressEvent {
	chapterID := uuid.New()
	return events.ProgressEvent{
		ID:         uuid.New(),
		EntityID:   chapterID,
		EntityType: events.EntityVideo,
		Type:       events.TypeVideoWatched,
		Timestamp:  time.Now().UTC(),
		VideoWatched: &events.VideoWatchedPayload{
			CourseID:  uuid.New(),
			ChapterID: chapterID,
			Progress:  0.5,
		},
	}
}

func TestBulkIngest_Success(t *testing.T) {
	userID := uuid.New()
	ingest := &stubIngestService{result: &services.IngestResult{
		Journaled:  1,
		Milestones: []services.MilestoneNotification{{CourseID: uuid.New(), Threshold: 25}},
	}}
	r := progressRouter(t, ingest, &stubProgressService{}, userID)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/progress/bulk", bulkBody(t, sampleEvent()))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ingest.gotUserID != userID {
		t.Fatalf("service called with user %s, want %s", ingest.gotUserID, userID)
	}
	if len(ingest.gotBatch) != 1 {
		t.Fatalf("service called with %d events, want 1", len(ingest.gotBatch))
	}

	var resp struct {
		Success    bool                             `json:"success"`
		Journaled  int                              `json:"journaled"`
		Milestones []services.MilestoneNotification `json:"milestones"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Journaled != 1 || len(resp.Milestones) != 1 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestBulkIngest_ErrorMapping(t *testing.T) {
	userID := uuid.New()

	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "validation_is_400",
			err:        fmt.Errorf("%w: event at index 0: missing id", services.ErrInvalidBatch),
			wantStatus: http.StatusBadRequest,
			wantCode:   "malformed_batch",
		},
		{
			name:       "store_failure_is_500",
			err:        errors.New("connection reset"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "ingest_failed",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := progressRouter(t, &stubIngestService{err: tc.err}, &stubProgressService{}, userID)
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/progress/bulk", bulkBody(t, sampleEvent()))
			r.ServeHTTP(w, req)

			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantStatus)
			}
			var envelope ErrorEnvelope
			if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
				t.Fatalf("decode error envelope: %v", err)
			}
			if envelope.Error.Code != tc.wantCode {
				t.Fatalf("code = %q, want %q", envelope.Error.Code, tc.wantCode)
			}
		})
	}
}

func TestBulkIngest_BadRequests(t *testing.T) {
	userID := uuid.New()
	r := progressRouter(t, &stubIngestService{result: &services.IngestResult{}}, &stubProgressService{}, userID)

	cases := []struct {
		name string
		body string
	}{
		{name: "empty_body", body: ""},
		{name: "invalid_json", body: "{nope"},
		{name: "empty_batch", body: `{"updates":[]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/progress/bulk", bytes.NewReader([]byte(tc.body)))
			r.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestBulkIngest_RequiresAuth(t *testing.T) {
	r := progressRouter(t, &stubIngestService{}, &stubProgressService{}, uuid.Nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/progress/bulk", bulkBody(t, sampleEvent()))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestGetCourseProgress_NotFoundAndBadID(t *testing.T) {
	userID := uuid.New()
	r := progressRouter(t, &stubIngestService{}, &stubProgressService{row: nil}, userID)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/progress/courses/"+uuid.New().String(), nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/progress/courses/not-a-uuid", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestListCourseProgress_ReturnsRows(t *testing.T) {
	userID := uuid.New()
	svc := &stubProgressService{rows: []*types.CourseProgress{
		{ID: uuid.New(), UserID: userID, CourseID: uuid.New(), Progress: 40},
	}}
	r := progressRouter(t, &stubIngestService{}, svc, userID)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/progress/courses", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Progress []*types.CourseProgress `json:"progress"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Progress) != 1 || resp.Progress[0].Progress != 40 {
		t.Fatalf("response = %+v", resp)
	}
}
