package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coursetrail/coursetrail-backend/internal/events"
	"github.com/coursetrail/coursetrail-backend/internal/logger"
	"github.com/coursetrail/coursetrail-backend/internal/requestdata"
	"github.com/coursetrail/coursetrail-backend/internal/services"
)

type ProgressHandler struct {
	log         *logger.Logger
	ingestSvc   services.IngestService
	progressSvc services.ProgressService
}

func NewProgressHandler(log *logger.Logger, ingestSvc services.IngestService, progressSvc services.ProgressService) *ProgressHandler {
	return &ProgressHandler{
		log:         log.With("handler", "ProgressHandler"),
		ingestSvc:   ingestSvc,
		progressSvc: progressSvc,
	}
}

type bulkIngestRequest struct {
	Updates []events.ProgressEvent `json:"updates"`
}

// POST /progress/bulk
// Apply a batch of progress events atomically. The whole batch commits or
// none of it does; replays of already-journaled events are no-ops.
func (h *ProgressHandler) BulkIngest(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if len(raw) == 0 {
		RespondError(c, http.StatusBadRequest, "empty_body", nil)
		return
	}
	var req bulkIngestRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}
	if len(req.Updates) == 0 {
		RespondError(c, http.StatusBadRequest, "empty_batch", nil)
		return
	}

	result, err := h.ingestSvc.IngestBatch(c.Request.Context(), rd.UserID, req.Updates)
	if err != nil {
		// A batch rejected for shape cannot succeed on replay; a store
		// failure is transient and the client will retry.
		if services.IsValidationError(err) {
			RespondError(c, http.StatusBadRequest, "malformed_batch", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "ingest_failed", err)
		return
	}
	RespondOK(c, gin.H{
		"success":    true,
		"journaled":  result.Journaled,
		"duplicates": result.Duplicates,
		"milestones": result.Milestones,
	})
}

// GET /progress/courses
func (h *ProgressHandler) ListCourseProgress(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	rows, err := h.progressSvc.GetCourseProgressForUser(c.Request.Context(), rd.UserID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "progress_fetch_failed", err)
		return
	}
	RespondOK(c, gin.H{"progress": rows})
}

// GET /progress/courses/:courseId
func (h *ProgressHandler) GetCourseProgress(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	courseID, err := uuid.Parse(c.Param("courseId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_course_id", err)
		return
	}
	row, err := h.progressSvc.GetCourseProgress(c.Request.Context(), rd.UserID, courseID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "progress_fetch_failed", err)
		return
	}
	if row == nil {
		RespondError(c, http.StatusNotFound, "progress_not_found", nil)
		return
	}
	RespondOK(c, row)
}

// GET /progress/quizzes/:quizId/attempts
func (h *ProgressHandler) ListQuizAttempts(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	quizID, err := uuid.Parse(c.Param("quizId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_quiz_id", err)
		return
	}
	rows, err := h.progressSvc.GetQuizAttempts(c.Request.Context(), rd.UserID, quizID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "attempts_fetch_failed", err)
		return
	}
	RespondOK(c, gin.H{"attempts": rows})
}
