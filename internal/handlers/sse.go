package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coursetrail/coursetrail-backend/internal/logger"
	"github.com/coursetrail/coursetrail-backend/internal/requestdata"
	"github.com/coursetrail/coursetrail-backend/internal/sse"
)

type SSEHandler struct {
	log *logger.Logger
	hub *sse.Hub
}

func NewSSEHandler(log *logger.Logger, hub *sse.Hub) *SSEHandler {
	return &SSEHandler{log: log.With("handler", "SSEHandler"), hub: hub}
}

// GET /notifications/stream
// Streams milestone notifications for the authenticated user until the
// client disconnects.
func (h *SSEHandler) Stream(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		RespondError(c, http.StatusInternalServerError, "streaming_unsupported", nil)
		return
	}

	client := h.hub.Register(rd.UserID)
	defer h.hub.Unregister(client)

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-client.Done():
			return
		case msg := <-client.Outbound:
			raw, err := json.Marshal(msg.Data)
			if err != nil {
				h.log.Warn("failed to encode SSE payload", "event", msg.Event, "error", err)
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", msg.Event, raw)
			flusher.Flush()
		}
	}
}
