package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coursetrail/coursetrail-backend/internal/events"
)

// Sender transmits an assembled batch. The HTTP implementation targets the
// bulk ingestion endpoint; tests substitute their own.
type Sender interface {
	SendBatch(ctx context.Context, batch []events.ProgressEvent) error
}

// RateLimitedError tells the dispatcher when it may try again; retrying
// before ResetAt would be rejected anyway.
type RateLimitedError struct {
	ResetAt time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited until %s", e.ResetAt.Format(time.RFC3339))
}

// RejectedError marks batches the server refused for shape; resending the
// same payload cannot succeed.
type RejectedError struct {
	Status int
	Body   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("batch rejected with status %d: %s", e.Status, e.Body)
}

type HTTPSender struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPSender(baseURL, token string, timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type bulkRequest struct {
	Updates []events.ProgressEvent `json:"updates"`
}

type rateLimitBody struct {
	ResetAt time.Time `json:"reset_at"`
}

func (s *HTTPSender) SendBatch(ctx context.Context, batch []events.ProgressEvent) error {
	raw, err := json.Marshal(bulkRequest{Updates: batch})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/progress/bulk", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode == http.StatusTooManyRequests {
		var rl rateLimitBody
		if err := json.Unmarshal(body, &rl); err == nil && !rl.ResetAt.IsZero() {
			return &RateLimitedError{ResetAt: rl.ResetAt}
		}
		return &RateLimitedError{ResetAt: time.Now().Add(30 * time.Second)}
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &RejectedError{Status: resp.StatusCode, Body: string(body)}
	}
	return fmt.Errorf("batch send failed with status %d", resp.StatusCode)
}
