package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/coursetrail/coursetrail-backend/internal/events"
)

func TestHTTPSender_SendsBulkRequest(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody bulkRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL, "tok-123", 0)
	batch := []events.ProgressEvent{progressEvent(uuid.New(), 0.5)}
	if err := s.SendBatch(context.Background(), batch); err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotPath != "/progress/bulk" {
		t.Fatalf("path = %q, want /progress/bulk", gotPath)
	}
	if gotAuth != "Bearer tok-123" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if len(gotBody.Updates) != 1 || gotBody.Updates[0].ID != batch[0].ID {
		t.Fatalf("request body = %+v", gotBody)
	}
}

func TestHTTPSender_RateLimitedCarriesResetAt(t *testing.T) {
	resetAt := time.Now().Add(45 * time.Second).UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(rateLimitBody{ResetAt: resetAt})
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL, "tok", 0)
	err := s.SendBatch(context.Background(), []events.ProgressEvent{progressEvent(uuid.New(), 0.5)})

	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("error = %v, want RateLimitedError", err)
	}
	if !rl.ResetAt.Equal(resetAt) {
		t.Fatalf("reset at = %v, want %v", rl.ResetAt, resetAt)
	}
}

func TestHTTPSender_RateLimitedWithoutBodyStillBacksOff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL, "tok", 0)
	before := time.Now()
	err := s.SendBatch(context.Background(), []events.ProgressEvent{progressEvent(uuid.New(), 0.5)})

	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("error = %v, want RateLimitedError", err)
	}
	if !rl.ResetAt.After(before) {
		t.Fatalf("fallback reset at %v not in the future", rl.ResetAt)
	}
}

func TestHTTPSender_ClientErrorIsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"malformed_batch"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL, "tok", 0)
	err := s.SendBatch(context.Background(), []events.ProgressEvent{progressEvent(uuid.New(), 0.5)})

	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("error = %v, want RejectedError", err)
	}
	if rejected.Status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rejected.Status)
	}
}

func TestHTTPSender_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL, "tok", 0)
	err := s.SendBatch(context.Background(), []events.ProgressEvent{progressEvent(uuid.New(), 0.5)})
	if err == nil {
		t.Fatalf("expected error")
	}
	var rl *RateLimitedError
	var rejected *RejectedError
	if errors.As(err, &rl) || errors.As(err, &rejected) {
		t.Fatalf("server error classified as terminal: %v", err)
	}
}
