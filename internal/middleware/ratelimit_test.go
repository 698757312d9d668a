package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coursetrail/coursetrail-backend/internal/ratelimit"
	"github.com/coursetrail/coursetrail-backend/internal/requestdata"
)

type stubLimiter struct {
	result     ratelimit.Result
	identities []string
}

func (s *stubLimiter) Check(_ context.Context, _ string, identity string) ratelimit.Result {
	s.identities = append(s.identities, identity)
	return s.result
}

func limitedRouter(t *testing.T, limiter ratelimit.Limiter, rd *requestdata.RequestData) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rl := NewRateLimitMiddleware(newTestLogger(t), limiter)

	r := gin.New()
	if rd != nil {
		r.Use(func(c *gin.Context) {
			c.Request = c.Request.WithContext(requestdata.WithRequestData(c.Request.Context(), rd))
			c.Next()
		})
	}
	r.POST("/bulk", rl.Limit("progress_bulk"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestLimit_AdmitsAndSetsHeaders(t *testing.T) {
	resetAt := time.Now().Add(time.Minute)
	limiter := &stubLimiter{result: ratelimit.Result{Success: true, Limit: 60, Remaining: 59, ResetAt: resetAt}}
	r := limitedRouter(t, limiter, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/bulk", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "60" {
		t.Fatalf("limit header = %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "59" {
		t.Fatalf("remaining header = %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Reset"); got == "" {
		t.Fatalf("reset header missing")
	}
}

func TestLimit_RejectsWithResetHint(t *testing.T) {
	limiter := &stubLimiter{result: ratelimit.Result{Success: false, Limit: 60, Remaining: 0, ResetAt: time.Now().Add(30 * time.Second)}}
	r := limitedRouter(t, limiter, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/bulk", nil))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "reset_at") || !strings.Contains(body, "rate limit exceeded") {
		t.Fatalf("body missing reset hint: %s", body)
	}
}

func TestLimit_PrefersUserIdentityOverIP(t *testing.T) {
	userID := uuid.New()
	limiter := &stubLimiter{result: ratelimit.Result{Success: true, Limit: 60, Remaining: 59, ResetAt: time.Now()}}
	r := limitedRouter(t, limiter, &requestdata.RequestData{UserID: userID})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/bulk", nil))

	if len(limiter.identities) != 1 || limiter.identities[0] != userID.String() {
		t.Fatalf("identities = %v, want user id", limiter.identities)
	}
}

func TestLimit_FallsBackToClientIP(t *testing.T) {
	limiter := &stubLimiter{result: ratelimit.Result{Success: true, Limit: 60, Remaining: 59, ResetAt: time.Now()}}
	r := limitedRouter(t, limiter, nil)

	req := httptest.NewRequest(http.MethodPost, "/bulk", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if len(limiter.identities) != 1 || limiter.identities[0] != "10.1.2.3" {
		t.Fatalf("identities = %v, want client ip", limiter.identities)
	}
}
