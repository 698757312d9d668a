package ratelimit

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/coursetrail/coursetrail-backend/internal/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestLocalCounters_AdmitsUpToLimit(t *testing.T) {
	c := newLocalCounters(3, time.Minute)
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		res := c.check("route:user", now.Add(time.Duration(i)*time.Second))
		if !res.Success {
			t.Fatalf("request %d rejected under limit", i+1)
		}
		if res.Remaining != 3-(i+1) {
			t.Fatalf("request %d remaining = %d, want %d", i+1, res.Remaining, 3-(i+1))
		}
	}

	res := c.check("route:user", now.Add(10*time.Second))
	if res.Success {
		t.Fatalf("request over limit admitted")
	}
	if res.Remaining != 0 {
		t.Fatalf("remaining over limit = %d, want 0", res.Remaining)
	}
	if !res.ResetAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("reset at = %v, want window end %v", res.ResetAt, now.Add(time.Minute))
	}
}

func TestLocalCounters_ResetsOnWindowRollover(t *testing.T) {
	c := newLocalCounters(2, time.Minute)
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	c.check("k", now)
	c.check("k", now)
	if res := c.check("k", now.Add(time.Second)); res.Success {
		t.Fatalf("third request in window admitted")
	}

	res := c.check("k", now.Add(time.Minute+time.Second))
	if !res.Success {
		t.Fatalf("request in fresh window rejected")
	}
	if res.Remaining != 1 {
		t.Fatalf("remaining in fresh window = %d, want 1", res.Remaining)
	}
}

func TestLocalCounters_KeysAreIndependent(t *testing.T) {
	c := newLocalCounters(1, time.Minute)
	now := time.Now()

	if res := c.check("route:alice", now); !res.Success {
		t.Fatalf("alice rejected")
	}
	if res := c.check("route:alice", now); res.Success {
		t.Fatalf("alice second request admitted")
	}
	if res := c.check("route:bob", now); !res.Success {
		t.Fatalf("bob rejected by alice's counter")
	}
}

func TestLocalCounters_PruneDropsStaleEntries(t *testing.T) {
	c := newLocalCounters(5, time.Minute)
	now := time.Now()

	c.check("old", now.Add(-5*time.Minute))
	c.check("fresh", now)
	c.pruneLocked(now)

	if _, ok := c.entries["old"]; ok {
		t.Fatalf("stale entry survived prune")
	}
	if _, ok := c.entries["fresh"]; !ok {
		t.Fatalf("fresh entry pruned")
	}
}

func TestSlidingWindow_NoRedisUsesFallback(t *testing.T) {
	l := NewSlidingWindow(testLogger(t), nil, Config{Limit: 2, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if res := l.Check(ctx, "progress_bulk", "user-1"); !res.Success {
			t.Fatalf("request %d rejected", i+1)
		}
	}
	if res := l.Check(ctx, "progress_bulk", "user-1"); res.Success {
		t.Fatalf("over-limit request admitted")
	}
	if res := l.Check(ctx, "progress_bulk", "user-2"); !res.Success {
		t.Fatalf("other identity rejected")
	}
}

func TestSlidingWindow_UnreachableRedisDegradesNotFails(t *testing.T) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	l := NewSlidingWindow(testLogger(t), rdb, Config{Limit: 1, Window: time.Minute})
	ctx := context.Background()

	// The broken backing store must degrade to the in-process counter,
	// never surface an error or panic to the caller.
	if res := l.Check(ctx, "progress_bulk", "user-1"); !res.Success {
		t.Fatalf("first request rejected")
	}
	if res := l.Check(ctx, "progress_bulk", "user-1"); res.Success {
		t.Fatalf("fallback did not enforce the limit")
	}
}

func TestSlidingWindow_ConfigDefaults(t *testing.T) {
	l := NewSlidingWindow(testLogger(t), nil, Config{})
	if l.cfg.Limit != 60 {
		t.Fatalf("default limit = %d, want 60", l.cfg.Limit)
	}
	if l.cfg.Window != time.Minute {
		t.Fatalf("default window = %v, want 1m", l.cfg.Window)
	}
	if l.cfg.Prefix != "ratelimit" {
		t.Fatalf("default prefix = %q", l.cfg.Prefix)
	}
}
