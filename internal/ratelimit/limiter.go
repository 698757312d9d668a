package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/coursetrail/coursetrail-backend/internal/logger"
)

// Result is what a protected route gets back from a limiter check. Limiter
// infrastructure failures never surface here: a broken backing store
// degrades to the in-process fallback, not to an error.
type Result struct {
	Success   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type Limiter interface {
	Check(ctx context.Context, route, identity string) Result
}

type Config struct {
	Limit  int
	Window time.Duration
	Prefix string
}

// SlidingWindow counts admissions in a moving window. The primary store is a
// redis sorted set per route:identity key; when redis is absent or a call
// fails, the same key is tracked by a coarser in-process counter that resets
// on window rollover. Local state is per instance, so under horizontal
// scaling the effective fallback limit is instances x limit.
type SlidingWindow struct {
	log   *logger.Logger
	rdb   *goredis.Client
	cfg   Config
	local *localCounters
}

func NewSlidingWindow(baseLog *logger.Logger, rdb *goredis.Client, cfg Config) *SlidingWindow {
	if cfg.Limit <= 0 {
		cfg.Limit = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "ratelimit"
	}
	return &SlidingWindow{
		log:   baseLog.With("component", "SlidingWindow"),
		rdb:   rdb,
		cfg:   cfg,
		local: newLocalCounters(cfg.Limit, cfg.Window),
	}
}

func (l *SlidingWindow) Check(ctx context.Context, route, identity string) Result {
	key := fmt.Sprintf("%s:%s:%s", l.cfg.Prefix, route, identity)
	if l.rdb == nil {
		return l.local.check(key, time.Now())
	}
	res, err := l.checkRedis(ctx, key)
	if err != nil {
		l.log.Warn("redis limiter check failed, using in-process fallback", "key", key, "error", err)
		return l.local.check(key, time.Now())
	}
	return res
}

func (l *SlidingWindow) checkRedis(ctx context.Context, key string) (Result, error) {
	now := time.Now()
	cutoff := now.Add(-l.cfg.Window).UnixMilli()
	member := strconv.FormatInt(now.UnixNano(), 10)

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, key, goredis.Z{Score: float64(now.UnixMilli()), Member: member})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, 2*l.cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}

	count := int(card.Val())
	remaining := l.cfg.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Success:   count <= l.cfg.Limit,
		Limit:     l.cfg.Limit,
		Remaining: remaining,
		ResetAt:   now.Add(l.cfg.Window),
	}, nil
}

// Error is returned by callers that reject a request on a failed check; the
// limiter itself never produces it.
type Error struct {
	Result Result
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.Result.ResetAt.Format(time.RFC3339))
}
