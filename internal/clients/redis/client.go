package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/coursetrail/coursetrail-backend/internal/logger"
	"github.com/coursetrail/coursetrail-backend/internal/utils"
)

// NewClient connects using REDIS_ADDR / REDIS_PASSWORD / REDIS_DB. A missing
// address or failed ping returns an error; callers that can run without
// redis (rate limiter fallback, in-process notifications) treat that as
// degraded rather than fatal.
func NewClient(log *logger.Logger) (*goredis.Client, error) {
	addr := strings.TrimSpace(utils.GetEnv("REDIS_ADDR", "", log))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	password := utils.GetEnv("REDIS_PASSWORD", "", log)
	dbNum := utils.GetEnvAsInt("REDIS_DB", 0, log)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          dbNum,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}
