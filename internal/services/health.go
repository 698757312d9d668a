package services

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/coursetrail/coursetrail-backend/internal/logger"
)

type HealthStatus struct {
	Status   string `json:"status"`
	Postgres string `json:"postgres"`
	Redis    string `json:"redis"`
}

type HealthService interface {
	Check(ctx context.Context) HealthStatus
}

type healthService struct {
	db  *gorm.DB
	rdb *goredis.Client
	log *logger.Logger
}

func NewHealthService(db *gorm.DB, rdb *goredis.Client, baseLog *logger.Logger) HealthService {
	return &healthService{
		db:  db,
		rdb: rdb,
		log: baseLog.With("service", "HealthService"),
	}
}

// Check pings dependencies in parallel with a short deadline. Postgres down
// means unhealthy; redis down only degrades, because the limiter and the
// notify bus both have in-process fallbacks.
func (s *healthService) Check(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status := HealthStatus{Status: "healthy", Postgres: "up", Redis: "up"}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sqlDB, err := s.db.DB()
		if err == nil {
			err = sqlDB.PingContext(gctx)
		}
		if err != nil {
			s.log.Warn("postgres ping failed", "error", err)
			status.Postgres = "down"
		}
		return nil
	})
	g.Go(func() error {
		if s.rdb == nil {
			status.Redis = "unconfigured"
			return nil
		}
		if err := s.rdb.Ping(gctx).Err(); err != nil {
			s.log.Warn("redis ping failed", "error", err)
			status.Redis = "down"
		}
		return nil
	})
	_ = g.Wait()

	if status.Postgres == "down" {
		status.Status = "unhealthy"
	} else if status.Redis != "up" {
		status.Status = "degraded"
	}
	return status
}
