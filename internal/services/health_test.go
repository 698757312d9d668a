package services

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

func TestHealthCheck_PostgresUpRedisUnconfigured(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewHealthService(gdb, nil, newTestLogger(t))

	status := svc.Check(context.Background())
	if status.Postgres != "up" {
		t.Fatalf("postgres = %q, want up", status.Postgres)
	}
	if status.Redis != "unconfigured" {
		t.Fatalf("redis = %q, want unconfigured", status.Redis)
	}
	if status.Status != "degraded" {
		t.Fatalf("status = %q, want degraded without redis", status.Status)
	}
}

func TestHealthCheck_RedisDownDegrades(t *testing.T) {
	gdb := newTestDB(t)
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()
	svc := NewHealthService(gdb, rdb, newTestLogger(t))

	status := svc.Check(context.Background())
	if status.Postgres != "up" {
		t.Fatalf("postgres = %q, want up", status.Postgres)
	}
	if status.Redis != "down" {
		t.Fatalf("redis = %q, want down", status.Redis)
	}
	if status.Status != "degraded" {
		t.Fatalf("status = %q, want degraded", status.Status)
	}
}
