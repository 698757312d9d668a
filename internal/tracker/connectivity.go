package tracker

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coursetrail/coursetrail-backend/internal/logger"
)

// ConnectivityObserver reports whether the backend is reachable. It is a
// pure state source: the dispatcher subscribes to it, nothing about it is
// tied to rendering or UI concerns.
type ConnectivityObserver interface {
	Online() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// PollingObserver probes an endpoint (typically /healthcheck) on an
// interval and notifies subscribers on state changes.
type PollingObserver struct {
	log      *logger.Logger
	url      string
	interval time.Duration
	client   *http.Client

	mu     sync.Mutex
	online bool
	subs   map[int]func(online bool)
	nextID int
}

func NewPollingObserver(log *logger.Logger, url string, interval time.Duration) *PollingObserver {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &PollingObserver{
		log:      log.With("component", "PollingObserver"),
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		online:   true,
		subs:     make(map[int]func(online bool)),
	}
}

func (o *PollingObserver) Online() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.online
}

func (o *PollingObserver) Subscribe(fn func(online bool)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	o.subs[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs, id)
	}
}

func (o *PollingObserver) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.probe(ctx)
		}
	}
}

func (o *PollingObserver) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url, nil)
	if err != nil {
		return
	}
	resp, err := o.client.Do(req)
	online := err == nil && resp.StatusCode < 500
	if resp != nil {
		_ = resp.Body.Close()
	}
	o.setOnline(online)
}

func (o *PollingObserver) setOnline(online bool) {
	o.mu.Lock()
	changed := o.online != online
	o.online = online
	var subs []func(online bool)
	if changed {
		for _, fn := range o.subs {
			subs = append(subs, fn)
		}
	}
	o.mu.Unlock()

	if changed {
		o.log.Debug("connectivity changed", "online", online)
		for _, fn := range subs {
			fn(online)
		}
	}
}

// StaticObserver is always in the given state; tests use it to simulate
// offline sessions.
type StaticObserver struct {
	IsOnline bool
}

func (s *StaticObserver) Online() bool                       { return s.IsOnline }
func (s *StaticObserver) Subscribe(func(online bool)) func() { return func() {} }
