package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coursetrail/coursetrail-backend/internal/events"
	"github.com/coursetrail/coursetrail-backend/internal/logger"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusSyncing Status = "syncing"
	StatusFailed  Status = "failed"
)

type DispatcherConfig struct {
	FlushInterval time.Duration
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	MaxRetries    int
}

func (c *DispatcherConfig) withDefaults() {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 15 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
}

// Dispatcher drains locally buffered events to the backend without ever
// blocking the recording path. Failed batches are re-queued with backoff;
// after MaxRetries the dispatcher parks in StatusFailed until Retry().
type Dispatcher struct {
	log          *logger.Logger
	sender       Sender
	connectivity ConnectivityObserver
	cfg          DispatcherConfig

	mu             sync.Mutex
	pending        map[string]events.ProgressEvent
	order          []string
	retries        int
	notBefore      time.Time
	status         Status
	inflightCancel context.CancelFunc

	kick chan struct{}
}

func NewDispatcher(baseLog *logger.Logger, sender Sender, connectivity ConnectivityObserver, cfg DispatcherConfig) *Dispatcher {
	cfg.withDefaults()
	return &Dispatcher{
		log:          baseLog.With("component", "Dispatcher"),
		sender:       sender,
		connectivity: connectivity,
		cfg:          cfg,
		pending:      make(map[string]events.ProgressEvent),
		status:       StatusOnline,
		kick:         make(chan struct{}, 1),
	}
}

// Enqueue buffers an event. Events sharing a debounce key collapse to the
// most recent; everything else queues under its own id.
func (d *Dispatcher) Enqueue(e events.ProgressEvent) {
	key := e.DebounceKey
	if key == "" {
		key = "id:" + e.ID.String()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.pending[key]; !exists {
		d.order = append(d.order, key)
	}
	d.pending[key] = e
}

// EnqueueUrgent buffers and requests an immediate flush; completion events
// use it to skip the interval wait.
func (d *Dispatcher) EnqueueUrgent(e events.ProgressEvent) {
	d.Enqueue(e)
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Retry clears the failed state after the retry budget was exhausted; the
// UI exposes it as a manual "try again".
func (d *Dispatcher) Retry() {
	d.mu.Lock()
	d.retries = 0
	d.notBefore = time.Time{}
	if d.status == StatusFailed {
		d.status = StatusOnline
	}
	d.mu.Unlock()
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Run owns the flush loop. On shutdown it makes one last delivery attempt
// with its own deadline: durability of collected events outranks prompt
// exit.
func (d *Dispatcher) Run(ctx context.Context) {
	unsubscribe := d.connectivity.Subscribe(func(online bool) {
		if online {
			d.mu.Lock()
			if d.status == StatusOffline {
				d.status = StatusOnline
			}
			d.mu.Unlock()
			select {
			case d.kick <- struct{}{}:
			default:
			}
		} else {
			d.mu.Lock()
			if d.status != StatusFailed {
				d.status = StatusOffline
			}
			d.mu.Unlock()
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = d.FlushNow(flushCtx)
			cancel()
			return
		case <-ticker.C:
			d.maybeFlush(ctx)
		case <-d.kick:
			d.maybeFlush(ctx)
		}
	}
}

func (d *Dispatcher) maybeFlush(ctx context.Context) {
	if !d.connectivity.Online() {
		d.mu.Lock()
		if d.status != StatusFailed {
			d.status = StatusOffline
		}
		d.mu.Unlock()
		return
	}

	d.mu.Lock()
	parked := d.status == StatusFailed
	tooEarly := !d.notBefore.IsZero() && time.Now().Before(d.notBefore)
	d.mu.Unlock()
	if parked || tooEarly {
		return
	}
	_ = d.FlushNow(ctx)
}

// FlushNow assembles everything pending into one batch and sends it. A
// newer flush supersedes an in-flight older one by cancelling its request;
// server-side idempotency keeps a stray landing of the old batch harmless.
func (d *Dispatcher) FlushNow(ctx context.Context) error {
	d.mu.Lock()
	if len(d.pending) == 0 {
		if d.status == StatusSyncing {
			d.status = StatusOnline
		}
		d.mu.Unlock()
		return nil
	}
	batchID := uuid.New().String()
	batch := make([]events.ProgressEvent, 0, len(d.pending))
	for _, key := range d.order {
		e, ok := d.pending[key]
		if !ok {
			continue
		}
		e.BatchID = batchID
		batch = append(batch, e)
	}
	if d.inflightCancel != nil {
		d.inflightCancel()
	}
	sendCtx, cancel := context.WithCancel(ctx)
	d.inflightCancel = cancel
	d.status = StatusSyncing
	d.mu.Unlock()

	err := d.sender.SendBatch(sendCtx, batch)
	cancel()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inflightCancel != nil {
		d.inflightCancel = nil
	}

	if err == nil {
		d.removeSent(batch)
		d.retries = 0
		d.notBefore = time.Time{}
		d.status = StatusOnline
		d.log.Debug("batch flushed", "batchID", batchID, "events", len(batch))
		return nil
	}

	var rl *RateLimitedError
	if errors.As(err, &rl) {
		d.notBefore = rl.ResetAt
		d.status = StatusOnline
		d.log.Debug("batch rate limited", "batchID", batchID, "resetAt", rl.ResetAt)
		return err
	}

	var rejected *RejectedError
	if errors.As(err, &rejected) {
		// A malformed batch can never succeed on replay; drop it.
		d.removeSent(batch)
		d.retries = 0
		d.status = StatusOnline
		d.log.Warn("batch rejected, dropping", "batchID", batchID, "status", rejected.Status)
		return err
	}

	d.retries++
	if d.retries > d.cfg.MaxRetries {
		d.status = StatusFailed
		d.log.Warn("batch delivery failed, retries exhausted", "batchID", batchID, "retries", d.retries, "error", err)
		return err
	}
	d.notBefore = time.Now().Add(d.backoff())
	if d.status == StatusSyncing {
		d.status = StatusOnline
	}
	d.log.Debug("batch delivery failed, will retry", "batchID", batchID, "retries", d.retries, "error", err)
	return err
}

// removeSent deletes exactly the event versions that went out. An entry
// overwritten under its debounce key while the send was in flight stays
// queued because its id no longer matches.
func (d *Dispatcher) removeSent(batch []events.ProgressEvent) {
	sent := make(map[uuid.UUID]bool, len(batch))
	for _, e := range batch {
		sent[e.ID] = true
	}
	keep := d.order[:0]
	for _, key := range d.order {
		e, ok := d.pending[key]
		if !ok {
			continue
		}
		if sent[e.ID] {
			delete(d.pending, key)
			continue
		}
		keep = append(keep, key)
	}
	d.order = keep
}

func (d *Dispatcher) backoff() time.Duration {
	delay := d.cfg.BackoffBase << (d.retries - 1)
	if delay > d.cfg.BackoffMax || delay <= 0 {
		delay = d.cfg.BackoffMax
	}
	return delay
}
