// Package queue provides the bounded-concurrency, priority-ordered executor
// that every remote call is routed through. It is the terminal's single point
// of concurrency limiting against the POS service.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/harborpos/till/internal/metrics"
)

// Standard priorities. Higher values dequeue first; ties keep submission order.
const (
	PriorityLow    = 0
	PriorityNormal = 5
	PriorityHigh   = 10
)

var (
	// ErrTimeout is returned when an operation runs past the per-request
	// timeout. The operation itself is not cancelled; its eventual result
	// is discarded.
	ErrTimeout = errors.New("queue: operation timed out")

	// ErrStale is returned when an operation waited in the queue longer
	// than the maximum queue age without ever starting.
	ErrStale = errors.New("queue: operation evicted before start")

	// ErrClosed is returned for submissions after Close.
	ErrClosed = errors.New("queue: closed")
)

// Operation is a unit of remote work. The context it receives is never
// cancelled by the queue's own timeout.
type Operation func(ctx context.Context) (any, error)

// Config bounds the queue. Zero values fall back to defaults.
type Config struct {
	MaxConcurrent  int
	RequestTimeout time.Duration
	MaxQueueAge    time.Duration
	DrainDelay     time.Duration
}

type result struct {
	value any
	err   error
}

type entry struct {
	name     string
	priority int
	op       Operation
	ctx      context.Context
	enqueued time.Time
	done     chan result
}

// Queue executes submitted operations with at most MaxConcurrent running at
// once, dequeuing by priority with stable ordering for equal priorities.
type Queue struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	waiting  []*entry
	inFlight int
	closed   bool
}

// New creates a queue. A nil logger falls back to slog.Default.
func New(cfg Config, logger *slog.Logger) *Queue {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxQueueAge <= 0 {
		cfg.MaxQueueAge = 30 * time.Second
	}
	if cfg.DrainDelay <= 0 {
		cfg.DrainDelay = 50 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		cfg:    cfg,
		logger: logger.With("component", "queue"),
		now:    time.Now,
	}
}

// Submit enqueues op and blocks until it completes, times out, or is evicted.
// ctx cancels only the caller's wait, never the operation.
func (q *Queue) Submit(ctx context.Context, name string, priority int, op Operation) (any, error) {
	e := &entry{
		name:     name,
		priority: priority,
		op:       op,
		ctx:      context.WithoutCancel(ctx),
		enqueued: q.now(),
		done:     make(chan result, 1),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	q.waiting = append(q.waiting, e)
	metrics.QueueDepth.Set(float64(len(q.waiting)))
	q.mu.Unlock()

	q.dispatch()

	select {
	case r := <-e.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close rejects all waiting operations and refuses new submissions. Running
// operations are left to finish on their own.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for _, e := range q.waiting {
		e.done <- result{err: ErrClosed}
	}
	q.waiting = nil
	metrics.QueueDepth.Set(0)
}

// Len reports the number of waiting operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// InFlight reports the number of running operations.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// dispatch evicts stale entries, then starts waiting operations until the
// concurrency bound is reached.
func (q *Queue) dispatch() {
	q.mu.Lock()

	if len(q.waiting) > 0 {
		now := q.now()
		kept := q.waiting[:0]
		for _, e := range q.waiting {
			if now.Sub(e.enqueued) > q.cfg.MaxQueueAge {
				// Evicted callers must fail, never hang.
				e.done <- result{err: ErrStale}
				metrics.QueueEvictions.Inc()
				q.logger.Warn("evicted stale operation", "name", e.name, "waited", now.Sub(e.enqueued))
				continue
			}
			kept = append(kept, e)
		}
		q.waiting = kept
	}

	sort.SliceStable(q.waiting, func(i, j int) bool {
		return q.waiting[i].priority > q.waiting[j].priority
	})

	var started []*entry
	for q.inFlight < q.cfg.MaxConcurrent && len(q.waiting) > 0 {
		e := q.waiting[0]
		q.waiting = q.waiting[1:]
		q.inFlight++
		started = append(started, e)
	}
	metrics.QueueDepth.Set(float64(len(q.waiting)))
	metrics.QueueInFlight.Set(float64(q.inFlight))
	q.mu.Unlock()

	for _, e := range started {
		go q.run(e)
	}
}

func (q *Queue) run(e *entry) {
	res := make(chan result, 1)
	go func() {
		v, err := e.op(e.ctx)
		res <- result{value: v, err: err}
	}()

	timer := time.NewTimer(q.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case r := <-res:
		e.done <- r
	case <-timer.C:
		// The operation keeps running; its result lands in the buffered
		// channel and is discarded.
		e.done <- result{err: ErrTimeout}
		metrics.QueueTimeouts.Inc()
		q.logger.Warn("operation timed out", "name", e.name, "timeout", q.cfg.RequestTimeout)
	}

	q.mu.Lock()
	q.inFlight--
	metrics.QueueInFlight.Set(float64(q.inFlight))
	q.mu.Unlock()

	// Small settle delay before the next dequeue so a burst of completions
	// does not busy-loop the scheduler.
	time.AfterFunc(q.cfg.DrainDelay, q.dispatch)
}
