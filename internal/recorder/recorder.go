// Package recorder persists run history. Recording is best-effort by
// contract: a failed write is retried in the background and never
// surfaces into the run that produced it.
package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flowmate-io/flowmate/internal/store"
	"github.com/flowmate-io/flowmate/pkg/schema"
)

const (
	// DefaultQueueSize bounds the retry backlog. A full backlog drops
	// further intents; run execution is never blocked.
	DefaultQueueSize = 256

	DefaultMaxAttempts = 5
	DefaultBackoff     = 2 * time.Second
)

// Config tunes the recorder's retry behavior.
type Config struct {
	QueueSize   int
	MaxAttempts int
	Backoff     time.Duration
}

// writeIntent is a deferred store write awaiting retry.
type writeIntent struct {
	desc     string
	attempts int
	apply    func(ctx context.Context) error
}

// Recorder writes run lifecycle records and workflow rollups. All write
// failures are logged and re-queued; callers never see them.
type Recorder struct {
	store  store.Store
	logger *slog.Logger

	config Config
	retry  chan *writeIntent

	wg       sync.WaitGroup
	shutdown chan struct{}
	stopOnce sync.Once
}

// New creates a Recorder and starts its retry worker.
func New(s store.Store, config Config, logger *slog.Logger) *Recorder {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.Backoff <= 0 {
		config.Backoff = DefaultBackoff
	}
	r := &Recorder{
		store:    s,
		logger:   logger,
		config:   config,
		retry:    make(chan *writeIntent, config.QueueSize),
		shutdown: make(chan struct{}),
	}
	r.wg.Add(1)
	go r.retryLoop()
	return r
}

// Close stops the retry worker. Queued intents that have not been
// retried yet are abandoned.
func (r *Recorder) Close() {
	r.stopOnce.Do(func() { close(r.shutdown) })
	r.wg.Wait()
}

// RunStarted persists the initial run row.
func (r *Recorder) RunStarted(ctx context.Context, run *schema.Run) {
	cp := *run
	r.write(ctx, "create run "+run.ID, func(ctx context.Context) error {
		return r.store.CreateRun(ctx, &cp)
	})
}

// RunFinished persists the terminal transition of a run and refreshes the
// owning workflow's rollups.
func (r *Recorder) RunFinished(ctx context.Context, runID, workflowID string, update store.RunUpdate) {
	r.write(ctx, "finish run "+runID, func(ctx context.Context) error {
		return r.store.FinishRun(ctx, runID, update)
	})
	r.write(ctx, "rollup workflow "+workflowID, func(ctx context.Context) error {
		return r.store.RecordRunRollup(ctx, workflowID, store.Rollup{
			RunID:  runID,
			At:     update.CompletedAt,
			Status: update.Status,
		})
	})
}

// SweepInterrupted marks runs left `running` by a previous process as
// errored. Called once at startup, before any new run begins.
func (r *Recorder) SweepInterrupted(ctx context.Context) (int, error) {
	n, err := r.store.MarkInterruptedRuns(ctx, "interrupted by engine restart")
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Warn("marked interrupted runs as errored", "count", n)
	}
	return n, nil
}

// write executes a store write, deferring it to the retry queue on failure.
func (r *Recorder) write(ctx context.Context, desc string, apply func(ctx context.Context) error) {
	if err := apply(ctx); err != nil {
		r.logger.Error("run record write failed, queuing retry", "op", desc, "error", err)
		r.enqueue(&writeIntent{desc: desc, attempts: 1, apply: apply})
	}
}

func (r *Recorder) enqueue(intent *writeIntent) {
	select {
	case r.retry <- intent:
	default:
		r.logger.Error("recorder retry queue full, dropping write", "op", intent.desc)
	}
}

func (r *Recorder) retryLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.config.Backoff)
	defer ticker.Stop()

	for {
		select {
		case <-r.shutdown:
			return
		case <-ticker.C:
			r.drainOnce()
		}
	}
}

// drainOnce retries every intent currently queued. Intents that fail again
// and still have attempts left go back to the queue for the next tick.
func (r *Recorder) drainOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(r.retry); i > 0; i-- {
		var intent *writeIntent
		select {
		case intent = <-r.retry:
		default:
			return
		}

		err := intent.apply(ctx)
		if err == nil {
			r.logger.Info("deferred run record write succeeded", "op", intent.desc, "attempts", intent.attempts)
			continue
		}
		intent.attempts++
		if intent.attempts > r.config.MaxAttempts {
			r.logger.Error("giving up on run record write", "op", intent.desc, "attempts", intent.attempts, "error", err)
			continue
		}
		r.enqueue(intent)
	}
}
