// Package scheduler arms cron timers for active schedule-triggered
// workflows. It periodically rescans the store, diffs the armed set
// against current definitions, and submits due workflows to the run
// queue. The timer goroutine never executes a run inline.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowmate-io/flowmate/internal/queue"
	"github.com/flowmate-io/flowmate/internal/store"
	"github.com/flowmate-io/flowmate/pkg/schema"
)

// DefaultRescanInterval is how often the armed set is reconciled with the
// store.
const DefaultRescanInterval = 30 * time.Second

// Submitter hands a due invocation to the run queue. Satisfied by
// *queue.Queue.
type Submitter interface {
	Submit(ctx context.Context, inv queue.Invocation) (string, error)
}

// armed is one live cron registration.
type armed struct {
	spec    string
	entryID cron.EntryID
}

// Scheduler reconciles cron entries with active workflow definitions.
type Scheduler struct {
	store     store.Store
	submitter Submitter
	cron      *cron.Cron
	parser    cron.Parser
	interval  time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]armed // keyed by workflow id
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Scheduler. A non-positive rescan interval uses the default.
func New(s store.Store, submitter Submitter, rescan time.Duration, logger *slog.Logger) *Scheduler {
	if rescan <= 0 {
		rescan = DefaultRescanInterval
	}
	// One parser for both validation and arming, so a spec that passes
	// validation can never be rejected by AddFunc. Descriptors such as
	// "@hourly" are accepted.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		store:     s,
		submitter: submitter,
		cron:      cron.New(cron.WithParser(parser)),
		parser:    parser,
		interval:  rescan,
		logger:    logger,
		entries:   make(map[string]armed),
	}
}

// Start launches the cron runtime and the rescan loop. The first rescan
// happens immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.cron.Start()
	go s.loop(schedCtx)
	s.logger.Info("scheduler started", "rescan_interval", s.interval.String())
	return nil
}

// Stop disarms everything and waits for the rescan loop to exit. Fired
// submissions already queued keep running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	<-done
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Rescan(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Rescan(ctx)
		}
	}
}

// Rescan reconciles the armed cron entries with the store: arms new or
// changed schedules, disarms removed, paused, or retired ones. Exported so
// definition mutations can trigger an immediate reconcile.
func (s *Scheduler) Rescan(ctx context.Context) {
	active := schema.WorkflowStatusActive
	trigger := schema.TriggerSchedule
	workflows, err := s.store.ListWorkflows(ctx, store.WorkflowFilter{
		Status:      &active,
		TriggerType: &trigger,
	})
	if err != nil {
		s.logger.Error("scheduler rescan failed", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(workflows))
	for _, wf := range workflows {
		seen[wf.ID] = struct{}{}
		spec := wf.Trigger.CronSpec()

		if current, ok := s.entries[wf.ID]; ok {
			if current.spec == spec {
				continue
			}
			// Spec changed: disarm before re-arming.
			s.cron.Remove(current.entryID)
			delete(s.entries, wf.ID)
		}
		s.arm(wf.ID, wf.OwnerID, spec)
	}

	for id, entry := range s.entries {
		if _, ok := seen[id]; !ok {
			s.cron.Remove(entry.entryID)
			delete(s.entries, id)
			s.logger.Info("schedule disarmed", "workflow_id", id)
		}
	}
}

// arm registers a cron entry for the workflow. An invalid spec is reported
// and the workflow stays unarmed until its definition is fixed.
func (s *Scheduler) arm(workflowID, ownerID, spec string) {
	if _, err := s.parser.Parse(spec); err != nil {
		flowErr := schema.NewErrorf(schema.ErrCodeScheduleInvalid,
			"invalid cron spec %q for workflow %s: %s", spec, workflowID, err.Error()).WithCause(err)
		s.logger.Error("schedule not armed", "workflow_id", workflowID, "error", flowErr)
		return
	}

	entryID, err := s.cron.AddFunc(spec, func() { s.fire(workflowID, ownerID) })
	if err != nil {
		s.logger.Error("schedule not armed", "workflow_id", workflowID, "error", err)
		return
	}
	s.entries[workflowID] = armed{spec: spec, entryID: entryID}
	s.logger.Info("schedule armed", "workflow_id", workflowID, "cron", spec)
}

// fire submits the workflow to the run queue when its timer goes off.
func (s *Scheduler) fire(workflowID, ownerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := s.submitter.Submit(ctx, queue.Invocation{
		WorkflowID:  workflowID,
		UserID:      ownerID,
		TriggerType: schema.TriggerSchedule,
		Payload: map[string]any{
			"scheduled_for": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		s.logger.Error("scheduled submission failed", "workflow_id", workflowID, "error", err)
	}
}

// Armed returns the workflow ids with live cron entries. Test hook and
// status surface.
func (s *Scheduler) Armed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}
