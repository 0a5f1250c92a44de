package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowmate-io/flowmate/pkg/schema"
)

// MemoryStore is an in-memory Store used in tests and when no database
// path is configured. Nothing survives a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*schema.Workflow
	runs      map[string]*schema.Run
	queue     map[string]*QueueItem
	// rollups remembers the last run counted per workflow, mirroring the
	// last_run_id column that keeps retried rollups idempotent.
	rollups map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*schema.Workflow),
		runs:      make(map[string]*schema.Run),
		queue:     make(map[string]*QueueItem),
		rollups:   make(map[string]string),
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

// --- Workflows ---

func (s *MemoryStore) CreateWorkflow(_ context.Context, wf *schema.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workflows[wf.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow %q already exists", wf.ID)
	}
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = time.Now().UTC()
	}
	if wf.UpdatedAt.IsZero() {
		wf.UpdatedAt = wf.CreatedAt
	}
	cp := *wf
	s.workflows[wf.ID] = &cp
	return nil
}

func (s *MemoryStore) GetWorkflow(_ context.Context, id string) (*schema.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, storeNotFound("workflow", id)
	}
	cp := *wf
	return &cp, nil
}

func (s *MemoryStore) UpdateWorkflow(_ context.Context, id string, update WorkflowUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return storeNotFound("workflow", id)
	}
	if update.Name != nil {
		wf.Name = *update.Name
	}
	if update.Status != nil {
		wf.Status = *update.Status
	}
	if update.Trigger != nil {
		wf.Trigger = *update.Trigger
	}
	if update.Steps != nil {
		wf.Steps = update.Steps
	}
	wf.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListWorkflows(_ context.Context, filter WorkflowFilter) ([]*schema.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*schema.Workflow
	for _, wf := range s.workflows {
		if filter.Status != nil && wf.Status != *filter.Status {
			continue
		}
		if filter.TriggerType != nil && wf.Trigger.Type != *filter.TriggerType {
			continue
		}
		if filter.OwnerID != "" && wf.OwnerID != filter.OwnerID {
			continue
		}
		cp := *wf
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (s *MemoryStore) RecordRunRollup(_ context.Context, workflowID string, rollup Rollup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[workflowID]
	if !ok {
		return storeNotFound("workflow", workflowID)
	}
	if rollup.RunID != "" && s.rollups[workflowID] == rollup.RunID {
		return nil
	}
	s.rollups[workflowID] = rollup.RunID
	wf.RunsCount++
	at := timeOrNow(rollup.At)
	wf.LastRunAt = &at
	wf.LastRunStatus = rollup.Status
	wf.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Runs ---

func (s *MemoryStore) CreateRun(_ context.Context, run *schema.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %q already exists", run.ID)
	}
	if run.Status == "" {
		run.Status = schema.RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*schema.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, storeNotFound("run", id)
	}
	cp := *run
	return &cp, nil
}

func (s *MemoryStore) FinishRun(_ context.Context, id string, update RunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.Status != schema.RunStatusRunning {
		return storeNotFound("run", id)
	}
	run.Status = update.Status
	run.Output = update.Output
	run.ErrorMessage = update.ErrorMessage
	run.ErrorStepID = update.ErrorStepID
	at := timeOrNow(update.CompletedAt)
	run.CompletedAt = &at
	run.DurationMs = update.DurationMs
	return nil
}

func (s *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]*schema.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*schema.Run
	for _, run := range s.runs {
		if filter.WorkflowID != "" && run.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.UserID != "" && run.UserID != filter.UserID {
			continue
		}
		if filter.Status != nil && run.Status != *filter.Status {
			continue
		}
		if filter.Since != nil && run.StartedAt.Before(*filter.Since) {
			continue
		}
		cp := *run
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (s *MemoryStore) MarkInterruptedRuns(_ context.Context, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var n int
	for _, run := range s.runs {
		if run.Status != schema.RunStatusRunning {
			continue
		}
		run.Status = schema.RunStatusError
		run.ErrorMessage = reason
		at := now
		run.CompletedAt = &at
		n++
	}
	return n, nil
}

// --- Queue items ---

func (s *MemoryStore) EnqueueItem(_ context.Context, item *QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.queue[item.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "queue item %q already exists", item.ID)
	}
	if item.Status == "" {
		item.Status = QueueItemPending
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.UpdatedAt = timeOrNow(item.UpdatedAt)
	cp := *item
	s.queue[item.ID] = &cp
	return nil
}

func (s *MemoryStore) ListQueueItems(_ context.Context, filter QueueFilter) ([]*QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*QueueItem
	for _, item := range s.queue {
		if filter.WorkflowID != "" && item.WorkflowID != filter.WorkflowID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, item.Status) {
			continue
		}
		cp := *item
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateQueueItem(_ context.Context, id string, status QueueItemStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.queue[id]
	if !ok {
		return storeNotFound("queue_item", id)
	}
	item.Status = status
	item.UpdatedAt = time.Now().UTC()
	return nil
}

func containsStatus(set []QueueItemStatus, st QueueItemStatus) bool {
	for _, s := range set {
		if s == st {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
