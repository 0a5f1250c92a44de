package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/flowmate-io/flowmate/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *schema.Workflow) error {
	trigger, err := json.Marshal(wf.Trigger)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	steps, err := json.Marshal(wf.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, owner_id, tenant_id, name, status, trigger, steps, runs_count, last_run_at, last_run_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.OwnerID, nullStr(wf.TenantID), nullStr(wf.Name), string(wf.Status),
		string(trigger), string(steps), wf.RunsCount,
		nullTime(wf.LastRunAt), nullStr(string(wf.LastRunStatus)),
		timeOrNow(wf.CreatedAt), timeOrNow(wf.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, tenant_id, name, status, trigger, steps, runs_count, last_run_at, last_run_status, created_at, updated_at
		 FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	return wf, err
}

func (s *LibSQLStore) UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error {
	var sets []string
	var args []any

	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Trigger != nil {
		trigger, err := json.Marshal(update.Trigger)
		if err != nil {
			return fmt.Errorf("marshal trigger: %w", err)
		}
		sets = append(sets, "trigger = ?")
		args = append(args, string(trigger))
	}
	if update.Steps != nil {
		steps, err := json.Marshal(update.Steps)
		if err != nil {
			return fmt.Errorf("marshal steps: %w", err)
		}
		sets = append(sets, "steps = ?")
		args = append(args, string(steps))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE workflows SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.TriggerType != nil {
		// Trigger is a JSON column; the type lives at $.type.
		where = append(where, "json_extract(trigger, '$.type') = ?")
		args = append(args, string(*filter.TriggerType))
	}
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}

	query := `SELECT id, owner_id, tenant_id, name, status, trigger, steps, runs_count, last_run_at, last_run_status, created_at, updated_at FROM workflows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*schema.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// RecordRunRollup bumps runs_count and refreshes the last-run fields in a
// single statement. The last_run_id guard makes the write idempotent per
// run: a retried rollup for an already-counted run is a no-op.
func (s *LibSQLStore) RecordRunRollup(ctx context.Context, workflowID string, rollup Rollup) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET runs_count = runs_count + 1, last_run_at = ?, last_run_status = ?, last_run_id = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND (? = '' OR last_run_id IS NULL OR last_run_id <> ?)`,
		timeOrNow(rollup.At), string(rollup.Status), rollup.RunID, workflowID, rollup.RunID, rollup.RunID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the workflow is gone or this run was already counted;
		// only the former is an error.
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM workflows WHERE id = ?`, workflowID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return storeNotFound("workflow", workflowID)
		}
	}
	return nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row scanner) (*schema.Workflow, error) {
	wf := &schema.Workflow{}
	var (
		tenantID, name, lastStatus sql.NullString
		triggerJSON, stepsJSON     string
		status                     string
		lastRunAt                  sql.NullTime
	)
	if err := row.Scan(&wf.ID, &wf.OwnerID, &tenantID, &name, &status,
		&triggerJSON, &stepsJSON, &wf.RunsCount, &lastRunAt, &lastStatus,
		&wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	wf.TenantID = tenantID.String
	wf.Name = name.String
	wf.Status = schema.WorkflowStatus(status)
	wf.LastRunStatus = schema.RunStatus(lastStatus.String)
	if lastRunAt.Valid {
		wf.LastRunAt = &lastRunAt.Time
	}
	if err := json.Unmarshal([]byte(triggerJSON), &wf.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshal trigger: %w", err)
	}
	if err := json.Unmarshal([]byte(stepsJSON), &wf.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return wf, nil
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *schema.Run) error {
	payload, err := nullableMap(run.TriggerPayload)
	if err != nil {
		return fmt.Errorf("marshal trigger_payload: %w", err)
	}
	if run.Status == "" {
		run.Status = schema.RunStatusRunning
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, workflow_id, user_id, trigger_type, trigger_payload, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, nullStr(run.UserID), string(run.TriggerType),
		payload, string(run.Status), timeOrNow(run.StartedAt),
	)
	return err
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*schema.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, user_id, trigger_type, trigger_payload, status, output, error_message, error_step_id, started_at, completed_at, duration_ms
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	return run, err
}

// FinishRun writes the terminal fields of a run. The status guard keeps a
// finished run immutable: a second terminal write is a NOT_FOUND.
func (s *LibSQLStore) FinishRun(ctx context.Context, id string, update RunUpdate) error {
	output, err := nullableAny(update.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, output = ?, error_message = ?, error_step_id = ?, completed_at = ?, duration_ms = ?
		 WHERE id = ? AND status = 'running'`,
		string(update.Status), output, nullStr(update.ErrorMessage), nullStr(update.ErrorStepID),
		timeOrNow(update.CompletedAt), update.DurationMs, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*schema.Run, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, workflow_id, user_id, trigger_type, trigger_payload, status, output, error_message, error_step_id, started_at, completed_at, duration_ms FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*schema.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *LibSQLStore) MarkInterruptedRuns(ctx context.Context, reason string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = 'error', error_message = ?, completed_at = CURRENT_TIMESTAMP
		 WHERE status = 'running'`, reason)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanRun(row scanner) (*schema.Run, error) {
	run := &schema.Run{}
	var (
		userID, payloadJSON, outputJSON sql.NullString
		errorMessage, errorStepID       sql.NullString
		triggerType, status             string
		completedAt                     sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.WorkflowID, &userID, &triggerType, &payloadJSON,
		&status, &outputJSON, &errorMessage, &errorStepID,
		&run.StartedAt, &completedAt, &run.DurationMs); err != nil {
		return nil, err
	}
	run.UserID = userID.String
	run.TriggerType = schema.TriggerType(triggerType)
	run.Status = schema.RunStatus(status)
	run.ErrorMessage = errorMessage.String
	run.ErrorStepID = errorStepID.String
	if payloadJSON.Valid && payloadJSON.String != "" {
		_ = json.Unmarshal([]byte(payloadJSON.String), &run.TriggerPayload)
	}
	if outputJSON.Valid && outputJSON.String != "" {
		_ = json.Unmarshal([]byte(outputJSON.String), &run.Output)
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// --- Queue items ---

func (s *LibSQLStore) EnqueueItem(ctx context.Context, item *QueueItem) error {
	payload, err := nullableMap(item.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if item.Status == "" {
		item.Status = QueueItemPending
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO queue_items (id, workflow_id, user_id, trigger_type, payload, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.WorkflowID, nullStr(item.UserID), string(item.TriggerType),
		payload, string(item.Status), timeOrNow(item.CreatedAt), timeOrNow(item.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) ListQueueItems(ctx context.Context, filter QueueFilter) ([]*QueueItem, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT id, workflow_id, user_id, trigger_type, payload, status, created_at, updated_at FROM queue_items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*QueueItem
	for rows.Next() {
		item := &QueueItem{}
		var userID, payloadJSON sql.NullString
		var triggerType, status string
		if err := rows.Scan(&item.ID, &item.WorkflowID, &userID, &triggerType,
			&payloadJSON, &status, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		item.UserID = userID.String
		item.TriggerType = schema.TriggerType(triggerType)
		item.Status = QueueItemStatus(status)
		if payloadJSON.Valid && payloadJSON.String != "" {
			_ = json.Unmarshal([]byte(payloadJSON.String), &item.Payload)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *LibSQLStore) UpdateQueueItem(ctx context.Context, id string, status QueueItemStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(status), id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "queue_item", id)
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableMap(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullableAny(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
