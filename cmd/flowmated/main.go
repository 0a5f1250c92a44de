// flowmated is the workflow execution daemon. It wires the store, the
// capability dispatcher, the interpreter, the run recorder, the queue and
// the scheduler together, then serves the conversational trigger surface
// over MCP stdio until interrupted.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowmate-io/flowmate/internal/capabilities"
	"github.com/flowmate-io/flowmate/internal/dispatch"
	"github.com/flowmate-io/flowmate/internal/expressions"
	"github.com/flowmate-io/flowmate/internal/interpreter"
	"github.com/flowmate-io/flowmate/internal/logging"
	"github.com/flowmate-io/flowmate/internal/progress"
	"github.com/flowmate-io/flowmate/internal/queue"
	"github.com/flowmate-io/flowmate/internal/recorder"
	"github.com/flowmate-io/flowmate/internal/runner"
	"github.com/flowmate-io/flowmate/internal/scheduler"
	"github.com/flowmate-io/flowmate/internal/secrets"
	"github.com/flowmate-io/flowmate/internal/store"
	"github.com/flowmate-io/flowmate/pkg/capability"
	"github.com/flowmate-io/flowmate/pkg/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "flowmated: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	registry := capability.NewRegistry()
	if err := capabilities.RegisterBuiltins(registry, capabilities.HTTPConfig{}); err != nil {
		return fmt.Errorf("register capabilities: %w", err)
	}
	dispatcher := dispatch.New(registry, dispatch.Config{}, logger)

	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return fmt.Errorf("cel engine: %w", err)
	}
	engines := map[string]expressions.Engine{
		expressions.EngineExpr: expressions.NewExprEngine(),
		expressions.EngineCEL:  celEngine,
	}

	hub := progress.NewMemoryHub()
	interp := interpreter.New(dispatcher, engines, hub, logger)

	rec := recorder.New(st, recorder.Config{}, logger)
	defer rec.Close()
	if swept, sweepErr := rec.SweepInterrupted(ctx); sweepErr != nil {
		logger.Warn("interrupted run sweep failed", "error", sweepErr)
	} else if swept > 0 {
		logger.Info("marked interrupted runs", "count", swept)
	}

	creds, err := loadCredentials(cfg.CredentialsPath)
	if err != nil {
		return err
	}

	r := runner.New(st, interp, rec, creds, logger)

	q := queue.New(st, func(ctx context.Context, inv queue.Invocation) error {
		result, invErr := r.Invoke(ctx, inv.WorkflowID, inv.UserID, inv.TriggerType, inv.Payload)
		if invErr != nil {
			return invErr
		}
		if !result.Success {
			logger.Warn("queued run failed",
				"workflow_id", inv.WorkflowID, "run_id", result.RunID,
				"error", result.Error, "step_id", result.ErrorStep)
		}
		return nil
	}, queue.Config{Concurrency: cfg.PoolSize, Backlog: cfg.QueueBacklog}, logger)
	if err := q.Start(ctx); err != nil {
		return fmt.Errorf("start queue: %w", err)
	}
	defer q.Shutdown()

	sched := scheduler.New(st, q, time.Duration(cfg.RescanSeconds)*time.Second, logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	srv := mcp.NewFlowmateServer(mcp.FlowmateServerDeps{
		Invoker: r,
		Store:   st,
		Hub:     hub,
		Logger:  logger,
	})

	logger.Info("flowmated started", "db", cfg.DBPath, "pool_size", cfg.PoolSize)
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp serve: %w", err)
	}
	logger.Info("flowmated shutting down")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func openStore(cfg Config) (store.Store, error) {
	if cfg.DBPath == "memory" {
		return store.NewMemoryStore(), nil
	}
	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", cfg.DBPath, err)
	}
	return st, nil
}

// loadCredentials reads an optional JSON file mapping owner ids to
// credential sets. Shape: {"user-1": {"crm": {"token": "..."}}}.
func loadCredentials(path string) (secrets.Source, error) {
	src := secrets.NewStatic()
	if path == "" {
		return src, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	var byOwner map[string]map[string]any
	if err := json.Unmarshal(data, &byOwner); err != nil {
		return nil, fmt.Errorf("parse credentials file %s: %w", path, err)
	}
	for owner, creds := range byOwner {
		src.Set(owner, creds)
	}
	return src, nil
}
