package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flowmate-io/flowmate/internal/progress"
	"github.com/flowmate-io/flowmate/internal/store"
	"github.com/flowmate-io/flowmate/pkg/schema"
)

const (
	defaultWatchTimeout = 30 * time.Second
	maxWatchTimeout     = 5 * time.Minute
)

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("flowmate.run",
		mcp.WithDescription("Trigger a workflow and wait for its result"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to run")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("ID of the user on whose behalf the workflow runs")),
		mcp.WithObject("payload", mcp.Description("Trigger payload, visible to steps as {{trigger.*}}")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("flowmate.status",
		mcp.WithDescription("Look up a run by ID"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to look up")),
	)
}

func watchTool() mcp.Tool {
	return mcp.NewTool("flowmate.watch",
		mcp.WithDescription("Collect live progress events for a run until it finishes or the timeout elapses"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to watch")),
		mcp.WithString("timeout_seconds", mcp.Description("How long to wait for the run to finish (default 30, max 300)")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("flowmate.query",
		mcp.WithDescription("List workflows or runs"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("workflows", "runs"),
			mcp.Description("Type of resource to list"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (status, owner_id, workflow_id, user_id, trigger_type, limit)")),
	)
}

// --- Tool handlers ---

// handleRun triggers a workflow as a conversational invocation and returns
// the synchronous result. A failed run is a normal result with
// success=false; only pre-run failures (unknown or inactive workflow)
// surface as tool errors.
func (s *FlowmateServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	payload := mcp.ParseStringMap(req, "payload", nil)

	result, runErr := s.invoker.Invoke(ctx, workflowID, userID, schema.TriggerConversational, payload)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow invocation failed: %v", runErr)), nil
	}
	return marshalResult(result)
}

// handleStatus returns the stored run record.
func (s *FlowmateServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	run, getErr := s.store.GetRun(ctx, runID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", getErr)), nil
	}
	return marshalResult(run)
}

// handleWatch subscribes to the progress hub and collects events for a run
// until a terminal event arrives or the timeout elapses. The run itself is
// unaffected if the watcher gives up early.
func (s *FlowmateServer) handleWatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	if s.hub == nil {
		return mcp.NewToolResultError("progress streaming is not configured"), nil
	}

	timeout := defaultWatchTimeout
	if raw := req.GetString("timeout_seconds", ""); raw != "" {
		secs, parseErr := strconv.Atoi(raw)
		if parseErr != nil || secs <= 0 {
			return mcp.NewToolResultError("timeout_seconds must be a positive integer"), nil
		}
		timeout = time.Duration(secs) * time.Second
		if timeout > maxWatchTimeout {
			timeout = maxWatchTimeout
		}
	}

	watchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	events, unsubscribe, subErr := s.hub.Subscribe(watchCtx, progress.Filter{RunID: runID})
	if subErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("subscribe failed: %v", subErr)), nil
	}
	defer unsubscribe()

	// If the run already finished before we subscribed, report its stored
	// state instead of waiting out the timeout.
	if run, getErr := s.store.GetRun(ctx, runID); getErr == nil && run.Status != schema.RunStatusRunning {
		return marshalResult(map[string]any{
			"run_id":   runID,
			"status":   run.Status,
			"complete": true,
			"events":   []progress.Event{},
		})
	}

	collected := make([]progress.Event, 0, 8)
	complete := false
	for !complete {
		select {
		case ev, ok := <-events:
			if !ok {
				complete = true
				break
			}
			collected = append(collected, ev)
			if ev.Type == schema.EventRunCompleted || ev.Type == schema.EventRunFailed {
				complete = true
			}
		case <-watchCtx.Done():
			return marshalResult(map[string]any{
				"run_id":   runID,
				"complete": false,
				"events":   collected,
			})
		}
	}

	return marshalResult(map[string]any{
		"run_id":   runID,
		"complete": true,
		"events":   collected,
	})
}

// handleQuery lists workflows or runs based on filters.
func (s *FlowmateServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "workflows":
		return s.queryWorkflows(ctx, filter)
	case "runs":
		return s.queryRuns(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

func (s *FlowmateServer) queryWorkflows(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	wf := store.WorkflowFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		ws := schema.WorkflowStatus(status)
		wf.Status = &ws
	}
	if triggerType, ok := filter["trigger_type"].(string); ok && triggerType != "" {
		tt := schema.TriggerType(triggerType)
		wf.TriggerType = &tt
	}
	if ownerID, ok := filter["owner_id"].(string); ok {
		wf.OwnerID = ownerID
	}

	workflows, err := s.store.ListWorkflows(ctx, wf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"workflows": workflows})
}

func (s *FlowmateServer) queryRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	rf := store.RunFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if workflowID, ok := filter["workflow_id"].(string); ok {
		rf.WorkflowID = workflowID
	}
	if userID, ok := filter["user_id"].(string); ok {
		rf.UserID = userID
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		rs := schema.RunStatus(status)
		rf.Status = &rs
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, parseErr := time.Parse(time.RFC3339, since); parseErr == nil {
			rf.Since = &t
		}
	}

	runs, err := s.store.ListRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

// --- Internal helpers ---

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
