package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/asteroid-belt/trophysync/internal/jobs"
	"github.com/asteroid-belt/trophysync/internal/stats"
	"github.com/asteroid-belt/trophysync/internal/syncer"
)

// maxQuickGames caps max_games for quick syncs started over MCP.
const maxQuickGames = 200

// trackToolCall is a helper to track MCP tool invocations.
func (s *Server) trackToolCall(toolName string, start time.Time, success bool) {
	s.telemetry.TrackMCPToolCalled(toolName, time.Since(start).Milliseconds(), success)
}

// StartResult acknowledges a started sync.
type StartResult struct {
	Success bool   `json:"success"`
	JobID   string `json:"task_id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ActiveJobsResult lists a user's running jobs.
type ActiveJobsResult struct {
	Tasks []jobs.RunningJob `json:"tasks"`
}

func userIDArg(args map[string]interface{}) (int64, bool) {
	v, ok := args["user_id"].(float64)
	if !ok || v <= 0 || v != float64(int64(v)) {
		return 0, false
	}
	return int64(v), true
}

func jobIDArg(args map[string]interface{}) (string, bool) {
	id, ok := args["job_id"].(string)
	return id, ok && id != ""
}

func appIDsArg(args map[string]interface{}) ([]int64, error) {
	raw, ok := args["app_ids"].([]interface{})
	if !ok || len(raw) == 0 {
		return nil, errors.New("app_ids is required for a specific sync")
	}
	ids := make([]int64, 0, len(raw))
	for _, v := range raw {
		f, ok := v.(float64)
		if !ok || f <= 0 {
			return nil, fmt.Errorf("invalid app id %v", v)
		}
		ids = append(ids, int64(f))
	}
	return ids, nil
}

// jsonResult marshals v into a text result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleStartSync(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	args := req.Params.Arguments

	userID, ok := userIDArg(args)
	if !ok {
		s.trackToolCall("start_sync", start, false)
		return mcp.NewToolResultError("user_id parameter is required"), nil
	}
	force, _ := args["force_refresh"].(bool)

	var (
		kind   string
		params any
	)
	mode, _ := args["mode"].(string)
	switch mode {
	case "full":
		kind, params = syncer.KindFull, syncer.FullParams{ForceRefresh: force}
	case "quick":
		p := syncer.QuickParams{ForceRefresh: force}
		if n, ok := args["max_games"].(float64); ok && n > 0 {
			p.MaxGames = min(int(n), maxQuickGames)
		}
		kind, params = syncer.KindQuick, p
	case "specific":
		ids, err := appIDsArg(args)
		if err != nil {
			s.trackToolCall("start_sync", start, false)
			return mcp.NewToolResultError(err.Error()), nil
		}
		kind, params = syncer.KindSpecific, syncer.SpecificParams{AppIDs: ids}
	default:
		s.trackToolCall("start_sync", start, false)
		return mcp.NewToolResultError("mode must be one of: full, quick, specific"), nil
	}

	id, err := s.engine.StartSync(ctx, kind, userID, params)
	if err != nil {
		s.trackToolCall("start_sync", start, false)
		return mcp.NewToolResultError(fmt.Sprintf("failed to start sync: %v", err)), nil
	}

	s.trackToolCall("start_sync", start, true)
	return jsonResult(StartResult{
		Success: true,
		JobID:   id,
		Kind:    kind,
		Message: fmt.Sprintf("%s sync started for user %d", mode, userID),
	})
}

func (s *Server) handleJobStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()

	id, ok := jobIDArg(req.Params.Arguments)
	if !ok {
		s.trackToolCall("job_status", start, false)
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	view, err := s.engine.Status().Get(ctx, id)
	if err != nil {
		s.trackToolCall("job_status", start, false)
		return mcp.NewToolResultError(fmt.Sprintf("failed to get status: %v", err)), nil
	}

	s.trackToolCall("job_status", start, true)
	return jsonResult(view)
}

func (s *Server) handleJobSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()

	id, ok := jobIDArg(req.Params.Arguments)
	if !ok {
		s.trackToolCall("job_summary", start, false)
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	sum, err := s.engine.Status().Summary(ctx, id)
	if err != nil {
		s.trackToolCall("job_summary", start, false)
		return mcp.NewToolResultError(fmt.Sprintf("failed to get summary: %v", err)), nil
	}

	s.trackToolCall("job_summary", start, true)
	return jsonResult(sum)
}

func (s *Server) handleCancelJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()

	id, ok := jobIDArg(req.Params.Arguments)
	if !ok {
		s.trackToolCall("cancel_job", start, false)
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}
	terminate, _ := req.Params.Arguments["terminate"].(bool)

	res, err := s.engine.Status().Cancel(ctx, id, terminate)
	if err != nil {
		s.trackToolCall("cancel_job", start, false)
		return mcp.NewToolResultError(fmt.Sprintf("failed to cancel job: %v", err)), nil
	}

	s.trackToolCall("cancel_job", start, true)
	return jsonResult(res)
}

func (s *Server) handleActiveJobs(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()

	userID, ok := userIDArg(req.Params.Arguments)
	if !ok {
		s.trackToolCall("active_jobs", start, false)
		return mcp.NewToolResultError("user_id parameter is required"), nil
	}

	s.trackToolCall("active_jobs", start, true)
	return jsonResult(ActiveJobsResult{Tasks: s.engine.Status().ListActive(userID)})
}

func (s *Server) handleUserStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()

	userID, ok := userIDArg(req.Params.Arguments)
	if !ok {
		s.trackToolCall("user_stats", start, false)
		return mcp.NewToolResultError("user_id parameter is required"), nil
	}

	st, err := s.engine.Stats().Compute(ctx, userID)
	if err != nil {
		s.trackToolCall("user_stats", start, false)
		if errors.Is(err, stats.ErrUserNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("user not found: %d", userID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to compute stats: %v", err)), nil
	}

	s.trackToolCall("user_stats", start, true)
	return jsonResult(stats.AsMap(st))
}
