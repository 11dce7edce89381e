package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool definitions for the trophysync MCP server.

func startSyncTool() mcp.Tool {
	return mcp.NewTool("start_sync",
		mcp.WithDescription("Start a Steam achievement sync for a user. Returns the job id to poll with job_status or job_summary."),
		mcp.WithNumber("user_id",
			mcp.Required(),
			mcp.Description("Local user id"),
		),
		mcp.WithString("mode",
			mcp.Required(),
			mcp.Description("Sync mode: 'full' (whole library), 'quick' (most played and recent games) or 'specific' (app_ids only)"),
		),
		mcp.WithBoolean("force_refresh",
			mcp.Description("Resync games synced within the freshness window (full and quick only)"),
		),
		mcp.WithNumber("max_games",
			mcp.Description("Number of games for a quick sync (default: 20)"),
		),
		mcp.WithArray("app_ids",
			mcp.Description("Steam app ids for a specific sync"),
		),
	)
}

func jobStatusTool() mcp.Tool {
	return mcp.NewTool("job_status",
		mcp.WithDescription("Get the normalized status of a job: state, progress counters, current game and the result once finished."),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job id returned by start_sync"),
		),
	)
}

func jobSummaryTool() mcp.Tool {
	return mcp.NewTool("job_summary",
		mcp.WithDescription("Get a short progress summary of a job with elapsed time and an estimate of the time remaining."),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job id returned by start_sync"),
		),
	)
}

func cancelJobTool() mcp.Tool {
	return mcp.NewTool("cancel_job",
		mcp.WithDescription("Cancel a job. A pending job never runs. A running job is interrupted between games when terminate is true, otherwise it finishes and its outcome is discarded."),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job id returned by start_sync"),
		),
		mcp.WithBoolean("terminate",
			mcp.Description("Interrupt a running job (default: false)"),
		),
	)
}

func activeJobsTool() mcp.Tool {
	return mcp.NewTool("active_jobs",
		mcp.WithDescription("List the jobs currently running for a user."),
		mcp.WithNumber("user_id",
			mcp.Required(),
			mcp.Description("Local user id"),
		),
	)
}

func userStatsTool() mcp.Tool {
	return mcp.NewTool("user_stats",
		mcp.WithDescription("Compute a user's trophy statistics: trophy counts by tier, completion rate, recent unlocks, velocity and trophy level."),
		mcp.WithNumber("user_id",
			mcp.Required(),
			mcp.Description("Local user id"),
		),
	)
}
