package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/caseflow/internal/storage"
)

// MCPDeps holds dependencies for the reviewer-facing MCP server.
type MCPDeps struct {
	Store *storage.Store
}

// NewMCPServer exposes the review queue over MCP so reviewers can work the
// queue from their own tooling. Same store, same transition rules as the
// HTTP review surface.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"caseflow",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("caseflow — support triage pipeline review queue: inspect drafted responses and their evidence, then approve, rewrite, or escalate."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_review_queue",
			mcp.WithDescription("List jobs waiting for human review (status responded), newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of jobs (default 20)")),
		),
		mcpListReviewQueue(deps),
	)

	s.AddTool(
		mcp.NewTool("get_job",
			mcp.WithDescription("Fetch one job with its redacted text, triage record, drafted report, and audit trail."),
			mcp.WithString("job_id", mcp.Description("Job identifier"), mcp.Required()),
		),
		mcpGetJob(deps),
	)

	s.AddTool(
		mcp.NewTool("get_evidence",
			mcp.WithDescription("Fetch the evidence bundles gathered for a job."),
			mcp.WithString("job_id", mcp.Description("Job identifier"), mcp.Required()),
		),
		mcpGetEvidence(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_review",
			mcp.WithDescription("Record a review decision. approve moves a responded job to awaiting_dispatch; escalate hands it off; rewrite records notes for a follow-up pass."),
			mcp.WithString("job_id", mcp.Description("Job identifier"), mcp.Required()),
			mcp.WithString("action", mcp.Description("approve, rewrite, or escalate"), mcp.Required()),
			mcp.WithString("reviewer", mcp.Description("Reviewer identity"), mcp.Required()),
			mcp.WithString("notes", mcp.Description("Optional review notes")),
		),
		mcpSubmitReview(deps),
	)

	return s
}

func mcpListReviewQueue(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		jobs, err := deps.Store.ListJobs(storage.StatusResponded, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("listing review queue: %v", err)), nil
		}

		views := make([]jobView, 0, len(jobs))
		for _, j := range jobs {
			views = append(views, toJobView(j))
		}
		b, err := json.Marshal(views)
		if err != nil {
			return mcpError(fmt.Sprintf("encoding queue: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetJob(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}

		job, err := deps.Store.GetJob(id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError("job not found"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("fetching job: %v", err)), nil
		}

		trail, err := deps.Store.AuditTrail(id)
		if err != nil {
			return mcpError(fmt.Sprintf("fetching audit trail: %v", err)), nil
		}

		type auditView struct {
			FromStatus string `json:"from_status,omitempty"`
			ToStatus   string `json:"to_status"`
			Stage      string `json:"stage"`
			Detail     string `json:"detail,omitempty"`
			CreatedAt  string `json:"created_at"`
		}
		audits := make([]auditView, 0, len(trail))
		for _, e := range trail {
			audits = append(audits, auditView{
				FromStatus: e.FromStatus,
				ToStatus:   e.ToStatus,
				Stage:      e.Stage,
				Detail:     e.Detail,
				CreatedAt:  e.CreatedAt.Format(time.RFC3339),
			})
		}

		b, err := json.Marshal(map[string]any{
			"job":   toJobView(job),
			"audit": audits,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("encoding job: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetEvidence(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}

		if _, err := deps.Store.GetJob(id); errors.Is(err, storage.ErrNotFound) {
			return mcpError("job not found"), nil
		} else if err != nil {
			return mcpError(fmt.Sprintf("fetching job: %v", err)), nil
		}

		recs, err := deps.Store.EvidenceForJob(id)
		if err != nil {
			return mcpError(fmt.Sprintf("fetching evidence: %v", err)), nil
		}

		views := make([]evidenceView, 0, len(recs))
		for _, rec := range recs {
			views = append(views, evidenceView{
				ID:         rec.ID,
				ToolName:   rec.ToolName,
				Params:     json.RawMessage(rec.ParamsJSON),
				Bundle:     json.RawMessage(rec.BundleJSON),
				TimeBucket: rec.TimeBucket,
				CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
			})
		}
		b, err := json.Marshal(views)
		if err != nil {
			return mcpError(fmt.Sprintf("encoding evidence: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSubmitReview(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}
		action, err := req.RequireString("action")
		if err != nil {
			return mcpError("action is required"), nil
		}
		if action != "approve" && action != "rewrite" && action != "escalate" {
			return mcpError("action must be approve, rewrite, or escalate"), nil
		}
		reviewer, err := req.RequireString("reviewer")
		if err != nil {
			return mcpError("reviewer is required"), nil
		}
		notes := req.GetString("notes", "")

		err = deps.Store.ReviewJob(id, action, reviewer, notes)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return mcpError("job not found"), nil
		case errors.Is(err, storage.ErrStatusChanged), errors.Is(err, storage.ErrInvalidTransition):
			return mcpError(err.Error()), nil
		case err != nil:
			return mcpError(fmt.Sprintf("recording review: %v", err)), nil
		}

		job, err := deps.Store.GetJob(id)
		if err != nil {
			return mcpError(fmt.Sprintf("review recorded but reload failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Recorded %s by %s; job %s is now %s", action, reviewer, id, job.Status)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
