package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/caseflow/internal/redact"
	"github.com/kalambet/caseflow/internal/storage"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return MCPDeps{Store: store}, store
}

func enqueueDirect(t *testing.T, store *storage.Store, tenant, text string) storage.Job {
	t.Helper()
	job, _, err := store.EnqueueJob(storage.Job{
		ID:             uuid.New().String(),
		Tenant:         tenant,
		Source:         "test",
		RawText:        text,
		IdempotencyKey: storage.IdempotencyKey(tenant, redact.Normalize(text)),
	})
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	return job
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPTool_ListReviewQueue(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	handler := mcpListReviewQueue(deps)

	ready := enqueueDirect(t, store, "acme", "drafted and waiting")
	enqueueDirect(t, store, "acme", "still queued")
	forceProcessed(t, store, ready.ID)

	result, err := handler(context.Background(), makeCallToolRequest("list_review_queue", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var views []jobView
	if err := json.Unmarshal([]byte(toolText(t, result)), &views); err != nil {
		t.Fatalf("decoding queue: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("got %d queued reviews, want 1", len(views))
	}
	if views[0].ID != ready.ID || views[0].Status != storage.StatusResponded {
		t.Errorf("queue entry = %+v", views[0])
	}
}

func TestMCPTool_GetJob(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	handler := mcpGetJob(deps)

	job := enqueueDirect(t, store, "acme", "message from sam@example.com")
	forceProcessed(t, store, job.ID)

	result, err := handler(context.Background(), makeCallToolRequest("get_job", map[string]interface{}{
		"job_id": job.ID,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	text := toolText(t, result)
	if strings.Contains(text, "sam@example.com") {
		t.Errorf("raw text leaked through get_job: %s", text)
	}

	var payload struct {
		Job   jobView           `json:"job"`
		Audit []json.RawMessage `json:"audit"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		t.Fatalf("decoding get_job: %v", err)
	}
	if payload.Job.ID != job.ID {
		t.Errorf("job.ID = %s, want %s", payload.Job.ID, job.ID)
	}
	// Enqueue records the initial transition.
	if len(payload.Audit) == 0 {
		t.Error("expected at least one audit entry")
	}
}

func TestMCPTool_GetJobNotFound(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpGetJob(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_job", map[string]interface{}{
		"job_id": "nope",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for unknown job")
	}
}

func TestMCPTool_GetEvidence(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	handler := mcpGetEvidence(deps)

	job := enqueueDirect(t, store, "acme", "bounce storm this morning")
	params := `{"tenant":"acme"}`
	bundle := `{"tool":"email_events","data":{"bounced":12}}`
	if err := store.AppendEvidence(storage.EvidenceRecord{
		ID:         uuid.New().String(),
		JobID:      job.ID,
		ToolName:   "email_events",
		ParamsJSON: params,
		ParamsHash: storage.HashPayload([]byte(params)),
		BundleJSON: bundle,
		ResultHash: storage.HashPayload([]byte(bundle)),
		TimeBucket: "2025-06-01T10:00:00Z",
	}); err != nil {
		t.Fatalf("AppendEvidence: %v", err)
	}

	result, err := handler(context.Background(), makeCallToolRequest("get_evidence", map[string]interface{}{
		"job_id": job.ID,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var views []evidenceView
	if err := json.Unmarshal([]byte(toolText(t, result)), &views); err != nil {
		t.Fatalf("decoding evidence: %v", err)
	}
	if len(views) != 1 || views[0].ToolName != "email_events" {
		t.Errorf("evidence = %+v", views)
	}
}

func TestMCPTool_SubmitReview(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	handler := mcpSubmitReview(deps)

	job := enqueueDirect(t, store, "acme", "double charged on renewal")
	forceProcessed(t, store, job.ID)

	result, err := handler(context.Background(), makeCallToolRequest("submit_review", map[string]interface{}{
		"job_id":   job.ID,
		"action":   "approve",
		"reviewer": "sam",
		"notes":    "good to send",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), storage.StatusAwaitingDispatch) {
		t.Errorf("result text = %s", toolText(t, result))
	}

	updated, err := store.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if updated.Status != storage.StatusAwaitingDispatch {
		t.Errorf("status = %s, want %s", updated.Status, storage.StatusAwaitingDispatch)
	}
	if updated.Reviewer != "sam" || updated.ReviewAction != "approve" {
		t.Errorf("review fields = %s by %s", updated.ReviewAction, updated.Reviewer)
	}
}

func TestMCPTool_SubmitReviewValidation(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	handler := mcpSubmitReview(deps)

	job := enqueueDirect(t, store, "acme", "still in the queue")

	cases := []struct {
		name string
		args map[string]interface{}
	}{
		{"missing job_id", map[string]interface{}{"action": "approve", "reviewer": "sam"}},
		{"missing reviewer", map[string]interface{}{"job_id": job.ID, "action": "approve"}},
		{"bad action", map[string]interface{}{"job_id": job.ID, "action": "yolo", "reviewer": "sam"}},
		{"approve before responded", map[string]interface{}{"job_id": job.ID, "action": "approve", "reviewer": "sam"}},
		{"unknown job", map[string]interface{}{"job_id": "nope", "action": "approve", "reviewer": "sam"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := handler(context.Background(), makeCallToolRequest("submit_review", tc.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Error("expected error result")
			}
		})
	}
}

func TestNewMCPServerRegistersTools(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
