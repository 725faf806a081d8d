// Package api is the HTTP ingress and review surface: authenticated job
// intake, job and evidence views, review decisions, and golden-example
// promotion. Raw message text never leaves the store through this layer.
package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/caseflow/internal/metrics"
	"github.com/kalambet/caseflow/internal/redact"
	"github.com/kalambet/caseflow/internal/storage"
)

const maxIntakeBodySize = 10 << 20 // 10MB

// Deps holds what the handlers need.
type Deps struct {
	Store *storage.Store
	Stats *metrics.Registry
	Token string
}

// NewHandler builds the router. Health and metrics are open; everything
// else requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/metrics", handleMetrics(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/jobs", handleEnqueue(deps))
		r.Get("/jobs", handleListJobs(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))
		r.Get("/jobs/{id}/evidence", handleGetEvidence(deps))
		r.Post("/jobs/{id}/review", handleReview(deps))
		r.Post("/goldens/promote", handlePromoteGolden(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleMetrics(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(deps.Stats.Snapshot())
	}
}

// Attachment is a base64-encoded file included with an intake request.
// Only PDF attachments are text-extracted; other types are rejected.
type Attachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

type EnqueueRequest struct {
	Text        string       `json:"text"`
	Tenant      string       `json:"tenant"`
	Source      string       `json:"source"`
	Attachments []Attachment `json:"attachments"`
}

func handleEnqueue(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIntakeBodySize)
		defer r.Body.Close()

		var req EnqueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.Tenant == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "tenant is required")
			return
		}
		if req.Text == "" && len(req.Attachments) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of text or attachments is required")
			return
		}
		if req.Source == "" {
			req.Source = "api"
		}

		text := req.Text
		for _, att := range req.Attachments {
			if !strings.HasSuffix(strings.ToLower(att.Filename), ".pdf") {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported attachment type: %s", att.Filename)
				return
			}
			data, err := base64.StdEncoding.DecodeString(att.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content in %s", att.Filename)
				return
			}
			extracted, err := extractPDFText(data)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "could not extract text from %s: %v", att.Filename, err)
				return
			}
			text = text + "\n\n" + extracted
		}

		normalized := redact.Normalize(text)
		job, created, err := deps.Store.EnqueueJob(storage.Job{
			ID:             uuid.New().String(),
			Tenant:         req.Tenant,
			Source:         req.Source,
			RawText:        text,
			IdempotencyKey: storage.IdempotencyKey(req.Tenant, normalized),
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if created {
			w.WriteHeader(http.StatusCreated)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"job_id":  job.ID,
			"status":  job.Status,
			"created": created,
		})
	}
}

// jobView is the external shape of a job. Raw text is deliberately absent.
type jobView struct {
	ID               string          `json:"id"`
	Tenant           string          `json:"tenant"`
	Source           string          `json:"source"`
	Status           string          `json:"status"`
	RedactedText     string          `json:"redacted_text,omitempty"`
	RetryCount       int             `json:"retry_count"`
	Triage           json.RawMessage `json:"triage,omitempty"`
	Report           json.RawMessage `json:"report,omitempty"`
	LastError        string          `json:"last_error,omitempty"`
	DeadLetterReason string          `json:"dead_letter_reason,omitempty"`
	ReviewAction     string          `json:"review_action,omitempty"`
	Reviewer         string          `json:"reviewer,omitempty"`
	ReviewNotes      string          `json:"review_notes,omitempty"`
	CreatedAt        string          `json:"created_at"`
	UpdatedAt        string          `json:"updated_at"`
}

func toJobView(j storage.Job) jobView {
	v := jobView{
		ID:               j.ID,
		Tenant:           j.Tenant,
		Source:           j.Source,
		Status:           j.Status,
		RedactedText:     j.RedactedText,
		RetryCount:       j.RetryCount,
		LastError:        j.LastError,
		DeadLetterReason: j.DeadLetterReason,
		ReviewAction:     j.ReviewAction,
		Reviewer:         j.Reviewer,
		ReviewNotes:      j.ReviewNotes,
		CreatedAt:        j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        j.UpdatedAt.Format(time.RFC3339),
	}
	if j.TriageJSON != "" {
		v.Triage = json.RawMessage(j.TriageJSON)
	}
	if j.ReportJSON != "" {
		v.Report = json.RawMessage(j.ReportJSON)
	}
	return v
}

func handleListJobs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		limit := parseIntParam(r, "limit", 20, 100)

		jobs, err := deps.Store.ListJobs(status, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list jobs: %v", err)
			return
		}

		views := make([]jobView, 0, len(jobs))
		for _, j := range jobs {
			views = append(views, toJobView(j))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Store.GetJob(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toJobView(job))
	}
}

type evidenceView struct {
	ID         string          `json:"id"`
	ToolName   string          `json:"tool_name"`
	Params     json.RawMessage `json:"params"`
	Bundle     json.RawMessage `json:"bundle"`
	TimeBucket string          `json:"time_bucket"`
	CreatedAt  string          `json:"created_at"`
}

func handleGetEvidence(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetJob(id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}

		recs, err := deps.Store.EvidenceForJob(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list evidence: %v", err)
			return
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

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

type ReviewRequest struct {
	Action   string `json:"action"`
	Reviewer string `json:"reviewer"`
	Notes    string `json:"notes"`
}

func handleReview(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req ReviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Action != "approve" && req.Action != "rewrite" && req.Action != "escalate" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "action must be approve, rewrite, or escalate")
			return
		}
		if req.Reviewer == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reviewer is required")
			return
		}

		err := deps.Store.ReviewJob(id, req.Action, req.Reviewer, req.Notes)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		case errors.Is(err, storage.ErrStatusChanged), errors.Is(err, storage.ErrInvalidTransition):
			httpError(w, http.StatusConflict, "conflict", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to record review: %v", err)
			return
		}

		job, err := deps.Store.GetJob(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "review recorded but reload failed: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toJobView(job))
	}
}

type PromoteRequest struct {
	JobID string `json:"job_id"`
}

// handlePromoteGolden turns a reviewed job into a golden example for the
// retriever. The job must be reviewed and carry a triage record.
func handlePromoteGolden(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PromoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.JobID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "job_id is required")
			return
		}

		job, err := deps.Store.GetJob(req.JobID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}
		if job.ReviewAction == "" {
			httpError(w, http.StatusConflict, "conflict", "job has not been reviewed")
			return
		}
		if job.TriageJSON == "" || job.RedactedText == "" {
			httpError(w, http.StatusConflict, "conflict", "job has no triage record to promote")
			return
		}

		golden := storage.GoldenExample{
			ID:           uuid.New().String(),
			RedactedText: job.RedactedText,
			ContentHash:  storage.HashPayload([]byte(job.RedactedText)),
			TriageJSON:   job.TriageJSON,
			SourceJobID:  job.ID,
			CuratedAt:    time.Now().UTC(),
		}
		if err := deps.Store.SaveGolden(golden); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save golden example: %v", err)
			return
		}

		// Re-promotion of the same content keeps the original row.
		saved, err := deps.Store.GetGoldenByHash(golden.ContentHash)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "golden saved but reload failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{
			"golden_id":     saved.ID,
			"source_job_id": saved.SourceJobID,
		})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
