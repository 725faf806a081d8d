// Package worker runs the per-job control loop: claim, redact, triage,
// gather evidence, report, and transition the job. Every stage writes its
// artifacts through conditional updates so a lost claim aborts cleanly.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/caseflow/internal/evidence"
	"github.com/kalambet/caseflow/internal/metrics"
	"github.com/kalambet/caseflow/internal/redact"
	"github.com/kalambet/caseflow/internal/report"
	"github.com/kalambet/caseflow/internal/retrieval"
	"github.com/kalambet/caseflow/internal/storage"
	"github.com/kalambet/caseflow/internal/tools"
	"github.com/kalambet/caseflow/internal/triage"
)

// Store is the persistence surface the control loop needs.
type Store interface {
	ClaimJob(processorID string) (*storage.Job, error)
	UpdateJob(id string, upd storage.JobUpdate, expectedStatus string) error
	ReleaseForRetry(id string, delay time.Duration, errMsg string) error
	DeadLetterJob(id, reason string) error
	RecordStageNote(jobID, status, stage, detail string) error
	AppendEvidence(rec storage.EvidenceRecord) error
	CachedEvidence(toolName, paramsHash, timeBucket string) (storage.EvidenceRecord, error)
}

// Triager produces a triage record from redacted text.
type Triager interface {
	Extract(ctx context.Context, redactedText string, allowedTools []string, examples []triage.Example) (triage.Record, error)
}

// Retriever supplies golden examples for few-shot triage context.
type Retriever interface {
	Retrieve(ctx context.Context, text string, k int, threshold float32) ([]retrieval.Match, error)
}

// Reporter generates the final report from triage plus evidence.
type Reporter interface {
	Generate(ctx context.Context, rec triage.Record, bundles []evidence.Bundle) (report.Result, error)
}

// Toolbox is the allowlisted tool registry.
type Toolbox interface {
	Has(name string) bool
	Names() []string
	Invoke(ctx context.Context, name string, p tools.Params) (evidence.Bundle, error)
}

// Config tunes the control loop.
type Config struct {
	PollInterval time.Duration
	MaxRetries   int
	BackoffBase  time.Duration
	TopK         int
	Threshold    float32
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 30 * time.Second
	}
	if c.TopK <= 0 {
		c.TopK = 3
	}
	if c.Threshold <= 0 {
		c.Threshold = 0.35
	}
	return c
}

// Worker claims jobs and drives them through the pipeline stages.
type Worker struct {
	id        string
	store     Store
	triager   Triager
	retriever Retriever
	reporter  Reporter
	toolbox   Toolbox
	stats     *metrics.Registry
	cfg       Config
	logger    *slog.Logger
}

func New(id string, store Store, triager Triager, retriever Retriever, reporter Reporter, toolbox Toolbox, stats *metrics.Registry, cfg Config) *Worker {
	if stats == nil {
		stats = metrics.New()
	}
	return &Worker{
		id:        id,
		store:     store,
		triager:   triager,
		retriever: retriever,
		reporter:  reporter,
		toolbox:   toolbox,
		stats:     stats,
		cfg:       cfg.withDefaults(),
		logger:    slog.Default().With("worker_id", id),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// RunOnce claims and processes a single job. Returns true if a job was
// claimed, regardless of how processing ended.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimJob(w.id)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job hit a transient failure", "job_id", job.ID, "error", err)
		w.release(job, err)
	}
	return true, nil
}

// processJob runs the claimed job through every stage. A returned error
// means a transient failure; validation problems degrade in place and a
// lost claim returns nil after abandoning the remaining stages.
func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	redacted, ok, err := w.redactStage(job)
	if err != nil || !ok {
		return err
	}

	rec, ok, err := w.triageStage(ctx, job, redacted)
	if err != nil || !ok {
		return err
	}

	bundles := w.toolStage(ctx, job, rec)

	return w.reportStage(ctx, job, rec, bundles)
}

type redactionMeta struct {
	Applied      bool `json:"applied"`
	HTMLStripped bool `json:"html_stripped"`
}

func (w *Worker) redactStage(job *storage.Job) (string, bool, error) {
	text := job.RawText
	stripped := false
	if looksHTML(text) {
		text = redact.StripHTML(text)
		stripped = true
	}
	res := redact.Apply(text)
	corr := redact.ExtractCorrelation(job.RawText)

	redactions, err := json.Marshal(redactionMeta{Applied: res.Applied, HTMLStripped: stripped})
	if err != nil {
		return "", false, fmt.Errorf("encoding redaction metadata: %w", err)
	}
	correlation, err := json.Marshal(corr)
	if err != nil {
		return "", false, fmt.Errorf("encoding correlation ids: %w", err)
	}

	upd := storage.JobUpdate{
		RedactedText:    &res.Text,
		RedactionsJSON:  ptr(string(redactions)),
		CorrelationJSON: ptr(string(correlation)),
		Stage:           "redact",
	}
	if err := w.store.UpdateJob(job.ID, upd, storage.StatusProcessing); err != nil {
		if w.claimLost(job, "redact", err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("persisting redaction: %w", err)
	}
	return res.Text, true, nil
}

func (w *Worker) triageStage(ctx context.Context, job *storage.Job, redactedText string) (triage.Record, bool, error) {
	var examples []triage.Example
	matches, err := w.retriever.Retrieve(ctx, redactedText, w.cfg.TopK, w.cfg.Threshold)
	if err != nil {
		w.logger.Warn("golden retrieval failed, triaging without examples", "job_id", job.ID, "error", err)
	}
	for _, m := range matches {
		examples = append(examples, m.Example)
	}

	start := time.Now()
	rec, err := w.triager.Extract(ctx, redactedText, w.toolbox.Names(), examples)
	w.stats.Observe("triage", time.Since(start))
	if err != nil {
		return triage.Record{}, false, fmt.Errorf("triage extraction: %w", err)
	}

	if rec.SchemaFailure {
		w.stats.Inc(metrics.SchemaFailure)
		w.note(job.ID, "triage", "model output failed schema validation twice, heuristic fallback used")
	} else {
		w.stats.Inc(metrics.TriageSuccess)
	}

	triageJSON, err := json.Marshal(rec)
	if err != nil {
		return triage.Record{}, false, fmt.Errorf("encoding triage record: %w", err)
	}
	upd := storage.JobUpdate{TriageJSON: ptr(string(triageJSON)), Stage: "triage"}
	if err := w.store.UpdateJob(job.ID, upd, storage.StatusProcessing); err != nil {
		if w.claimLost(job, "triage", err) {
			return triage.Record{}, false, nil
		}
		return triage.Record{}, false, fmt.Errorf("persisting triage: %w", err)
	}
	return rec, true, nil
}

// toolStage executes allowed tool suggestions concurrently. Individual
// tool failures are recorded and skipped; the job keeps going with
// whatever evidence was gathered.
func (w *Worker) toolStage(ctx context.Context, job *storage.Job, rec triage.Record) []evidence.Bundle {
	winStart, winEnd := triage.InvestigationWindow(rec.TimeWindow, job.CreatedAt)

	var allowed []triage.SuggestedTool
	for _, st := range rec.SuggestedTools {
		if !w.toolbox.Has(st.ToolName) {
			w.stats.Inc(metrics.ToolDropped)
			w.logger.Warn("dropping tool not in the allowlist", "job_id", job.ID, "tool", st.ToolName)
			w.note(job.ID, "tools", "dropped disallowed tool "+st.ToolName)
			continue
		}
		allowed = append(allowed, st)
	}

	results := make([]*evidence.Bundle, len(allowed))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, st := range allowed {
		i, st := i, st
		g.Go(func() error {
			bundle, err := w.runTool(gCtx, job, st, winStart, winEnd)
			if err != nil {
				w.stats.Inc(metrics.ToolFailure)
				w.logger.Warn("tool invocation failed", "job_id", job.ID, "tool", st.ToolName, "error", err)
				w.note(job.ID, "tools", fmt.Sprintf("tool %s failed: %v", st.ToolName, err))
				return nil
			}
			results[i] = bundle
			return nil
		})
	}
	g.Wait()

	var bundles []evidence.Bundle
	for _, b := range results {
		if b != nil {
			bundles = append(bundles, *b)
		}
	}
	w.note(job.ID, "tools", fmt.Sprintf("%d of %d suggested tools produced evidence", len(bundles), len(rec.SuggestedTools)))
	return bundles
}

func (w *Worker) runTool(ctx context.Context, job *storage.Job, st triage.SuggestedTool, winStart, winEnd time.Time) (*evidence.Bundle, error) {
	params := tools.Params{}
	for k, v := range st.Params {
		params[k] = v
	}
	if _, ok := params["window_start"]; !ok {
		params["window_start"] = winStart.UTC().Format(time.RFC3339)
	}
	if _, ok := params["window_end"]; !ok {
		params["window_end"] = winEnd.UTC().Format(time.RFC3339)
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding params: %w", err)
	}
	paramsHash := storage.HashPayload(paramsJSON)
	bucket := storage.TimeBucket(time.Now().UTC())

	var bundleJSON []byte
	var bundle evidence.Bundle
	cached, err := w.store.CachedEvidence(st.ToolName, paramsHash, bucket)
	if err == nil {
		if err := json.Unmarshal([]byte(cached.BundleJSON), &bundle); err != nil {
			return nil, fmt.Errorf("decoding cached bundle: %w", err)
		}
		bundleJSON = []byte(cached.BundleJSON)
		w.stats.Inc(metrics.EvidenceCached)
	} else if errors.Is(err, storage.ErrNotFound) {
		bundle, err = w.toolbox.Invoke(ctx, st.ToolName, params)
		if err != nil {
			return nil, err
		}
		bundleJSON, err = json.Marshal(bundle)
		if err != nil {
			return nil, fmt.Errorf("encoding bundle: %w", err)
		}
	} else {
		return nil, fmt.Errorf("checking evidence cache: %w", err)
	}

	rec := storage.EvidenceRecord{
		ID:         uuid.New().String(),
		JobID:      job.ID,
		ToolName:   st.ToolName,
		ParamsJSON: string(paramsJSON),
		ParamsHash: paramsHash,
		BundleJSON: string(bundleJSON),
		ResultHash: storage.HashPayload(bundleJSON),
		TimeBucket: bucket,
	}
	if err := w.store.AppendEvidence(rec); err != nil {
		return nil, fmt.Errorf("appending evidence: %w", err)
	}
	return &bundle, nil
}

func (w *Worker) reportStage(ctx context.Context, job *storage.Job, rec triage.Record, bundles []evidence.Bundle) error {
	start := time.Now()
	res, err := w.reporter.Generate(ctx, rec, bundles)
	w.stats.Observe("report", time.Since(start))
	if err != nil {
		return fmt.Errorf("report generation: %w", err)
	}

	if len(res.ClaimWarnings) > 0 {
		w.stats.Inc(metrics.ClaimRejected)
		w.note(job.ID, "report", fmt.Sprintf("narrative rejected by claim check: %v", res.ClaimWarnings))
	}
	if res.UsedTemplate {
		w.stats.Inc(metrics.TemplateReport)
	}

	reportJSON, err := json.Marshal(res.Report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	target := storage.StatusResponded
	if w.needsHandoff(rec) {
		target = storage.StatusHandoff
	}
	upd := storage.JobUpdate{
		ReportJSON: ptr(string(reportJSON)),
		Status:     &target,
		Stage:      "report",
	}
	if err := w.store.UpdateJob(job.ID, upd, storage.StatusProcessing); err != nil {
		if w.claimLost(job, "report", err) {
			return nil
		}
		return fmt.Errorf("persisting report: %w", err)
	}

	if target == storage.StatusHandoff {
		w.stats.Inc(metrics.JobHandoff)
	} else {
		w.stats.Inc(metrics.JobResponded)
	}
	return nil
}

// needsHandoff stops automation when the triage itself is a guess and
// the case looks critical. Everything else goes through review anyway.
func (w *Worker) needsHandoff(rec triage.Record) bool {
	return rec.SchemaFailure && rec.Severity == triage.SeverityCritical
}

// release sends a transiently failed job back to the queue, or to the
// dead-letter lane once the retry ceiling is hit.
func (w *Worker) release(job *storage.Job, cause error) {
	if job.RetryCount >= w.cfg.MaxRetries {
		w.stats.Inc(metrics.DeadLetter)
		if err := w.store.DeadLetterJob(job.ID, fmt.Sprintf("retries exhausted: %v", cause)); err != nil {
			w.logger.Error("failed to dead-letter job", "job_id", job.ID, "error", err)
		}
		return
	}
	w.stats.Inc(metrics.JobRetry)
	if err := w.store.ReleaseForRetry(job.ID, w.backoff(job.RetryCount), cause.Error()); err != nil {
		w.logger.Error("failed to release job for retry", "job_id", job.ID, "error", err)
	}
}

// backoff is exponential in the retry count with up to 50% added jitter,
// capped at one hour.
func (w *Worker) backoff(retryCount int) time.Duration {
	d := w.cfg.BackoffBase
	for i := 0; i < retryCount && d < time.Hour; i++ {
		d *= 2
	}
	if d > time.Hour {
		d = time.Hour
	}
	return d + rand.N(d/2+1)
}

// claimLost reports whether a conditional update failed because the job
// moved out from under this worker, recording the abandonment.
func (w *Worker) claimLost(job *storage.Job, stage string, err error) bool {
	if !errors.Is(err, storage.ErrStatusChanged) && !errors.Is(err, storage.ErrNotFound) {
		return false
	}
	w.stats.Inc(metrics.ClaimRejected)
	w.logger.Warn("claim lost, abandoning remaining stages", "job_id", job.ID, "stage", stage)
	return true
}

func (w *Worker) note(jobID, stage, detail string) {
	if err := w.store.RecordStageNote(jobID, storage.StatusProcessing, stage, detail); err != nil {
		w.logger.Error("failed to record stage note", "job_id", jobID, "stage", stage, "error", err)
	}
}

func ptr(s string) *string { return &s }

var htmlMarkers = []string{"</", "<html", "<body", "<br", "<p>", "<div"}

func looksHTML(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range htmlMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
