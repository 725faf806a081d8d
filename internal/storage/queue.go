package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// IdempotencyKey derives the dedup key for an incoming job from the tenant
// and the normalized message text. The same complaint from the same tenant
// always maps to the same key.
func IdempotencyKey(tenant, normalizedText string) string {
	sum := sha256.Sum256([]byte(tenant + "|" + normalizedText))
	return hex.EncodeToString(sum[:])
}

const jobColumns = `id, tenant, source, raw_text, redacted_text, redactions_json,
	correlation_json, idempotency_key, status, retry_count, available_at,
	processor_id, started_at, triage_json, report_json, last_error,
	dead_letter_reason, review_action, reviewer, review_notes, reviewed_at,
	created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (Job, error) {
	var j Job
	var availableAt, startedAt, reviewedAt, createdAt, updatedAt string
	err := row.Scan(
		&j.ID, &j.Tenant, &j.Source, &j.RawText, &j.RedactedText, &j.RedactionsJSON,
		&j.CorrelationJSON, &j.IdempotencyKey, &j.Status, &j.RetryCount, &availableAt,
		&j.ProcessorID, &startedAt, &j.TriageJSON, &j.ReportJSON, &j.LastError,
		&j.DeadLetterReason, &j.ReviewAction, &j.Reviewer, &j.ReviewNotes, &reviewedAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return Job{}, err
	}
	if j.AvailableAt, err = parseTime(availableAt); err != nil {
		return Job{}, err
	}
	if j.StartedAt, err = parseTime(startedAt); err != nil {
		return Job{}, err
	}
	if j.ReviewedAt, err = parseTime(reviewedAt); err != nil {
		return Job{}, err
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return Job{}, err
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Job{}, err
	}
	return j, nil
}

// EnqueueJob inserts a new queued job, or returns the existing one when a
// non-dead-lettered job with the same idempotency key is already present.
// The returned bool is true when a new row was created.
func (s *Store) EnqueueJob(job Job) (Job, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Job{}, false, fmt.Errorf("beginning enqueue transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanJob(tx.QueryRow(
		`SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = ? AND status != ?`,
		job.IdempotencyKey, StatusDeadLetter,
	))
	if err == nil {
		return existing, false, tx.Commit()
	}
	if err != sql.ErrNoRows {
		return Job{}, false, fmt.Errorf("checking idempotency key: %w", err)
	}

	now := time.Now().UTC()
	job.Status = StatusQueued
	job.AvailableAt = now
	job.CreatedAt = now
	job.UpdatedAt = now
	if _, err := tx.Exec(`
		INSERT INTO jobs (id, tenant, source, raw_text, redacted_text, redactions_json,
			correlation_json, idempotency_key, status, retry_count, available_at,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		job.ID, job.Tenant, job.Source, job.RawText, job.RedactedText, orDefault(job.RedactionsJSON, "[]"),
		orDefault(job.CorrelationJSON, "{}"), job.IdempotencyKey, StatusQueued,
		formatTime(now), formatTime(now), formatTime(now),
	); err != nil {
		return Job{}, false, fmt.Errorf("inserting job: %w", err)
	}

	if err := recordAudit(tx, job.ID, "", StatusQueued, "enqueue", ""); err != nil {
		return Job{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return Job{}, false, fmt.Errorf("committing enqueue: %w", err)
	}
	return job, true, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// ClaimJob atomically takes the oldest eligible job for processorID. Eligible
// means queued, or failed with available_at in the past. Returns nil when
// nothing is claimable. The select and the status flip run in one
// transaction, and the flip is conditional on the status seen by the select,
// so two workers can never hold the same job.
func (s *Store) ClaimJob(processorID string) (*Job, error) {
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	j, err := scanJob(tx.QueryRow(`
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ? OR (status = ? AND available_at <= ?)
		ORDER BY created_at ASC, id ASC
		LIMIT 1`,
		StatusQueued, StatusFailed, formatTime(now),
	))
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`
		UPDATE jobs SET status = ?, processor_id = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		StatusProcessing, processorID, formatTime(now), formatTime(now), j.ID, j.Status,
	)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("claiming job %s: %w", j.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking claimed rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := recordAudit(tx, j.ID, j.Status, StatusProcessing, "claim", processorID); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = StatusProcessing
	j.ProcessorID = processorID
	j.StartedAt = now
	j.UpdatedAt = now
	return &j, nil
}

// UpdateJob applies upd to the job only if its current status equals
// expectedStatus. A status change through upd.Status is checked against the
// state machine and recorded in the audit table. Returns ErrStatusChanged
// when the expectation fails, which tells a worker its claim was lost.
func (s *Store) UpdateJob(id string, upd JobUpdate, expectedStatus string) error {
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(time.Now().UTC())}

	add := func(column string, v *string) {
		if v != nil {
			sets = append(sets, column+" = ?")
			args = append(args, *v)
		}
	}
	add("redacted_text", upd.RedactedText)
	add("redactions_json", upd.RedactionsJSON)
	add("correlation_json", upd.CorrelationJSON)
	add("triage_json", upd.TriageJSON)
	add("report_json", upd.ReportJSON)
	add("last_error", upd.LastError)

	if upd.Status != nil {
		if !ValidTransition(expectedStatus, *upd.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, expectedStatus, *upd.Status)
		}
		sets = append(sets, "status = ?")
		args = append(args, *upd.Status)
	}

	args = append(args, id, expectedStatus)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning update transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		"UPDATE jobs SET "+strings.Join(sets, ", ")+" WHERE id = ? AND status = ?",
		args...,
	)
	if err != nil {
		return fmt.Errorf("updating job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking updated rows: %w", err)
	}
	if n == 0 {
		var exists int
		if err := tx.QueryRow("SELECT COUNT(*) FROM jobs WHERE id = ?", id).Scan(&exists); err != nil {
			return fmt.Errorf("checking job existence: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrStatusChanged
	}

	if upd.Status != nil {
		stage := upd.Stage
		if stage == "" {
			stage = "update"
		}
		if err := recordAudit(tx, id, expectedStatus, *upd.Status, stage, ""); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ReleaseForRetry puts a processing job back into failed with the given
// delay before it becomes claimable again, incrementing retry_count.
func (s *Store) ReleaseForRetry(id string, delay time.Duration, errMsg string) error {
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning release transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE jobs SET status = ?, retry_count = retry_count + 1,
			available_at = ?, last_error = ?, processor_id = '', updated_at = ?
		WHERE id = ? AND status = ?`,
		StatusFailed, formatTime(now.Add(delay)), errMsg, formatTime(now),
		id, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("releasing job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking released rows: %w", err)
	}
	if n == 0 {
		return ErrStatusChanged
	}

	if err := recordAudit(tx, id, StatusProcessing, StatusFailed, "retry", errMsg); err != nil {
		return err
	}
	return tx.Commit()
}

// DeadLetterJob moves a job to the terminal dead_letter status with a reason.
// Dead-lettered jobs are never claimed again.
func (s *Store) DeadLetterJob(id, reason string) error {
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning dead-letter transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow("SELECT status FROM jobs WHERE id = ?", id).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading job %s: %w", id, err)
	}
	if status == StatusDeadLetter || status == StatusDelivered {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, StatusDeadLetter)
	}

	if _, err := tx.Exec(`
		UPDATE jobs SET status = ?, dead_letter_reason = ?, processor_id = '', updated_at = ?
		WHERE id = ?`,
		StatusDeadLetter, reason, formatTime(now), id,
	); err != nil {
		return fmt.Errorf("dead-lettering job %s: %w", id, err)
	}

	if err := recordAudit(tx, id, status, StatusDeadLetter, "dead_letter", reason); err != nil {
		return err
	}
	return tx.Commit()
}

// ReviewJob records a human decision and, for an approval, moves the job
// from responded to awaiting_dispatch. This is the only path that makes a
// draft eligible for dispatch.
func (s *Store) ReviewJob(id, action, reviewer, notes string) error {
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning review transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow("SELECT status FROM jobs WHERE id = ?", id).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading job %s: %w", id, err)
	}

	newStatus := status
	switch action {
	case "approve":
		if status != StatusResponded {
			return fmt.Errorf("%w: approve requires responded, have %s", ErrStatusChanged, status)
		}
		newStatus = StatusAwaitingDispatch
	case "escalate":
		if !ValidTransition(status, StatusHandoff) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, StatusHandoff)
		}
		newStatus = StatusHandoff
	case "rewrite":
		// Decision recorded, status unchanged until a follow-up approve.
	default:
		return fmt.Errorf("unknown review action %q", action)
	}

	if _, err := tx.Exec(`
		UPDATE jobs SET status = ?, review_action = ?, reviewer = ?, review_notes = ?,
			reviewed_at = ?, updated_at = ?
		WHERE id = ?`,
		newStatus, action, reviewer, notes, formatTime(now), formatTime(now), id,
	); err != nil {
		return fmt.Errorf("recording review for job %s: %w", id, err)
	}

	if newStatus != status {
		if err := recordAudit(tx, id, status, newStatus, "review", action+" by "+reviewer); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetJob returns the job with the given id.
func (s *Store) GetJob(id string) (Job, error) {
	j, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	return j, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Store) ListJobs(status string, limit int) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, j)
	}
	return results, rows.Err()
}
