package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// HashPayload computes the content hash used for evidence params and results.
func HashPayload(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// TimeBucket truncates t to the minute bucket evidence caching keys on.
func TimeBucket(t time.Time) string {
	return t.UTC().Truncate(time.Minute).Format(time.RFC3339)
}

// AppendEvidence stores a tool result for a job. Evidence is append-only;
// re-running the same tool with the same params inside the same minute
// bucket is a no-op for that job.
func (s *Store) AppendEvidence(rec EvidenceRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO evidence (id, job_id, tool_name, params_json, params_hash,
			bundle_json, result_hash, time_bucket, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, tool_name, params_hash, time_bucket) DO NOTHING`,
		rec.ID, rec.JobID, rec.ToolName, rec.ParamsJSON, rec.ParamsHash,
		rec.BundleJSON, rec.ResultHash, rec.TimeBucket,
		formatTime(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("appending evidence for job %s: %w", rec.JobID, err)
	}
	return nil
}

// EvidenceForJob returns a job's evidence records oldest first.
func (s *Store) EvidenceForJob(jobID string) ([]EvidenceRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, job_id, tool_name, params_json, params_hash, bundle_json,
			result_hash, time_bucket, created_at
		FROM evidence WHERE job_id = ? ORDER BY created_at ASC, id ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []EvidenceRecord
	for rows.Next() {
		var r EvidenceRecord
		var createdAt string
		if err := rows.Scan(&r.ID, &r.JobID, &r.ToolName, &r.ParamsJSON, &r.ParamsHash,
			&r.BundleJSON, &r.ResultHash, &r.TimeBucket, &createdAt); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// CachedEvidence returns the most recent bundle any job stored for the same
// tool, params, and minute bucket, so a duplicate invocation can reuse it
// instead of hitting the backend again.
func (s *Store) CachedEvidence(toolName, paramsHash, timeBucket string) (EvidenceRecord, error) {
	var r EvidenceRecord
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, job_id, tool_name, params_json, params_hash, bundle_json,
			result_hash, time_bucket, created_at
		FROM evidence
		WHERE tool_name = ? AND params_hash = ? AND time_bucket = ?
		ORDER BY created_at DESC LIMIT 1`,
		toolName, paramsHash, timeBucket,
	).Scan(&r.ID, &r.JobID, &r.ToolName, &r.ParamsJSON, &r.ParamsHash,
		&r.BundleJSON, &r.ResultHash, &r.TimeBucket, &createdAt)
	if err == sql.ErrNoRows {
		return EvidenceRecord{}, ErrNotFound
	}
	if err != nil {
		return EvidenceRecord{}, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return EvidenceRecord{}, err
	}
	return r, nil
}
