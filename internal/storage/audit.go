package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// execer covers both *sql.Tx and *sql.DB for audit writes.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func recordAudit(e execer, jobID, from, to, stage, detail string) error {
	_, err := e.Exec(`
		INSERT INTO job_audit (job_id, from_status, to_status, stage, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		jobID, from, to, stage, detail, formatTime(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("recording audit entry: %w", err)
	}
	return nil
}

// RecordStageNote appends an audit entry that does not change status, used
// for in-stage events like a dropped tool suggestion or a claim-check
// rejection.
func (s *Store) RecordStageNote(jobID, status, stage, detail string) error {
	return recordAudit(s.db, jobID, status, status, stage, detail)
}

// AuditTrail returns a job's audit entries oldest first.
func (s *Store) AuditTrail(jobID string) ([]AuditEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, job_id, from_status, to_status, stage, detail, created_at
		FROM job_audit WHERE job_id = ? ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.JobID, &e.FromStatus, &e.ToStatus, &e.Stage, &e.Detail, &createdAt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
