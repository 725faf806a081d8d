package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Breaker states.
const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half_open"
)

// GetBreaker returns the stored breaker for a service; a service never seen
// before gets a fresh closed breaker.
func (s *Store) GetBreaker(service string) (Breaker, error) {
	var b Breaker
	var openedAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT service, state, failure_count, opened_at, updated_at
		FROM service_breakers WHERE service = ?`, service,
	).Scan(&b.Service, &b.State, &b.FailureCount, &openedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Breaker{Service: service, State: BreakerClosed}, nil
	}
	if err != nil {
		return Breaker{}, err
	}
	if b.OpenedAt, err = parseTime(openedAt); err != nil {
		return Breaker{}, err
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Breaker{}, err
	}
	return b, nil
}

// PutBreaker upserts breaker state for a service.
func (s *Store) PutBreaker(b Breaker) error {
	_, err := s.db.Exec(`
		INSERT INTO service_breakers (service, state, failure_count, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(service) DO UPDATE SET
			state = excluded.state,
			failure_count = excluded.failure_count,
			opened_at = excluded.opened_at,
			updated_at = excluded.updated_at`,
		b.Service, b.State, b.FailureCount, formatTime(b.OpenedAt),
		formatTime(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("storing breaker for %s: %w", b.Service, err)
	}
	return nil
}
