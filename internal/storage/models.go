package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrStatusChanged is returned by conditional updates when the job's status
// no longer matches the caller's expectation. A worker receiving it must
// abandon the remaining stages for that job.
var ErrStatusChanged = errors.New("job status changed")

// ErrInvalidTransition is returned when an update would move a job along an
// edge the state machine does not define.
var ErrInvalidTransition = errors.New("invalid status transition")

// Job statuses. dead_letter and delivered are terminal.
const (
	StatusQueued           = "queued"
	StatusProcessing       = "processing"
	StatusResponded        = "responded"
	StatusAwaitingDispatch = "awaiting_dispatch"
	StatusHandoff          = "handoff"
	StatusFailed           = "failed"
	StatusDeadLetter       = "dead_letter"
	StatusDelivered        = "delivered"
)

// transitions holds the legal edges. Any non-terminal status may additionally
// move to handoff when the pipeline cannot safely proceed.
var transitions = map[string][]string{
	StatusQueued:           {StatusProcessing},
	StatusProcessing:       {StatusResponded, StatusHandoff, StatusFailed},
	StatusFailed:           {StatusProcessing, StatusDeadLetter},
	StatusResponded:        {StatusAwaitingDispatch},
	StatusAwaitingDispatch: {StatusDelivered},
	StatusHandoff:          {},
	StatusDeadLetter:       {},
	StatusDelivered:        {},
}

// ValidTransition reports whether the edge from -> to is legal. There is no
// edge back into queued once left, and no edge out of dead_letter or
// delivered.
func ValidTransition(from, to string) bool {
	if from == to {
		return false
	}
	if to == StatusHandoff && from != StatusDeadLetter && from != StatusDelivered && from != StatusHandoff {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Job is one support case moving through the pipeline.
type Job struct {
	ID               string
	Tenant           string
	Source           string
	RawText          string
	RedactedText     string
	RedactionsJSON   string // JSON array of applied redaction kinds
	CorrelationJSON  string // extracted request ids / error codes
	IdempotencyKey   string
	Status           string
	RetryCount       int
	AvailableAt      time.Time
	ProcessorID      string
	StartedAt        time.Time // zero until first claim
	TriageJSON       string
	ReportJSON       string
	LastError        string
	DeadLetterReason string
	ReviewAction     string
	Reviewer         string
	ReviewNotes      string
	ReviewedAt       time.Time // zero until reviewed
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// JobUpdate names the fields a conditional update may touch. Nil pointers are
// left unchanged. Stage labels the audit entry when Status is set.
type JobUpdate struct {
	Status          *string
	RedactedText    *string
	RedactionsJSON  *string
	CorrelationJSON *string
	TriageJSON      *string
	ReportJSON      *string
	LastError       *string
	Stage           string
}

// EvidenceRecord is one append-only tool result attached to a job.
type EvidenceRecord struct {
	ID         string
	JobID      string
	ToolName   string
	ParamsJSON string
	ParamsHash string
	BundleJSON string
	ResultHash string
	TimeBucket string
	CreatedAt  time.Time
}

// AuditEntry is one stage transition in a job's history.
type AuditEntry struct {
	ID         int64
	JobID      string
	FromStatus string
	ToStatus   string
	Stage      string
	Detail     string
	CreatedAt  time.Time
}

// GoldenExample is a curated, human-verified triage example used for
// retrieval. Embedding is nil until the retriever embeds it.
type GoldenExample struct {
	ID           string
	RedactedText string
	ContentHash  string
	TriageJSON   string
	Embedding    []byte
	EmbedModel   string
	SourceJobID  string
	CuratedAt    time.Time
}

// Breaker is per-service circuit breaker state for the service_status tool.
type Breaker struct {
	Service      string
	State        string // "closed", "open", "half_open"
	FailureCount int
	OpenedAt     time.Time // zero while closed
	UpdatedAt    time.Time
}
