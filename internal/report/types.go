// Package report assembles the final triage artifact: classification,
// timeline, customer draft, engineering escalation, and KB suggestions.
// The LLM writes the narrative from triage and evidence only; the claim
// checker gates it, and a deterministic template takes over whenever the
// narrative cannot be trusted.
package report

// Failure stages.
const (
	StageTrigger       = "trigger"
	StageQueue         = "queue"
	StageProvider      = "provider"
	StageRecipient     = "recipient"
	StageConfiguration = "configuration"
	StageUnknown       = "unknown"
)

// Classification pins where in the pipeline the failure most likely sits.
type Classification struct {
	FailureStage string   `json:"failure_stage"`
	Confidence   float64  `json:"confidence"`
	TopReasons   []string `json:"top_reasons"`
}

// CustomerUpdate is the draft reply to the customer. It is never dispatched
// without human approval.
type CustomerUpdate struct {
	Subject       string   `json:"subject"`
	Body          string   `json:"body"`
	RequestedInfo []string `json:"requested_info"`
}

// Escalation is the internal ticket draft for engineering.
type Escalation struct {
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	EvidenceRefs []string `json:"evidence_refs"`
	Severity     string   `json:"severity"`
	ReproSteps   []string `json:"repro_steps"`
}

// Report is the final artifact persisted on the job.
type Report struct {
	Classification        Classification `json:"classification"`
	TimelineSummary       string         `json:"timeline_summary"`
	CustomerUpdate        CustomerUpdate `json:"customer_update"`
	EngineeringEscalation Escalation     `json:"engineering_escalation"`
	KBSuggestions         []string       `json:"kb_suggestions"`
}

// Result is what the generator hands back to the worker: the report plus
// how it was produced.
type Result struct {
	Report        Report
	UsedTemplate  bool
	ClaimWarnings []string
}
