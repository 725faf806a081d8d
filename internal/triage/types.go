// Package triage turns a redacted customer message into a structured triage
// record: classification, severity, reported time window, scope, and the
// tool invocations worth running. Extraction is LLM-first with a
// deterministic keyword fallback, so a job always gets a usable record.
package triage

// Case types.
const (
	CaseEmailDelivery     = "email_delivery"
	CaseIntegration       = "integration"
	CaseUIBug             = "ui_bug"
	CaseDataImport        = "data_import"
	CaseAccessPermissions = "access_permissions"
	CaseIncident          = "incident"
	CaseUnknown           = "unknown"
)

// Severities.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// TimeWindow is the customer-reported window. Start and End stay nil unless
// the message contains explicit timestamps; relative phrases only raise
// confidence that a window exists, they never fabricate one.
type TimeWindow struct {
	Start      *string `json:"start"`
	End        *string `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Scope describes who and what is affected.
type Scope struct {
	AffectedTenants    []string `json:"affected_tenants,omitempty"`
	AffectedUsers      []string `json:"affected_users,omitempty"`
	AffectedRecipients []string `json:"affected_recipients,omitempty"`
	RecipientDomains   []string `json:"recipient_domains,omitempty"`
	IsAllUsers         bool     `json:"is_all_users,omitempty"`
	Notes              string   `json:"notes,omitempty"`
}

// SuggestedTool is one tool invocation the triage stage proposes. The worker
// filters these against the registry allowlist before anything runs.
type SuggestedTool struct {
	ToolName string         `json:"tool_name"`
	Reason   string         `json:"reason"`
	Params   map[string]any `json:"params"`
}

// Record is the triage result for a job. Created once per job and never
// mutated afterwards except by explicit reprocessing.
type Record struct {
	CaseType             string          `json:"case_type"`
	Severity             string          `json:"severity"`
	TimeWindow           TimeWindow      `json:"time_window"`
	Scope                Scope           `json:"scope"`
	Symptoms             []string        `json:"symptoms"`
	MissingInfoQuestions []string        `json:"missing_info_questions"`
	SuggestedTools       []SuggestedTool `json:"suggested_tools"`

	// SchemaFailure marks a record produced by the keyword fallback after
	// the model could not return contract-valid output. Not part of the
	// contract itself.
	SchemaFailure bool `json:"-"`
}

// Example is a curated golden example shown to the model: redacted text
// paired with its human-verified triage JSON.
type Example struct {
	Text       string
	TriageJSON string
}
