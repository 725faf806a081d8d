package triage

import (
	"regexp"
	"strings"
)

var domainPattern = regexp.MustCompile(`\b[a-z0-9][a-z0-9-]*(\.[a-z0-9-]+)+\b`)

var caseTypeKeywords = []struct {
	caseType string
	keywords []string
}{
	{CaseEmailDelivery, []string{"bounce", "bouncing", "bounced", "not delivered", "undeliver", "smtp", "spam folder", "junk", "dmarc", "spf", "email"}},
	{CaseIntegration, []string{"integration", "webhook", "api", "sync", "salesforce", "zapier", "crm", "connector"}},
	{CaseDataImport, []string{"import", "csv", "upload", "migration", "spreadsheet"}},
	{CaseAccessPermissions, []string{"login", "log in", "password", "permission", "access denied", "locked out", "sso", "2fa"}},
	{CaseUIBug, []string{"button", "page", "screen", "display", "render", "click", "blank"}},
	{CaseIncident, []string{"outage", "everything is down", "all users", "everyone", "widespread", "site is down"}},
}

var severityKeywords = []struct {
	severity string
	keywords []string
}{
	{SeverityCritical, []string{"outage", "all users", "everyone", "data loss", "production down", "security", "breach", "widespread"}},
	{SeverityHigh, []string{"bouncing", "bounce", "cannot", "can't", "failing", "failed", "urgent", "blocked", "asap"}},
	{SeverityLow, []string{"how do i", "question", "minor", "cosmetic", "typo", "when you get a chance"}},
}

// Heuristic produces a triage record from keyword inference alone. It backs
// the extractor when the model output cannot be validated, and its output
// always satisfies the triage contract.
func Heuristic(text string) Record {
	lowered := strings.ToLower(text)

	rec := Record{
		CaseType:             inferCaseType(lowered),
		Severity:             inferSeverity(lowered),
		TimeWindow:           ParseTimeWindow(text),
		Symptoms:             []string{},
		MissingInfoQuestions: []string{},
		SuggestedTools:       []SuggestedTool{},
	}

	rec.Scope = inferScope(lowered)
	rec.Symptoms = inferSymptoms(lowered)
	rec.MissingInfoQuestions = missingInfoQuestions(rec)
	rec.SuggestedTools = suggestTools(rec)

	return rec
}

func inferCaseType(lowered string) string {
	for _, entry := range caseTypeKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lowered, kw) {
				return entry.caseType
			}
		}
	}
	return CaseUnknown
}

func inferSeverity(lowered string) string {
	for _, entry := range severityKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lowered, kw) {
				return entry.severity
			}
		}
	}
	return SeverityMedium
}

func inferScope(lowered string) Scope {
	scope := Scope{}
	for _, match := range domainPattern.FindAllString(lowered, -1) {
		if isDomainCandidate(match) && !contains(scope.RecipientDomains, match) {
			scope.RecipientDomains = append(scope.RecipientDomains, match)
		}
	}
	for _, kw := range []string{"all users", "everyone", "every user", "whole team", "entire org"} {
		if strings.Contains(lowered, kw) {
			scope.IsAllUsers = true
			break
		}
	}
	return scope
}

// isDomainCandidate filters out dotted tokens that are clearly not domains:
// version numbers, filenames, IP fragments.
func isDomainCandidate(s string) bool {
	parts := strings.Split(s, ".")
	tld := parts[len(parts)-1]
	if len(tld) < 2 {
		return false
	}
	for _, r := range tld {
		if r >= '0' && r <= '9' {
			return false
		}
	}
	switch tld {
	case "csv", "pdf", "png", "jpg", "txt", "xlsx", "json", "html":
		return false
	}
	return true
}

func inferSymptoms(lowered string) []string {
	symptoms := []string{}
	checks := []struct{ keyword, symptom string }{
		{"bounc", "outbound email bouncing"},
		{"not delivered", "email not delivered"},
		{"spam", "mail landing in spam"},
		{"webhook", "webhook failures"},
		{"sync", "data not syncing"},
		{"import", "import not completing"},
		{"login", "login failures"},
		{"locked out", "account lockout"},
		{"slow", "degraded performance"},
		{"down", "service unavailable"},
		{"error", "errors reported by customer"},
	}
	for _, c := range checks {
		if strings.Contains(lowered, c.keyword) {
			symptoms = append(symptoms, c.symptom)
		}
	}
	return symptoms
}

func missingInfoQuestions(rec Record) []string {
	questions := []string{}
	if rec.TimeWindow.Start == nil && rec.TimeWindow.End == nil {
		questions = append(questions, "When did the problem start, and is it still happening?")
	}
	switch rec.CaseType {
	case CaseEmailDelivery:
		if len(rec.Scope.AffectedRecipients) == 0 && len(rec.Scope.RecipientDomains) == 0 {
			questions = append(questions, "Which recipient addresses or domains are affected?")
		}
		questions = append(questions, "Do you see a bounce notification, and if so what does it say?")
	case CaseIntegration:
		questions = append(questions, "Which integration is affected, and did its credentials change recently?")
	case CaseDataImport:
		questions = append(questions, "How large is the file, and does a smaller sample import cleanly?")
	case CaseAccessPermissions:
		questions = append(questions, "Is this one account or multiple, and does SSO apply?")
	case CaseUnknown:
		questions = append(questions, "Can you describe what you expected to happen and what happened instead?")
	}
	return questions
}

func suggestTools(rec Record) []SuggestedTool {
	tools := []SuggestedTool{}
	params := map[string]any{}
	if len(rec.Scope.RecipientDomains) > 0 {
		params["recipient_domain"] = rec.Scope.RecipientDomains[0]
	}

	switch rec.CaseType {
	case CaseEmailDelivery:
		tools = append(tools,
			SuggestedTool{ToolName: "fetch_email_events", Reason: "inspect delivery and bounce events for the reported window", Params: params},
			SuggestedTool{ToolName: "dns_email_auth_check", Reason: "verify SPF and DMARC records for the sending domain", Params: params},
		)
	case CaseIntegration:
		tools = append(tools,
			SuggestedTool{ToolName: "fetch_integration_events", Reason: "look for failed integration runs and webhook errors", Params: map[string]any{}},
			SuggestedTool{ToolName: "log_evidence", Reason: "search service logs for integration errors and timeouts", Params: map[string]any{"query_type": "errors"}},
		)
	case CaseDataImport:
		tools = append(tools,
			SuggestedTool{ToolName: "fetch_app_events", Reason: "check import job status and validation failures", Params: map[string]any{}},
		)
	case CaseIncident:
		tools = append(tools,
			SuggestedTool{ToolName: "service_status", Reason: "check platform status and recent incident windows", Params: map[string]any{}},
			SuggestedTool{ToolName: "log_evidence", Reason: "look for availability gaps in service logs", Params: map[string]any{"query_type": "availability"}},
		)
	case CaseAccessPermissions, CaseUIBug:
		tools = append(tools,
			SuggestedTool{ToolName: "fetch_app_events", Reason: "review recent application events for the affected account", Params: map[string]any{}},
		)
	default:
		tools = append(tools,
			SuggestedTool{ToolName: "fetch_app_events", Reason: "gather recent application events to narrow the case down", Params: map[string]any{}},
		)
	}
	return tools
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
