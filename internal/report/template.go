package report

import (
	"fmt"
	"strings"

	"github.com/kalambet/caseflow/internal/evidence"
	"github.com/kalambet/caseflow/internal/triage"
)

// TemplateReport assembles the deterministic fallback report from triage
// fields and evidence summary counts only. Triage questions that would put
// an unsupported claim into the narrative are kept out of the body, so the
// rendered text always passes the claim checker, and it cannot fail.
func TemplateReport(rec triage.Record, bundles []evidence.Bundle) Report {
	cls := Classify(rec, bundles)

	var counts evidence.SummaryCounts
	for _, b := range bundles {
		counts.Sent += b.SummaryCounts.Sent
		counts.Bounced += b.SummaryCounts.Bounced
		counts.Deferred += b.SummaryCounts.Deferred
		counts.Delivered += b.SummaryCounts.Delivered
		counts.Errors += b.SummaryCounts.Errors
		counts.Timeouts += b.SummaryCounts.Timeouts
		counts.AvailabilityGaps += b.SummaryCounts.AvailabilityGaps
		counts.TotalEvents += b.SummaryCounts.TotalEvents
	}

	timeline := timelineFromCounts(len(bundles), counts)

	requested := rec.MissingInfoQuestions
	if requested == nil {
		requested = []string{}
	}

	// Questions come from the triage draft and may mention failures the
	// evidence never showed. Only claim-clean questions reach the body;
	// the structured list stays intact for the reviewer.
	checker := evidence.NewChecker()
	var safeQuestions []string
	for _, q := range requested {
		if len(checker.Check(q, bundles)) == 0 {
			safeQuestions = append(safeQuestions, q)
		}
	}

	body := &strings.Builder{}
	body.WriteString("Thank you for reporting this. We have opened an investigation into your ")
	body.WriteString(humanCaseType(rec.CaseType))
	body.WriteString(" issue.\n\n")
	if counts.TotalEvents > 0 {
		fmt.Fprintf(body, "So far we have reviewed %d events from our systems", counts.TotalEvents)
		if counts.Bounced > 0 {
			fmt.Fprintf(body, ", including %d bounced messages", counts.Bounced)
		}
		if counts.Errors > 0 {
			fmt.Fprintf(body, " and %d errors", counts.Errors)
		}
		body.WriteString(".\n\n")
	} else {
		body.WriteString("We are gathering data from our systems now.\n\n")
	}
	if len(safeQuestions) > 0 {
		body.WriteString("To move faster, could you help us with the following:\n")
		for _, q := range safeQuestions {
			fmt.Fprintf(body, "- %s\n", q)
		}
		body.WriteString("\n")
	}
	body.WriteString("We will follow up as soon as we know more.")

	refs := []string{}
	for _, b := range bundles {
		refs = append(refs, b.Source)
	}

	return Report{
		Classification:  cls,
		TimelineSummary: timeline,
		CustomerUpdate: CustomerUpdate{
			Subject:       fmt.Sprintf("Update on your %s report", humanCaseType(rec.CaseType)),
			Body:          body.String(),
			RequestedInfo: requested,
		},
		EngineeringEscalation: Escalation{
			Title:        fmt.Sprintf("[%s] %s case needs investigation", rec.Severity, humanCaseType(rec.CaseType)),
			Body:         fmt.Sprintf("Automated narrative unavailable. Failure stage %s (confidence %.2f). Evidence attached from %d sources.", cls.FailureStage, cls.Confidence, len(bundles)),
			EvidenceRefs: refs,
			Severity:     escalationSeverity(rec.Severity),
			ReproSteps:   []string{},
		},
		KBSuggestions: []string{},
	}
}

func timelineFromCounts(sources int, c evidence.SummaryCounts) string {
	if sources == 0 {
		return "No evidence was collected for this case yet."
	}
	parts := []string{fmt.Sprintf("Evidence collected from %d sources (%d events total)", sources, c.TotalEvents)}
	if c.Sent > 0 {
		parts = append(parts, fmt.Sprintf("%d messages sent, %d delivered, %d bounced, %d deferred", c.Sent, c.Delivered, c.Bounced, c.Deferred))
	}
	if c.Errors > 0 {
		parts = append(parts, fmt.Sprintf("%d errors observed", c.Errors))
	}
	if c.Timeouts > 0 {
		parts = append(parts, fmt.Sprintf("%d timeouts observed", c.Timeouts))
	}
	if c.AvailabilityGaps > 0 {
		parts = append(parts, fmt.Sprintf("%d availability gaps observed", c.AvailabilityGaps))
	}
	return strings.Join(parts, ". ") + "."
}

func humanCaseType(caseType string) string {
	switch caseType {
	case triage.CaseEmailDelivery:
		return "email delivery"
	case triage.CaseIntegration:
		return "integration"
	case triage.CaseUIBug:
		return "user interface"
	case triage.CaseDataImport:
		return "data import"
	case triage.CaseAccessPermissions:
		return "access"
	case triage.CaseIncident:
		return "service disruption"
	default:
		return "support"
	}
}
