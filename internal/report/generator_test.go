package report

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/caseflow/internal/engine"
	"github.com/kalambet/caseflow/internal/evidence"
	"github.com/kalambet/caseflow/internal/schema"
	"github.com/kalambet/caseflow/internal/triage"
)

type mockChatter struct {
	responses []string
	err       error
	calls     int
}

func (m *mockChatter) Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	i := m.calls
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	m.calls++
	return m.responses[i], nil
}

func newTestGenerator(t *testing.T, mock *mockChatter) *Generator {
	t.Helper()
	v, err := schema.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return NewGenerator(mock, "qwen2.5", v, nil)
}

func emailTriage() triage.Record {
	return triage.Record{
		CaseType:             triage.CaseEmailDelivery,
		Severity:             triage.SeverityHigh,
		TimeWindow:           triage.TimeWindow{Confidence: 0.3},
		Scope:                triage.Scope{RecipientDomains: []string{"contoso.com"}},
		Symptoms:             []string{"outbound email bouncing"},
		MissingInfoQuestions: []string{"When did the bounces start?"},
		SuggestedTools:       []triage.SuggestedTool{},
	}
}

func bounceBundle() evidence.Bundle {
	return evidence.Bundle{
		Source:     "email_events",
		TimeWindow: evidence.TimeWindow{Start: "2026-03-01T00:00:00Z", End: "2026-03-02T00:00:00Z"},
		Tenant:     evidence.StringPtr("acme"),
		SummaryCounts: evidence.SummaryCounts{
			Sent: 8, Bounced: 8, TotalEvents: 16,
		},
		Events: []evidence.Event{
			{TS: "2026-03-01T10:02:00Z", Type: "bounce", ID: evidence.StringPtr("e1"), MessageID: evidence.StringPtr("m1"), Detail: "550 5.7.1 message rejected due to DMARC policy"},
		},
	}
}

func reportJSON(body string) string {
	rep := Report{
		Classification: Classification{
			FailureStage: StageConfiguration,
			Confidence:   0.85,
			TopReasons:   []string{"recipient rejects on DMARC policy"},
		},
		TimelineSummary: "Bounces recorded from 2026-03-01T10:02:00Z onward, all rejected on DMARC policy.",
		CustomerUpdate: CustomerUpdate{
			Subject:       "Update on your email delivery report",
			Body:          body,
			RequestedInfo: []string{"When did the bounces start?"},
		},
		EngineeringEscalation: Escalation{
			Title:        "Tenant mail rejected on DMARC policy",
			Body:         "All sends to contoso.com bounce with 550 5.7.1.",
			EvidenceRefs: []string{"email_events"},
			Severity:     "S2",
			ReproSteps:   []string{"Send a message to any contoso.com recipient"},
		},
		KBSuggestions: []string{"Setting up DMARC for custom sending domains"},
	}
	raw, _ := json.Marshal(rep)
	return string(raw)
}

func TestGenerateValidNarrative(t *testing.T) {
	mock := &mockChatter{responses: []string{reportJSON("Messages to contoso.com bounce because the domain's DMARC policy rejects them.")}}
	g := newTestGenerator(t, mock)

	res, err := g.Generate(context.Background(), emailTriage(), []evidence.Bundle{bounceBundle()})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.UsedTemplate {
		t.Error("supported narrative should not fall back to template")
	}
	if len(res.ClaimWarnings) != 0 {
		t.Errorf("warnings = %v", res.ClaimWarnings)
	}
	if res.Report.Classification.FailureStage != StageConfiguration {
		t.Errorf("failure_stage = %q", res.Report.Classification.FailureStage)
	}
}

func TestGenerateUnsupportedClaimFallsBack(t *testing.T) {
	// The narrative asserts an outage, but the evidence only shows bounces.
	mock := &mockChatter{responses: []string{reportJSON("We had a service outage that caused your messages to fail.")}}
	g := newTestGenerator(t, mock)

	res, err := g.Generate(context.Background(), emailTriage(), []evidence.Bundle{bounceBundle()})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !res.UsedTemplate {
		t.Fatal("unsupported claim must reject the whole narrative")
	}
	if len(res.ClaimWarnings) == 0 {
		t.Error("expected claim warnings")
	}
	// The template itself must pass the checker.
	warnings := g.check(res.Report, []evidence.Bundle{bounceBundle()})
	if len(warnings) != 0 {
		t.Errorf("template report failed the claim checker: %v", warnings)
	}
}

func TestGenerateZeroEvidenceFlaggedClaim(t *testing.T) {
	mock := &mockChatter{responses: []string{reportJSON("Your emails bounce due to a rate limit on your account.")}}
	g := newTestGenerator(t, mock)

	res, err := g.Generate(context.Background(), emailTriage(), nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !res.UsedTemplate {
		t.Fatal("claims with zero evidence must force the template")
	}
}

func TestGenerateSchemaInvalidTwiceFallsBack(t *testing.T) {
	mock := &mockChatter{responses: []string{"garbage", `{"still": "wrong"}`}}
	g := newTestGenerator(t, mock)

	res, err := g.Generate(context.Background(), emailTriage(), []evidence.Bundle{bounceBundle()})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if mock.calls != 2 {
		t.Errorf("chat calls = %d, want 2", mock.calls)
	}
	if !res.UsedTemplate {
		t.Error("schema failure must degrade to the template")
	}
}

func TestGenerateTransportErrorSurfaces(t *testing.T) {
	mock := &mockChatter{err: errors.New("context deadline exceeded")}
	g := newTestGenerator(t, mock)

	if _, err := g.Generate(context.Background(), emailTriage(), nil); err == nil {
		t.Fatal("transport error must surface for retry handling")
	}
}

func TestTemplateReportValidatesAndIsClaimSafe(t *testing.T) {
	v, err := schema.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	cases := []struct {
		name    string
		bundles []evidence.Bundle
	}{
		{"with evidence", []evidence.Bundle{bounceBundle()}},
		{"no evidence", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rep := TemplateReport(emailTriage(), tc.bundles)

			raw, err := json.Marshal(rep)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if err := v.Validate(schema.FinalReport, raw); err != nil {
				t.Errorf("template report fails contract: %v", err)
			}

			checker := evidence.NewChecker()
			text := rep.TimelineSummary + "\n" + rep.CustomerUpdate.Body
			if warnings := checker.Check(text, tc.bundles); len(warnings) != 0 {
				t.Errorf("template report makes unsupported claims: %v", warnings)
			}
		})
	}
}

func TestTemplateReportFiltersUnsupportedQuestions(t *testing.T) {
	rec := emailTriage()
	rec.MissingInfoQuestions = []string{
		"When did the bounces start?",
		"Which recipients are affected?",
	}

	// Without evidence the bounce question would inject an unsupported
	// claim into the body, so only the neutral question renders.
	rep := TemplateReport(rec, nil)
	if strings.Contains(rep.CustomerUpdate.Body, "bounces") {
		t.Errorf("body echoes unsupported question: %q", rep.CustomerUpdate.Body)
	}
	if !strings.Contains(rep.CustomerUpdate.Body, "Which recipients are affected?") {
		t.Errorf("body dropped a claim-free question: %q", rep.CustomerUpdate.Body)
	}
	if len(rep.CustomerUpdate.RequestedInfo) != 2 {
		t.Errorf("RequestedInfo = %v, want both questions kept", rep.CustomerUpdate.RequestedInfo)
	}

	// With bounce evidence the same question is safe to render.
	rep = TemplateReport(rec, []evidence.Bundle{bounceBundle()})
	if !strings.Contains(rep.CustomerUpdate.Body, "When did the bounces start?") {
		t.Errorf("body dropped a supported question: %q", rep.CustomerUpdate.Body)
	}
}

func TestClassifyStages(t *testing.T) {
	cases := []struct {
		name  string
		event evidence.Event
		want  string
	}{
		{"dmarc bounce", evidence.Event{Type: "bounce", Detail: "550 5.7.1 rejected due to DMARC policy"}, StageConfiguration},
		{"unknown user", evidence.Event{Type: "bounce", Detail: "550 5.1.1 user unknown"}, StageRecipient},
		{"disabled workflow", evidence.Event{Type: "workflow_disabled", Detail: "workflow x disabled"}, StageConfiguration},
		{"rate limited", evidence.Event{Type: "rate_limit", Detail: "429 responses"}, StageProvider},
		{"import failure", evidence.Event{Type: "import_failed", Detail: "row 10 invalid"}, StageTrigger},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := bounceBundle()
			b.Events = []evidence.Event{tc.event}
			cls := Classify(emailTriage(), []evidence.Bundle{b})
			if cls.FailureStage != tc.want {
				t.Errorf("failure_stage = %q, want %q", cls.FailureStage, tc.want)
			}
		})
	}

	empty := Classify(emailTriage(), nil)
	if empty.FailureStage != StageUnknown {
		t.Errorf("no evidence stage = %q, want unknown", empty.FailureStage)
	}
	if empty.Confidence > 0.3 {
		t.Errorf("no evidence confidence = %v, want low", empty.Confidence)
	}
}
