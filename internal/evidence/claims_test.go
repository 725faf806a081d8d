package evidence

import (
	"slices"
	"testing"
)

func bounceBundle() Bundle {
	return Bundle{
		Source:     "email_events",
		TimeWindow: TimeWindow{Start: "2026-03-01T00:00:00Z", End: "2026-03-02T00:00:00Z"},
		Tenant:     StringPtr("acme"),
		SummaryCounts: SummaryCounts{
			Sent:    10,
			Bounced: 3,
		},
		Events: []Event{
			{TS: "2026-03-01T10:00:00Z", Type: "bounce", ID: StringPtr("evt-1"), MessageID: StringPtr("m-1"), Detail: "550 5.1.1 user unknown"},
		},
	}
}

func TestCheckSupportedClaim(t *testing.T) {
	checker := NewChecker()
	got := checker.Check("Messages to your recipient bounced with a permanent error.", []Bundle{bounceBundle()})
	if len(got) != 0 {
		t.Fatalf("expected no unsupported claims, got %v", got)
	}
}

func TestCheckUnsupportedClaim(t *testing.T) {
	checker := NewChecker()
	got := checker.Check("Your domain failed DMARC validation and mail was quarantined.", []Bundle{bounceBundle()})
	for _, want := range []string{"dmarc", "quarantine"} {
		if !slices.Contains(got, want) {
			t.Errorf("expected %q to be flagged, got %v", want, got)
		}
	}
}

func TestCheckNoEvidenceFailsClosed(t *testing.T) {
	checker := NewChecker()
	got := checker.Check("We detected a rate limit on your account.", nil)
	if !slices.Contains(got, "rate limit") {
		t.Fatalf("claim with no evidence must be flagged, got %v", got)
	}
}

func TestCheckClaimFreeText(t *testing.T) {
	checker := NewChecker()
	got := checker.Check("Thanks for reaching out. We are looking into this.", nil)
	if len(got) != 0 {
		t.Fatalf("neutral text should pass, got %v", got)
	}
}

func TestCheckObservedIncidentSupportsOutage(t *testing.T) {
	b := bounceBundle()
	b.Source = "service_status"
	b.ObservedIncident = true
	b.IncidentWindow = &TimeWindow{Start: "2026-03-01T09:00:00Z", End: "2026-03-01T11:00:00Z"}

	checker := NewChecker()
	if got := checker.Check("There was a service outage during the reported window.", []Bundle{b}); len(got) != 0 {
		t.Fatalf("outage backed by incident window should pass, got %v", got)
	}
}

func TestCheckCustomRule(t *testing.T) {
	checker := NewChecker(Rule{
		Claim:     "refund",
		Supported: func([]Bundle) bool { return false },
	})
	got := checker.Check("We issued a refund to your account.", []Bundle{bounceBundle()})
	if !slices.Contains(got, "refund") {
		t.Fatalf("custom rule not applied, got %v", got)
	}
}
