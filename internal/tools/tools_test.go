package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kalambet/caseflow/internal/schema"
	"github.com/kalambet/caseflow/internal/storage"
)

func windowParams(tenant string, start, end time.Time) Params {
	return Params{
		"tenant":       tenant,
		"window_start": start.Format(time.RFC3339),
		"window_end":   end.Format(time.RFC3339),
	}
}

func TestFetchEmailEventsBouncyDomain(t *testing.T) {
	r, err := NewRegistry(newTestValidator(t), FetchEmailEvents(DefaultEmailFixture()))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	p := windowParams("acme", start, start.Add(4*time.Hour))
	p["recipient_domain"] = "contoso.com"

	bundle, err := r.Invoke(context.Background(), "fetch_email_events", p)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if bundle.Source != "email_events" {
		t.Errorf("Source = %q", bundle.Source)
	}
	if bundle.SummaryCounts.Bounced == 0 {
		t.Error("contoso.com should produce bounces")
	}
	if bundle.SummaryCounts.Sent != bundle.SummaryCounts.Bounced {
		t.Errorf("sent %d, bounced %d: every send to a bouncy domain bounces",
			bundle.SummaryCounts.Sent, bundle.SummaryCounts.Bounced)
	}
	if bundle.SummaryCounts.TotalEvents != len(bundle.Events) {
		t.Error("total_events out of sync with events")
	}
}

func TestFetchEmailEventsHealthyDomain(t *testing.T) {
	r, err := NewRegistry(newTestValidator(t), FetchEmailEvents(DefaultEmailFixture()))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	p := windowParams("acme", start, start.Add(2*time.Hour))
	p["recipient_domain"] = "example.org"

	bundle, err := r.Invoke(context.Background(), "fetch_email_events", p)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if bundle.SummaryCounts.Bounced != 0 {
		t.Errorf("healthy domain bounced %d", bundle.SummaryCounts.Bounced)
	}
	if bundle.SummaryCounts.Delivered == 0 {
		t.Error("healthy domain should deliver")
	}
}

func TestDNSEmailAuthCheck(t *testing.T) {
	fake := func(ctx context.Context, name string) ([]string, error) {
		switch name {
		case "contoso.com":
			return []string{"v=spf1 include:_spf.example.net ~all"}, nil
		case "_dmarc.contoso.com":
			return nil, errors.New("no such host")
		}
		return nil, errors.New("no such host")
	}

	r, err := NewRegistry(newTestValidator(t), DNSEmailAuthCheck(fake))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	bundle, err := r.Invoke(context.Background(), "dns_email_auth_check", Params{"domain": "contoso.com"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(bundle.Events) != 2 {
		t.Fatalf("got %d events, want spf + dmarc", len(bundle.Events))
	}
	if bundle.Events[0].Type != "spf_check" || bundle.Events[1].Type != "dmarc_check" {
		t.Errorf("event types = %q, %q", bundle.Events[0].Type, bundle.Events[1].Type)
	}
	if bundle.SummaryCounts.Errors != 1 {
		t.Errorf("errors = %d, want 1 for the missing DMARC record", bundle.SummaryCounts.Errors)
	}
}

func TestDNSEmailAuthCheckRequiresDomain(t *testing.T) {
	r, err := NewRegistry(newTestValidator(t), DNSEmailAuthCheck(SystemResolver))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := r.Invoke(context.Background(), "dns_email_auth_check", Params{}); err == nil {
		t.Error("missing domain should fail")
	}
}

func TestLogEvidenceErrorsAndIncidentWindow(t *testing.T) {
	r, err := NewRegistry(newTestValidator(t), LogEvidence(DemoLogSource))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p := windowParams("acme", start, start.Add(6*time.Hour))
	p["query_type"] = "errors"

	bundle, err := r.Invoke(context.Background(), "log_evidence", p)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if bundle.SummaryCounts.Errors == 0 {
		t.Fatal("demo source should contain an error burst")
	}
	if !bundle.ObservedIncident {
		t.Error("sustained error run should mark an observed incident")
	}
	if bundle.IncidentWindow == nil {
		t.Error("incident window missing")
	}
}

func TestLogEvidenceAvailabilityGap(t *testing.T) {
	r, err := NewRegistry(newTestValidator(t), LogEvidence(DemoLogSource))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p := windowParams("acme", start, start.Add(6*time.Hour))
	p["query_type"] = "availability"

	bundle, err := r.Invoke(context.Background(), "log_evidence", p)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if bundle.SummaryCounts.AvailabilityGaps == 0 {
		t.Error("demo source should contain an availability gap")
	}
}

func TestLogEvidenceRejectsUnknownQueryType(t *testing.T) {
	r, err := NewRegistry(newTestValidator(t), LogEvidence(DemoLogSource))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	_, err = r.Invoke(context.Background(), "log_evidence", Params{"query_type": "everything"})
	if !errors.Is(err, ErrInvalidParams) {
		t.Errorf("error = %v, want ErrInvalidParams", err)
	}
}

func TestServiceStatusBreakerTripsAndCoolsDown(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	t.Cleanup(func() { store.Close() })

	downProbe := func(ctx context.Context, service string) error {
		return errors.New("probe timeout")
	}
	cfg := BreakerConfig{FailureThreshold: 2, CoolDown: time.Hour}
	r, err := NewRegistry(newTestValidator(t), ServiceStatus(store, downProbe, cfg))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	p := Params{"service": "smtp-gateway", "tenant": "acme"}

	// First failure: breaker still closed.
	bundle, err := r.Invoke(context.Background(), "service_status", p)
	if err != nil {
		t.Fatalf("Invoke 1: %v", err)
	}
	if bundle.Metadata["breaker_state"] != storage.BreakerClosed {
		t.Errorf("state after 1 failure = %v", bundle.Metadata["breaker_state"])
	}

	// Second failure reaches the threshold and opens the breaker.
	bundle, err = r.Invoke(context.Background(), "service_status", p)
	if err != nil {
		t.Fatalf("Invoke 2: %v", err)
	}
	if bundle.Metadata["breaker_state"] != storage.BreakerOpen {
		t.Errorf("state after threshold = %v", bundle.Metadata["breaker_state"])
	}

	// While open and inside the cool-down, probes are skipped.
	bundle, err = r.Invoke(context.Background(), "service_status", p)
	if err != nil {
		t.Fatalf("Invoke 3: %v", err)
	}
	if len(bundle.Events) != 1 || bundle.Events[0].Type != "probe_skipped" {
		t.Errorf("open breaker events = %+v", bundle.Events)
	}
	if !bundle.ObservedIncident {
		t.Error("open breaker should count as an observed incident")
	}
}

func TestServiceStatusRecovers(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	t.Cleanup(func() { store.Close() })

	r, err := NewRegistry(newTestValidator(t), ServiceStatus(store, HealthyProbe, DefaultBreakerConfig()))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	bundle, err := r.Invoke(context.Background(), "service_status", Params{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if bundle.ObservedIncident {
		t.Error("healthy probe should not observe an incident")
	}
	if bundle.Events[0].Type != "service_up" {
		t.Errorf("event type = %q", bundle.Events[0].Type)
	}
}

func TestBundlesSatisfyContract(t *testing.T) {
	// Every default tool's output has already passed Invoke-time validation
	// in the tests above; this pins the contract name used.
	v := newTestValidator(t)
	raw, _ := json.Marshal(map[string]any{
		"source":      "logs",
		"time_window": map[string]any{"start": "2026-03-01T00:00:00Z", "end": "2026-03-01T06:00:00Z"},
		"tenant":      "acme",
		"summary_counts": map[string]any{
			"sent": 0, "bounced": 0, "deferred": 0, "delivered": 0,
		},
		"events": []any{},
	})
	if err := v.Validate(schema.EvidenceBundle, raw); err != nil {
		t.Fatalf("minimal bundle should validate: %v", err)
	}
}
