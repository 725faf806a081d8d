package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/caseflow/internal/evidence"
)

// EmailFixture is the demo delivery-log connector: a map of recipient
// domains known to reject mail, with the SMTP detail they return. A real
// deployment swaps this for the provider's event API.
type EmailFixture struct {
	BouncyDomains map[string]string
}

// DefaultEmailFixture returns the demo dataset.
func DefaultEmailFixture() EmailFixture {
	return EmailFixture{
		BouncyDomains: map[string]string{
			"contoso.com":  "550 5.7.1 message rejected due to DMARC policy",
			"fabrikam.io":  "550 5.1.1 user unknown",
			"tailspin.net": "451 4.7.0 greylisted, try again later",
		},
	}
}

// FetchEmailEvents builds the tool that queries outbound delivery events
// for a tenant and window.
func FetchEmailEvents(fixture EmailFixture) Spec {
	return Spec{
		Name:        "fetch_email_events",
		Description: "Outbound email delivery and bounce events for a tenant within a time window.",
		ParamSchema: objectSchema(mergeProps(windowParamProperties(), map[string]any{
			"recipient_domain": map[string]any{"type": "string"},
		})),
		Run: func(ctx context.Context, p Params) (evidence.Bundle, error) {
			start, end := queryWindow(p, time.Now())
			tenant := p.String("tenant", "unknown")
			domain := strings.ToLower(p.String("recipient_domain", ""))

			bundle := evidence.Bundle{
				Source:     "email_events",
				TimeWindow: bundleWindow(start, end),
				Tenant:     evidence.StringPtr(tenant),
				Events:     []evidence.Event{},
			}

			bounceDetail, bouncy := fixture.BouncyDomains[domain]

			// One send per hour of the window, capped to keep bundles small.
			step := time.Hour
			for ts, i := start, 0; ts.Before(end) && i < 24; ts, i = ts.Add(step), i+1 {
				msgID := fmt.Sprintf("msg-%s-%d", shortID(tenant), i)
				bundle.Events = append(bundle.Events, evidence.Event{
					TS:        ts.Format(time.RFC3339),
					Type:      "send",
					ID:        evidence.StringPtr(uuid.NewString()),
					MessageID: evidence.StringPtr(msgID),
					Detail:    fmt.Sprintf("queued for delivery to %s", orUnknown(domain)),
				})
				bundle.SummaryCounts.Sent++

				if bouncy {
					bundle.Events = append(bundle.Events, evidence.Event{
						TS:        ts.Add(2 * time.Minute).Format(time.RFC3339),
						Type:      "bounce",
						ID:        evidence.StringPtr(uuid.NewString()),
						MessageID: evidence.StringPtr(msgID),
						Detail:    bounceDetail,
					})
					bundle.SummaryCounts.Bounced++
				} else {
					bundle.Events = append(bundle.Events, evidence.Event{
						TS:        ts.Add(time.Minute).Format(time.RFC3339),
						Type:      "delivered",
						ID:        evidence.StringPtr(uuid.NewString()),
						MessageID: evidence.StringPtr(msgID),
						Detail:    "accepted by receiving server",
					})
					bundle.SummaryCounts.Delivered++
				}
			}
			bundle.SummaryCounts.TotalEvents = len(bundle.Events)
			return bundle, nil
		},
	}
}

// TXTResolver looks up TXT records. net.DefaultResolver.LookupTXT satisfies
// it; tests inject a fake.
type TXTResolver func(ctx context.Context, name string) ([]string, error)

// DNSEmailAuthCheck builds the tool that verifies SPF and DMARC records for
// a sending domain.
func DNSEmailAuthCheck(resolver TXTResolver) Spec {
	return Spec{
		Name:        "dns_email_auth_check",
		Description: "SPF and DMARC record check for a sending domain.",
		ParamSchema: objectSchema(mergeProps(windowParamProperties(), map[string]any{
			"domain":           map[string]any{"type": "string"},
			"recipient_domain": map[string]any{"type": "string"},
		})),
		Run: func(ctx context.Context, p Params) (evidence.Bundle, error) {
			domain := p.String("domain", p.String("recipient_domain", ""))
			if domain == "" {
				return evidence.Bundle{}, fmt.Errorf("dns check requires a domain param")
			}
			now := time.Now().UTC()

			bundle := evidence.Bundle{
				Source:     "dns_checks",
				TimeWindow: bundleWindow(now, now),
				Tenant:     evidence.StringPtr(p.String("tenant", "unknown")),
				Events:     []evidence.Event{},
				Metadata:   map[string]any{"domain": domain},
			}

			spf := lookupRecord(ctx, resolver, domain, "v=spf1")
			bundle.Events = append(bundle.Events, checkEvent(now, "spf_check", domain, spf))

			dmarc := lookupRecord(ctx, resolver, "_dmarc."+domain, "v=DMARC1")
			bundle.Events = append(bundle.Events, checkEvent(now, "dmarc_check", domain, dmarc))

			if spf == "" || dmarc == "" {
				bundle.SummaryCounts.Errors++
			}
			bundle.SummaryCounts.TotalEvents = len(bundle.Events)
			return bundle, nil
		},
	}
}

func lookupRecord(ctx context.Context, resolver TXTResolver, name, prefix string) string {
	records, err := resolver(ctx, name)
	if err != nil {
		return ""
	}
	for _, r := range records {
		if strings.HasPrefix(strings.TrimSpace(r), prefix) {
			return strings.TrimSpace(r)
		}
	}
	return ""
}

func checkEvent(now time.Time, checkType, domain, record string) evidence.Event {
	detail := fmt.Sprintf("no record found for %s", domain)
	if record != "" {
		detail = record
	}
	return evidence.Event{
		TS:        now.Format(time.RFC3339),
		Type:      checkType,
		ID:        evidence.StringPtr(uuid.NewString()),
		MessageID: nil,
		Detail:    detail,
	}
}

func shortID(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func orUnknown(s string) string {
	if s == "" {
		return "recipient"
	}
	return s
}
