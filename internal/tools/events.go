package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/caseflow/internal/evidence"
)

// AppFixture is the demo application-event connector: per-tenant recent
// events with their outcomes.
type AppFixture struct {
	// FailingImports marks tenants whose import jobs error out.
	FailingImports map[string]string
}

// DefaultAppFixture returns the demo dataset.
func DefaultAppFixture() AppFixture {
	return AppFixture{
		FailingImports: map[string]string{
			"acme": "row 1042: date column not in ISO format",
		},
	}
}

// FetchAppEvents builds the tool that pulls recent application events
// (imports, logins, settings changes) for a tenant.
func FetchAppEvents(fixture AppFixture) Spec {
	return Spec{
		Name:        "fetch_app_events",
		Description: "Recent application events for a tenant within a time window.",
		ParamSchema: objectSchema(windowParamProperties()),
		Run: func(ctx context.Context, p Params) (evidence.Bundle, error) {
			start, end := queryWindow(p, time.Now())
			tenant := p.String("tenant", "unknown")

			bundle := evidence.Bundle{
				Source:     "app_events",
				TimeWindow: bundleWindow(start, end),
				Tenant:     evidence.StringPtr(tenant),
				Events:     []evidence.Event{},
			}

			mid := start.Add(end.Sub(start) / 2)
			bundle.Events = append(bundle.Events, evidence.Event{
				TS:        start.Add(10 * time.Minute).Format(time.RFC3339),
				Type:      "login",
				ID:        evidence.StringPtr(uuid.NewString()),
				MessageID: nil,
				Detail:    fmt.Sprintf("admin user for %s signed in", tenant),
			})

			if detail, failing := fixture.FailingImports[tenant]; failing {
				bundle.Events = append(bundle.Events,
					evidence.Event{
						TS:        mid.Format(time.RFC3339),
						Type:      "import_started",
						ID:        evidence.StringPtr(uuid.NewString()),
						MessageID: nil,
						Detail:    "csv import started",
					},
					evidence.Event{
						TS:        mid.Add(3 * time.Minute).Format(time.RFC3339),
						Type:      "import_failed",
						ID:        evidence.StringPtr(uuid.NewString()),
						MessageID: nil,
						Detail:    detail,
					},
				)
				bundle.SummaryCounts.Errors++
			} else {
				bundle.Events = append(bundle.Events, evidence.Event{
					TS:        mid.Format(time.RFC3339),
					Type:      "import_completed",
					ID:        evidence.StringPtr(uuid.NewString()),
					MessageID: nil,
					Detail:    "csv import completed without errors",
				})
			}

			bundle.SummaryCounts.TotalEvents = len(bundle.Events)
			return bundle, nil
		},
	}
}

// IntegrationFixture is the demo integration-run connector.
type IntegrationFixture struct {
	// DisabledWorkflows maps tenant to the workflow a customer admin
	// switched off, the most common cause of "integration stopped".
	DisabledWorkflows map[string]string
	// FailingWebhooks maps tenant to the HTTP status its webhook target
	// currently returns.
	FailingWebhooks map[string]int
}

// DefaultIntegrationFixture returns the demo dataset.
func DefaultIntegrationFixture() IntegrationFixture {
	return IntegrationFixture{
		DisabledWorkflows: map[string]string{
			"globex": "salesforce-contact-sync",
		},
		FailingWebhooks: map[string]int{
			"acme": 429,
		},
	}
}

// FetchIntegrationEvents builds the tool that pulls integration run history
// and webhook delivery attempts for a tenant.
func FetchIntegrationEvents(fixture IntegrationFixture) Spec {
	return Spec{
		Name:        "fetch_integration_events",
		Description: "Integration runs and webhook delivery attempts for a tenant within a time window.",
		ParamSchema: objectSchema(windowParamProperties()),
		Run: func(ctx context.Context, p Params) (evidence.Bundle, error) {
			start, end := queryWindow(p, time.Now())
			tenant := p.String("tenant", "unknown")

			bundle := evidence.Bundle{
				Source:     "integration_events",
				TimeWindow: bundleWindow(start, end),
				Tenant:     evidence.StringPtr(tenant),
				Events:     []evidence.Event{},
			}

			if workflow, disabled := fixture.DisabledWorkflows[tenant]; disabled {
				bundle.Events = append(bundle.Events, evidence.Event{
					TS:        start.Format(time.RFC3339),
					Type:      "workflow_disabled",
					ID:        evidence.StringPtr(uuid.NewString()),
					MessageID: nil,
					Detail:    fmt.Sprintf("workflow %s disabled by tenant admin", workflow),
				})
				bundle.Metadata = map[string]any{"disabled_workflow": workflow}
			}

			if status, failing := fixture.FailingWebhooks[tenant]; failing {
				for i := 0; i < 3; i++ {
					bundle.Events = append(bundle.Events, evidence.Event{
						TS:        start.Add(time.Duration(i+1) * time.Hour).Format(time.RFC3339),
						Type:      "webhook_failed",
						ID:        evidence.StringPtr(uuid.NewString()),
						MessageID: nil,
						Detail:    fmt.Sprintf("target responded %d", status),
					})
					bundle.SummaryCounts.Errors++
				}
				if status == 429 {
					bundle.Events = append(bundle.Events, evidence.Event{
						TS:        end.Add(-time.Minute).Format(time.RFC3339),
						Type:      "rate_limit",
						ID:        evidence.StringPtr(uuid.NewString()),
						MessageID: nil,
						Detail:    "deliveries paused after repeated 429 responses (rate limit)",
					})
				}
			}

			if len(bundle.Events) == 0 {
				bundle.Events = append(bundle.Events, evidence.Event{
					TS:        end.Add(-time.Minute).Format(time.RFC3339),
					Type:      "run_completed",
					ID:        evidence.StringPtr(uuid.NewString()),
					MessageID: nil,
					Detail:    "all integration runs in window completed",
				})
			}

			bundle.SummaryCounts.TotalEvents = len(bundle.Events)
			return bundle, nil
		},
	}
}
