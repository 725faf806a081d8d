package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/caseflow/internal/evidence"
	"github.com/kalambet/caseflow/internal/storage"
)

// BreakerStore is the slice of the store the status tool needs.
type BreakerStore interface {
	GetBreaker(service string) (storage.Breaker, error)
	PutBreaker(b storage.Breaker) error
}

// Probe checks whether a service is healthy. Tests and demo deployments
// inject a canned one.
type Probe func(ctx context.Context, service string) error

// BreakerConfig tunes the per-service circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	CoolDown         time.Duration
}

// DefaultBreakerConfig matches the original deployment values.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 3, CoolDown: 5 * time.Minute}
}

// ServiceStatus builds the tool that probes a platform service, with
// breaker state persisted so a flapping dependency is not hammered by
// every job.
func ServiceStatus(store BreakerStore, probe Probe, cfg BreakerConfig) Spec {
	return Spec{
		Name:        "service_status",
		Description: "Current health of a platform service, guarded by a per-service circuit breaker.",
		ParamSchema: objectSchema(mergeProps(windowParamProperties(), map[string]any{
			"service": map[string]any{"type": "string"},
		})),
		Run: func(ctx context.Context, p Params) (evidence.Bundle, error) {
			service := p.String("service", "platform")
			now := time.Now().UTC()

			breaker, err := store.GetBreaker(service)
			if err != nil {
				return evidence.Bundle{}, fmt.Errorf("loading breaker for %s: %w", service, err)
			}

			bundle := evidence.Bundle{
				Source:     "service_status",
				TimeWindow: bundleWindow(now, now),
				Tenant:     evidence.StringPtr(p.String("tenant", "unknown")),
				Events:     []evidence.Event{},
			}

			if breaker.State == storage.BreakerOpen {
				if now.Sub(breaker.OpenedAt) < cfg.CoolDown {
					bundle.Events = append(bundle.Events, statusEvent(now, "probe_skipped",
						fmt.Sprintf("%s breaker open since %s, probe skipped", service, breaker.OpenedAt.Format(time.RFC3339))))
					bundle.ObservedIncident = true
					bundle.SummaryCounts.AvailabilityGaps++
					bundle.SummaryCounts.TotalEvents = len(bundle.Events)
					bundle.Metadata = breakerMetadata(service, breaker)
					return bundle, nil
				}
				breaker.State = storage.BreakerHalfOpen
			}

			probeErr := probe(ctx, service)
			if probeErr != nil {
				breaker.FailureCount++
				if breaker.FailureCount >= cfg.FailureThreshold {
					breaker.State = storage.BreakerOpen
					breaker.OpenedAt = now
				}
				bundle.Events = append(bundle.Events, statusEvent(now, "service_down",
					fmt.Sprintf("%s probe failed: %v", service, probeErr)))
				bundle.ObservedIncident = true
				bundle.SummaryCounts.Errors++
			} else {
				breaker.State = storage.BreakerClosed
				breaker.FailureCount = 0
				breaker.OpenedAt = time.Time{}
				bundle.Events = append(bundle.Events, statusEvent(now, "service_up",
					fmt.Sprintf("%s responding normally", service)))
			}

			if err := store.PutBreaker(breaker); err != nil {
				return evidence.Bundle{}, fmt.Errorf("storing breaker for %s: %w", service, err)
			}

			bundle.Metadata = breakerMetadata(service, breaker)
			bundle.SummaryCounts.TotalEvents = len(bundle.Events)
			return bundle, nil
		},
	}
}

func statusEvent(ts time.Time, eventType, detail string) evidence.Event {
	return evidence.Event{
		TS:        ts.Format(time.RFC3339),
		Type:      eventType,
		ID:        evidence.StringPtr(uuid.NewString()),
		MessageID: nil,
		Detail:    detail,
	}
}

func breakerMetadata(service string, b storage.Breaker) map[string]any {
	return map[string]any{
		"service":       service,
		"breaker_state": b.State,
		"failure_count": b.FailureCount,
	}
}
