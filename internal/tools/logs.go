package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/caseflow/internal/evidence"
)

// LogLine is one service log entry seen by the log_evidence tool.
type LogLine struct {
	TS      time.Time
	Level   string
	Service string
	Message string
}

// LogSource provides log lines for a window. A real deployment backs this
// with the log store; the default is a demo generator.
type LogSource func(start, end time.Time) []LogLine

// DemoLogSource generates deterministic lines across the window: steady
// info-level traffic with an error burst and a short availability gap in
// the middle third.
func DemoLogSource(start, end time.Time) []LogLine {
	var lines []LogLine
	total := end.Sub(start)
	burstStart := start.Add(total / 3)
	burstEnd := start.Add(total / 2)

	for ts := start; ts.Before(end); ts = ts.Add(5 * time.Minute) {
		switch {
		case ts.After(burstStart) && ts.Before(burstEnd):
			lines = append(lines, LogLine{
				TS: ts, Level: "error", Service: "smtp-gateway",
				Message: "upstream connection timeout after 30s",
			})
		case ts.Equal(burstEnd) || (ts.After(burstEnd) && ts.Before(burstEnd.Add(15*time.Minute))):
			// Availability gap: no lines at all right after the burst.
		default:
			lines = append(lines, LogLine{
				TS: ts, Level: "info", Service: "smtp-gateway",
				Message: "delivery batch processed",
			})
		}
	}
	return lines
}

// LogEvidence builds the tool that searches service logs for errors,
// timeouts, or availability gaps, and detects an incident window from
// sustained error runs.
func LogEvidence(source LogSource) Spec {
	return Spec{
		Name:        "log_evidence",
		Description: "Service log search: errors, timeouts, or availability gaps within a time window.",
		ParamSchema: objectSchema(mergeProps(windowParamProperties(), map[string]any{
			"query_type": map[string]any{
				"type": "string",
				"enum": []any{"errors", "timeouts", "availability"},
			},
			"service": map[string]any{"type": "string"},
		}), "query_type"),
		Run: func(ctx context.Context, p Params) (evidence.Bundle, error) {
			start, end := queryWindow(p, time.Now())
			queryType := p.String("query_type", "errors")
			service := p.String("service", "")

			lines := source(start, end)

			bundle := evidence.Bundle{
				Source:     "logs",
				TimeWindow: bundleWindow(start, end),
				Tenant:     evidence.StringPtr(p.String("tenant", "unknown")),
				Events:     []evidence.Event{},
				Metadata:   map[string]any{"query_type": queryType},
			}

			var firstError, lastError time.Time
			var prev time.Time
			for _, line := range lines {
				if service != "" && line.Service != service {
					continue
				}

				switch queryType {
				case "errors":
					if line.Level == "error" {
						appendLogEvent(&bundle, line, "log_error")
						bundle.SummaryCounts.Errors++
						trackRun(&firstError, &lastError, line.TS)
					}
				case "timeouts":
					if strings.Contains(strings.ToLower(line.Message), "timeout") {
						appendLogEvent(&bundle, line, "log_timeout")
						bundle.SummaryCounts.Timeouts++
						trackRun(&firstError, &lastError, line.TS)
					}
				case "availability":
					if !prev.IsZero() && line.TS.Sub(prev) > 10*time.Minute {
						bundle.Events = append(bundle.Events, evidence.Event{
							TS:        prev.Format(time.RFC3339),
							Type:      "availability_gap",
							ID:        evidence.StringPtr(uuid.NewString()),
							MessageID: nil,
							Detail:    fmt.Sprintf("no log lines for %s", line.TS.Sub(prev).Round(time.Minute)),
						})
						bundle.SummaryCounts.AvailabilityGaps++
						trackRun(&firstError, &lastError, prev)
					}
				}
				prev = line.TS
			}

			// A sustained run of findings marks an observed incident window.
			if !firstError.IsZero() && lastError.Sub(firstError) >= 10*time.Minute {
				bundle.ObservedIncident = true
				iw := bundleWindow(firstError, lastError)
				bundle.IncidentWindow = &iw
			}

			bundle.SummaryCounts.TotalEvents = len(bundle.Events)
			return bundle, nil
		},
	}
}

func appendLogEvent(b *evidence.Bundle, line LogLine, eventType string) {
	b.Events = append(b.Events, evidence.Event{
		TS:        line.TS.Format(time.RFC3339),
		Type:      eventType,
		ID:        evidence.StringPtr(uuid.NewString()),
		MessageID: nil,
		Detail:    line.Service + ": " + line.Message,
	})
}

func trackRun(first, last *time.Time, ts time.Time) {
	if first.IsZero() {
		*first = ts
	}
	*last = ts
}
