// Package evidence defines the structured, tool-sourced factual data the
// pipeline gathers for a job, and the claim checker that keeps generated
// narrative grounded in it.
package evidence

import (
	"encoding/json"
	"strings"
)

// TimeWindow is the interval a tool was asked about.
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Event is one discrete observation inside a bundle.
type Event struct {
	TS        string  `json:"ts"`
	Type      string  `json:"type"`
	ID        *string `json:"id"`
	MessageID *string `json:"message_id"`
	Detail    string  `json:"detail"`
}

// SummaryCounts aggregates the events in a bundle.
type SummaryCounts struct {
	Sent             int `json:"sent"`
	Bounced          int `json:"bounced"`
	Deferred         int `json:"deferred"`
	Delivered        int `json:"delivered"`
	Errors           int `json:"errors,omitempty"`
	Timeouts         int `json:"timeouts,omitempty"`
	AvailabilityGaps int `json:"availability_gaps,omitempty"`
	TotalEvents      int `json:"total_events,omitempty"`
}

// Bundle is one tool execution's worth of evidence. Bundles are append-only:
// once attached to a job they are never mutated.
type Bundle struct {
	Source           string         `json:"source"`
	TimeWindow       TimeWindow     `json:"time_window"`
	IncidentWindow   *TimeWindow    `json:"incident_window,omitempty"`
	Tenant           *string        `json:"tenant"`
	ObservedIncident bool           `json:"observed_incident,omitempty"`
	SummaryCounts    SummaryCounts  `json:"summary_counts"`
	Events           []Event        `json:"events"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// StringPtr is a convenience for the nullable event and tenant fields.
func StringPtr(s string) *string { return &s }

// searchText flattens bundles to a lowercase haystack for keyword support
// checks. JSON form keeps event types and details searchable the same way
// they are stored.
func searchText(bundles []Bundle) string {
	b, err := json.Marshal(bundles)
	if err != nil {
		return ""
	}
	return strings.ToLower(string(b))
}

// totalBounced sums the bounced count across bundles.
func totalBounced(bundles []Bundle) int {
	total := 0
	for _, b := range bundles {
		total += b.SummaryCounts.Bounced
	}
	return total
}
