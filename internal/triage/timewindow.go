package triage

import (
	"regexp"
	"strings"
	"time"
)

// isoPattern matches explicit timestamps like 2026-03-01T10:00:00Z or
// 2026-03-01 10:00.
var isoPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}([T ]\d{2}:\d{2}(:\d{2})?(Z|[+-]\d{2}:?\d{2})?)?`)

// relativePhrases are time references that indicate when something happened
// without pinning it down. They must never be converted into timestamps.
var relativePhrases = []string{
	"yesterday", "this morning", "this afternoon", "last night", "tonight",
	"earlier today", "a few hours ago", "an hour ago", "last week",
	"this week", "since friday", "over the weekend", "just now", "recently",
}

// ParseTimeWindow extracts the customer-reported window from the message.
// Explicit timestamps are parsed and kept (confidence 0.8). Relative
// phrases leave both edges nil with confidence 0.3. No reference at all
// means nil edges and zero confidence.
func ParseTimeWindow(text string) TimeWindow {
	matches := isoPattern.FindAllString(text, -1)

	var parsed []time.Time
	for _, m := range matches {
		if t, ok := parseTimestamp(m); ok {
			parsed = append(parsed, t)
		}
	}

	if len(parsed) > 0 {
		start := parsed[0]
		end := start
		for _, t := range parsed[1:] {
			if t.Before(start) {
				start = t
			}
			if t.After(end) {
				end = t
			}
		}
		startStr := start.UTC().Format(time.RFC3339)
		tw := TimeWindow{Start: &startStr, Confidence: 0.8}
		if end.After(start) {
			endStr := end.UTC().Format(time.RFC3339)
			tw.End = &endStr
		}
		return tw
	}

	lowered := strings.ToLower(text)
	for _, phrase := range relativePhrases {
		if strings.Contains(lowered, phrase) {
			return TimeWindow{Confidence: 0.3}
		}
	}

	return TimeWindow{}
}

func parseTimestamp(s string) (time.Time, bool) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// InvestigationWindow derives the concrete window tools query. A reported
// edge is honored; a missing edge is inferred two hours around the known
// one. With no reported timestamps at all, the window is the 24 hours
// before receivedAt.
func InvestigationWindow(tw TimeWindow, receivedAt time.Time) (time.Time, time.Time) {
	receivedAt = receivedAt.UTC()

	start := parseEdge(tw.Start)
	end := parseEdge(tw.End)

	switch {
	case !start.IsZero() && !end.IsZero():
		return start, end
	case !start.IsZero():
		return start, start.Add(2 * time.Hour)
	case !end.IsZero():
		return end.Add(-2 * time.Hour), end
	default:
		return receivedAt.Add(-24 * time.Hour), receivedAt
	}
}

func parseEdge(s *string) time.Time {
	if s == nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
