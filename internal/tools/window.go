package tools

import (
	"time"

	"github.com/kalambet/caseflow/internal/evidence"
)

// queryWindow reads window_start/window_end from params, defaulting to the
// 24 hours before now when absent or malformed.
func queryWindow(p Params, now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := parseRFC3339(p.String("window_start", ""))
	end := parseRFC3339(p.String("window_end", ""))

	if start.IsZero() || end.IsZero() || !end.After(start) {
		return now.Add(-24 * time.Hour), now
	}
	return start, end
}

func parseRFC3339(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func bundleWindow(start, end time.Time) evidence.TimeWindow {
	return evidence.TimeWindow{
		Start: start.Format(time.RFC3339),
		End:   end.Format(time.RFC3339),
	}
}
