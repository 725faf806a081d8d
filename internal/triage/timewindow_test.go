package triage

import (
	"testing"
	"time"
)

func TestParseTimeWindowExplicit(t *testing.T) {
	tw := ParseTimeWindow("It broke between 2026-03-01T09:00:00Z and 2026-03-01T11:30:00Z.")

	if tw.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", tw.Confidence)
	}
	if tw.Start == nil || *tw.Start != "2026-03-01T09:00:00Z" {
		t.Errorf("start = %v", tw.Start)
	}
	if tw.End == nil || *tw.End != "2026-03-01T11:30:00Z" {
		t.Errorf("end = %v", tw.End)
	}
}

func TestParseTimeWindowSingleTimestamp(t *testing.T) {
	tw := ParseTimeWindow("The import failed on 2026-03-01.")

	if tw.Start == nil {
		t.Fatal("expected start from a bare date")
	}
	if tw.End != nil {
		t.Errorf("single timestamp should leave end nil, got %v", *tw.End)
	}
	if tw.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", tw.Confidence)
	}
}

func TestParseTimeWindowRelative(t *testing.T) {
	for _, text := range []string{
		"It stopped working yesterday.",
		"Users noticed it this morning.",
		"Bounces started a few hours ago.",
	} {
		tw := ParseTimeWindow(text)
		if tw.Start != nil || tw.End != nil {
			t.Errorf("%q: relative phrase must not fabricate timestamps, got %+v", text, tw)
		}
		if tw.Confidence != 0.3 {
			t.Errorf("%q: confidence = %v, want 0.3", text, tw.Confidence)
		}
	}
}

func TestParseTimeWindowNone(t *testing.T) {
	tw := ParseTimeWindow("Emails are bouncing to contoso.com")
	if tw.Start != nil || tw.End != nil || tw.Confidence != 0 {
		t.Errorf("no time reference should give empty window, got %+v", tw)
	}
}

func TestInvestigationWindowFull(t *testing.T) {
	start := "2026-03-01T09:00:00Z"
	end := "2026-03-01T11:00:00Z"
	from, to := InvestigationWindow(TimeWindow{Start: &start, End: &end, Confidence: 0.8}, time.Now())

	if !from.Equal(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)) || !to.Equal(time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)) {
		t.Errorf("window = %v .. %v", from, to)
	}
}

func TestInvestigationWindowInferredEdge(t *testing.T) {
	start := "2026-03-01T09:00:00Z"
	from, to := InvestigationWindow(TimeWindow{Start: &start, Confidence: 0.8}, time.Now())

	if !to.Equal(from.Add(2 * time.Hour)) {
		t.Errorf("missing end should be start+2h, got %v .. %v", from, to)
	}

	end := "2026-03-01T09:00:00Z"
	from, to = InvestigationWindow(TimeWindow{End: &end, Confidence: 0.8}, time.Now())
	if !from.Equal(to.Add(-2 * time.Hour)) {
		t.Errorf("missing start should be end-2h, got %v .. %v", from, to)
	}
}

func TestInvestigationWindowFallback(t *testing.T) {
	received := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	from, to := InvestigationWindow(TimeWindow{Confidence: 0.3}, received)

	if !to.Equal(received) {
		t.Errorf("fallback end = %v, want receive time", to)
	}
	if !from.Equal(received.Add(-24 * time.Hour)) {
		t.Errorf("fallback start = %v, want receive time minus 24h", from)
	}
}
