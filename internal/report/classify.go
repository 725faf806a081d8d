package report

import (
	"strings"

	"github.com/kalambet/caseflow/internal/evidence"
	"github.com/kalambet/caseflow/internal/triage"
)

// Classify derives the failure stage from evidence alone. It never consults
// the raw message, so its output is safe for both the template fallback and
// as a cross-check on the generated narrative.
func Classify(rec triage.Record, bundles []evidence.Bundle) Classification {
	reasons := []string{}
	stage := StageUnknown
	confidence := 0.2

	seen := map[string]bool{}
	set := func(s string, conf float64, reason string) {
		if conf > confidence {
			stage = s
			confidence = conf
		}
		if !seen[reason] {
			seen[reason] = true
			reasons = append(reasons, reason)
		}
	}

	for _, b := range bundles {
		for _, e := range b.Events {
			detail := strings.ToLower(e.Detail)
			switch {
			case e.Type == "bounce" && (strings.Contains(detail, "dmarc") || strings.Contains(detail, "spf")):
				set(StageConfiguration, 0.85, "recipient servers rejecting mail on sender authentication policy")
			case e.Type == "bounce" && strings.Contains(detail, "user unknown"):
				set(StageRecipient, 0.8, "permanent bounces for unknown recipient addresses")
			case e.Type == "bounce":
				set(StageRecipient, 0.6, "bounces recorded at the receiving side")
			case e.Type == "dmarc_check" && strings.Contains(detail, "no record"):
				set(StageConfiguration, 0.8, "DMARC record missing for sending domain")
			case e.Type == "spf_check" && strings.Contains(detail, "no record"):
				set(StageConfiguration, 0.8, "SPF record missing for sending domain")
			case e.Type == "workflow_disabled":
				set(StageConfiguration, 0.85, "workflow disabled by a tenant administrator")
			case e.Type == "rate_limit" || strings.Contains(detail, "429"):
				set(StageProvider, 0.7, "downstream rate limiting in effect")
			case e.Type == "webhook_failed":
				set(StageProvider, 0.6, "webhook target failing deliveries")
			case e.Type == "service_down" || e.Type == "probe_skipped":
				set(StageProvider, 0.75, "platform service unhealthy during the window")
			case e.Type == "import_failed":
				set(StageTrigger, 0.7, "import job failing on input validation")
			case e.Type == "log_timeout":
				set(StageQueue, 0.5, "timeouts observed in service logs")
			}
		}
		if b.ObservedIncident && b.Source == "logs" {
			set(StageProvider, 0.7, "sustained error window in service logs")
		}
	}

	if len(reasons) == 0 {
		switch rec.CaseType {
		case triage.CaseEmailDelivery:
			reasons = append(reasons, "no delivery anomalies found in the investigated window")
		default:
			reasons = append(reasons, "no supporting evidence found in the investigated window")
		}
	}

	if len(reasons) > 3 {
		reasons = reasons[:3]
	}
	return Classification{FailureStage: stage, Confidence: confidence, TopReasons: reasons}
}

// escalationSeverity maps triage severity onto ticket severity.
func escalationSeverity(severity string) string {
	switch severity {
	case triage.SeverityCritical:
		return "S1"
	case triage.SeverityHigh:
		return "S2"
	default:
		return "S3"
	}
}
