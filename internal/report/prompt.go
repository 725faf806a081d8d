package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/caseflow/internal/engine"
	"github.com/kalambet/caseflow/internal/evidence"
	"github.com/kalambet/caseflow/internal/triage"
)

const systemPrompt = `You are drafting the final report for an investigated support case. You are given the structured triage record and the evidence bundles gathered by tools. That is ALL you know: never invent events, counts, timestamps, or causes that are not in the evidence. Output ONLY a single valid JSON object conforming to the provided schema.

Rules:
- classification.failure_stage is one of: trigger, queue, provider, recipient, configuration, unknown.
- timeline_summary narrates what the evidence shows, in order, with timestamps from the evidence.
- customer_update is a polite, plain-language draft; requested_info repeats the open questions.
- engineering_escalation.severity is S1, S2, or S3.
- engineering_escalation.evidence_refs names the evidence sources used.
- Do not promise dispatch, refunds, or fixes.`

const stricterReportInstruction = `Your previous output did not validate against the schema. Return ONLY the JSON object with every required field present: classification, timeline_summary, customer_update, engineering_escalation, kb_suggestions.`

// buildPrompt hands the model the triage record and evidence, nothing else.
// The raw customer text never reaches this call.
func buildPrompt(rec triage.Record, bundles []evidence.Bundle, stricter bool) ([]engine.Message, error) {
	triageJSON, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding triage record: %w", err)
	}
	evidenceJSON, err := json.MarshalIndent(bundles, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding evidence bundles: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("[Triage]\n")
	sb.Write(triageJSON)
	sb.WriteString("\n\n[Evidence]\n")
	sb.Write(evidenceJSON)

	messages := []engine.Message{
		{Role: "system", Content: systemPrompt},
	}
	if stricter {
		messages = append(messages, engine.Message{Role: "system", Content: stricterReportInstruction})
	}
	messages = append(messages, engine.Message{Role: "user", Content: sb.String()})
	return messages, nil
}

func reportSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"classification":         {Type: "object", Description: "failure_stage, confidence, top_reasons"},
			"timeline_summary":       {Type: "string", Description: "Narrative of what the evidence shows"},
			"customer_update":        {Type: "object", Description: "subject, body, requested_info"},
			"engineering_escalation": {Type: "object", Description: "title, body, evidence_refs, severity, repro_steps"},
			"kb_suggestions":         {Type: "array", Description: "Knowledge base article suggestions"},
		},
		Required: []string{"classification", "timeline_summary", "customer_update", "engineering_escalation", "kb_suggestions"},
	}
}
