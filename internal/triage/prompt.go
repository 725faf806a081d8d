package triage

import (
	"fmt"
	"strings"

	"github.com/kalambet/caseflow/internal/engine"
)

const systemPromptTemplate = `You are a support triage engine for a SaaS platform. Analyze the customer's message and produce ONLY a single valid JSON object conforming to the provided schema. No prose, no markdown.

Case types:
- "email_delivery": outbound email bouncing, deferred, filtered, or missing
- "integration": third-party integrations, webhooks, API sync problems
- "ui_bug": something in the product interface broken or misrendered
- "data_import": file imports, migrations, uploads failing or stuck
- "access_permissions": login, SSO, lockouts, permission errors
- "incident": widespread breakage affecting many users at once
- "unknown": none of the above fits

Rules:
- time_window.start and time_window.end must be ISO 8601 timestamps that appear explicitly in the message, or null. NEVER invent a timestamp. A phrase like "yesterday" means null edges with confidence 0.3.
- List concrete symptoms, not restatements of the whole message.
- missing_info_questions are the questions an investigator would need answered.
- suggested_tools may only reference tools from the allowed list below; params must be a JSON object.`

const stricterInstruction = `Your previous output did not validate against the schema. Return ONLY the JSON object. Every required field must be present. time_window edges are ISO 8601 strings or null, confidence is a number between 0 and 1.`

// BuildPrompt assembles the chat messages for triage extraction: system
// instructions, allowed tool names, golden examples, then the redacted
// message.
func BuildPrompt(redactedText string, allowedTools []string, examples []Example, stricter bool) []engine.Message {
	var sb strings.Builder
	sb.WriteString(systemPromptTemplate)

	if len(allowedTools) > 0 {
		fmt.Fprintf(&sb, "\n\nAllowed tools: %s", strings.Join(allowedTools, ", "))
	}

	messages := []engine.Message{
		{Role: "system", Content: sb.String()},
	}

	for _, ex := range examples {
		messages = append(messages,
			engine.Message{Role: "user", Content: ex.Text},
			engine.Message{Role: "assistant", Content: ex.TriageJSON},
		)
	}

	if stricter {
		messages = append(messages, engine.Message{Role: "system", Content: stricterInstruction})
	}

	messages = append(messages, engine.Message{Role: "user", Content: redactedText})
	return messages
}

// triageSchema is the structured-output format requested from the backend.
// Full contract validation still happens against the embedded JSON schema.
func triageSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"case_type":              {Type: "string", Description: "One of: email_delivery, integration, ui_bug, data_import, access_permissions, incident, unknown"},
			"severity":               {Type: "string", Description: "One of: critical, high, medium, low"},
			"time_window":            {Type: "object", Description: "start, end (ISO 8601 or null), confidence (0..1)"},
			"scope":                  {Type: "object", Description: "Affected tenants, users, recipients, domains"},
			"symptoms":               {Type: "array", Description: "Concrete observed symptoms"},
			"missing_info_questions": {Type: "array", Description: "Questions for the customer"},
			"suggested_tools":        {Type: "array", Description: "Tool invocations: tool_name, reason, params"},
		},
		Required: []string{"case_type", "severity", "time_window", "scope", "symptoms", "missing_info_questions", "suggested_tools"},
	}
}
