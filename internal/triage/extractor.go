package triage

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/caseflow/internal/engine"
	"github.com/kalambet/caseflow/internal/schema"
)

const extractionTimeout = 30 * time.Second

// Chatter is the chat-completion slice of the engine the extractor needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Extractor produces triage records from redacted customer messages.
type Extractor struct {
	client    Chatter
	model     string
	validator *schema.Validator
}

// NewExtractor creates an Extractor using the given chat client, model name,
// and contract validator.
func NewExtractor(client Chatter, model string, validator *schema.Validator) *Extractor {
	return &Extractor{client: client, model: model, validator: validator}
}

// Extract asks the model for a triage record and validates it against the
// triage contract. Invalid output gets exactly one stricter retry; if that
// also fails, the keyword heuristic takes over and the record is marked
// SchemaFailure. Only transport-level failures (timeout, backend
// unreachable) surface as errors, so callers can distinguish "retry the
// job" from "degrade to the fallback".
func (e *Extractor) Extract(ctx context.Context, redactedText string, allowedTools []string, examples []Example) (Record, error) {
	for _, stricter := range []bool{false, true} {
		callCtx, cancel := context.WithTimeout(ctx, extractionTimeout)
		messages := BuildPrompt(redactedText, allowedTools, examples, stricter)
		raw, err := e.client.Chat(callCtx, e.model, messages, triageSchema())
		cancel()
		if err != nil {
			return Record{}, err
		}

		rec, ok := e.parse(raw)
		if ok {
			return rec, nil
		}
		slog.Warn("triage output failed contract validation", "stricter_retry", stricter)
	}

	rec := Heuristic(redactedText)
	rec.SchemaFailure = true
	return rec, nil
}

// parse strips markdown fences, checks the contract, and decodes.
func (e *Extractor) parse(raw string) (Record, bool) {
	cleaned := stripFences(raw)
	if err := e.validator.Validate(schema.Triage, []byte(cleaned)); err != nil {
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal([]byte(cleaned), &rec); err != nil {
		return Record{}, false
	}
	return rec, true
}

// stripFences removes a wrapping ```json ... ``` block if the model added
// one despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
