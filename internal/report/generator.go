package report

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/caseflow/internal/engine"
	"github.com/kalambet/caseflow/internal/evidence"
	"github.com/kalambet/caseflow/internal/schema"
	"github.com/kalambet/caseflow/internal/triage"
)

const generationTimeout = 60 * time.Second

// Chatter is the chat-completion slice of the engine the generator needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Generator produces the final report for a job.
type Generator struct {
	client    Chatter
	model     string
	validator *schema.Validator
	checker   *evidence.Checker
}

// NewGenerator creates a Generator. A nil checker gets the default rule set.
func NewGenerator(client Chatter, model string, validator *schema.Validator, checker *evidence.Checker) *Generator {
	if checker == nil {
		checker = evidence.NewChecker()
	}
	return &Generator{client: client, model: model, validator: validator, checker: checker}
}

// Generate drafts the report from triage and evidence. Schema-invalid model
// output gets one stricter retry; any claim-check warning rejects the whole
// narrative. Both degrade to the deterministic template, which cannot fail.
// Transport errors surface so the caller can retry the job.
func (g *Generator) Generate(ctx context.Context, rec triage.Record, bundles []evidence.Bundle) (Result, error) {
	for _, stricter := range []bool{false, true} {
		messages, err := buildPrompt(rec, bundles, stricter)
		if err != nil {
			return Result{}, err
		}

		callCtx, cancel := context.WithTimeout(ctx, generationTimeout)
		raw, err := g.client.Chat(callCtx, g.model, messages, reportSchema())
		cancel()
		if err != nil {
			return Result{}, err
		}

		rep, ok := g.parse(raw)
		if !ok {
			slog.Warn("report output failed contract validation", "stricter_retry", stricter)
			continue
		}

		warnings := g.check(rep, bundles)
		if len(warnings) > 0 {
			slog.Warn("report rejected by claim checker", "claims", warnings)
			result := Result{
				Report:        TemplateReport(rec, bundles),
				UsedTemplate:  true,
				ClaimWarnings: warnings,
			}
			return result, nil
		}
		return Result{Report: rep}, nil
	}

	return Result{Report: TemplateReport(rec, bundles), UsedTemplate: true}, nil
}

func (g *Generator) parse(raw string) (Report, bool) {
	cleaned := stripFences(raw)
	if err := g.validator.Validate(schema.FinalReport, []byte(cleaned)); err != nil {
		return Report{}, false
	}
	var rep Report
	if err := json.Unmarshal([]byte(cleaned), &rep); err != nil {
		return Report{}, false
	}
	return rep, true
}

// check runs the claim checker over every narrative surface of the report.
func (g *Generator) check(rep Report, bundles []evidence.Bundle) []string {
	text := strings.Join([]string{
		rep.TimelineSummary,
		rep.CustomerUpdate.Subject,
		rep.CustomerUpdate.Body,
		rep.EngineeringEscalation.Title,
		rep.EngineeringEscalation.Body,
	}, "\n")
	return g.checker.Check(text, bundles)
}

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
