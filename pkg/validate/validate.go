package validate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/agentkg/internal/config"
	"github.com/OFFIS-RIT/agentkg/pkg/ai"
	"github.com/OFFIS-RIT/agentkg/pkg/common"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"
)

// Action is the validator agent's verdict on one violation.
type Action string

const (
	ActionCorrect  Action = "correct"
	ActionEscalate Action = "escalate"
	ActionOverride Action = "override"
)

// Resolution is an advisory decision for one violation. Resolutions are
// logged; they never reverse a rejection.
type Resolution struct {
	ViolationRule string `json:"violation_rule"`
	Action        Action `json:"action" jsonschema:"enum=correct,enum=escalate,enum=override"`
	Reasoning     string `json:"reasoning"`
	Correction    string `json:"correction" jsonschema_description:"The fix, only when action is correct"`
}

type resolutionsResponse struct {
	Resolutions []Resolution `json:"resolutions"`
}

// Result is the outcome of validating a relation set.
type Result struct {
	Valid      *common.RelationSet
	Rejected   *common.RelationSet
	Violations []Violation
}

// Errors returns the error-severity violations.
func (r *Result) Errors() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityError {
			out = append(out, v)
		}
	}
	return out
}

// Validator checks relations against the enabled symbolic rules.
type Validator struct {
	completer ai.Completer
	cfg       *config.DomainConfig
}

func NewValidator(completer ai.Completer, cfg *config.DomainConfig) *Validator {
	return &Validator{completer: completer, cfg: cfg}
}

// Check runs every enabled rule on one relation. It never mutates rel.
func (v *Validator) Check(rel *common.Relation, entities *common.EntityTable, texts Texts) []Violation {
	in := ruleInput{rel: rel, entities: entities, blocklist: v.cfg.GenericEntityBlocklist, texts: texts}
	var out []Violation
	for _, r := range rules {
		if v.cfg.RuleEnabled(r.name) {
			out = append(out, r.check(in)...)
		}
	}
	return out
}

// Partition splits set into relations without errors and rejected ones.
// Warnings never reject. Both halves share the arena of set.
func (v *Validator) Partition(set *common.RelationSet, texts Texts) *Result {
	res := &Result{
		Valid:    &common.RelationSet{Entities: set.Entities},
		Rejected: &common.RelationSet{Entities: set.Entities},
	}
	for _, rel := range set.Relations {
		vs := v.Check(rel, set.Entities, texts)
		res.Violations = append(res.Violations, vs...)

		rejected := false
		for _, viol := range vs {
			if viol.Severity == SeverityError {
				rejected = true
				logger.Warn("[Validate] Relation rejected", "document_id", rel.Source.DocumentID, "relation", rel.Description, "rule", viol.Rule)
			} else {
				logger.Debug("[Validate] Warning", "relation", rel.Description, "rule", viol.Rule, "message", viol.Message)
			}
		}
		if rejected {
			res.Rejected.Relations = append(res.Rejected.Relations, rel)
		} else {
			res.Valid.Relations = append(res.Valid.Relations, rel)
		}
	}
	return res
}

// Validate partitions set and, when any relation was rejected, asks the
// validator agent once for resolutions of all error violations. A failing
// agent call is logged and does not fail validation.
func (v *Validator) Validate(ctx context.Context, set *common.RelationSet, texts Texts) (*Result, error) {
	res := v.Partition(set, texts)
	errs := res.Errors()
	if len(errs) == 0 {
		logger.Info("[Validate] Validation passed", "relations", set.Len(), "warnings", len(res.Violations))
		return res, nil
	}
	logger.Info("[Validate] Validation blocked relations", "rejected", res.Rejected.Len(), "relations", set.Len(), "errors", len(errs))

	resolutions, err := v.Resolve(ctx, errs)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.Warn("[Validate] Validator agent failed", "err", err)
		return res, nil
	}
	for _, r := range resolutions {
		logger.Info("[Validate] Resolution", "action", r.Action, "rule", r.ViolationRule, "reasoning", r.Reasoning)
	}
	return res, nil
}

// Resolve asks the validator agent for one resolution per violation.
func (v *Validator) Resolve(ctx context.Context, violations []Violation) ([]Resolution, error) {
	res, err := ai.Extract(ctx, v.completer, ai.StructuredRequest{
		Name:         "resolve_violations",
		Description:  "Resolve symbolic constraint violations.",
		SystemPrompt: fmt.Sprintf(ai.ValidatorPrompt, v.cfg.DomainName, FormatViolations(violations)),
		Prompt:       "Resolve these constraint violations:\n\n" + FormatViolations(violations),
		Retries:      v.cfg.LLMRetries,
		Options:      []ai.GenerateOption{ai.WithModel(v.cfg.ValidationModel)},
	}, func(out *resolutionsResponse) error {
		var errs []error
		for i := range out.Resolutions {
			r := &out.Resolutions[i]
			r.Action = Action(strings.ToLower(strings.TrimSpace(string(r.Action))))
			switch r.Action {
			case ActionCorrect, ActionEscalate, ActionOverride:
			default:
				errs = append(errs, fmt.Errorf("resolution %d: unknown action %q", i+1, r.Action))
			}
		}
		return errors.Join(errs...)
	})
	if err != nil {
		return nil, err
	}
	return res.Resolutions, nil
}
