package ontology

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/agentkg/internal/config"
	"github.com/OFFIS-RIT/agentkg/internal/util"
	"github.com/OFFIS-RIT/agentkg/pkg/ai"
	"github.com/OFFIS-RIT/agentkg/pkg/common"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"
)

// ErrMissingDecision is returned when a governance round does not produce
// exactly one decision for every candidate presented.
var ErrMissingDecision = errors.New("arbiter did not decide every candidate exactly once")

type Action string

const (
	ActionAccept Action = "accept"
	ActionMerge  Action = "merge"
	ActionReject Action = "reject"
)

// Decision is the terminal outcome of one candidate type.
type Decision struct {
	Action      Action               `json:"action" jsonschema:"enum=accept,enum=merge,enum=reject"`
	Kind        common.CandidateKind `json:"kind" jsonschema:"enum=relation,enum=entity"`
	Label       string               `json:"label" jsonschema_description:"The candidate label, unchanged"`
	Definition  string               `json:"definition" jsonschema_description:"Final definition when accepting, may be empty otherwise"`
	MergeTarget string               `json:"merge_target" jsonschema_description:"Existing type label the candidate is merged into, empty unless action is merge"`
	Reasoning   string               `json:"reasoning" jsonschema_description:"Short justification of the decision"`
}

type arbiterResponse struct {
	Decisions []Decision `json:"decisions" jsonschema_description:"Exactly one decision per candidate type"`
}

// Arbiter runs the type-governance round with a reasoning model.
type Arbiter struct {
	client ai.Completer
	cfg    *config.DomainConfig
}

func NewArbiter(client ai.Completer, cfg *config.DomainConfig) *Arbiter {
	return &Arbiter{client: client, cfg: cfg}
}

// Decide asks the model for one decision per candidate. Responses that skip
// or repeat a candidate are sent back with feedback; when no response within
// the retry budget covers every candidate the error wraps ErrMissingDecision.
// Decisions about labels that were never presented are dropped.
func (a *Arbiter) Decide(ctx context.Context, candidates []common.CandidateType, current *Schema) ([]Decision, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	prompt := fmt.Sprintf(
		ai.ArbiterPrompt,
		a.cfg.DomainName,
		seedSection(a.cfg.SeedOntology),
		currentTypesSection(current),
		candidatesSection(candidates),
	)

	var decided []Decision
	res, err := ai.Extract(ctx, a.client, ai.StructuredRequest{
		Name:        "arbitrate_types",
		Description: "Accept, merge or reject candidate ontology types.",
		Prompt:      prompt,
		Retries:     a.cfg.LLMRetries,
		Options:     []ai.GenerateOption{ai.WithModel(a.cfg.ReasoningModel), ai.WithThinking("medium")},
	}, func(out *arbiterResponse) error {
		matched, err := matchDecisions(candidates, out.Decisions)
		if err != nil {
			return err
		}
		decided = matched
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("[Arbiter] Governance round finished", "candidates", len(candidates), "decisions", len(res.Decisions))
	return decided, nil
}

type candidateKey struct {
	kind  common.CandidateKind
	label string
}

func keyOf(kind common.CandidateKind, label string) candidateKey {
	return candidateKey{kind: kind, label: common.SanitizeIdentifier(label, common.UpperCase)}
}

// matchDecisions pairs every candidate with exactly one decision and returns
// the decisions in candidate order, with labels restored to the candidate's
// own spelling. A decision is matched on its exact label first. Decisions
// left over are matched on the sanitized label, in order, when the number of
// unmatched candidates and decisions sharing that key agrees.
func matchDecisions(candidates []common.CandidateType, decisions []Decision) ([]Decision, error) {
	type exactKey struct {
		kind  common.CandidateKind
		label string
	}
	exact := make(map[exactKey][]int, len(decisions))
	for i := range decisions {
		d := &decisions[i]
		d.Action = Action(strings.ToLower(strings.TrimSpace(string(d.Action))))
		d.Kind = common.CandidateKind(strings.ToLower(strings.TrimSpace(string(d.Kind))))
		k := exactKey{d.Kind, strings.TrimSpace(d.Label)}
		exact[k] = append(exact[k], i)
	}

	used := make([]bool, len(decisions))
	assigned := make([]int, len(candidates))
	var errs []error
	for ci, c := range candidates {
		assigned[ci] = -1
		idx := exact[exactKey{c.Kind, strings.TrimSpace(c.Label)}]
		switch {
		case len(idx) == 1:
			assigned[ci] = idx[0]
			used[idx[0]] = true
		case len(idx) > 1:
			assigned[ci] = -2
			errs = append(errs, fmt.Errorf("%w: %d decisions for %s type %q", ErrMissingDecision, len(idx), c.Kind, c.Label))
			for _, i := range idx {
				used[i] = true
			}
		}
	}

	pendingCandidates := make(map[candidateKey][]int)
	var keyOrder []candidateKey
	for ci, c := range candidates {
		if assigned[ci] != -1 {
			continue
		}
		k := keyOf(c.Kind, c.Label)
		if _, ok := pendingCandidates[k]; !ok {
			keyOrder = append(keyOrder, k)
		}
		pendingCandidates[k] = append(pendingCandidates[k], ci)
	}
	pendingDecisions := make(map[candidateKey][]int)
	for i, d := range decisions {
		if !used[i] {
			k := keyOf(d.Kind, d.Label)
			pendingDecisions[k] = append(pendingDecisions[k], i)
		}
	}
	for _, k := range keyOrder {
		cis, dis := pendingCandidates[k], pendingDecisions[k]
		delete(pendingDecisions, k)
		if len(cis) == len(dis) {
			for j, ci := range cis {
				assigned[ci] = dis[j]
			}
			continue
		}
		for _, ci := range cis {
			c := candidates[ci]
			if len(dis) == 0 {
				errs = append(errs, fmt.Errorf("%w: no decision for %s type %q", ErrMissingDecision, c.Kind, c.Label))
			} else {
				errs = append(errs, fmt.Errorf("%w: %d decisions for %s type %q", ErrMissingDecision, len(dis), c.Kind, c.Label))
			}
		}
	}

	out := make([]Decision, 0, len(candidates))
	for ci, c := range candidates {
		if assigned[ci] < 0 {
			continue
		}
		d := decisions[assigned[ci]]
		switch d.Action {
		case ActionAccept, ActionMerge, ActionReject:
		default:
			errs = append(errs, fmt.Errorf("%w: unknown action %q for %q", ErrMissingDecision, d.Action, c.Label))
			continue
		}
		d.Label = c.Label
		out = append(out, d)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	for k, dis := range pendingDecisions {
		for range dis {
			logger.Warn("[Arbiter] Dropping decision for unknown candidate", "kind", k.kind, "label", k.label)
		}
	}
	return out, nil
}

// orderedTypes keeps types in first-insertion order with label lookup.
type orderedTypes struct {
	order []string
	types map[string]Type
}

func newOrderedTypes(types []Type) *orderedTypes {
	o := &orderedTypes{types: make(map[string]Type, len(types))}
	for _, t := range types {
		o.set(t)
	}
	return o
}

func (o *orderedTypes) set(t Type) {
	if _, ok := o.types[t.Label]; !ok {
		o.order = append(o.order, t.Label)
	}
	o.types[t.Label] = t
}

func (o *orderedTypes) remove(label string) {
	if _, ok := o.types[label]; !ok {
		return
	}
	delete(o.types, label)
	for i, l := range o.order {
		if l == label {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

func (o *orderedTypes) has(label string) bool {
	_, ok := o.types[label]
	return ok
}

func (o *orderedTypes) list() []Type {
	out := make([]Type, 0, len(o.order))
	for _, l := range o.order {
		out = append(out, o.types[l])
	}
	return out
}

// ApplyArbiterDecisions returns the next ontology version. prev is never
// modified and may be nil for the first version.
//
// Accepting adds (or redefines) the type; merging and rejecting remove the
// candidate label. A merge into a label the ontology does not know has the
// same effect as a reject.
func ApplyArbiterDecisions(decisions []Decision, prev *Schema) *Schema {
	var rel, ent *orderedTypes
	if prev != nil {
		rel = newOrderedTypes(prev.RelationTypes)
		ent = newOrderedTypes(prev.EntityTypes)
	} else {
		rel = newOrderedTypes(nil)
		ent = newOrderedTypes(nil)
	}

	for _, d := range decisions {
		target := ent
		if d.Kind == common.CandidateRelation {
			target = rel
		}
		switch d.Action {
		case ActionAccept:
			def := d.Definition
			if def == "" {
				def = d.Reasoning
			}
			target.set(Type{Label: d.Label, Definition: def})
		case ActionMerge:
			if !target.has(d.MergeTarget) {
				logger.Warn("[Arbiter] Merge target unknown, treating as reject", "label", d.Label, "merge_target", d.MergeTarget)
			}
			target.remove(d.Label)
		case ActionReject:
			target.remove(d.Label)
		}
	}

	next := &Schema{
		Version:       1,
		CreatedAt:     time.Now().UTC(),
		EntityTypes:   ent.list(),
		RelationTypes: rel.list(),
	}
	if prev != nil {
		v := prev.Version
		next.Version = v + 1
		next.ParentVersion = &v
	}
	return next
}

func seedSection(seed *config.SeedOntology) string {
	if seed == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Seed ontology (anchor types, align to these when possible)\n")
	if len(seed.EntityTypes) > 0 {
		b.WriteString("\n### Seed entity types:\n")
		for _, t := range seed.EntityTypes {
			fmt.Fprintf(&b, "- **%s**: %s\n", t.Label, t.Definition)
		}
	}
	if len(seed.RelationTypes) > 0 {
		b.WriteString("\n### Seed relation types:\n")
		for _, t := range seed.RelationTypes {
			fmt.Fprintf(&b, "- **%s**: %s\n", t.Label, t.Definition)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func currentTypesSection(s *Schema) string {
	if s == nil {
		return ""
	}
	lines := func(types []Type) string {
		if len(types) == 0 {
			return "  (none)"
		}
		parts := make([]string, len(types))
		for i, t := range types {
			parts[i] = fmt.Sprintf("  - %s: %s", t.Label, t.Definition)
		}
		return strings.Join(parts, "\n")
	}
	return "## Current ontology\n### Relation types:\n" + lines(s.RelationTypes) +
		"\n### Entity types:\n" + lines(s.EntityTypes)
}

func candidatesSection(candidates []common.CandidateType) string {
	var parts []string
	for _, kind := range []common.CandidateKind{common.CandidateRelation, common.CandidateEntity} {
		var group []string
		for _, c := range candidates {
			if c.Kind != kind {
				continue
			}
			line := fmt.Sprintf("- **%s**: %s", c.Label, c.Definition)
			if c.SourceDescription != "" {
				line += "\n  Source: " + util.Truncate(c.SourceDescription, 120)
			}
			group = append(group, line)
		}
		if len(group) == 0 {
			continue
		}
		header := "## Candidate " + string(kind) + " types"
		if len(parts) > 0 {
			header = "\n" + header
		}
		parts = append(parts, header)
		parts = append(parts, group...)
	}
	return strings.Join(parts, "\n")
}
