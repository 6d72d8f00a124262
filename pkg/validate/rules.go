package validate

import (
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/agentkg/internal/util"
	"github.com/OFFIS-RIT/agentkg/pkg/common"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

type Subject string

const (
	SubjectRelation Subject = "relation"
	SubjectEntity   Subject = "entity"
)

// Rule names, as used in validation_rules.
const (
	RuleAgentAndTheme    = "has_agent_and_theme"
	RuleNoGenericLabels  = "no_generic_entity_labels"
	RuleSourceNonEmpty   = "source_non_empty"
	RuleLowConfidence    = "low_confidence"
	RuleDuplicateEntity  = "duplicate_entity_in_relation"
	RuleQuoteNotVerbatim = "quote_not_verbatim"
)

// LowConfidenceThreshold is the confidence below which a relation is flagged.
const LowConfidenceThreshold = 0.3

// Violation is one failed constraint.
type Violation struct {
	Rule      string         `json:"rule"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Subject   Subject        `json:"subject"`
	SubjectID string         `json:"subject_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// Texts holds the text a relation's quotes are checked against. A quote is
// looked up in its chunk when the chunk is known and in the document
// otherwise.
type Texts struct {
	Documents map[string]string
	Chunks    map[string]string
}

func (t Texts) sourceText(src common.Source) (string, string) {
	if src.ChunkID != "" {
		if text, ok := t.Chunks[src.ChunkID]; ok {
			return text, "chunk"
		}
	}
	return t.Documents[src.DocumentID], "document"
}

type ruleInput struct {
	rel       *common.Relation
	entities  *common.EntityTable
	blocklist []string
	texts     Texts
}

func (in ruleInput) name() string {
	if g := in.rel.Generic(in.entities); g != "" {
		return g
	}
	return in.rel.Type.Label()
}

type rule struct {
	name  string
	check func(in ruleInput) []Violation
}

// rules run in this order for every relation.
var rules = []rule{
	{RuleAgentAndTheme, checkAgentAndTheme},
	{RuleNoGenericLabels, checkGenericLabels},
	{RuleSourceNonEmpty, checkSourceNonEmpty},
	{RuleLowConfidence, checkConfidence},
	{RuleDuplicateEntity, checkDuplicateEntities},
	{RuleQuoteNotVerbatim, checkQuotesVerbatim},
}

func checkAgentAndTheme(in ruleInput) []Violation {
	var out []Violation
	if len(in.rel.Roles.Agents()) == 0 {
		out = append(out, Violation{
			Rule:      RuleAgentAndTheme,
			Severity:  SeverityError,
			Message:   fmt.Sprintf("Relation '%s' has no agent role.", in.name()),
			Subject:   SubjectRelation,
			SubjectID: in.rel.ID(),
		})
	}
	if len(in.rel.Roles.Themes()) == 0 {
		out = append(out, Violation{
			Rule:      RuleAgentAndTheme,
			Severity:  SeverityError,
			Message:   fmt.Sprintf("Relation '%s' has no theme role.", in.name()),
			Subject:   SubjectRelation,
			SubjectID: in.rel.ID(),
		})
	}
	return out
}

func checkGenericLabels(in ruleInput) []Violation {
	var out []Violation
	for _, p := range in.rel.Roles.All() {
		e := in.entities.Get(p.Ref)
		if e.CheckNotGeneric(in.blocklist) == nil {
			continue
		}
		out = append(out, Violation{
			Rule:      RuleNoGenericLabels,
			Severity:  SeverityError,
			Message:   fmt.Sprintf("Entity label '%s' is too generic.", e.Label),
			Subject:   SubjectEntity,
			SubjectID: common.EntityID(e.Label, e.Name),
			Context:   map[string]any{"label": e.Label},
		})
	}
	return out
}

func checkSourceNonEmpty(in ruleInput) []Violation {
	if in.rel.Source.HasContent() {
		return nil
	}
	return []Violation{{
		Rule:      RuleSourceNonEmpty,
		Severity:  SeverityWarning,
		Message:   fmt.Sprintf("Relation '%s' has no supporting quote.", in.name()),
		Subject:   SubjectRelation,
		SubjectID: in.rel.ID(),
	}}
}

func checkConfidence(in ruleInput) []Violation {
	if in.rel.Confidence >= LowConfidenceThreshold {
		return nil
	}
	return []Violation{{
		Rule:      RuleLowConfidence,
		Severity:  SeverityWarning,
		Message:   fmt.Sprintf("Relation '%s' has low confidence (%.2f < %.2f).", in.name(), in.rel.Confidence, LowConfidenceThreshold),
		Subject:   SubjectRelation,
		SubjectID: in.rel.ID(),
		Context:   map[string]any{"confidence": in.rel.Confidence},
	}}
}

func checkDuplicateEntities(in ruleInput) []Violation {
	type key struct{ label, name string }
	seen := make(map[key]struct{})
	var out []Violation
	for _, p := range in.rel.Roles.All() {
		e := in.entities.Get(p.Ref)
		k := key{strings.ToLower(e.Label), strings.ToLower(e.Name)}
		if _, ok := seen[k]; ok {
			out = append(out, Violation{
				Rule:      RuleDuplicateEntity,
				Severity:  SeverityWarning,
				Message:   fmt.Sprintf("Entity '%s' (%s) appears multiple times in relation '%s'.", e.Name, e.Label, in.name()),
				Subject:   SubjectEntity,
				SubjectID: common.EntityID(e.Label, e.Name),
				Context:   map[string]any{"label": e.Label, "name": e.Name},
			})
		}
		seen[k] = struct{}{}
	}
	return out
}

func checkQuotesVerbatim(in ruleInput) []Violation {
	text, scope := in.texts.sourceText(in.rel.Source)
	if text == "" {
		return nil
	}
	var out []Violation
	for _, q := range in.rel.Source.Quotes {
		q = strings.TrimSpace(q)
		if q == "" || strings.Contains(text, q) {
			continue
		}
		out = append(out, Violation{
			Rule:      RuleQuoteNotVerbatim,
			Severity:  SeverityError,
			Message:   fmt.Sprintf("Quote of relation '%s' is not a verbatim substring of its %s: %q", in.name(), scope, util.Truncate(q, 80)),
			Subject:   SubjectRelation,
			SubjectID: in.rel.ID(),
			Context:   map[string]any{"quote": q, "scope": scope},
		})
	}
	return out
}

// FormatViolations renders one line per violation for a prompt.
func FormatViolations(vs []Violation) string {
	lines := make([]string, len(vs))
	for i, v := range vs {
		lines[i] = fmt.Sprintf("- [%s] **%s**: %s", v.Severity, v.Rule, v.Message)
	}
	return strings.Join(lines, "\n")
}
