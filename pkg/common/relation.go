package common

import (
	"fmt"
	"maps"
	"strings"
)

// Axis classifies a relation type.
type Axis string

const (
	AxisOntological Axis = "ONTOLOGICAL"
	AxisDynamic     Axis = "DYNAMIC"
	AxisStructural  Axis = "STRUCTURAL"
)

// ParseAxis accepts any casing of the three axis names.
func ParseAxis(s string) (Axis, error) {
	a := Axis(strings.ToUpper(strings.TrimSpace(s)))
	switch a {
	case AxisOntological, AxisDynamic, AxisStructural:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAxis, s)
}

// RelationType describes a class of relations. Verb is stored sanitized and
// upper-cased; the label is always derived from Verb and TargetCategory.
type RelationType struct {
	Axis           Axis   `json:"axis"`
	Verb           string `json:"verb"`
	TargetCategory string `json:"target_category"`
	Definition     string `json:"definition"`
}

// NewRelationType normalises the verb.
func NewRelationType(axis Axis, verb, targetCategory, definition string) RelationType {
	return RelationType{
		Axis:           axis,
		Verb:           SanitizeIdentifier(verb, UpperCase),
		TargetCategory: strings.TrimSpace(targetCategory),
		Definition:     strings.TrimSpace(definition),
	}
}

// Label is SANITIZE(verb + "_" + target_category). Two types whose verb and
// target category normalise to the same text always share a label.
func (t RelationType) Label() string {
	raw := t.Verb + "_" + strings.ReplaceAll(t.TargetCategory, " ", "_")
	return SanitizeIdentifier(raw, UpperCase)
}

// labelOrVerb falls back to the verb when the label sanitizes to nothing.
func (t RelationType) labelOrVerb() string {
	if l := t.Label(); l != "" {
		return l
	}
	return t.Verb
}

// RawRelation is a typed relation without participants.
type RawRelation struct {
	Description string       `json:"description"`
	Type        RelationType `json:"relation_type"`
	Source      Source       `json:"source"`
	Confidence  float64      `json:"confidence"`
}

// EmbedText is the text embedded for a roleless relation.
func (r RawRelation) EmbedText() string {
	return fmt.Sprintf("Relation: %s. Definition: %s. %s", r.Type.labelOrVerb(), r.Type.Definition, r.Description)
}

// FilledRelation is the detached output of role filling: the raw relation,
// the participants as values, and any entity types the model proposed.
// It becomes a Relation once attached to a RelationSet.
type FilledRelation struct {
	Raw                  RawRelation
	Entities             []Entity
	CandidateEntityTypes []EntityType
}

// Roles maps each role to the participants filling it.
type Roles struct {
	Slots                map[Role][]EntityRef `json:"slots"`
	CandidateEntityTypes []EntityType         `json:"candidate_entity_types,omitempty"`
}

// Participant is one (role, entity) pair of a relation.
type Participant struct {
	Role Role
	Ref  EntityRef
}

// Get returns the participants in role r.
func (r Roles) Get(role Role) []EntityRef {
	return r.Slots[role]
}

func (r Roles) Agents() []EntityRef { return r.Slots[RoleAgent] }
func (r Roles) Themes() []EntityRef { return r.Slots[RoleTheme] }

// All flattens the slots in canonical role order.
func (r Roles) All() []Participant {
	var out []Participant
	for _, role := range AllRoles {
		for _, ref := range r.Slots[role] {
			out = append(out, Participant{Role: role, Ref: ref})
		}
	}
	return out
}

func (r *Roles) add(role Role, ref EntityRef) {
	if r.Slots == nil {
		r.Slots = make(map[Role][]EntityRef)
	}
	r.Slots[role] = append(r.Slots[role], ref)
}

// Relation is a reified relation with role-tagged participants.
//
// Labels, Generic, Specific and EmbedText are computed on every call from the
// relation type and the first agent and theme; they are never stored.
type Relation struct {
	Description string            `json:"description"`
	Type        RelationType      `json:"relation_type"`
	Roles       Roles             `json:"roles"`
	Source      Source            `json:"source"`
	Confidence  float64           `json:"confidence"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Labels returns the graph labels of the relation node: verb and type label.
func (r *Relation) Labels() []string {
	return []string{r.Type.Verb, r.Type.Label()}
}

// ID is the content hash of the relation node.
func (r *Relation) ID() string {
	return RelationID(r.Type.Verb, r.Type.TargetCategory, r.Description, r.Source.DocumentID)
}

func (r *Relation) firstOf(t *EntityTable, role Role) (Entity, bool) {
	refs := r.Roles.Get(role)
	if len(refs) == 0 {
		return Entity{}, false
	}
	return t.Get(refs[0]), true
}

// Generic is "{agent label} {type label} {theme label}".
// It returns "" when the relation lacks an agent or a theme.
func (r *Relation) Generic(t *EntityTable) string {
	agent, okA := r.firstOf(t, RoleAgent)
	theme, okT := r.firstOf(t, RoleTheme)
	if !okA || !okT {
		return ""
	}
	return fmt.Sprintf("%s %s %s", agent.Label, r.Type.Label(), theme.Label)
}

// Specific adds the instance names to Generic.
func (r *Relation) Specific(t *EntityTable) string {
	agent, okA := r.firstOf(t, RoleAgent)
	theme, okT := r.firstOf(t, RoleTheme)
	if !okA || !okT {
		return ""
	}
	return fmt.Sprintf("%s (%s) %s %s (%s)", agent.Label, agent.Name, r.Type.Label(), theme.Label, theme.Name)
}

// EmbedText is the text embedded for drift estimation.
func (r *Relation) EmbedText(t *EntityTable) string {
	return fmt.Sprintf("Generic: %s. Definition: %s", r.Generic(t), r.Type.Definition)
}

// SetMetadata merges extra into the relation metadata.
func (r *Relation) SetMetadata(extra map[string]string) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]string, len(extra))
	}
	maps.Copy(r.Metadata, extra)
}

// RelationSet bundles the relations of a batch with the entity arena their
// role slots point into. Subsets share the arena.
type RelationSet struct {
	Entities  *EntityTable
	Relations []*Relation
}

func NewRelationSet() *RelationSet {
	return &RelationSet{Entities: NewEntityTable()}
}

// Attach moves the participants of f into the arena and appends the resulting
// relation. It returns the new relation.
func (s *RelationSet) Attach(f FilledRelation) *Relation {
	rel := &Relation{
		Description: f.Raw.Description,
		Type:        f.Raw.Type,
		Source:      f.Raw.Source,
		Confidence:  f.Raw.Confidence,
	}
	for _, e := range f.Entities {
		ref := s.Entities.Add(e)
		rel.Roles.add(e.Role, ref)
	}
	rel.Roles.CandidateEntityTypes = f.CandidateEntityTypes
	s.Relations = append(s.Relations, rel)
	return rel
}

// ByDocument groups relations by source document, keeping order.
func (s *RelationSet) ByDocument() (order []string, groups map[string]*RelationSet) {
	groups = make(map[string]*RelationSet)
	for _, r := range s.Relations {
		doc := r.Source.DocumentID
		g, ok := groups[doc]
		if !ok {
			g = &RelationSet{Entities: s.Entities}
			groups[doc] = g
			order = append(order, doc)
		}
		g.Relations = append(g.Relations, r)
	}
	return order, groups
}

// Len is the number of relations.
func (s *RelationSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Relations)
}
