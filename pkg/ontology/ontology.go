package ontology

import (
	"slices"
	"time"

	"github.com/OFFIS-RIT/agentkg/pkg/common"
)

// Type is one entity or relation type of the ontology.
type Type struct {
	Label       string `json:"label"`
	Definition  string `json:"definition"`
	IsSeed      bool   `json:"is_seed"`
	ClusterName string `json:"cluster_name,omitempty"`
}

// Text is the form used when types are embedded.
func (t Type) Text() string {
	return common.TypeText(t.Label, t.Definition)
}

// Schema is one version of the ontology. A new version is only ever produced
// by ApplyArbiterDecisions; between versions the orchestrator only moves the
// document counter.
type Schema struct {
	Version                       int       `json:"version"`
	ParentVersion                 *int      `json:"parent_version"`
	CreatedAt                     time.Time `json:"created_at"`
	EntityTypes                   []Type    `json:"entity_types"`
	RelationTypes                 []Type    `json:"relation_types"`
	DocumentsSinceLastNegotiation int       `json:"documents_since_last_negotiation"`
}

// IsStale reports whether enough documents went by since the last negotiation.
func (s *Schema) IsStale(threshold int) bool {
	return s.DocumentsSinceLastNegotiation >= threshold
}

// Labels returns the labels of one kind, in schema order.
func (s *Schema) Labels(kind common.CandidateKind) []string {
	types := s.typesOf(kind)
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.Label
	}
	return out
}

// Empty reports whether the schema holds no type at all.
func (s *Schema) Empty() bool {
	return s == nil || len(s.EntityTypes)+len(s.RelationTypes) == 0
}

// Clone returns a deep copy.
func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	c := *s
	if s.ParentVersion != nil {
		p := *s.ParentVersion
		c.ParentVersion = &p
	}
	c.EntityTypes = slices.Clone(s.EntityTypes)
	c.RelationTypes = slices.Clone(s.RelationTypes)
	return &c
}

func (s *Schema) typesOf(kind common.CandidateKind) []Type {
	if s == nil {
		return nil
	}
	if kind == common.CandidateRelation {
		return s.RelationTypes
	}
	return s.EntityTypes
}

// typeTexts lists the embedding texts of the relation types followed by the
// entity types, together with their labels.
func (s *Schema) typeTexts() (texts, labels []string) {
	if s == nil {
		return nil, nil
	}
	for _, t := range s.RelationTypes {
		texts = append(texts, t.Text())
		labels = append(labels, t.Label)
	}
	for _, t := range s.EntityTypes {
		texts = append(texts, t.Text())
		labels = append(labels, t.Label)
	}
	return texts, labels
}
