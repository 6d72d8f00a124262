package common

// KnownEntity is an entity already stored in the graph.
type KnownEntity struct {
	Name       string `json:"name"`
	Label      string `json:"label"`
	Definition string `json:"definition,omitempty"`
}

// KnownRelation is a relation already stored in the graph.
type KnownRelation struct {
	Generic     string `json:"generic,omitempty"`
	Verb        string `json:"verb,omitempty"`
	Description string `json:"description,omitempty"`
}

// GraphContext is what prior extractions know about the topic of a document.
// It biases prompts toward reusing existing names and labels.
type GraphContext struct {
	KnownEntities    []KnownEntity   `json:"known_entities"`
	RelatedRelations []KnownRelation `json:"related_relations"`
}

func (g *GraphContext) IsEmpty() bool {
	return g == nil || len(g.KnownEntities)+len(g.RelatedRelations) == 0
}
