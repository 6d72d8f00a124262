package graph

import (
	"strings"

	"github.com/OFFIS-RIT/agentkg/pkg/common"
)

// Node labels.
const (
	LabelDocument = "Document"
	LabelChunk    = "Chunk"
	LabelRelation = "Relation"
	LabelEntity   = "Entity"
	LabelMention  = "Mention"
)

// Edge types besides the per-role ones.
const (
	EdgeHasChunk      = "HAS_CHUNK"
	EdgeExtractedFrom = "EXTRACTED_FROM"
	EdgeHasMention    = "HAS_MENTION"
	EdgeRefersTo      = "REFERS_TO"
)

// quoteSeparator joins the quotes of a relation into one property.
const quoteSeparator = "\n---\n"

// Node is a graph node. IDs are content hashes, so building the same input
// twice yields the same nodes.
type Node struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

// HasLabel reports whether n carries label.
func (n Node) HasLabel(label string) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Edge is a directed, typed edge between two node ids. SourceLabel and
// TargetLabel carry the primary label of each endpoint when known, so stores
// can look endpoints up through a label index.
type Edge struct {
	SourceID    string         `json:"source_id"`
	TargetID    string         `json:"target_id"`
	Type        string         `json:"type"`
	SourceLabel string         `json:"source_label,omitempty"`
	TargetLabel string         `json:"target_label,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
}

func (e Edge) key() string {
	return e.SourceID + "|" + e.Type + "|" + e.TargetID
}

// Input is everything the builder needs for one document. Only Relations and
// DocumentID are required.
type Input struct {
	DocumentID string
	Relations  *common.RelationSet
	Chunks     []common.Chunk
	Mentions   []common.Mention

	// EntityEmbeddings is keyed by entity node id, ChunkEmbeddings by chunk id.
	EntityEmbeddings map[string][]float32
	ChunkEmbeddings  map[string][]float32
}

// Graph holds the nodes and edges of one build, deduplicated by id and kept
// in insertion order.
type Graph struct {
	Nodes []Node
	Edges []Edge

	nodeIndex map[string]int
	edgeIndex map[string]struct{}
}

func newGraph() *Graph {
	return &Graph{
		nodeIndex: make(map[string]int),
		edgeIndex: make(map[string]struct{}),
	}
}

// addNode inserts n or overwrites the properties of the node with the same id.
func (g *Graph) addNode(n Node) {
	if i, ok := g.nodeIndex[n.ID]; ok {
		g.Nodes[i] = n
		return
	}
	g.nodeIndex[n.ID] = len(g.Nodes)
	g.Nodes = append(g.Nodes, n)
}

func (g *Graph) addEdge(e Edge) {
	k := e.key()
	if _, ok := g.edgeIndex[k]; ok {
		return
	}
	g.edgeIndex[k] = struct{}{}
	g.Edges = append(g.Edges, e)
}

// New returns an empty graph, used to accumulate several builds with Merge.
func New() *Graph {
	return newGraph()
}

// Merge adds the nodes and edges of o. Nodes already present are overwritten.
func (g *Graph) Merge(o *Graph) {
	if o == nil {
		return
	}
	for _, n := range o.Nodes {
		g.addNode(n)
	}
	for _, e := range o.Edges {
		g.addEdge(e)
	}
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	i, ok := g.nodeIndex[id]
	if !ok {
		return Node{}, false
	}
	return g.Nodes[i], true
}

// NodesWithLabel returns the nodes carrying label, in insertion order.
func (g *Graph) NodesWithLabel(label string) []Node {
	var out []Node
	for _, n := range g.Nodes {
		if n.HasLabel(label) {
			out = append(out, n)
		}
	}
	return out
}

// EdgesOfType returns the edges of type t, in insertion order.
func (g *Graph) EdgesOfType(t string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Build turns the validated relations of one document into graph elements.
//
//	(Document)-[HAS_CHUNK]->(Chunk)-[HAS_MENTION]->(Mention)-[REFERS_TO]->(Entity)
//	(Relation)-[EXTRACTED_FROM]->(Chunk)
//	(Relation)-[<ROLE>]->(Entity)
//
// A relation whose chunk is not part of the build points at the document
// instead, and so does a mention.
func Build(in Input) *Graph {
	g := newGraph()

	doc := documentNode(in.DocumentID)
	g.addNode(doc)

	chunkIDs := make(map[string]struct{}, len(in.Chunks))
	for _, c := range in.Chunks {
		g.addNode(chunkNode(c, in.ChunkEmbeddings[c.ID]))
		g.addEdge(Edge{SourceID: doc.ID, TargetID: c.ID, Type: EdgeHasChunk, SourceLabel: LabelDocument, TargetLabel: LabelChunk})
		chunkIDs[c.ID] = struct{}{}
	}

	if in.Relations != nil {
		for _, rel := range in.Relations.Relations {
			rn := relationNode(rel, in.Relations.Entities)
			g.addNode(rn)

			target, targetLabel := doc.ID, LabelDocument
			if _, ok := chunkIDs[rel.Source.ChunkID]; ok && rel.Source.ChunkID != "" {
				target, targetLabel = rel.Source.ChunkID, LabelChunk
			}
			g.addEdge(Edge{SourceID: rn.ID, TargetID: target, Type: EdgeExtractedFrom, SourceLabel: LabelRelation, TargetLabel: targetLabel})

			for _, p := range rel.Roles.All() {
				e := in.Relations.Entities.Get(p.Ref)
				en := entityNode(e, in.EntityEmbeddings)
				g.addNode(en)
				g.addEdge(Edge{SourceID: rn.ID, TargetID: en.ID, Type: p.Role.EdgeType(), SourceLabel: LabelRelation, TargetLabel: LabelEntity})
			}
		}
	}

	for _, m := range in.Mentions {
		g.addNode(mentionNode(m))

		from, fromLabel := doc.ID, LabelDocument
		if _, ok := chunkIDs[m.ChunkID]; ok && m.ChunkID != "" {
			from, fromLabel = m.ChunkID, LabelChunk
		}
		g.addEdge(Edge{SourceID: from, TargetID: m.ID, Type: EdgeHasMention, SourceLabel: fromLabel, TargetLabel: LabelMention})

		// Only link to entities that made it into this build.
		entityID := common.EntityID(m.EntityLabel, m.EntityName)
		if _, ok := g.nodeIndex[entityID]; ok {
			g.addEdge(Edge{SourceID: m.ID, TargetID: entityID, Type: EdgeRefersTo, SourceLabel: LabelMention, TargetLabel: LabelEntity})
		}
	}

	return g
}

func documentNode(documentID string) Node {
	return Node{
		ID:         common.DocumentID(documentID),
		Labels:     []string{LabelDocument},
		Properties: map[string]any{"document_id": documentID},
	}
}

func chunkNode(c common.Chunk, embedding []float32) Node {
	props := map[string]any{
		"document_id": c.DocumentID,
		"chunk_index": c.Index,
		"text":        c.Text,
		"start_char":  c.StartChar,
		"end_char":    c.EndChar,
		"token_count": c.TokenCount,
	}
	if embedding != nil {
		props["embedding"] = embedding
	}
	return Node{ID: c.ID, Labels: []string{LabelChunk}, Properties: props}
}

func relationNode(rel *common.Relation, entities *common.EntityTable) Node {
	props := map[string]any{
		"description":     rel.Description,
		"generic":         rel.Generic(entities),
		"specific":        rel.Specific(entities),
		"axis":            string(rel.Type.Axis),
		"verb":            rel.Type.Verb,
		"target_category": rel.Type.TargetCategory,
		"definition":      rel.Type.Definition,
		"confidence":      rel.Confidence,
		"quotes":          strings.Join(rel.Source.Quotes, quoteSeparator),
		"document_id":     rel.Source.DocumentID,
	}
	for k, v := range rel.Metadata {
		props["_meta_"+k] = v
	}

	labels := []string{LabelRelation}
	for _, l := range rel.Labels() {
		if l != "" && l != labels[len(labels)-1] {
			labels = append(labels, l)
		}
	}
	return Node{ID: rel.ID(), Labels: labels, Properties: props}
}

func entityNode(e common.Entity, embeddings map[string][]float32) Node {
	id := common.EntityID(e.Label, e.Name)
	props := map[string]any{
		"name":        e.Name,
		"label_class": e.Label,
		"definition":  e.Definition,
		"confidence":  e.Confidence,
	}
	if len(e.Aliases) > 0 {
		props["aliases"] = strings.Join(e.Aliases, ", ")
	}
	if emb, ok := embeddings[id]; ok {
		props["embedding"] = emb
	}
	return Node{ID: id, Labels: []string{LabelEntity, e.Label}, Properties: props}
}

func mentionNode(m common.Mention) Node {
	props := map[string]any{
		"surface_form": m.SurfaceForm,
		"entity_name":  m.EntityName,
		"entity_label": m.EntityLabel,
		"role":         string(m.Role),
	}
	if m.ChunkID != "" {
		props["chunk_id"] = m.ChunkID
	}
	return Node{ID: m.ID, Labels: []string{LabelMention}, Properties: props}
}
