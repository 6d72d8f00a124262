package graph

import (
	"reflect"
	"sort"
	"testing"

	"github.com/OFFIS-RIT/agentkg/pkg/common"
)

const quote = "The city council approved the mobility budget for 2025 after a long debate."

func fixture(chunkID string) (*common.RelationSet, []common.Chunk) {
	chunk := common.Chunk{
		ID:         common.ChunkID("doc-1", 0, quote),
		DocumentID: "doc-1",
		Text:       quote,
		EndChar:    len(quote),
		TokenCount: 14,
	}
	if chunkID == "" {
		chunkID = chunk.ID
	}

	set := common.NewRelationSet()
	set.Attach(common.FilledRelation{
		Raw: common.RawRelation{
			Description: "council approves budget",
			Type:        common.NewRelationType(common.AxisDynamic, "approve", "Budget", "Formal approval"),
			Source:      common.Source{DocumentID: "doc-1", ChunkID: chunkID, Quotes: []string{quote}},
			Confidence:  0.9,
		},
		Entities: []common.Entity{
			common.NewEntity(common.RoleAgent, "City Council", "Oldenburg City Council", "", 0.9),
			common.NewEntity(common.RoleTheme, "Budget", "Mobility Budget 2025", "", 0.9),
			common.NewEntity(common.RoleTime, "Year", "2025", "", 0.8),
		},
	})
	return set, []common.Chunk{chunk}
}

func edgeTypes(edges []Edge) []string {
	var out []string
	for _, e := range edges {
		out = append(out, e.Type)
	}
	sort.Strings(out)
	return out
}

func TestBuildTopology(t *testing.T) {
	set, chunks := fixture("")
	g := Build(Input{DocumentID: "doc-1", Relations: set, Chunks: chunks, Mentions: Mentions(set)})

	counts := map[string]int{}
	for _, l := range []string{LabelDocument, LabelChunk, LabelRelation, LabelEntity, LabelMention} {
		counts[l] = len(g.NodesWithLabel(l))
	}
	want := map[string]int{LabelDocument: 1, LabelChunk: 1, LabelRelation: 1, LabelEntity: 3, LabelMention: 3}
	if !reflect.DeepEqual(counts, want) {
		t.Fatalf("node counts = %v, want %v", counts, want)
	}

	wantEdges := []string{
		"AGENT", "EXTRACTED_FROM", "HAS_CHUNK",
		"HAS_MENTION", "HAS_MENTION", "HAS_MENTION",
		"REFERS_TO", "REFERS_TO", "REFERS_TO",
		"THEME", "TIME",
	}
	if got := edgeTypes(g.Edges); !reflect.DeepEqual(got, wantEdges) {
		t.Fatalf("edge types = %v, want %v", got, wantEdges)
	}

	for _, e := range g.Edges {
		src, _ := g.Node(e.SourceID)
		tgt, _ := g.Node(e.TargetID)
		if e.SourceLabel != src.Labels[0] || e.TargetLabel != tgt.Labels[0] {
			t.Fatalf("%s edge labels = %s -> %s, want %s -> %s", e.Type, e.SourceLabel, e.TargetLabel, src.Labels[0], tgt.Labels[0])
		}
	}

	rel := g.NodesWithLabel(LabelRelation)[0]
	if got := g.EdgesOfType(EdgeExtractedFrom)[0]; got.SourceID != rel.ID || got.TargetID != chunks[0].ID {
		t.Fatalf("EXTRACTED_FROM = %+v", got)
	}
	if !reflect.DeepEqual(rel.Labels, []string{"Relation", "APPROVE", "APPROVE_BUDGET"}) {
		t.Fatalf("relation labels = %v", rel.Labels)
	}
	if rel.Properties["generic"] != "City Council APPROVE_BUDGET Budget" {
		t.Fatalf("generic = %v", rel.Properties["generic"])
	}

	agent := common.EntityID("City Council", "Oldenburg City Council")
	n, ok := g.Node(agent)
	if !ok || !reflect.DeepEqual(n.Labels, []string{"Entity", "City Council"}) {
		t.Fatalf("agent node = %+v", n)
	}
}

func TestBuildWithoutChunksLinksDocument(t *testing.T) {
	set, _ := fixture("missing-chunk")
	g := Build(Input{DocumentID: "doc-1", Relations: set, Mentions: Mentions(set)})

	doc := common.DocumentID("doc-1")
	for _, e := range g.EdgesOfType(EdgeExtractedFrom) {
		if e.TargetID != doc || e.TargetLabel != LabelDocument {
			t.Fatalf("EXTRACTED_FROM target = %s (%s), want document", e.TargetID, e.TargetLabel)
		}
	}
	for _, e := range g.EdgesOfType(EdgeHasMention) {
		if e.SourceID != doc || e.SourceLabel != LabelDocument {
			t.Fatalf("HAS_MENTION source = %s (%s), want document", e.SourceID, e.SourceLabel)
		}
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	build := func() *Graph {
		set, chunks := fixture("")
		emb := map[string][]float32{common.EntityID("Budget", "Mobility Budget 2025"): {1, 0}}
		return Build(Input{DocumentID: "doc-1", Relations: set, Chunks: chunks, Mentions: Mentions(set), EntityEmbeddings: emb})
	}
	a, b := build(), build()
	if !reflect.DeepEqual(a.Nodes, b.Nodes) || !reflect.DeepEqual(a.Edges, b.Edges) {
		t.Fatal("two builds of the same input differ")
	}

	n, _ := a.Node(common.EntityID("Budget", "Mobility Budget 2025"))
	if _, ok := n.Properties["embedding"]; !ok {
		t.Fatal("embedding not attached to entity node")
	}
}

func TestBuildDeduplicatesSharedEntities(t *testing.T) {
	set, chunks := fixture("")
	set.Attach(common.FilledRelation{
		Raw: common.RawRelation{
			Description: "council debates budget",
			Type:        common.NewRelationType(common.AxisDynamic, "debate", "Budget", "Deliberation"),
			Source:      common.Source{DocumentID: "doc-1", ChunkID: chunks[0].ID, Quotes: []string{quote}},
			Confidence:  0.7,
		},
		Entities: []common.Entity{
			common.NewEntity(common.RoleAgent, "City Council", "Oldenburg City Council", "", 0.9),
			common.NewEntity(common.RoleTheme, "Budget", "Mobility Budget 2025", "", 0.9),
		},
	})

	g := Build(Input{DocumentID: "doc-1", Relations: set, Chunks: chunks, Mentions: Mentions(set)})
	if n := len(g.NodesWithLabel(LabelEntity)); n != 3 {
		t.Fatalf("entity nodes = %d, want 3", n)
	}
	if n := len(g.NodesWithLabel(LabelRelation)); n != 2 {
		t.Fatalf("relation nodes = %d, want 2", n)
	}
	if n := len(g.NodesWithLabel(LabelMention)); n != 3 {
		t.Fatalf("mention nodes = %d, want 3", n)
	}
}

func TestMentionsKeepSurfaceForm(t *testing.T) {
	set, chunks := fixture("")
	ref := set.Relations[0].Roles.Agents()[0]
	set.Entities.Update(ref, func(e *common.Entity) {
		old := e.Name
		e.Name = "Oldenburg Council"
		e.AddAlias(old)
	})

	ms := Mentions(set)
	if ms[0].SurfaceForm != "Oldenburg City Council" || ms[0].EntityName != "Oldenburg Council" {
		t.Fatalf("mention = %+v", ms[0])
	}

	g := Build(Input{DocumentID: "doc-1", Relations: set, Chunks: chunks, Mentions: ms})
	canonical := common.EntityID("City Council", "Oldenburg Council")
	var refers bool
	for _, e := range g.EdgesOfType(EdgeRefersTo) {
		if e.SourceID == ms[0].ID && e.TargetID == canonical {
			refers = true
		}
	}
	if !refers {
		t.Fatal("mention does not refer to the canonical entity")
	}
	n, _ := g.Node(canonical)
	if n.Properties["aliases"] != "Oldenburg City Council" {
		t.Fatalf("aliases = %v", n.Properties["aliases"])
	}
}
