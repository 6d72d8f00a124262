package pipeline

import (
	"context"
	"reflect"
	"testing"

	"github.com/OFFIS-RIT/agentkg/pkg/ai/aitest"
	"github.com/OFFIS-RIT/agentkg/pkg/chunker"
	"github.com/OFFIS-RIT/agentkg/pkg/common"
	"github.com/OFFIS-RIT/agentkg/pkg/graph"
	"github.com/OFFIS-RIT/agentkg/pkg/store"
)

const storedText = "The city council approved the mobility budget for 2025 after a long debate."

// seededStore holds one relation from an earlier batch. Without chunkVec the
// chunk is stored unembedded and similarity search finds nothing.
func seededStore(t *testing.T, chunkVec []float32) *store.MemoryStore {
	t.Helper()
	chunk := common.Chunk{ID: common.ChunkID("old-doc", 0, storedText), DocumentID: "old-doc", Text: storedText, EndChar: len(storedText)}
	set := common.NewRelationSet()
	set.Attach(common.FilledRelation{
		Raw: common.RawRelation{
			Description: "council approves budget",
			Type:        common.NewRelationType(common.AxisDynamic, "approve", "Budget", "Formal approval"),
			Source:      common.Source{DocumentID: "old-doc", ChunkID: chunk.ID, Quotes: []string{storedText}},
			Confidence:  0.9,
		},
		Entities: []common.Entity{
			common.NewEntity(common.RoleAgent, "City Council", "Oldenburg City Council", "", 0.9),
			common.NewEntity(common.RoleTheme, "Budget", "Mobility Budget 2025", "", 0.9),
		},
	})
	in := graph.Input{
		DocumentID: "old-doc",
		Relations:  set,
		Chunks:     []common.Chunk{chunk},
		Mentions:   graph.Mentions(set),
		EntityEmbeddings: map[string][]float32{
			common.EntityID("City Council", "Oldenburg City Council"): aitest.Axis(0),
			common.EntityID("Budget", "Mobility Budget 2025"):          aitest.Axis(1),
		},
	}
	if chunkVec != nil {
		in.ChunkEmbeddings = map[string][]float32{chunk.ID: chunkVec}
	}
	g := graph.Build(in)
	s := store.NewMemoryStore()
	if err := store.Export(context.Background(), s, g, aitest.Dim); err != nil {
		t.Fatal(err)
	}
	return s
}

func newTestRetriever(s store.GraphStore, vectors map[string][]float32) *Retriever {
	return NewRetriever(s, aitest.NewEmbedder(vectors), chunker.NewWithTokenizer(byteTokenizer{}, 1024, 0))
}

var wantKnownRelations = []common.KnownRelation{{
	Generic:     "City Council APPROVE_BUDGET Budget",
	Verb:        "APPROVE",
	Description: "council approves budget",
}}

func TestRetrieveByChunkSimilarity(t *testing.T) {
	text := "Yesterday the budget was debated again."
	r := newTestRetriever(seededStore(t, aitest.Axis(3)), map[string][]float32{text: aitest.Axis(3)})

	gc := r.Retrieve(context.Background(), text)
	if len(gc.KnownEntities) != 2 {
		t.Fatalf("entities = %+v", gc.KnownEntities)
	}
	if !reflect.DeepEqual(gc.RelatedRelations, wantKnownRelations) {
		t.Fatalf("relations = %+v", gc.RelatedRelations)
	}
}

func TestRetrieveFallsBackToNames(t *testing.T) {
	s := seededStore(t, nil)
	text := "A new report mentions the oldenburg city council twice."
	r := newTestRetriever(s, map[string][]float32{text: aitest.Axis(7)})

	gc := r.Retrieve(context.Background(), text)
	want := []common.KnownEntity{{Name: "Oldenburg City Council", Label: "City Council"}}
	if !reflect.DeepEqual(gc.KnownEntities, want) {
		t.Fatalf("entities = %+v", gc.KnownEntities)
	}
	if !reflect.DeepEqual(gc.RelatedRelations, wantKnownRelations) {
		t.Fatalf("relations = %+v", gc.RelatedRelations)
	}
}

func TestRetrieveEmptyStore(t *testing.T) {
	r := newTestRetriever(store.NewMemoryStore(), nil)
	if gc := r.Retrieve(context.Background(), "anything at all"); !gc.IsEmpty() {
		t.Fatalf("context = %+v", gc)
	}
	var nilRetriever *Retriever
	if gc := nilRetriever.Retrieve(context.Background(), "text"); !gc.IsEmpty() {
		t.Fatalf("nil retriever context = %+v", gc)
	}
}

func TestKnownEntities(t *testing.T) {
	r := newTestRetriever(seededStore(t, aitest.Axis(3)), map[string][]float32{"budget mention": aitest.Axis(1)})
	known, err := r.KnownEntities(context.Background(), []string{"budget mention"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []common.KnownEntity{{Name: "Mobility Budget 2025", Label: "Budget"}}
	if !reflect.DeepEqual(known, want) {
		t.Fatalf("known = %+v", known)
	}
}
