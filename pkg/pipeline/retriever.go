package pipeline

import (
	"context"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/agentkg/pkg/ai"
	"github.com/OFFIS-RIT/agentkg/pkg/chunker"
	"github.com/OFFIS-RIT/agentkg/pkg/common"
	"github.com/OFFIS-RIT/agentkg/pkg/graph"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"
	"github.com/OFFIS-RIT/agentkg/pkg/store"
)

// Limits of the context handed to extraction prompts.
const (
	contextChunks        = 5
	contextEntities      = 30
	contextRelations     = 20
	fallbackEntitiesScan = 500
)

// Retriever looks up what the graph already knows about a document. It
// prefers chunk similarity and falls back to matching stored entity names
// in the text.
type Retriever struct {
	store    store.GraphStore
	reader   store.GraphReader
	embedder ai.Embedder
	chunker  *chunker.Chunker
}

// NewRetriever returns nil when s cannot answer neighbourhood queries.
func NewRetriever(s store.GraphStore, embedder ai.Embedder, c *chunker.Chunker) *Retriever {
	reader, ok := s.(store.GraphReader)
	if !ok {
		return nil
	}
	return &Retriever{store: s, reader: reader, embedder: embedder, chunker: c}
}

// Retrieve never fails: errors are logged and yield an empty context.
func (r *Retriever) Retrieve(ctx context.Context, text string) *common.GraphContext {
	if r == nil || strings.TrimSpace(text) == "" {
		return &common.GraphContext{}
	}

	gc, err := r.byVector(ctx, text)
	if err != nil {
		logger.Warn("[Context] Vector retrieval failed, matching entity names", "err", err)
	}
	if err != nil || gc.IsEmpty() {
		gc, err = r.byName(ctx, text)
		if err != nil {
			logger.Warn("[Context] Entity name matching failed", "err", err)
			return &common.GraphContext{}
		}
	}
	logger.Debug("[Context] Retrieved graph context", "entities", len(gc.KnownEntities), "relations", len(gc.RelatedRelations))
	return gc
}

func (r *Retriever) byVector(ctx context.Context, text string) (*common.GraphContext, error) {
	chunks := r.chunker.Chunk(text, "")
	if len(chunks) == 0 {
		return &common.GraphContext{}, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := r.embedder.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return nil, err
	}

	best := make(map[string]float64)
	for _, v := range vecs {
		hits, err := r.store.VectorSearch(ctx, store.ChunkIndex, v, contextChunks)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if !h.Node.HasLabel(graph.LabelChunk) {
				continue
			}
			if s, ok := best[h.Node.ID]; !ok || h.Score > s {
				best[h.Node.ID] = h.Score
			}
		}
	}
	if len(best) == 0 {
		return &common.GraphContext{}, nil
	}

	ids := make([]string, 0, len(best))
	for id := range best {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if best[ids[i]] != best[ids[j]] {
			return best[ids[i]] > best[ids[j]]
		}
		return ids[i] < ids[j]
	})
	ids = ids[:min(len(ids), contextChunks)]

	rels, err := r.reader.RelationsFromChunks(ctx, ids, contextRelations)
	if err != nil {
		return nil, err
	}
	ents, err := r.reader.EntitiesFromChunks(ctx, ids, contextEntities)
	if err != nil {
		return nil, err
	}
	return &common.GraphContext{KnownEntities: ents, RelatedRelations: rels}, nil
}

func (r *Retriever) byName(ctx context.Context, text string) (*common.GraphContext, error) {
	stored, err := r.reader.Entities(ctx, fallbackEntitiesScan)
	if err != nil {
		return nil, err
	}
	lower := strings.ToLower(text)

	gc := &common.GraphContext{}
	var ids []string
	for _, e := range stored {
		name := strings.ToLower(strings.TrimSpace(e.Name))
		if name == "" || !strings.Contains(lower, name) {
			continue
		}
		gc.KnownEntities = append(gc.KnownEntities, e.KnownEntity)
		ids = append(ids, e.ID)
		if len(ids) >= contextEntities {
			break
		}
	}
	if len(ids) == 0 {
		return gc, nil
	}
	gc.RelatedRelations, err = r.reader.RelationsOfEntities(ctx, ids, contextRelations)
	if err != nil {
		return nil, err
	}
	return gc, nil
}

// KnownEntities finds stored entities close to the given mention texts in the
// entity index. They take part in resolution as anchors.
func (r *Retriever) KnownEntities(ctx context.Context, mentionTexts []string, topK int) ([]common.KnownEntity, error) {
	if len(mentionTexts) == 0 {
		return nil, nil
	}
	vecs, err := r.embedder.GenerateEmbeddings(ctx, mentionTexts)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []common.KnownEntity
	for _, v := range vecs {
		hits, err := r.store.VectorSearch(ctx, store.EntityIndex, v, topK)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if _, ok := seen[h.Node.ID]; ok {
				continue
			}
			seen[h.Node.ID] = struct{}{}
			k := store.KnownEntityFromNode(h.Node)
			if k.Name == "" || k.Label == "" {
				continue
			}
			out = append(out, k)
		}
	}
	return out, nil
}
