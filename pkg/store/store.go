package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/agentkg/pkg/common"
	"github.com/OFFIS-RIT/agentkg/pkg/graph"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"
)

// Vector index names used by export, phantom retrieval and the context retriever.
const (
	EntityIndex = "entity_embeddings"
	ChunkIndex  = "chunk_embeddings"

	EmbeddingProperty = "embedding"
)

var (
	ErrUnknownIndex = errors.New("vector index does not exist")
	ErrUnsupported  = errors.New("operation not supported by this graph store")
)

// ScoredNode is one vector search hit. Higher scores are closer.
type ScoredNode struct {
	Node  graph.Node
	Score float64
}

// GraphStore persists graph elements. Writes are upserts keyed by node id,
// so exporting the same graph twice leaves the store unchanged.
type GraphStore interface {
	UpsertNodes(ctx context.Context, nodes []graph.Node) error
	UpsertEdges(ctx context.Context, edges []graph.Edge) error
	Clear(ctx context.Context) error
	VectorSearch(ctx context.Context, index string, vector []float32, topK int) ([]ScoredNode, error)
	EnsureVectorIndex(ctx context.Context, name, label, property string, dims int) error
}

// StoredEntity is an entity node together with its id.
type StoredEntity struct {
	ID string
	common.KnownEntity
}

// GraphReader answers the neighbourhood queries of the context retriever.
type GraphReader interface {
	// RelationsFromChunks returns relations extracted from the given chunks.
	RelationsFromChunks(ctx context.Context, chunkIDs []string, limit int) ([]common.KnownRelation, error)
	// EntitiesFromChunks returns the participants of those relations.
	EntitiesFromChunks(ctx context.Context, chunkIDs []string, limit int) ([]common.KnownEntity, error)
	// Entities lists stored entities in no particular order.
	Entities(ctx context.Context, limit int) ([]StoredEntity, error)
	// RelationsOfEntities returns relations with a role edge to any of ids.
	RelationsOfEntities(ctx context.Context, ids []string, limit int) ([]common.KnownRelation, error)
}

// KnownEntityFromNode reads the entity properties written by the graph builder.
func KnownEntityFromNode(n graph.Node) common.KnownEntity {
	return common.KnownEntity{
		Name:       stringProp(n.Properties, "name"),
		Label:      stringProp(n.Properties, "label_class"),
		Definition: stringProp(n.Properties, "definition"),
	}
}

// KnownRelationFromNode reads the relation properties written by the graph builder.
func KnownRelationFromNode(n graph.Node) common.KnownRelation {
	return common.KnownRelation{
		Generic:     stringProp(n.Properties, "generic"),
		Verb:        stringProp(n.Properties, "verb"),
		Description: stringProp(n.Properties, "description"),
	}
}

func stringProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

// Export writes g to s. When dims is positive the entity and chunk vector
// indexes are ensured first; failing to create them is logged and ignored.
func Export(ctx context.Context, s GraphStore, g *graph.Graph, dims int) error {
	if dims > 0 {
		EnsureIndexes(ctx, s, dims)
	}
	if err := s.UpsertNodes(ctx, g.Nodes); err != nil {
		return fmt.Errorf("failed to upsert nodes: %w", err)
	}
	if err := s.UpsertEdges(ctx, g.Edges); err != nil {
		return fmt.Errorf("failed to upsert edges: %w", err)
	}
	logger.Info("[Store] Exported graph", "nodes", len(g.Nodes), "edges", len(g.Edges))
	return nil
}

// EnsureIndexes creates the entity and chunk vector indexes if missing.
func EnsureIndexes(ctx context.Context, s GraphStore, dims int) {
	for _, idx := range []struct{ name, label string }{
		{EntityIndex, graph.LabelEntity},
		{ChunkIndex, graph.LabelChunk},
	} {
		if err := s.EnsureVectorIndex(ctx, idx.name, idx.label, EmbeddingProperty, dims); err != nil {
			logger.Warn("[Store] Could not create vector index, vector search will not be available", "index", idx.name, "err", err)
		}
	}
}
