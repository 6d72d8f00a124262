package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/OFFIS-RIT/agentkg/pkg/ai"
	"github.com/OFFIS-RIT/agentkg/pkg/common"
	"github.com/OFFIS-RIT/agentkg/pkg/graph"
)

var (
	_ GraphStore  = (*MemoryStore)(nil)
	_ GraphReader = (*MemoryStore)(nil)
)

type vectorIndex struct {
	label    string
	property string
	dims     int
}

// MemoryStore is a process-local GraphStore. Vector search is a linear scan.
// It is used by tests and by GRAPH_STORE=memory.
type MemoryStore struct {
	mu sync.RWMutex

	nodes     map[string]graph.Node
	nodeOrder []string
	edges     map[string]graph.Edge
	edgeOrder []string
	indexes   map[string]vectorIndex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:   make(map[string]graph.Node),
		edges:   make(map[string]graph.Edge),
		indexes: make(map[string]vectorIndex),
	}
}

func edgeKey(e graph.Edge) string {
	return e.SourceID + "|" + e.Type + "|" + e.TargetID
}

// UpsertNodes merges labels and properties into existing nodes.
func (m *MemoryStore) UpsertNodes(ctx context.Context, nodes []graph.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, n := range nodes {
		cur, ok := m.nodes[n.ID]
		if !ok {
			cur = graph.Node{ID: n.ID, Properties: make(map[string]any, len(n.Properties))}
			m.nodeOrder = append(m.nodeOrder, n.ID)
		}
		for _, l := range n.Labels {
			if !slices.Contains(cur.Labels, l) {
				cur.Labels = append(cur.Labels, l)
			}
		}
		maps.Copy(cur.Properties, n.Properties)
		m.nodes[n.ID] = cur
	}
	return nil
}

// UpsertEdges skips edges whose endpoints are not stored.
func (m *MemoryStore) UpsertEdges(ctx context.Context, edges []graph.Edge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range edges {
		if _, ok := m.nodes[e.SourceID]; !ok {
			continue
		}
		if _, ok := m.nodes[e.TargetID]; !ok {
			continue
		}
		k := edgeKey(e)
		cur, ok := m.edges[k]
		if !ok {
			cur = graph.Edge{SourceID: e.SourceID, TargetID: e.TargetID, Type: e.Type, SourceLabel: e.SourceLabel, TargetLabel: e.TargetLabel}
			m.edgeOrder = append(m.edgeOrder, k)
		}
		if len(e.Properties) > 0 {
			if cur.Properties == nil {
				cur.Properties = make(map[string]any, len(e.Properties))
			}
			maps.Copy(cur.Properties, e.Properties)
		}
		m.edges[k] = cur
	}
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = make(map[string]graph.Node)
	m.edges = make(map[string]graph.Edge)
	m.nodeOrder = nil
	m.edgeOrder = nil
	return nil
}

func (m *MemoryStore) EnsureVectorIndex(ctx context.Context, name, label, property string, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("vector index %s: invalid dimension %d", name, dims)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexes[name]; !ok {
		m.indexes[name] = vectorIndex{label: label, property: property, dims: dims}
	}
	return nil
}

// VectorSearch ranks the nodes covered by index by cosine similarity.
func (m *MemoryStore) VectorSearch(ctx context.Context, index string, vector []float32, topK int) ([]ScoredNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.indexes[index]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIndex, index)
	}
	if len(vector) != idx.dims {
		return nil, fmt.Errorf("vector index %s: query has %d dimensions, want %d", index, len(vector), idx.dims)
	}

	var hits []ScoredNode
	for _, id := range m.nodeOrder {
		n := m.nodes[id]
		if !n.HasLabel(idx.label) {
			continue
		}
		emb, ok := n.Properties[idx.property].([]float32)
		if !ok || len(emb) != idx.dims {
			continue
		}
		hits = append(hits, ScoredNode{Node: n, Score: ai.Cosine(vector, emb)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Node returns the stored node with the given id.
func (m *MemoryStore) Node(id string) (graph.Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	return n, ok
}

// Nodes returns the stored nodes carrying label, in insertion order.
// An empty label returns every node.
func (m *MemoryStore) Nodes(label string) []graph.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []graph.Node
	for _, id := range m.nodeOrder {
		if n := m.nodes[id]; label == "" || n.HasLabel(label) {
			out = append(out, n)
		}
	}
	return out
}

// Edges returns the stored edges in insertion order.
func (m *MemoryStore) Edges() []graph.Edge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]graph.Edge, 0, len(m.edgeOrder))
	for _, k := range m.edgeOrder {
		out = append(out, m.edges[k])
	}
	return out
}

// relationsWhere collects distinct relation nodes at the source of edges
// accepted by match. The caller holds the read lock.
func (m *MemoryStore) relationsWhere(match func(graph.Edge) bool, limit int) []common.KnownRelation {
	seen := make(map[common.KnownRelation]struct{})
	var out []common.KnownRelation
	for _, k := range m.edgeOrder {
		e := m.edges[k]
		if !match(e) {
			continue
		}
		n := m.nodes[e.SourceID]
		if !n.HasLabel(graph.LabelRelation) {
			continue
		}
		r := KnownRelationFromNode(n)
		if r.Generic == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (m *MemoryStore) RelationsFromChunks(ctx context.Context, chunkIDs []string, limit int) ([]common.KnownRelation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.relationsWhere(func(e graph.Edge) bool {
		return e.Type == graph.EdgeExtractedFrom && slices.Contains(chunkIDs, e.TargetID)
	}, limit), nil
}

func (m *MemoryStore) RelationsOfEntities(ctx context.Context, ids []string, limit int) ([]common.KnownRelation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.relationsWhere(func(e graph.Edge) bool {
		return slices.Contains(ids, e.TargetID)
	}, limit), nil
}

func (m *MemoryStore) EntitiesFromChunks(ctx context.Context, chunkIDs []string, limit int) ([]common.KnownEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	relations := make(map[string]struct{})
	for _, k := range m.edgeOrder {
		e := m.edges[k]
		if e.Type == graph.EdgeExtractedFrom && slices.Contains(chunkIDs, e.TargetID) {
			relations[e.SourceID] = struct{}{}
		}
	}

	seen := make(map[common.KnownEntity]struct{})
	var out []common.KnownEntity
	for _, k := range m.edgeOrder {
		e := m.edges[k]
		if _, ok := relations[e.SourceID]; !ok {
			continue
		}
		n := m.nodes[e.TargetID]
		if !n.HasLabel(graph.LabelEntity) {
			continue
		}
		ke := KnownEntityFromNode(n)
		if _, ok := seen[ke]; ok {
			continue
		}
		seen[ke] = struct{}{}
		out = append(out, ke)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) Entities(ctx context.Context, limit int) ([]StoredEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []StoredEntity
	for _, id := range m.nodeOrder {
		n := m.nodes[id]
		if !n.HasLabel(graph.LabelEntity) || stringProp(n.Properties, "name") == "" {
			continue
		}
		out = append(out, StoredEntity{ID: id, KnownEntity: KnownEntityFromNode(n)})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
