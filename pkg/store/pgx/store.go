package pgx

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/OFFIS-RIT/agentkg/internal/util"
	"github.com/OFFIS-RIT/agentkg/pkg/common"
	"github.com/OFFIS-RIT/agentkg/pkg/graph"
	"github.com/OFFIS-RIT/agentkg/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	SendBatch(ctx context.Context, b *pgxv5.Batch) pgxv5.BatchResults
}

// GraphDBStorage keeps graph nodes and edges in Postgres. Embeddings live in a
// pgvector column; vector indexes are partial HNSW indexes per label.
type GraphDBStorage struct {
	conn      pgxIConn
	batchSize int
}

var (
	_ store.GraphStore  = (*GraphDBStorage)(nil)
	_ store.GraphReader = (*GraphDBStorage)(nil)
)

type GraphDBStorageOption func(*GraphDBStorage)

func WithBatchSize(n int) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewPool opens a pool with the pgvector types registered on every connection.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgxv5.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

func NewGraphDBStorageWithConnection(conn pgxIConn, opts ...GraphDBStorageOption) *GraphDBStorage {
	s := &GraphDBStorage{conn: conn, batchSize: 500}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// splitEmbedding moves the embedding property out of props. String values
// lose the NUL bytes and invalid UTF-8 that jsonb rejects.
func splitEmbedding(props map[string]any) (map[string]any, *pgvector.Vector) {
	out := maps.Clone(props)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range out {
		if s, ok := v.(string); ok {
			out[k] = util.SanitizePostgresText(s)
		}
	}
	raw, ok := out[store.EmbeddingProperty]
	if !ok {
		return out, nil
	}
	delete(out, store.EmbeddingProperty)
	emb, ok := raw.([]float32)
	if !ok || len(emb) == 0 {
		return out, nil
	}
	v := pgvector.NewVector(emb)
	return out, &v
}

const upsertNodeSQL = `
INSERT INTO graph_nodes (id, labels, properties, embedding)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET labels     = ARRAY(SELECT DISTINCT unnest(graph_nodes.labels || EXCLUDED.labels)),
    properties = graph_nodes.properties || EXCLUDED.properties,
    embedding  = COALESCE(EXCLUDED.embedding, graph_nodes.embedding)`

const upsertEdgeSQL = `
INSERT INTO graph_edges (source_id, type, target_id, properties)
SELECT $1, $2, $3, $4
WHERE EXISTS (SELECT 1 FROM graph_nodes WHERE id = $1)
  AND EXISTS (SELECT 1 FROM graph_nodes WHERE id = $3)
ON CONFLICT (source_id, type, target_id) DO UPDATE
SET properties = graph_edges.properties || EXCLUDED.properties`

func (s *GraphDBStorage) sendBatch(ctx context.Context, b *pgxv5.Batch) error {
	res := s.conn.SendBatch(ctx, b)
	var errs []error
	for range b.Len() {
		if _, err := res.Exec(); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, res.Close())
	return errors.Join(errs...)
}

func (s *GraphDBStorage) UpsertNodes(ctx context.Context, nodes []graph.Node) error {
	return store.ChunkRange(len(nodes), s.batchSize, func(start, end int) error {
		b := &pgxv5.Batch{}
		for _, n := range nodes[start:end] {
			props, emb := splitEmbedding(n.Properties)
			labels := n.Labels
			if labels == nil {
				labels = []string{}
			}
			b.Queue(upsertNodeSQL, n.ID, labels, props, emb)
		}
		if err := s.sendBatch(ctx, b); err != nil {
			return fmt.Errorf("failed to upsert nodes: %w", err)
		}
		return nil
	})
}

func (s *GraphDBStorage) UpsertEdges(ctx context.Context, edges []graph.Edge) error {
	return store.ChunkRange(len(edges), s.batchSize, func(start, end int) error {
		b := &pgxv5.Batch{}
		for _, e := range edges[start:end] {
			props := e.Properties
			if props == nil {
				props = map[string]any{}
			}
			b.Queue(upsertEdgeSQL, e.SourceID, e.Type, e.TargetID, props)
		}
		if err := s.sendBatch(ctx, b); err != nil {
			return fmt.Errorf("failed to upsert edges: %w", err)
		}
		return nil
	})
}

func (s *GraphDBStorage) Clear(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, "TRUNCATE graph_edges, graph_nodes"); err != nil {
		return fmt.Errorf("failed to clear graph: %w", err)
	}
	return nil
}

func indexName(name string) string {
	return pgxv5.Identifier{common.SanitizeIdentifier(name, common.LowerCase) + "_hnsw"}.Sanitize()
}

// EnsureVectorIndex records the index and creates a partial HNSW index over
// the embeddings of nodes carrying label. Only the embedding property is
// supported.
func (s *GraphDBStorage) EnsureVectorIndex(ctx context.Context, name, label, property string, dims int) error {
	if property != store.EmbeddingProperty {
		return fmt.Errorf("%w: vector index on property %q", store.ErrUnsupported, property)
	}
	if dims <= 0 {
		return fmt.Errorf("vector index %s: invalid dimension %d", name, dims)
	}
	_, err := s.conn.Exec(ctx, `
INSERT INTO vector_indexes (name, label, property, dims) VALUES ($1, $2, $3, $4)
ON CONFLICT (name) DO NOTHING`, name, label, property, dims)
	if err != nil {
		return fmt.Errorf("failed to register vector index %s: %w", name, err)
	}

	ddl := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON graph_nodes USING hnsw ((embedding::vector(%d)) vector_cosine_ops) WHERE %s = ANY(labels)",
		indexName(name), dims, quoteLiteral(label),
	)
	if _, err := s.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create vector index %s: %w", name, err)
	}
	return nil
}

func quoteLiteral(s string) string {
	out := []byte{'\''}
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, s[i])
	}
	return string(append(out, '\''))
}

func (s *GraphDBStorage) VectorSearch(ctx context.Context, index string, vector []float32, topK int) ([]store.ScoredNode, error) {
	var label string
	var dims int
	err := s.conn.QueryRow(ctx, "SELECT label, dims FROM vector_indexes WHERE name = $1", index).Scan(&label, &dims)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownIndex, index)
	}
	if err != nil {
		return nil, err
	}
	if len(vector) != dims {
		return nil, fmt.Errorf("vector index %s: query has %d dimensions, want %d", index, len(vector), dims)
	}

	query := fmt.Sprintf(`
SELECT id, labels, properties, 1 - (embedding::vector(%[1]d) <=> $1) AS score
FROM graph_nodes
WHERE $2 = ANY(labels) AND embedding IS NOT NULL
ORDER BY embedding::vector(%[1]d) <=> $1
LIMIT $3`, dims)
	rows, err := s.conn.Query(ctx, query, pgvector.NewVector(vector), label, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search on %s failed: %w", index, err)
	}
	defer rows.Close()

	var out []store.ScoredNode
	for rows.Next() {
		var n graph.Node
		var score float64
		if err := rows.Scan(&n.ID, &n.Labels, &n.Properties, &score); err != nil {
			return nil, err
		}
		out = append(out, store.ScoredNode{Node: n, Score: score})
	}
	return out, rows.Err()
}
