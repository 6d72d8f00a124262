package neo4j

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/agentkg/internal/util"
	"github.com/OFFIS-RIT/agentkg/pkg/common"
	"github.com/OFFIS-RIT/agentkg/pkg/graph"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"
	"github.com/OFFIS-RIT/agentkg/pkg/store"

	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const defaultBatchSize = 500

type Config struct {
	URI      string
	Username string
	Password string
	Database string

	// BatchSize bounds the rows sent per UNWIND statement.
	BatchSize int
}

// Store is a GraphStore on Neo4j or Memgraph. Nodes are merged on their
// first label and id; edges are merged between existing nodes only.
type Store struct {
	driver    neo4jv5.DriverWithContext
	database  string
	batchSize int

	// labels whose id index exists
	idIndexes sync.Map
}

var (
	_ store.GraphStore  = (*Store)(nil)
	_ store.GraphReader = (*Store)(nil)
)

// New connects and verifies connectivity, retrying with backoff.
func New(ctx context.Context, cfg Config) (*Store, error) {
	auth := neo4jv5.BasicAuth(cfg.Username, cfg.Password, "")
	drv, err := neo4jv5.NewDriverWithContext(cfg.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	err = util.RetryErrWithContext(ctx, 5, func(ctx context.Context) error {
		return drv.VerifyConnectivity(ctx)
	})
	if err != nil {
		_ = drv.Close(context.Background())
		return nil, fmt.Errorf("failed to connect to neo4j at %s: %w", cfg.URI, err)
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	logger.Info("[Store] Connected to neo4j", "uri", cfg.URI, "database", cfg.Database)
	return &Store{driver: drv, database: cfg.Database, batchSize: batch}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Store) run(ctx context.Context, query string, params map[string]any) (*neo4jv5.EagerResult, error) {
	opts := []neo4jv5.ExecuteQueryConfigurationOption{}
	if s.database != "" {
		opts = append(opts, neo4jv5.ExecuteQueryWithDatabase(s.database))
	}
	return neo4jv5.ExecuteQuery(ctx, s.driver, query, params, neo4jv5.EagerResultTransformer, opts...)
}

// quote escapes an identifier for use as a label or relationship type.
func quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

// toDriverValue converts values the driver cannot send as is.
func toDriverValue(v any) any {
	switch x := v.(type) {
	case []float32:
		out := make([]float64, len(x))
		for i, f := range x {
			out[i] = float64(f)
		}
		return out
	}
	return v
}

func driverProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = toDriverValue(v)
	}
	return out
}

// ensureIDIndex creates the id index of label once per process, so MERGE and
// MATCH on {id} do not scan every node.
func (s *Store) ensureIDIndex(ctx context.Context, label string) error {
	if label == "" {
		return nil
	}
	if _, ok := s.idIndexes.Load(label); ok {
		return nil
	}
	name := common.SanitizeIdentifier(label, common.LowerCase) + "_id"
	query := fmt.Sprintf("CREATE INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.id)", quote(name), quote(label))
	if _, err := s.run(ctx, query, nil); err != nil {
		return fmt.Errorf("failed to create id index on %s: %w", label, err)
	}
	s.idIndexes.Store(label, struct{}{})
	return nil
}

// endpoint renders a node pattern matched by id, with the label when known.
func endpoint(variable, label, param string) string {
	if label == "" {
		return fmt.Sprintf("(%s {id: item.%s})", variable, param)
	}
	return fmt.Sprintf("(%s:%s {id: item.%s})", variable, quote(label), param)
}

func edgeQuery(edgeType, sourceLabel, targetLabel string) string {
	return fmt.Sprintf(`UNWIND $items AS item
MATCH %s
MATCH %s
MERGE (a)-[r:%s]->(b)
SET r += item.props`, endpoint("a", sourceLabel, "src"), endpoint("b", targetLabel, "tgt"), quote(edgeType))
}

func (s *Store) UpsertNodes(ctx context.Context, nodes []graph.Node) error {
	groups := make(map[string][]graph.Node)
	for _, n := range nodes {
		key := strings.Join(n.Labels, "\x00")
		groups[key] = append(groups[key], n)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		group := groups[key]
		labels := group[0].Labels
		primary := graph.LabelEntity
		if len(labels) > 0 {
			primary = labels[0]
		}
		query := fmt.Sprintf("UNWIND $items AS item MERGE (n:%s {id: item.id}) SET n += item.props", quote(primary))
		if len(labels) > 1 {
			extra := make([]string, len(labels)-1)
			for i, l := range labels[1:] {
				extra[i] = quote(l)
			}
			query += " SET n:" + strings.Join(extra, ":")
		}
		if err := s.ensureIDIndex(ctx, primary); err != nil {
			return err
		}

		err := store.ChunkRange(len(group), s.batchSize, func(start, end int) error {
			items := make([]map[string]any, 0, end-start)
			for _, n := range group[start:end] {
				items = append(items, map[string]any{"id": n.ID, "props": driverProps(n.Properties)})
			}
			_, err := s.run(ctx, query, map[string]any{"items": items})
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to upsert %s nodes: %w", primary, err)
		}
	}
	return nil
}

// UpsertEdges merges edges grouped by type and endpoint labels. Edges whose
// endpoints are missing are skipped by the MATCH.
func (s *Store) UpsertEdges(ctx context.Context, edges []graph.Edge) error {
	type groupKey struct{ edgeType, source, target string }
	groups := make(map[groupKey][]graph.Edge)
	var keys []groupKey
	for _, e := range edges {
		k := groupKey{e.Type, e.SourceLabel, e.TargetLabel}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], e)
	}

	for _, k := range keys {
		group := groups[k]
		query := edgeQuery(k.edgeType, k.source, k.target)
		err := store.ChunkRange(len(group), s.batchSize, func(start, end int) error {
			items := make([]map[string]any, 0, end-start)
			for _, e := range group[start:end] {
				items = append(items, map[string]any{"src": e.SourceID, "tgt": e.TargetID, "props": driverProps(e.Properties)})
			}
			_, err := s.run(ctx, query, map[string]any{"items": items})
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to upsert %s edges: %w", k.edgeType, err)
		}
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.run(ctx, "MATCH (n) DETACH DELETE n", nil); err != nil {
		return fmt.Errorf("failed to clear graph: %w", err)
	}
	logger.Info("[Store] Cleared neo4j database")
	return nil
}

func (s *Store) EnsureVectorIndex(ctx context.Context, name, label, property string, dims int) error {
	res, err := s.run(ctx, "SHOW INDEXES YIELD name WHERE name = $name RETURN name", map[string]any{"name": name})
	if err != nil {
		return err
	}
	if len(res.Records) > 0 {
		return nil
	}

	query := fmt.Sprintf(`CREATE VECTOR INDEX %s IF NOT EXISTS
FOR (n:%s) ON (n.%s)
OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: $dims, `+"`vector.similarity_function`"+`: 'cosine'}}`,
		quote(name), quote(label), quote(property))
	if _, err := s.run(ctx, query, map[string]any{"dims": dims}); err != nil {
		return err
	}
	logger.Info("[Store] Created vector index", "index", name, "label", label, "property", property, "dims", dims)
	return nil
}

func (s *Store) VectorSearch(ctx context.Context, index string, vector []float32, topK int) ([]store.ScoredNode, error) {
	res, err := s.run(ctx,
		"CALL db.index.vector.queryNodes($index, $top_k, $embedding) YIELD node, score RETURN node, score",
		map[string]any{"index": index, "top_k": topK, "embedding": toDriverValue(vector)},
	)
	if err != nil {
		return nil, fmt.Errorf("vector search on %s failed: %w", index, err)
	}

	out := make([]store.ScoredNode, 0, len(res.Records))
	for _, rec := range res.Records {
		raw, _ := rec.Get("node")
		n, ok := raw.(neo4jv5.Node)
		if !ok {
			continue
		}
		score, _ := rec.Get("score")
		f, _ := score.(float64)
		id, _ := n.Props["id"].(string)
		out = append(out, store.ScoredNode{
			Node:  graph.Node{ID: id, Labels: n.Labels, Properties: n.Props},
			Score: f,
		})
	}
	return out, nil
}

func stringValue(rec *neo4jv5.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}

func relations(res *neo4jv5.EagerResult) []common.KnownRelation {
	out := make([]common.KnownRelation, 0, len(res.Records))
	for _, rec := range res.Records {
		out = append(out, common.KnownRelation{
			Generic:     stringValue(rec, "generic"),
			Verb:        stringValue(rec, "verb"),
			Description: stringValue(rec, "description"),
		})
	}
	return out
}

func (s *Store) RelationsFromChunks(ctx context.Context, chunkIDs []string, limit int) ([]common.KnownRelation, error) {
	res, err := s.run(ctx, `UNWIND $ids AS cid
MATCH (rel)-[:EXTRACTED_FROM]->(c:Chunk {id: cid})
WHERE rel.generic IS NOT NULL AND rel.generic <> ''
RETURN DISTINCT rel.generic AS generic, rel.verb AS verb, rel.description AS description
LIMIT $limit`, map[string]any{"ids": chunkIDs, "limit": limit})
	if err != nil {
		return nil, err
	}
	return relations(res), nil
}

func (s *Store) EntitiesFromChunks(ctx context.Context, chunkIDs []string, limit int) ([]common.KnownEntity, error) {
	res, err := s.run(ctx, `UNWIND $ids AS cid
MATCH (rel)-[:EXTRACTED_FROM]->(c:Chunk {id: cid})
MATCH (rel)-[]->(e:Entity)
RETURN DISTINCT e.name AS name, e.label_class AS label, e.definition AS definition
LIMIT $limit`, map[string]any{"ids": chunkIDs, "limit": limit})
	if err != nil {
		return nil, err
	}
	out := make([]common.KnownEntity, 0, len(res.Records))
	for _, rec := range res.Records {
		out = append(out, common.KnownEntity{
			Name:       stringValue(rec, "name"),
			Label:      stringValue(rec, "label"),
			Definition: stringValue(rec, "definition"),
		})
	}
	return out, nil
}

func (s *Store) Entities(ctx context.Context, limit int) ([]store.StoredEntity, error) {
	res, err := s.run(ctx, `MATCH (e:Entity) WHERE e.name IS NOT NULL
RETURN e.id AS id, e.name AS name, e.label_class AS label, e.definition AS definition
LIMIT $limit`, map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	out := make([]store.StoredEntity, 0, len(res.Records))
	for _, rec := range res.Records {
		out = append(out, store.StoredEntity{
			ID: stringValue(rec, "id"),
			KnownEntity: common.KnownEntity{
				Name:       stringValue(rec, "name"),
				Label:      stringValue(rec, "label"),
				Definition: stringValue(rec, "definition"),
			},
		})
	}
	return out, nil
}

func (s *Store) RelationsOfEntities(ctx context.Context, ids []string, limit int) ([]common.KnownRelation, error) {
	res, err := s.run(ctx, `UNWIND $ids AS eid
MATCH (e:Entity {id: eid})<-[]-(rel:Relation)
WHERE rel.generic IS NOT NULL AND rel.generic <> ''
RETURN DISTINCT rel.generic AS generic, rel.verb AS verb, rel.description AS description
LIMIT $limit`, map[string]any{"ids": ids, "limit": limit})
	if err != nil {
		return nil, err
	}
	return relations(res), nil
}
