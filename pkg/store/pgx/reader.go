package pgx

import (
	"context"

	"github.com/OFFIS-RIT/agentkg/pkg/common"
	"github.com/OFFIS-RIT/agentkg/pkg/graph"
	"github.com/OFFIS-RIT/agentkg/pkg/store"
)

const relationsFromChunksSQL = `
SELECT DISTINCT r.properties->>'generic',
       COALESCE(r.properties->>'verb', ''),
       COALESCE(r.properties->>'description', '')
FROM graph_edges e
JOIN graph_nodes r ON r.id = e.source_id
WHERE e.type = $1
  AND e.target_id = ANY($2)
  AND $3 = ANY(r.labels)
  AND COALESCE(r.properties->>'generic', '') <> ''
LIMIT $4`

const entitiesFromChunksSQL = `
SELECT DISTINCT COALESCE(n.properties->>'name', ''),
       COALESCE(n.properties->>'label_class', ''),
       COALESCE(n.properties->>'definition', '')
FROM graph_edges x
JOIN graph_edges e ON e.source_id = x.source_id
JOIN graph_nodes n ON n.id = e.target_id
WHERE x.type = $1
  AND x.target_id = ANY($2)
  AND $3 = ANY(n.labels)
LIMIT $4`

const entitiesSQL = `
SELECT id,
       properties->>'name',
       COALESCE(properties->>'label_class', ''),
       COALESCE(properties->>'definition', '')
FROM graph_nodes
WHERE $1 = ANY(labels) AND COALESCE(properties->>'name', '') <> ''
LIMIT $2`

const relationsOfEntitiesSQL = `
SELECT DISTINCT r.properties->>'generic',
       COALESCE(r.properties->>'verb', ''),
       COALESCE(r.properties->>'description', '')
FROM graph_edges e
JOIN graph_nodes r ON r.id = e.source_id
WHERE e.target_id = ANY($1)
  AND $2 = ANY(r.labels)
  AND COALESCE(r.properties->>'generic', '') <> ''
LIMIT $3`

func (s *GraphDBStorage) knownRelations(ctx context.Context, sql string, args ...any) ([]common.KnownRelation, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.KnownRelation
	for rows.Next() {
		var r common.KnownRelation
		if err := rows.Scan(&r.Generic, &r.Verb, &r.Description); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) RelationsFromChunks(ctx context.Context, chunkIDs []string, limit int) ([]common.KnownRelation, error) {
	ids := store.DedupeStrings(chunkIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	return s.knownRelations(ctx, relationsFromChunksSQL, graph.EdgeExtractedFrom, ids, graph.LabelRelation, limit)
}

func (s *GraphDBStorage) RelationsOfEntities(ctx context.Context, ids []string, limit int) ([]common.KnownRelation, error) {
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	return s.knownRelations(ctx, relationsOfEntitiesSQL, ids, graph.LabelRelation, limit)
}

func (s *GraphDBStorage) EntitiesFromChunks(ctx context.Context, chunkIDs []string, limit int) ([]common.KnownEntity, error) {
	ids := store.DedupeStrings(chunkIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, entitiesFromChunksSQL, graph.EdgeExtractedFrom, ids, graph.LabelEntity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.KnownEntity
	for rows.Next() {
		var e common.KnownEntity
		if err := rows.Scan(&e.Name, &e.Label, &e.Definition); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) Entities(ctx context.Context, limit int) ([]store.StoredEntity, error) {
	rows, err := s.conn.Query(ctx, entitiesSQL, graph.LabelEntity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.StoredEntity
	for rows.Next() {
		var e store.StoredEntity
		if err := rows.Scan(&e.ID, &e.Name, &e.Label, &e.Definition); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
