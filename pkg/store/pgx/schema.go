package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/agentkg/pkg/ontology"

	pgxv5 "github.com/jackc/pgx/v5"
)

// OntologyStore keeps ontology versions in the ontology_versions table.
type OntologyStore struct {
	conn pgxIConn
}

var _ ontology.SchemaStore = (*OntologyStore)(nil)

func NewOntologyStore(conn pgxIConn) *OntologyStore {
	return &OntologyStore{conn: conn}
}

func scanSchema(row pgxv5.Row) (*ontology.Schema, error) {
	var body []byte
	if err := row.Scan(&body); err != nil {
		return nil, err
	}
	var s ontology.Schema
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("failed to decode ontology: %w", err)
	}
	return &s, nil
}

func (o *OntologyStore) Latest(ctx context.Context, domain string) (*ontology.Schema, error) {
	row := o.conn.QueryRow(ctx, `
SELECT body FROM ontology_versions
WHERE domain = $1
ORDER BY version DESC
LIMIT 1`, domain)
	s, err := scanSchema(row)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (o *OntologyStore) Version(ctx context.Context, domain string, version int) (*ontology.Schema, error) {
	row := o.conn.QueryRow(ctx, "SELECT body FROM ontology_versions WHERE domain = $1 AND version = $2", domain, version)
	s, err := scanSchema(row)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s v%d", ontology.ErrVersionNotFound, domain, version)
	}
	return s, err
}

// Save upserts the version row. The document counter moves between
// negotiations, so the same version is rewritten in place.
func (o *OntologyStore) Save(ctx context.Context, domain string, s *ontology.Schema) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode ontology: %w", err)
	}
	_, err = o.conn.Exec(ctx, `
INSERT INTO ontology_versions (domain, version, parent_version, body)
VALUES ($1, $2, $3, $4)
ON CONFLICT (domain, version) DO UPDATE
SET body = EXCLUDED.body, updated_at = now()`, domain, s.Version, s.ParentVersion, body)
	if err != nil {
		return fmt.Errorf("failed to save ontology %s v%d: %w", domain, s.Version, err)
	}
	return nil
}
