// Package pipeline sequences the stages that turn a batch of documents into
// graph elements and owns the ontology between batches.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OFFIS-RIT/agentkg/internal/config"
	"github.com/OFFIS-RIT/agentkg/pkg/ai"
	"github.com/OFFIS-RIT/agentkg/pkg/chunker"
	"github.com/OFFIS-RIT/agentkg/pkg/common"
	"github.com/OFFIS-RIT/agentkg/pkg/extract"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"
	"github.com/OFFIS-RIT/agentkg/pkg/ontology"
	"github.com/OFFIS-RIT/agentkg/pkg/resolve"
	"github.com/OFFIS-RIT/agentkg/pkg/store"
	"github.com/OFFIS-RIT/agentkg/pkg/validate"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// phantomTopK is how many stored entities are fetched per batch mention.
const phantomTopK = 10

type Pipeline struct {
	cfg    *config.DomainConfig
	client ai.GraphAIClient
	store  store.GraphStore

	chunker   *chunker.Chunker
	retriever *Retriever
	extractor *extract.Extractor
	reviewer  *extract.Reviewer
	filter    *ontology.CandidateFilter
	arbiter   *ontology.Arbiter
	drift     *ontology.DriftEstimator
	resolver  *resolve.Resolver
	validator *validate.Validator

	// runMu serializes batches; the ontology of one batch is the input of
	// the next.
	runMu  sync.Mutex
	mu     sync.RWMutex
	schema *ontology.Schema
}

type Option func(*Pipeline)

// WithStore enables context retrieval, phantom entities and export.
func WithStore(s store.GraphStore) Option {
	return func(p *Pipeline) {
		p.store = s
	}
}

// WithOntology sets the ontology the first batch starts from.
func WithOntology(s *ontology.Schema) Option {
	return func(p *Pipeline) {
		p.schema = s.Clone()
	}
}

func WithChunker(c *chunker.Chunker) Option {
	return func(p *Pipeline) {
		p.chunker = c
	}
}

func New(client ai.GraphAIClient, cfg *config.DomainConfig, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	p := &Pipeline{cfg: cfg, client: client}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(p)
	}

	if p.chunker == nil {
		c, err := chunker.New(chunker.DefaultEncoding, cfg.ChunkMaxTokens, cfg.ChunkOverlapTokens)
		if err != nil {
			return nil, fmt.Errorf("failed to create chunker: %w", err)
		}
		p.chunker = c
	}
	if p.store != nil {
		p.retriever = NewRetriever(p.store, client, p.chunker)
	}

	p.extractor = extract.NewExtractor(client, cfg)
	p.reviewer = extract.NewReviewer(client, cfg)
	p.filter = ontology.NewCandidateFilter(client, cfg.CandidateAutoMergeThreshold)
	p.arbiter = ontology.NewArbiter(client, cfg)
	p.drift = ontology.NewDriftEstimator(client, cfg.DriftThreshold, cfg.DriftMinRelations)
	p.resolver = resolve.NewResolver(client, client, cfg)
	p.validator = validate.NewValidator(client, cfg)
	return p, nil
}

// Ontology returns a copy of the current ontology, nil before the first
// negotiation.
func (p *Pipeline) Ontology() *ontology.Schema {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.schema.Clone()
}

// SetOntology replaces the ontology between batches, e.g. after another
// worker saved a newer version.
func (p *Pipeline) SetOntology(s *ontology.Schema) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schema = s.Clone()
}

// Route picks the path for the next batch: full when there is no ontology or
// it is stale, fast otherwise.
func (p *Pipeline) Route() Path {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.schema == nil || p.schema.IsStale(p.cfg.OntologyStalenessThreshold) {
		return PathFull
	}
	return PathFast
}

// Run processes one batch to completion. A fast-path batch whose relations
// drift away from the ontology is discarded and rerun on the full path.
// The ontology is only replaced when the batch succeeds.
func (p *Pipeline) Run(ctx context.Context, docs []common.Document) (*Result, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	runID, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	path := p.Route()
	logger.Info("[Pipeline] Starting batch", "run_id", runID, "path", path, "documents", len(docs))

	b := p.newBatch(runID, path, docs)
	res, err := p.process(ctx, b)
	if errors.Is(err, errDrift) {
		logger.Info("[Pipeline] Drift detected, rerunning batch on the full path", "run_id", runID)
		b = p.newBatch(runID, PathFull, docs)
		res, err = p.process(ctx, b)
		if res != nil {
			res.RestartedFromFast = true
		}
	}
	if err != nil {
		return nil, err
	}

	p.commit(b)
	if b.schema != nil {
		res.OntologyVersion = b.schema.Version
	}
	logger.Info("[Pipeline] Batch done",
		"run_id", runID,
		"path", res.Path,
		"relations", res.RelationsCount,
		"rejected", res.RejectedRelationsCount,
		"merged", res.EntitiesMerged,
		"ontology_version", res.OntologyVersion,
		"duration", time.Since(start),
	)
	return res, nil
}

// commit stores the working ontology and moves the document counter: a full
// run restarts it at the batch size, a fast run adds to it.
func (p *Pipeline) commit(b *batch) {
	if b.schema == nil {
		return
	}
	next := b.schema.Clone()
	if b.path == PathFull {
		next.DocumentsSinceLastNegotiation = len(b.docs)
	} else {
		next.DocumentsSinceLastNegotiation += len(b.docs)
	}
	b.schema = next

	p.mu.Lock()
	p.schema = next
	p.mu.Unlock()
}
