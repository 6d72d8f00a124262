package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/agentkg/pkg/common"
	"github.com/OFFIS-RIT/agentkg/pkg/extract"
	"github.com/OFFIS-RIT/agentkg/pkg/graph"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"
	"github.com/OFFIS-RIT/agentkg/pkg/ontology"
	"github.com/OFFIS-RIT/agentkg/pkg/resolve"
	"github.com/OFFIS-RIT/agentkg/pkg/store"
	"github.com/OFFIS-RIT/agentkg/pkg/validate"

	"golang.org/x/sync/errgroup"
)

var errDrift = errors.New("relations drifted from the ontology")

// batch is the working state of one run. schema starts as the committed
// ontology and is replaced when the arbiter produces a new version.
type batch struct {
	runID  string
	path   Path
	docs   []common.Document
	texts  map[string]string
	schema *ontology.Schema
}

func (p *Pipeline) newBatch(runID string, path Path, docs []common.Document) *batch {
	texts := make(map[string]string, len(docs))
	for _, d := range docs {
		texts[d.ID] = d.Text
	}
	return &batch{runID: runID, path: path, docs: docs, texts: texts, schema: p.Ontology()}
}

func (p *Pipeline) limit() int {
	return max(p.cfg.MaxConcurrency, 1)
}

func (p *Pipeline) process(ctx context.Context, b *batch) (*Result, error) {
	res := &Result{RunID: b.runID, Path: b.path, DocumentsProcessed: len(b.docs)}

	raws, err := p.extractAll(ctx, b)
	if err != nil {
		return nil, err
	}
	set, err := p.fillRoles(ctx, b, raws)
	if err != nil {
		return nil, err
	}
	if set.Len() == 0 {
		logger.Info("[Pipeline] No relations extracted", "run_id", b.runID)
		res.Relations = set
		return res, nil
	}

	if b.path == PathFast {
		drifted, err := p.drift.ShouldRenegotiate(ctx, set, b.schema)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("[Drift] Drift check failed, staying on the fast path", "err", err)
		}
		if drifted {
			return nil, errDrift
		}
	}

	if p.cfg.QCEnabled {
		if err := p.review(ctx, b, set, res); err != nil {
			return nil, err
		}
	}

	if err := p.negotiate(ctx, b, set); err != nil {
		return nil, err
	}

	if p.cfg.EntityResolutionEnabled {
		report, err := p.resolve(ctx, set)
		if err != nil {
			return nil, err
		}
		res.ResolutionReport = report
		if report != nil {
			res.EntitiesMerged = len(report.Merges)
		}
	}

	chunks := p.chunkAll(b)
	AssignChunkIDs(set, chunks)

	texts := validate.Texts{Documents: b.texts, Chunks: make(map[string]string)}
	for _, cs := range chunks {
		for _, c := range cs {
			texts.Chunks[c.ID] = c.Text
		}
	}
	checked, err := p.validator.Validate(ctx, set, texts)
	if err != nil {
		return nil, err
	}
	res.Relations = checked.Valid
	res.RelationsCount = checked.Valid.Len()
	res.ViolationsCount = len(checked.Violations)
	res.RejectedRelationsCount = checked.Rejected.Len()

	g, err := p.build(ctx, b, checked.Valid, chunks)
	if err != nil {
		return nil, err
	}
	res.Nodes, res.Edges = g.Nodes, g.Edges
	if p.store != nil {
		if err := store.Export(ctx, p.store, g, embeddingDims(g)); err != nil {
			return nil, err
		}
		res.NodesExported, res.EdgesExported = len(g.Nodes), len(g.Edges)
	}
	return res, nil
}

// extractAll runs candidate extraction per document. The fast path adds the
// retrieved graph context and the ontology to the prompt; the full path
// extracts without either so a new vocabulary is not biased by the old one.
// A document whose extraction fails contributes no relations.
func (p *Pipeline) extractAll(ctx context.Context, b *batch) ([]common.RawRelation, error) {
	slots := make([][]common.RawRelation, len(b.docs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit())
	for i, doc := range b.docs {
		g.Go(func() error {
			var schema *ontology.Schema
			var gc *common.GraphContext
			if b.path == PathFast {
				schema = b.schema
				gc = p.retriever.Retrieve(gCtx, doc.Text)
			}
			raws, err := p.extractor.ExtractCandidates(gCtx, doc, schema, gc)
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				logger.Error("[Extract] Extraction failed, skipping document", "document_id", doc.ID, "err", err)
				return nil
			}
			slots[i] = raws
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []common.RawRelation
	for _, s := range slots {
		out = append(out, s...)
	}
	logger.Info("[Extract] Candidate extraction done", "run_id", b.runID, "documents", len(b.docs), "relations", len(out))
	return out, nil
}

// fillRoles assigns roles to every raw relation. On the fast path all calls
// share the graph context of the first document.
func (p *Pipeline) fillRoles(ctx context.Context, b *batch, raws []common.RawRelation) (*common.RelationSet, error) {
	set := common.NewRelationSet()
	if len(raws) == 0 {
		return set, nil
	}

	var gc *common.GraphContext
	if b.path == PathFast && len(b.docs) > 0 {
		gc = p.retriever.Retrieve(ctx, b.docs[0].Text)
	}

	slots := make([]*common.FilledRelation, len(raws))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit())
	for i, raw := range raws {
		g.Go(func() error {
			filled, err := p.extractor.FillRoles(gCtx, raw, b.texts[raw.Source.DocumentID], b.schema, gc)
			if err != nil {
				return err
			}
			slots[i] = filled
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, f := range slots {
		if f != nil {
			set.Attach(*f)
		}
	}
	logger.Info("[Roles] Role filling done", "run_id", b.runID, "filled", set.Len(), "candidates", len(raws))
	return set, nil
}

// review runs quality control for every document with relations. Reviews are
// advisory; a failed review is logged and skipped.
func (p *Pipeline) review(ctx context.Context, b *batch, set *common.RelationSet, res *Result) error {
	_, groups := set.ByDocument()
	reports := make([]*extract.QCReport, len(b.docs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit())
	for i, doc := range b.docs {
		sub, ok := groups[doc.ID]
		if !ok || sub.Len() == 0 {
			continue
		}
		g.Go(func() error {
			report, err := p.reviewer.Review(gCtx, doc, sub)
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				logger.Warn("[QC] Review failed", "document_id", doc.ID, "err", err)
				return nil
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	res.QCCoverage = make(map[string]float64)
	for _, r := range reports {
		if r == nil {
			continue
		}
		res.QCFlagsCount += len(r.Flags)
		res.QCCoverage[r.DocumentID] = r.Coverage
		if len(r.Flags) > 0 {
			logger.Info("[QC] Document flagged", "document_id", r.DocumentID, "flags", len(r.Flags), "coverage", r.Coverage)
		}
	}
	return nil
}

// negotiate filters the candidate types of set and lets the arbiter decide
// the rest. A failed governance round keeps the ontology as it was.
func (p *Pipeline) negotiate(ctx context.Context, b *batch, set *common.RelationSet) error {
	candidates := ontology.CollectCandidates(set)
	if len(candidates) == 0 {
		return nil
	}
	forwarded, report, err := p.filter.Filter(ctx, candidates, b.schema)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("[Filter] Candidate filtering failed, skipping governance", "err", err)
		return nil
	}
	logger.Info("[Filter] Candidates filtered",
		"raw", report.Raw,
		"after_labels", report.AfterLabels,
		"auto_merged", report.AutoMerged,
		"forwarded", report.Forwarded,
	)
	if len(forwarded) == 0 {
		return nil
	}

	decisions, err := p.arbiter.Decide(ctx, forwarded, b.schema)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("[Arbiter] Governance round failed, keeping ontology", "candidates", len(forwarded), "err", err)
		return nil
	}
	b.schema = ontology.ApplyArbiterDecisions(decisions, b.schema)
	logger.Info("[Arbiter] Ontology updated", "decisions", len(decisions), "version", b.schema.Version)
	return nil
}

// resolve deduplicates the entities of set against each other and against
// similar entities already in the store. A resolution failure leaves the
// entities as extracted.
func (p *Pipeline) resolve(ctx context.Context, set *common.RelationSet) (*resolve.Report, error) {
	known := p.phantoms(ctx, set)
	report, err := p.resolver.Resolve(ctx, set, known)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("[Resolve] Entity resolution failed, keeping extracted entities", "err", err)
		return nil, nil
	}
	return report, nil
}

func (p *Pipeline) phantoms(ctx context.Context, set *common.RelationSet) []common.KnownEntity {
	if p.retriever == nil {
		return nil
	}
	type key struct{ label, name string }
	seen := make(map[key]struct{})
	var texts []string
	for _, rel := range set.Relations {
		for _, part := range rel.Roles.All() {
			e := set.Entities.Get(part.Ref)
			k := key{e.Label, e.Name}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			texts = append(texts, e.MentionText())
		}
	}
	known, err := p.retriever.KnownEntities(ctx, texts, phantomTopK)
	if err != nil {
		logger.Warn("[Resolve] Could not fetch known entities, resolving within the batch only", "err", err)
		return nil
	}
	return known
}

func (p *Pipeline) chunkAll(b *batch) map[string][]common.Chunk {
	out := make(map[string][]common.Chunk, len(b.docs))
	for _, doc := range b.docs {
		out[doc.ID] = p.chunker.ChunkDocument(doc)
	}
	return out
}

// build assembles the graph of every document. Embeddings are only computed
// when there is a store to write them to.
func (p *Pipeline) build(ctx context.Context, b *batch, valid *common.RelationSet, chunks map[string][]common.Chunk) (*graph.Graph, error) {
	var entityVecs map[string][]float32
	if p.store != nil {
		var err error
		if entityVecs, err = p.entityEmbeddings(ctx, valid); err != nil {
			return nil, err
		}
	}

	_, groups := valid.ByDocument()
	out := graph.New()
	for _, doc := range b.docs {
		rels := groups[doc.ID]
		if rels == nil {
			rels = &common.RelationSet{Entities: valid.Entities}
		}
		in := graph.Input{
			DocumentID:       doc.ID,
			Relations:        rels,
			Chunks:           chunks[doc.ID],
			Mentions:         graph.Mentions(rels),
			EntityEmbeddings: entityVecs,
		}
		if p.store != nil && len(in.Chunks) > 0 {
			vecs, err := p.chunkEmbeddings(ctx, in.Chunks)
			if err != nil {
				return nil, err
			}
			in.ChunkEmbeddings = vecs
		}
		out.Merge(graph.Build(in))
	}
	logger.Info("[Graph] Graph built", "run_id", b.runID, "nodes", len(out.Nodes), "edges", len(out.Edges))
	return out, nil
}

func (p *Pipeline) entityEmbeddings(ctx context.Context, set *common.RelationSet) (map[string][]float32, error) {
	var ids, texts []string
	seen := make(map[string]struct{})
	for _, rel := range set.Relations {
		for _, part := range rel.Roles.All() {
			e := set.Entities.Get(part.Ref)
			id := common.EntityID(e.Label, e.Name)
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
			texts = append(texts, e.EmbedText())
		}
	}
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.client.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed entities: %w", err)
	}
	out := make(map[string][]float32, len(ids))
	for i, id := range ids {
		if i < len(vecs) {
			out[id] = vecs[i]
		}
	}
	return out, nil
}

func (p *Pipeline) chunkEmbeddings(ctx context.Context, chunks []common.Chunk) (map[string][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := p.client.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	out := make(map[string][]float32, len(chunks))
	for i, c := range chunks {
		if i < len(vecs) {
			out[c.ID] = vecs[i]
		}
	}
	return out, nil
}

// embeddingDims is the dimension of the first embedding in g, 0 when none.
func embeddingDims(g *graph.Graph) int {
	for _, n := range g.Nodes {
		if v, ok := n.Properties[store.EmbeddingProperty].([]float32); ok && len(v) > 0 {
			return len(v)
		}
	}
	return 0
}
