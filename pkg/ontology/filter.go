package ontology

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/agentkg/pkg/ai"
	"github.com/OFFIS-RIT/agentkg/pkg/common"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"
)

// DefaultAutoMergeThreshold is the cosine similarity above which a candidate
// is considered a duplicate of an existing type.
const DefaultAutoMergeThreshold = 0.90

// CollectCandidates harvests every relation type, entity label and inline
// candidate entity type of set, deduplicated by kind and label, in order of
// first appearance.
func CollectCandidates(set *common.RelationSet) []common.CandidateType {
	// Labels that sanitize to the same identifier are one candidate; the
	// first spelling is kept.
	type key struct {
		kind  common.CandidateKind
		label string
	}
	seen := make(map[key]struct{})
	var out []common.CandidateType
	add := func(kind common.CandidateKind, label, def, source string) {
		if label == "" {
			return
		}
		k := key{kind, common.SanitizeIdentifier(label, common.UpperCase)}
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		out = append(out, common.NewCandidateType(kind, label, def, source))
	}

	for _, rel := range set.Relations {
		add(common.CandidateRelation, rel.Type.Label(), rel.Type.Definition, rel.Description)
		for _, p := range rel.Roles.All() {
			e := set.Entities.Get(p.Ref)
			add(common.CandidateEntity, e.Label, e.Definition, rel.Description)
		}
		for _, et := range rel.Roles.CandidateEntityTypes {
			add(common.CandidateEntity, et.Label, et.Definition, rel.Description)
		}
	}
	return out
}

// FilterReport counts what each stage of the candidate filter kept.
type FilterReport struct {
	Raw         int
	AfterLabels int
	AutoMerged  int
	Forwarded   int
}

// CandidateFilter keeps the arbiter's workload bounded: candidates already
// known by label, or nearly identical in embedding space to a known type,
// never reach governance.
type CandidateFilter struct {
	embedder  ai.Embedder
	threshold float64
}

// NewCandidateFilter uses DefaultAutoMergeThreshold when threshold is not positive.
func NewCandidateFilter(embedder ai.Embedder, threshold float64) *CandidateFilter {
	if threshold <= 0 {
		threshold = DefaultAutoMergeThreshold
	}
	return &CandidateFilter{embedder: embedder, threshold: threshold}
}

// Filter returns the candidates that need a decision by the arbiter.
// Auto-merged candidates are only logged; no type or relation is changed.
func (f *CandidateFilter) Filter(ctx context.Context, candidates []common.CandidateType, current *Schema) ([]common.CandidateType, FilterReport, error) {
	report := FilterReport{Raw: len(candidates)}

	known := map[common.CandidateKind]map[string]struct{}{
		common.CandidateRelation: normalizedLabels(current, common.CandidateRelation),
		common.CandidateEntity:   normalizedLabels(current, common.CandidateEntity),
	}
	var remaining []common.CandidateType
	for _, c := range candidates {
		if _, ok := known[c.Kind][common.SanitizeIdentifier(c.Label, common.UpperCase)]; ok {
			continue
		}
		remaining = append(remaining, c)
	}
	report.AfterLabels = len(remaining)
	if len(remaining) == 0 {
		logger.Info("[Filter] All candidates matched by label", "candidates", report.Raw)
		return nil, report, nil
	}

	existingTexts, existingLabels := current.typeTexts()
	if len(existingTexts) > 0 {
		forwarded, err := f.embeddingStage(ctx, remaining, existingTexts, existingLabels)
		if err != nil {
			return nil, report, err
		}
		report.AutoMerged = len(remaining) - len(forwarded)
		remaining = forwarded
	}
	report.Forwarded = len(remaining)

	logger.Info("[Filter] Candidate filtering finished",
		"raw", report.Raw,
		"after_labels", report.AfterLabels,
		"auto_merged", report.AutoMerged,
		"forwarded", report.Forwarded,
	)
	return remaining, report, nil
}

func (f *CandidateFilter) embeddingStage(ctx context.Context, candidates []common.CandidateType, existingTexts, existingLabels []string) ([]common.CandidateType, error) {
	texts := make([]string, 0, len(candidates)+len(existingTexts))
	for _, c := range candidates {
		texts = append(texts, common.TypeText(c.Label, c.Definition))
	}
	texts = append(texts, existingTexts...)

	vecs, err := f.embedder.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed candidate types: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	existing := vecs[len(candidates):]

	var out []common.CandidateType
	for i, c := range candidates {
		sim, best := ai.BestMatch(vecs[i], existing)
		if best >= 0 && sim >= f.threshold {
			logger.Info("[Filter] Auto-merged candidate", "candidate", c.Label, "existing", existingLabels[best], "similarity", sim)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func normalizedLabels(s *Schema, kind common.CandidateKind) map[string]struct{} {
	out := make(map[string]struct{})
	for _, t := range s.typesOf(kind) {
		out[common.SanitizeIdentifier(t.Label, common.UpperCase)] = struct{}{}
	}
	return out
}
