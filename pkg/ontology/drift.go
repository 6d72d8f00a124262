package ontology

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/agentkg/pkg/ai"
	"github.com/OFFIS-RIT/agentkg/pkg/common"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultDriftThreshold    = 0.25
	DefaultDriftMinRelations = 10
)

// DriftEstimator decides whether freshly extracted relations still fit the
// relation types of the ontology.
//
// Type embeddings are cached and only recomputed when the list of type texts
// changes. Concurrent cache misses share one embedding call.
type DriftEstimator struct {
	embedder     ai.Embedder
	threshold    float64
	minRelations int

	group       singleflight.Group
	mu          sync.Mutex
	cachedTexts []string
	cachedVecs  [][]float32
}

// NewDriftEstimator falls back to the defaults for non-positive thresholds
// and a negative minimum.
func NewDriftEstimator(embedder ai.Embedder, threshold float64, minRelations int) *DriftEstimator {
	if threshold <= 0 {
		threshold = DefaultDriftThreshold
	}
	if minRelations < 0 {
		minRelations = DefaultDriftMinRelations
	}
	return &DriftEstimator{embedder: embedder, threshold: threshold, minRelations: minRelations}
}

// ShouldRenegotiate returns true without any embedding call when there is no
// ontology or it has no relation types, and false when the batch is smaller
// than the minimum. Otherwise it compares the drift score with the threshold.
func (d *DriftEstimator) ShouldRenegotiate(ctx context.Context, set *common.RelationSet, current *Schema) (bool, error) {
	if current == nil || len(current.RelationTypes) == 0 {
		return true, nil
	}
	if set.Len() < d.minRelations {
		return false, nil
	}
	score, err := d.Score(ctx, set, current)
	if err != nil {
		return false, err
	}
	logger.Info("[Drift] Drift score computed", "score", score, "threshold", d.threshold, "relations", set.Len())
	return score >= d.threshold, nil
}

// Score is 1 minus the mean, over all relations, of the best cosine
// similarity to any relation type. It is 1 when there is nothing to compare.
func (d *DriftEstimator) Score(ctx context.Context, set *common.RelationSet, current *Schema) (float64, error) {
	if current == nil || len(current.RelationTypes) == 0 || set.Len() == 0 {
		return 1, nil
	}

	typeVecs, err := d.typeEmbeddings(ctx, current)
	if err != nil {
		return 0, err
	}
	if len(typeVecs) == 0 {
		return 1, nil
	}

	texts := make([]string, set.Len())
	for i, r := range set.Relations {
		texts[i] = r.EmbedText(set.Entities)
	}
	relVecs, err := d.embedder.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed relations: %w", err)
	}
	if len(relVecs) == 0 {
		return 0, nil
	}

	var sum float64
	for _, v := range relVecs {
		best, _ := ai.BestMatch(v, typeVecs)
		sum += best
	}
	return max(0, 1-sum/float64(len(relVecs))), nil
}

func (d *DriftEstimator) typeEmbeddings(ctx context.Context, current *Schema) ([][]float32, error) {
	texts := make([]string, len(current.RelationTypes))
	for i, t := range current.RelationTypes {
		texts[i] = t.Text()
	}

	d.mu.Lock()
	if d.cachedVecs != nil && slices.Equal(d.cachedTexts, texts) {
		vecs := d.cachedVecs
		d.mu.Unlock()
		return vecs, nil
	}
	d.mu.Unlock()

	v, err, _ := d.group.Do(strings.Join(texts, "\x00"), func() (any, error) {
		vecs, err := d.embedder.GenerateEmbeddings(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed ontology types: %w", err)
		}
		d.mu.Lock()
		d.cachedTexts = texts
		d.cachedVecs = vecs
		d.mu.Unlock()
		return vecs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([][]float32), nil
}
