package resolve

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/agentkg/internal/config"
	"github.com/OFFIS-RIT/agentkg/internal/util"
	"github.com/OFFIS-RIT/agentkg/pkg/ai"
	"github.com/OFFIS-RIT/agentkg/pkg/common"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"

	"golang.org/x/sync/errgroup"
)

type Method string

const (
	MethodExact       Method = "exact"
	MethodEmbedding   Method = "embedding"
	MethodLLM         Method = "llm"
	MethodLLMRejected Method = "llm_rejected"
)

// CanonicalSource tells whether a canonical identity came from the batch or
// from an entity already in the graph.
type CanonicalSource string

const (
	SourceBatch CanonicalSource = "batch"
	SourceGraph CanonicalSource = "graph"
)

// Entry describes how one resolved identity was chosen.
type Entry struct {
	CanonicalName   string          `json:"canonical_name"`
	CanonicalLabel  string          `json:"canonical_label"`
	Aliases         []string        `json:"aliases"`
	MentionCount    int             `json:"mention_count"`
	Method          Method          `json:"method"`
	CanonicalSource CanonicalSource `json:"canonical_source"`
}

// Report is observational only. UniqueBefore and UniqueAfter count distinct
// (label, name) pairs of batch entities; Merges lists entries with aliases.
type Report struct {
	TotalMentions int     `json:"total_mentions"`
	UniqueBefore  int     `json:"unique_before"`
	UniqueAfter   int     `json:"unique_after"`
	Merges        []Entry `json:"merges"`
}

type mergeDecision struct {
	ShouldMerge         bool   `json:"should_merge" jsonschema_description:"True when every mention denotes the same real-world entity"`
	CanonicalName       string `json:"canonical_name" jsonschema_description:"Name to use for the merged entity"`
	CanonicalLabel      string `json:"canonical_label" jsonschema_description:"Label to use for the merged entity"`
	CanonicalDefinition string `json:"canonical_definition" jsonschema_description:"Definition to use for the merged entity"`
	Reasoning           string `json:"reasoning"`
}

// mention is one occurrence of an entity. Batch mentions point into the
// arena of the relation set; phantom mentions carry their own entity and
// are never written back.
type mention struct {
	ref      common.EntityRef
	relation int
	role     string
	phantom  bool
	entity   common.Entity
	key      string
	text     string
}

type pair struct{ label, name string }

// Resolver deduplicates entity instances across a batch in three stages:
// normalised-key grouping, embedding clustering and model arbitration.
type Resolver struct {
	completer ai.Completer
	embedder  ai.Embedder
	strategy  Strategy
	cfg       *config.DomainConfig
}

func NewResolver(completer ai.Completer, embedder ai.Embedder, cfg *config.DomainConfig) *Resolver {
	return &Resolver{
		completer: completer,
		embedder:  embedder,
		strategy:  NewStrategy(cfg),
		cfg:       cfg,
	}
}

// WithStrategy replaces the clustering strategy.
func (r *Resolver) WithStrategy(s Strategy) *Resolver {
	r.strategy = s
	return r
}

// PhantomEntity turns a known graph entity into an anchor entity.
func PhantomEntity(k common.KnownEntity) common.Entity {
	def := strings.TrimSpace(k.Definition)
	if def == "" {
		def = k.Label + " entity."
	}
	return common.Entity{Label: k.Label, Name: k.Name, Definition: def, Confidence: 1, SurfaceForm: k.Name}
}

// Resolve rewrites the entities of set in place so that every mention of the
// same real-world entity carries one canonical (label, name, definition).
// Known entities take part as anchors: when one lands in a cluster it is
// the canonical identity.
func (r *Resolver) Resolve(ctx context.Context, set *common.RelationSet, known []common.KnownEntity) (*Report, error) {
	if set.Len() == 0 {
		return &Report{}, nil
	}

	mentions := batchMentions(set)
	batchCount := len(mentions)
	for _, k := range known {
		if strings.TrimSpace(k.Name) == "" || strings.TrimSpace(k.Label) == "" {
			continue
		}
		ent := PhantomEntity(k)
		mentions = append(mentions, mention{
			relation: -1,
			role:     "known",
			phantom:  true,
			entity:   ent,
			key:      Key(ent.Label, ent.Name),
			text:     ent.MentionText(),
		})
	}
	if n := len(mentions) - batchCount; n > 0 {
		logger.Debug("[Resolve] Injected known entities as anchors", "count", n)
	}

	uniqueBefore := uniquePairs(set, mentions)
	logger.Info("[Resolve] Entity resolution started", "mentions", batchCount, "unique", uniqueBefore)

	groups := groupByKey(mentions)
	logger.Debug("[Resolve] Stage 1 normalisation", "unique", uniqueBefore, "groups", len(groups))

	clusters, err := r.cluster(ctx, groups)
	if err != nil {
		return nil, err
	}
	logger.Debug("[Resolve] Stage 2 embeddings", "clusters", len(clusters))

	decisions, err := r.arbitrate(ctx, set, clusters)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for ci, cluster := range clusters {
		if !needsArbitration(cluster) {
			canon, fromGraph := pickCanonical(cluster)
			entries = append(entries, newEntry(canon, nil, len(cluster), MethodExact, fromGraph))
			continue
		}

		if !r.cfg.EntityResolutionLLMArbitration {
			canon, fromGraph := pickCanonical(cluster)
			aliases := applyMerge(set, cluster, canon)
			entries = append(entries, newEntry(canon, aliases, len(cluster), MethodEmbedding, fromGraph))
			continue
		}

		decision := decisions[ci]
		if decision.ShouldMerge {
			canon := common.Entity{
				Name:       decision.CanonicalName,
				Label:      decision.CanonicalLabel,
				Definition: decision.CanonicalDefinition,
			}
			fromGraph := false
			if anchor, ok := firstPhantom(cluster); ok {
				canon, fromGraph = anchor, true
			}
			aliases := applyMerge(set, cluster, canon)
			entries = append(entries, newEntry(canon, aliases, len(cluster), MethodLLM, fromGraph))
			logger.Info("[Resolve] LLM merge", "canonical", canon.Name, "aliases", aliases, "reasoning", util.Truncate(decision.Reasoning, 80))
			continue
		}

		subgroups := groupByKey(cluster)
		for _, sub := range subgroups {
			canon, fromGraph := pickCanonical(sub)
			aliases := applyMerge(set, sub, canon)
			entries = append(entries, newEntry(canon, aliases, len(sub), MethodLLMRejected, fromGraph))
		}
		logger.Info("[Resolve] LLM rejected merge", "forms", len(subgroups), "reasoning", util.Truncate(decision.Reasoning, 80))
	}

	report := &Report{
		TotalMentions: len(mentions),
		UniqueBefore:  uniqueBefore,
		UniqueAfter:   uniquePairs(set, mentions),
	}
	for _, e := range entries {
		if len(e.Aliases) > 0 {
			report.Merges = append(report.Merges, e)
		}
	}

	logger.Info("[Resolve] Entity resolution complete", "unique_before", report.UniqueBefore, "unique_after", report.UniqueAfter, "merges", len(report.Merges))
	return report, nil
}

// arbitrate asks the model about every ambiguous cluster in parallel. Clusters
// are disjoint and nothing is merged until all answers are in, so the calls
// only read the arena. A failed call keeps that cluster apart.
func (r *Resolver) arbitrate(ctx context.Context, set *common.RelationSet, clusters [][]mention) ([]*mergeDecision, error) {
	out := make([]*mergeDecision, len(clusters))
	if !r.cfg.EntityResolutionLLMArbitration {
		return out, nil
	}

	var g errgroup.Group
	g.SetLimit(max(r.cfg.MaxConcurrency, 1))
	for i, cluster := range clusters {
		if !needsArbitration(cluster) {
			continue
		}
		g.Go(func() error {
			decision, err := r.decide(ctx, set, cluster)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("[Resolve] Merge arbitration failed, keeping mentions apart", "forms", len(distinctPairs(cluster)), "err", err)
				}
				decision = &mergeDecision{Reasoning: "arbitration unavailable"}
			}
			out[i] = decision
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func batchMentions(set *common.RelationSet) []mention {
	var out []mention
	for i, rel := range set.Relations {
		for _, p := range rel.Roles.All() {
			ent := set.Entities.Get(p.Ref)
			out = append(out, mention{
				ref:      p.Ref,
				relation: i,
				role:     string(p.Role),
				entity:   ent,
				key:      Key(ent.Label, ent.Name),
				text:     ent.MentionText(),
			})
		}
	}
	return out
}

// current returns the entity as it is now; batch mentions read the arena.
func (m mention) current(set *common.RelationSet) common.Entity {
	if m.phantom {
		return m.entity
	}
	return set.Entities.Get(m.ref)
}

func uniquePairs(set *common.RelationSet, mentions []mention) int {
	seen := make(map[pair]struct{})
	for _, m := range mentions {
		if m.phantom {
			continue
		}
		e := m.current(set)
		seen[pair{e.Label, e.Name}] = struct{}{}
	}
	return len(seen)
}

// groupByKey groups mentions by normalised key in order of first appearance.
func groupByKey(mentions []mention) [][]mention {
	index := make(map[string]int)
	var groups [][]mention
	for _, m := range mentions {
		i, ok := index[m.key]
		if !ok {
			i = len(groups)
			index[m.key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], m)
	}
	return groups
}

// cluster merges Stage-1 groups whose representative texts are close in
// embedding space.
func (r *Resolver) cluster(ctx context.Context, groups [][]mention) ([][]mention, error) {
	if len(groups) <= 1 {
		return groups, nil
	}
	texts := make([]string, len(groups))
	for i, g := range groups {
		texts[i] = g[0].text
	}
	vectors, err := r.embedder.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed entity mentions: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("failed to embed entity mentions: got %d vectors for %d texts", len(vectors), len(texts))
	}

	var out [][]mention
	for _, indices := range r.strategy.Fit(vectors) {
		var combined []mention
		for _, i := range indices {
			combined = append(combined, groups[i]...)
		}
		out = append(out, combined)
	}
	return out, nil
}

func distinctPairs(cluster []mention) []pair {
	var out []pair
	for _, m := range cluster {
		p := pair{m.entity.Label, m.entity.Name}
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

func needsArbitration(cluster []mention) bool {
	return len(distinctPairs(cluster)) > 1
}

func firstPhantom(cluster []mention) (common.Entity, bool) {
	for _, m := range cluster {
		if m.phantom {
			return m.entity, true
		}
	}
	return common.Entity{}, false
}

// pickCanonical prefers a known graph entity, then the most confident
// mention. Ties keep the earliest mention.
func pickCanonical(cluster []mention) (common.Entity, bool) {
	if anchor, ok := firstPhantom(cluster); ok {
		return anchor, true
	}
	best := cluster[0].entity
	for _, m := range cluster[1:] {
		if m.entity.Confidence > best.Confidence {
			best = m.entity
		}
	}
	return best, false
}

// applyMerge rewrites every batch mention of cluster to canon and returns the
// names that differ from the canonical name.
func applyMerge(set *common.RelationSet, cluster []mention, canon common.Entity) []string {
	var aliases []string
	for _, m := range cluster {
		if name := m.entity.Name; name != canon.Name && !slices.Contains(aliases, name) {
			aliases = append(aliases, name)
		}
	}
	for _, m := range cluster {
		if m.phantom {
			continue
		}
		set.Entities.Update(m.ref, func(e *common.Entity) {
			e.Name = canon.Name
			e.Label = canon.Label
			e.Definition = canon.Definition
			for _, a := range aliases {
				e.AddAlias(a)
			}
		})
	}
	return aliases
}

func newEntry(canon common.Entity, aliases []string, count int, method Method, fromGraph bool) Entry {
	source := SourceBatch
	if fromGraph {
		source = SourceGraph
	}
	return Entry{
		CanonicalName:   canon.Name,
		CanonicalLabel:  canon.Label,
		Aliases:         aliases,
		MentionCount:    count,
		Method:          method,
		CanonicalSource: source,
	}
}

func (r *Resolver) decide(ctx context.Context, set *common.RelationSet, cluster []mention) (*mergeDecision, error) {
	return ai.Extract(ctx, r.completer, ai.StructuredRequest{
		Name:         "decide_merge",
		Description:  "Decide whether entity mentions denote the same real-world entity.",
		SystemPrompt: fmt.Sprintf(ai.MergeDecisionPrompt, mentionsBlock(set, cluster)),
		Prompt:       "Should these mentions be merged? Return your decision.",
		Retries:      r.cfg.LLMRetries,
		Options:      []ai.GenerateOption{ai.WithModel(r.cfg.ExtractionModel)},
	}, func(out *mergeDecision) error {
		if !out.ShouldMerge {
			return nil
		}
		out.CanonicalName = strings.TrimSpace(out.CanonicalName)
		out.CanonicalLabel = strings.TrimSpace(out.CanonicalLabel)
		out.CanonicalDefinition = strings.TrimSpace(out.CanonicalDefinition)
		if out.CanonicalName == "" || out.CanonicalLabel == "" {
			return errors.New("canonical_name and canonical_label are required when should_merge is true")
		}
		return nil
	})
}

// mentionsBlock lists each distinct (label, name) of cluster once with the
// relation it was extracted from.
func mentionsBlock(set *common.RelationSet, cluster []mention) string {
	var lines []string
	seen := make(map[pair]struct{})
	for _, m := range cluster {
		p := pair{m.entity.Label, m.entity.Name}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		if m.phantom {
			lines = append(lines, fmt.Sprintf("- Name: %q, Label: %q, Definition: %q (existing graph entity)",
				m.entity.Name, m.entity.Label, m.entity.Definition))
			continue
		}
		lines = append(lines, fmt.Sprintf("- Name: %q, Label: %q, Definition: %q, Role: %s, Relation context: %q",
			m.entity.Name, m.entity.Label, m.entity.Definition, m.role, set.Relations[m.relation].Description))
	}
	return strings.Join(lines, "\n")
}
