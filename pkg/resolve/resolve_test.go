package resolve

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/agentkg/internal/config"
	"github.com/OFFIS-RIT/agentkg/pkg/ai/aitest"
	"github.com/OFFIS-RIT/agentkg/pkg/common"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Société Générale, S.A.", "societe generale sa"},
		{"  ACME   corp. ", "acme corp"},
		{"Île-de-France", "iledefrance"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
	if Key("Company", "ACME Corp.") != Key("company", "Acme Corp") {
		t.Fatal("keys differ for case and punctuation variants")
	}
}

func angle(deg float64) []float32 {
	v := make([]float32, aitest.Dim)
	r := deg * math.Pi / 180
	v[0], v[1] = float32(math.Cos(r)), float32(math.Sin(r))
	return v
}

func TestAgglomerative(t *testing.T) {
	tests := []struct {
		name      string
		vectors   [][]float32
		threshold float64
		want      [][]int
	}{
		{"empty", nil, 0.15, nil},
		{"single", [][]float32{aitest.Axis(0)}, 0.15, [][]int{{0}}},
		{"orthogonal", [][]float32{aitest.Axis(0), aitest.Axis(1), aitest.Axis(2)}, 0.15, [][]int{{0}, {1}, {2}}},
		{"pairs", [][]float32{aitest.Axis(0), aitest.Axis(1), angle(5), aitest.Axis(1)}, 0.15, [][]int{{0, 2}, {1, 3}}},
		// Cosine distances: 0-18 is 0.049, 18-38 is 0.060 and 0-38 is 0.212,
		// so the average linkage of {0,18} to 38 is 0.136.
		{"average linkage merges", [][]float32{angle(0), angle(18), angle(38)}, 0.14, [][]int{{0, 1, 2}}},
		{"average linkage stops", [][]float32{angle(0), angle(18), angle(38)}, 0.13, [][]int{{0, 1}, {2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := (&Agglomerative{Threshold: tt.threshold}).Fit(tt.vectors)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Fit() = %v, want %v", got, tt.want)
			}
		})
	}
}

func blobPoint(center, offset int) []float32 {
	v := make([]float32, aitest.Dim)
	v[center] = 1
	v[offset] = 0.05
	return v
}

func TestHDBSCAN(t *testing.T) {
	var vectors [][]float32
	for i := range 4 {
		vectors = append(vectors, blobPoint(0, 2+i))
	}
	for i := range 4 {
		vectors = append(vectors, blobPoint(1, 6+i))
	}

	h := &HDBSCAN{MinClusterSize: 2, Components: 10, Fallback: &Agglomerative{Threshold: 0.15}}
	got := h.Fit(vectors)
	want := [][]int{{0, 1, 2, 3}, {4, 5, 6, 7}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Fit() = %v, want %v", got, want)
	}

	small := h.Fit([][]float32{aitest.Axis(0), angle(3), aitest.Axis(1)})
	if !reflect.DeepEqual(small, [][]int{{0, 1}, {2}}) {
		t.Fatalf("small input must fall back to agglomerative, got %v", small)
	}
}

func TestAssignNoise(t *testing.T) {
	points := [][]float64{{0, 0}, {10, 10}, {0, 1}, {9, 9}, {1, 0}}
	got := assignNoise(points, []int{0, 1, -1, 1, -1})
	want := [][]int{{0, 2, 4}, {1, 3}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("assignNoise() = %v, want %v", got, want)
	}

	all := assignNoise(points[:3], []int{-1, -1, -1})
	if !reflect.DeepEqual(all, [][]int{{0, 1, 2}}) {
		t.Fatalf("all-noise input = %v", all)
	}
}

func TestNewStrategy(t *testing.T) {
	cfg := config.Default()
	if _, ok := NewStrategy(cfg).(*Agglomerative); !ok {
		t.Fatal("default strategy must be agglomerative")
	}
	cfg.ClusteringMethod = config.ClusteringHDBSCAN
	cfg.ClusteringParams = map[string]any{"min_cluster_size": int64(3)}
	h, ok := NewStrategy(cfg).(*HDBSCAN)
	if !ok || h.MinClusterSize != 3 || h.Components != DefaultComponents {
		t.Fatalf("unexpected strategy %+v", h)
	}
}

func entity(role common.Role, label, name string, confidence float64) common.Entity {
	return common.NewEntity(role, label, name, label+" "+name, confidence)
}

func relationSet(participants ...[]common.Entity) *common.RelationSet {
	set := common.NewRelationSet()
	for i, ents := range participants {
		set.Attach(common.FilledRelation{
			Raw: common.RawRelation{
				Description: fmt.Sprintf("relation %d", i+1),
				Type:        common.NewRelationType(common.AxisDynamic, "sign", "Contract", "Signing"),
				Confidence:  0.9,
			},
			Entities: ents,
		})
	}
	return set
}

func names(set *common.RelationSet) []string {
	var out []string
	for _, rel := range set.Relations {
		for _, p := range rel.Roles.All() {
			e := set.Entities.Get(p.Ref)
			out = append(out, e.Label+":"+e.Name)
		}
	}
	return out
}

func TestResolveWithoutArbitration(t *testing.T) {
	cfg := config.Default()
	cfg.EntityResolutionLLMArbitration = false

	acmeLow := entity(common.RoleAgent, "Company", "acme corp.", 0.6)
	acmeHigh := entity(common.RoleAgent, "company", "ACME CORP", 0.9)
	contract := entity(common.RoleTheme, "Contract", "Framework Contract", 0.8)
	set := relationSet([]common.Entity{acmeLow, contract}, []common.Entity{acmeHigh, contract})

	resolved := common.Entity{Label: "Company", Name: "Acme Corp", Definition: acmeHigh.Definition}
	emb := aitest.NewEmbedder(map[string][]float32{
		acmeLow.MentionText():  aitest.Axis(0),
		resolved.MentionText(): aitest.Axis(0),
		contract.MentionText(): aitest.Axis(1),
	})
	r := NewResolver(aitest.NewCompleter(), emb, cfg)

	report, err := r.Resolve(context.Background(), set, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := &Report{
		TotalMentions: 4,
		UniqueBefore:  3,
		UniqueAfter:   2,
		Merges: []Entry{{
			CanonicalName:   "Acme Corp",
			CanonicalLabel:  "Company",
			Aliases:         []string{"Acme Corp."},
			MentionCount:    2,
			Method:          MethodEmbedding,
			CanonicalSource: SourceBatch,
		}},
	}
	if !reflect.DeepEqual(report, want) {
		t.Fatalf("report = %+v, want %+v", report, want)
	}

	first := set.Entities.Get(set.Relations[0].Roles.Agents()[0])
	if first.Name != "Acme Corp" || first.SurfaceForm != "Acme Corp." || !reflect.DeepEqual(first.Aliases, []string{"Acme Corp."}) {
		t.Fatalf("resolved entity = %+v", first)
	}

	again, err := r.Resolve(context.Background(), set, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Merges) != 0 || again.UniqueAfter != report.UniqueAfter {
		t.Fatalf("second pass is not idempotent: %+v", again)
	}
}

func TestResolveLLMMerge(t *testing.T) {
	short := entity(common.RoleAgent, "Company", "Intl Business Machines", 0.9)
	full := entity(common.RoleAgent, "Company", "International Business Machines", 0.7)
	set := relationSet([]common.Entity{short}, []common.Entity{full})

	emb := aitest.NewEmbedder(map[string][]float32{
		short.MentionText(): aitest.Axis(0),
		full.MentionText():  angle(5),
	})
	c := aitest.NewCompleter().On("decide_merge", aitest.Reply(mergeDecision{
		ShouldMerge:         true,
		CanonicalName:       "International Business Machines",
		CanonicalLabel:      "Company",
		CanonicalDefinition: "US technology company",
		Reasoning:           "Intl abbreviates International",
	}))

	report, err := NewResolver(c, emb, config.Default()).Resolve(context.Background(), set, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(report.Merges) != 1 || report.Merges[0].Method != MethodLLM || !reflect.DeepEqual(report.Merges[0].Aliases, []string{"Intl Business Machines"}) {
		t.Fatalf("merges = %+v", report.Merges)
	}
	if got := names(set); !reflect.DeepEqual(got, []string{"Company:International Business Machines", "Company:International Business Machines"}) {
		t.Fatalf("entities = %v", got)
	}
	if def := set.Entities.Get(set.Relations[0].Roles.Agents()[0]).Definition; def != "US technology company" {
		t.Fatalf("definition = %q", def)
	}

	prompt := c.CallsTo("decide_merge")[0].Opts.SystemPrompts[0]
	if !strings.Contains(prompt, `- Name: "Intl Business Machines", Label: "Company", Definition: "Company Intl Business Machines", Role: agent, Relation context: "relation 1"`) {
		t.Fatalf("prompt = %s", prompt)
	}
}

func TestResolveLLMRejects(t *testing.T) {
	company := entity(common.RoleAgent, "Company", "Apple", 0.9)
	fruit := entity(common.RoleTheme, "Fruit", "Apple", 0.8)
	set := relationSet([]common.Entity{company, fruit})

	emb := aitest.NewEmbedder(map[string][]float32{
		company.MentionText(): aitest.Axis(0),
		fruit.MentionText():   angle(5),
	})
	c := aitest.NewCompleter().On("decide_merge", aitest.Reply(mergeDecision{Reasoning: "homonyms"}))

	report, err := NewResolver(c, emb, config.Default()).Resolve(context.Background(), set, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(report.Merges) != 0 || report.UniqueAfter != 2 {
		t.Fatalf("report = %+v", report)
	}
	if got := names(set); !reflect.DeepEqual(got, []string{"Company:Apple", "Fruit:Apple"}) {
		t.Fatalf("entities = %v", got)
	}
}

func TestResolveArbitrationFailureKeepsMentionsApart(t *testing.T) {
	cfg := config.Default()
	cfg.LLMRetries = 0
	a := entity(common.RoleAgent, "Company", "Beta", 0.9)
	b := entity(common.RoleAgent, "Company", "Beta Industries", 0.9)
	set := relationSet([]common.Entity{a}, []common.Entity{b})

	emb := aitest.NewEmbedder(map[string][]float32{a.MentionText(): aitest.Axis(0), b.MentionText(): aitest.Axis(0)})
	c := aitest.NewCompleter().On("decide_merge", aitest.Reply(mergeDecision{ShouldMerge: true}))

	report, err := NewResolver(c, emb, cfg).Resolve(context.Background(), set, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(report.Merges) != 0 || report.UniqueAfter != 2 {
		t.Fatalf("report = %+v", report)
	}
}

func TestResolveArbitratesClustersIndependently(t *testing.T) {
	cfg := config.Default()
	cfg.MaxConcurrency = 2
	short := entity(common.RoleAgent, "Company", "Intl Business Machines", 0.9)
	full := entity(common.RoleAgent, "Company", "International Business Machines", 0.7)
	company := entity(common.RoleAgent, "Company", "Apple", 0.9)
	fruit := entity(common.RoleTheme, "Fruit", "Apple", 0.8)
	set := relationSet([]common.Entity{short}, []common.Entity{full}, []common.Entity{company, fruit})

	emb := aitest.NewEmbedder(map[string][]float32{
		short.MentionText():   aitest.Axis(0),
		full.MentionText():    aitest.Axis(0),
		company.MentionText(): aitest.Axis(2),
		fruit.MentionText():   aitest.Axis(2),
	})
	c := aitest.NewCompleter().On("decide_merge", func(call aitest.Call) (any, error) {
		if strings.Contains(call.Opts.SystemPrompts[0], "Fruit") {
			return mergeDecision{Reasoning: "homonyms"}, nil
		}
		return mergeDecision{
			ShouldMerge:    true,
			CanonicalName:  "International Business Machines",
			CanonicalLabel: "Company",
		}, nil
	})

	report, err := NewResolver(c, emb, cfg).Resolve(context.Background(), set, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if n := len(c.CallsTo("decide_merge")); n != 2 {
		t.Fatalf("decide_merge calls = %d, want 2", n)
	}
	if len(report.Merges) != 1 || report.Merges[0].Method != MethodLLM {
		t.Fatalf("merges = %+v", report.Merges)
	}
	want := []string{
		"Company:International Business Machines",
		"Company:International Business Machines",
		"Company:Apple",
		"Fruit:Apple",
	}
	if got := names(set); !reflect.DeepEqual(got, want) {
		t.Fatalf("entities = %v, want %v", got, want)
	}
}

func TestResolveCancelledDuringArbitration(t *testing.T) {
	a := entity(common.RoleAgent, "Company", "Beta", 0.9)
	b := entity(common.RoleAgent, "Company", "Beta Industries", 0.9)
	set := relationSet([]common.Entity{a}, []common.Entity{b})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	emb := aitest.NewEmbedder(map[string][]float32{a.MentionText(): aitest.Axis(0), b.MentionText(): aitest.Axis(0)})
	c := aitest.NewCompleter().On("decide_merge", func(aitest.Call) (any, error) {
		cancel()
		return nil, context.Canceled
	})

	if _, err := NewResolver(c, emb, config.Default()).Resolve(ctx, set, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got := names(set); !reflect.DeepEqual(got, []string{"Company:Beta", "Company:Beta Industries"}) {
		t.Fatalf("entities changed: %v", got)
	}
}

func TestResolvePhantomWins(t *testing.T) {
	batch := entity(common.RoleAgent, "Company", "Acme Corp", 0.9)
	contract := entity(common.RoleTheme, "Contract", "Supply Contract", 0.9)
	set := relationSet([]common.Entity{batch, contract})
	known := []common.KnownEntity{
		{Name: "Acme Corporation", Label: "Company"},
		{Name: "", Label: "Company"},
	}
	phantom := PhantomEntity(known[0])
	if phantom.Definition != "Company entity." || phantom.Confidence != 1 {
		t.Fatalf("phantom = %+v", phantom)
	}

	emb := aitest.NewEmbedder(map[string][]float32{
		batch.MentionText():    aitest.Axis(0),
		contract.MentionText(): aitest.Axis(1),
		phantom.MentionText():  angle(3),
	})
	c := aitest.NewCompleter().On("decide_merge", aitest.Reply(mergeDecision{
		ShouldMerge:    true,
		CanonicalName:  "Acme Corp",
		CanonicalLabel: "Company",
	}))

	report, err := NewResolver(c, emb, config.Default()).Resolve(context.Background(), set, known)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := &Report{
		TotalMentions: 3,
		UniqueBefore:  2,
		UniqueAfter:   2,
		Merges: []Entry{{
			CanonicalName:   "Acme Corporation",
			CanonicalLabel:  "Company",
			Aliases:         []string{"Acme Corp"},
			MentionCount:    2,
			Method:          MethodLLM,
			CanonicalSource: SourceGraph,
		}},
	}
	if !reflect.DeepEqual(report, want) {
		t.Fatalf("report = %+v, want %+v", report, want)
	}
	got := set.Entities.Get(set.Relations[0].Roles.Agents()[0])
	if got.Name != "Acme Corporation" || got.Definition != "Company entity." {
		t.Fatalf("entity = %+v", got)
	}
	if !strings.Contains(c.CallsTo("decide_merge")[0].Opts.SystemPrompts[0], `"Acme Corporation", Label: "Company", Definition: "Company entity." (existing graph entity)`) {
		t.Fatal("prompt does not mark the known entity")
	}
}

func TestResolveEmptySet(t *testing.T) {
	report, err := NewResolver(aitest.NewCompleter(), aitest.NewEmbedder(nil), config.Default()).Resolve(context.Background(), common.NewRelationSet(), nil)
	if err != nil || !reflect.DeepEqual(report, &Report{}) {
		t.Fatalf("got %+v, %v", report, err)
	}
}
