package pgx

import (
	"reflect"
	"testing"
)

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@db:5432/kg?sslmode=disable", "pgx5://u:p@db:5432/kg?sslmode=disable"},
		{"postgresql://db/kg", "pgx5://db/kg"},
		{"pgx5://db/kg", "pgx5://db/kg"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := migrateURL(tt.in); got != tt.want {
				t.Fatalf("migrateURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSplitEmbedding(t *testing.T) {
	in := map[string]any{"name": "Budget", "embedding": []float32{1, 2}}
	props, emb := splitEmbedding(in)
	if !reflect.DeepEqual(props, map[string]any{"name": "Budget"}) {
		t.Fatalf("props = %v", props)
	}
	if emb == nil || !reflect.DeepEqual(emb.Slice(), []float32{1, 2}) {
		t.Fatalf("embedding = %v", emb)
	}
	if _, ok := in["embedding"]; !ok {
		t.Fatal("input map was modified")
	}

	props, _ = splitEmbedding(map[string]any{"text": "a\x00b\xff", "chunk_index": 3})
	if !reflect.DeepEqual(props, map[string]any{"text": "ab", "chunk_index": 3}) {
		t.Fatalf("sanitized props = %v", props)
	}

	props, emb = splitEmbedding(nil)
	if emb != nil || props == nil || len(props) != 0 {
		t.Fatalf("nil props: %v %v", props, emb)
	}
}

func TestQuoteLiteral(t *testing.T) {
	if got := quoteLiteral("O'Brien"); got != "'O''Brien'" {
		t.Fatalf("quoteLiteral = %s", got)
	}
}
