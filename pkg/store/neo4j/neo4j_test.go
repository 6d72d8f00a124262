package neo4j

import (
	"reflect"
	"testing"
)

func TestQuote(t *testing.T) {
	tests := map[string]string{
		"Entity":       "`Entity`",
		"City Council": "`City Council`",
		"a`b":          "`a``b`",
	}
	for in, want := range tests {
		if got := quote(in); got != want {
			t.Errorf("quote(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDriverProps(t *testing.T) {
	got := driverProps(map[string]any{"embedding": []float32{0.5, 1}, "name": "x", "index": 2})
	want := map[string]any{"embedding": []float64{0.5, 1}, "name": "x", "index": 2}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("driverProps = %#v", got)
	}
}

func TestEdgeQuery(t *testing.T) {
	tests := []struct {
		name           string
		source, target string
		want           string
	}{
		{
			name:   "labelled endpoints",
			source: "Relation",
			target: "Entity",
			want: "UNWIND $items AS item\n" +
				"MATCH (a:`Relation` {id: item.src})\n" +
				"MATCH (b:`Entity` {id: item.tgt})\n" +
				"MERGE (a)-[r:`AGENT`]->(b)\n" +
				"SET r += item.props",
		},
		{
			name:   "unknown source label",
			target: "Entity",
			want: "UNWIND $items AS item\n" +
				"MATCH (a {id: item.src})\n" +
				"MATCH (b:`Entity` {id: item.tgt})\n" +
				"MERGE (a)-[r:`AGENT`]->(b)\n" +
				"SET r += item.props",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := edgeQuery("AGENT", tt.source, tt.target); got != tt.want {
				t.Fatalf("edgeQuery() = %q, want %q", got, tt.want)
			}
		})
	}
}
