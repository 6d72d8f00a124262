package common

import "testing"

func TestGenerateIDMatchesReferenceHashes(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{
			name: "entity",
			got:  EntityID("Person", "Alice"),
			want: "3b36fb1d0407ae5a",
		},
		{
			name: "document with non-ascii id is escaped",
			got:  DocumentID("Café"),
			want: "387415cc6969bc83",
		},
		{
			name: "mention without chunk",
			got:  MentionID("", "Acme Corp", "Acme Corporation", "Organization"),
			want: "50ad08ca25584e25",
		},
		{
			name: "relation with quotes and newline",
			got:  RelationID("SIGN", "Contract", "Acme signs \"the\" contract\n", "d1"),
			want: "9901afb19d35d1a3",
		},
		{
			name: "astral plane rune uses surrogate pair",
			got:  EntityID("Person", "Zoë 😀"),
			want: "5e510dd39dfa8e29",
		},
		{
			name: "chunk keeps utf8",
			got:  ChunkID("doc-1", 0, "Café ouvert."),
			want: "c3dfd00095d9d62f",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Fatalf("got %s, want %s", tt.got, tt.want)
			}
		})
	}
}

func TestEntityIDDeterministic(t *testing.T) {
	a := EntityID("Organization", "Acme")
	b := EntityID("Organization", "Acme")
	if a != b {
		t.Fatalf("same input gave %s and %s", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("expected 16 hex chars, got %d", len(a))
	}
	if a == EntityID("Organization", "Acme Inc") {
		t.Fatal("changing the name must change the id")
	}
	if a == EntityID("Company", "Acme") {
		t.Fatal("changing the label must change the id")
	}
}

func TestChunkIDChangesWithInputs(t *testing.T) {
	base := ChunkID("d", 0, "text")
	for _, other := range []string{
		ChunkID("d2", 0, "text"),
		ChunkID("d", 1, "text"),
		ChunkID("d", 0, "text!"),
	} {
		if other == base {
			t.Fatalf("expected a different id than %s", base)
		}
	}
}
