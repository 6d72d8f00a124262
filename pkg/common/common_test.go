package common

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

const quoteDoc = "Acme Corporation signed a framework contract with the city of Lyon in March. " +
	"The contract covers the maintenance of all public lighting for five years."

func TestValidateQuotes(t *testing.T) {
	long := "Acme Corporation signed a framework contract with the city of Lyon"
	tests := []struct {
		name    string
		quotes  []string
		doc     string
		want    []string
		wantErr error
	}{
		{
			name:   "trimmed and contained",
			quotes: []string{"  " + long + "  "},
			doc:    quoteDoc,
			want:   []string{long},
		},
		{
			name:    "too short",
			quotes:  []string{"Acme signed"},
			doc:     quoteDoc,
			wantErr: ErrQuoteTooShort,
		},
		{
			name:    "paraphrased",
			quotes:  []string{"Acme Corp signed a framework contract with the city of Lyon"},
			doc:     quoteDoc,
			wantErr: ErrQuoteNotInText,
		},
		{
			name:   "no document context skips containment",
			quotes: []string{"Acme Corp signed a framework contract with the city of Lyon"},
			want:   []string{"Acme Corp signed a framework contract with the city of Lyon"},
		},
		{
			name:    "empty",
			quotes:  nil,
			wantErr: ErrNoQuotes,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateQuotes(tt.quotes, tt.doc)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestNewCandidateTypeTruncatesSource(t *testing.T) {
	c := NewCandidateType(CandidateRelation, "SIGN_CONTRACT", "def", strings.Repeat("é", 250))
	if n := len([]rune(c.SourceDescription)); n != 200 {
		t.Fatalf("expected 200 runes, got %d", n)
	}
}

func TestSourceHasContent(t *testing.T) {
	if (Source{Quotes: []string{" ", ""}}).HasContent() {
		t.Fatal("blank quotes must not count as content")
	}
	if !(Source{Quotes: []string{" ", "x"}}).HasContent() {
		t.Fatal("expected content")
	}
}
