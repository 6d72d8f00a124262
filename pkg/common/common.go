package common

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Document is the immutable input unit of the pipeline. The pipeline never
// modifies a Document it receives.
type Document struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Chunk is a token-bounded span of a document.
//
// StartChar and EndChar are byte offsets into the document text (end exclusive),
// so doc.Text[c.StartChar:c.EndChar] == c.Text. The ID is a content hash of
// the document id, the chunk index and the text; it changes whenever the
// chunking parameters or the document change.
type Chunk struct {
	ID         string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
	StartChar  int    `json:"start_char"`
	EndChar    int    `json:"end_char"`
	TokenCount int    `json:"token_count"`
}

// MinQuoteLength is the minimum number of characters of a supporting quote.
const MinQuoteLength = 40

var (
	ErrNoQuotes        = errors.New("source has no quotes")
	ErrQuoteTooShort   = errors.New("quote too short")
	ErrQuoteNotInText  = errors.New("quote is not a verbatim substring of the source text")
	ErrGenericLabel    = errors.New("entity label is too generic")
	ErrMissingAgent    = errors.New("relation has no agent")
	ErrMissingTheme    = errors.New("relation has no theme")
	ErrUnknownRole     = errors.New("unknown role")
	ErrInvalidAxis     = errors.New("invalid relation axis")
	ErrEmptyIdentifier = errors.New("identifier is empty after sanitizing")
)

// Source links a relation back to its document, the chunk it was found in and
// the verbatim evidence.
type Source struct {
	DocumentID string   `json:"document_id"`
	ChunkID    string   `json:"chunk_id,omitempty"`
	Quotes     []string `json:"quotes"`
}

// NewSource trims and validates the quotes. When documentText is not empty
// every quote must be an exact substring of it.
func NewSource(documentID, chunkID string, quotes []string, documentText string) (Source, error) {
	cleaned, err := ValidateQuotes(quotes, documentText)
	if err != nil {
		return Source{}, err
	}
	return Source{DocumentID: documentID, ChunkID: chunkID, Quotes: cleaned}, nil
}

// ValidateQuotes returns the trimmed quotes, or an error naming every quote
// that is too short or not contained in documentText. An empty documentText
// skips the containment check.
func ValidateQuotes(quotes []string, documentText string) ([]string, error) {
	if len(quotes) == 0 {
		return nil, ErrNoQuotes
	}
	cleaned := make([]string, 0, len(quotes))
	var errs []error
	for _, q := range quotes {
		q = strings.TrimSpace(q)
		if n := utf8.RuneCountInString(q); n < MinQuoteLength {
			errs = append(errs, fmt.Errorf("%w (%d chars, minimum %d): %q", ErrQuoteTooShort, n, MinQuoteLength, preview(q, 60)))
			continue
		}
		if documentText != "" && !strings.Contains(documentText, q) {
			errs = append(errs, fmt.Errorf("%w: %q", ErrQuoteNotInText, preview(q, 80)))
			continue
		}
		cleaned = append(cleaned, q)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cleaned, nil
}

// HasContent reports whether at least one quote is not blank.
func (s Source) HasContent() bool {
	for _, q := range s.Quotes {
		if strings.TrimSpace(q) != "" {
			return true
		}
	}
	return false
}

// Mention is the append-only record of what the text said (SurfaceForm)
// versus what entity resolution made of it (EntityName, EntityLabel).
type Mention struct {
	ID          string `json:"mention_id"`
	SurfaceForm string `json:"surface_form"`
	EntityName  string `json:"entity_name"`
	EntityLabel string `json:"entity_label"`
	ChunkID     string `json:"chunk_id,omitempty"`
	Role        Role   `json:"role"`
}

// NewMention builds a mention and derives its content-hash id.
func NewMention(chunkID, surfaceForm, entityName, entityLabel string, role Role) Mention {
	return Mention{
		ID:          MentionID(chunkID, surfaceForm, entityName, entityLabel),
		SurfaceForm: surfaceForm,
		EntityName:  entityName,
		EntityLabel: entityLabel,
		ChunkID:     chunkID,
		Role:        role,
	}
}

// CandidateKind tells whether a CandidateType proposes a relation or an entity type.
type CandidateKind string

const (
	CandidateRelation CandidateKind = "relation"
	CandidateEntity   CandidateKind = "entity"
)

// maxCandidateSourceLen bounds the context attached to a candidate type.
const maxCandidateSourceLen = 200

// CandidateType is a type observed during extraction that is not yet part
// of the ontology and may need governance.
type CandidateType struct {
	Kind              CandidateKind `json:"kind"`
	Label             string        `json:"label"`
	Definition        string        `json:"definition"`
	SourceDescription string        `json:"source_description,omitempty"`
}

// NewCandidateType truncates the source description to 200 characters.
func NewCandidateType(kind CandidateKind, label, definition, sourceDescription string) CandidateType {
	return CandidateType{
		Kind:              kind,
		Label:             label,
		Definition:        definition,
		SourceDescription: string([]rune(sourceDescription)[:min(utf8.RuneCountInString(sourceDescription), maxCandidateSourceLen)]),
	}
}

// TypeText is the text used to compare a type against ontology types.
func TypeText(label, definition string) string {
	return label + ": " + definition
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
