package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/OFFIS-RIT/agentkg/pkg/common"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"

	"github.com/pkoukk/tiktoken-go"
)

const (
	DefaultEncoding      = "cl100k_base"
	DefaultMaxTokens     = 1024
	DefaultOverlapTokens = 128

	// snapWindow is how far back (in bytes) a hard split looks for a space.
	snapWindow = 200
)

// A sentence ends after '.', '!' or '?' followed by whitespace. The whitespace
// stays attached to the sentence so that joining all segments yields the input.
var sentenceEnd = regexp.MustCompile(`[.!?][\s\x{85}\p{Z}]+`)

// Tokenizer converts between text and token ids.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t tiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t tiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// NewTokenizer loads a tiktoken encoding by name.
func NewTokenizer(encoding string) (Tokenizer, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %s: %w", encoding, err)
	}
	return tiktokenTokenizer{enc: enc}, nil
}

// Chunker splits documents into sentence-aligned, token-bounded, overlapping
// chunks. It is safe for concurrent use.
type Chunker struct {
	tok           Tokenizer
	maxTokens     int
	overlapTokens int
}

// New creates a Chunker backed by the named tiktoken encoding.
func New(encoding string, maxTokens, overlapTokens int) (*Chunker, error) {
	tok, err := NewTokenizer(encoding)
	if err != nil {
		return nil, err
	}
	return NewWithTokenizer(tok, maxTokens, overlapTokens), nil
}

// NewWithTokenizer creates a Chunker over an arbitrary tokenizer.
// Non-positive limits fall back to the defaults.
func NewWithTokenizer(tok Tokenizer, maxTokens, overlapTokens int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	return &Chunker{tok: tok, maxTokens: maxTokens, overlapTokens: overlapTokens}
}

// CountTokens returns the token count of text.
func (c *Chunker) CountTokens(text string) int {
	return len(c.tok.Encode(text))
}

// ChunkDocument chunks doc.Text under doc.ID.
func (c *Chunker) ChunkDocument(doc common.Document) []common.Chunk {
	return c.Chunk(doc.Text, doc.ID)
}

// Chunk splits text into ordered chunks.
//
// Sentences are accumulated greedily until the next one would exceed the
// token budget. After each chunk the cursor rewinds over trailing sentences
// until at least overlapTokens tokens are repeated, so evidence crossing a
// boundary is fully contained in one of the two chunks. Sentences longer than
// the budget are hard-split first, so no chunk exceeds it.
func (c *Chunker) Chunk(text, documentID string) []common.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var segments []string
	for _, s := range splitSentences(text) {
		segments = append(segments, c.hardSplit(s)...)
	}

	tokens := make([]int, len(segments))
	offsets := make([]int, len(segments)+1)
	for i, s := range segments {
		tokens[i] = c.CountTokens(s)
		offsets[i+1] = offsets[i] + len(s)
	}

	var chunks []common.Chunk
	idx := 0
	for idx < len(segments) {
		window := 0
		j := idx
		for j < len(segments) {
			if window+tokens[j] > c.maxTokens && j > idx {
				break
			}
			window += tokens[j]
			j++
		}

		start, end := offsets[idx], offsets[j]
		chunkText := text[start:end]
		index := len(chunks)
		chunks = append(chunks, common.Chunk{
			ID:         common.ChunkID(documentID, index, chunkText),
			DocumentID: documentID,
			Index:      index,
			Text:       chunkText,
			StartChar:  start,
			EndChar:    end,
			TokenCount: window,
		})

		if j >= len(segments) {
			break
		}

		rewindTo := j
		acc := 0
		for k := j - 1; k >= idx; k-- {
			acc += tokens[k]
			if acc >= c.overlapTokens {
				rewindTo = k
				break
			}
		}
		if rewindTo > idx {
			idx = rewindTo
		} else {
			idx = j
		}
	}

	logger.Debug("[Chunker] Document chunked", "document_id", documentID, "segments", len(segments), "chunks", len(chunks))
	return chunks
}

// splitSentences splits after sentence-ending punctuation and keeps the
// following whitespace with the left segment.
func splitSentences(text string) []string {
	if text == "" {
		return nil
	}
	var parts []string
	last := 0
	for _, m := range sentenceEnd.FindAllStringIndex(text, -1) {
		parts = append(parts, text[last:m[1]])
		last = m[1]
	}
	if last < len(text) {
		parts = append(parts, text[last:])
	}
	return parts
}

// hardSplit cuts a segment that exceeds the budget into pieces of at most
// maxTokens tokens, preferring to cut after a space. Joining the pieces
// yields the segment.
func (c *Chunker) hardSplit(segment string) []string {
	if c.CountTokens(segment) <= c.maxTokens {
		return []string{segment}
	}

	var pieces []string
	pos := 0
	for pos < len(segment) {
		rest := segment[pos:]
		toks := c.tok.Encode(rest)
		if len(toks) <= c.maxTokens {
			pieces = append(pieces, rest)
			break
		}

		cut := min(pos+len(c.tok.Decode(toks[:c.maxTokens])), len(segment))
		for cut > pos && cut < len(segment) && !utf8.RuneStart(segment[cut]) {
			cut--
		}
		lo := max(pos, cut-snapWindow)
		if snap := strings.LastIndexByte(segment[lo:cut], ' '); snap >= 0 && lo+snap > pos {
			cut = lo + snap + 1
		}
		if cut <= pos {
			_, size := utf8.DecodeRuneInString(rest)
			cut = pos + size
		}

		pieces = append(pieces, segment[pos:cut])
		pos = cut
	}
	return pieces
}
