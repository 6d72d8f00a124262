package common

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"
)

// idLength is the number of hex characters kept from the SHA-256 digest.
const idLength = 16

// GenerateID returns a deterministic content hash of fields.
//
// The fields are serialised as JSON with sorted keys and ", " / ": "
// separators and non-ASCII characters escaped, then hashed with SHA-256 and
// truncated to 16 hex characters. Identical fields always give identical ids,
// which is what makes graph export an idempotent upsert.
func GenerateID(fields map[string]any) string {
	return hashPayload(canonicalJSON(fields, true))
}

// ChunkID identifies a chunk by document, position and text. Unlike the other
// ids the text is hashed without ASCII escaping.
func ChunkID(documentID string, index int, text string) string {
	return hashPayload(canonicalJSON(map[string]any{
		"document_id": documentID,
		"chunk_index": index,
		"chunk_text":  text,
	}, false))
}

// EntityID identifies a canonical entity by class and instance name.
func EntityID(label, name string) string {
	return GenerateID(map[string]any{"label": label, "name": name})
}

// DocumentID is the graph node id of a document.
func DocumentID(documentID string) string {
	return GenerateID(map[string]any{"document_id": documentID})
}

// MentionID identifies one surface-form occurrence.
func MentionID(chunkID, surfaceForm, entityName, entityLabel string) string {
	return GenerateID(map[string]any{
		"chunk_id":     chunkID,
		"surface_form": surfaceForm,
		"entity_name":  entityName,
		"entity_label": entityLabel,
	})
}

// RelationID identifies a reified relation.
func RelationID(verb, targetCategory, description, documentID string) string {
	return GenerateID(map[string]any{
		"verb":        verb,
		"target":      targetCategory,
		"description": description,
		"doc":         documentID,
	})
}

func hashPayload(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:idLength]
}

func canonicalJSON(fields map[string]any, asciiOnly bool) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		writeJSONString(&b, k, asciiOnly)
		b.WriteString(": ")
		writeJSONValue(&b, fields[k], asciiOnly)
	}
	b.WriteByte('}')
	return b.String()
}

func writeJSONValue(b *strings.Builder, v any, asciiOnly bool) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case string:
		writeJSONString(b, val, asciiOnly)
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case int:
		b.WriteString(strconv.Itoa(val))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case float64:
		b.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	default:
		writeJSONString(b, fmt.Sprint(val), asciiOnly)
	}
}

func writeJSONString(b *strings.Builder, s string, asciiOnly bool) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			switch {
			case r < 0x20:
				fmt.Fprintf(b, `\u%04x`, r)
			case r < 0x80 || !asciiOnly:
				b.WriteRune(r)
			case r > 0xFFFF:
				hi, lo := utf16.EncodeRune(r)
				fmt.Fprintf(b, `\u%04x\u%04x`, hi, lo)
			default:
				fmt.Fprintf(b, `\u%04x`, r)
			}
		}
	}
	b.WriteByte('"')
}
