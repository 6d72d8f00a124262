package pipeline

import (
	"strings"

	"github.com/OFFIS-RIT/agentkg/pkg/common"
)

// AssignChunkIDs sets the chunk of every relation in set whose document was
// chunked. The chunk is the first one containing every quote; when none does
// (a quote spans a boundary) it is the one sharing the longest substring with
// the first quote.
func AssignChunkIDs(set *common.RelationSet, chunks map[string][]common.Chunk) {
	for _, rel := range set.Relations {
		docChunks := chunks[rel.Source.DocumentID]
		if len(docChunks) == 0 {
			continue
		}
		if id := chunkFor(rel.Source.Quotes, docChunks); id != "" {
			rel.Source.ChunkID = id
		}
	}
}

func chunkFor(quotes []string, chunks []common.Chunk) string {
	var trimmed []string
	for _, q := range quotes {
		if q = strings.TrimSpace(q); q != "" {
			trimmed = append(trimmed, q)
		}
	}
	if len(trimmed) == 0 {
		return ""
	}

	for _, c := range chunks {
		if containsAll(c.Text, trimmed) {
			return c.ID
		}
	}

	best, bestLen := chunks[0].ID, -1
	for _, c := range chunks {
		if n := longestCommonSubstring(c.Text, trimmed[0]); n > bestLen {
			best, bestLen = c.ID, n
		}
	}
	return best
}

func containsAll(text string, quotes []string) bool {
	for _, q := range quotes {
		if !strings.Contains(text, q) {
			return false
		}
	}
	return true
}

// longestCommonSubstring returns the length in bytes of the longest common
// substring of a and b.
func longestCommonSubstring(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	best := 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				best = max(best, cur[j])
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return best
}
