package resolve

import (
	"regexp"
	"strings"

	"github.com/OFFIS-RIT/agentkg/pkg/common"
)

var reNonAlnum = regexp.MustCompile(`[^a-z0-9\s]`)

// Normalize strips accents, lower-cases, removes everything but ASCII
// letters, digits and whitespace, and collapses whitespace runs.
func Normalize(s string) string {
	s = strings.ToLower(common.StripAccents(s))
	s = reNonAlnum.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// Key is the deterministic grouping key of a (label, name) pair.
func Key(label, name string) string {
	return Normalize(label) + "||" + Normalize(name)
}
