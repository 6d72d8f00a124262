package extract

import (
	"fmt"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/agentkg/internal/config"
	"github.com/OFFIS-RIT/agentkg/internal/util"
	"github.com/OFFIS-RIT/agentkg/pkg/common"
	"github.com/OFFIS-RIT/agentkg/pkg/ontology"
)

const (
	// MaxOntologyTypes bounds how many types of one kind go into a prompt.
	MaxOntologyTypes = 50
	// maxBlocklistShown bounds the forbidden labels listed in a prompt.
	maxBlocklistShown = 15
	maxRoleExamples   = 3
	maxVerbExamples   = 2
	examplePreviewLen = 160
)

// contextSection lists the entities and relations already in the graph.
func contextSection(gc *common.GraphContext) string {
	if gc.IsEmpty() {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Known entities and relationships from prior extractions\n\n")
	if len(gc.KnownEntities) > 0 {
		b.WriteString("### Entities already in the knowledge graph:\n")
		for _, e := range gc.KnownEntities {
			fmt.Fprintf(&b, "- **%s** (%s)\n", orUnknown(e.Name), orUnknown(e.Label))
		}
	}
	if len(gc.RelatedRelations) > 0 {
		b.WriteString("\n### Relations already in the knowledge graph:\n")
		for _, r := range gc.RelatedRelations {
			text := r.Generic
			if text == "" {
				text = r.Description
			}
			fmt.Fprintf(&b, "- %s\n", orUnknown(text))
		}
	}
	b.WriteString("\nWhen extracting, reuse these entity names and labels when referring to the same real-world entities. Do not create duplicates.\n")
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}

// graphTypesSection folds the graph context into known-type hints: entity
// labels with their first definition, and verbs with up to two examples.
func graphTypesSection(gc *common.GraphContext) string {
	if gc.IsEmpty() {
		return ""
	}
	var lines []string

	var labels []string
	defs := make(map[string]string)
	for _, e := range gc.KnownEntities {
		label := strings.TrimSpace(e.Label)
		if label == "" {
			continue
		}
		if _, ok := defs[label]; ok {
			continue
		}
		defs[label] = strings.TrimSpace(e.Definition)
		labels = append(labels, label)
	}
	if len(labels) > 0 {
		lines = append(lines, "## Known entity types (from graph context)")
		for _, l := range labels[:min(len(labels), MaxOntologyTypes)] {
			if defs[l] != "" {
				lines = append(lines, fmt.Sprintf("- **%s**: %s", l, defs[l]))
			} else {
				lines = append(lines, fmt.Sprintf("- **%s**", l))
			}
		}
	}

	var verbs []string
	examples := make(map[string][]string)
	for _, r := range gc.RelatedRelations {
		verb := strings.TrimSpace(r.Verb)
		if verb == "" {
			continue
		}
		if _, ok := examples[verb]; !ok {
			verbs = append(verbs, verb)
			examples[verb] = nil
		}
		ex := strings.TrimSpace(r.Generic)
		if ex == "" {
			ex = strings.TrimSpace(r.Description)
		}
		if ex != "" && len(examples[verb]) < maxVerbExamples && !slices.Contains(examples[verb], ex) {
			examples[verb] = append(examples[verb], ex)
		}
	}
	if len(verbs) > 0 {
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, "## Known relation verbs (from graph context)")
		for _, v := range verbs[:min(len(verbs), MaxOntologyTypes)] {
			if ex := examples[v]; len(ex) > 0 {
				lines = append(lines, fmt.Sprintf("- **%s**: e.g. %s", v, util.Truncate(ex[0], examplePreviewLen)))
			} else {
				lines = append(lines, fmt.Sprintf("- **%s**", v))
			}
		}
	}
	return strings.Join(lines, "\n")
}

// typesSection renders at most MaxOntologyTypes types under header.
func typesSection(header string, types []ontology.Type, seedTag bool) string {
	if len(types) == 0 {
		return ""
	}
	lines := []string{header}
	for _, t := range types[:min(len(types), MaxOntologyTypes)] {
		line := fmt.Sprintf("- **%s**: %s", t.Label, t.Definition)
		if seedTag && t.IsSeed {
			line += " (seed)"
		}
		lines = append(lines, line)
	}
	if len(types) > MaxOntologyTypes {
		lines = append(lines, fmt.Sprintf("  … and %d more.", len(types)-MaxOntologyTypes))
	}
	return strings.Join(lines, "\n")
}

// relationTypesSection prefers hints derived from the graph context and
// falls back to the relation types of the ontology.
func relationTypesSection(schema *ontology.Schema, gc *common.GraphContext) string {
	if s := graphTypesSection(gc); s != "" {
		return s
	}
	if schema == nil {
		return ""
	}
	return typesSection("## Known relation types (prefer these when appropriate)", schema.RelationTypes, true)
}

func entityTypesSection(schema *ontology.Schema) string {
	if schema == nil {
		return ""
	}
	return typesSection("## Known entity types (prefer these labels when appropriate)", schema.EntityTypes, false)
}

// roleDescriptions renders one line per configured role in canonical order.
func roleDescriptions(cfg *config.DomainConfig) string {
	var lines []string
	for _, r := range cfg.OrderedRoles() {
		line := fmt.Sprintf("- **%s**: %s (Question: %s)", r.Role, r.Description, r.Question)
		if len(r.ExamplesInclude) > 0 {
			line += " (Include: " + strings.Join(r.ExamplesInclude[:min(len(r.ExamplesInclude), maxRoleExamples)], "; ") + ")"
		}
		if len(r.ExamplesExclude) > 0 {
			line += " (Exclude: " + strings.Join(r.ExamplesExclude[:min(len(r.ExamplesExclude), maxRoleExamples)], "; ") + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func blocklistShown(cfg *config.DomainConfig) string {
	bl := cfg.GenericEntityBlocklist
	return strings.Join(bl[:min(len(bl), maxBlocklistShown)], ", ")
}

func quotesList(quotes []string) string {
	lines := make([]string, len(quotes))
	for i, q := range quotes {
		lines[i] = "  - \"" + q + "\""
	}
	return strings.Join(lines, "\n")
}
