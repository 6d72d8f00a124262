package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/agentkg/internal/config"
	"github.com/OFFIS-RIT/agentkg/internal/util"
	"github.com/OFFIS-RIT/agentkg/pkg/ai"
	"github.com/OFFIS-RIT/agentkg/pkg/common"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"
)

type FlagKind string

const (
	FlagMissingRelation FlagKind = "missing_relation"
	FlagIncompleteRoles FlagKind = "incomplete_roles"
)

// defaultCoverage is reported when the reviewer gives no usable estimate.
const defaultCoverage = 0.5

// Flag is one issue raised by the quality-control reviewer.
type Flag struct {
	Kind                FlagKind `json:"kind"`
	Description         string   `json:"description"`
	TextSpan            string   `json:"text_span,omitempty"`
	RelationDescription string   `json:"relation_description,omitempty"`
	SuggestedRoles      []string `json:"suggested_roles,omitempty"`
}

// QCReport is the advisory outcome of reviewing one document.
type QCReport struct {
	DocumentID string  `json:"document_id"`
	Flags      []Flag  `json:"flags"`
	Coverage   float64 `json:"coverage"`
}

type qcMissingRelation struct {
	TextSpan    string `json:"text_span" jsonschema_description:"Excerpt of the document"`
	Description string `json:"description" jsonschema_description:"The relation believed to be missing"`
}

type qcIncompleteRoles struct {
	RelationDescription string   `json:"relation_description"`
	MissingRoles        []string `json:"missing_roles"`
	Reasoning           string   `json:"reasoning"`
}

type qcResponse struct {
	MissingRelations []qcMissingRelation `json:"missing_relations"`
	IncompleteRoles  []qcIncompleteRoles `json:"incomplete_roles"`
	CoverageScore    *float64            `json:"coverage_score" jsonschema_description:"Estimated share of relational content extracted, 0.0 to 1.0"`
}

// Reviewer flags likely gaps in an extraction. It never changes relations.
type Reviewer struct {
	client ai.Completer
	cfg    *config.DomainConfig
}

func NewReviewer(client ai.Completer, cfg *config.DomainConfig) *Reviewer {
	return &Reviewer{client: client, cfg: cfg}
}

// Review compares doc with the relations extracted from it.
func (r *Reviewer) Review(ctx context.Context, doc common.Document, set *common.RelationSet) (*QCReport, error) {
	prompt := fmt.Sprintf(
		ai.QualityControlPrompt,
		r.cfg.DomainName,
		doc.Text,
		set.Len(),
		relationsBlock(set),
	)

	res, err := ai.Extract[qcResponse](ctx, r.client, ai.StructuredRequest{
		Name:        "review_extraction",
		Description: "Flag missing relations and incomplete roles.",
		Prompt:      prompt,
		Retries:     r.cfg.LLMRetries,
		Options:     []ai.GenerateOption{ai.WithModel(r.cfg.ValidationModel)},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("quality control failed for document %s: %w", doc.ID, err)
	}

	report := &QCReport{DocumentID: doc.ID, Coverage: defaultCoverage}
	if res.CoverageScore != nil {
		report.Coverage = min(max(*res.CoverageScore, 0), 1)
	}
	for _, m := range res.MissingRelations {
		report.Flags = append(report.Flags, Flag{Kind: FlagMissingRelation, Description: m.Description, TextSpan: m.TextSpan})
	}
	for _, ir := range res.IncompleteRoles {
		var roles []string
		for _, role := range ir.MissingRoles {
			if role = strings.TrimSpace(role); role != "" {
				roles = append(roles, role)
			}
		}
		report.Flags = append(report.Flags, Flag{
			Kind:                FlagIncompleteRoles,
			Description:         ir.Reasoning,
			RelationDescription: ir.RelationDescription,
			SuggestedRoles:      roles,
		})
	}

	if len(report.Flags) > 0 {
		logger.Info("[QC] Document reviewed", "document_id", doc.ID, "flags", len(report.Flags), "coverage", report.Coverage)
		for _, f := range report.Flags {
			logger.Debug("[QC] Flag", "kind", f.Kind, "description", util.Truncate(f.Description, 80))
		}
	}
	return report, nil
}

func relationsBlock(set *common.RelationSet) string {
	names := func(refs []common.EntityRef) string {
		parts := make([]string, len(refs))
		for i, ref := range refs {
			parts[i] = set.Entities.Get(ref).Name
		}
		return strings.Join(parts, ", ")
	}
	lines := make([]string, 0, set.Len())
	for i, rel := range set.Relations {
		lines = append(lines, fmt.Sprintf("  %d. [%s] %s\n     Agents: %s\n     Themes: %s",
			i+1, rel.Type.Label(), rel.Description, names(rel.Roles.Agents()), names(rel.Roles.Themes())))
	}
	return strings.Join(lines, "\n")
}
