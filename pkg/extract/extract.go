package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/agentkg/internal/config"
	"github.com/OFFIS-RIT/agentkg/pkg/ai"
	"github.com/OFFIS-RIT/agentkg/pkg/common"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"
	"github.com/OFFIS-RIT/agentkg/pkg/ontology"
)

type extractedRelation struct {
	Description    string   `json:"description" jsonschema_description:"Self-contained description of the relation"`
	Axis           string   `json:"axis" jsonschema:"enum=ONTOLOGICAL,enum=DYNAMIC,enum=STRUCTURAL"`
	Verb           string   `json:"verb" jsonschema_description:"Infinitive verb without subject or object"`
	TargetCategory string   `json:"target_category" jsonschema_description:"Class of thing the verb acts on"`
	Definition     string   `json:"definition" jsonschema_description:"Domain-independent definition of the relation type"`
	Quotes         []string `json:"quotes" jsonschema_description:"Verbatim passages of the document supporting the relation, at least 40 characters each"`
	Confidence     float64  `json:"confidence" jsonschema_description:"Confidence between 0.0 and 1.0"`
}

type extractRelationsResponse struct {
	Relations []extractedRelation `json:"relations" jsonschema_description:"Relations found in the document"`
}

// Extractor runs the two model steps that turn a document into relations:
// candidate extraction and role filling.
type Extractor struct {
	client ai.Completer
	cfg    *config.DomainConfig
}

func NewExtractor(client ai.Completer, cfg *config.DomainConfig) *Extractor {
	return &Extractor{client: client, cfg: cfg}
}

// ExtractCandidates returns the typed but roleless relations of doc.
//
// Every quote must be a verbatim substring of the document; a response with
// any other quote is rejected as a whole and retried with feedback. When no
// response validates within the retry budget the error wraps
// ai.ErrValidationExhausted.
func (e *Extractor) ExtractCandidates(ctx context.Context, doc common.Document, schema *ontology.Schema, gc *common.GraphContext) ([]common.RawRelation, error) {
	system := fmt.Sprintf(
		ai.ExtractRelationsSystemPrompt,
		e.cfg.DomainName,
		e.cfg.DomainContext,
		relationTypesSection(schema, gc),
		contextSection(gc),
	)

	var raws []common.RawRelation
	_, err := ai.Extract(ctx, e.client, ai.StructuredRequest{
		Name:         "extract_relations",
		Description:  "Extract typed relations without roles from a document.",
		SystemPrompt: system,
		Prompt:       fmt.Sprintf(ai.ExtractRelationsPrompt, doc.Text),
		Retries:      e.cfg.LLMRetries,
		Options:      []ai.GenerateOption{ai.WithModel(e.cfg.ExtractionModel)},
	}, func(out *extractRelationsResponse) error {
		converted, err := toRawRelations(out.Relations, doc)
		if err != nil {
			return err
		}
		raws = converted
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract relations from document %s: %w", doc.ID, err)
	}

	logger.Info("[Extract] Extracted raw relations", "document_id", doc.ID, "relations", len(raws), "model", e.cfg.ExtractionModel)
	return raws, nil
}

func toRawRelations(in []extractedRelation, doc common.Document) ([]common.RawRelation, error) {
	out := make([]common.RawRelation, 0, len(in))
	var errs []error
	for i, r := range in {
		axis, err := common.ParseAxis(r.Axis)
		if err != nil {
			errs = append(errs, fmt.Errorf("relation %d: %w", i+1, err))
			continue
		}
		if strings.TrimSpace(r.Verb) == "" || strings.TrimSpace(r.TargetCategory) == "" {
			errs = append(errs, fmt.Errorf("relation %d: verb and target_category are required", i+1))
			continue
		}
		src, err := common.NewSource(doc.ID, "", r.Quotes, doc.Text)
		if err != nil {
			errs = append(errs, fmt.Errorf("relation %d (%q): %w", i+1, r.Description, err))
			continue
		}
		out = append(out, common.RawRelation{
			Description: strings.TrimSpace(r.Description),
			Type:        common.NewRelationType(axis, r.Verb, r.TargetCategory, r.Definition),
			Source:      src,
			Confidence:  min(max(r.Confidence, 0), 1),
		})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
