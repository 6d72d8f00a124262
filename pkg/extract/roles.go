package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/agentkg/pkg/ai"
	"github.com/OFFIS-RIT/agentkg/pkg/common"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"
	"github.com/OFFIS-RIT/agentkg/pkg/ontology"
)

type filledEntity struct {
	Role       string  `json:"role" jsonschema:"enum=agent,enum=theme,enum=trigger,enum=purpose,enum=reason,enum=instrument,enum=beneficiary,enum=context,enum=origin,enum=destination,enum=time,enum=location"`
	Label      string  `json:"label" jsonschema_description:"Domain-specific class of the entity, never a generic role name"`
	Name       string  `json:"name" jsonschema_description:"Instance name exactly as written in the source"`
	Definition string  `json:"definition" jsonschema_description:"Self-contained definition of the entity"`
	Confidence float64 `json:"confidence" jsonschema_description:"Confidence between 0.0 and 1.0"`
}

type candidateEntityType struct {
	Label      string `json:"label"`
	Definition string `json:"definition"`
}

type fillRolesResponse struct {
	Entities             []filledEntity        `json:"entities" jsonschema_description:"Entities assigned to semantic roles"`
	CandidateEntityTypes []candidateEntityType `json:"candidate_entity_types" jsonschema_description:"Entity classes used above that are not in the known entity types"`
}

// FillRoles assigns entities to the role slots of raw.
//
// It returns nil instead of an error when the model output never satisfies
// the schema or when any entity carries a blocklisted label: a failed role
// fill drops one relation, never the batch. Only context cancellation is
// returned as an error.
func (e *Extractor) FillRoles(ctx context.Context, raw common.RawRelation, docText string, schema *ontology.Schema, gc *common.GraphContext) (*common.FilledRelation, error) {
	system := fmt.Sprintf(
		ai.FillRolesSystemPrompt,
		e.cfg.DomainName,
		e.cfg.DomainContext,
		roleDescriptions(e.cfg),
		entityTypesSection(schema),
		contextSection(gc),
		blocklistShown(e.cfg),
	)
	typeLabel := raw.Type.Label()
	if typeLabel == "" {
		typeLabel = raw.Type.Verb
	}
	prompt := fmt.Sprintf(
		ai.FillRolesPrompt,
		typeLabel,
		raw.Type.Definition,
		raw.Description,
		quotesList(raw.Source.Quotes),
		docText,
	)

	var entities []common.Entity
	res, err := ai.Extract(ctx, e.client, ai.StructuredRequest{
		Name:         "fill_roles",
		Description:  "Assign entities to the semantic roles of a relation.",
		SystemPrompt: system,
		Prompt:       prompt,
		Retries:      e.cfg.LLMRetries,
		Options:      []ai.GenerateOption{ai.WithModel(e.cfg.ExtractionModel)},
	}, func(out *fillRolesResponse) error {
		converted, err := toEntities(out.Entities)
		if err != nil {
			return err
		}
		entities = converted
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.Warn("[Roles] Role filling failed, dropping relation", "document_id", raw.Source.DocumentID, "relation", typeLabel, "err", err)
		return nil, nil
	}

	for _, ent := range entities {
		if err := ent.CheckNotGeneric(e.cfg.GenericEntityBlocklist); err != nil {
			logger.Warn("[Roles] Generic entity label, dropping relation", "document_id", raw.Source.DocumentID, "relation", typeLabel, "err", err)
			return nil, nil
		}
	}

	filled := &common.FilledRelation{Raw: raw, Entities: entities}
	for _, c := range res.CandidateEntityTypes {
		if strings.TrimSpace(c.Label) == "" {
			continue
		}
		filled.CandidateEntityTypes = append(filled.CandidateEntityTypes, common.NewEntityType(c.Label, c.Definition))
	}

	logger.Debug("[Roles] Roles filled", "relation", typeLabel, "entities", len(entities))
	return filled, nil
}

func toEntities(in []filledEntity) ([]common.Entity, error) {
	out := make([]common.Entity, 0, len(in))
	var errs []error
	for i, fe := range in {
		role, err := common.ParseRole(fe.Role)
		if err != nil {
			errs = append(errs, fmt.Errorf("entity %d: %w", i+1, err))
			continue
		}
		if strings.TrimSpace(fe.Label) == "" || strings.TrimSpace(fe.Name) == "" {
			errs = append(errs, fmt.Errorf("entity %d: label and name are required", i+1))
			continue
		}
		out = append(out, common.NewEntity(role, fe.Label, fe.Name, fe.Definition, fe.Confidence))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
