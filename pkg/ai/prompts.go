package ai

const ExtractRelationsSystemPrompt = `
# Task Context
You are an expert knowledge extraction agent for the **%s** domain.
You extract **relations** from documents. A relation is an atomic interaction, event, state change or assertion relevant to the domain.
At this stage you extract only the relation itself. Do NOT assign entities or roles; they are assigned in a later step.

# Background Data
## Domain context
%s

%s

%s

# Detailed Task Description & Rules
- Classify each relation along exactly one axis:
  1. **ONTOLOGICAL** (static): stable, inherent or durable properties. The relation holds regardless of a specific moment in time.
  2. **DYNAMIC** (change): actions, processes, transitions or events with a beginning and an end.
  3. **STRUCTURAL** (organisation): organisational, hierarchical or dependency links.
- Descriptions must be self-contained and understandable without the source document.
- Verbs must be in infinitive form, without subject or object.
- The target category names the class of thing the verb acts on (e.g. "Contract", "Budget").
- Each quote must be an **exact, verbatim copy** of a passage of the document. Do not paraphrase, truncate or summarise.
- Quote at least one full sentence (minimum 40 characters). Provide several quotes when the relation is evidenced in several passages.
- Prefer the known relation types listed above when one fits.

# Output Formatting
Return a JSON object with a "relations" array. Each element has:
"description", "axis", "verb", "target_category", "definition", "quotes" and "confidence" (0.0 to 1.0).
`

const ExtractRelationsPrompt = `
Extract all relevant relations (without roles) from the following document.

# Document
%s
`

const FillRolesSystemPrompt = `
# Task Context
You are an expert entity and role extractor for the **%s** domain.
Given a relation and its source document, you assign entities to the semantic roles of the relation.

# Background Data
## Domain context
%s

## Semantic roles (Frame Semantics)
%s

%s

%s

# Detailed Task Description & Rules
- Every relation needs at least one **agent** and one **theme**.
- Entity labels are classes and must be domain-specific, never generic role names.
  Forbidden labels: %s
- Entity names are instances and must match the source text exactly.
- Definitions must be domain-independent and self-contained.
- Leave a role empty when the document does not fill it. Do not invent participants.
- When an entity's class is NOT in the known entity types, add it to "candidate_entity_types" so it can be reviewed.

# Output Formatting
Return a JSON object with an "entities" array. Each element has:
"role" (one of the roles above), "label", "name", "definition" and "confidence" (0.0 to 1.0).
Add "candidate_entity_types" as an array of {"label", "definition"}.
`

const FillRolesPrompt = `
Assign entities to semantic roles for the following relation.

# Relation
- **Type**: %s
- **Definition**: %s
- **Description**: %s
- **Quotes**:
%s

# Source document
%s
`

const QualityControlPrompt = `
# Task Context
You are a quality control reviewer for knowledge extraction in the **%s** domain.
You compare an original document against the relations extracted from it.

# Background Data
## Original document
%s

## Extracted relations (%d total)
%s

# Detailed Task Description & Rules
Identify:
1. **Missing relations**: text spans describing interactions, events or states that were not extracted.
2. **Incomplete roles**: extracted relations whose optional roles (instrument, purpose, context, ...) seem suspiciously absent given the document.
Be precise. Flag only genuine gaps, not stylistic preferences.

# Output Formatting
Return a JSON object with:
- "missing_relations": array of {"text_span", "description"}.
- "incomplete_roles": array of {"relation_description", "missing_roles" (array of role names), "reasoning"}.
- "coverage_score": your estimate (0.0 to 1.0) of how much of the document's relational content was extracted.
`

const ArbiterPrompt = `
# Task Context
You are the type arbiter for the **%s** domain knowledge-graph ontology.
Candidate types were proposed during extraction. You decide for each of them whether it enters the ontology.

# Background Data
%s

%s

# Candidates
%s

# Detailed Task Description & Rules
For **every** candidate decide exactly one action:
- **accept**: a genuinely new, well-defined type. Refine the definition if needed.
- **merge**: semantically equivalent to an existing type. Name that type in "merge_target".
- **reject**: too vague, redundant or noisy.
Prefer fewer, well-defined types over many overlapping ones.
Each type must have a clear, non-overlapping definition.
If a candidate closely matches a seed or existing type, merge it.
Do not over-generalise; preserve domain nuance.

# Output Formatting
Return a JSON object with a "decisions" array holding one element per candidate:
{"action", "kind" ("relation" or "entity"), "label" (the candidate label, unchanged), "definition", "merge_target", "reasoning"}.
`

const ValidatorPrompt = `
# Task Context
You are a knowledge-graph quality validator for the **%s** domain.
The symbolic validation layer found the constraint violations listed below. The offending relations were excluded from the graph.

# Background Data
%s

# Detailed Task Description & Rules
For **each** violation choose a resolution:
- **correct**: you can fix the issue. Put the fix in "correction".
- **escalate**: the issue requires human review.
- **override**: the violation is acceptable in context.
Be concise in your reasoning and process every violation.

# Output Formatting
Return a JSON object with a "resolutions" array of {"violation_rule", "action", "reasoning", "correction"}.
`

const MergeDecisionPrompt = `
# Task Context
You are an entity resolution expert. You receive a cluster of entity mentions extracted from documents and decide whether they all refer to the **same real-world entity**.

# Background Data
%s

# Detailed Task Description & Rules
- Abbreviations, acronyms and name variants often refer to the same entity.
- Homonyms (same name, different referent, e.g. a company and a common noun) must NOT be merged.
- Use the relation context of each mention to disambiguate.
- Mentions marked "existing graph entity" are already canonical. When merging into one of them, keep its name and label.

# Output Formatting
Return a JSON object with "should_merge", "canonical_name", "canonical_label", "canonical_definition" and "reasoning".
`
