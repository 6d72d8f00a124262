package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/agentkg/pkg/common"

	"github.com/pelletier/go-toml/v2"
)

type ClusteringMethod string

const (
	ClusteringAgglomerative ClusteringMethod = "agglomerative"
	ClusteringHDBSCAN       ClusteringMethod = "hdbscan"
)

type Language string

const (
	LanguageEN Language = "en"
	LanguageFR Language = "fr"
)

// SeedType is one anchor type of the seed ontology.
type SeedType struct {
	Label      string   `toml:"label" json:"label"`
	Definition string   `toml:"definition" json:"definition"`
	Examples   []string `toml:"examples" json:"examples,omitempty"`
}

// SeedOntology grounds emergent types. Discovered types closer than
// AlignmentThreshold to a seed are treated as that seed.
type SeedOntology struct {
	EntityTypes        []SeedType `toml:"entity_types" json:"entity_types"`
	RelationTypes      []SeedType `toml:"relation_types" json:"relation_types"`
	AlignmentThreshold float64    `toml:"alignment_threshold" json:"alignment_threshold"`
}

// RoleConfig describes one semantic role to the role-filling model.
type RoleConfig struct {
	Question        string   `toml:"question" json:"question"`
	Description     string   `toml:"description" json:"description"`
	ExamplesInclude []string `toml:"examples_include" json:"examples_include,omitempty"`
	ExamplesExclude []string `toml:"examples_exclude" json:"examples_exclude,omitempty"`
}

// DomainConfig holds every domain-specific setting of a pipeline.
type DomainConfig struct {
	DomainName    string        `toml:"domain_name"`
	Language      Language      `toml:"language"`
	DomainContext string        `toml:"domain_context"`
	SeedOntology  *SeedOntology `toml:"seed_ontology"`

	// Roles is merged field by field over the defaults by Load.
	Roles map[common.Role]RoleConfig `toml:"-"`

	GenericEntityBlocklist []string `toml:"generic_entity_blocklist"`

	ClusteringMethod ClusteringMethod `toml:"clustering_method"`
	ClusteringParams map[string]any   `toml:"clustering_params"`

	EmbeddingModel  string `toml:"embedding_model"`
	ExtractionModel string `toml:"extraction_model"`
	ReasoningModel  string `toml:"reasoning_model"`
	ValidationModel string `toml:"validation_model"`

	ValidationRules []string `toml:"validation_rules"`

	OntologyStalenessThreshold int `toml:"ontology_staleness_threshold"`

	EntityResolutionEnabled             bool    `toml:"entity_resolution_enabled"`
	EntityResolutionSimilarityThreshold float64 `toml:"entity_resolution_similarity_threshold"`
	EntityResolutionLLMArbitration      bool    `toml:"entity_resolution_llm_arbitration"`

	QCEnabled bool `toml:"qc_enabled"`

	CandidateAutoMergeThreshold float64 `toml:"candidate_auto_merge_threshold"`
	DriftThreshold              float64 `toml:"drift_threshold"`
	DriftMinRelations           int     `toml:"drift_min_relations"`

	ChunkMaxTokens     int `toml:"chunk_max_tokens"`
	ChunkOverlapTokens int `toml:"chunk_overlap_tokens"`

	MaxConcurrency int `toml:"max_concurrency"`
	LLMRetries     int `toml:"llm_retries"`
}

// DefaultValidationRules names every symbolic rule, in evaluation order.
var DefaultValidationRules = []string{
	"has_agent_and_theme",
	"no_generic_entity_labels",
	"source_non_empty",
	"low_confidence",
	"duplicate_entity_in_relation",
	"quote_not_verbatim",
}

// DefaultBlocklist are labels too generic to describe an entity class.
var DefaultBlocklist = []string{
	"agent", "theme", "trigger", "purpose", "reason",
	"instrument", "beneficiary", "context", "origin",
	"destination", "co_agent", "location", "time",
	"person", "organisation", "place", "object",
	"concept", "event", "document", "information",
	"data", "file",
}

// DefaultRoles returns the twelve Frame-Semantics roles.
func DefaultRoles() map[common.Role]RoleConfig {
	return map[common.Role]RoleConfig{
		common.RoleAgent: {
			Question:    "Who initiates, controls, or perceives the action?",
			Description: "Subject of the relation: the responsible actor (human, organisation, system).",
		},
		common.RoleTheme: {
			Question:    "What is involved, affected, or modified?",
			Description: "Object of the relation: the entity being acted upon.",
		},
		common.RoleTrigger: {
			Question:    "What triggers the action without intention?",
			Description: "Event, signal, or condition that activates the relation.",
		},
		common.RolePurpose: {
			Question:    "For what objective does the action take place?",
			Description: "Intention pursued or strategic goal.",
		},
		common.RoleReason: {
			Question:    "What cause or justification explains the action?",
			Description: "Motive, explanation, norm, or constraint.",
		},
		common.RoleInstrument: {
			Question:    "What means is used?",
			Description: "Tool, software, material, or procedure.",
		},
		common.RoleBeneficiary: {
			Question:    "Who benefits from the action?",
			Description: "Client, user, or entity that profits.",
		},
		common.RoleContext: {
			Question:    "In what framework does the action take place?",
			Description: "Legal, contractual, organisational, or economic environment.",
		},
		common.RoleOrigin: {
			Question:    "Where does it come from?",
			Description: "Source or provenance of an action or movement.",
		},
		common.RoleDestination: {
			Question:    "Where or to whom does it go?",
			Description: "Arrival point, target of dispatch.",
		},
		common.RoleTime: {
			Question:    "When does the action take place?",
			Description: "Date, time, interval.",
		},
		common.RoleLocation: {
			Question:    "Where does the action take place?",
			Description: "Physical or logical execution location.",
		},
	}
}

// Default returns a configuration with every default applied.
func Default() *DomainConfig {
	return &DomainConfig{
		DomainName:                          "General",
		Language:                            LanguageEN,
		Roles:                               DefaultRoles(),
		GenericEntityBlocklist:              slices.Clone(DefaultBlocklist),
		ClusteringMethod:                    ClusteringAgglomerative,
		ClusteringParams:                    map[string]any{},
		EmbeddingModel:                      "text-embedding-3-small",
		ExtractionModel:                     "gpt-4o",
		ReasoningModel:                      "o3",
		ValidationModel:                     "gpt-4o-mini",
		ValidationRules:                     slices.Clone(DefaultValidationRules),
		OntologyStalenessThreshold:          50,
		EntityResolutionEnabled:             true,
		EntityResolutionSimilarityThreshold: 0.15,
		EntityResolutionLLMArbitration:      true,
		QCEnabled:                           true,
		CandidateAutoMergeThreshold:         0.90,
		DriftThreshold:                      0.25,
		DriftMinRelations:                   10,
		ChunkMaxTokens:                      1024,
		ChunkOverlapTokens:                  128,
		MaxConcurrency:                      8,
		LLMRetries:                          3,
	}
}

// rolesFile is the shape of the [roles] table. Keys are role names.
type rolesFile struct {
	Roles map[string]RoleConfig `toml:"roles"`
}

// Load reads a TOML domain file. Missing keys keep their defaults; a role
// table only overrides the fields it sets.
func Load(path string) (*DomainConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a TOML document on top of Default and validates the result.
func Parse(data []byte) (*DomainConfig, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	var rf rolesFile
	if err := toml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse TOML roles: %w", err)
	}
	var errs []error
	for name, override := range rf.Roles {
		role, err := common.ParseRole(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("roles: %w", err))
			continue
		}
		cfg.Roles[role] = mergeRole(cfg.Roles[role], override)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if cfg.SeedOntology != nil && cfg.SeedOntology.AlignmentThreshold == 0 {
		cfg.SeedOntology.AlignmentThreshold = 0.80
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeRole(base, override RoleConfig) RoleConfig {
	if override.Question != "" {
		base.Question = override.Question
	}
	if override.Description != "" {
		base.Description = override.Description
	}
	if override.ExamplesInclude != nil {
		base.ExamplesInclude = override.ExamplesInclude
	}
	if override.ExamplesExclude != nil {
		base.ExamplesExclude = override.ExamplesExclude
	}
	return base
}

// Validate reports every invalid field at once.
func (c *DomainConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DomainName) == "" {
		errs = append(errs, errors.New("domain_name is required"))
	}
	if c.Language != LanguageEN && c.Language != LanguageFR {
		errs = append(errs, fmt.Errorf("language must be one of en, fr: got %q", c.Language))
	}
	if c.ClusteringMethod != ClusteringAgglomerative && c.ClusteringMethod != ClusteringHDBSCAN {
		errs = append(errs, fmt.Errorf("clustering_method must be one of agglomerative, hdbscan: got %q", c.ClusteringMethod))
	}
	for _, r := range c.ValidationRules {
		if !slices.Contains(DefaultValidationRules, r) {
			errs = append(errs, fmt.Errorf("validation_rules: unknown rule %q", r))
		}
	}
	if c.OntologyStalenessThreshold < 1 {
		errs = append(errs, errors.New("ontology_staleness_threshold must be at least 1"))
	}
	for name, v := range map[string]float64{
		"entity_resolution_similarity_threshold": c.EntityResolutionSimilarityThreshold,
		"candidate_auto_merge_threshold":         c.CandidateAutoMergeThreshold,
		"drift_threshold":                        c.DriftThreshold,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1]: got %g", name, v))
		}
	}
	if c.SeedOntology != nil {
		if t := c.SeedOntology.AlignmentThreshold; t < 0 || t > 1 {
			errs = append(errs, fmt.Errorf("seed_ontology.alignment_threshold must be within [0,1]: got %g", t))
		}
	}
	if c.DriftMinRelations < 0 {
		errs = append(errs, errors.New("drift_min_relations must not be negative"))
	}
	if c.ChunkMaxTokens < 1 {
		errs = append(errs, errors.New("chunk_max_tokens must be at least 1"))
	}
	if c.ChunkOverlapTokens < 0 || c.ChunkOverlapTokens >= c.ChunkMaxTokens {
		errs = append(errs, errors.New("chunk_overlap_tokens must be within [0, chunk_max_tokens)"))
	}
	if c.MaxConcurrency < 1 {
		errs = append(errs, errors.New("max_concurrency must be at least 1"))
	}
	if c.LLMRetries < 0 {
		errs = append(errs, errors.New("llm_retries must not be negative"))
	}
	for _, role := range common.AllRoles {
		if _, ok := c.Roles[role]; !ok {
			errs = append(errs, fmt.Errorf("roles: missing definition for %q", role))
		}
	}
	return errors.Join(errs...)
}

// RuleEnabled reports whether the named validation rule is switched on.
func (c *DomainConfig) RuleEnabled(name string) bool {
	return slices.Contains(c.ValidationRules, name)
}

// Param returns clustering_params[name] as a number, or def when it is not
// set or not numeric.
func (c *DomainConfig) Param(name string, def float64) float64 {
	switch v := c.ClusteringParams[name].(type) {
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case float64:
		return v
	}
	return def
}

// RoleEntry is one role with its configuration.
type RoleEntry struct {
	Role common.Role
	RoleConfig
}

// OrderedRoles lists the configured roles in canonical order.
func (c *DomainConfig) OrderedRoles() []RoleEntry {
	out := make([]RoleEntry, 0, len(c.Roles))
	for _, r := range common.AllRoles {
		if rc, ok := c.Roles[r]; ok {
			out = append(out, RoleEntry{Role: r, RoleConfig: rc})
		}
	}
	return out
}
