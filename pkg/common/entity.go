package common

import (
	"fmt"
	"slices"
	"strings"
)

// Role is the semantic slot an entity fills in a relation.
type Role string

const (
	RoleAgent       Role = "agent"
	RoleTheme       Role = "theme"
	RoleTrigger     Role = "trigger"
	RolePurpose     Role = "purpose"
	RoleReason      Role = "reason"
	RoleInstrument  Role = "instrument"
	RoleBeneficiary Role = "beneficiary"
	RoleContext     Role = "context"
	RoleOrigin      Role = "origin"
	RoleDestination Role = "destination"
	RoleTime        Role = "time"
	RoleLocation    Role = "location"
)

// AllRoles lists every role in canonical order. Iteration over role slots
// always follows this order so derived output is deterministic.
var AllRoles = []Role{
	RoleAgent, RoleTheme,
	RoleTrigger, RolePurpose, RoleReason, RoleInstrument, RoleBeneficiary,
	RoleContext,
	RoleOrigin, RoleDestination,
	RoleTime, RoleLocation,
}

// RoleGroup is the family a role belongs to when roles are presented to a model.
type RoleGroup string

const (
	GroupAgents             RoleGroup = "agents"
	GroupThemes             RoleGroup = "themes"
	GroupCircumstances      RoleGroup = "circumstances"
	GroupContext            RoleGroup = "context"
	GroupOriginDestinations RoleGroup = "origin_destinations"
	GroupTimeLocations      RoleGroup = "time_locations"
)

// Group returns the family of r.
func (r Role) Group() RoleGroup {
	switch r {
	case RoleAgent:
		return GroupAgents
	case RoleTheme:
		return GroupThemes
	case RoleTrigger, RolePurpose, RoleReason, RoleInstrument, RoleBeneficiary:
		return GroupCircumstances
	case RoleContext:
		return GroupContext
	case RoleOrigin, RoleDestination:
		return GroupOriginDestinations
	}
	return GroupTimeLocations
}

// EdgeType is the relationship type used for the Relation -> Entity edge.
func (r Role) EdgeType() string {
	return strings.ToUpper(string(r))
}

// ParseRole validates s against the closed set of roles.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(AllRoles, r) {
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// EntityType is a class-level descriptor. Labels are title-cased.
type EntityType struct {
	Label      string `json:"label"`
	Definition string `json:"definition"`
}

// NewEntityType normalises the label.
func NewEntityType(label, definition string) EntityType {
	return EntityType{Label: Title(strings.TrimSpace(label)), Definition: strings.TrimSpace(definition)}
}

// EmbedText is the text embedded for clustering entity types.
func (t EntityType) EmbedText() string {
	return fmt.Sprintf("Entity type: %s. Definition: %s", t.Label, t.Definition)
}

// Entity is one role-tagged participant as extracted from a document.
//
// Label is the class, Name the instance. SurfaceForm keeps the name as it was
// first extracted and is never touched by entity resolution, which rewrites
// Label, Name and Definition and accumulates Aliases.
type Entity struct {
	Label       string            `json:"label"`
	Name        string            `json:"name"`
	Definition  string            `json:"definition"`
	Confidence  float64           `json:"confidence"`
	Role        Role              `json:"role"`
	SurfaceForm string            `json:"surface_form,omitempty"`
	Aliases     []string          `json:"aliases,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewEntity title-cases label and name and clamps confidence to [0,1].
func NewEntity(role Role, label, name, definition string, confidence float64) Entity {
	name = Title(strings.TrimSpace(name))
	return Entity{
		Label:       Title(strings.TrimSpace(label)),
		Name:        name,
		Definition:  strings.TrimSpace(definition),
		Confidence:  min(max(confidence, 0), 1),
		Role:        role,
		SurfaceForm: name,
	}
}

// EmbedText is the text embedded when clustering entity classes.
func (e Entity) EmbedText() string {
	return fmt.Sprintf("Entity class: %s. Definition: %s", e.Label, e.Definition)
}

// MentionText is the text embedded when resolving entity instances.
func (e Entity) MentionText() string {
	return fmt.Sprintf("%s | %s | %s", e.Name, e.Label, e.Definition)
}

// Type returns the class descriptor of e.
func (e Entity) Type() EntityType {
	return EntityType{Label: e.Label, Definition: e.Definition}
}

// CheckNotGeneric fails when the label appears in the blocklist, ignoring case.
func (e Entity) CheckNotGeneric(blocklist []string) error {
	for _, b := range blocklist {
		if strings.EqualFold(strings.TrimSpace(b), e.Label) {
			shown := blocklist[:min(len(blocklist), 10)]
			return fmt.Errorf("%w: %q (forbidden: %s)", ErrGenericLabel, e.Label, strings.Join(shown, ", "))
		}
	}
	return nil
}

// AddAlias records alias once. Aliases equal to the current name are ignored.
func (e *Entity) AddAlias(alias string) {
	if alias == "" || alias == e.Name || slices.Contains(e.Aliases, alias) {
		return
	}
	e.Aliases = append(e.Aliases, alias)
}

// EntityRef is a handle to one row of an EntityTable.
type EntityRef int

// EntityTable is the arena that owns every entity of a batch. Relations hold
// EntityRefs into it, so rewriting a row during entity resolution is seen by
// every relation that references it.
//
// A table is owned by one goroutine at a time.
type EntityTable struct {
	rows []Entity
}

func NewEntityTable() *EntityTable {
	return &EntityTable{}
}

// Add appends e and returns its handle. An empty SurfaceForm is set to the name.
func (t *EntityTable) Add(e Entity) EntityRef {
	if e.SurfaceForm == "" {
		e.SurfaceForm = e.Name
	}
	t.rows = append(t.rows, e)
	return EntityRef(len(t.rows) - 1)
}

// Get returns a copy of the row.
func (t *EntityTable) Get(ref EntityRef) Entity {
	return t.rows[ref]
}

// Update applies fn to the row in place.
func (t *EntityTable) Update(ref EntityRef, fn func(e *Entity)) {
	fn(&t.rows[ref])
}

func (t *EntityTable) Len() int {
	return len(t.rows)
}

// Refs lists every handle in insertion order.
func (t *EntityTable) Refs() []EntityRef {
	refs := make([]EntityRef, len(t.rows))
	for i := range refs {
		refs[i] = EntityRef(i)
	}
	return refs
}
