package common

import (
	"errors"
	"reflect"
	"testing"
)

func newSigned(t *testing.T) (*RelationSet, *Relation) {
	t.Helper()
	set := NewRelationSet()
	rel := set.Attach(FilledRelation{
		Raw: RawRelation{
			Description: "Acme signs a contract with Lyon",
			Type:        NewRelationType(AxisDynamic, "sign", "Contract", "Formal agreement"),
			Source:      Source{DocumentID: "d1", Quotes: []string{"q"}},
			Confidence:  0.9,
		},
		Entities: []Entity{
			NewEntity(RoleAgent, "organization", "acme corp", "A company", 0.9),
			NewEntity(RoleTheme, "contract", "framework contract", "An agreement", 0.8),
			NewEntity(RoleLocation, "city", "lyon", "A city", 1.2),
		},
	})
	return set, rel
}

func TestRelationTypeLabel(t *testing.T) {
	a := NewRelationType(AxisDynamic, "négocier", "contrat cadre", "")
	b := NewRelationType(AxisDynamic, "NEGOCIER", "Contrat Cadre", "")
	if a.Verb != "NEGOCIER" {
		t.Fatalf("verb not normalised: %q", a.Verb)
	}
	if a.Label() != "NEGOCIER_CONTRAT_CADRE" || a.Label() != b.Label() {
		t.Fatalf("labels differ: %q vs %q", a.Label(), b.Label())
	}
}

func TestRelationDerivedFields(t *testing.T) {
	set, rel := newSigned(t)

	if got, want := rel.Labels(), []string{"SIGN", "SIGN_CONTRACT"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("labels = %v, want %v", got, want)
	}
	if got := rel.Generic(set.Entities); got != "Organization SIGN_CONTRACT Contract" {
		t.Fatalf("generic = %q", got)
	}
	if got := rel.Specific(set.Entities); got != "Organization (Acme Corp) SIGN_CONTRACT Contract (Framework Contract)" {
		t.Fatalf("specific = %q", got)
	}
	if got := rel.EmbedText(set.Entities); got != "Generic: Organization SIGN_CONTRACT Contract. Definition: Formal agreement" {
		t.Fatalf("embed text = %q", got)
	}

	// Derived values follow arena updates.
	set.Entities.Update(rel.Roles.Agents()[0], func(e *Entity) { e.Label = "Company" })
	if got := rel.Generic(set.Entities); got != "Company SIGN_CONTRACT Contract" {
		t.Fatalf("generic after update = %q", got)
	}
}

func TestRelationSetAttach(t *testing.T) {
	set, rel := newSigned(t)
	if set.Entities.Len() != 3 {
		t.Fatalf("expected 3 entities, got %d", set.Entities.Len())
	}
	parts := rel.Roles.All()
	wantRoles := []Role{RoleAgent, RoleTheme, RoleLocation}
	for i, p := range parts {
		if p.Role != wantRoles[i] {
			t.Fatalf("participant %d role = %s, want %s", i, p.Role, wantRoles[i])
		}
	}
	loc := set.Entities.Get(rel.Roles.Get(RoleLocation)[0])
	if loc.Confidence != 1 {
		t.Fatalf("confidence not clamped: %v", loc.Confidence)
	}
	if loc.SurfaceForm != "Lyon" {
		t.Fatalf("surface form = %q", loc.SurfaceForm)
	}
}

func TestGenericEmptyWithoutTheme(t *testing.T) {
	set := NewRelationSet()
	rel := set.Attach(FilledRelation{
		Raw:      RawRelation{Type: NewRelationType(AxisDynamic, "run", "Process", "")},
		Entities: []Entity{NewEntity(RoleAgent, "Person", "Bob", "", 1)},
	})
	if rel.Generic(set.Entities) != "" || rel.Specific(set.Entities) != "" {
		t.Fatal("expected empty derived strings without a theme")
	}
}

func TestCheckNotGeneric(t *testing.T) {
	e := NewEntity(RoleAgent, "person", "Bob", "", 1)
	if err := e.CheckNotGeneric([]string{"Agent", "PERSON"}); !errors.Is(err, ErrGenericLabel) {
		t.Fatalf("expected ErrGenericLabel, got %v", err)
	}
	if err := e.CheckNotGeneric([]string{"agent"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseRoleAndAxis(t *testing.T) {
	if r, err := ParseRole(" Agent "); err != nil || r != RoleAgent {
		t.Fatalf("ParseRole = %v, %v", r, err)
	}
	if _, err := ParseRole("co_agent"); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
	if a, err := ParseAxis("dynamic"); err != nil || a != AxisDynamic {
		t.Fatalf("ParseAxis = %v, %v", a, err)
	}
	if _, err := ParseAxis("temporal"); !errors.Is(err, ErrInvalidAxis) {
		t.Fatalf("expected ErrInvalidAxis, got %v", err)
	}
}

func TestAddAlias(t *testing.T) {
	e := NewEntity(RoleAgent, "Organization", "Acme", "", 1)
	e.AddAlias("Acme Corp")
	e.AddAlias("Acme Corp")
	e.AddAlias("Acme")
	if !reflect.DeepEqual(e.Aliases, []string{"Acme Corp"}) {
		t.Fatalf("aliases = %v", e.Aliases)
	}
}
