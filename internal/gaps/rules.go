package gaps

import (
	"strings"

	"github.com/fentz26/gapq/internal/graph"
	"github.com/fentz26/gapq/internal/models"
)

// unresolvedRefRule reports free-text requirements, one gap per distinct text.
type unresolvedRefRule struct{}

func (unresolvedRefRule) Name() models.GapType { return models.GapUnresolvedRef }

func (unresolvedRefRule) Detect(g *graph.Graph) []models.GapItem {
	referrers := make(map[string][]string)
	owner := make(map[string]*graph.Entity)
	for _, id := range g.IDs() {
		e := g.Entities[id]
		for _, text := range e.Unresolved {
			referrers[text] = append(referrers[text], id)
			if owner[text] == nil {
				owner[text] = e
			}
		}
	}

	var out []models.GapItem
	for text, ids := range referrers {
		out = append(out, models.GapItem{
			ID:      models.GapID(models.GapUnresolvedRef, text),
			Kind:    owner[text].Kind,
			GapType: models.GapUnresolvedRef,
			ItemID:  text,
			Context: &models.UnresolvedRefContext{Text: text, ReferencedBy: sortedUnique(ids)},
		})
	}
	return out
}

// referencedOnlyRule reports ids that are referenced but never defined.
type referencedOnlyRule struct{}

func (referencedOnlyRule) Name() models.GapType { return models.GapReferencedOnly }

func (referencedOnlyRule) Detect(g *graph.Graph) []models.GapItem {
	var out []models.GapItem
	for _, id := range g.IDs() {
		e := g.Entities[id]
		if e.Status != graph.StatusReferencedOnly {
			continue
		}
		var files []string
		for _, dep := range g.Dependents(id) {
			files = append(files, dep.SourceLocation)
		}
		ctx := &models.ReferencedOnlyContext{
			ReferencedBy: e.RefsIn.Sorted(),
			SourceFiles:  sortedUnique(files),
		}
		if meta := g.RequirementMeta[id]; len(meta) > 0 {
			ctx.Metadata = meta
		}
		out = append(out, models.GapItem{
			ID:      models.GapID(models.GapReferencedOnly, id),
			Kind:    e.Kind,
			GapType: models.GapReferencedOnly,
			ItemID:  id,
			Context: ctx,
		})
	}
	return out
}

// importStubRule reports recipes that need a real production route: no steps
// at all, or an explicit import variant.
type importStubRule struct{}

func (importStubRule) Name() models.GapType { return models.GapImportStub }

func (importStubRule) Detect(g *graph.Graph) []models.GapItem {
	var out []models.GapItem
	for _, e := range definedOfKind(g, models.KindRecipe) {
		variant := ""
		switch {
		case strings.EqualFold(stringField(e.Fields, "variant"), "import"):
			variant = "import"
		case isEmpty(e.Fields["steps"]):
			variant = "empty_steps"
		default:
			continue
		}
		out = append(out, models.GapItem{
			ID:      models.GapID(models.GapImportStub, e.ID),
			Kind:    e.Kind,
			GapType: models.GapImportStub,
			ItemID:  e.ID,
			Context: &models.ImportStubContext{
				SourceFile:   e.SourceLocation,
				TargetItemID: stringField(e.Fields, "target_item_id"),
				Variant:      variant,
			},
		})
	}
	return out
}

// noRecipeRule reports defined items that no recipe targets.
type noRecipeRule struct{}

func (noRecipeRule) Name() models.GapType { return models.GapNoRecipe }

func (noRecipeRule) Detect(g *graph.Graph) []models.GapItem {
	targeted := graph.IDSet{}
	for _, r := range definedOfKind(g, models.KindRecipe) {
		if target := stringField(r.Fields, "target_item_id"); target != "" {
			targeted.Add(target)
		}
	}

	var out []models.GapItem
	for _, id := range g.IDs() {
		e := g.Entities[id]
		if e.Status != graph.StatusDefined || !e.Kind.IsItem() || targeted.Has(id) {
			continue
		}
		out = append(out, models.GapItem{
			ID:      models.GapID(models.GapNoRecipe, id),
			Kind:    e.Kind,
			GapType: models.GapNoRecipe,
			ItemID:  id,
			Context: &models.NoRecipeContext{SourceFile: e.SourceLocation},
		})
	}
	return out
}

// missingFieldRule reports required fields that are absent or empty.
type missingFieldRule struct {
	fields map[models.EntityKind][]string
}

func (missingFieldRule) Name() models.GapType { return models.GapMissingField }

func (r missingFieldRule) Detect(g *graph.Graph) []models.GapItem {
	var out []models.GapItem
	for _, id := range g.IDs() {
		e := g.Entities[id]
		if e.Status != graph.StatusDefined {
			continue
		}
		for _, field := range r.fields[e.Kind] {
			if !isEmpty(e.Fields[field]) {
				continue
			}
			out = append(out, models.GapItem{
				ID:      models.GapID(models.GapMissingField, id, field),
				Kind:    e.Kind,
				GapType: models.GapMissingField,
				ItemID:  id,
				Context: &models.MissingFieldContext{Field: field, SourceFile: e.SourceLocation},
			})
		}
	}
	return out
}

// noProviderMachineRule reports resource types that no machine lists in its
// capabilities.
type noProviderMachineRule struct{}

func (noProviderMachineRule) Name() models.GapType { return models.GapNoProviderMachine }

func (noProviderMachineRule) Detect(g *graph.Graph) []models.GapItem {
	provided := graph.IDSet{}
	for _, m := range definedOfKind(g, models.KindMachine) {
		for target := range m.RefsOut {
			if t, ok := g.Get(target); ok && t.Kind == models.KindResourceType {
				provided.Add(target)
			}
		}
	}

	var out []models.GapItem
	for _, e := range g.OfKind(models.KindResourceType) {
		if provided.Has(e.ID) {
			continue
		}
		needed := []string{}
		for _, dep := range g.Dependents(e.ID) {
			if dep.Kind == models.KindProcess || dep.Kind == models.KindSeed {
				needed = append(needed, dep.ID)
			}
		}
		out = append(out, models.GapItem{
			ID:      models.GapID(models.GapNoProviderMachine, e.ID),
			Kind:    e.Kind,
			GapType: models.GapNoProviderMachine,
			ItemID:  e.ID,
			Context: &models.NoProviderMachineContext{NeededBy: needed},
		})
	}
	return out
}

// invalidRecipeSchemaRule reports recipes carrying legacy or malformed steps.
type invalidRecipeSchemaRule struct{}

func (invalidRecipeSchemaRule) Name() models.GapType { return models.GapInvalidRecipeSchema }

func (invalidRecipeSchemaRule) Detect(g *graph.Graph) []models.GapItem {
	var out []models.GapItem
	for _, e := range definedOfKind(g, models.KindRecipe) {
		if len(e.StepProblems) == 0 {
			continue
		}
		out = append(out, models.GapItem{
			ID:      models.GapID(models.GapInvalidRecipeSchema, e.ID),
			Kind:    e.Kind,
			GapType: models.GapInvalidRecipeSchema,
			ItemID:  e.ID,
			Context: &models.InvalidRecipeSchemaContext{
				SourceFile: e.SourceLocation,
				Steps:      append([]models.StepProblem(nil), e.StepProblems...),
			},
		})
	}
	return out
}

func definedOfKind(g *graph.Graph, kind models.EntityKind) []*graph.Entity {
	var out []*graph.Entity
	for _, e := range g.OfKind(kind) {
		if e.Status == graph.StatusDefined {
			out = append(out, e)
		}
	}
	return out
}

func stringField(fields map[string]any, name string) string {
	s, _ := fields[name].(string)
	return strings.TrimSpace(s)
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
