package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/fentz26/gapq/internal/logging"
	"github.com/fentz26/gapq/internal/models"
)

// extractFunc pulls references out of one record's fields.
type extractFunc func(g *Graph, e *Entity, fields map[string]any)

// extractionRules is the fixed per-kind reference extraction table.
var extractionRules = map[models.EntityKind]extractFunc{
	models.KindProcess:      extractProcess,
	models.KindSeed:         extractProcess,
	models.KindRecipe:       extractRecipe,
	models.KindMaterial:     extractItem,
	models.KindPart:         extractItem,
	models.KindMachine:      extractMachine,
	models.KindResourceType: extractResourceType,
	models.KindBOM:          extractBOM,
}

// Build constructs the reference graph for one indexing pass.
//
// It runs three passes: define an entity per record and extract its outgoing
// references, synthesize referenced_only placeholders for dangling ids, and
// invert every edge into RefsIn.
func Build(ctx context.Context, records []models.Record) *Graph {
	logger := logging.FromContext(ctx)
	g := newGraph()

	// The last record for an id wins; only winners contribute references.
	winner := make(map[string]int, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			logger.Warn("Record without id skipped.", "location", rec.Location)
			continue
		}
		if prev, exists := winner[rec.ID]; exists {
			logger.Warn("Duplicate entity definition found, it will be overwritten.",
				"id", rec.ID, "previous", records[prev].Location, "location", rec.Location)
		}
		winner[rec.ID] = i
	}

	for i, rec := range records {
		if rec.ID == "" || winner[rec.ID] != i {
			continue
		}
		e := newEntity(rec.ID, rec.Kind, StatusDefined)
		e.SourceLocation = rec.Location
		e.Fields = rec.Fields
		e.Name = stringField(rec.Fields, "name")
		e.Tags = stringList(rec.Fields["tags"])
		e.Aliases = stringList(rec.Fields["aliases"])
		if extract, ok := extractionRules[rec.Kind]; ok {
			extract(g, e, rec.Fields)
		}
		g.Entities[rec.ID] = e
	}
	logger.Debug("Build: Entity definition complete.", "entity_count", len(g.Entities))

	placeholders := 0
	for _, id := range g.IDs() {
		for _, target := range g.Entities[id].RefsOut.Sorted() {
			if _, ok := g.Entities[target]; ok {
				continue
			}
			g.Entities[target] = newEntity(target, g.placeholderKind(target), StatusReferencedOnly)
			placeholders++
		}
	}
	logger.Debug("Build: Placeholder synthesis complete.", "placeholder_count", placeholders)

	for _, e := range g.Entities {
		e.RefsIn = IDSet{}
	}
	for id, e := range g.Entities {
		for target := range e.RefsOut {
			g.Entities[target].RefsIn.Add(id)
		}
	}
	logger.Debug("Build: Inbound references computed.")
	return g
}

func extractProcess(g *Graph, e *Entity, fields map[string]any) {
	for _, field := range []string{"inputs", "outputs", "byproducts"} {
		for _, v := range listField(fields, field) {
			g.addRef(e, idOf(v, "item_id"), "")
		}
	}
	for _, v := range listField(fields, "requires_ids") {
		id := idOf(v, "id")
		if id == "" {
			continue
		}
		g.addRef(e, id, "")
		if m, ok := v.(map[string]any); ok {
			meta := make(map[string]any, len(m))
			for k, val := range m {
				if k != "id" {
					meta[k] = val
				}
			}
			if len(meta) > 0 {
				if g.RequirementMeta[id] == nil {
					g.RequirementMeta[id] = make(map[string]any)
				}
				mergeMeta(g.RequirementMeta[id], meta)
			}
		}
	}
	for _, text := range stringList(fields["requires_text"]) {
		text = strings.TrimSpace(text)
		if text != "" {
			e.Unresolved = append(e.Unresolved, text)
		}
	}
	for _, v := range listField(fields, "resource_requirements") {
		g.addRef(e, idOf(v, "resource_type"), models.KindResourceType)
	}
	for _, field := range []string{"machine_requirements", "machines"} {
		for _, v := range listField(fields, field) {
			g.addRef(e, idOf(v, "machine_id"), models.KindMachine)
		}
	}
}

func extractRecipe(g *Graph, e *Entity, fields map[string]any) {
	g.addRef(e, stringField(fields, "target_item_id"), "")
	for i, step := range listField(fields, "steps") {
		switch s := step.(type) {
		case map[string]any:
			pid := stringField(s, "process_id")
			if pid == "" {
				e.StepProblems = append(e.StepProblems, models.StepProblem{Index: i, Problem: "missing process_id"})
				continue
			}
			g.addRef(e, pid, models.KindProcess)
		case string:
			e.StepProblems = append(e.StepProblems, models.StepProblem{Index: i, Problem: "legacy string step"})
		default:
			e.StepProblems = append(e.StepProblems, models.StepProblem{Index: i, Problem: fmt.Sprintf("unsupported step shape %T", step)})
		}
	}
}

func extractItem(g *Graph, e *Entity, fields map[string]any) {
	g.addRef(e, stringField(fields, "bom"), models.KindBOM)
}

func extractMachine(g *Graph, e *Entity, fields map[string]any) {
	extractItem(g, e, fields)
	for _, v := range listField(fields, "capabilities") {
		g.addRef(e, idOf(v, "resource_type"), models.KindResourceType)
	}
}

// extractResourceType has no outgoing references. Aliases are kept as
// unresolved text; they never name another entity.
func extractResourceType(_ *Graph, e *Entity, fields map[string]any) {
	for _, alias := range stringList(fields["aliases"]) {
		alias = strings.TrimSpace(alias)
		if alias != "" {
			e.UnresolvedAliases = append(e.UnresolvedAliases, alias)
		}
	}
}

func extractBOM(g *Graph, e *Entity, fields map[string]any) {
	g.addRef(e, stringField(fields, "owner_item_id"), "")
	for _, v := range listField(fields, "components") {
		g.addRef(e, idOf(v, "item_id"), "")
	}
}

// mergeMeta folds src into dst: nested maps merge recursively, lists are
// unioned in first-seen order, and for scalars the first value wins.
func mergeMeta(dst, src map[string]any) {
	for k, v := range src {
		existing, ok := dst[k]
		if !ok {
			dst[k] = cloneValue(v)
			continue
		}
		switch ev := existing.(type) {
		case map[string]any:
			if sv, ok := v.(map[string]any); ok {
				mergeMeta(ev, sv)
			}
		case []any:
			if sv, ok := v.([]any); ok {
				dst[k] = unionList(ev, sv)
			}
		}
	}
}

// cloneValue deep-copies maps and lists so merged metadata never aliases the
// record it came from.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	}
	return v
}

func unionList(a, b []any) []any {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]any, 0, len(a)+len(b))
	for _, v := range append(append([]any{}, a...), b...) {
		key := fmt.Sprintf("%v", v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, cloneValue(v))
	}
	return out
}

func listField(fields map[string]any, name string) []any {
	if fields == nil {
		return nil
	}
	switch v := fields[name].(type) {
	case []any:
		return v
	case nil:
		return nil
	default:
		return []any{v}
	}
}

func stringField(fields map[string]any, name string) string {
	if fields == nil {
		return ""
	}
	s, _ := fields[name].(string)
	return strings.TrimSpace(s)
}

// idOf accepts either a bare id string or a map carrying the id under key.
func idOf(v any, key string) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		if s := stringField(t, key); s != "" {
			return s
		}
		return stringField(t, "id")
	}
	return ""
}

func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	}
	return nil
}
