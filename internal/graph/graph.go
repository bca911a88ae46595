// Package graph turns loaded knowledge base records into a reference graph of
// entities.
package graph

import (
	"sort"

	"github.com/fentz26/gapq/internal/models"
)

// EntityStatus tells whether an entity has a defining record.
type EntityStatus string

const (
	StatusDefined        EntityStatus = "defined"
	StatusReferencedOnly EntityStatus = "referenced_only"
)

// IDSet is an unordered set of entity ids.
type IDSet map[string]struct{}

// Add inserts id into the set.
func (s IDSet) Add(id string) { s[id] = struct{}{} }

// Has reports whether id is in the set.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in ascending order.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Entity is a node in the reference graph.
type Entity struct {
	ID             string
	Kind           models.EntityKind
	Status         EntityStatus
	SourceLocation string
	RefsOut        IDSet
	// RefsIn is derived by inverting every RefsOut edge; never set it directly.
	RefsIn  IDSet
	Tags    []string
	Aliases []string
	Name    string

	// Fields holds the raw record fields of a defined entity.
	Fields map[string]any
	// Unresolved collects free-text requirements that still need a structured id.
	Unresolved []string
	// UnresolvedAliases holds resource_type alias text. Unlike Unresolved it
	// never becomes an unresolved_ref gap.
	UnresolvedAliases []string
	// StepProblems lists recipe steps with a legacy or malformed shape.
	StepProblems []models.StepProblem
}

func newEntity(id string, kind models.EntityKind, status EntityStatus) *Entity {
	return &Entity{
		ID:      id,
		Kind:    kind,
		Status:  status,
		RefsOut: IDSet{},
		RefsIn:  IDSet{},
	}
}

// Graph is the full set of entities from one indexing pass.
type Graph struct {
	Entities map[string]*Entity
	// RequirementMeta holds rich requirement metadata per referenced id,
	// merged across every record that declared it.
	RequirementMeta map[string]map[string]any

	hints map[string]map[models.EntityKind]struct{}
}

func newGraph() *Graph {
	return &Graph{
		Entities:        make(map[string]*Entity),
		RequirementMeta: make(map[string]map[string]any),
		hints:           make(map[string]map[models.EntityKind]struct{}),
	}
}

// Get returns the entity with the given id.
func (g *Graph) Get(id string) (*Entity, bool) {
	e, ok := g.Entities[id]
	return e, ok
}

// IDs returns every entity id in ascending order.
func (g *Graph) IDs() []string {
	ids := make([]string, 0, len(g.Entities))
	for id := range g.Entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OfKind returns the entities of one kind, sorted by id.
func (g *Graph) OfKind(kind models.EntityKind) []*Entity {
	var out []*Entity
	for _, id := range g.IDs() {
		if e := g.Entities[id]; e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Dependents returns the entities that reference id, sorted by id.
func (g *Graph) Dependents(id string) []*Entity {
	e, ok := g.Entities[id]
	if !ok {
		return nil
	}
	var out []*Entity
	for _, src := range e.RefsIn.Sorted() {
		if dep, ok := g.Entities[src]; ok {
			out = append(out, dep)
		}
	}
	return out
}

// addRef records an outgoing edge from e and remembers what kind the
// referencing rule expects the target to be.
func (g *Graph) addRef(e *Entity, target string, hint models.EntityKind) {
	if target == "" {
		return
	}
	e.RefsOut.Add(target)
	if hint == "" {
		return
	}
	if g.hints[target] == nil {
		g.hints[target] = make(map[models.EntityKind]struct{})
	}
	g.hints[target][hint] = struct{}{}
}

// placeholderKind picks the kind for a synthesized entity: the hinted kind when
// every referencing rule agrees, otherwise unknown.
func (g *Graph) placeholderKind(id string) models.EntityKind {
	hints := g.hints[id]
	if len(hints) != 1 {
		return models.KindUnknown
	}
	for k := range hints {
		return k
	}
	return models.KindUnknown
}
