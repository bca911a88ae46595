package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// GapType is the enumerated category of a detected problem.
type GapType string

const (
	GapUnresolvedRef       GapType = "unresolved_ref"
	GapReferencedOnly      GapType = "referenced_only"
	GapImportStub          GapType = "import_stub"
	GapNoRecipe            GapType = "no_recipe"
	GapMissingField        GapType = "missing_field"
	GapNoProviderMachine   GapType = "no_provider_machine"
	GapInvalidRecipeSchema GapType = "invalid_recipe_schema"
)

// BuiltinGapTypes lists every category the detector can emit, in rule order.
func BuiltinGapTypes() []GapType {
	return []GapType{
		GapUnresolvedRef,
		GapReferencedOnly,
		GapImportStub,
		GapNoRecipe,
		GapMissingField,
		GapNoProviderMachine,
		GapInvalidRecipeSchema,
	}
}

// IsBuiltin reports whether the detector owns this category. Anything else was
// introduced by an operator through manual insertion.
func (t GapType) IsBuiltin() bool {
	for _, b := range BuiltinGapTypes() {
		if b == t {
			return true
		}
	}
	return false
}

// GapID builds the content-addressed id for a gap: the category followed by
// its key parts, colon separated.
func GapID(t GapType, key ...string) string {
	return string(t) + ":" + strings.Join(key, ":")
}

// GapContext is the typed auxiliary payload of a GapItem. The concrete type is
// determined by the item's gap type.
type GapContext interface {
	isGapContext()
}

// UnresolvedRefContext accompanies unresolved_ref gaps.
type UnresolvedRefContext struct {
	Text         string   `json:"text"`
	ReferencedBy []string `json:"referenced_by,omitempty"`
}

// ReferencedOnlyContext accompanies referenced_only gaps.
type ReferencedOnlyContext struct {
	ReferencedBy []string       `json:"referenced_by"`
	SourceFiles  []string       `json:"source_files,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ImportStubContext accompanies import_stub gaps.
type ImportStubContext struct {
	SourceFile   string `json:"source_file,omitempty"`
	TargetItemID string `json:"target_item_id,omitempty"`
	Variant      string `json:"variant"`
}

// NoRecipeContext accompanies no_recipe gaps.
type NoRecipeContext struct {
	SourceFile string `json:"source_file,omitempty"`
}

// MissingFieldContext accompanies missing_field gaps.
type MissingFieldContext struct {
	Field      string `json:"field"`
	SourceFile string `json:"source_file,omitempty"`
}

// NoProviderMachineContext accompanies no_provider_machine gaps.
type NoProviderMachineContext struct {
	NeededBy []string `json:"needed_by"`
}

// StepProblem describes one malformed recipe step.
type StepProblem struct {
	Index   int    `json:"index"`
	Problem string `json:"problem"`
}

// InvalidRecipeSchemaContext accompanies invalid_recipe_schema gaps.
type InvalidRecipeSchemaContext struct {
	SourceFile string        `json:"source_file,omitempty"`
	Steps      []StepProblem `json:"steps"`
}

// FreeformContext carries the payload of operator-defined gap types.
type FreeformContext map[string]any

func (*UnresolvedRefContext) isGapContext()       {}
func (*ReferencedOnlyContext) isGapContext()      {}
func (*ImportStubContext) isGapContext()          {}
func (*NoRecipeContext) isGapContext()            {}
func (*MissingFieldContext) isGapContext()        {}
func (*NoProviderMachineContext) isGapContext()   {}
func (*InvalidRecipeSchemaContext) isGapContext() {}
func (FreeformContext) isGapContext()             {}

// newContext returns an empty context value of the variant owned by t.
func newContext(t GapType) GapContext {
	switch t {
	case GapUnresolvedRef:
		return &UnresolvedRefContext{}
	case GapReferencedOnly:
		return &ReferencedOnlyContext{}
	case GapImportStub:
		return &ImportStubContext{}
	case GapNoRecipe:
		return &NoRecipeContext{}
	case GapMissingField:
		return &MissingFieldContext{}
	case GapNoProviderMachine:
		return &NoProviderMachineContext{}
	case GapInvalidRecipeSchema:
		return &InvalidRecipeSchemaContext{}
	default:
		return FreeformContext{}
	}
}

// DecodeContext parses raw JSON into the context variant owned by t.
func DecodeContext(t GapType, raw []byte) (GapContext, error) {
	ctx := newContext(t)
	if len(raw) == 0 || string(raw) == "null" {
		return ctx, nil
	}
	if ff, ok := ctx.(FreeformContext); ok {
		if err := json.Unmarshal(raw, &ff); err != nil {
			return nil, fmt.Errorf("decode %s context: %w", t, err)
		}
		return ff, nil
	}
	if err := json.Unmarshal(raw, ctx); err != nil {
		return nil, fmt.Errorf("decode %s context: %w", t, err)
	}
	return ctx, nil
}

// GapItem is a queue entry: one detected problem plus its lease/completion state.
type GapItem struct {
	ID             string
	Kind           EntityKind
	Reason         string
	GapType        GapType
	ItemID         string
	Context        GapContext
	Status         ItemStatus
	LeaseID        string
	LeaseExpiresAt int64
	CompletedAt    int64
}

type gapItemWire struct {
	ID             string          `json:"id"`
	Kind           EntityKind      `json:"kind"`
	Reason         string          `json:"reason"`
	GapType        GapType         `json:"gap_type"`
	ItemID         string          `json:"item_id"`
	Context        json.RawMessage `json:"context"`
	Status         ItemStatus      `json:"status,omitempty"`
	LeaseID        string          `json:"lease_id,omitempty"`
	LeaseExpiresAt int64           `json:"lease_expires_at,omitempty"`
	CompletedAt    int64           `json:"completed_at,omitempty"`
}

// MarshalJSON encodes the item in its one-line wire shape.
func (g GapItem) MarshalJSON() ([]byte, error) {
	ctx := g.Context
	if ctx == nil {
		ctx = newContext(g.GapType)
	}
	raw, err := json.Marshal(ctx)
	if err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}
	return json.Marshal(gapItemWire{
		ID:             g.ID,
		Kind:           g.Kind,
		Reason:         g.Reason,
		GapType:        g.GapType,
		ItemID:         g.ItemID,
		Context:        raw,
		Status:         g.Status,
		LeaseID:        g.LeaseID,
		LeaseExpiresAt: g.LeaseExpiresAt,
		CompletedAt:    g.CompletedAt,
	})
}

// UnmarshalJSON decodes the wire shape. A missing status reads as pending and a
// missing reason falls back to the gap type.
func (g *GapItem) UnmarshalJSON(data []byte) error {
	var w gapItemWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ctx, err := DecodeContext(w.GapType, w.Context)
	if err != nil {
		return err
	}
	*g = GapItem{
		ID:             w.ID,
		Kind:           w.Kind,
		Reason:         w.Reason,
		GapType:        w.GapType,
		ItemID:         w.ItemID,
		Context:        ctx,
		Status:         w.Status,
		LeaseID:        w.LeaseID,
		LeaseExpiresAt: w.LeaseExpiresAt,
		CompletedAt:    w.CompletedAt,
	}
	if g.Status == "" {
		g.Status = StatusPending
	}
	if g.Reason == "" {
		g.Reason = string(g.GapType)
	}
	return nil
}

// IsExpired reports whether the item holds a lease that lapsed before now.
func (g *GapItem) IsExpired(now int64) bool {
	return g.Status == StatusLeased && g.LeaseExpiresAt < now
}

// ClearLease resets the item to pending and drops lease fields.
func (g *GapItem) ClearLease() {
	g.Status = StatusPending
	g.LeaseID = ""
	g.LeaseExpiresAt = 0
}
