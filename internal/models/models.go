// Package models defines the core domain types for gapq.
package models

import "time"

// EntityKind is the category of a knowledge base entity.
type EntityKind string

const (
	KindProcess      EntityKind = "process"
	KindRecipe       EntityKind = "recipe"
	KindMaterial     EntityKind = "material"
	KindPart         EntityKind = "part"
	KindMachine      EntityKind = "machine"
	KindResourceType EntityKind = "resource_type"
	KindBOM          EntityKind = "bom"
	KindSeed         EntityKind = "seed"
	KindUnknown      EntityKind = "unknown"
)

var knownKinds = map[EntityKind]bool{
	KindProcess:      true,
	KindRecipe:       true,
	KindMaterial:     true,
	KindPart:         true,
	KindMachine:      true,
	KindResourceType: true,
	KindBOM:          true,
	KindSeed:         true,
}

// ParseKind returns the kind named by s, or false when s is not a known kind.
func ParseKind(s string) (EntityKind, bool) {
	k := EntityKind(s)
	return k, knownKinds[k]
}

// IsItem reports whether the kind is a buildable item (material, part, machine).
func (k EntityKind) IsItem() bool {
	return k == KindMaterial || k == KindPart || k == KindMachine
}

// Record is one parsed source record as handed over by the loader.
type Record struct {
	ID       string         `json:"id"`
	Kind     EntityKind     `json:"kind"`
	Fields   map[string]any `json:"fields"`
	Location string         `json:"location,omitempty"`
}

// ItemStatus represents the current state of a queue entry.
type ItemStatus string

const (
	StatusPending ItemStatus = "pending"
	StatusLeased  ItemStatus = "leased"
	StatusDone    ItemStatus = "done"
)

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Namespace  string    `json:"namespace"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	GapID      string    `json:"gap_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
