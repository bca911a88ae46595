// Package gaps detects problems in the reference graph and emits one GapItem
// per problem, each with a content-addressed id.
package gaps

import (
	"context"
	"sort"

	"github.com/fentz26/gapq/internal/graph"
	"github.com/fentz26/gapq/internal/logging"
	"github.com/fentz26/gapq/internal/models"
)

// Rule detects one category of gap.
type Rule interface {
	Name() models.GapType
	Detect(g *graph.Graph) []models.GapItem
}

// Detector runs a fixed table of rules over a graph.
type Detector struct {
	rules []Rule
}

// NewDetector constructs a detector without rules.
func NewDetector() *Detector {
	return &Detector{}
}

// NewDefaultDetector builds a detector with every built-in rule, in the order
// of models.BuiltinGapTypes.
func NewDefaultDetector() *Detector {
	d := NewDetector()
	d.Register(unresolvedRefRule{})
	d.Register(referencedOnlyRule{})
	d.Register(importStubRule{})
	d.Register(noRecipeRule{})
	d.Register(missingFieldRule{fields: RequiredFields()})
	d.Register(noProviderMachineRule{})
	d.Register(invalidRecipeSchemaRule{})
	return d
}

// Register appends a rule to the detector.
func (d *Detector) Register(rule Rule) {
	d.rules = append(d.rules, rule)
}

// Detect runs every rule and returns the gaps sorted by id. Items come back
// pending; the result depends only on g.
func (d *Detector) Detect(ctx context.Context, g *graph.Graph) []models.GapItem {
	logger := logging.FromContext(ctx)
	byID := make(map[string]models.GapItem)
	for _, rule := range d.rules {
		found := rule.Detect(g)
		for _, item := range found {
			if _, dup := byID[item.ID]; dup {
				logger.Warn("Gap detected twice, keeping the first.", "gap_id", item.ID, "rule", rule.Name())
				continue
			}
			item.Status = models.StatusPending
			if item.Reason == "" {
				item.Reason = string(item.GapType)
			}
			byID[item.ID] = item
		}
		logger.Debug("Detect: rule finished.", "rule", rule.Name(), "count", len(found))
	}

	out := make([]models.GapItem, 0, len(byID))
	for _, item := range byID {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RequiredFields is the fixed table of fields every entity of a kind must carry.
func RequiredFields() map[models.EntityKind][]string {
	return map[models.EntityKind][]string{
		models.KindProcess: {"energy_model", "time_model"},
		models.KindPart:    {"material_class"},
		models.KindMachine: {"capabilities", "bom"},
	}
}

func sortedUnique(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
