package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fentz26/gapq/internal/logging"
	"github.com/fentz26/gapq/internal/models"
)

// FilterRules matches gaps by category, owning kind or id prefix. An empty
// rule set matches nothing.
type FilterRules struct {
	GapTypes   []string `yaml:"gap_types,omitempty"`
	Kinds      []string `yaml:"kinds,omitempty"`
	IDPrefixes []string `yaml:"id_prefixes,omitempty"`
}

func (r FilterRules) empty() bool {
	return len(r.GapTypes) == 0 && len(r.Kinds) == 0 && len(r.IDPrefixes) == 0
}

func (r FilterRules) matches(item models.GapItem) bool {
	for _, t := range r.GapTypes {
		if t == string(item.GapType) {
			return true
		}
	}
	for _, k := range r.Kinds {
		if k == string(item.Kind) {
			return true
		}
	}
	for _, p := range r.IDPrefixes {
		if strings.HasPrefix(item.ID, p) {
			return true
		}
	}
	return false
}

// Filter is the include/exclude policy applied to freshly detected gaps.
type Filter struct {
	Include FilterRules `yaml:"include"`
	Exclude FilterRules `yaml:"exclude"`
}

// Allows reports whether item passes the policy. A nil filter allows
// everything; an empty include block includes everything.
func (f *Filter) Allows(item models.GapItem) bool {
	if f == nil {
		return true
	}
	if !f.Include.empty() && !f.Include.matches(item) {
		return false
	}
	return !f.Exclude.matches(item)
}

// FilterStats are the only numbers reported about filtering.
type FilterStats struct {
	Detected int `json:"detected"`
	Filtered int `json:"filtered"`
	Queued   int `json:"queued"`
}

// Apply returns the items the filter allows, keeping their order.
func (f *Filter) Apply(items []models.GapItem) ([]models.GapItem, FilterStats) {
	kept := make([]models.GapItem, 0, len(items))
	for _, item := range items {
		if f.Allows(item) {
			kept = append(kept, item)
		}
	}
	return kept, FilterStats{
		Detected: len(items),
		Filtered: len(items) - len(kept),
		Queued:   len(kept),
	}
}

// ParseFilter decodes a filter policy from YAML.
func ParseFilter(data []byte) (*Filter, error) {
	var f Filter
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing filter: %w", err)
	}
	return &f, nil
}

// LoadFilter reads the filter policy at path. An empty path, a missing file or
// a file that fails to parse all disable filtering (nil filter); parse and
// read failures are logged as warnings.
func LoadFilter(ctx context.Context, path string) *Filter {
	if path == "" {
		return nil
	}
	logger := logging.FromContext(ctx)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Filter config unreadable, filtering disabled.", "path", path, "error", err)
		}
		return nil
	}
	f, err := ParseFilter(data)
	if err != nil {
		logger.Warn("Filter config invalid, filtering disabled.", "path", path, "error", err)
		return nil
	}
	return f
}
