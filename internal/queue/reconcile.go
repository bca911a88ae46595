package queue

import (
	"github.com/fentz26/gapq/internal/models"
)

// RetentionPolicy decides which prior entries survive a rebuild that did not
// re-detect them. Everything it does not name is dropped.
type RetentionPolicy struct {
	// GapTypes are categories whose dedicated detector is authoritative even
	// when the general pass does not re-emit them.
	GapTypes map[models.GapType]bool
	// KeepOperatorAdded retains categories no built-in rule emits.
	KeepOperatorAdded bool
	// KeepDone retains completed entries until gc prunes them.
	KeepDone bool
	// KeepLeased retains live leases so the holder can still complete or release.
	KeepLeased bool
}

// DefaultRetention is the built-in retention table.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{
		GapTypes: map[models.GapType]bool{
			models.GapUnresolvedRef: true,
			models.GapImportStub:    true,
		},
		KeepOperatorAdded: true,
		KeepDone:          true,
		KeepLeased:        true,
	}
}

// Retains reports whether an entry absent from the fresh set is kept.
func (p RetentionPolicy) Retains(item models.GapItem) bool {
	switch {
	case p.GapTypes[item.GapType]:
		return true
	case p.KeepOperatorAdded && !item.GapType.IsBuiltin():
		return true
	case p.KeepDone && item.Status == models.StatusDone:
		return true
	case p.KeepLeased && item.Status == models.StatusLeased:
		return true
	}
	return false
}

// ReconcileStats counts what a merge did to each entry.
type ReconcileStats struct {
	Demoted  int `json:"demoted"`
	Kept     int `json:"kept"`
	Revived  int `json:"revived"`
	Added    int `json:"added"`
	Retained int `json:"retained"`
	Dropped  int `json:"dropped"`
}

// Reconcile merges freshly detected gaps into the prior queue.
//
// Per id: an expired lease is demoted to pending first; an id in both keeps its
// prior lease/completion state and takes its descriptive fields from fresh,
// except that done is reset to pending; a new id is appended as pending; an id
// only in prior is dropped unless policy retains it. Prior order is preserved
// and new entries follow in fresh order, so the output is deterministic.
func Reconcile(prior, fresh []models.GapItem, policy RetentionPolicy, now int64) ([]models.GapItem, ReconcileStats) {
	var stats ReconcileStats

	freshByID := make(map[string]models.GapItem, len(fresh))
	freshOrder := make([]string, 0, len(fresh))
	for _, f := range fresh {
		if _, dup := freshByID[f.ID]; dup {
			continue
		}
		freshByID[f.ID] = f
		freshOrder = append(freshOrder, f.ID)
	}

	out := make([]models.GapItem, 0, len(prior)+len(fresh))
	seen := make(map[string]bool, len(prior))
	for _, p := range prior {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true

		if p.IsExpired(now) {
			p.ClearLease()
			stats.Demoted++
		}

		f, detected := freshByID[p.ID]
		if !detected {
			if policy.Retains(p) {
				out = append(out, p)
				stats.Retained++
			} else {
				stats.Dropped++
			}
			continue
		}

		p.Kind = f.Kind
		p.Reason = f.Reason
		p.GapType = f.GapType
		p.ItemID = f.ItemID
		p.Context = f.Context
		if p.Status == models.StatusDone {
			p.Status = models.StatusPending
			p.CompletedAt = 0
			stats.Revived++
		} else {
			stats.Kept++
		}
		out = append(out, p)
	}

	for _, id := range freshOrder {
		if seen[id] {
			continue
		}
		f := freshByID[id]
		f.ClearLease()
		f.CompletedAt = 0
		out = append(out, f)
		stats.Added++
	}
	return out, stats
}
