package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/rcliao/fieldsync/internal/model"
)

// Roster is a client's local view of its peers, keyed by unit id and fed by
// the change feed. It never holds the local unit itself.
type Roster struct {
	self string

	mu    sync.RWMutex
	units map[string]model.UnitRecord
}

// NewRoster creates an empty roster for the unit self.
func NewRoster(self string) *Roster {
	return &Roster{self: self, units: make(map[string]model.UnitRecord)}
}

// Apply merges r into the view. Notifications about self are ignored, as
// are notifications older than what the roster already holds. Returns
// whether the view changed.
func (ro *Roster) Apply(r model.UnitRecord) bool {
	if r.UnitID == "" || r.UnitID == ro.self {
		return false
	}
	ro.mu.Lock()
	defer ro.mu.Unlock()

	if cur, ok := ro.units[r.UnitID]; ok {
		if r.LastUpdated.Before(cur.LastUpdated) {
			return false
		}
		if r.LastUpdated.Equal(cur.LastUpdated) && r.Rev <= cur.Rev {
			return false
		}
	}
	ro.units[r.UnitID] = r
	return true
}

// Get returns the last known record for unitID.
func (ro *Roster) Get(unitID string) (model.UnitRecord, bool) {
	ro.mu.RLock()
	defer ro.mu.RUnlock()
	r, ok := ro.units[unitID]
	return r, ok
}

// Snapshot returns every known peer record ordered by unit id.
func (ro *Roster) Snapshot() []model.UnitRecord {
	ro.mu.RLock()
	out := make([]model.UnitRecord, 0, len(ro.units))
	for _, r := range ro.units {
		out = append(out, r)
	}
	ro.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out
}

// Online returns the peers online at now under window.
func (ro *Roster) Online(now time.Time, window time.Duration) []model.UnitRecord {
	return Online(ro.Snapshot(), ro.self, now, window)
}

// Len returns the number of known peers, online or not.
func (ro *Roster) Len() int {
	ro.mu.RLock()
	defer ro.mu.RUnlock()
	return len(ro.units)
}
