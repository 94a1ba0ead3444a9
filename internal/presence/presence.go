// Package presence derives which units are online from their telemetry
// timestamps. Everything here is a pure function of last_updated; there is
// no separate presence state to keep in sync.
package presence

import (
	"sort"
	"time"

	"github.com/rcliao/fieldsync/internal/model"
)

// Default windows. The short one drives the "active nearby" listing, the
// long one decides whether a unit is still worth drawing on the map.
const (
	ActiveWindow = 60 * time.Second
	MapWindow    = 120 * time.Second
)

// IsOnline reports whether r was updated less than window before now.
// A record with no timestamp is always offline.
func IsOnline(r model.UnitRecord, now time.Time, window time.Duration) bool {
	if r.LastUpdated.IsZero() {
		return false
	}
	return now.Sub(r.LastUpdated) < window
}

// Online returns the records online at now under window, excluding self,
// ordered by unit id.
func Online(records []model.UnitRecord, self string, now time.Time, window time.Duration) []model.UnitRecord {
	var out []model.UnitRecord
	for _, r := range records {
		if r.UnitID == self {
			continue
		}
		if IsOnline(r, now, window) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out
}

// Entry is one line of the roster as shown to an operator.
type Entry struct {
	UnitID     string       `json:"unit_id"`
	UnitType   string       `json:"unit_type"`
	Position   model.LatLng `json:"position"`
	Online     bool         `json:"online"`
	Age        string       `json:"age"`
	Distance   string       `json:"distance,omitempty"`
	DistanceM  float64      `json:"distance_m,omitempty"`
	HasMission bool         `json:"has_mission"`
}

// Listing builds roster entries for every record except self that is online
// under window. When origin is known, entries carry the distance to it and
// are sorted nearest first; otherwise they are sorted by unit id.
func Listing(records []model.UnitRecord, self string, origin *model.LatLng, now time.Time, window time.Duration) []Entry {
	online := Online(records, self, now, window)
	entries := make([]Entry, 0, len(online))
	for _, r := range online {
		e := Entry{
			UnitID:     r.UnitID,
			UnitType:   r.UnitType,
			Position:   r.Position,
			Online:     true,
			Age:        now.Sub(r.LastUpdated).Round(time.Second).String(),
			HasMission: r.HasMission(),
		}
		if origin != nil {
			e.DistanceM = origin.DistanceMeters(r.Position)
			e.Distance = model.FormatDistance(e.DistanceM)
		}
		entries = append(entries, e)
	}
	if origin != nil {
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].DistanceM < entries[j].DistanceM })
	}
	return entries
}
