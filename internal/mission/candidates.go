package mission

import (
	"fmt"
	"time"

	"github.com/rcliao/fieldsync/internal/model"
	"github.com/rcliao/fieldsync/internal/routing"
)

// Labels for the first candidates in provider order. Later ones get a
// numbered generic label.
var rankLabels = []string{"PRIMARY", "ALTERNATE", "RESERVE"}

// DirectLabel marks the straight-line fallback candidate.
const DirectLabel = "DIRECT"

// Candidate is one selectable route. Candidates are transient and are never
// persisted; committing one copies its Path into the Mission.
type Candidate struct {
	Label          string        `json:"label"`
	Path           model.Path    `json:"path"`
	DistanceMeters float64       `json:"distance_m"`
	Duration       time.Duration `json:"duration"`
	// Fallback is set on the low-confidence straight-line candidate used
	// when the routing service has nothing to offer.
	Fallback bool `json:"fallback,omitempty"`
}

// Label returns the label for the candidate at index i.
func Label(i int) string {
	if i >= 0 && i < len(rankLabels) {
		return rankLabels[i]
	}
	return fmt.Sprintf("ROUTE %d", i+1)
}

// buildCandidates converts provider routes, dropping any with fewer than two
// points. Labels follow the order of the surviving routes.
func buildCandidates(routes []routing.Route) []Candidate {
	var out []Candidate
	for _, r := range routes {
		if len(r.Path) < 2 {
			continue
		}
		distance := r.DistanceMeters
		if distance <= 0 {
			distance = r.Path.LengthMeters()
		}
		out = append(out, Candidate{
			Label:          Label(len(out)),
			Path:           r.Path.Clone(),
			DistanceMeters: distance,
			Duration:       r.Duration,
		})
	}
	return out
}

func straightLine(origin, dest model.LatLng) Candidate {
	path := model.Path{origin, dest}
	return Candidate{
		Label:          DirectLabel,
		Path:           path,
		DistanceMeters: path.LengthMeters(),
		Fallback:       true,
	}
}

func cloneCandidates(in []Candidate) []Candidate {
	if in == nil {
		return nil
	}
	out := make([]Candidate, len(in))
	for i, c := range in {
		c.Path = c.Path.Clone()
		out[i] = c
	}
	return out
}
