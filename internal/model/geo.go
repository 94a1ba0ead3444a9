package model

import (
	"fmt"
	"math"
)

const earthRadiusMeters = 6371e3

// LatLng is a WGS84 coordinate pair in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate is within WGS84 bounds.
func (p LatLng) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func (p LatLng) String() string {
	return fmt.Sprintf("%.5f,%.5f", p.Lat, p.Lng)
}

// DistanceMeters returns the great-circle distance between p and q.
func (p LatLng) DistanceMeters(q LatLng) float64 {
	phi1 := p.Lat * math.Pi / 180
	phi2 := q.Lat * math.Pi / 180
	dPhi := (q.Lat - p.Lat) * math.Pi / 180
	dLambda := (q.Lng - p.Lng) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// FormatDistance renders meters the way the roster shows them: whole meters
// up to one kilometer, kilometers with one decimal above.
func FormatDistance(meters float64) string {
	m := math.Round(meters)
	if m > 1000 {
		return fmt.Sprintf("%.1fkm", m/1000)
	}
	return fmt.Sprintf("%dm", int64(m))
}

// Path is an ordered sequence of points.
type Path []LatLng

// Clone returns an independent copy of the path. Nil stays nil.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// LengthMeters sums the great-circle length of every segment.
func (p Path) LengthMeters() float64 {
	var total float64
	for i := 1; i < len(p); i++ {
		total += p[i-1].DistanceMeters(p[i])
	}
	return total
}

// Equal reports whether both paths hold the same points in the same order.
func (p Path) Equal(q Path) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}
