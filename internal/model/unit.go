// Package model defines the core unit, mission and message data types.
package model

import "time"

// Unit types.
const (
	UnitInfantry = "infantry"
	UnitDriver   = "driver"
	UnitSoldier  = "soldier"
)

// DefaultUnitType is assigned to units that never chose a type.
const DefaultUnitType = UnitInfantry

// ValidUnitTypes are the allowed unit classifications.
var ValidUnitTypes = map[string]bool{
	UnitInfantry: true,
	UnitDriver:   true,
	UnitSoldier:  true,
}

// UnitRecord is the telemetry row for one unit. Position, Target, RoutePath and
// LastUpdated are only ever written by the owning client.
type UnitRecord struct {
	UnitID      string    `json:"unit_id"`
	Position    LatLng    `json:"position"`
	UnitType    string    `json:"unit_type"`
	Target      *LatLng   `json:"target,omitempty"`
	RoutePath   Path      `json:"route_path,omitempty"`
	LastUpdated time.Time `json:"last_updated"`

	// TypeUpdated orders unit_type writes independently of position pushes,
	// so an admin override is not undone by the owner's next tick.
	TypeUpdated time.Time `json:"type_updated"`

	// Rev is assigned by the store on every accepted write and drives the
	// change feed cursor. Zero on records that were never stored.
	Rev int64 `json:"rev,omitempty"`
}

// HasMission reports whether the unit currently broadcasts a mission.
func (r UnitRecord) HasMission() bool {
	return r.Target != nil
}

// Mission returns the committed mission carried by the record, or nil.
func (r UnitRecord) Mission() *Mission {
	if r.Target == nil {
		return nil
	}
	return &Mission{Target: *r.Target, RoutePath: r.RoutePath.Clone()}
}

// WithMission returns a copy of r carrying m. A nil m clears the mission.
func (r UnitRecord) WithMission(m *Mission) UnitRecord {
	if m == nil {
		r.Target = nil
		r.RoutePath = nil
		return r
	}
	t := m.Target
	r.Target = &t
	r.RoutePath = m.RoutePath.Clone()
	return r
}

// Mission is the durable part of a unit's navigation state: the destination
// and the committed route geometry.
type Mission struct {
	Target    LatLng `json:"target"`
	RoutePath Path   `json:"route_path"`
}
