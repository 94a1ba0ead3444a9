package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rcliao/fieldsync/internal/model"
)

// UpsertUnit writes the full unit record. The row is only replaced when the
// incoming last_updated is strictly newer, so replaying an identical or older
// push is a no-op. unit_type follows its own type_updated timestamp.
func (s *SQLiteStore) UpsertUnit(ctx context.Context, r model.UnitRecord) (bool, error) {
	if r.UnitID == "" {
		return false, fmt.Errorf("unit_id is required")
	}
	unitType := r.UnitType
	if unitType == "" {
		unitType = model.DefaultUnitType
	}

	var targetLat, targetLng *float64
	if r.Target != nil {
		targetLat = &r.Target.Lat
		targetLng = &r.Target.Lng
	}

	var routeJSON *string
	if r.RoutePath != nil {
		b, err := json.Marshal(r.RoutePath)
		if err != nil {
			return false, fmt.Errorf("encode route path: %w", err)
		}
		encoded := string(b)
		routeJSON = &encoded
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO locations (unit_id, lat, lng, target_lat, target_lng, route_path,
		                        unit_type, type_updated, last_updated, rev)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(rev), 0) + 1 FROM locations))
		 ON CONFLICT(unit_id) DO UPDATE SET
			lat = excluded.lat,
			lng = excluded.lng,
			target_lat = excluded.target_lat,
			target_lng = excluded.target_lng,
			route_path = excluded.route_path,
			unit_type = CASE WHEN excluded.type_updated > locations.type_updated
			                 THEN excluded.unit_type ELSE locations.unit_type END,
			type_updated = MAX(excluded.type_updated, locations.type_updated),
			last_updated = excluded.last_updated,
			rev = excluded.rev
		 WHERE excluded.last_updated > locations.last_updated`,
		r.UnitID, r.Position.Lat, r.Position.Lng, targetLat, targetLng, routeJSON,
		unitType, toNanos(r.TypeUpdated), toNanos(r.LastUpdated))
	if err != nil {
		return false, fmt.Errorf("upsert unit: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetUnit returns the record for unitID.
func (s *SQLiteStore) GetUnit(ctx context.Context, unitID string) (*model.UnitRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+unitColumns+` FROM locations WHERE unit_id = ?`, unitID)
	r, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("unit %s: %w", unitID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListUnits returns unit records ordered by unit id.
func (s *SQLiteStore) ListUnits(ctx context.Context, p ListUnitsParams) ([]model.UnitRecord, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 500
	}

	where := []string{"1 = 1"}
	var args []interface{}
	if !p.UpdatedAfter.IsZero() {
		where = append(where, "last_updated > ?")
		args = append(args, toNanos(p.UpdatedAfter))
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+unitColumns+` FROM locations
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY unit_id LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectUnits(rows)
}

// SetUnitType changes the unit type of an existing record without touching
// its position or mission. Older overrides than the stored one are ignored.
func (s *SQLiteStore) SetUnitType(ctx context.Context, p SetUnitTypeParams) (*model.UnitRecord, error) {
	if !model.ValidUnitTypes[p.UnitType] {
		return nil, fmt.Errorf("invalid unit type %q (valid: infantry, driver, soldier)", p.UnitType)
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE locations SET
			unit_type = ?,
			type_updated = ?,
			rev = (SELECT COALESCE(MAX(rev), 0) + 1 FROM locations)
		 WHERE unit_id = ? AND type_updated < ?`,
		p.UnitType, toNanos(p.At), p.UnitID, toNanos(p.At))
	if err != nil {
		return nil, fmt.Errorf("set unit type: %w", err)
	}

	return s.GetUnit(ctx, p.UnitID)
}

// UnitsChangedSince returns records whose revision is above rev.
func (s *SQLiteStore) UnitsChangedSince(ctx context.Context, rev int64, limit int) ([]model.UnitRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+unitColumns+` FROM locations WHERE rev > ? ORDER BY rev LIMIT ?`, rev, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectUnits(rows)
}

// LatestUnitRev returns the highest revision in the table.
func (s *SQLiteStore) LatestUnitRev(ctx context.Context) (int64, error) {
	var rev int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(rev), 0) FROM locations`).Scan(&rev)
	return rev, err
}

func collectUnits(rows *sql.Rows) ([]model.UnitRecord, error) {
	var units []model.UnitRecord
	for rows.Next() {
		r, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, r)
	}
	return units, rows.Err()
}
