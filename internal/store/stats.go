package store

import (
	"context"
	"os"
	"time"
)

// Stats holds database statistics.
type Stats struct {
	DBPath        string          `json:"db_path"`
	DBSizeBytes   int64           `json:"db_size_bytes"`
	TotalUnits    int             `json:"total_units"`
	ActiveUnits   int             `json:"active_units"`
	ActiveWindow  string          `json:"active_window"`
	MissionUnits  int             `json:"units_with_mission"`
	TotalMessages int             `json:"total_messages"`
	OldestMessage *time.Time      `json:"oldest_message,omitempty"`
	UnitTypes     []UnitTypeStats `json:"unit_types"`
}

// UnitTypeStats holds per-type counts.
type UnitTypeStats struct {
	UnitType string `json:"unit_type"`
	Count    int    `json:"count"`
}

// Stats returns database statistics. Units whose last update is within
// window of now count as active.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string, now time.Time, window time.Duration) (*Stats, error) {
	st := &Stats{DBPath: dbPath, ActiveWindow: window.String()}

	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM locations`).Scan(&st.TotalUnits)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM locations WHERE last_updated > ?`,
		toNanos(now.Add(-window))).Scan(&st.ActiveUnits)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM locations WHERE target_lat IS NOT NULL`).Scan(&st.MissionUnits)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&st.TotalMessages)

	var oldest int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MIN(created_at), 0) FROM messages`).Scan(&oldest); err == nil && oldest > 0 {
		t := fromNanos(oldest)
		st.OldestMessage = &t
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT unit_type, COUNT(*) AS cnt
		FROM locations GROUP BY unit_type ORDER BY cnt DESC, unit_type`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var ut UnitTypeStats
		rows.Scan(&ut.UnitType, &ut.Count)
		st.UnitTypes = append(st.UnitTypes, ut)
	}

	return st, nil
}
