package store

import (
	"context"
	"time"

	"github.com/rcliao/fieldsync/internal/model"
)

// Snapshot is a point-in-time dump of both tables.
type Snapshot struct {
	ExportedAt time.Time          `json:"exported_at"`
	Units      []model.UnitRecord `json:"units"`
	Messages   []model.Message    `json:"messages"`
}

// ExportAll returns every unit record and every message still in the log.
func (s *SQLiteStore) ExportAll(ctx context.Context) (*Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+unitColumns+` FROM locations ORDER BY unit_id`)
	if err != nil {
		return nil, err
	}
	units, err := collectUnits(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	messages, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		ExportedAt: time.Now().UTC(),
		Units:      units,
		Messages:   messages,
	}, nil
}

// Import replays unit records from a snapshot through UpsertUnit, so records
// older than what is already stored are skipped. Messages are not imported:
// the log only grows through Send. Returns the number of applied records.
func (s *SQLiteStore) Import(ctx context.Context, snap *Snapshot) (int, error) {
	imported := 0
	for _, u := range snap.Units {
		applied, err := s.UpsertUnit(ctx, u)
		if err != nil {
			return imported, err
		}
		if applied {
			imported++
		}
	}
	return imported, nil
}
