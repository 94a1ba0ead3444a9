package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/fieldsync/internal/model"
)

// SQLiteStore implements Store using SQLite. Several processes may share one
// database file; WAL mode and a busy timeout keep their writers apart.
type SQLiteStore struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=synchronous(normal)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// newID returns a ULID stamped with t. IDs minted by one store are strictly
// increasing even within the same millisecond.
func (s *SQLiteStore) newID(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS locations (
		unit_id      TEXT PRIMARY KEY,
		lat          REAL NOT NULL,
		lng          REAL NOT NULL,
		target_lat   REAL,
		target_lng   REAL,
		route_path   TEXT,
		unit_type    TEXT NOT NULL DEFAULT 'infantry',
		type_updated INTEGER NOT NULL DEFAULT 0,
		last_updated INTEGER NOT NULL,
		rev          INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_locations_rev ON locations(rev);
	CREATE INDEX IF NOT EXISTS idx_locations_last_updated ON locations(last_updated);

	CREATE TABLE IF NOT EXISTS messages (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		id         TEXT NOT NULL UNIQUE,
		unit_id    TEXT NOT NULL,
		content    TEXT NOT NULL,
		color      TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

const unitColumns = `unit_id, lat, lng, target_lat, target_lng, route_path,
	unit_type, type_updated, last_updated, rev`

func scanUnit(row scanner) (model.UnitRecord, error) {
	var r model.UnitRecord
	var targetLat, targetLng sql.NullFloat64
	var routePath sql.NullString
	var typeUpdated, lastUpdated int64

	err := row.Scan(
		&r.UnitID, &r.Position.Lat, &r.Position.Lng, &targetLat, &targetLng, &routePath,
		&r.UnitType, &typeUpdated, &lastUpdated, &r.Rev,
	)
	if err != nil {
		return r, err
	}

	r.LastUpdated = fromNanos(lastUpdated)
	r.TypeUpdated = fromNanos(typeUpdated)
	if targetLat.Valid && targetLng.Valid {
		r.Target = &model.LatLng{Lat: targetLat.Float64, Lng: targetLng.Float64}
	}
	if routePath.Valid {
		// A corrupt path is dropped rather than failing the whole read.
		if err := json.Unmarshal([]byte(routePath.String), &r.RoutePath); err != nil {
			r.RoutePath = nil
		}
	}
	return r, nil
}

const messageColumns = `seq, id, unit_id, content, color, created_at`

func scanMessage(row scanner) (model.Message, error) {
	var m model.Message
	var createdAt int64
	if err := row.Scan(&m.Seq, &m.ID, &m.UnitID, &m.Content, &m.Color, &createdAt); err != nil {
		return m, err
	}
	m.CreatedAt = fromNanos(createdAt)
	return m, nil
}

// Timestamps are stored as UTC unix nanoseconds so ordering comparisons in
// SQL are exact.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
