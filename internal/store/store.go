// Package store provides the telemetry and message storage interfaces and
// their SQLite implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/fieldsync/internal/model"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = errors.New("not found")

// SetUnitTypeParams holds parameters for an out-of-band unit type change.
type SetUnitTypeParams struct {
	UnitID   string
	UnitType string
	At       time.Time
}

// ListUnitsParams holds parameters for listing unit records.
type ListUnitsParams struct {
	// UpdatedAfter drops records whose last_updated is not after it.
	UpdatedAfter time.Time
	Limit        int
}

// InsertMessageParams holds parameters for appending a message.
type InsertMessageParams struct {
	UnitID    string
	Content   string
	Color     string
	CreatedAt time.Time
}

// UnitStore is the telemetry surface: one row per unit, last writer wins.
type UnitStore interface {
	// UpsertUnit writes the full record. The write only applies when
	// r.LastUpdated is newer than the stored row; applied reports whether it did.
	UpsertUnit(ctx context.Context, r model.UnitRecord) (applied bool, err error)

	// GetUnit returns one record or ErrNotFound.
	GetUnit(ctx context.Context, unitID string) (*model.UnitRecord, error)

	// ListUnits returns records ordered by unit id.
	ListUnits(ctx context.Context, p ListUnitsParams) ([]model.UnitRecord, error)

	// SetUnitType overrides the unit type of an existing record.
	SetUnitType(ctx context.Context, p SetUnitTypeParams) (*model.UnitRecord, error)

	// UnitsChangedSince returns records written after revision rev, oldest first.
	UnitsChangedSince(ctx context.Context, rev int64, limit int) ([]model.UnitRecord, error)

	// LatestUnitRev returns the newest revision, 0 for an empty table.
	LatestUnitRev(ctx context.Context) (int64, error)
}

// MessageStore is the append-only chat log surface.
type MessageStore interface {
	// InsertMessage appends a message and returns it with id and seq assigned.
	InsertMessage(ctx context.Context, p InsertMessageParams) (*model.Message, error)

	// RecentMessages returns up to limit newest messages in ascending order.
	RecentMessages(ctx context.Context, limit int) ([]model.Message, error)

	// MessagesAfter returns messages with seq greater than seq, oldest first.
	MessagesAfter(ctx context.Context, seq int64, limit int) ([]model.Message, error)

	// LatestMessageSeq returns the newest seq, 0 for an empty log.
	LatestMessageSeq(ctx context.Context) (int64, error)

	// DeleteMessagesBefore removes messages created before cutoff.
	DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteAllMessages removes every message.
	DeleteAllMessages(ctx context.Context) (int64, error)
}

// Store combines both surfaces.
type Store interface {
	UnitStore
	MessageStore

	// Close closes the store.
	Close() error
}
