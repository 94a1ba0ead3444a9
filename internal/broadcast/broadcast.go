// Package broadcast keeps one unit's telemetry row current and folds the
// peers' rows into a local roster.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rcliao/fieldsync/internal/clock"
	"github.com/rcliao/fieldsync/internal/feed"
	"github.com/rcliao/fieldsync/internal/mission"
	"github.com/rcliao/fieldsync/internal/model"
	"github.com/rcliao/fieldsync/internal/position"
	"github.com/rcliao/fieldsync/internal/presence"
	"github.com/rcliao/fieldsync/internal/store"
)

// ErrNoPosition means no fix has ever been obtained, so there is nothing to
// broadcast yet.
var ErrNoPosition = errors.New("no position known")

// DefaultInterval is the push period.
const DefaultInterval = 3 * time.Second

// Status is the connectivity indicator shown to the operator. A failed
// push, feed poll or position read flips it to degraded; failures never stop
// the loops.
type Status struct {
	UnitID    string        `json:"unit_id"`
	Online    bool          `json:"online"`
	LastPush  time.Time     `json:"last_push,omitempty"`
	Position  *model.LatLng `json:"position,omitempty"`
	PushError string        `json:"push_error,omitempty"`
	FeedError string        `json:"feed_error,omitempty"`
	FixError  string        `json:"fix_error,omitempty"`
	Peers     int           `json:"peers"`
}

// Options configures a Broadcaster.
type Options struct {
	UnitID   string
	UnitType string
	Store    store.UnitStore
	Tracker  *position.Tracker
	// Feed is required for Watch only.
	Feed     *feed.Poller
	Interval time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Broadcaster owns the local unit's record. It is the mission controller's
// Publisher: a commit or abort is pushed immediately instead of waiting for
// the next tick.
type Broadcaster struct {
	unitID   string
	store    store.UnitStore
	tracker  *position.Tracker
	feed     *feed.Poller
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
	roster   *presence.Roster

	mu          sync.Mutex
	unitType    string
	typeUpdated time.Time
	mission     *model.Mission
	lastPush    time.Time
	pushErr     error
}

var _ mission.Publisher = (*Broadcaster)(nil)

// New creates a broadcaster for opts.UnitID.
func New(opts Options) (*Broadcaster, error) {
	if opts.UnitID == "" {
		return nil, errors.New("broadcast: unit id is required")
	}
	if opts.Store == nil {
		return nil, errors.New("broadcast: store is required")
	}
	b := &Broadcaster{
		unitID:   opts.UnitID,
		store:    opts.Store,
		tracker:  opts.Tracker,
		feed:     opts.Feed,
		interval: opts.Interval,
		clock:    opts.Clock,
		logger:   opts.Logger,
		roster:   presence.NewRoster(opts.UnitID),
		unitType: opts.UnitType,
	}
	if b.interval <= 0 {
		b.interval = DefaultInterval
	}
	if b.clock == nil {
		b.clock = clock.Real()
	}
	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}
	if b.unitType == "" {
		b.unitType = model.DefaultUnitType
	}
	return b, nil
}

// Restore adopts the stored record for this unit, if any, and returns its
// mission so the controller can resume it.
func (b *Broadcaster) Restore(ctx context.Context) (*model.Mission, error) {
	r, err := b.store.GetUnit(ctx, b.unitID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", b.unitID, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unitType = r.UnitType
	b.typeUpdated = r.TypeUpdated
	b.mission = r.Mission()
	if r.LastUpdated.After(b.lastPush) {
		b.lastPush = r.LastUpdated
	}
	return b.mission, nil
}

// Push reads the position and upserts the full record. When the read fails
// the last known position is pushed instead; with no position at all the
// push is skipped with ErrNoPosition.
func (b *Broadcaster) Push(ctx context.Context) error {
	pos, err := b.currentPosition(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	now := b.clock.Now().UTC()
	if !now.After(b.lastPush) {
		now = b.lastPush.Add(time.Nanosecond)
	}
	rec := model.UnitRecord{
		UnitID:      b.unitID,
		Position:    *pos,
		UnitType:    b.unitType,
		TypeUpdated: b.typeUpdated,
		LastUpdated: now,
	}.WithMission(b.mission)
	b.mu.Unlock()

	_, err = b.store.UpsertUnit(ctx, rec)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.pushErr = err
		return fmt.Errorf("push %s: %w", b.unitID, err)
	}
	b.pushErr = nil
	b.lastPush = now
	return nil
}

func (b *Broadcaster) currentPosition(ctx context.Context) (*model.LatLng, error) {
	if b.tracker == nil {
		return nil, ErrNoPosition
	}
	if _, err := b.tracker.Refresh(ctx); err != nil {
		b.logger.Debug("position read failed, using last known", "unit_id", b.unitID, "error", err)
	}
	pos := b.tracker.LastPosition()
	if pos == nil {
		return nil, ErrNoPosition
	}
	return pos, nil
}

// PublishMission records m (nil clears) and pushes right away.
func (b *Broadcaster) PublishMission(ctx context.Context, m *model.Mission) error {
	b.mu.Lock()
	if m == nil {
		b.mission = nil
	} else {
		b.mission = &model.Mission{Target: m.Target, RoutePath: m.RoutePath.Clone()}
	}
	b.mu.Unlock()
	return b.Push(ctx)
}

// SetUnitType changes the owner's unit type and pushes it.
func (b *Broadcaster) SetUnitType(ctx context.Context, unitType string) error {
	if !model.ValidUnitTypes[unitType] {
		return fmt.Errorf("invalid unit type %q", unitType)
	}
	b.mu.Lock()
	b.unitType = unitType
	b.typeUpdated = b.clock.Now().UTC()
	b.mu.Unlock()
	return b.Push(ctx)
}

// Run pushes every interval until ctx is done. Failures are logged and
// retried on the next tick.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := b.clock.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		if err := b.Push(ctx); err != nil && ctx.Err() == nil {
			if errors.Is(err, ErrNoPosition) {
				b.logger.Debug("push skipped", "unit_id", b.unitID, "reason", err)
			} else {
				b.logger.Warn("push failed, will retry", "unit_id", b.unitID, "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Watch folds the unit feed into the roster until ctx is done. Rows for
// this unit are not added to the roster, but a newer unit type written by
// an admin is adopted so the next push carries it.
func (b *Broadcaster) Watch(ctx context.Context) error {
	if b.feed == nil {
		return errors.New("watch: no feed configured")
	}
	for r := range b.feed.Units(ctx, 0) {
		if r.UnitID == b.unitID {
			b.adoptType(r)
			continue
		}
		if b.roster.Apply(r) {
			b.logger.Debug("peer updated", "unit_id", r.UnitID, "rev", r.Rev)
		}
	}
	return ctx.Err()
}

func (b *Broadcaster) adoptType(r model.UnitRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.TypeUpdated.After(b.typeUpdated) {
		b.logger.Info("unit type overridden", "unit_id", b.unitID, "from", b.unitType, "to", r.UnitType)
		b.unitType = r.UnitType
		b.typeUpdated = r.TypeUpdated
	}
}

// Roster returns the peers view fed by Watch.
func (b *Broadcaster) Roster() *presence.Roster { return b.roster }

// UnitID returns the local unit id.
func (b *Broadcaster) UnitID() string { return b.unitID }

// UnitType returns the unit type the next push will carry.
func (b *Broadcaster) UnitType() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unitType
}

// Position returns the last known position, or nil.
func (b *Broadcaster) Position() *model.LatLng {
	if b.tracker == nil {
		return nil
	}
	return b.tracker.LastPosition()
}

// Status reports the indicator state.
func (b *Broadcaster) Status() Status {
	b.mu.Lock()
	st := Status{
		UnitID:   b.unitID,
		LastPush: b.lastPush,
		Peers:    b.roster.Len(),
	}
	if b.pushErr != nil {
		st.PushError = b.pushErr.Error()
	}
	b.mu.Unlock()

	if b.feed != nil {
		if err := b.feed.Err(); err != nil {
			st.FeedError = err.Error()
		}
	}
	if b.tracker != nil {
		if err := b.tracker.Err(); err != nil {
			st.FixError = err.Error()
		}
	}
	st.Position = b.Position()
	st.Online = st.PushError == "" && st.FeedError == "" && st.FixError == "" && !st.LastPush.IsZero()
	return st
}
