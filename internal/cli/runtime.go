package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rcliao/fieldsync/internal/broadcast"
	"github.com/rcliao/fieldsync/internal/chat"
	"github.com/rcliao/fieldsync/internal/config"
	"github.com/rcliao/fieldsync/internal/feed"
	"github.com/rcliao/fieldsync/internal/mission"
	"github.com/rcliao/fieldsync/internal/model"
	"github.com/rcliao/fieldsync/internal/position"
	"github.com/rcliao/fieldsync/internal/routing"
	"github.com/rcliao/fieldsync/internal/store"
)

var errNoPositionSource = fmt.Errorf("%w: no position source configured (set FIELDSYNC_POSITION or FIELDSYNC_POSITION_FILE, or pass --at)", position.ErrNoFix)

// runtime is the set of components a command works with, wired from config.
type runtime struct {
	cfg     config.Config
	logger  *slog.Logger
	store   *store.SQLiteStore
	tracker *position.Tracker
	feed    *feed.Poller
	bc      *broadcast.Broadcaster
	ctrl    *mission.Controller
	chat    *chat.Log
}

// newRuntime opens the store and wires the components for the local unit.
// at, when not nil, replaces the configured position source.
func newRuntime(at *model.LatLng) (*runtime, error) {
	c := loadConfig()
	logger := newLogger()

	s, err := openStore()
	if err != nil {
		return nil, err
	}

	unitID := selfUnitID()
	rt := &runtime{cfg: c, logger: logger, store: s}
	rt.tracker = position.NewTracker(positionSource(c, at), c.PositionTimeout)
	rt.feed = feed.NewPoller(s, feed.Options{Interval: c.FeedInterval, Logger: logger})

	rt.chat, err = chat.NewLog(chat.Options{
		Store:     s,
		Feed:      rt.feed,
		Logger:    logger,
		Retention: c.Retention,
		StatePath: chat.StatePath(c.DBPath),
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	rt.bc, err = broadcast.New(broadcast.Options{
		UnitID:   unitID,
		UnitType: c.UnitType,
		Store:    s,
		Tracker:  rt.tracker,
		Feed:     rt.feed,
		Interval: c.PushInterval,
		Logger:   logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	rt.ctrl = mission.NewController(mission.Options{
		Router:    routing.New(c.RouterProvider, c.RouterURL, c.RouterProfile),
		Publisher: rt.bc,
		Logger:    logger,
	})
	return rt, nil
}

// restore loads the unit's stored state into the broadcaster and the
// controller, so a one-shot command does not drop a committed mission.
func (rt *runtime) restore(ctx context.Context) error {
	m, err := rt.bc.Restore(ctx)
	if err != nil {
		return err
	}
	rt.ctrl.Restore(m)
	return nil
}

// origin reads the current position. Without a fix it falls back to the
// unit's last stored position, which is good enough to plan from but is
// never re-broadcast as fresh. Nil when neither is known.
func (rt *runtime) origin(ctx context.Context) *model.LatLng {
	if _, err := rt.tracker.Refresh(ctx); err != nil {
		rt.logger.Debug("no position fix", "error", err)
	}
	if pos := rt.tracker.LastPosition(); pos != nil {
		return pos
	}
	r, err := rt.store.GetUnit(ctx, rt.bc.UnitID())
	if err != nil {
		return nil
	}
	rt.logger.Debug("planning from last stored position", "last_updated", r.LastUpdated)
	pos := r.Position
	return &pos
}

func (rt *runtime) Close() error {
	return rt.store.Close()
}

// positionSource picks the explicit position, then the configured source.
// With neither every read fails, so the unit is never broadcast as present.
func positionSource(c config.Config, at *model.LatLng) position.Source {
	switch {
	case at != nil:
		return position.Static{Position: *at}
	case c.FixedPosition != nil:
		return position.Static{Position: *c.FixedPosition}
	case c.PositionFile != "":
		return position.FileSource{Path: c.PositionFile, MaxAge: c.ActiveWindow}
	}
	return position.SourceFunc(func(ctx context.Context) (position.Fix, error) {
		return position.Fix{}, errNoPositionSource
	})
}
