package broadcast

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/fieldsync/internal/clock"
	"github.com/rcliao/fieldsync/internal/feed"
	"github.com/rcliao/fieldsync/internal/mission"
	"github.com/rcliao/fieldsync/internal/model"
	"github.com/rcliao/fieldsync/internal/position"
	"github.com/rcliao/fieldsync/internal/presence"
	"github.com/rcliao/fieldsync/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var home = model.LatLng{Lat: 33.30, Lng: 44.30}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newBroadcaster(t *testing.T, us store.UnitStore, src position.Source, fc *clock.FakeClock) *Broadcaster {
	t.Helper()
	var tracker *position.Tracker
	if src != nil {
		tracker = position.NewTracker(src, time.Second)
	}
	var poller *feed.Poller
	if fs, ok := us.(feed.Source); ok {
		poller = feed.NewPoller(fs, feed.Options{Clock: fc})
	}
	b, err := New(Options{
		UnitID:   "ALPHA",
		UnitType: model.UnitDriver,
		Store:    us,
		Tracker:  tracker,
		Feed:     poller,
		Clock:    fc,
	})
	require.NoError(t, err)
	return b
}

func TestPushWithoutPositionIsSkipped(t *testing.T) {
	s := newTestStore(t)
	noFix := position.SourceFunc(func(ctx context.Context) (position.Fix, error) {
		return position.Fix{}, position.ErrNoFix
	})
	b := newBroadcaster(t, s, noFix, clock.Fake(t0))

	require.ErrorIs(t, b.Push(context.Background()), ErrNoPosition)
	_, err := s.GetUnit(context.Background(), "ALPHA")
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, b.Status().Online)
}

func TestPushWritesFullRecord(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := newBroadcaster(t, s, position.Static{Position: home}, clock.Fake(t0))

	require.NoError(t, b.Push(ctx))
	got, err := s.GetUnit(ctx, "ALPHA")
	require.NoError(t, err)
	assert.Equal(t, home, got.Position)
	assert.Equal(t, model.UnitDriver, got.UnitType)
	assert.Equal(t, t0, got.LastUpdated)
	assert.False(t, got.HasMission())

	st := b.Status()
	assert.True(t, st.Online)
	assert.Equal(t, t0, st.LastPush)
}

func TestPushKeepsLastKnownPosition(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	var lost atomic.Bool
	src := position.SourceFunc(func(ctx context.Context) (position.Fix, error) {
		if lost.Load() {
			return position.Fix{}, position.ErrNoFix
		}
		return position.Fix{Position: home, At: t0}, nil
	})
	fc := clock.Fake(t0)
	b := newBroadcaster(t, s, src, fc)

	require.NoError(t, b.Push(ctx))
	lost.Store(true)
	fc.Advance(3 * time.Second)
	require.NoError(t, b.Push(ctx))

	got, err := s.GetUnit(ctx, "ALPHA")
	require.NoError(t, err)
	assert.Equal(t, home, got.Position)
	assert.Equal(t, t0.Add(3*time.Second), got.LastUpdated)
	st := b.Status()
	assert.NotEmpty(t, st.FixError)
	assert.False(t, st.Online, "a lost fix degrades the indicator")

	lost.Store(false)
	fc.Advance(3 * time.Second)
	require.NoError(t, b.Push(ctx))
	assert.True(t, b.Status().Online)
}

func TestStoredRowIsNotRefreshedWithoutFix(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.UpsertUnit(ctx, model.UnitRecord{UnitID: "ALPHA", Position: home, UnitType: model.UnitDriver, LastUpdated: t0})
	require.NoError(t, err)

	noFix := position.SourceFunc(func(ctx context.Context) (position.Fix, error) {
		return position.Fix{}, position.ErrNoFix
	})
	later := t0.Add(time.Hour)
	b := newBroadcaster(t, s, noFix, clock.Fake(later))
	_, err = b.Restore(ctx)
	require.NoError(t, err)

	require.ErrorIs(t, b.Push(ctx), ErrNoPosition)
	got, err := s.GetUnit(ctx, "ALPHA")
	require.NoError(t, err)
	assert.Equal(t, t0, got.LastUpdated, "an hour-old row must not look fresh")
	assert.False(t, presence.IsOnline(*got, later, time.Minute))

	st := b.Status()
	assert.False(t, st.Online)
	assert.NotEmpty(t, st.FixError)
}

func TestPublishMissionPushesImmediately(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := newBroadcaster(t, s, position.Static{Position: home}, clock.Fake(t0))

	ctrl := mission.NewController(mission.Options{Publisher: b})
	dest := model.LatLng{Lat: 33.35, Lng: 44.40}
	m, err := ctrl.PlanAndCommit(ctx, &home, dest)
	require.NoError(t, err)

	got, err := s.GetUnit(ctx, "ALPHA")
	require.NoError(t, err)
	require.True(t, got.HasMission())
	assert.Equal(t, dest, *got.Target)
	assert.Equal(t, m.RoutePath, got.RoutePath)

	// The abort lands even though the fake clock has not moved.
	require.NoError(t, ctrl.Abort(ctx))
	got, err = s.GetUnit(ctx, "ALPHA")
	require.NoError(t, err)
	assert.False(t, got.HasMission())
	assert.Nil(t, got.RoutePath)
}

type failingStore struct {
	store.UnitStore
	fail atomic.Bool
}

func (f *failingStore) UpsertUnit(ctx context.Context, r model.UnitRecord) (bool, error) {
	if f.fail.Load() {
		return false, errors.New("network unreachable")
	}
	return f.UnitStore.UpsertUnit(ctx, r)
}

func TestPushFailureDegradesAndRecovers(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{UnitStore: newTestStore(t)}
	fs.fail.Store(true)
	fc := clock.Fake(t0)
	b := newBroadcaster(t, fs, position.Static{Position: home}, fc)

	require.Error(t, b.Push(ctx))
	st := b.Status()
	assert.False(t, st.Online)
	assert.Contains(t, st.PushError, "network unreachable")

	fs.fail.Store(false)
	fc.Advance(3 * time.Second)
	require.NoError(t, b.Push(ctx))
	assert.Empty(t, b.Status().PushError)
}

func TestRunPushesEveryInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newTestStore(t)
	fc := clock.Fake(t0)
	b := newBroadcaster(t, s, position.Static{Position: home}, fc)

	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return !b.Status().LastPush.IsZero() }, 2*time.Second, 5*time.Millisecond)

	fc.Advance(DefaultInterval)
	require.Eventually(t, func() bool {
		r, err := s.GetUnit(context.Background(), "ALPHA")
		return err == nil && r.LastUpdated.Equal(t0.Add(DefaultInterval))
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestWatchFillsRosterAndAdoptsOverride(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestStore(t)
	fc := clock.Fake(t0)
	b := newBroadcaster(t, s, position.Static{Position: home}, fc)
	require.NoError(t, b.Push(ctx))

	_, err := s.UpsertUnit(ctx, model.UnitRecord{
		UnitID: "BRAVO", Position: model.LatLng{Lat: 33.31, Lng: 44.31}, UnitType: model.UnitInfantry, LastUpdated: t0,
	})
	require.NoError(t, err)

	watchErr := make(chan error, 1)
	go func() { watchErr <- b.Watch(ctx) }()
	require.Eventually(t, func() bool { return fc.Tickers() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err = s.SetUnitType(ctx, store.SetUnitTypeParams{UnitID: "ALPHA", UnitType: model.UnitSoldier, At: t0.Add(time.Second)})
	require.NoError(t, err)
	fc.Advance(time.Second)

	require.Eventually(t, func() bool {
		return b.Roster().Len() == 1 && b.UnitType() == model.UnitSoldier
	}, 2*time.Second, 5*time.Millisecond)
	_, self := b.Roster().Get("ALPHA")
	assert.False(t, self)

	// The next owner push carries the override instead of reverting it.
	require.NoError(t, b.Push(ctx))
	got, err := s.GetUnit(ctx, "ALPHA")
	require.NoError(t, err)
	assert.Equal(t, model.UnitSoldier, got.UnitType)

	cancel()
	require.ErrorIs(t, <-watchErr, context.Canceled)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	target := model.LatLng{Lat: 33.4, Lng: 44.4}
	_, err := s.UpsertUnit(ctx, model.UnitRecord{
		UnitID: "ALPHA", Position: home, UnitType: model.UnitSoldier,
		Target: &target, RoutePath: model.Path{home, target},
		LastUpdated: t0.Add(time.Hour), TypeUpdated: t0,
	})
	require.NoError(t, err)

	b := newBroadcaster(t, s, position.Static{Position: home}, clock.Fake(t0))
	m, err := b.Restore(ctx)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, target, m.Target)
	assert.Equal(t, model.UnitSoldier, b.UnitType())

	// A stored row from a clock ahead of ours does not block our pushes.
	require.NoError(t, b.Push(ctx))
	got, err := s.GetUnit(ctx, "ALPHA")
	require.NoError(t, err)
	assert.True(t, got.LastUpdated.After(t0.Add(time.Hour)))
	assert.True(t, got.HasMission())
}

func TestSetUnitType(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	b := newBroadcaster(t, s, position.Static{Position: home}, clock.Fake(t0))

	require.Error(t, b.SetUnitType(ctx, "pilot"))
	require.NoError(t, b.SetUnitType(ctx, model.UnitInfantry))
	got, err := s.GetUnit(ctx, "ALPHA")
	require.NoError(t, err)
	assert.Equal(t, model.UnitInfantry, got.UnitType)
}
