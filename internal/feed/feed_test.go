package feed

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
	"github.com/rcliao/fieldsync/internal/model"
	"github.com/rcliao/fieldsync/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func waitTickers(t *testing.T, c *clock.FakeClock, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Tickers() >= n }, 2*time.Second, 5*time.Millisecond)
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	var zero T
	return zero
}

func TestUnitsFromTail(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestStore(t)
	fc := clock.Fake(t0)

	_, err := s.UpsertUnit(ctx, model.UnitRecord{UnitID: "OLD", Position: model.LatLng{Lat: 1, Lng: 1}, UnitType: model.UnitInfantry, LastUpdated: t0})
	require.NoError(t, err)

	p := NewPoller(s, Options{Interval: time.Second, Clock: fc})
	units := p.Units(ctx, Tail)
	waitTickers(t, fc, 1)

	_, err = s.UpsertUnit(ctx, model.UnitRecord{UnitID: "BRAVO", Position: model.LatLng{Lat: 33.3, Lng: 44.3}, UnitType: model.UnitDriver, LastUpdated: t0})
	require.NoError(t, err)
	fc.Advance(time.Second)

	got := recv(t, units)
	assert.Equal(t, "BRAVO", got.UnitID, "records written before subscribing are not replayed")

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-units
		return !ok
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMessagesFromCursor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestStore(t)
	fc := clock.Fake(t0)

	first, err := s.InsertMessage(ctx, store.InsertMessageParams{UnitID: "A", Content: "one", CreatedAt: t0})
	require.NoError(t, err)
	_, err = s.InsertMessage(ctx, store.InsertMessageParams{UnitID: "A", Content: "two", CreatedAt: t0})
	require.NoError(t, err)

	p := NewPoller(s, Options{Clock: fc})
	msgs := p.Messages(ctx, first.Seq)
	waitTickers(t, fc, 1)
	fc.Advance(time.Second)

	assert.Equal(t, "two", recv(t, msgs).Content)
}

func TestMessagesTailIsPinnedOnReturn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestStore(t)
	fc := clock.Fake(t0)

	_, err := s.InsertMessage(ctx, store.InsertMessageParams{UnitID: "A", Content: "history", CreatedAt: t0})
	require.NoError(t, err)

	p := NewPoller(s, Options{Clock: fc})
	msgs := p.Messages(ctx, Tail)
	// Written before the stream goroutine has run at all.
	_, err = s.InsertMessage(ctx, store.InsertMessageParams{UnitID: "A", Content: "right after", CreatedAt: t0})
	require.NoError(t, err)

	waitTickers(t, fc, 1)
	fc.Advance(time.Second)
	assert.Equal(t, "right after", recv(t, msgs).Content)
}

type flakySource struct {
	Source
	fail atomic.Bool
}

func (f *flakySource) UnitsChangedSince(ctx context.Context, rev int64, limit int) ([]model.UnitRecord, error) {
	if f.fail.Load() {
		return nil, errors.New("connection reset")
	}
	return f.Source.UnitsChangedSince(ctx, rev, limit)
}

func TestPollErrorIsRetriedFromSameCursor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestStore(t)
	src := &flakySource{Source: s}
	src.fail.Store(true)
	fc := clock.Fake(t0)

	p := NewPoller(src, Options{Clock: fc})
	units := p.Units(ctx, 0)
	waitTickers(t, fc, 1)

	_, err := s.UpsertUnit(ctx, model.UnitRecord{UnitID: "ALPHA", Position: model.LatLng{Lat: 1, Lng: 1}, UnitType: model.UnitInfantry, LastUpdated: t0})
	require.NoError(t, err)

	fc.Advance(time.Second)
	require.Eventually(t, func() bool { return p.Err() != nil }, 2*time.Second, 5*time.Millisecond)

	src.fail.Store(false)
	fc.Advance(time.Second)
	assert.Equal(t, "ALPHA", recv(t, units).UnitID)
	assert.NoError(t, p.Err())
}

func TestEventsFilter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestStore(t)
	fc := clock.Fake(t0)

	p := NewPoller(s, Options{Clock: fc})
	events := p.Events(ctx, KindMessage)
	waitTickers(t, fc, 1)

	_, err := s.UpsertUnit(ctx, model.UnitRecord{UnitID: "ALPHA", Position: model.LatLng{Lat: 1, Lng: 1}, UnitType: model.UnitInfantry, LastUpdated: t0})
	require.NoError(t, err)
	_, err = s.InsertMessage(ctx, store.InsertMessageParams{UnitID: "ALPHA", Content: "hello", CreatedAt: t0})
	require.NoError(t, err)
	fc.Advance(time.Second)

	ev := recv(t, events)
	assert.Equal(t, KindMessage, ev.Kind)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "hello", ev.Message.Content)
	assert.Equal(t, 1, fc.Tickers(), "unit stream was never started")
}
