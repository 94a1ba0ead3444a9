package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/fieldsync/internal/broadcast"
	"github.com/rcliao/fieldsync/internal/chat"
	"github.com/rcliao/fieldsync/internal/clock"
	"github.com/rcliao/fieldsync/internal/feed"
	"github.com/rcliao/fieldsync/internal/mission"
	"github.com/rcliao/fieldsync/internal/model"
	"github.com/rcliao/fieldsync/internal/position"
	"github.com/rcliao/fieldsync/internal/presence"
	"github.com/rcliao/fieldsync/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type client struct {
	session *Session
	bc      *broadcast.Broadcaster
	chat    *chat.Log
	cancel  context.CancelFunc
	done    chan struct{}
}

func startClient(t *testing.T, s *store.SQLiteStore, fc *clock.FakeClock, unitID string, at model.LatLng) *client {
	t.Helper()
	poller := feed.NewPoller(s, feed.Options{Clock: fc})
	bc, err := broadcast.New(broadcast.Options{
		UnitID:  unitID,
		Store:   s,
		Tracker: position.NewTracker(position.Static{Position: at}, time.Second),
		Feed:    poller,
		Clock:   fc,
	})
	require.NoError(t, err)
	log, err := chat.NewLog(chat.Options{Store: s, Feed: poller, Clock: fc})
	require.NoError(t, err)
	sess, err := New(Options{
		Broadcaster: bc,
		Controller:  mission.NewController(mission.Options{Publisher: bc}),
		Chat:        log,
		Clock:       fc,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{session: sess, bc: bc, chat: log, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(c.done)
		assert.NoError(t, sess.Run(ctx))
	}()
	t.Cleanup(func() {
		c.cancel()
		<-c.done
	})
	return c
}

func peerIDs(entries []presence.Entry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.UnitID)
	}
	return out
}

func TestTwoClientsSeeEachOther(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	fc := clock.Fake(t0)

	a := startClient(t, s, fc, "ALPHA", model.LatLng{Lat: 33.30, Lng: 44.30})
	b := startClient(t, s, fc, "BRAVO", model.LatLng{Lat: 33.31, Lng: 44.30})

	// push, watch, purge and chat loops for each client
	require.Eventually(t, func() bool { return fc.Tickers() == 8 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return !a.bc.Status().LastPush.IsZero() && !b.bc.Status().LastPush.IsZero()
	}, 2*time.Second, 5*time.Millisecond)

	_, err = a.chat.Send(context.Background(), "ALPHA", "contact north")
	require.NoError(t, err)
	fc.Advance(time.Second)

	require.Eventually(t, func() bool {
		snap := b.session.Snapshot(presence.ActiveWindow)
		return len(snap.Peers) == 1 && len(snap.Messages) == 1
	}, 2*time.Second, 5*time.Millisecond)
	snap := b.session.Snapshot(presence.ActiveWindow)
	assert.Equal(t, []string{"ALPHA"}, peerIDs(snap.Peers))
	assert.Equal(t, "1.1km", snap.Peers[0].Distance)
	assert.Equal(t, "contact north", snap.Messages[0].Content)
	assert.NotEmpty(t, snap.SessionID)

	// ALPHA goes quiet after its push at t0.
	a.cancel()
	<-a.done

	fc.Advance(29 * time.Second)
	assert.Equal(t, []string{"ALPHA"}, peerIDs(b.session.Snapshot(presence.ActiveWindow).Peers), "online at t=30s")

	fc.Advance(60 * time.Second)
	assert.Empty(t, b.session.Snapshot(presence.ActiveWindow).Peers, "offline at t=90s")
	assert.Equal(t, []string{"ALPHA"}, peerIDs(b.session.Snapshot(2*time.Minute).Peers), "still on the map")
}

func TestRunResumesCommittedMission(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	fc := clock.Fake(t0)

	target := model.LatLng{Lat: 33.5, Lng: 44.5}
	home := model.LatLng{Lat: 33.3, Lng: 44.3}
	_, err = s.UpsertUnit(context.Background(), model.UnitRecord{
		UnitID: "ALPHA", Position: home, UnitType: model.UnitInfantry,
		Target: &target, RoutePath: model.Path{home, target}, LastUpdated: t0.Add(-time.Minute),
	})
	require.NoError(t, err)

	a := startClient(t, s, fc, "ALPHA", home)
	require.Eventually(t, func() bool {
		return a.session.Snapshot(presence.ActiveWindow).Mission.State == mission.Committed
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return a.bc.Status().LastPush.Equal(t0) }, 2*time.Second, 5*time.Millisecond)
	got, err := s.GetUnit(context.Background(), "ALPHA")
	require.NoError(t, err)
	assert.True(t, got.HasMission(), "the resumed mission is still broadcast")
}
