// Package chat is the ephemeral group message log: an append-only stream
// that is truncated by clear markers, by age, and by admin bulk delete.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rcliao/fieldsync/internal/auth"
	"github.com/rcliao/fieldsync/internal/clock"
	"github.com/rcliao/fieldsync/internal/feed"
	"github.com/rcliao/fieldsync/internal/model"
	"github.com/rcliao/fieldsync/internal/store"
)

// ErrEmptyOrUnauthenticated is returned by Send for blank content or a
// sender without a unit id.
var ErrEmptyOrUnauthenticated = errors.New("empty message or unauthenticated sender")

const (
	DefaultRetention     = 10 * time.Minute
	DefaultPurgeInterval = time.Minute
	DefaultFetchLimit    = 50
)

// EntryKind tags an Entry.
type EntryKind int

const (
	EntryChat EntryKind = iota
	EntryClear
)

// Entry is one item of the live stream: a chat line, or a clear marker
// telling the receiver to empty its view.
type Entry struct {
	Kind    EntryKind
	Message model.Message
}

// Options configures a Log.
type Options struct {
	Store store.MessageStore
	// Feed delivers inserts for Subscribe. Optional for one-shot use.
	Feed      *feed.Poller
	Clock     clock.Clock
	Logger    *slog.Logger
	Retention time.Duration
	// StatePath persists the local "last cleared" timestamp. Empty keeps it
	// in memory only.
	StatePath string
}

// Log is a client's handle on the shared message log.
type Log struct {
	store     store.MessageStore
	feed      *feed.Poller
	clock     clock.Clock
	logger    *slog.Logger
	retention time.Duration
	statePath string

	mu    sync.Mutex
	state LocalState
}

// NewLog creates a log and loads the local state.
func NewLog(opts Options) (*Log, error) {
	l := &Log{
		store:     opts.Store,
		feed:      opts.Feed,
		clock:     opts.Clock,
		logger:    opts.Logger,
		retention: opts.Retention,
		statePath: opts.StatePath,
	}
	if l.clock == nil {
		l.clock = clock.Real()
	}
	if l.logger == nil {
		l.logger = slog.New(slog.DiscardHandler)
	}
	if l.retention <= 0 {
		l.retention = DefaultRetention
	}
	if l.statePath != "" {
		st, err := LoadState(l.statePath)
		if err != nil {
			return nil, err
		}
		l.state = st
	}
	return l, nil
}

// Send appends content from unitID. It is not retried on failure.
func (l *Log) Send(ctx context.Context, unitID, content string) (*model.Message, error) {
	content = strings.TrimSpace(content)
	unitID = strings.TrimSpace(unitID)
	if content == "" || unitID == "" {
		return nil, ErrEmptyOrUnauthenticated
	}
	msg, err := l.store.InsertMessage(ctx, store.InsertMessageParams{
		UnitID:    unitID,
		Content:   content,
		Color:     Color(unitID),
		CreatedAt: l.clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}

// FetchRecent returns up to limit of the newest visible messages, oldest
// first. Everything at or before the last clear marker in that window is
// dropped, then everything at or before the local last-cleared time.
// Markers are never returned.
func (l *Log) FetchRecent(ctx context.Context, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	msgs, err := l.store.RecentMessages(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	return Visible(msgs, l.LastCleared()), nil
}

// Visible applies the marker cut and the local clear filter to msgs, which
// must be in ascending order.
func Visible(msgs []model.Message, lastCleared time.Time) []model.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsClearMarker() {
			msgs = msgs[i+1:]
			break
		}
	}
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if !lastCleared.IsZero() && !m.CreatedAt.After(lastCleared) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Subscribe streams messages appended from now on. The stream survives
// store errors and ends when ctx is done.
func (l *Log) Subscribe(ctx context.Context) (<-chan Entry, error) {
	return l.SubscribeAfter(ctx, feed.Tail)
}

// SubscribeAfter streams messages with a sequence greater than seq.
func (l *Log) SubscribeAfter(ctx context.Context, seq int64) (<-chan Entry, error) {
	if l.feed == nil {
		return nil, errors.New("subscribe: no feed configured")
	}
	msgs := l.feed.Messages(ctx, seq)
	out := make(chan Entry)
	go func() {
		defer close(out)
		for m := range msgs {
			e := Entry{Kind: EntryChat, Message: m}
			if m.IsClearMarker() {
				e.Kind = EntryClear
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Follow returns what FetchRecent would, plus a stream of every message
// appended after that snapshot. Nothing is lost or repeated between the two.
func (l *Log) Follow(ctx context.Context, limit int) ([]model.Message, <-chan Entry, error) {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	seq, err := l.store.LatestMessageSeq(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("follow messages: %w", err)
	}
	msgs, err := l.store.RecentMessages(ctx, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch messages: %w", err)
	}
	// Anything newer than seq arrives on the stream instead.
	n := len(msgs)
	for n > 0 && msgs[n-1].Seq > seq {
		n--
	}
	entries, err := l.SubscribeAfter(ctx, seq)
	if err != nil {
		return nil, nil, err
	}
	return Visible(msgs[:n], l.LastCleared()), entries, nil
}

// PurgeExpired deletes messages older than the retention period. Running
// it concurrently from many clients is harmless.
func (l *Log) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := l.clock.Now().Add(-l.retention)
	n, err := l.store.DeleteMessagesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge messages: %w", err)
	}
	return n, nil
}

// RunPurge purges once, then every interval until ctx is done.
func (l *Log) RunPurge(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}
	ticker := l.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		if n, err := l.PurgeExpired(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn("message purge failed", "error", err)
		} else if n > 0 {
			l.logger.Debug("purged expired messages", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// AdminClear wipes the log and appends an admin clear marker so every
// client empties its view. Non-admins get auth.ErrUnauthorized and the log
// is left untouched.
func (l *Log) AdminClear(ctx context.Context, requester auth.Identity) error {
	if err := auth.RequireAdmin(requester); err != nil {
		return err
	}
	n, delErr := l.store.DeleteAllMessages(ctx)
	if delErr != nil {
		delErr = fmt.Errorf("delete messages: %w", delErr)
	}
	_, err := l.store.InsertMessage(ctx, store.InsertMessageParams{
		UnitID:    model.SystemUnitID,
		Content:   model.AdminClearMarker,
		Color:     MarkerColor,
		CreatedAt: l.clock.Now(),
	})
	if err != nil {
		err = fmt.Errorf("append clear marker: %w", err)
	}
	unitID, _ := requester.UnitID()
	l.logger.Info("chat cleared by admin", "unit_id", unitID, "deleted", n)
	return errors.Join(delErr, err)
}

// ClearLocal hides everything currently in the log from this client only.
func (l *Log) ClearLocal() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.LastCleared = l.clock.Now().UTC()
	if l.statePath == "" {
		return nil
	}
	return SaveState(l.statePath, l.state)
}

// LastCleared returns the local clear time, zero if never cleared.
func (l *Log) LastCleared() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.LastCleared
}

// View is a client's rendered chat: the visible messages, emptied whenever
// a clear marker arrives.
type View struct {
	mu    sync.Mutex
	msgs  []model.Message
	limit int
}

// NewView starts a view from the result of FetchRecent. The view keeps at
// most limit messages.
func NewView(initial []model.Message, limit int) *View {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	v := &View{limit: limit}
	v.msgs = append(v.msgs, initial...)
	v.trim()
	return v
}

// Apply adds a chat entry or empties the view on a clear.
func (v *View) Apply(e Entry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if e.Kind == EntryClear {
		v.msgs = nil
		return
	}
	v.msgs = append(v.msgs, e.Message)
	v.trim()
}

// Messages returns a copy of the visible messages.
func (v *View) Messages() []model.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]model.Message, len(v.msgs))
	copy(out, v.msgs)
	return out
}

func (v *View) trim() {
	if over := len(v.msgs) - v.limit; over > 0 {
		v.msgs = append([]model.Message(nil), v.msgs[over:]...)
	}
}
