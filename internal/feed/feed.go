// Package feed turns the shared store into change notifications by polling
// its monotonic cursors: the unit revision and the message sequence.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rcliao/fieldsync/internal/clock"
	"github.com/rcliao/fieldsync/internal/model"
	"github.com/rcliao/fieldsync/internal/store"
)

// Tail starts a stream at the current end of the table, so only changes
// made after subscribing are delivered.
const Tail int64 = -1

const batchSize = 200

// Source is the part of the store the feed reads.
type Source interface {
	UnitsChangedSince(ctx context.Context, rev int64, limit int) ([]model.UnitRecord, error)
	LatestUnitRev(ctx context.Context) (int64, error)
	MessagesAfter(ctx context.Context, seq int64, limit int) ([]model.Message, error)
	LatestMessageSeq(ctx context.Context) (int64, error)
}

var _ Source = (store.Store)(nil)

// Kind tags an Event.
type Kind string

const (
	KindUnit    Kind = "units"
	KindMessage Kind = "messages"
)

// Event is one notification on a merged stream.
type Event struct {
	Kind    Kind              `json:"kind"`
	Unit    *model.UnitRecord `json:"unit,omitempty"`
	Message *model.Message    `json:"message,omitempty"`
}

// Options configures a Poller.
type Options struct {
	Interval time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Poller produces change streams from a Source. Every stream keeps its own
// cursor; a failed poll is logged and retried on the next tick from the
// same cursor, so a dropped connection to the store loses nothing.
type Poller struct {
	src      Source
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	lastErr error
}

// NewPoller creates a poller. Interval defaults to one second.
func NewPoller(src Source, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Poller{src: src, interval: opts.Interval, clock: opts.Clock, logger: opts.Logger}
}

// Err returns the error of the most recent poll by any stream, nil once a
// poll succeeds again.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Poller) setErr(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

// Units streams unit records written after revision after (or Tail). A Tail
// cursor is resolved before Units returns. The channel closes when ctx is
// done.
func (p *Poller) Units(ctx context.Context, after int64) <-chan model.UnitRecord {
	after = p.start(ctx, "units", after, p.src.LatestUnitRev)
	out := make(chan model.UnitRecord)
	go func() {
		defer close(out)
		run(ctx, p, "units", after, p.src.LatestUnitRev, func(ctx context.Context, cursor int64) (int64, error) {
			recs, err := p.src.UnitsChangedSince(ctx, cursor, batchSize)
			if err != nil {
				return cursor, err
			}
			for _, r := range recs {
				select {
				case out <- r:
				case <-ctx.Done():
					return cursor, nil
				}
				cursor = r.Rev
			}
			return cursor, nil
		})
	}()
	return out
}

// Messages streams messages appended after sequence after (or Tail). A
// Tail cursor is resolved before Messages returns. The channel closes when
// ctx is done.
func (p *Poller) Messages(ctx context.Context, after int64) <-chan model.Message {
	after = p.start(ctx, "messages", after, p.src.LatestMessageSeq)
	out := make(chan model.Message)
	go func() {
		defer close(out)
		run(ctx, p, "messages", after, p.src.LatestMessageSeq, func(ctx context.Context, cursor int64) (int64, error) {
			msgs, err := p.src.MessagesAfter(ctx, cursor, batchSize)
			if err != nil {
				return cursor, err
			}
			for _, m := range msgs {
				select {
				case out <- m:
				case <-ctx.Done():
					return cursor, nil
				}
				cursor = m.Seq
			}
			return cursor, nil
		})
	}()
	return out
}

// Events merges the unit and message streams selected by kinds, both
// starting at the tail. An empty kinds selects everything.
func (p *Poller) Events(ctx context.Context, kinds ...Kind) <-chan Event {
	want := map[Kind]bool{}
	for _, k := range kinds {
		want[k] = true
	}
	all := len(want) == 0

	out := make(chan Event)
	var wg sync.WaitGroup
	if all || want[KindUnit] {
		units := p.Units(ctx, Tail)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range units {
				select {
				case out <- Event{Kind: KindUnit, Unit: &r}:
				case <-ctx.Done():
				}
			}
		}()
	}
	if all || want[KindMessage] {
		msgs := p.Messages(ctx, Tail)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range msgs {
				select {
				case out <- Event{Kind: KindMessage, Message: &m}:
				case <-ctx.Done():
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

type pollFunc func(ctx context.Context, cursor int64) (int64, error)

// start pins a Tail cursor to the current end of the stream. If the lookup
// fails the cursor stays Tail and run retries it on each tick.
func (p *Poller) start(ctx context.Context, name string, cursor int64, tail func(context.Context) (int64, error)) int64 {
	if cursor != Tail {
		return cursor
	}
	latest, err := tail(ctx)
	if err != nil {
		p.setErr(err)
		p.logger.Warn("feed tail lookup failed", "stream", name, "error", err)
		return Tail
	}
	p.setErr(nil)
	p.logger.Debug("feed subscribed", "stream", name, "cursor", latest)
	return latest
}

func run(ctx context.Context, p *Poller, name string, cursor int64, tail func(context.Context) (int64, error), poll pollFunc) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if cursor == Tail {
			cursor = p.start(ctx, name, cursor, tail)
			continue
		}
		next, err := poll(ctx, cursor)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.setErr(err)
			p.logger.Warn("feed poll failed, retrying", "stream", name, "cursor", cursor, "error", err)
			continue
		}
		p.setErr(nil)
		cursor = next
	}
}
