// Package position reads the device position with a bounded wait.
package position

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rcliao/fieldsync/internal/model"
)

var (
	// ErrNoFix means the source has no usable position right now.
	ErrNoFix = errors.New("no position fix")

	// ErrTimeout means the source did not answer within the read timeout.
	ErrTimeout = errors.New("position read timed out")
)

// Fix is one position reading.
type Fix struct {
	Position model.LatLng `json:"position"`
	At       time.Time    `json:"at"`
}

// Source provides on-demand position reads.
type Source interface {
	Current(ctx context.Context) (Fix, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Fix, error)

// Current calls f.
func (f SourceFunc) Current(ctx context.Context) (Fix, error) { return f(ctx) }

// Read asks src for a fix and gives up after timeout even if src ignores
// its context.
func Read(ctx context.Context, src Source, timeout time.Duration) (Fix, error) {
	if src == nil {
		return Fix{}, ErrNoFix
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		fix Fix
		err error
	}
	ch := make(chan result, 1)
	go func() {
		fix, err := src.Current(ctx)
		ch <- result{fix, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return Fix{}, ErrTimeout
			}
			return Fix{}, r.err
		}
		if !r.fix.Position.Valid() {
			return Fix{}, fmt.Errorf("%w: invalid coordinate %v", ErrNoFix, r.fix.Position)
		}
		return r.fix, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Fix{}, ErrTimeout
		}
		return Fix{}, ctx.Err()
	}
}

// Static always reports the same position, stamped with the read time.
type Static struct {
	Position model.LatLng
}

// Current returns the fixed position.
func (s Static) Current(ctx context.Context) (Fix, error) {
	return Fix{Position: s.Position, At: time.Now().UTC()}, nil
}

// FileSource reads the latest fix from a small JSON file kept up to date by
// an external GPS process: {"lat": 33.3, "lng": 44.3}. A file not modified
// within MaxAge counts as no fix.
type FileSource struct {
	Path   string
	MaxAge time.Duration
}

type fileFix struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// Current parses the file.
func (s FileSource) Current(ctx context.Context) (Fix, error) {
	info, err := os.Stat(s.Path)
	if err != nil {
		return Fix{}, fmt.Errorf("%w: %v", ErrNoFix, err)
	}
	if s.MaxAge > 0 && time.Since(info.ModTime()) > s.MaxAge {
		return Fix{}, fmt.Errorf("%w: %s is stale", ErrNoFix, s.Path)
	}

	b, err := os.ReadFile(s.Path)
	if err != nil {
		return Fix{}, fmt.Errorf("%w: %v", ErrNoFix, err)
	}
	var ff fileFix
	if err := json.Unmarshal(b, &ff); err != nil {
		return Fix{}, fmt.Errorf("%w: parse %s: %v", ErrNoFix, s.Path, err)
	}
	if ff.Lat == nil || ff.Lng == nil {
		return Fix{}, fmt.Errorf("%w: %s lacks lat/lng", ErrNoFix, s.Path)
	}
	return Fix{Position: model.LatLng{Lat: *ff.Lat, Lng: *ff.Lng}, At: info.ModTime().UTC()}, nil
}

// Tracker wraps a Source and remembers the last good fix so callers can
// degrade to last-known state when the signal drops.
type Tracker struct {
	src     Source
	timeout time.Duration

	mu   sync.RWMutex
	last *Fix
	err  error
}

// NewTracker creates a tracker reading src with the given timeout.
func NewTracker(src Source, timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Tracker{src: src, timeout: timeout}
}

// Refresh reads a new fix. On failure the previous fix is kept and the error
// is returned and remembered.
func (t *Tracker) Refresh(ctx context.Context) (Fix, error) {
	fix, err := Read(ctx, t.src, t.timeout)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
	if err != nil {
		return Fix{}, err
	}
	t.last = &fix
	return fix, nil
}

// Last returns the last good fix.
func (t *Tracker) Last() (Fix, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return Fix{}, false
	}
	return *t.last, true
}

// LastPosition returns the last good position, or nil.
func (t *Tracker) LastPosition() *model.LatLng {
	fix, ok := t.Last()
	if !ok {
		return nil
	}
	p := fix.Position
	return &p
}

// Err returns the error of the most recent read, nil if it succeeded.
func (t *Tracker) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}
