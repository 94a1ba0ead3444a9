// Package mission implements the per-unit mission route state machine:
// pick a destination, fetch candidate routes, select one locally, commit it
// for broadcast, or abort.
package mission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rcliao/fieldsync/internal/model"
	"github.com/rcliao/fieldsync/internal/routing"
)

// State is a controller state.
type State int

const (
	Idle State = iota
	RequestingRoutes
	CandidatesReady
	Committed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RequestingRoutes:
		return "requesting_routes"
	case CandidatesReady:
		return "candidates_ready"
	case Committed:
		return "committed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrNoOriginKnown is returned when a destination is chosen before the
	// unit has a position fix.
	ErrNoOriginKnown = errors.New("no origin position known")

	// ErrInvalidState is returned when an operation does not apply to the
	// current state.
	ErrInvalidState = errors.New("invalid mission state")

	// ErrInvalidIndex is returned when selecting a candidate that does not exist.
	ErrInvalidIndex = errors.New("candidate index out of range")

	// ErrSuperseded is returned by Plan when an Abort or a newer Plan ran
	// while routes were being fetched.
	ErrSuperseded = errors.New("route request superseded")

	// ErrNotPublished wraps publish failures. The mission change is still
	// held locally and goes out with the next telemetry push.
	ErrNotPublished = errors.New("mission not published")
)

// Publisher pushes the committed mission (nil after an abort) to peers.
type Publisher interface {
	PublishMission(ctx context.Context, m *model.Mission) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, m *model.Mission) error

// PublishMission calls f.
func (f PublisherFunc) PublishMission(ctx context.Context, m *model.Mission) error {
	return f(ctx, m)
}

// Status is a point-in-time view of the controller.
type Status struct {
	State       State          `json:"state"`
	Origin      *model.LatLng  `json:"origin,omitempty"`
	Destination *model.LatLng  `json:"destination,omitempty"`
	Candidates  []Candidate    `json:"candidates,omitempty"`
	Selected    int            `json:"selected"`
	Mission     *model.Mission `json:"mission,omitempty"`
}

// Controller is the mission state machine for one unit. The candidate list
// and selected index are local UI state and never leave the process; only
// the committed Mission is published.
type Controller struct {
	router    routing.Router
	publisher Publisher
	logger    *slog.Logger
	timeout   time.Duration

	// pubMu orders publishes so the last one always carries the current
	// mission.
	pubMu sync.Mutex

	mu         sync.Mutex
	state      State
	gen        uint64
	origin     model.LatLng
	dest       model.LatLng
	candidates []Candidate
	selected   int
	mission    *model.Mission
}

// Options configures a Controller.
type Options struct {
	// Router may be nil, in which case every plan falls back to a straight line.
	Router routing.Router
	// Publisher may be nil for a purely local controller.
	Publisher Publisher
	Logger    *slog.Logger
	// RouteTimeout bounds one routing request. Defaults to 10s.
	RouteTimeout time.Duration
}

// NewController creates an idle controller.
func NewController(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timeout := opts.RouteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Controller{
		router:    opts.Router,
		publisher: opts.Publisher,
		logger:    logger,
		timeout:   timeout,
	}
}

// Restore puts the controller in Committed for a mission that is already
// broadcast, e.g. one read back from the store at startup. A nil mission
// leaves the controller idle.
func (c *Controller) Restore(m *model.Mission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.candidates = nil
	c.selected = 0
	if m == nil {
		c.mission = nil
		c.state = Idle
		return
	}
	c.mission = &model.Mission{Target: m.Target, RoutePath: m.RoutePath.Clone()}
	c.dest = m.Target
	c.state = Committed
}

// Plan requests candidate routes from origin to dest and moves to
// CandidatesReady. A nil origin fails with ErrNoOriginKnown and leaves the
// controller in its previous stable state. Routing failures never fail the
// plan: they fall back to a single straight-line candidate.
func (c *Controller) Plan(ctx context.Context, origin *model.LatLng, dest model.LatLng) ([]Candidate, error) {
	c.mu.Lock()
	if origin == nil {
		c.settleLocked()
		c.mu.Unlock()
		c.logger.Warn("mission plan rejected", "reason", "no origin", "destination", dest.String())
		return nil, ErrNoOriginKnown
	}
	c.gen++
	gen := c.gen
	c.state = RequestingRoutes
	c.origin = *origin
	c.dest = dest
	c.candidates = nil
	c.selected = 0
	c.mu.Unlock()

	candidates := c.fetchCandidates(ctx, *origin, dest)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return nil, ErrSuperseded
	}
	c.candidates = candidates
	c.selected = 0
	c.state = CandidatesReady
	c.logger.Debug("mission candidates ready", "count", len(candidates), "fallback", candidates[0].Fallback)
	return cloneCandidates(candidates), nil
}

func (c *Controller) fetchCandidates(ctx context.Context, origin, dest model.LatLng) []Candidate {
	if c.router == nil {
		return []Candidate{straightLine(origin, dest)}
	}

	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	routes, err := c.router.Routes(rctx, origin, dest)
	if err != nil {
		c.logger.Warn("routing unavailable, using straight line", "error", err)
		return []Candidate{straightLine(origin, dest)}
	}
	candidates := buildCandidates(routes)
	if len(candidates) == 0 {
		return []Candidate{straightLine(origin, dest)}
	}
	return candidates
}

// Select changes the highlighted candidate. It has no network effect.
func (c *Controller) Select(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CandidatesReady {
		return fmt.Errorf("select in %s: %w", c.state, ErrInvalidState)
	}
	if i < 0 || i >= len(c.candidates) {
		return fmt.Errorf("select %d of %d: %w", i, len(c.candidates), ErrInvalidIndex)
	}
	c.selected = i
	return nil
}

// Confirm commits the selected candidate: its geometry becomes the mission
// route and the destination its target. The commit stands even when
// publishing fails; the error then wraps ErrNotPublished.
func (c *Controller) Confirm(ctx context.Context) (*model.Mission, error) {
	c.mu.Lock()
	if c.state != CandidatesReady {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("confirm in %s: %w", state, ErrInvalidState)
	}
	chosen := c.candidates[c.selected]
	m := &model.Mission{Target: c.dest, RoutePath: chosen.Path.Clone()}
	c.mission = m
	c.candidates = nil
	c.state = Committed
	c.gen++
	c.mu.Unlock()

	c.logger.Info("mission committed", "label", chosen.Label, "points", len(m.RoutePath), "target", m.Target.String())
	out := &model.Mission{Target: m.Target, RoutePath: m.RoutePath.Clone()}
	return out, c.publish(ctx)
}

// PlanAndCommit plans and immediately commits the first candidate, skipping
// the selection step.
func (c *Controller) PlanAndCommit(ctx context.Context, origin *model.LatLng, dest model.LatLng) (*model.Mission, error) {
	if _, err := c.Plan(ctx, origin, dest); err != nil {
		return nil, err
	}
	return c.Confirm(ctx)
}

// Abort drops any pending plan and committed mission and publishes the
// cleared state. Aborting an idle controller is a no-op.
func (c *Controller) Abort(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Idle && c.mission == nil {
		c.mu.Unlock()
		return nil
	}
	hadMission := c.mission != nil
	c.gen++
	c.state = Idle
	c.candidates = nil
	c.selected = 0
	c.mission = nil
	c.mu.Unlock()

	c.logger.Info("mission aborted")
	if !hadMission {
		return nil
	}
	return c.publish(ctx)
}

// Mission returns a copy of the committed mission, or nil.
func (c *Controller) Mission() *model.Mission {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mission == nil {
		return nil
	}
	return &model.Mission{Target: c.mission.Target, RoutePath: c.mission.RoutePath.Clone()}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.state, Selected: c.selected}
	if c.state == RequestingRoutes || c.state == CandidatesReady {
		origin, dest := c.origin, c.dest
		st.Origin = &origin
		st.Destination = &dest
		st.Candidates = cloneCandidates(c.candidates)
	}
	if c.mission != nil {
		st.Mission = &model.Mission{Target: c.mission.Target, RoutePath: c.mission.RoutePath.Clone()}
		dest := c.mission.Target
		if st.Destination == nil {
			st.Destination = &dest
		}
	}
	return st
}

// settleLocked returns to the last stable state after a failed transition.
func (c *Controller) settleLocked() {
	c.gen++
	c.candidates = nil
	c.selected = 0
	if c.mission != nil {
		c.state = Committed
		return
	}
	c.state = Idle
}

// publish pushes the mission held at the time of publishing, not the one the
// caller committed, so a commit racing an abort cannot leave a stale
// mission broadcast.
func (c *Controller) publish(ctx context.Context) error {
	if c.publisher == nil {
		return nil
	}
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	if err := c.publisher.PublishMission(ctx, c.Mission()); err != nil {
		c.logger.Warn("mission publish failed, will retry on next push", "error", err)
		return fmt.Errorf("%w: %v", ErrNotPublished, err)
	}
	return nil
}
