// Package session runs one client's loops together: telemetry push, peer
// feed, message purge and chat subscription. They start and stop as a unit.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/fieldsync/internal/broadcast"
	"github.com/rcliao/fieldsync/internal/chat"
	"github.com/rcliao/fieldsync/internal/clock"
	"github.com/rcliao/fieldsync/internal/mission"
	"github.com/rcliao/fieldsync/internal/model"
	"github.com/rcliao/fieldsync/internal/presence"
)

// Options configures a Session.
type Options struct {
	Broadcaster   *broadcast.Broadcaster
	Controller    *mission.Controller
	Chat          *chat.Log
	PurgeInterval time.Duration
	ChatLimit     int
	Clock         clock.Clock
	Logger        *slog.Logger
}

// Session is a running client.
type Session struct {
	ID string

	bc            *broadcast.Broadcaster
	ctrl          *mission.Controller
	chat          *chat.Log
	purgeInterval time.Duration
	chatLimit     int
	clock         clock.Clock
	logger        *slog.Logger

	mu   sync.Mutex
	view *chat.View
}

// New creates a session. Broadcaster, Controller and Chat are required.
func New(opts Options) (*Session, error) {
	if opts.Broadcaster == nil || opts.Controller == nil || opts.Chat == nil {
		return nil, errors.New("session: broadcaster, controller and chat are required")
	}
	s := &Session{
		ID:            uuid.NewString(),
		bc:            opts.Broadcaster,
		ctrl:          opts.Controller,
		chat:          opts.Chat,
		purgeInterval: opts.PurgeInterval,
		chatLimit:     opts.ChatLimit,
		clock:         opts.Clock,
		logger:        opts.Logger,
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.chatLimit <= 0 {
		s.chatLimit = chat.DefaultFetchLimit
	}
	s.logger = s.logger.With("session_id", s.ID, "unit_id", s.bc.UnitID())
	return s, nil
}

// Run restores the unit's committed mission, then runs every loop until ctx
// is done. It returns once all loops have exited.
func (s *Session) Run(ctx context.Context) error {
	m, err := s.bc.Restore(ctx)
	if err != nil {
		s.logger.Warn("restore failed, starting idle", "error", err)
	} else if m != nil {
		s.ctrl.Restore(m)
		s.logger.Info("resumed mission", "target", m.Target.String())
	}

	initial, entries, err := s.chat.Follow(ctx, s.chatLimit)
	if err != nil {
		s.logger.Warn("initial chat fetch failed, following from the tail", "error", err)
		if entries, err = s.chat.Subscribe(ctx); err != nil {
			return fmt.Errorf("subscribe chat: %w", err)
		}
	}
	s.mu.Lock()
	s.view = chat.NewView(initial, s.chatLimit)
	s.mu.Unlock()

	s.logger.Info("session started")
	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		s.bc.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := s.bc.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("unit watch ended", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		s.chat.RunPurge(ctx, s.purgeInterval)
	}()
	go func() {
		defer wg.Done()
		for e := range entries {
			if e.Kind == chat.EntryClear {
				s.logger.Info("chat cleared", "by", e.Message.UnitID)
			}
			s.View().Apply(e)
		}
	}()
	wg.Wait()
	s.logger.Info("session stopped")
	return nil
}

// View returns the live chat view, empty before Run.
func (s *Session) View() *chat.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view == nil {
		s.view = chat.NewView(nil, s.chatLimit)
	}
	return s.view
}

// Snapshot is what an operator screen shows at one instant.
type Snapshot struct {
	SessionID string           `json:"session_id"`
	At        time.Time        `json:"at"`
	Status    broadcast.Status `json:"status"`
	Mission   mission.Status   `json:"mission"`
	Peers     []presence.Entry `json:"peers"`
	Messages  []model.Message  `json:"messages"`
}

// Snapshot collects the current state with peers online under window.
func (s *Session) Snapshot(window time.Duration) Snapshot {
	now := s.clock.Now()
	return Snapshot{
		SessionID: s.ID,
		At:        now,
		Status:    s.bc.Status(),
		Mission:   s.ctrl.Status(),
		Peers:     presence.Listing(s.bc.Roster().Snapshot(), s.bc.UnitID(), s.bc.Position(), now, window),
		Messages:  s.View().Messages(),
	}
}
