package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rcliao/fieldsync/internal/feed"
)

// newUpgrader accepts browser connections from the listed origins only.
// With none listed, gorilla's same-host check applies. Clients that send no
// Origin header, such as other fieldsync processes, are always accepted.
func newUpgrader(allowed []string) websocket.Upgrader {
	if len(allowed) == 0 {
		return websocket.Upgrader{}
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || set[strings.ToLower(origin)]
		},
	}
}

const writeWait = 10 * time.Second

// serveFeed streams change events as JSON text frames. ?events=units,messages
// narrows the stream; no filter sends both.
func (s *Server) serveFeed(w http.ResponseWriter, r *http.Request) {
	var kinds []feed.Kind
	for _, k := range strings.Split(r.URL.Query().Get("events"), ",") {
		switch k = strings.TrimSpace(k); feed.Kind(k) {
		case "":
		case feed.KindUnit, feed.KindMessage:
			kinds = append(kinds, feed.Kind(k))
		default:
			writeError(w, http.StatusBadRequest, "unknown event type "+k)
			return
		}
	}
	if s.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "feed disabled")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	subID := uuid.NewString()
	logger := s.logger.With("subscriber", subID, "remote", r.RemoteAddr)
	logger.Info("feed subscriber connected", "events", kinds)
	defer logger.Info("feed subscriber disconnected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reading is only used to notice the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for ev := range s.feed.Events(ctx, kinds...) {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			logger.Debug("feed write failed", "error", err)
			return
		}
	}
}
