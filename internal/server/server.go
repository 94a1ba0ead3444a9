// Package server is the relay: an HTTP API over the shared store for
// clients that cannot open the database directly, plus a websocket change
// feed.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/rcliao/fieldsync/internal/auth"
	"github.com/rcliao/fieldsync/internal/chat"
	"github.com/rcliao/fieldsync/internal/clock"
	"github.com/rcliao/fieldsync/internal/feed"
	"github.com/rcliao/fieldsync/internal/model"
	"github.com/rcliao/fieldsync/internal/presence"
	"github.com/rcliao/fieldsync/internal/store"
)

// Identity headers set by the fronting auth proxy.
const (
	HeaderEmail   = "X-Fieldsync-Email"
	HeaderSubject = "X-Fieldsync-Subject"
	HeaderRoles   = "X-Fieldsync-Roles"
)

// Options configures a Server.
type Options struct {
	Store  store.Store
	Chat   *chat.Log
	Feed   *feed.Poller
	Clock  clock.Clock
	Logger *slog.Logger
	// AllowedOrigins lists browser origins that may open the feed.
	AllowedOrigins []string
}

// Server serves the relay API.
type Server struct {
	store  store.Store
	chat   *chat.Log
	feed   *feed.Poller
	clock  clock.Clock
	logger *slog.Logger
	router *mux.Router

	upgrader websocket.Upgrader
}

// New creates a server and registers its routes.
func New(opts Options) *Server {
	s := &Server{
		store:  opts.Store,
		chat:   opts.Chat,
		feed:   opts.Feed,
		clock:  opts.Clock,
		logger: opts.Logger,
	}
	s.upgrader = newUpgrader(opts.AllowedOrigins)
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.logRequests)

	api.HandleFunc("/units", s.listUnits).Methods("GET")
	api.HandleFunc("/units/{id}", s.getUnit).Methods("GET")
	api.HandleFunc("/units/{id}", s.pushUnit).Methods("PUT")
	api.HandleFunc("/units/{id}/type", s.setUnitType).Methods("PUT")

	api.HandleFunc("/messages", s.listMessages).Methods("GET")
	api.HandleFunc("/messages", s.sendMessage).Methods("POST")
	api.HandleFunc("/messages", s.clearMessages).Methods("DELETE")

	api.HandleFunc("/feed", s.serveFeed).Methods("GET")

	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("relay listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// IdentityFromRequest reads the caller identity headers.
func IdentityFromRequest(r *http.Request) auth.Identity {
	return auth.Identity{
		Email:   r.Header.Get(HeaderEmail),
		Subject: r.Header.Get(HeaderSubject),
		Roles:   auth.ParseRoles(r.Header.Get(HeaderRoles)),
	}
}

func (s *Server) listUnits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	units, err := s.store.ListUnits(r.Context(), store.ListUnitsParams{Limit: limit})
	if err != nil {
		s.internalError(w, "list units", err)
		return
	}

	if raw := q.Get("window"); raw != "" {
		window, err := time.ParseDuration(raw)
		if err != nil || window <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window")
			return
		}
		self, _ := IdentityFromRequest(r).UnitID()
		units = presence.Online(units, self, s.clock.Now(), window)
	}
	if units == nil {
		units = []model.UnitRecord{}
	}
	writeJSON(w, http.StatusOK, units)
}

func (s *Server) getUnit(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	u, err := s.store.GetUnit(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unit not found")
		return
	}
	if err != nil {
		s.internalError(w, "get unit", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// pushUnit accepts a full record from its owner.
func (s *Server) pushUnit(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	caller, err := IdentityFromRequest(r).UnitID()
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if caller != id {
		writeError(w, http.StatusForbidden, "only the owner may push a unit")
		return
	}

	var rec model.UnitRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rec.UnitID = id
	if !rec.Position.Valid() || rec.LastUpdated.IsZero() {
		writeError(w, http.StatusBadRequest, "position and last_updated are required")
		return
	}
	if rec.UnitType != "" && !model.ValidUnitTypes[rec.UnitType] {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid unit type %q", rec.UnitType))
		return
	}

	applied, err := s.store.UpsertUnit(r.Context(), rec)
	if err != nil {
		s.internalError(w, "push unit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

type unitTypeRequest struct {
	UnitType string `json:"unit_type"`
}

// setUnitType lets the owner or an admin change a unit's type.
func (s *Server) setUnitType(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ident := IdentityFromRequest(r)
	caller, _ := ident.UnitID()
	if caller != id && !ident.IsAdmin() {
		writeError(w, http.StatusForbidden, auth.ErrUnauthorized.Error())
		return
	}

	var req unitTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !model.ValidUnitTypes[req.UnitType] {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid unit type %q", req.UnitType))
		return
	}

	u, err := s.store.SetUnitType(r.Context(), store.SetUnitTypeParams{
		UnitID:   id,
		UnitType: req.UnitType,
		At:       s.clock.Now(),
	})
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unit not found")
		return
	}
	if err != nil {
		s.internalError(w, "set unit type", err)
		return
	}
	s.logger.Info("unit type set", "unit_id", id, "unit_type", u.UnitType, "by", caller)
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	msgs, err := s.chat.FetchRecent(r.Context(), limit)
	if err != nil {
		s.internalError(w, "list messages", err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendRequest struct {
	Content string `json:"content"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	unitID, _ := IdentityFromRequest(r).UnitID()
	msg, err := s.chat.Send(r.Context(), unitID, req.Content)
	if errors.Is(err, chat.ErrEmptyOrUnauthenticated) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, "send message", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) clearMessages(w http.ResponseWriter, r *http.Request) {
	err := s.chat.AdminClear(r.Context(), IdentityFromRequest(r))
	if errors.Is(err, auth.ErrUnauthorized) {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, "clear messages", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0, errors.New("invalid limit")
	}
	return n, nil
}
