// Package config loads fieldsync settings from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/rcliao/fieldsync/internal/auth"
	"github.com/rcliao/fieldsync/internal/model"
)

// Config contains application configuration.
type Config struct {
	DBPath string

	Identity auth.Identity
	UnitType string

	PushInterval    time.Duration
	FeedInterval    time.Duration
	PurgeInterval   time.Duration
	Retention       time.Duration
	PositionTimeout time.Duration
	ActiveWindow    time.Duration
	MapWindow       time.Duration

	// Position source: a fixed coordinate or a JSON file fed by a GPS daemon.
	FixedPosition *model.LatLng
	PositionFile  string

	RouterProvider string
	RouterURL      string
	RouterProfile  string
	GeocoderURL    string
	GeocoderRegion string

	ListenAddr string
	// AllowedOrigins are browser origins the relay feed accepts.
	AllowedOrigins []string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables and .env.
func Load() (Config, error) {
	_ = godotenv.Load()

	home, _ := os.UserHomeDir()
	cfg := Config{
		DBPath:          env("FIELDSYNC_DB", filepath.Join(home, ".fieldsync", "fieldsync.db")),
		UnitType:        env("FIELDSYNC_UNIT_TYPE", model.DefaultUnitType),
		PositionFile:    os.Getenv("FIELDSYNC_POSITION_FILE"),
		RouterProvider:  env("FIELDSYNC_ROUTER", "osrm"),
		RouterURL:       os.Getenv("FIELDSYNC_ROUTER_URL"),
		RouterProfile:   env("FIELDSYNC_ROUTER_PROFILE", "driving"),
		GeocoderURL:     os.Getenv("FIELDSYNC_GEOCODER_URL"),
		GeocoderRegion:  env("FIELDSYNC_GEOCODER_REGION", "iq"),
		ListenAddr:      env("FIELDSYNC_LISTEN", ":8080"),
		AllowedOrigins:  splitList(os.Getenv("FIELDSYNC_ALLOWED_ORIGINS")),
		LogLevel:        env("FIELDSYNC_LOG_LEVEL", "info"),
		LogFormat:       env("FIELDSYNC_LOG_FORMAT", "text"),
		Identity: auth.Identity{
			Subject:      os.Getenv("FIELDSYNC_SUBJECT"),
			Email:        os.Getenv("FIELDSYNC_EMAIL"),
			Roles:        auth.ParseRoles(os.Getenv("FIELDSYNC_ROLES")),
			UnitOverride: os.Getenv("FIELDSYNC_UNIT_ID"),
		},
	}

	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"FIELDSYNC_PUSH_INTERVAL", 3 * time.Second, &cfg.PushInterval},
		{"FIELDSYNC_FEED_INTERVAL", time.Second, &cfg.FeedInterval},
		{"FIELDSYNC_PURGE_INTERVAL", time.Minute, &cfg.PurgeInterval},
		{"FIELDSYNC_RETENTION", 10 * time.Minute, &cfg.Retention},
		{"FIELDSYNC_POSITION_TIMEOUT", 5 * time.Second, &cfg.PositionTimeout},
		{"FIELDSYNC_ACTIVE_WINDOW", 60 * time.Second, &cfg.ActiveWindow},
		{"FIELDSYNC_MAP_WINDOW", 120 * time.Second, &cfg.MapWindow},
	}
	for _, d := range durations {
		*d.dest = d.def
		raw := os.Getenv(d.key)
		if raw == "" {
			continue
		}
		v, err := ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", d.key, err)
		}
		if v <= 0 {
			return Config{}, fmt.Errorf("%s must be positive", d.key)
		}
		*d.dest = v
	}

	if !model.ValidUnitTypes[cfg.UnitType] {
		return Config{}, fmt.Errorf("FIELDSYNC_UNIT_TYPE: invalid unit type %q", cfg.UnitType)
	}

	if raw := os.Getenv("FIELDSYNC_POSITION"); raw != "" {
		p, err := ParseLatLng(raw)
		if err != nil {
			return Config{}, fmt.Errorf("FIELDSYNC_POSITION: %w", err)
		}
		cfg.FixedPosition = &p
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

var dayRegex = regexp.MustCompile(`^(\d+)d$`)

// ParseDuration accepts Go durations ("90s", "1h30m") plus a day suffix ("7d").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if m := dayRegex.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q (use e.g. 7d, 24h, 30m, 60s)", s)
	}
	return d, nil
}

// ParseLatLng parses "lat,lng".
func ParseLatLng(s string) (model.LatLng, error) {
	latStr, lngStr, ok := strings.Cut(s, ",")
	if !ok {
		return model.LatLng{}, fmt.Errorf("invalid coordinate %q (use lat,lng)", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return model.LatLng{}, fmt.Errorf("invalid latitude %q", latStr)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return model.LatLng{}, fmt.Errorf("invalid longitude %q", lngStr)
	}
	p := model.LatLng{Lat: lat, Lng: lng}
	if !p.Valid() {
		return model.LatLng{}, fmt.Errorf("coordinate %q out of range", s)
	}
	return p, nil
}

// NewLogger builds the process logger from the level and format settings.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
