package config

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/fieldsync/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // keep a developer .env out of the test
	t.Setenv("FIELDSYNC_DB", "/tmp/x.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, 3*time.Second, cfg.PushInterval)
	assert.Equal(t, time.Minute, cfg.PurgeInterval)
	assert.Equal(t, 10*time.Minute, cfg.Retention)
	assert.Equal(t, 60*time.Second, cfg.ActiveWindow)
	assert.Equal(t, model.UnitInfantry, cfg.UnitType)
	assert.Nil(t, cfg.FixedPosition)
	assert.Empty(t, cfg.AllowedOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FIELDSYNC_RETENTION", "1d")
	t.Setenv("FIELDSYNC_PUSH_INTERVAL", "500ms")
	t.Setenv("FIELDSYNC_POSITION", "33.30, 44.30")
	t.Setenv("FIELDSYNC_EMAIL", "ruger@1.com")
	t.Setenv("FIELDSYNC_ROLES", "admin")
	t.Setenv("FIELDSYNC_ALLOWED_ORIGINS", "https://ops.example, ,https://hq.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.Retention)
	assert.Equal(t, 500*time.Millisecond, cfg.PushInterval)
	require.NotNil(t, cfg.FixedPosition)
	assert.Equal(t, model.LatLng{Lat: 33.30, Lng: 44.30}, *cfg.FixedPosition)
	assert.True(t, cfg.Identity.IsAdmin())
	assert.Equal(t, []string{"https://ops.example", "https://hq.example"}, cfg.AllowedOrigins)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Setenv("FIELDSYNC_PUSH_INTERVAL", "soon")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("FIELDSYNC_PUSH_INTERVAL", "")
	t.Setenv("FIELDSYNC_UNIT_TYPE", "pilot")
	_, err = Load()
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in       string
		expected time.Duration
	}{
		{"7d", 7 * 24 * time.Hour},
		{"24h", 24 * time.Hour},
		{"30m", 30 * time.Minute},
		{"1m30s", 90 * time.Second},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.expected, got, tt.in)
	}
	_, err := ParseDuration("7 days")
	assert.Error(t, err)
}

func TestParseLatLng(t *testing.T) {
	p, err := ParseLatLng("33.3152,44.3661")
	require.NoError(t, err)
	assert.Equal(t, model.LatLng{Lat: 33.3152, Lng: 44.3661}, p)

	for _, bad := range []string{"33.3", "x,1", "1,y", "95,0"} {
		_, err := ParseLatLng(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "unit_id", "ALPHA")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.Contains(out, `"unit_id":"ALPHA"`), out)
}
