package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitID(t *testing.T) {
	tests := []struct {
		name     string
		id       Identity
		expected string
	}{
		{"override wins", Identity{UnitOverride: "HQ-1", Email: "ruger@1.com"}, "HQ-1"},
		{"email local part", Identity{Email: "ruger@1.com", Subject: "abc"}, "RUGER"},
		{"subject fallback", Identity{Subject: "4c1f"}, "4c1f"},
		{"email without local part", Identity{Email: "@x.com", Subject: "s"}, "s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.id.UnitID()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	_, err := Identity{}.UnitID()
	require.ErrorIs(t, err, ErrNoIdentity)
}

func TestAdminIsARoleClaim(t *testing.T) {
	assert.NoError(t, RequireAdmin(Identity{Email: "a@b", Roles: []string{"viewer", " Admin "}}))

	// The address that used to be hard-coded grants nothing by itself.
	assert.ErrorIs(t, RequireAdmin(Identity{Email: "ruger@1.com"}), ErrUnauthorized)
}

func TestParseRoles(t *testing.T) {
	assert.Equal(t, []string{"admin", "ops"}, ParseRoles(" admin, ,ops "))
	assert.Nil(t, ParseRoles(""))
}
