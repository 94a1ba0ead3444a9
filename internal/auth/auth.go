// Package auth turns the caller identity supplied by the authentication
// provider into a unit id and answers the admin question.
package auth

import (
	"errors"
	"strings"
)

// RoleAdmin is the claim that grants privileged operations.
const RoleAdmin = "admin"

// ErrUnauthorized is returned when a caller lacks the required role.
var ErrUnauthorized = errors.New("unauthorized")

// ErrNoIdentity is returned when no unit id can be derived.
var ErrNoIdentity = errors.New("no identity")

// Identity is what the provider tells us about the caller.
type Identity struct {
	Subject string   `json:"subject,omitempty"`
	Email   string   `json:"email,omitempty"`
	Roles   []string `json:"roles,omitempty"`

	// UnitOverride pins the unit id instead of deriving it.
	UnitOverride string `json:"unit_id,omitempty"`
}

// UnitID derives the unit id: an explicit override, else the upper-cased
// local part of the email, else the subject.
func (id Identity) UnitID() (string, error) {
	if u := strings.TrimSpace(id.UnitOverride); u != "" {
		return u, nil
	}
	if email := strings.TrimSpace(id.Email); email != "" {
		local, _, _ := strings.Cut(email, "@")
		if local != "" {
			return strings.ToUpper(local), nil
		}
	}
	if s := strings.TrimSpace(id.Subject); s != "" {
		return s, nil
	}
	return "", ErrNoIdentity
}

// HasRole reports whether the identity carries role.
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if strings.EqualFold(strings.TrimSpace(r), role) {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the identity may run privileged operations.
func (id Identity) IsAdmin() bool {
	return id.HasRole(RoleAdmin)
}

// RequireAdmin returns ErrUnauthorized unless id is an admin.
func RequireAdmin(id Identity) error {
	if !id.IsAdmin() {
		return ErrUnauthorized
	}
	return nil
}

// ParseRoles splits a comma separated role list, dropping blanks.
func ParseRoles(s string) []string {
	var roles []string
	for _, r := range strings.Split(s, ",") {
		r = strings.TrimSpace(r)
		if r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}
