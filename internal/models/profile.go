package models

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// RoleAdmin is the only role with meaning to the authorization policy.
const RoleAdmin = "admin"

var (
	errProfileMissingRole   = errors.New("profile role is required")
	errProfileMissingFamily = errors.New("profile family_id is required")
)

// Profile extends an Identity with a role and the family (tenant) it belongs to.
// Profiles are looked up per request and never cached.
type Profile struct {
	ID       uuid.UUID // same as Identity.ID
	Role     string
	FamilyID string
	Name     string
}

// Validate checks the fields the authorization policy depends on.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Role) == "" {
		return errProfileMissingRole
	}
	if strings.TrimSpace(p.FamilyID) == "" {
		return errProfileMissingFamily
	}
	return nil
}

// IsAdmin reports whether the profile carries the admin role.
func (p *Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}
