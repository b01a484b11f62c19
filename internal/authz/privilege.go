package authz

import (
	"fmt"
	"strings"
)

// Privilege is the minimum standing a requester needs to reach a path.
type Privilege int

const (
	// PrivilegeNone marks a public path.
	PrivilegeNone Privilege = iota
	// PrivilegeAuthenticated requires any authenticated identity.
	PrivilegeAuthenticated
	// PrivilegeSuperAdmin requires an admin of a super admin family.
	PrivilegeSuperAdmin
)

func (p Privilege) String() string {
	switch p {
	case PrivilegeNone:
		return "none"
	case PrivilegeAuthenticated:
		return "authenticated"
	case PrivilegeSuperAdmin:
		return "super_admin"
	default:
		return fmt.Sprintf("privilege(%d)", int(p))
	}
}

// ParsePrivilege accepts "none", "authenticated" and "super_admin"
// (also spelled "superAdmin" or "super-admin"), case-insensitively.
func ParsePrivilege(s string) (Privilege, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "public":
		return PrivilegeNone, nil
	case "authenticated":
		return PrivilegeAuthenticated, nil
	case "super_admin", "superadmin", "super-admin":
		return PrivilegeSuperAdmin, nil
	default:
		return PrivilegeNone, fmt.Errorf("unknown privilege %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Privilege) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Privilege) UnmarshalText(text []byte) error {
	parsed, err := ParsePrivilege(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
