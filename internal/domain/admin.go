package domain

import "strings"

// Role is an admin account role. Roles are stored as strings in the admins
// table; ParseRole is the only place a raw string becomes a Role.
type Role string

const (
	RoleSuperAdmin     Role = "super_admin"
	RoleAdministrator  Role = "administrator"
	RoleGovernment     Role = "government"
	RoleNPO            Role = "npo"
	RoleMSB            Role = "msb"
	RoleVolunteerAdmin Role = "volunteer_admin"
)

// AdminRoles is the full set of roles counted as administrators by the
// ADMINS_ONLY audience target.
var AdminRoles = []Role{
	RoleSuperAdmin, RoleAdministrator, RoleGovernment,
	RoleNPO, RoleMSB, RoleVolunteerAdmin,
}

func (r Role) IsValid() bool {
	for _, known := range AdminRoles {
		if r == known {
			return true
		}
	}
	return false
}

// Privileged reports whether the role may see resources owned by others
// (all broadcasts, the active session listing).
func (r Role) Privileged() bool {
	return r == RoleSuperAdmin || r == RoleAdministrator
}

// ParseRole normalizes a raw role string to a Role.
// Returns ErrInvalidTarget for empty or unknown values so the audience
// resolver never builds an IN list from an unnormalized string.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !r.IsValid() {
		return "", ErrInvalidTarget
	}
	return r, nil
}

// Admin is the slice of an admin account the fabric consumes: identity,
// role for audience filtering, and email for moderation alerts.
type Admin struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// SystemAdminID owns broadcasts originated by the moderation watcher.
const SystemAdminID int64 = 1

// Actor is the trusted identity of the calling administrator, provided by
// the surrounding auth collaborator. The core does not re-validate it.
type Actor struct {
	AdminID int64
	Role    Role
}

func (a Actor) Privileged() bool { return a.Role.Privileged() }
