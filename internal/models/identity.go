package models

import (
	"time"

	"github.com/lib/pq"
)

// Role represents the access roles recognised by the portal.
type Role string

const (
	RoleUser       Role = "USER"
	RoleStudent    Role = "STUDENT"
	RoleRegistrar  Role = "REGISTRAR"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPERADMIN"
	RoleSSG        Role = "SSG"
	RoleModerator  Role = "MODERATOR"
)

// AllRoles lists every recognised role in a stable order.
var AllRoles = []Role{RoleUser, RoleStudent, RoleRegistrar, RoleAdmin, RoleSuperAdmin, RoleSSG, RoleModerator}

// Valid reports whether the role is one of the recognised values.
func (r Role) Valid() bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}

// StudentIDLength is the fixed length of a learner reference number.
const StudentIDLength = 12

// Identity represents a registered principal stored in the identities table.
// The credential hash is never serialised to clients.
type Identity struct {
	ID          string         `db:"id" json:"id"`
	LoginName   string         `db:"login_name" json:"login_name"`
	SecretHash  string         `db:"secret_hash" json:"-"`
	DisplayName string         `db:"display_name" json:"display_name"`
	Role        Role           `db:"role" json:"role"`
	ExtraRoles  pq.StringArray `db:"extra_roles" json:"extra_roles"`
	StudentID   *string        `db:"student_id" json:"student_id,omitempty"`
	Active      bool           `db:"active" json:"active"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// IdentitySnapshot is the minimal identity payload bound to a session.
// It deliberately excludes the credential hash.
type IdentitySnapshot struct {
	ID          string `json:"id"`
	LoginName   string `json:"login_name"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
	ExtraRoles  []Role `json:"extra_roles,omitempty"`
	StudentID   string `json:"student_id,omitempty"`
}

// Snapshot converts a stored identity into its session form.
func (i *Identity) Snapshot() IdentitySnapshot {
	snap := IdentitySnapshot{
		ID:          i.ID,
		LoginName:   i.LoginName,
		DisplayName: i.DisplayName,
		Role:        i.Role,
	}
	for _, extra := range i.ExtraRoles {
		snap.ExtraRoles = append(snap.ExtraRoles, Role(extra))
	}
	if i.StudentID != nil {
		snap.StudentID = *i.StudentID
	}
	return snap
}
