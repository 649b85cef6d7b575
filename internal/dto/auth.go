package dto

import (
	"time"

	"github.com/openshs/enrollment-api/internal/models"
)

// RegisterRequest holds the self-registration payload. Registrations always
// receive the STUDENT role; staff roles are seeded by administrators.
type RegisterRequest struct {
	LoginName   string `json:"login_name" validate:"required"`
	Secret      string `json:"secret" validate:"required,min=6"`
	DisplayName string `json:"display_name" validate:"required"`
	StudentID   string `json:"student_id" validate:"omitempty,len=12"`
}

// RegisterResponse summarises the created identity.
type RegisterResponse struct {
	ID        string      `json:"id"`
	LoginName string      `json:"login_name"`
	Role      models.Role `json:"role"`
}

// LoginRequest holds credentials for authenticating a principal.
type LoginRequest struct {
	LoginName string `json:"login_name" validate:"required"`
	Secret    string `json:"secret" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse returns the session token and bound identity snapshot.
type LoginResponse struct {
	Token     string                  `json:"token"`
	ExpiresAt time.Time               `json:"expires_at"`
	Identity  models.IdentitySnapshot `json:"identity"`
}

// UpdateRoleRequest replaces a principal's base role and extra roles.
type UpdateRoleRequest struct {
	Role       models.Role `json:"role" validate:"required"`
	ExtraRoles []string    `json:"extra_roles"`
}

// ImpersonateRequest starts an impersonation overlay on the session.
type ImpersonateRequest struct {
	TargetID string `json:"target_id" validate:"required"`
}
