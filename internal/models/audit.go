package models

import "time"

// Audit actions recorded by the portal.
const (
	AuditActionRegister         = "REGISTER"
	AuditActionLogin            = "LOGIN"
	AuditActionLogout           = "LOGOUT"
	AuditActionRoleUpdate       = "ROLE_UPDATE"
	AuditActionDeactivate       = "ACCOUNT_DEACTIVATE"
	AuditActionImpersonateBegin = "IMPERSONATE_BEGIN"
	AuditActionImpersonateEnd   = "IMPERSONATE_END"
	AuditActionEnrollSubmit     = "ENROLLMENT_SUBMIT"
	AuditActionEnrollApprove    = "ENROLLMENT_APPROVE"
	AuditActionEnrollReject     = "ENROLLMENT_REJECT"
	AuditActionEnrollArchive    = "ENROLLMENT_ARCHIVE"
	AuditActionEnrollGraduate   = "ENROLLMENT_GRADUATE"
)

// AuditLog records who did what. ActorID is always the original principal;
// ActingAs is set when the action happened under an impersonation overlay.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	ActorID    *string   `db:"actor_id" json:"actor_id,omitempty"`
	ActingAs   *string   `db:"acting_as" json:"acting_as,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	Detail     []byte    `db:"detail" json:"detail,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent  string    `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
