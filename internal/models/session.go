package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is the server-side session record held in Redis. The whole record
// is rewritten on every mutation so a single SET is the unit of update.
type Session struct {
	ID            string           `json:"id"`
	Identity      IdentitySnapshot `json:"identity"`
	Impersonation *Impersonation   `json:"impersonation,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	ExpiresAt     time.Time        `json:"expires_at"`
}

// Impersonation is the reversible overlay placed on a session when a
// super admin acts as another identity. The original principal is kept for
// auditing and for restoring the session afterwards.
type Impersonation struct {
	OriginalIdentity IdentitySnapshot `json:"original_identity"`
	StartedAt        time.Time        `json:"started_at"`
}

// Impersonating reports whether the overlay is active.
func (s *Session) Impersonating() bool {
	return s.Impersonation != nil
}

// Effective returns the identity the session currently acts as.
func (s *Session) Effective() IdentitySnapshot {
	return s.Identity
}

// Actor returns the original principal behind the session, regardless of
// any active impersonation overlay.
func (s *Session) Actor() IdentitySnapshot {
	if s.Impersonation != nil {
		return s.Impersonation.OriginalIdentity
	}
	return s.Identity
}

// Principal pairs the identity a request acts as with the original
// principal behind it. Outside impersonation the two are identical.
type Principal struct {
	Actor     IdentitySnapshot
	Effective IdentitySnapshot
}

// Impersonated reports whether the request runs under an overlay.
func (p Principal) Impersonated() bool {
	return p.Actor.ID != p.Effective.ID
}

// AuditAttribution returns the actor and acting-as columns for an audit
// entry. ActorID is always the original principal; ActingAs is only set
// while impersonating.
func (p Principal) AuditAttribution() (actorID, actingAs *string) {
	id := p.Actor.ID
	if !p.Impersonated() {
		return &id, nil
	}
	as := p.Effective.ID
	return &id, &as
}

// Principal returns both sides of the session's identity in one value.
func (s *Session) Principal() Principal {
	return Principal{Actor: s.Actor(), Effective: s.Effective()}
}

// SessionClaims is the JWT payload of the bearer token handed to clients.
// The token only transports the session id; the Redis record stays
// authoritative so logout and impersonation take effect immediately.
type SessionClaims struct {
	SessionID string `json:"session_id"`
	LoginName string `json:"login_name"`
	Role      Role   `json:"role"`
	jwt.RegisteredClaims
}
