package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openshs/enrollment-api/internal/models"
	"github.com/openshs/enrollment-api/internal/repository"
	"github.com/openshs/enrollment-api/pkg/config"
	appErrors "github.com/openshs/enrollment-api/pkg/errors"
)

type sessionStore interface {
	Save(ctx context.Context, session *models.Session) error
	Find(ctx context.Context, id string) (*models.Session, error)
	Delete(ctx context.Context, id string) error
}

type identityReader interface {
	FindByID(ctx context.Context, id string) (*models.Identity, error)
}

// SessionService owns the server-side session lifecycle, including the
// impersonation overlay. Sessions are values: every mutation produces a new
// record that replaces the stored one in a single write.
type SessionService struct {
	store      sessionStore
	identities identityReader
	audit      auditRecorder
	logger     *zap.Logger
	config     config.SessionConfig
}

// NewSessionService constructs a SessionService instance.
func NewSessionService(store sessionStore, identities identityReader, audit auditRecorder, logger *zap.Logger, cfg config.SessionConfig) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{store: store, identities: identities, audit: audit, logger: logger, config: cfg}
}

// Start binds a minimal identity snapshot to a new session and returns the
// bearer token transporting its id. The credential secret never enters the
// session record.
func (s *SessionService) Start(ctx context.Context, identity *models.Identity) (*models.Session, string, error) {
	now := time.Now().UTC()
	session := &models.Session{
		ID:        uuid.NewString(),
		Identity:  identity.Snapshot(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.TTL),
	}
	if err := s.store.Save(ctx, session); err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist session")
	}
	token, err := s.signToken(session)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign session token")
	}
	return session, token, nil
}

// Current resolves a bearer token to its live session record. The Redis
// record is authoritative: a destroyed session fails even if the token
// itself has not expired.
func (s *SessionService) Current(ctx context.Context, token string) (*models.Session, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return nil, err
	}
	session, err := s.store.Find(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

// Destroy terminates the session. Destroying an already-terminated session
// succeeds.
func (s *SessionService) Destroy(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to destroy session")
	}
	return nil
}

// BeginImpersonation substitutes the acting identity with the target's,
// keeping the original principal on the overlay. Only a super admin acting
// as themselves may start one; stacking overlays is refused outright so a
// chain of impersonations can never launder privileges.
func (s *SessionService) BeginImpersonation(ctx context.Context, session *models.Session, targetID string) (*models.Session, error) {
	if session.Impersonating() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "impersonation already active")
	}
	if session.Identity.Role != models.RoleSuperAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "impersonation requires super admin")
	}
	if targetID == session.Identity.ID {
		return nil, appErrors.Clone(appErrors.ErrInvalidInput, "cannot impersonate yourself")
	}

	target, err := s.identities.FindByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "target identity not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load target identity")
	}

	updated := *session
	updated.Impersonation = &models.Impersonation{
		OriginalIdentity: session.Identity,
		StartedAt:        time.Now().UTC(),
	}
	updated.Identity = target.Snapshot()

	if err := s.store.Save(ctx, &updated); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist impersonation")
	}

	actorID := updated.Impersonation.OriginalIdentity.ID
	s.audit.Record(models.AuditLog{
		ActorID:    &actorID,
		ActingAs:   &target.ID,
		Action:     models.AuditActionImpersonateBegin,
		Resource:   "session",
		ResourceID: &updated.ID,
	})
	return &updated, nil
}

// EndImpersonation removes the overlay and restores the original principal.
func (s *SessionService) EndImpersonation(ctx context.Context, session *models.Session) (*models.Session, error) {
	if !session.Impersonating() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "no impersonation active")
	}

	actorID := session.Impersonation.OriginalIdentity.ID
	actedAs := session.Identity.ID

	updated := *session
	updated.Identity = session.Impersonation.OriginalIdentity
	updated.Impersonation = nil

	if err := s.store.Save(ctx, &updated); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist session")
	}

	s.audit.Record(models.AuditLog{
		ActorID:    &actorID,
		ActingAs:   &actedAs,
		Action:     models.AuditActionImpersonateEnd,
		Resource:   "session",
		ResourceID: &updated.ID,
	})
	return &updated, nil
}

func (s *SessionService) signToken(session *models.Session) (string, error) {
	claims := &models.SessionClaims{
		SessionID: session.ID,
		LoginName: session.Identity.LoginName,
		Role:      session.Identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   session.Identity.ID,
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(session.CreatedAt),
			NotBefore: jwt.NewNumericDate(session.CreatedAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.TokenSecret))
}

func (s *SessionService) parseToken(tokenString string) (*models.SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.TokenSecret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid session token")
	}
	claims, ok := token.Claims.(*models.SessionClaims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid session token claims")
	}
	return claims, nil
}
