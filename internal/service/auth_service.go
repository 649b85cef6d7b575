package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/openshs/enrollment-api/internal/dto"
	"github.com/openshs/enrollment-api/internal/models"
	appErrors "github.com/openshs/enrollment-api/pkg/errors"
)

type authIdentityRepository interface {
	Create(ctx context.Context, identity *models.Identity) error
	FindByLogin(ctx context.Context, loginName string) (*models.Identity, error)
	FindByID(ctx context.Context, id string) (*models.Identity, error)
	UpdateRole(ctx context.Context, id string, role models.Role, extraRoles []string, updatedAt time.Time) error
	Deactivate(ctx context.Context, id string, updatedAt time.Time) error
}

// dummySecretHash keeps the unknown-login path doing the same bcrypt work
// as the wrong-secret path, so both failures have an identical shape.
const dummySecretHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// AuthService covers registration, credential verification and the session
// endpoints built on top of them.
type AuthService struct {
	repo      authIdentityRepository
	sessions  *SessionService
	audit     auditRecorder
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authIdentityRepository, sessions *SessionService, audit auditRecorder, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *AuthService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{repo: repo, sessions: sessions, audit: audit, metrics: metrics, validator: validate, logger: logger}
}

// Register creates a new identity with the default STUDENT role. The secret
// is stored as a one-way hash and never returned to callers.
func (s *AuthService) Register(ctx context.Context, req dto.RegisterRequest) (*models.Identity, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidInput.Code, appErrors.ErrInvalidInput.Status, "login name and secret are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash secret")
	}

	identity := &models.Identity{
		LoginName:   req.LoginName,
		SecretHash:  string(hash),
		DisplayName: req.DisplayName,
		Role:        models.RoleStudent,
		ExtraRoles:  pq.StringArray{},
		Active:      true,
	}
	if req.StudentID != "" {
		studentID := req.StudentID
		identity.StudentID = &studentID
	}

	if err := s.repo.Create(ctx, identity); err != nil {
		if appErrors.HasCode(err, appErrors.ErrDuplicateIdentity) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create identity")
	}

	s.audit.Record(models.AuditLog{
		ActorID:    &identity.ID,
		Action:     models.AuditActionRegister,
		Resource:   "identity",
		ResourceID: &identity.ID,
	})
	return identity, nil
}

// Login verifies credentials and starts a session. Unknown login names and
// wrong secrets fail identically so nothing leaks about which one it was.
func (s *AuthService) Login(ctx context.Context, req dto.LoginRequest) (*dto.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidInput.Code, appErrors.ErrInvalidInput.Status, "invalid login payload")
	}

	identity, err := s.repo.FindByLogin(ctx, req.LoginName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = bcrypt.CompareHashAndPassword([]byte(dummySecretHash), []byte(req.Secret))
			s.metrics.CountLogin("failure")
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch identity")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(identity.SecretHash), []byte(req.Secret)); err != nil {
		s.metrics.CountLogin("failure")
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	if !identity.Active {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "account is inactive")
	}

	session, token, err := s.sessions.Start(ctx, identity)
	if err != nil {
		return nil, err
	}
	s.metrics.CountLogin("success")

	s.audit.Record(models.AuditLog{
		ActorID:    &identity.ID,
		Action:     models.AuditActionLogin,
		Resource:   "session",
		ResourceID: &session.ID,
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
	})

	return &dto.LoginResponse{
		Token:     token,
		ExpiresAt: session.ExpiresAt,
		Identity:  session.Identity,
	}, nil
}

// Logout destroys the session. Always succeeds for a missing session.
func (s *AuthService) Logout(ctx context.Context, session *models.Session) error {
	if session == nil {
		return nil
	}
	if err := s.sessions.Destroy(ctx, session.ID); err != nil {
		return err
	}
	actorID, actingAs := session.Principal().AuditAttribution()
	s.audit.Record(models.AuditLog{
		ActorID:    actorID,
		ActingAs:   actingAs,
		Action:     models.AuditActionLogout,
		Resource:   "session",
		ResourceID: &session.ID,
	})
	return nil
}

// UpdateRole replaces the target's base role and extra roles. Route access
// is gated by the roles.manage capability; the service revalidates inputs.
func (s *AuthService) UpdateRole(ctx context.Context, principal models.Principal, targetID string, req dto.UpdateRoleRequest) (*models.Identity, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidInput.Code, appErrors.ErrInvalidInput.Status, "invalid role payload")
	}
	if !req.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrInvalidInput, "unknown role")
	}
	for _, extra := range req.ExtraRoles {
		if !models.Role(extra).Valid() {
			return nil, appErrors.Clone(appErrors.ErrInvalidInput, "unknown extra role")
		}
	}

	if err := s.repo.UpdateRole(ctx, targetID, req.Role, req.ExtraRoles, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "identity not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update role")
	}

	updated, err := s.repo.FindByID(ctx, targetID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load identity")
	}

	actorID, actingAs := principal.AuditAttribution()
	s.audit.Record(models.AuditLog{
		ActorID:    actorID,
		ActingAs:   actingAs,
		Action:     models.AuditActionRoleUpdate,
		Resource:   "identity",
		ResourceID: &targetID,
	})
	return updated, nil
}

// Deactivate soft-disables an account. Identities are never deleted, so the
// audit trail keeps resolving actor ids after the account is closed.
func (s *AuthService) Deactivate(ctx context.Context, principal models.Principal, targetID string) error {
	if targetID == principal.Effective.ID {
		return appErrors.Clone(appErrors.ErrInvalidInput, "cannot deactivate your own account")
	}
	if _, err := s.repo.FindByID(ctx, targetID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "identity not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load identity")
	}
	if err := s.repo.Deactivate(ctx, targetID, time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate identity")
	}

	actorID, actingAs := principal.AuditAttribution()
	s.audit.Record(models.AuditLog{
		ActorID:    actorID,
		ActingAs:   actingAs,
		Action:     models.AuditActionDeactivate,
		Resource:   "identity",
		ResourceID: &targetID,
	})
	return nil
}
