package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/openshs/enrollment-api/internal/models"
	appErrors "github.com/openshs/enrollment-api/pkg/errors"
)

const pqUniqueViolation = "23505"

// IdentityRepository provides database access for registered principals.
type IdentityRepository struct {
	db *sqlx.DB
}

// NewIdentityRepository creates a new instance of IdentityRepository.
func NewIdentityRepository(db *sqlx.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// Create persists a new identity. Login-name uniqueness is enforced by the
// database constraint; a violation surfaces as ErrDuplicateIdentity.
func (r *IdentityRepository) Create(ctx context.Context, identity *models.Identity) error {
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	identity.UpdatedAt = now

	const query = `INSERT INTO identities (id, login_name, secret_hash, display_name, role, extra_roles, student_id, active, created_at, updated_at)
        VALUES (:id, :login_name, :secret_hash, :display_name, :role, :extra_roles, :student_id, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, identity); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == pqUniqueViolation {
			return appErrors.Clone(appErrors.ErrDuplicateIdentity, "")
		}
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

// FindByLogin returns an identity by its login name.
func (r *IdentityRepository) FindByLogin(ctx context.Context, loginName string) (*models.Identity, error) {
	const query = `SELECT id, login_name, secret_hash, display_name, role, extra_roles, student_id, active, created_at, updated_at
        FROM identities WHERE login_name = $1 LIMIT 1`
	var identity models.Identity
	if err := r.db.GetContext(ctx, &identity, query, loginName); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find identity by login: %w", err)
	}
	return &identity, nil
}

// FindByID returns an identity by identifier.
func (r *IdentityRepository) FindByID(ctx context.Context, id string) (*models.Identity, error) {
	const query = `SELECT id, login_name, secret_hash, display_name, role, extra_roles, student_id, active, created_at, updated_at
        FROM identities WHERE id = $1 LIMIT 1`
	var identity models.Identity
	if err := r.db.GetContext(ctx, &identity, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find identity by id: %w", err)
	}
	return &identity, nil
}

// UpdateRole replaces the base role and extra roles of an identity.
func (r *IdentityRepository) UpdateRole(ctx context.Context, id string, role models.Role, extraRoles []string, updatedAt time.Time) error {
	const query = `UPDATE identities SET role = $2, extra_roles = $3, updated_at = $4 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, role, pq.StringArray(extraRoles), updatedAt)
	if err != nil {
		return fmt.Errorf("update identity role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update identity role: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Deactivate soft-disables an identity; identities are never deleted.
func (r *IdentityRepository) Deactivate(ctx context.Context, id string, updatedAt time.Time) error {
	const query = `UPDATE identities SET active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, updatedAt); err != nil {
		return fmt.Errorf("deactivate identity: %w", err)
	}
	return nil
}
