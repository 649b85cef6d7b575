package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/openshs/enrollment-api/internal/models"
	appErrors "github.com/openshs/enrollment-api/pkg/errors"
)

const enrollmentColumns = `id, student_ref, applicant_name, student_id, track, specialization, section, school_year, grade_level, status, documents, graduated, archived, archive_reason, decided_by, decided_at, created_at, updated_at`

// EnrollmentRepository handles persistence of enrollment applications.
//
// The one-active-application rule is backed by a partial unique index on
// (student_id, school_year) WHERE NOT archived, so concurrent submissions
// race safely at the database rather than in process.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Create persists a new application in its initial state.
func (r *EnrollmentRepository) Create(ctx context.Context, record *models.EnrollmentRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = models.EnrollmentStatusPending
	}

	const query = `INSERT INTO enrollments (` + enrollmentColumns + `)
        VALUES (:id, :student_ref, :applicant_name, :student_id, :track, :specialization, :section, :school_year, :grade_level, :status, :documents, :graduated, :archived, :archive_reason, :decided_by, :decided_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == pqUniqueViolation {
			return appErrors.Clone(appErrors.ErrDuplicateApplication, "")
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// FindByID returns an application by its identifier.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.EnrollmentRecord, error) {
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1 LIMIT 1`
	var record models.EnrollmentRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment by id: %w", err)
	}
	return &record, nil
}

// FindLatestByStudent returns the most recent application for a student,
// optionally scoped to a school year. Ties on created_at break on the
// lexicographically greater id so the result is total.
func (r *EnrollmentRepository) FindLatestByStudent(ctx context.Context, studentRef, schoolYear string) (*models.EnrollmentRecord, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE student_ref = $1`
	args := []interface{}{studentRef}
	if schoolYear != "" {
		query += fmt.Sprintf(" AND school_year = $%d", len(args)+1)
		args = append(args, schoolYear)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT 1"

	var record models.EnrollmentRecord
	if err := r.db.GetContext(ctx, &record, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find latest enrollment: %w", err)
	}
	return &record, nil
}

// ExistsActive checks whether a non-archived application exists for the
// (student id, school year) pair. The partial unique index remains the
// authoritative guard; this read keeps the common failure path cheap.
func (r *EnrollmentRepository) ExistsActive(ctx context.Context, studentID, schoolYear string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND school_year = $2 AND NOT archived LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, schoolYear); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active enrollment: %w", err)
	}
	return true, nil
}

// UpdateDecision moves a pending application to its decided status. The
// guarded WHERE keeps re-decisions from silently overwriting: zero rows
// means the record is missing or no longer pending.
func (r *EnrollmentRepository) UpdateDecision(ctx context.Context, id string, status models.EnrollmentStatus, decidedBy string, decidedAt time.Time) (int64, error) {
	const query = `UPDATE enrollments SET status = $2, decided_by = $3, decided_at = $4, updated_at = $4
        WHERE id = $1 AND status = $5`
	result, err := r.db.ExecContext(ctx, query, id, status, decidedBy, decidedAt, models.EnrollmentStatusPending)
	if err != nil {
		return 0, fmt.Errorf("update enrollment decision: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update enrollment decision: %w", err)
	}
	return affected, nil
}

// Archive marks a decided application as archived with a reason.
func (r *EnrollmentRepository) Archive(ctx context.Context, id, reason string, archivedAt time.Time) (int64, error) {
	const query = `UPDATE enrollments SET archived = TRUE, archive_reason = $2, updated_at = $3
        WHERE id = $1 AND status IN ($4, $5) AND NOT archived`
	result, err := r.db.ExecContext(ctx, query, id, reason, archivedAt, models.EnrollmentStatusApproved, models.EnrollmentStatusRejected)
	if err != nil {
		return 0, fmt.Errorf("archive enrollment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("archive enrollment: %w", err)
	}
	return affected, nil
}

// SetGraduated flags an approved application as graduated.
func (r *EnrollmentRepository) SetGraduated(ctx context.Context, id string, graduatedAt time.Time) (int64, error) {
	const query = `UPDATE enrollments SET graduated = TRUE, updated_at = $2
        WHERE id = $1 AND status = $3`
	result, err := r.db.ExecContext(ctx, query, id, graduatedAt, models.EnrollmentStatusApproved)
	if err != nil {
		return 0, fmt.Errorf("set enrollment graduated: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("set enrollment graduated: %w", err)
	}
	return affected, nil
}

// UpdateDocuments replaces the document handle set on an application.
func (r *EnrollmentRepository) UpdateDocuments(ctx context.Context, id string, documents models.EnrollmentDocuments, updatedAt time.Time) error {
	const query = `UPDATE enrollments SET documents = $2, updated_at = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, documents, updatedAt)
	if err != nil {
		return fmt.Errorf("update enrollment documents: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update enrollment documents: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns applications for the review queue with a total count.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentRecord, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.SchoolYear != "" {
		conditions = append(conditions, fmt.Sprintf("school_year = $%d", len(args)+1))
		args = append(args, filter.SchoolYear)
	}
	if filter.Track != "" {
		conditions = append(conditions, fmt.Sprintf("track = $%d", len(args)+1))
		args = append(args, filter.Track)
	}
	if filter.Archived != nil {
		if *filter.Archived {
			conditions = append(conditions, "archived")
		} else {
			conditions = append(conditions, "NOT archived")
		}
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT `+enrollmentColumns+` FROM enrollments%s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`, clause, size, offset)
	var records []models.EnrollmentRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM enrollments" + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return records, total, nil
}
