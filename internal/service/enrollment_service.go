package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/openshs/enrollment-api/internal/access"
	"github.com/openshs/enrollment-api/internal/dto"
	"github.com/openshs/enrollment-api/internal/models"
	appErrors "github.com/openshs/enrollment-api/pkg/errors"
)

type enrollmentRepository interface {
	Create(ctx context.Context, record *models.EnrollmentRecord) error
	FindByID(ctx context.Context, id string) (*models.EnrollmentRecord, error)
	FindLatestByStudent(ctx context.Context, studentRef, schoolYear string) (*models.EnrollmentRecord, error)
	ExistsActive(ctx context.Context, studentID, schoolYear string) (bool, error)
	UpdateDecision(ctx context.Context, id string, status models.EnrollmentStatus, decidedBy string, decidedAt time.Time) (int64, error)
	Archive(ctx context.Context, id, reason string, archivedAt time.Time) (int64, error)
	SetGraduated(ctx context.Context, id string, graduatedAt time.Time) (int64, error)
	UpdateDocuments(ctx context.Context, id string, documents models.EnrollmentDocuments, updatedAt time.Time) error
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentRecord, int, error)
}

// EnrollmentService drives an application from submission through decision
// and archival. Every mutating operation authorizes against the resolved
// capability set, not a per-route role list.
type EnrollmentService struct {
	repo      enrollmentRepository
	audit     auditRecorder
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, audit auditRecorder, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, audit: audit, metrics: metrics, validator: validate, logger: logger}
}

// Submit files a new application for the acting student. Exactly one
// non-archived application may exist per (student id, school year); the
// database constraint decides races, the ExistsActive read just keeps the
// common duplicate path cheap.
func (s *EnrollmentService) Submit(ctx context.Context, principal models.Principal, req dto.SubmitEnrollmentRequest, documents models.EnrollmentDocuments) (*models.EnrollmentRecord, error) {
	actor := principal.Effective
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "only students can submit applications")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidInput.Code, appErrors.ErrInvalidInput.Status, "invalid application payload")
	}
	track := models.EnrollmentTrack(req.Track)
	if !track.Valid() {
		return nil, appErrors.Clone(appErrors.ErrInvalidInput, "track must be junior or senior")
	}
	if len(actor.StudentID) != models.StudentIDLength {
		return nil, appErrors.Clone(appErrors.ErrInvalidInput, "student id must be exactly 12 characters")
	}

	exists, err := s.repo.ExistsActive(ctx, actor.StudentID, req.SchoolYear)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing applications")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrDuplicateApplication, "")
	}

	record := &models.EnrollmentRecord{
		StudentRef:    actor.ID,
		ApplicantName: actor.DisplayName,
		StudentID:     actor.StudentID,
		Track:         track,
		SchoolYear:    req.SchoolYear,
		GradeLevel:    req.GradeLevel,
		Status:        models.EnrollmentStatusPending,
		Documents:     documents,
	}
	if req.Specialization != "" {
		specialization := req.Specialization
		record.Specialization = &specialization
	}

	if err := s.repo.Create(ctx, record); err != nil {
		if appErrors.HasCode(err, appErrors.ErrDuplicateApplication) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create application")
	}

	actorID, actingAs := principal.AuditAttribution()
	s.audit.Record(models.AuditLog{
		ActorID:    actorID,
		ActingAs:   actingAs,
		Action:     models.AuditActionEnrollSubmit,
		Resource:   "enrollment",
		ResourceID: &record.ID,
	})
	if s.metrics != nil {
		s.metrics.CountSubmission(string(track))
	}
	return record, nil
}

// GetMine returns the acting student's latest application, optionally
// scoped to a school year.
func (s *EnrollmentService) GetMine(ctx context.Context, principal models.Principal, schoolYear string) (*models.EnrollmentRecord, error) {
	if principal.Effective.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "only students have applications")
	}
	record, err := s.repo.FindLatestByStudent(ctx, principal.Effective.ID, schoolYear)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no application found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	return record, nil
}

// Get returns a single application for review staff.
func (s *EnrollmentService) Get(ctx context.Context, principal models.Principal, recordID string) (*models.EnrollmentRecord, error) {
	if !access.Can(principal.Effective, access.CapEnrollReview) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "")
	}
	record, err := s.repo.FindByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	return record, nil
}

// List returns the review queue with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, principal models.Principal, filter models.EnrollmentFilter) ([]models.EnrollmentRecord, *models.Pagination, error) {
	if !access.Can(principal.Effective, access.CapEnrollReview) {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "")
	}
	records, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return records, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Decide approves or rejects a pending application. Re-deciding an already
// decided record fails instead of silently overwriting.
func (s *EnrollmentService) Decide(ctx context.Context, principal models.Principal, recordID string, approve bool) (*models.EnrollmentRecord, error) {
	if !access.Can(principal.Effective, access.CapEnrollReview) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "")
	}

	status := models.EnrollmentStatusRejected
	action := models.AuditActionEnrollReject
	if approve {
		status = models.EnrollmentStatusApproved
		action = models.AuditActionEnrollApprove
	}

	affected, err := s.repo.UpdateDecision(ctx, recordID, status, principal.Effective.ID, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record decision")
	}
	if affected == 0 {
		return nil, s.explainStaleUpdate(ctx, recordID, "application is no longer pending")
	}

	record, err := s.repo.FindByID(ctx, recordID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}

	actorID, actingAs := principal.AuditAttribution()
	s.audit.Record(models.AuditLog{
		ActorID:    actorID,
		ActingAs:   actingAs,
		Action:     action,
		Resource:   "enrollment",
		ResourceID: &recordID,
	})
	if s.metrics != nil {
		s.metrics.CountDecision(string(status))
	}
	return record, nil
}

// Archive marks a decided application as archived with a reason. Pending
// applications cannot be archived.
func (s *EnrollmentService) Archive(ctx context.Context, principal models.Principal, recordID string, req dto.ArchiveEnrollmentRequest) (*models.EnrollmentRecord, error) {
	if !access.Can(principal.Effective, access.CapEnrollArchive) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidInput.Code, appErrors.ErrInvalidInput.Status, "archive reason is required")
	}

	affected, err := s.repo.Archive(ctx, recordID, req.Reason, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to archive application")
	}
	if affected == 0 {
		return nil, s.explainStaleUpdate(ctx, recordID, "only decided applications can be archived")
	}

	record, err := s.repo.FindByID(ctx, recordID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}

	actorID, actingAs := principal.AuditAttribution()
	s.audit.Record(models.AuditLog{
		ActorID:    actorID,
		ActingAs:   actingAs,
		Action:     models.AuditActionEnrollArchive,
		Resource:   "enrollment",
		ResourceID: &recordID,
	})
	return record, nil
}

// SetGraduated flags an approved application as graduated.
func (s *EnrollmentService) SetGraduated(ctx context.Context, principal models.Principal, recordID string) (*models.EnrollmentRecord, error) {
	if !access.Can(principal.Effective, access.CapEnrollReview) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "")
	}

	affected, err := s.repo.SetGraduated(ctx, recordID, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update application")
	}
	if affected == 0 {
		return nil, s.explainStaleUpdate(ctx, recordID, "only approved applications can graduate")
	}

	record, err := s.repo.FindByID(ctx, recordID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}

	actorID, actingAs := principal.AuditAttribution()
	s.audit.Record(models.AuditLog{
		ActorID:    actorID,
		ActingAs:   actingAs,
		Action:     models.AuditActionEnrollGraduate,
		Resource:   "enrollment",
		ResourceID: &recordID,
	})
	return record, nil
}

// AttachDocument associates an uploaded handle with a slot on the record,
// or appends it to the supplementary list when slot is empty. The caller
// must own the record or hold the review capability.
func (s *EnrollmentService) AttachDocument(ctx context.Context, principal models.Principal, recordID string, slot models.DocumentSlot, handle string) (*models.EnrollmentRecord, error) {
	record, err := s.repo.FindByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	if record.StudentRef != principal.Effective.ID && !access.Can(principal.Effective, access.CapEnrollReview) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "")
	}

	if slot == "" {
		if err := record.Documents.AppendSupplementary(handle); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrLimitExceeded.Code, appErrors.ErrLimitExceeded.Status, err.Error())
		}
	} else if err := record.Documents.Attach(slot, handle); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidInput.Code, appErrors.ErrInvalidInput.Status, err.Error())
	}

	if err := s.repo.UpdateDocuments(ctx, record.ID, record.Documents, time.Now().UTC()); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save documents")
	}
	return record, nil
}

// DocumentHandle resolves the storage handle in the named slot. Owners and
// holders of the documents capability may resolve handles.
func (s *EnrollmentService) DocumentHandle(ctx context.Context, principal models.Principal, recordID string, slot models.DocumentSlot) (string, error) {
	record, err := s.repo.FindByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	if record.StudentRef != principal.Effective.ID && !access.Can(principal.Effective, access.CapDocumentsView) {
		return "", appErrors.Clone(appErrors.ErrForbidden, "")
	}
	handle, ok := record.Documents.Slot(slot)
	if !ok {
		return "", appErrors.Clone(appErrors.ErrNotFound, "no document in slot")
	}
	return handle, nil
}

// VerifyDocumentHandle confirms a handle is still referenced by the record,
// so revoked or replaced documents cannot be fetched with an old token.
func (s *EnrollmentService) VerifyDocumentHandle(ctx context.Context, recordID, handle string) error {
	record, err := s.repo.FindByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	if !record.Documents.Contains(handle) {
		return appErrors.Clone(appErrors.ErrNotFound, "document not found")
	}
	return nil
}

// explainStaleUpdate distinguishes a missing record from a guarded update
// whose predicate no longer holds.
func (s *EnrollmentService) explainStaleUpdate(ctx context.Context, recordID, transitionMessage string) error {
	if _, err := s.repo.FindByID(ctx, recordID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	return appErrors.Clone(appErrors.ErrInvalidTransition, transitionMessage)
}
