package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/openshs/enrollment-api/internal/models"
	"github.com/openshs/enrollment-api/internal/repository"
	"github.com/openshs/enrollment-api/internal/service"
	"github.com/openshs/enrollment-api/pkg/config"
	appErrors "github.com/openshs/enrollment-api/pkg/errors"
	"github.com/openshs/enrollment-api/pkg/storage"
)

type memIdentityRepo struct {
	byLogin map[string]*models.Identity
	byID    map[string]*models.Identity
}

func newMemIdentityRepo() *memIdentityRepo {
	return &memIdentityRepo{byLogin: map[string]*models.Identity{}, byID: map[string]*models.Identity{}}
}

func (m *memIdentityRepo) add(identity *models.Identity) {
	m.byLogin[identity.LoginName] = identity
	m.byID[identity.ID] = identity
}

func (m *memIdentityRepo) Create(ctx context.Context, identity *models.Identity) error {
	if _, exists := m.byLogin[identity.LoginName]; exists {
		return appErrors.Clone(appErrors.ErrDuplicateIdentity, "")
	}
	if identity.ID == "" {
		identity.ID = fmt.Sprintf("id-%d", len(m.byID)+1)
	}
	m.add(identity)
	return nil
}

func (m *memIdentityRepo) FindByLogin(ctx context.Context, loginName string) (*models.Identity, error) {
	if identity, ok := m.byLogin[loginName]; ok {
		return identity, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memIdentityRepo) FindByID(ctx context.Context, id string) (*models.Identity, error) {
	if identity, ok := m.byID[id]; ok {
		return identity, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memIdentityRepo) UpdateRole(ctx context.Context, id string, role models.Role, extraRoles []string, updatedAt time.Time) error {
	identity, ok := m.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	identity.Role = role
	identity.ExtraRoles = extraRoles
	return nil
}

func (m *memIdentityRepo) Deactivate(ctx context.Context, id string, updatedAt time.Time) error {
	identity, ok := m.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	identity.Active = false
	return nil
}

type memEnrollmentRepo struct {
	records map[string]models.EnrollmentRecord
	nextID  int
}

func newMemEnrollmentRepo() *memEnrollmentRepo {
	return &memEnrollmentRepo{records: map[string]models.EnrollmentRecord{}}
}

func (m *memEnrollmentRepo) Create(ctx context.Context, record *models.EnrollmentRecord) error {
	for _, existing := range m.records {
		if existing.StudentID == record.StudentID && existing.SchoolYear == record.SchoolYear && !existing.Archived {
			return appErrors.Clone(appErrors.ErrDuplicateApplication, "")
		}
	}
	m.nextID++
	record.ID = fmt.Sprintf("enroll-%d", m.nextID)
	record.CreatedAt = time.Now().UTC()
	m.records[record.ID] = *record
	return nil
}

func (m *memEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.EnrollmentRecord, error) {
	if record, ok := m.records[id]; ok {
		return &record, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memEnrollmentRepo) FindLatestByStudent(ctx context.Context, studentRef, schoolYear string) (*models.EnrollmentRecord, error) {
	var latest *models.EnrollmentRecord
	for id := range m.records {
		record := m.records[id]
		if record.StudentRef != studentRef {
			continue
		}
		if schoolYear != "" && record.SchoolYear != schoolYear {
			continue
		}
		if latest == nil || record.CreatedAt.After(latest.CreatedAt) {
			latest = &record
		}
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	return latest, nil
}

func (m *memEnrollmentRepo) ExistsActive(ctx context.Context, studentID, schoolYear string) (bool, error) {
	for _, record := range m.records {
		if record.StudentID == studentID && record.SchoolYear == schoolYear && !record.Archived {
			return true, nil
		}
	}
	return false, nil
}

func (m *memEnrollmentRepo) UpdateDecision(ctx context.Context, id string, status models.EnrollmentStatus, decidedBy string, decidedAt time.Time) (int64, error) {
	record, ok := m.records[id]
	if !ok || record.Status != models.EnrollmentStatusPending {
		return 0, nil
	}
	record.Status = status
	record.DecidedBy = &decidedBy
	record.DecidedAt = &decidedAt
	m.records[id] = record
	return 1, nil
}

func (m *memEnrollmentRepo) Archive(ctx context.Context, id, reason string, archivedAt time.Time) (int64, error) {
	record, ok := m.records[id]
	if !ok || record.Archived || record.Status == models.EnrollmentStatusPending {
		return 0, nil
	}
	record.Archived = true
	record.ArchiveReason = &reason
	m.records[id] = record
	return 1, nil
}

func (m *memEnrollmentRepo) SetGraduated(ctx context.Context, id string, graduatedAt time.Time) (int64, error) {
	record, ok := m.records[id]
	if !ok || record.Status != models.EnrollmentStatusApproved {
		return 0, nil
	}
	record.Graduated = true
	m.records[id] = record
	return 1, nil
}

func (m *memEnrollmentRepo) UpdateDocuments(ctx context.Context, id string, documents models.EnrollmentDocuments, updatedAt time.Time) error {
	record, ok := m.records[id]
	if !ok {
		return sql.ErrNoRows
	}
	record.Documents = documents
	m.records[id] = record
	return nil
}

func (m *memEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentRecord, int, error) {
	var list []models.EnrollmentRecord
	for _, record := range m.records {
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		list = append(list, record)
	}
	return list, len(list), nil
}

type memSessionStore struct {
	sessions map[string]models.Session
}

func (m *memSessionStore) Save(ctx context.Context, session *models.Session) error {
	if m.sessions == nil {
		m.sessions = make(map[string]models.Session)
	}
	m.sessions[session.ID] = *session
	return nil
}

func (m *memSessionStore) Find(ctx context.Context, id string) (*models.Session, error) {
	if session, ok := m.sessions[id]; ok {
		return &session, nil
	}
	return nil, repository.ErrSessionNotFound
}

func (m *memSessionStore) Delete(ctx context.Context, id string) error {
	delete(m.sessions, id)
	return nil
}

type capturingRecorder struct {
	entries []models.AuditLog
}

func (r *capturingRecorder) Record(entry models.AuditLog) {
	r.entries = append(r.entries, entry)
}

func (r *capturingRecorder) byAction(action string) []models.AuditLog {
	var matched []models.AuditLog
	for _, entry := range r.entries {
		if entry.Action == action {
			matched = append(matched, entry)
		}
	}
	return matched
}

type testEnv struct {
	router     *gin.Engine
	identities *memIdentityRepo
	records    *memEnrollmentRepo
	audit      *capturingRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	identities := newMemIdentityRepo()
	records := newMemEnrollmentRepo()
	store, err := storage.NewDocumentStore(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-signing-secret", 30*time.Minute)

	logger := zap.NewNop()
	audit := &capturingRecorder{}
	sessions := service.NewSessionService(&memSessionStore{}, identities, audit, logger, config.SessionConfig{
		TokenSecret: "test-token-secret",
		TTL:         time.Hour,
		Issuer:      "enrollment-api-test",
	})
	auth := service.NewAuthService(identities, sessions, audit, nil, validator.New(), logger)
	enrollment := service.NewEnrollmentService(records, audit, nil, validator.New(), logger)
	exports := service.NewExportService(records, logger, nil, nil)

	cfg := &config.Config{Env: "test"}
	router := NewRouter(RouterDeps{
		Config:     cfg,
		Logger:     logger,
		Sessions:   sessions,
		Metrics:    service.NewMetricsService(),
		Auth:       NewAuthHandler(auth),
		Enrollment: NewEnrollmentHandler(enrollment, exports, store, signer, 5<<20),
		Admin:      NewAdminHandler(auth, sessions),
	})
	return &testEnv{router: router, identities: identities, records: records, audit: audit}
}

func (e *testEnv) seedIdentity(t *testing.T, loginName, secret string, role models.Role, studentID string) *models.Identity {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
	identity := &models.Identity{
		ID:          "seed-" + loginName,
		LoginName:   loginName,
		SecretHash:  string(hash),
		DisplayName: loginName,
		Role:        role,
		Active:      true,
	}
	if studentID != "" {
		identity.StudentID = &studentID
	}
	e.identities.add(identity)
	return identity
}

func (e *testEnv) login(t *testing.T, loginName, secret string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"login_name": loginName, "secret": secret})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	e.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var envelope struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotEmpty(t, envelope.Data.Token)
	return envelope.Data.Token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	e.router.ServeHTTP(w, req)
	return w
}

func submitForm(t *testing.T, track, schoolYear string, withReportCard bool) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.WriteField("track", track))
	require.NoError(t, writer.WriteField("schoolYear", schoolYear))
	if withReportCard {
		part, err := writer.CreateFormFile("reportCard", "report-card.pdf")
		require.NoError(t, err)
		_, err = part.Write([]byte("%PDF-1.4 sample"))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func TestRouterRejectsUnauthenticated(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/enrollment/me", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouterHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogoutReturnsOK(t *testing.T) {
	env := newTestEnv(t)
	env.seedIdentity(t, "student1", "secret123", models.RoleStudent, "123456789012")
	token := env.login(t, "student1", "secret123")

	w := env.do(t, http.MethodPost, "/api/v1/auth/logout", token, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	// The session is gone, so the token no longer authenticates.
	w = env.do(t, http.MethodGet, "/api/v1/auth/me", token, nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEnrollmentLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.seedIdentity(t, "student1", "secret123", models.RoleStudent, "123456789012")
	env.seedIdentity(t, "registrar1", "secret123", models.RoleRegistrar, "")

	studentToken := env.login(t, "student1", "secret123")

	form, contentType := submitForm(t, "junior", "2025-2026", true)
	w := env.do(t, http.MethodPost, "/api/v1/enrollment", studentToken, form, contentType)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		Data models.EnrollmentRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, models.EnrollmentStatusPending, created.Data.Status)
	assert.NotNil(t, created.Data.Documents.ReportCard)

	// Duplicate submission for the same school year is refused.
	form, contentType = submitForm(t, "junior", "2025-2026", false)
	w = env.do(t, http.MethodPost, "/api/v1/enrollment", studentToken, form, contentType)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// The student can read back their own application.
	w = env.do(t, http.MethodGet, "/api/v1/enrollment/me", studentToken, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	// Students cannot reach the review queue.
	w = env.do(t, http.MethodGet, "/api/v1/enrollment/applications", studentToken, nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	registrarToken := env.login(t, "registrar1", "secret123")
	recordID := created.Data.ID

	w = env.do(t, http.MethodPost, "/api/v1/enrollment/applications/"+recordID+"/approve", registrarToken, nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// A second decision conflicts and the status stays APPROVED.
	w = env.do(t, http.MethodPost, "/api/v1/enrollment/applications/"+recordID+"/reject", registrarToken, nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, models.EnrollmentStatusApproved, env.records.records[recordID].Status)

	w = env.do(t, http.MethodPost, "/api/v1/enrollment/applications/"+recordID+"/graduate", registrarToken, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	archiveBody, _ := json.Marshal(map[string]string{"reason": "school year closed"})
	w = env.do(t, http.MethodPost, "/api/v1/enrollment/applications/"+recordID+"/archive", registrarToken, bytes.NewReader(archiveBody), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, env.records.records[recordID].Archived)
}

func TestDocumentLinkAndDownloadOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.seedIdentity(t, "student1", "secret123", models.RoleStudent, "123456789012")
	studentToken := env.login(t, "student1", "secret123")

	form, contentType := submitForm(t, "senior", "2025-2026", true)
	w := env.do(t, http.MethodPost, "/api/v1/enrollment", studentToken, form, contentType)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		Data models.EnrollmentRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = env.do(t, http.MethodGet, "/api/v1/enrollment/applications/"+created.Data.ID+"/documents/reportCard/link", studentToken, nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var link struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &link))
	require.NotEmpty(t, link.Data.Token)

	// The signed token is the only credential needed for the download.
	w = env.do(t, http.MethodGet, "/api/v1/documents/"+link.Data.Token, "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "%PDF-1.4")

	w = env.do(t, http.MethodGet, "/api/v1/documents/garbage-token", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestImpersonationOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.seedIdentity(t, "root", "secret123", models.RoleSuperAdmin, "")
	env.seedIdentity(t, "student1", "secret123", models.RoleStudent, "123456789012")
	env.seedIdentity(t, "admin1", "secret123", models.RoleAdmin, "")

	rootToken := env.login(t, "root", "secret123")

	body, _ := json.Marshal(map[string]string{"target_id": "seed-student1"})
	w := env.do(t, http.MethodPost, "/api/v1/admin/impersonate", rootToken, bytes.NewReader(body), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The session now acts as the student.
	w = env.do(t, http.MethodGet, "/api/v1/auth/me", rootToken, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var me struct {
		Data struct {
			Identity      models.IdentitySnapshot `json:"identity"`
			Impersonating bool                    `json:"impersonating"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	assert.True(t, me.Data.Impersonating)
	assert.Equal(t, "seed-student1", me.Data.Identity.ID)

	w = env.do(t, http.MethodPost, "/api/v1/admin/impersonate/stop", rootToken, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	// Ordinary admins do not hold the impersonation capability.
	adminToken := env.login(t, "admin1", "secret123")
	body, _ = json.Marshal(map[string]string{"target_id": "seed-student1"})
	w = env.do(t, http.MethodPost, "/api/v1/admin/impersonate", adminToken, bytes.NewReader(body), "application/json")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestImpersonatedDecisionAuditsOriginalActor(t *testing.T) {
	env := newTestEnv(t)
	env.seedIdentity(t, "root", "secret123", models.RoleSuperAdmin, "")
	env.seedIdentity(t, "registrar1", "secret123", models.RoleRegistrar, "")
	env.seedIdentity(t, "student1", "secret123", models.RoleStudent, "123456789012")

	studentToken := env.login(t, "student1", "secret123")
	form, contentType := submitForm(t, "junior", "2025-2026", false)
	w := env.do(t, http.MethodPost, "/api/v1/enrollment", studentToken, form, contentType)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		Data models.EnrollmentRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	rootToken := env.login(t, "root", "secret123")
	body, _ := json.Marshal(map[string]string{"target_id": "seed-registrar1"})
	w = env.do(t, http.MethodPost, "/api/v1/admin/impersonate", rootToken, bytes.NewReader(body), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/v1/enrollment/applications/"+created.Data.ID+"/approve", rootToken, nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The trail names the super admin as actor, not the impersonated
	// registrar.
	approvals := env.audit.byAction(models.AuditActionEnrollApprove)
	require.Len(t, approvals, 1)
	require.NotNil(t, approvals[0].ActorID)
	assert.Equal(t, "seed-root", *approvals[0].ActorID)
	require.NotNil(t, approvals[0].ActingAs)
	assert.Equal(t, "seed-registrar1", *approvals[0].ActingAs)
}

func TestRoleUpdateOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.seedIdentity(t, "admin1", "secret123", models.RoleAdmin, "")
	env.seedIdentity(t, "student1", "secret123", models.RoleStudent, "123456789012")
	env.seedIdentity(t, "registrar1", "secret123", models.RoleRegistrar, "")

	adminToken := env.login(t, "admin1", "secret123")

	body, _ := json.Marshal(map[string]interface{}{"role": "SSG", "extra_roles": []string{"MODERATOR"}})
	w := env.do(t, http.MethodPut, "/api/v1/admin/users/seed-student1/role", adminToken, bytes.NewReader(body), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.RoleSSG, env.identities.byID["seed-student1"].Role)

	// Registrars lack the roles capability.
	registrarToken := env.login(t, "registrar1", "secret123")
	w = env.do(t, http.MethodPut, "/api/v1/admin/users/seed-student1/role", registrarToken, bytes.NewReader(body), "application/json")
	assert.Equal(t, http.StatusForbidden, w.Code)
}
