package handler

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openshs/enrollment-api/internal/dto"
	"github.com/openshs/enrollment-api/internal/models"
	"github.com/openshs/enrollment-api/internal/service"
	appErrors "github.com/openshs/enrollment-api/pkg/errors"
	"github.com/openshs/enrollment-api/pkg/response"
	"github.com/openshs/enrollment-api/pkg/storage"
)

// documentSlots maps multipart field names onto their document slots.
var documentSlots = []models.DocumentSlot{
	models.SlotReportCard,
	models.SlotGoodConductCert,
	models.SlotBirthCertificate,
}

// supplementaryField is the multipart field carrying extra documents.
const supplementaryField = "supplementary"

// EnrollmentHandler exposes the application lifecycle over HTTP.
type EnrollmentHandler struct {
	service   *service.EnrollmentService
	exports   *service.ExportService
	store     *storage.DocumentStore
	signer    *storage.SignedURLSigner
	maxUpload int64
}

// NewEnrollmentHandler creates a new handler.
func NewEnrollmentHandler(svc *service.EnrollmentService, exports *service.ExportService, store *storage.DocumentStore, signer *storage.SignedURLSigner, maxUpload int64) *EnrollmentHandler {
	return &EnrollmentHandler{service: svc, exports: exports, store: store, signer: signer, maxUpload: maxUpload}
}

// Submit accepts the multipart application form. Named document fields fill
// their slots; extra files go to the supplementary list.
func (h *EnrollmentHandler) Submit(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.SubmitEnrollmentRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidInput.Code, http.StatusBadRequest, "invalid application form"))
		return
	}

	documents, err := h.collectDocuments(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	record, err := h.service.Submit(c.Request.Context(), session.Principal(), req, documents)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

func (h *EnrollmentHandler) collectDocuments(c *gin.Context) (models.EnrollmentDocuments, error) {
	var documents models.EnrollmentDocuments

	form, err := c.MultipartForm()
	if err != nil {
		// A form without any file parts is a valid submission.
		return documents, nil
	}

	for _, slot := range documentSlots {
		files := form.File[string(slot)]
		if len(files) == 0 {
			continue
		}
		handle, err := h.saveUpload(files[0])
		if err != nil {
			return documents, err
		}
		if err := documents.Attach(slot, handle); err != nil {
			return documents, appErrors.Clone(appErrors.ErrInvalidInput, err.Error())
		}
	}

	for _, file := range form.File[supplementaryField] {
		handle, err := h.saveUpload(file)
		if err != nil {
			return documents, err
		}
		if err := documents.AppendSupplementary(handle); err != nil {
			return documents, appErrors.Clone(appErrors.ErrLimitExceeded, err.Error())
		}
	}
	return documents, nil
}

func (h *EnrollmentHandler) saveUpload(file *multipart.FileHeader) (string, error) {
	if h.maxUpload > 0 && file.Size > h.maxUpload {
		return "", appErrors.Clone(appErrors.ErrLimitExceeded, fmt.Sprintf("file %s exceeds the upload size limit", file.Filename))
	}
	src, err := file.Open()
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInvalidInput.Code, http.StatusBadRequest, "unreadable upload")
	}
	defer src.Close()

	handle, err := h.store.Save(file.Filename, src)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store upload")
	}
	return handle, nil
}

// Mine returns the acting student's latest application.
func (h *EnrollmentHandler) Mine(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	record, err := h.service.GetMine(c.Request.Context(), session.Principal(), c.Query("schoolYear"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// List returns the review queue.
func (h *EnrollmentHandler) List(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := filterFromQuery(c)
	records, pagination, err := h.service.List(c.Request.Context(), session.Principal(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}

// Get returns a single application for review staff.
func (h *EnrollmentHandler) Get(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	record, err := h.service.Get(c.Request.Context(), session.Principal(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Approve transitions a pending application to APPROVED.
func (h *EnrollmentHandler) Approve(c *gin.Context) {
	h.decide(c, true)
}

// Reject transitions a pending application to REJECTED.
func (h *EnrollmentHandler) Reject(c *gin.Context) {
	h.decide(c, false)
}

func (h *EnrollmentHandler) decide(c *gin.Context, approve bool) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	record, err := h.service.Decide(c.Request.Context(), session.Principal(), c.Param("id"), approve)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Archive marks a decided application as archived.
func (h *EnrollmentHandler) Archive(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.ArchiveEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidInput.Code, http.StatusBadRequest, "archive reason is required"))
		return
	}

	record, err := h.service.Archive(c.Request.Context(), session.Principal(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Graduate flags an approved application as graduated.
func (h *EnrollmentHandler) Graduate(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	record, err := h.service.SetGraduated(c.Request.Context(), session.Principal(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// AttachDocument adds a document to an existing application. An empty slot
// query parameter appends to the supplementary list.
func (h *EnrollmentHandler) AttachDocument(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	file, err := c.FormFile("document")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidInput, "document file is required"))
		return
	}
	handle, err := h.saveUpload(file)
	if err != nil {
		response.Error(c, err)
		return
	}

	slot := models.DocumentSlot(c.Query("slot"))
	record, err := h.service.AttachDocument(c.Request.Context(), session.Principal(), c.Param("id"), slot, handle)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// DocumentLink issues a short-lived signed download token for a slot.
func (h *EnrollmentHandler) DocumentLink(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	recordID := c.Param("id")
	slot := models.DocumentSlot(c.Param("slot"))

	handle, err := h.service.DocumentHandle(c.Request.Context(), session.Principal(), recordID, slot)
	if err != nil {
		response.Error(c, err)
		return
	}

	token, expiresAt, err := h.signer.Generate(recordID, handle)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link"))
		return
	}
	response.JSON(c, http.StatusOK, dto.DocumentLinkResponse{Token: token, ExpiresAt: expiresAt}, nil)
}

// Download streams a document referenced by a signed token. The token is
// the only credential; possession implies access until it expires.
func (h *EnrollmentHandler) Download(c *gin.Context) {
	recordID, handle, _, err := h.signer.Parse(c.Param("token"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token"))
		return
	}

	if err := h.service.VerifyDocumentHandle(c.Request.Context(), recordID, handle); err != nil {
		response.Error(c, err)
		return
	}

	path, err := h.store.Path(handle)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "document not found"))
		return
	}
	c.FileAttachment(path, handle)
}

// ExportRoster streams the roster as CSV or PDF.
func (h *EnrollmentHandler) ExportRoster(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	format := service.RosterFormat(c.DefaultQuery("format", "csv"))
	result, err := h.exports.Roster(c.Request.Context(), session.Effective(), filterFromQuery(c), format)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, result.ContentType, result.Payload)
}

func filterFromQuery(c *gin.Context) models.EnrollmentFilter {
	filter := models.EnrollmentFilter{
		Status:     models.EnrollmentStatus(c.Query("status")),
		SchoolYear: c.Query("schoolYear"),
		Track:      models.EnrollmentTrack(c.Query("track")),
	}
	if raw := c.Query("archived"); raw != "" {
		if archived, err := strconv.ParseBool(raw); err == nil {
			filter.Archived = &archived
		}
	}
	if page, err := strconv.Atoi(c.Query("page")); err == nil && page > 0 {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.Query("pageSize")); err == nil && size > 0 {
		if size > 100 {
			size = 100
		}
		filter.PageSize = size
	}
	return filter
}
