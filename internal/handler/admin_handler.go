package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openshs/enrollment-api/internal/dto"
	"github.com/openshs/enrollment-api/internal/service"
	appErrors "github.com/openshs/enrollment-api/pkg/errors"
	"github.com/openshs/enrollment-api/pkg/response"
)

// AdminHandler exposes role management and impersonation.
type AdminHandler struct {
	auth     *service.AuthService
	sessions *service.SessionService
}

// NewAdminHandler creates a new handler.
func NewAdminHandler(auth *service.AuthService, sessions *service.SessionService) *AdminHandler {
	return &AdminHandler{auth: auth, sessions: sessions}
}

// UpdateRole replaces the target identity's base role and extra roles.
func (h *AdminHandler) UpdateRole(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidInput.Code, http.StatusBadRequest, "invalid role payload"))
		return
	}

	identity, err := h.auth.UpdateRole(c.Request.Context(), session.Principal(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, identity, nil)
}

// Deactivate soft-disables the target account.
func (h *AdminHandler) Deactivate(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.auth.Deactivate(c.Request.Context(), session.Principal(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Impersonate overlays the target identity onto the current session.
func (h *AdminHandler) Impersonate(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.ImpersonateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidInput.Code, http.StatusBadRequest, "target_id is required"))
		return
	}

	updated, err := h.sessions.BeginImpersonation(c.Request.Context(), session, req.TargetID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"identity":      updated.Effective(),
		"actor":         updated.Actor(),
		"impersonating": true,
	}, nil)
}

// StopImpersonation restores the original identity on the session.
func (h *AdminHandler) StopImpersonation(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	updated, err := h.sessions.EndImpersonation(c.Request.Context(), session)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"identity":      updated.Effective(),
		"impersonating": false,
	}, nil)
}
