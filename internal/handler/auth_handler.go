package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openshs/enrollment-api/internal/access"
	"github.com/openshs/enrollment-api/internal/dto"
	"github.com/openshs/enrollment-api/internal/service"
	appErrors "github.com/openshs/enrollment-api/pkg/errors"
	"github.com/openshs/enrollment-api/pkg/response"
)

// AuthHandler wires HTTP endpoints to the auth service.
type AuthHandler struct {
	service *service.AuthService
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc *service.AuthService) *AuthHandler {
	return &AuthHandler{service: svc}
}

// Register creates a new student identity.
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidInput.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}

	identity, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.RegisterResponse{
		ID:        identity.ID,
		LoginName: identity.LoginName,
		Role:      identity.Role,
	})
}

// Login verifies credentials and returns a session token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidInput.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	res, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res, nil)
}

// Logout destroys the current session.
func (h *AuthHandler) Logout(c *gin.Context) {
	session := sessionFromContext(c)
	if err := h.service.Logout(c.Request.Context(), session); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{}, nil)
}

// Me returns the effective identity plus impersonation state.
func (h *AuthHandler) Me(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	payload := gin.H{
		"identity":      session.Effective(),
		"impersonating": session.Impersonating(),
	}
	if session.Impersonating() {
		payload["actor"] = session.Actor()
	}
	response.JSON(c, http.StatusOK, payload, nil)
}

// Menu returns the capability set resolved for the effective identity. The
// same set gates every protected route.
func (h *AuthHandler) Menu(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	response.JSON(c, http.StatusOK, access.EffectiveMenu(session.Effective()), nil)
}
