package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/openshs/enrollment-api/internal/middleware"
	"github.com/openshs/enrollment-api/internal/models"
)

func sessionFromContext(c *gin.Context) *models.Session {
	session, ok := middleware.SessionFromContext(c)
	if !ok {
		return nil
	}
	return session
}
