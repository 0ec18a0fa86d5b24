package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lifelink/lifelink/internal/middleware"
	"github.com/lifelink/lifelink/internal/services"
	"github.com/lifelink/lifelink/pkg/errors"
	"github.com/lifelink/lifelink/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentActor reads the authenticated caller set by middleware.Auth. It writes a 401 and
// returns false when the request is anonymous.
func currentActor(c *gin.Context) (services.Actor, bool) {
	userID := strings.TrimSpace(c.GetString(middleware.CtxUserIDKey))
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return services.Actor{}, false
	}
	return services.Actor{UserID: userID, IsAdmin: c.GetBool(middleware.CtxIsAdminKey)}, true
}

func pathID(c *gin.Context) string {
	return strings.TrimSpace(c.Param("id"))
}
