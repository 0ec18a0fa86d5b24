package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lifelink/lifelink/pkg/errors"
	"github.com/lifelink/lifelink/pkg/logger"
	"github.com/lifelink/lifelink/pkg/response"
)

// Recovery turns a handler panic into the standard 500 envelope. Install it after RequestID so
// the entry carries the correlation id.
func Recovery() gin.HandlerFunc {
	base := logger.WithModule("http")
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Enrich(c.Request.Context(), base).Error("handler panic",
				zap.String("method", c.Request.Method),
				zap.String("route", c.FullPath()),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			response.Error(c, errors.ErrInternalServer)
			c.Abort()
		}()
		c.Next()
	}
}

// NotFoundHandler returns a JSON 404 response for unknown routes.
func NotFoundHandler(c *gin.Context) {
	response.Error(c, errors.ErrNotFound.WithMessage("Route "+c.Request.URL.Path+" not found"))
}

// MethodNotAllowedHandler reports a 405 in the standard envelope.
func MethodNotAllowedHandler(c *gin.Context) {
	response.Error(c, errors.ErrMethodNotAllowed)
}
