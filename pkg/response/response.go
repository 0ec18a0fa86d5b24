// Package response renders the JSON envelope shared by every LifeLink endpoint:
// {"success": bool, "data": ..., "error": {...}, "meta": {...}}.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appErrors "github.com/lifelink/lifelink/pkg/errors"
	"github.com/lifelink/lifelink/pkg/logger"
)

// RequestIDHeader is read back from the response so error bodies quote the correlation id.
const RequestIDHeader = "X-Request-ID"

// Response is the envelope written by Success, Page and Error.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
	Meta    *Meta      `json:"meta,omitempty"`
}

// ErrorInfo is the client-visible part of an AppError.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Meta describes one page of a listing. Total is always present so clients can tell an empty
// listing from a missing field.
type Meta struct {
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`
}

// NewMeta derives pagination metadata from a 1-based page, a page size and the total count.
func NewMeta(page, perPage int, total int64) *Meta {
	if page < 1 {
		page = 1
	}
	meta := &Meta{Page: page, PerPage: perPage, Total: int(total)}
	if perPage > 0 {
		meta.TotalPages = int((total + int64(perPage) - 1) / int64(perPage))
		meta.HasMore = page < meta.TotalPages
	}
	return meta
}

// Success writes data in a success envelope.
func Success(c *gin.Context, status int, data any) {
	c.JSON(status, Response{Success: true, Data: data})
}

// SuccessWithMeta writes one page of a listing.
func SuccessWithMeta(c *gin.Context, status int, data any, meta *Meta) {
	c.JSON(status, Response{Success: true, Data: data, Meta: meta})
}

// Error renders err. AppErrors keep their code, status and details; anything else becomes a
// 500 whose cause is logged but never sent to the client.
func Error(c *gin.Context, err error) {
	if err == nil {
		err = appErrors.ErrInternalServer
	}

	appErr := appErrors.FromError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError && appErr.Internal != nil {
		log := logger.WithModule("http")
		if c.Request != nil {
			log = logger.Enrich(c.Request.Context(), log)
		}
		log.Error("request failed",
			zap.String("code", appErr.Code),
			zap.Error(appErr.Internal),
		)
	}

	c.JSON(status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Details:   appErr.Details,
			RequestID: c.Writer.Header().Get(RequestIDHeader),
		},
	})
}
