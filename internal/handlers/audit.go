package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lifelink/lifelink/internal/services"
	"github.com/lifelink/lifelink/pkg/response"
)

// AuditHandler lets administrators page through the mutation audit trail.
type AuditHandler struct {
	svc *services.AuditService
}

func NewAuditHandler(svc *services.AuditService) *AuditHandler {
	return &AuditHandler{svc: svc}
}

// GET /api/lifelink/audit
func (h *AuditHandler) List(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	per := parseIntQuery(c, "per_page", 50)

	filters := services.AuditFilters{
		ActorID:    c.Query("actor_id"),
		Action:     c.Query("action"),
		Result:     c.Query("result"),
		Resource:   c.Query("resource"),
		ResourceID: c.Query("resource_id"),
		Since:      parseTimeQuery(c, "since"),
		Until:      parseTimeQuery(c, "until"),
	}

	logs, total, err := h.svc.List(requestContext(c), services.AuditListOptions{Page: page, PageSize: per, Filters: filters})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, logs, response.NewMeta(page, per, total))
}
