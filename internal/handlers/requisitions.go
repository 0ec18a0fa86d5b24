package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lifelink/lifelink/internal/services"
	"github.com/lifelink/lifelink/pkg/response"
)

// RequisitionHandler exposes requisition lifecycle, matching, dispatch and response endpoints.
type RequisitionHandler struct {
	requisitions *services.RequisitionService
	matching     *services.MatchingService
	dispatch     *services.DispatchService
	responses    *services.ResponseService
}

// NewRequisitionHandler constructs a requisition handler.
func NewRequisitionHandler(
	requisitions *services.RequisitionService,
	matching *services.MatchingService,
	dispatch *services.DispatchService,
	responses *services.ResponseService,
) *RequisitionHandler {
	return &RequisitionHandler{
		requisitions: requisitions,
		matching:     matching,
		dispatch:     dispatch,
		responses:    responses,
	}
}

type createRequisitionRequest struct {
	PatientName        string    `json:"patient_name" validate:"max=255"`
	HospitalName       string    `json:"hospital_name" validate:"max=255"`
	ContactNumber      string    `json:"contact_number" validate:"max=32"`
	AlternateNumber    string    `json:"alternate_number" validate:"max=32"`
	RequiredBloodGroup string    `json:"required_blood_group"`
	UnitsNeeded        int       `json:"units_needed"`
	UrgencyLevel       string    `json:"urgency_level"`
	MedicalCondition   string    `json:"medical_condition" validate:"max=1000"`
	Location           string    `json:"location" validate:"max=255"`
	AdditionalNotes    string    `json:"additional_notes" validate:"max=2000"`
	RequiredByDate     time.Time `json:"required_by_date"`
	AllowContactReveal *bool     `json:"allow_contact_reveal"`
}

type searchDonorsRequest struct {
	BloodGroup string `json:"blood_group" validate:"omitempty,bloodgroup"`
	Location   string `json:"location" validate:"max=128"`
	Limit      int    `json:"limit" validate:"omitempty,min=1"`
}

type notifyRequest struct {
	DonorIDs      []string `json:"donor_ids" validate:"required,min=1,max=200"`
	CustomMessage string   `json:"custom_message" validate:"max=500"`
}

type notifyAllRequest struct {
	CustomMessage string `json:"custom_message" validate:"max=500"`
}

type respondRequest struct {
	Response       string  `json:"response" validate:"required"`
	Message        string  `json:"message" validate:"max=500"`
	NotificationID *string `json:"notification_id"`
}

type updateStatusRequest struct {
	Status            string     `json:"status" validate:"required"`
	ExpectedUpdatedAt *time.Time `json:"expected_updated_at"`
}

type reuseRequest struct {
	RequiredByDate    *time.Time `json:"required_by_date"`
	ExpectedUpdatedAt *time.Time `json:"expected_updated_at"`
}

// POST /api/lifelink/requisitions
func (h *RequisitionHandler) Create(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req createRequisitionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	dto, err := h.requisitions.Create(requestContext(c), services.CreateRequisitionInput{
		RequesterID:        actor.UserID,
		PatientName:        req.PatientName,
		HospitalName:       req.HospitalName,
		ContactNumber:      req.ContactNumber,
		AlternateNumber:    req.AlternateNumber,
		RequiredBloodGroup: req.RequiredBloodGroup,
		UnitsNeeded:        req.UnitsNeeded,
		UrgencyLevel:       req.UrgencyLevel,
		MedicalCondition:   req.MedicalCondition,
		Location:           req.Location,
		AdditionalNotes:    req.AdditionalNotes,
		RequiredByDate:     req.RequiredByDate,
		AllowContactReveal: req.AllowContactReveal,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, dto)
}

// GET /api/lifelink/requisitions/:id
func (h *RequisitionHandler) Get(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	dto, err := h.requisitions.Get(requestContext(c), actor, pathID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

// GET /api/lifelink/requisitions/mine
func (h *RequisitionHandler) ListMine(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	page := parseIntQuery(c, "page", 1)
	limit := parseIntQuery(c, "limit", 20)
	items, total, err := h.requisitions.ListMine(requestContext(c), services.ListRequisitionsInput{
		RequesterID: actor.UserID,
		Status:      strings.TrimSpace(c.Query("status")),
		Page:        page,
		Limit:       limit,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, items, response.NewMeta(max(1, page), limit, total))
}

// GET /api/lifelink/requisitions/discover
func (h *RequisitionHandler) Discover(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	result, err := h.matching.DiscoverRequisitions(requestContext(c), actor.UserID, services.DiscoverInput{
		Urgency: strings.TrimSpace(c.Query("urgency")),
		Page:    parseIntQuery(c, "page", 1),
		Limit:   parseIntQuery(c, "limit", 20),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, result, response.NewMeta(result.Page, result.Limit, result.Total))
}

// POST /api/lifelink/donors/search
func (h *RequisitionHandler) SearchDonors(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req searchDonorsRequest
	if !bindAndValidate(c, &req) {
		return
	}

	cards, err := h.matching.FindAvailableDonors(requestContext(c), services.SearchDonorsInput{
		RequiredGroup: req.BloodGroup,
		Location:      req.Location,
		Limit:         req.Limit,
		MaxLimit:      services.MaxSearchLimit,
		ExcludeIDs:    []string{actor.UserID},
		Source:        "search",
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, cards)
}

// POST /api/lifelink/requisitions/:id/notify
func (h *RequisitionHandler) Notify(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req notifyRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.dispatch.NotifySelected(requestContext(c), actor, pathID(c), req.DonorIDs, req.CustomMessage)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// POST /api/lifelink/requisitions/:id/notify-all
func (h *RequisitionHandler) NotifyAll(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req notifyAllRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	result, err := h.dispatch.NotifyAll(requestContext(c), actor, pathID(c), req.CustomMessage)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// POST /api/lifelink/requisitions/:id/respond
func (h *RequisitionHandler) Respond(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req respondRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.responses.Respond(requestContext(c), services.RespondInput{
		DonorID:        actor.UserID,
		RequisitionID:  pathID(c),
		NotificationID: req.NotificationID,
		Response:       req.Response,
		Message:        req.Message,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, result)
}

// GET /api/lifelink/requisitions/:id/my-response
func (h *RequisitionHandler) MyResponse(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	dto, err := h.responses.GetMyResponse(requestContext(c), actor.UserID, pathID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

// PATCH /api/lifelink/requisitions/:id/status
func (h *RequisitionHandler) UpdateStatus(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req updateStatusRequest
	if !bindAndValidate(c, &req) {
		return
	}

	dto, err := h.requisitions.UpdateStatus(requestContext(c), actor, pathID(c), services.UpdateStatusInput{
		Status:            req.Status,
		ExpectedUpdatedAt: req.ExpectedUpdatedAt,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

// POST /api/lifelink/requisitions/:id/reuse
func (h *RequisitionHandler) Reuse(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req reuseRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	dto, err := h.requisitions.Reuse(requestContext(c), actor, pathID(c), services.ReuseInput{
		RequiredByDate:    req.RequiredByDate,
		ExpectedUpdatedAt: req.ExpectedUpdatedAt,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

// GET /api/lifelink/requisitions/:id/willing-donors
func (h *RequisitionHandler) WillingDonors(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	items, err := h.responses.GetWillingDonors(requestContext(c), actor, pathID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, items)
}
