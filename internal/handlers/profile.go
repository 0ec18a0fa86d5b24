package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lifelink/lifelink/internal/services"
	"github.com/lifelink/lifelink/pkg/response"
)

// ProfileHandler serves the donor's blood profile, donation log and the donor dashboard.
type ProfileHandler struct {
	profiles *services.BloodProfileService
}

// NewProfileHandler constructs a profile handler.
func NewProfileHandler(profiles *services.BloodProfileService) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

type updateBloodProfileRequest struct {
	BloodGroup   *string `json:"blood_group" validate:"omitempty,bloodgroup"`
	IsBloodDonor *bool   `json:"is_blood_donor"`
	ShowPhone    *bool   `json:"show_phone"`
	City         *string `json:"city" validate:"omitempty,max=128"`
	State        *string `json:"state" validate:"omitempty,max=128"`
}

type addDonationRequest struct {
	DonationDate *time.Time `json:"donation_date"`
	Location     string     `json:"location" validate:"required,max=255"`
	Units        int        `json:"units" validate:"omitempty,min=1,max=5"`
	Notes        string     `json:"notes" validate:"omitempty,max=1000"`
}

// GET /api/lifelink/profile/blood
func (h *ProfileHandler) GetBlood(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	profile, err := h.profiles.GetBloodProfile(requestContext(c), actor.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, profile)
}

// PUT /api/lifelink/profile/blood
func (h *ProfileHandler) UpdateBlood(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req updateBloodProfileRequest
	if !bindAndValidate(c, &req) {
		return
	}

	profile, err := h.profiles.UpdateBloodProfile(requestContext(c), actor.UserID, services.UpdateBloodProfileInput{
		BloodGroup:   req.BloodGroup,
		IsBloodDonor: req.IsBloodDonor,
		ShowPhone:    req.ShowPhone,
		City:         req.City,
		State:        req.State,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, profile)
}

// POST /api/lifelink/donations
func (h *ProfileHandler) AddDonation(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req addDonationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.profiles.AddDonation(requestContext(c), services.AddDonationInput{
		DonorID:      actor.UserID,
		DonationDate: req.DonationDate,
		Location:     req.Location,
		Units:        req.Units,
		Notes:        req.Notes,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, result)
}

// GET /api/lifelink/donations
func (h *ProfileHandler) ListDonations(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	page := parseIntQuery(c, "page", 1)
	limit := parseIntQuery(c, "limit", 20)
	items, total, err := h.profiles.ListDonations(requestContext(c), actor.UserID, page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, items, response.NewMeta(max(1, page), limit, total))
}

// GET /api/lifelink/donors/dashboard
func (h *ProfileHandler) Dashboard(c *gin.Context) {
	if _, ok := currentActor(c); !ok {
		return
	}

	result, err := h.profiles.Dashboard(requestContext(c), services.DashboardInput{
		BloodGroup:   strings.TrimSpace(c.Query("blood_group")),
		EligibleOnly: parseBoolQuery(c, "eligible_only"),
		Page:         parseIntQuery(c, "page", 1),
		Limit:        parseIntQuery(c, "limit", 20),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, result, response.NewMeta(result.Page, result.Limit, result.Total))
}
