package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-incident-api/internal/dto"
	"github.com/noah-isme/campus-incident-api/internal/models"
	appErrors "github.com/noah-isme/campus-incident-api/pkg/errors"
	"github.com/noah-isme/campus-incident-api/pkg/response"
)

type appealService interface {
	Submit(ctx context.Context, req dto.SubmitAppealRequest, userID string) (*models.Appeal, error)
	AdminReview(ctx context.Context, appealID, adminID string, req dto.AdminReviewRequest) (*models.Appeal, error)
	Document(ctx context.Context, appealID string) (*models.Appeal, error)
	ForwardToDepartment(ctx context.Context, appealID string) (*models.Appeal, error)
	DepartmentReview(ctx context.Context, appealID, deptHeadID string, req dto.DepartmentReviewRequest) (*models.Appeal, error)
	ForwardToPresident(ctx context.Context, appealID string) (*models.Appeal, error)
	PresidentDecision(ctx context.Context, appealID, presidentID string, req dto.PresidentDecisionRequest) (*models.Appeal, error)
	Complete(ctx context.Context, appealID string) (*models.Appeal, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Appeal, error)
	ListByUser(ctx context.Context, userID string, actor *models.JWTClaims) ([]models.Appeal, error)
	ListByStatus(ctx context.Context, statuses []models.AppealStatus, limit, offset int) ([]models.Appeal, error)
	Subscribe(ctx context.Context, statuses []models.AppealStatus) (<-chan models.Appeal, func())
	Timeline(ctx context.Context, id string, actor *models.JWTClaims) (*dto.AppealTimelineResponse, error)
}

// AppealHandler exposes REST endpoints for the appeal workflow.
type AppealHandler struct {
	service appealService
}

// NewAppealHandler constructs the handler.
func NewAppealHandler(service appealService) *AppealHandler {
	return &AppealHandler{service: service}
}

// Submit godoc
// @Summary Submit an appeal against a rejected report
// @Tags Appeals
// @Accept json
// @Produce json
// @Param payload body dto.SubmitAppealRequest true "Appeal payload"
// @Success 201 {object} response.Envelope
// @Router /appeals [post]
func (h *AppealHandler) Submit(c *gin.Context) {
	var req dto.SubmitAppealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid appeal payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	appeal, err := h.service.Submit(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, appeal, nil)
}

// List godoc
// @Summary List appeals
// @Tags Appeals
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param user_id query string false "Filter by user"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /appeals [get]
func (h *AppealHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if userID := c.Query("user_id"); userID != "" || claims.Role == models.RoleStudent {
		if userID == "" {
			userID = claims.UserID
		}
		appeals, err := h.service.ListByUser(c.Request.Context(), userID, claims)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, appeals, nil)
		return
	}

	statuses, err := parseStatuses(c.Query("status"))
	if err != nil {
		response.Error(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	appeals, err := h.service.ListByStatus(c.Request.Context(), statuses, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appeals, nil)
}

// Get godoc
// @Summary Get appeal detail
// @Tags Appeals
// @Produce json
// @Param id path string true "Appeal ID"
// @Success 200 {object} response.Envelope
// @Router /appeals/{id} [get]
func (h *AppealHandler) Get(c *gin.Context) {
	appeal, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appeal, nil)
}

// Timeline godoc
// @Summary Get the deadline timeline for an appeal
// @Tags Appeals
// @Produce json
// @Param id path string true "Appeal ID"
// @Success 200 {object} response.Envelope
// @Router /appeals/{id}/timeline [get]
func (h *AppealHandler) Timeline(c *gin.Context) {
	timeline, err := h.service.Timeline(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, timeline, nil)
}

// AdminReview godoc
// @Summary Record the admin review decision
// @Tags Appeals
// @Accept json
// @Produce json
// @Param id path string true "Appeal ID"
// @Param payload body dto.AdminReviewRequest true "Review payload"
// @Success 200 {object} response.Envelope
// @Router /appeals/{id}/review [post]
func (h *AppealHandler) AdminReview(c *gin.Context) {
	var req dto.AdminReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid review payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	appeal, err := h.service.AdminReview(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appeal, nil)
}

// Document godoc
// @Summary Run the documentation stage for an appeal
// @Tags Appeals
// @Produce json
// @Param id path string true "Appeal ID"
// @Success 200 {object} response.Envelope
// @Router /appeals/{id}/document [post]
func (h *AppealHandler) Document(c *gin.Context) {
	appeal, err := h.service.Document(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appeal, nil)
}

// ForwardToDepartment godoc
// @Summary Forward a documented appeal to the department
// @Tags Appeals
// @Produce json
// @Param id path string true "Appeal ID"
// @Success 200 {object} response.Envelope
// @Router /appeals/{id}/forward-department [post]
func (h *AppealHandler) ForwardToDepartment(c *gin.Context) {
	appeal, err := h.service.ForwardToDepartment(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appeal, nil)
}

// DepartmentReview godoc
// @Summary Record the department head's proposal
// @Tags Appeals
// @Accept json
// @Produce json
// @Param id path string true "Appeal ID"
// @Param payload body dto.DepartmentReviewRequest true "Proposal payload"
// @Success 200 {object} response.Envelope
// @Router /appeals/{id}/department-review [post]
func (h *AppealHandler) DepartmentReview(c *gin.Context) {
	var req dto.DepartmentReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid proposal payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	appeal, err := h.service.DepartmentReview(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appeal, nil)
}

// ForwardToPresident godoc
// @Summary Escalate a reviewed appeal to the president
// @Tags Appeals
// @Produce json
// @Param id path string true "Appeal ID"
// @Success 200 {object} response.Envelope
// @Router /appeals/{id}/forward-president [post]
func (h *AppealHandler) ForwardToPresident(c *gin.Context) {
	appeal, err := h.service.ForwardToPresident(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appeal, nil)
}

// PresidentDecision godoc
// @Summary Record the president's final decision
// @Tags Appeals
// @Accept json
// @Produce json
// @Param id path string true "Appeal ID"
// @Param payload body dto.PresidentDecisionRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Router /appeals/{id}/decision [post]
func (h *AppealHandler) PresidentDecision(c *gin.Context) {
	var req dto.PresidentDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	appeal, err := h.service.PresidentDecision(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appeal, nil)
}

// Complete godoc
// @Summary Finalise a decided appeal
// @Tags Appeals
// @Produce json
// @Param id path string true "Appeal ID"
// @Success 200 {object} response.Envelope
// @Router /appeals/{id}/complete [post]
func (h *AppealHandler) Complete(c *gin.Context) {
	appeal, err := h.service.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appeal, nil)
}

// Feed godoc
// @Summary Stream committed appeal transitions as server-sent events
// @Tags Appeals
// @Produce text/event-stream
// @Param status query string false "Comma separated statuses"
// @Router /appeals/feed [get]
func (h *AppealHandler) Feed(c *gin.Context) {
	statuses, err := parseStatuses(c.Query("status"))
	if err != nil {
		response.Error(c, err)
		return
	}

	events, cancel := h.service.Subscribe(c.Request.Context(), statuses)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case appeal, ok := <-events:
			if !ok {
				return false
			}
			payload, err := json.Marshal(appeal)
			if err != nil {
				return true
			}
			fmt.Fprintf(w, "event: appeal\ndata: %s\n\n", payload)
			return true
		}
	})
}

func parseStatuses(raw string) ([]models.AppealStatus, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	statuses := make([]models.AppealStatus, 0, len(parts))
	for _, part := range parts {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		status := models.AppealStatus(part)
		if !status.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown appeal status %q", part))
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
