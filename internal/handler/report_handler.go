package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-incident-api/internal/dto"
	"github.com/noah-isme/campus-incident-api/internal/models"
	appErrors "github.com/noah-isme/campus-incident-api/pkg/errors"
	"github.com/noah-isme/campus-incident-api/pkg/response"
)

type reportService interface {
	Create(ctx context.Context, req dto.CreateReportRequest, userID string) (*models.Report, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Report, error)
	List(ctx context.Context, query dto.ReportQuery, actor *models.JWTClaims) ([]models.Report, error)
	Moderate(ctx context.Context, id, moderatorID string, req dto.ModerateReportRequest) (*models.Report, error)
}

// ReportHandler exposes REST endpoints for incident reports.
type ReportHandler struct {
	service reportService
}

// NewReportHandler constructs the handler.
func NewReportHandler(service reportService) *ReportHandler {
	return &ReportHandler{service: service}
}

// Create godoc
// @Summary File an incident report
// @Tags Reports
// @Accept json
// @Produce json
// @Param payload body dto.CreateReportRequest true "Report payload"
// @Success 201 {object} response.Envelope
// @Router /reports [post]
func (h *ReportHandler) Create(c *gin.Context) {
	var req dto.CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid report payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	report, err := h.service.Create(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, report, nil)
}

// List godoc
// @Summary List incident reports
// @Tags Reports
// @Produce json
// @Param status query string false "Moderation status"
// @Param category query string false "Category"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /reports [get]
func (h *ReportHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	query := dto.ReportQuery{
		Status:   strings.ToLower(strings.TrimSpace(c.Query("status"))),
		Category: strings.ToUpper(strings.TrimSpace(c.Query("category"))),
		Limit:    limit,
		Offset:   offset,
	}
	reports, err := h.service.List(c.Request.Context(), query, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reports, nil)
}

// Get godoc
// @Summary Get report detail
// @Tags Reports
// @Produce json
// @Param id path string true "Report ID"
// @Success 200 {object} response.Envelope
// @Router /reports/{id} [get]
func (h *ReportHandler) Get(c *gin.Context) {
	report, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Moderate godoc
// @Summary Record a moderation verdict on a report
// @Tags Reports
// @Accept json
// @Produce json
// @Param id path string true "Report ID"
// @Param payload body dto.ModerateReportRequest true "Moderation payload"
// @Success 200 {object} response.Envelope
// @Router /reports/{id}/moderate [post]
func (h *ReportHandler) Moderate(c *gin.Context) {
	var req dto.ModerateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid moderation payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	report, err := h.service.Moderate(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}
