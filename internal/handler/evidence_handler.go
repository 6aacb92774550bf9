package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-incident-api/internal/models"
	"github.com/noah-isme/campus-incident-api/internal/service"
	appErrors "github.com/noah-isme/campus-incident-api/pkg/errors"
	"github.com/noah-isme/campus-incident-api/pkg/response"
)

type evidenceService interface {
	Attach(ctx context.Context, appealID, userID, filename string, size int64, r io.Reader) (string, error)
	Links(ctx context.Context, appealID string, actor *models.JWTClaims) ([]service.EvidenceLink, error)
	Open(token string) (*os.File, string, error)
}

type exportService interface {
	CaseFile(ctx context.Context, appealID string, actor *models.JWTClaims) ([]byte, string, error)
}

// EvidenceHandler serves evidence uploads, signed downloads, and case-file
// exports for appeals.
type EvidenceHandler struct {
	evidence evidenceService
	exports  exportService
}

// NewEvidenceHandler constructs the handler.
func NewEvidenceHandler(evidence evidenceService, exports exportService) *EvidenceHandler {
	return &EvidenceHandler{evidence: evidence, exports: exports}
}

// Upload godoc
// @Summary Attach an evidence file to an appeal
// @Tags Evidence
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Appeal ID"
// @Param file formData file true "Evidence file"
// @Success 201 {object} response.Envelope
// @Router /appeals/{id}/evidence [post]
func (h *EvidenceHandler) Upload(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "evidence file required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read upload"))
		return
	}
	defer file.Close() //nolint:errcheck

	relPath, err := h.evidence.Attach(c.Request.Context(), c.Param("id"), claims.UserID, fileHeader.Filename, fileHeader.Size, file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, gin.H{"path": relPath}, nil)
}

// Links godoc
// @Summary List signed download links for an appeal's evidence
// @Tags Evidence
// @Produce json
// @Param id path string true "Appeal ID"
// @Success 200 {object} response.Envelope
// @Router /appeals/{id}/evidence [get]
func (h *EvidenceHandler) Links(c *gin.Context) {
	links, err := h.evidence.Links(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, links, nil)
}

// Download godoc
// @Summary Download an evidence file via a signed token
// @Tags Evidence
// @Produce application/octet-stream
// @Param token query string true "Signed download token"
// @Router /evidence/download [get]
func (h *EvidenceHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "download token required"))
		return
	}
	file, filename, err := h.evidence.Open(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Content-Type", "application/octet-stream")
	if _, err := io.Copy(c.Writer, file); err != nil {
		c.Status(http.StatusInternalServerError)
	}
}

// Export godoc
// @Summary Export an appeal as a printable PDF case file
// @Tags Evidence
// @Produce application/pdf
// @Param id path string true "Appeal ID"
// @Router /appeals/{id}/export [get]
func (h *EvidenceHandler) Export(c *gin.Context) {
	data, filename, err := h.exports.CaseFile(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", data)
}
