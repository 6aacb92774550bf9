package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-incident-api/internal/models"
	appErrors "github.com/noah-isme/campus-incident-api/pkg/errors"
	"github.com/noah-isme/campus-incident-api/pkg/storage"
)

type evidenceAppealStore interface {
	GetByID(ctx context.Context, id string) (*models.Appeal, error)
	AppendEvidence(ctx context.Context, appeal *models.Appeal) error
}

// EvidenceService stores evidence attachments for appeals and hands out
// short-lived signed download links.
type EvidenceService struct {
	appeals     evidenceAppealStore
	files       *storage.LocalStorage
	signer      *storage.SignedURLSigner
	maxFileSize int64
	logger      *zap.Logger
}

// EvidenceLink is a signed, expiring download reference.
type EvidenceLink struct {
	Path      string    `json:"path"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewEvidenceService constructs the service.
func NewEvidenceService(appeals evidenceAppealStore, files *storage.LocalStorage, signer *storage.SignedURLSigner, maxFileSize int64, logger *zap.Logger) *EvidenceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxFileSize <= 0 {
		maxFileSize = 10 << 20
	}
	return &EvidenceService{
		appeals:     appeals,
		files:       files,
		signer:      signer,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// Attach stores an uploaded file and records it on the appeal. Only the
// appellant may attach, and only while the appeal is still open.
func (s *EvidenceService) Attach(ctx context.Context, appealID, userID, filename string, size int64, r io.Reader) (string, error) {
	if size > s.maxFileSize {
		return "", appErrors.Clone(appErrors.ErrValidation, "evidence file exceeds the size limit")
	}
	appeal, err := s.loadOwned(ctx, appealID, userID)
	if err != nil {
		return "", err
	}
	if appeal.Status.Terminal() {
		return "", appErrors.Clone(appErrors.ErrInvalidState, "appeal is already completed")
	}

	ext := filepath.Ext(filename)
	relPath := filepath.Join(appealID, uuid.NewString()+strings.ToLower(ext))
	if _, err := s.files.SaveStream(relPath, io.LimitReader(r, s.maxFileSize)); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to store evidence")
	}

	appeal.Evidence = append(appeal.Evidence, relPath)
	if err := s.appeals.AppendEvidence(ctx, appeal); err != nil {
		if removeErr := s.files.Delete(relPath); removeErr != nil {
			s.logger.Warn("failed to remove orphaned evidence file", zap.String("path", relPath), zap.Error(removeErr))
		}
		return "", appErrors.Clone(appErrors.ErrConflict, "appeal was modified concurrently")
	}
	return relPath, nil
}

// Links returns signed download links for all evidence on the appeal.
func (s *EvidenceService) Links(ctx context.Context, appealID string, actor *models.JWTClaims) ([]EvidenceLink, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	appeal, err := s.load(ctx, appealID)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleStudent && appeal.UserID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}

	links := make([]EvidenceLink, 0, len(appeal.Evidence))
	for _, relPath := range appeal.Evidence {
		token, expiresAt, err := s.signer.Generate(appealID, relPath)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign evidence link")
		}
		links = append(links, EvidenceLink{Path: relPath, Token: token, ExpiresAt: expiresAt})
	}
	return links, nil
}

// Open resolves a signed token to a readable file handle.
func (s *EvidenceService) Open(token string) (*os.File, string, error) {
	appealID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid or expired evidence token")
	}
	// The signed path must stay inside the owning appeal's directory.
	if !strings.HasPrefix(filepath.ToSlash(relPath), appealID+"/") {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "evidence token does not match its appeal")
	}
	file, err := s.files.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "evidence file not found")
	}
	return file, filepath.Base(relPath), nil
}

func (s *EvidenceService) load(ctx context.Context, appealID string) (*models.Appeal, error) {
	appeal, err := s.appeals.GetByID(ctx, appealID)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "appeal not found")
	}
	return appeal, nil
}

func (s *EvidenceService) loadOwned(ctx context.Context, appealID, userID string) (*models.Appeal, error) {
	appeal, err := s.load(ctx, appealID)
	if err != nil {
		return nil, err
	}
	if appeal.UserID != userID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("appeal %s does not belong to the caller", appealID))
	}
	return appeal, nil
}
