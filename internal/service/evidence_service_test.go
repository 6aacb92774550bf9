package service

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-incident-api/internal/models"
	appErrors "github.com/noah-isme/campus-incident-api/pkg/errors"
	"github.com/noah-isme/campus-incident-api/pkg/storage"
)

type evidenceAppealStub struct {
	appeals   map[string]*models.Appeal
	conflicts int
}

func (m *evidenceAppealStub) GetByID(ctx context.Context, id string) (*models.Appeal, error) {
	stored, ok := m.appeals[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *stored
	copied.Evidence = append(pq.StringArray(nil), stored.Evidence...)
	return &copied, nil
}

func (m *evidenceAppealStub) AppendEvidence(ctx context.Context, appeal *models.Appeal) error {
	if m.conflicts > 0 {
		m.conflicts--
		return sql.ErrNoRows
	}
	stored, ok := m.appeals[appeal.ID]
	if !ok || stored.Version != appeal.Version {
		return sql.ErrNoRows
	}
	stored.Evidence = append(pq.StringArray(nil), appeal.Evidence...)
	stored.Version++
	appeal.Version = stored.Version
	return nil
}

func evidenceFixture(t *testing.T) (*EvidenceService, *evidenceAppealStub, *storage.LocalStorage) {
	t.Helper()
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)

	store := &evidenceAppealStub{appeals: map[string]*models.Appeal{
		"appeal-1": {
			ID:      "appeal-1",
			UserID:  "student-1",
			Status:  models.AppealStatusUnderAdminReview,
			Version: 3,
		},
	}}
	return NewEvidenceService(store, files, signer, 1<<20, nil), store, files
}

func TestAttachPersistsLocator(t *testing.T) {
	svc, store, files := evidenceFixture(t)

	locator, err := svc.Attach(context.Background(), "appeal-1", "student-1",
		"photo.JPG", 12, strings.NewReader("image bytes!"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(filepath.ToSlash(locator), "appeal-1/"))
	require.True(t, strings.HasSuffix(locator, ".jpg"))

	// the locator must survive a fresh read of the persisted row
	require.Equal(t, pq.StringArray{locator}, store.appeals["appeal-1"].Evidence)
	require.Equal(t, int64(4), store.appeals["appeal-1"].Version)

	data, err := os.ReadFile(files.Path(locator))
	require.NoError(t, err)
	require.Equal(t, "image bytes!", string(data))

	admin := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
	links, err := svc.Links(context.Background(), "appeal-1", admin)
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, locator, links[0].Path)

	file, name, err := svc.Open(links[0].Token)
	require.NoError(t, err)
	defer file.Close()
	require.Equal(t, filepath.Base(locator), name)
}

func TestAttachGuards(t *testing.T) {
	svc, store, _ := evidenceFixture(t)

	_, err := svc.Attach(context.Background(), "appeal-1", "stranger",
		"photo.jpg", 4, strings.NewReader("data"))
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	store.appeals["appeal-1"].Status = models.AppealStatusCompleted
	_, err = svc.Attach(context.Background(), "appeal-1", "student-1",
		"photo.jpg", 4, strings.NewReader("data"))
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
	store.appeals["appeal-1"].Status = models.AppealStatusUnderAdminReview

	_, err = svc.Attach(context.Background(), "appeal-1", "student-1",
		"huge.bin", 2<<20, strings.NewReader("data"))
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestAttachConflictRemovesOrphan(t *testing.T) {
	svc, store, files := evidenceFixture(t)
	store.conflicts = 1

	_, err := svc.Attach(context.Background(), "appeal-1", "student-1",
		"photo.jpg", 4, strings.NewReader("data"))
	require.True(t, appErrors.Is(err, appErrors.ErrConflict))
	require.Empty(t, store.appeals["appeal-1"].Evidence)

	// the stored file is cleaned up when the write loses
	entries, err := os.ReadDir(files.Path("appeal-1"))
	if err == nil {
		require.Empty(t, entries)
	}
}
