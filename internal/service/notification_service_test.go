package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-incident-api/internal/models"
	appErrors "github.com/noah-isme/campus-incident-api/pkg/errors"
	"github.com/noah-isme/campus-incident-api/pkg/jobs"
)

type notificationStoreStub struct {
	mu        sync.Mutex
	created   []*models.Notification
	delivered chan *models.Notification
	filter    models.NotificationFilter
	readIDs   []string
	failMark  bool
}

func newNotificationStoreStub() *notificationStoreStub {
	return &notificationStoreStub{delivered: make(chan *models.Notification, 8)}
}

func (m *notificationStoreStub) Create(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	m.created = append(m.created, n)
	m.mu.Unlock()
	m.delivered <- n
	return nil
}

func (m *notificationStoreStub) ListByUser(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filter = filter
	result := make([]models.Notification, 0, len(m.created))
	for _, n := range m.created {
		if n.UserID == filter.UserID {
			result = append(result, *n)
		}
	}
	return result, nil
}

func (m *notificationStoreStub) MarkRead(ctx context.Context, id, userID string) error {
	if m.failMark {
		return errors.New("no rows")
	}
	m.mu.Lock()
	m.readIDs = append(m.readIDs, id)
	m.mu.Unlock()
	return nil
}

func (m *notificationStoreStub) MarkAllRead(ctx context.Context, userID string) error {
	return nil
}

func awaitDelivery(t *testing.T, ch <-chan *models.Notification) *models.Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not delivered")
		return nil
	}
}

func TestNotificationServiceDeliversThroughQueue(t *testing.T) {
	store := newNotificationStoreStub()
	svc := NewNotificationService(store, jobs.QueueConfig{Workers: 1}, nil)
	svc.Start(context.Background())
	defer svc.Stop()

	err := svc.Notify(context.Background(), "student-1", models.NotificationKindAppealSubmitted,
		"Appeal received", "Your appeal is in the queue.",
		models.NotificationMeta{"appeal_id": "a-1"})
	require.NoError(t, err)

	n := awaitDelivery(t, store.delivered)
	require.Equal(t, "student-1", n.UserID)
	require.Equal(t, models.NotificationKindAppealSubmitted, n.Kind)
	require.Equal(t, "a-1", n.Meta["appeal_id"])
	require.NotEmpty(t, n.ID)
}

func TestNotificationServiceRejectsWhenStopped(t *testing.T) {
	store := newNotificationStoreStub()
	svc := NewNotificationService(store, jobs.QueueConfig{Workers: 1}, nil)

	err := svc.Notify(context.Background(), "student-1", models.NotificationKindAppealSubmitted, "t", "b", nil)
	require.Error(t, err)
}

func TestNotificationServiceInboxScopesUser(t *testing.T) {
	store := newNotificationStoreStub()
	store.created = []*models.Notification{
		{ID: "n-1", UserID: "student-1", Kind: models.NotificationKindAppealSubmitted},
		{ID: "n-2", UserID: "student-2", Kind: models.NotificationKindAppealSubmitted},
	}
	svc := NewNotificationService(store, jobs.QueueConfig{}, nil)

	inbox, err := svc.Inbox(context.Background(), "student-1", true, 10, 0)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	require.Equal(t, "n-1", inbox[0].ID)
	require.True(t, store.filter.UnreadOnly)
}

func TestNotificationServiceMarkRead(t *testing.T) {
	store := newNotificationStoreStub()
	svc := NewNotificationService(store, jobs.QueueConfig{}, nil)

	require.NoError(t, svc.MarkRead(context.Background(), "n-1", "student-1"))
	require.Equal(t, []string{"n-1"}, store.readIDs)

	store.failMark = true
	err := svc.MarkRead(context.Background(), "missing", "student-1")
	require.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}
