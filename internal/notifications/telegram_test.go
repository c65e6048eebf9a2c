package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instapulse/instapulse/internal/models"
)

type fakeAlertStore struct {
	pending []models.PendingAlert
	sent    []int64
}

var _ Store = (*fakeAlertStore)(nil)

func (s *fakeAlertStore) PendingAlerts(_ context.Context) ([]models.PendingAlert, error) {
	return s.pending, nil
}

func (s *fakeAlertStore) MarkAlertSent(_ context.Context, alertID int64) error {
	s.sent = append(s.sent, alertID)
	return nil
}

func pendingAlert(id int64, chatID string) models.PendingAlert {
	return models.PendingAlert{
		Alert: models.Alert{
			ID:           id,
			UserID:       "user-1",
			PostID:       10,
			Views:        12000,
			ViewsPerHour: 4000,
			GrowthRate:   700,
		},
		PostURL:     "https://www.instagram.com/reel/ABC/",
		Username:    "nasa",
		FolderName:  "Space",
		PublishedAt: time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC),
		ChatID:      chatID,
	}
}

func TestSendPendingAlertsMarksOnSuccess(t *testing.T) {
	var received map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	store := &fakeAlertStore{pending: []models.PendingAlert{pendingAlert(1, "chat-42")}}
	svc := NewTelegramService(store, "test-token")
	svc.apiURL = server.URL

	require.NoError(t, svc.SendPendingAlerts(context.Background()))

	assert.Equal(t, []int64{1}, store.sent)
	assert.Equal(t, "chat-42", received["chat_id"])
	assert.Equal(t, "HTML", received["parse_mode"])
	assert.Contains(t, received["text"], "@nasa")
	assert.Contains(t, received["text"], "Space")
}

func TestSendPendingAlertsKeepsFailedDeliveryPending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := &fakeAlertStore{pending: []models.PendingAlert{pendingAlert(1, "chat-42")}}
	svc := NewTelegramService(store, "test-token")
	svc.apiURL = server.URL

	require.NoError(t, svc.SendPendingAlerts(context.Background()))

	assert.Empty(t, store.sent, "a failed delivery stays pending for the next cycle")
}

func TestSendPendingAlertsSkipsUsersWithoutChat(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	store := &fakeAlertStore{pending: []models.PendingAlert{pendingAlert(1, "")}}
	svc := NewTelegramService(store, "test-token")
	svc.apiURL = server.URL

	require.NoError(t, svc.SendPendingAlerts(context.Background()))

	assert.Zero(t, requests, "no API call without a chat id")
	assert.Empty(t, store.sent)
}

func TestBuildAlertMessage(t *testing.T) {
	message := buildAlertMessage(pendingAlert(1, "chat-42"))

	assert.Contains(t, message, "@nasa")
	assert.Contains(t, message, "Space")
	assert.Contains(t, message, "12000")
	assert.Contains(t, message, "4000 views/hour")
	assert.Contains(t, message, "+700%")
	assert.Contains(t, message, "https://www.instagram.com/reel/ABC/")

	alert := pendingAlert(2, "chat-42")
	alert.FolderName = ""
	assert.Contains(t, buildAlertMessage(alert), "No folder")
}
