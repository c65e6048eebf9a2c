package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/instapulse/instapulse/internal/models"
)

// TelegramService delivers trend alerts to subscribers' Telegram chats. An
// alert is marked delivered only after the API confirms the send.
type TelegramService struct {
	store  Store
	client *resty.Client
	apiURL string
}

// Ensure TelegramService implements Sender
var _ Sender = (*TelegramService)(nil)

// NewTelegramService creates a new Telegram notification service
func NewTelegramService(store Store, botToken string) *TelegramService {
	return &TelegramService{
		store:  store,
		client: resty.New().SetTimeout(30 * time.Second),
		apiURL: fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", botToken),
	}
}

// SendPendingAlerts delivers every undelivered alert. Delivery failures
// leave the alert pending for the next cycle.
func (s *TelegramService) SendPendingAlerts(ctx context.Context) error {
	pending, err := s.store.PendingAlerts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending alerts: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	sent := 0
	for _, alert := range pending {
		if alert.ChatID == "" {
			logrus.Debugf("Skipping alert %d: user %s has no chat id", alert.Alert.ID, alert.Alert.UserID)
			continue
		}

		if !s.sendMessage(ctx, alert.ChatID, buildAlertMessage(alert)) {
			logrus.Warnf("Failed to deliver alert %d to chat %s", alert.Alert.ID, alert.ChatID)
			continue
		}

		if err := s.store.MarkAlertSent(ctx, alert.Alert.ID); err != nil {
			logrus.Errorf("Failed to mark alert %d as sent: %v", alert.Alert.ID, err)
			continue
		}
		sent++
	}

	logrus.Infof("Delivered %d of %d pending alerts", sent, len(pending))
	return nil
}

func buildAlertMessage(alert models.PendingAlert) string {
	folder := alert.FolderName
	if folder == "" {
		folder = "No folder"
	}

	return fmt.Sprintf(
		"🚀 <b>Viral post detected!</b>\n\n"+
			"👤 Account: @%s\n"+
			"🗓 Posted: %s\n"+
			"📁 Folder: %s\n"+
			"📊 Views: %d\n"+
			"⚡ Speed: %.0f views/hour\n"+
			"📈 Growth: +%.0f%%\n\n"+
			"<a href=\"%s\">Open post</a>",
		alert.Username,
		alert.PublishedAt.Format("2006-01-02 15:04"),
		folder,
		alert.Alert.Views,
		alert.Alert.ViewsPerHour,
		alert.Alert.GrowthRate,
		alert.PostURL,
	)
}

func (s *TelegramService) sendMessage(ctx context.Context, chatID, message string) bool {
	if message == "" {
		return false
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{
			"chat_id":    chatID,
			"text":       message,
			"parse_mode": "HTML",
		}).
		Post(s.apiURL)
	if err != nil {
		logrus.Errorf("Telegram send failed: %v", err)
		return false
	}

	return resp.StatusCode() == 200
}
