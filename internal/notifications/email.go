package notifications

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/instapulse/instapulse/internal/config"
	"github.com/instapulse/instapulse/internal/monitoring"
)

const digestTemplate = `
<html>
<body style="font-family: Arial, sans-serif;">
	<h2>Monitoring cycle summary</h2>
	<table cellpadding="4">
		<tr><td><b>Accounts processed</b></td><td>{{.AccountsProcessed}}</td></tr>
		<tr><td><b>Posts processed</b></td><td>{{.PostsProcessed}}</td></tr>
		<tr><td><b>Trending detected</b></td><td>{{.TrendingDetected}}</td></tr>
		<tr><td><b>Alerts created</b></td><td>{{.AlertsCreated}}</td></tr>
		<tr><td><b>Duration</b></td><td>{{.LastRunDuration}}</td></tr>
		<tr><td><b>Errors</b></td><td>{{.ErrorCount}}</td></tr>
	</table>
	<p style="color: #888;">Generated at {{.LastRun.Format "2006-01-02 15:04:05"}} UTC</p>
</body>
</html>`

// EmailDigest mails a per-cycle summary to the configured admin address.
type EmailDigest struct {
	config *config.Config
	tmpl   *template.Template
}

// NewEmailDigest creates a new email digest sender
func NewEmailDigest(cfg *config.Config) *EmailDigest {
	return &EmailDigest{
		config: cfg,
		tmpl:   template.Must(template.New("digest").Parse(digestTemplate)),
	}
}

// Enabled reports whether digest delivery is configured.
func (e *EmailDigest) Enabled() bool {
	return e.config.DigestEmail != ""
}

// SendCycleDigest renders and mails the summary of one monitoring cycle.
func (e *EmailDigest) SendCycleDigest(metrics monitoring.Metrics) error {
	if !e.Enabled() {
		return nil
	}

	var body bytes.Buffer
	if err := e.tmpl.Execute(&body, metrics); err != nil {
		return fmt.Errorf("failed to render digest: %w", err)
	}

	message := gomail.NewMessage()
	message.SetHeader("From", e.config.SMTPUsername)
	message.SetHeader("To", e.config.DigestEmail)
	message.SetHeader("Subject", fmt.Sprintf("Trend monitor digest: %d alerts", metrics.AlertsCreated))
	message.SetBody("text/html", body.String())

	dialer := gomail.NewDialer(e.config.SMTPHost, e.config.SMTPPort, e.config.SMTPUsername, e.config.SMTPPassword)
	if err := dialer.DialAndSend(message); err != nil {
		return fmt.Errorf("failed to send digest email: %w", err)
	}

	logrus.Infof("Sent cycle digest to %s", e.config.DigestEmail)
	return nil
}
