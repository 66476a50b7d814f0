package notify

import (
	"github.com/lupppig/dbu/internal/config"
	"github.com/lupppig/dbu/internal/logger"
)

// Build returns the notifier for cfg, or nil when nothing is configured.
func Build(cfg config.Notifications, l *logger.Logger) Notifier {
	var notifiers []Notifier

	if cfg.Slack.WebhookURL != "" {
		notifiers = append(notifiers, NewSlackNotifier(cfg.Slack.WebhookURL, cfg.Slack.Template))
	}

	for _, w := range cfg.Webhooks {
		if w.URL != "" {
			notifiers = append(notifiers, NewWebhookNotifier(w.URL, w.Method, w.Template, w.Headers))
		}
	}

	switch len(notifiers) {
	case 0:
		return nil
	case 1:
		return notifiers[0]
	}
	return &MultiNotifier{Notifiers: notifiers, Logger: l}
}
