package notify

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/lupppig/dbu/internal/logger"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Stats describes one finished operation.
type Stats struct {
	Status    Status
	Operation string // "Backup", "Restore" or "Scheduled backup"
	Engine    string
	Database  string
	Job       string
	RunID     string
	FileName  string
	Size      int64
	Duration  time.Duration
	Error     error
}

type Notifier interface {
	Notify(ctx context.Context, stats Stats) error
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

// MultiNotifier fans out to every notifier. One failing target does not stop the others.
type MultiNotifier struct {
	Notifiers []Notifier
	Logger    *logger.Logger
}

func (m *MultiNotifier) Notify(ctx context.Context, stats Stats) error {
	var errs []error
	for _, n := range m.Notifiers {
		if err := n.Notify(ctx, stats); err != nil {
			if m.Logger != nil {
				m.Logger.Warn("Notification failed", "operation", stats.Operation, "error", err)
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
