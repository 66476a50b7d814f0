package backup

import (
	"context"

	"github.com/lupppig/dbu/internal/compress"
	"github.com/lupppig/dbu/internal/db"
)

// Config describes one backup run, or the template for a scheduled one.
type Config struct {
	Conn        db.ConnectionParams `json:"conn"`
	Destination string              `json:"destination"`
	Compression compress.Kind       `json:"compression"`
	Cron        string              `json:"cron,omitempty"`
}

type RestoreConfig struct {
	Conn   db.ConnectionParams `json:"conn"`
	Source string              `json:"source"`
}

// Backuper produces a backup file and returns its final path.
type Backuper interface {
	Backup(ctx context.Context, cfg Config) (string, error)
}

// Restorer loads a backup file into a database.
type Restorer interface {
	Restore(ctx context.Context, cfg RestoreConfig) (bool, error)
}
