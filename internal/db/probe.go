package db

import (
	"context"
	"database/sql"
	"time"

	apperrors "github.com/lupppig/dbu/internal/errors"
)

const probeTimeout = 5 * time.Second

type sqlOpener func(driverName, dsn string) (*sql.DB, error)

// pingSQL opens a database/sql handle and pings it within probeTimeout.
func pingSQL(ctx context.Context, open sqlOpener, driver, dsn string) error {
	if open == nil {
		open = sql.Open
	}

	db, err := open(driver, dsn)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeConnection, "failed to open "+driver+" connection", "Check your connection parameters and driver availability.")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.TypeConnection, "failed to ping database", "Verify the database host, port, and credentials.")
	}
	return nil
}
