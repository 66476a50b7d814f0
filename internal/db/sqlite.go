package db

import (
	"context"
	"database/sql"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/lupppig/dbu/internal/errors"
	"github.com/lupppig/dbu/internal/logger"
)

type SqliteEngine struct {
	logger *logger.Logger
}

func NewSqliteEngine() *SqliteEngine {
	return &SqliteEngine{logger: logger.Nop()}
}

func (sq *SqliteEngine) SetLogger(l *logger.Logger) {
	sq.logger = l
}

func (sq *SqliteEngine) Type() DatabaseType { return SQLite }

func (sq *SqliteEngine) Extension() string { return ".db" }

func (sq *SqliteEngine) TestConnection(ctx context.Context, conn ConnectionParams) error {
	sq.logger.Info("connecting to sqlite database...", "path", conn.DBName)
	if conn.DBName == "" {
		return apperrors.New(apperrors.TypeConfig, "sqlite DB path is empty", "Provide a database file path via --database.")
	}
	if _, err := os.Stat(conn.DBName); err != nil {
		return apperrors.Wrap(err, apperrors.TypeConnection, "sqlite database file not found", "Verify the file path and permissions.")
	}

	db, err := sql.Open("sqlite3", "file:"+conn.DBName+"?mode=ro")
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeConnection, "failed to open SQLite DB", "Verify the file path and permissions.")
	}
	defer db.Close()

	var n int
	if err := db.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
		return apperrors.Wrap(err, apperrors.TypeConnection, "failed to read SQLite DB", "Ensure the file is a valid SQLite database.")
	}
	return nil
}

// DumpCommand uses the sqlite3 online backup API, which is safe against concurrent writers.
func (sq *SqliteEngine) DumpCommand(conn ConnectionParams, out string) Command {
	return Command{Name: "sqlite3", Args: []string{conn.DBName, ".backup " + quoteSQLite(out)}}
}

func (sq *SqliteEngine) RestoreCommand(conn ConnectionParams, in string) Command {
	return Command{Name: "sqlite3", Args: []string{conn.DBName, ".restore " + quoteSQLite(in)}}
}

func quoteSQLite(p string) string {
	return "'" + strings.ReplaceAll(p, "'", "''") + "'"
}
