package db

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/lupppig/dbu/internal/errors"
	"github.com/lupppig/dbu/internal/logger"
)

type DatabaseType string

const (
	MySQL      DatabaseType = "MYSQL"
	PostgreSQL DatabaseType = "POSTGRESQL"
	MongoDB    DatabaseType = "MONGODB"
	SQLite     DatabaseType = "SQLITE"
)

func Types() []DatabaseType {
	return []DatabaseType{MySQL, PostgreSQL, MongoDB, SQLite}
}

// Tag is the lower-case name used in registry names and file prefixes.
func (t DatabaseType) Tag() string {
	return strings.ToLower(string(t))
}

func (t DatabaseType) DefaultPort() int {
	switch t {
	case MySQL:
		return 3306
	case PostgreSQL:
		return 5432
	case MongoDB:
		return 27017
	default:
		return 0
	}
}

// Networked reports whether the engine is reached over host:port.
func (t DatabaseType) Networked() bool {
	return t != SQLite
}

func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MYSQL", "MARIADB":
		return MySQL, nil
	case "POSTGRESQL", "POSTGRES", "PG":
		return PostgreSQL, nil
	case "MONGODB", "MONGO":
		return MongoDB, nil
	case "SQLITE", "SQLITE3":
		return SQLite, nil
	}
	return "", apperrors.New(apperrors.TypeConfig,
		fmt.Sprintf("unsupported database: %s", s),
		"Supported types are MYSQL, POSTGRESQL, MONGODB and SQLITE.")
}

// ConnectionParams identifies one database. For SQLite, DBName is the file path.
type ConnectionParams struct {
	Type     DatabaseType `json:"type"`
	Host     string       `json:"host"`
	Port     int          `json:"port"`
	DBName   string       `json:"db_name"`
	User     string       `json:"user"`
	Password string       `json:"password"`
	TLS      TLSConfig    `json:"tls"`
}

func (c ConnectionParams) Validate() error {
	if c.Type == "" {
		return apperrors.New(apperrors.TypeConfig, "database type is required", "Pass --database-type.")
	}
	if c.DBName == "" {
		return apperrors.New(apperrors.TypeConfig, "database name is required", "Pass --database.")
	}
	if !c.Type.Networked() {
		return nil
	}
	if c.Host == "" {
		return apperrors.New(apperrors.TypeConfig, "database host is required", "Pass --host.")
	}
	if c.Port < 1 || c.Port > 65535 {
		return apperrors.New(apperrors.TypeConfig,
			fmt.Sprintf("invalid port %d", c.Port),
			"Ports must be between 1 and 65535.")
	}
	return c.TLS.Validate()
}

// WithDefaults fills in the engine's default port when none was given.
func (c ConnectionParams) WithDefaults() ConnectionParams {
	if c.Port == 0 {
		c.Port = c.Type.DefaultPort()
	}
	if c.Host == "" && c.Type.Networked() {
		c.Host = "localhost"
	}
	return c
}

func (c ConnectionParams) String() string {
	if !c.Type.Networked() {
		return fmt.Sprintf("%s(%s)", c.Type, c.DBName)
	}
	return fmt.Sprintf("%s(%s@%s:%d/%s)", c.Type, c.User, c.Host, c.Port, c.DBName)
}

// Connector verifies that a database is reachable with the given credentials.
type Connector interface {
	TestConnection(ctx context.Context, conn ConnectionParams) error
}

// Engine knows how to talk to one database type and how to drive its dump and restore tools.
type Engine interface {
	Connector
	Type() DatabaseType
	// Extension is the suffix of an uncompressed dump.
	Extension() string
	DumpCommand(conn ConnectionParams, out string) Command
	RestoreCommand(conn ConnectionParams, in string) Command
	SetLogger(l *logger.Logger)
}

func isMissingBinary(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "executable file not found") ||
		strings.Contains(err.Error(), "status 127"))
}
