package db

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	_ "github.com/lib/pq"

	apperrors "github.com/lupppig/dbu/internal/errors"
	"github.com/lupppig/dbu/internal/logger"
)

type PostgresEngine struct {
	logger *logger.Logger
	open   sqlOpener
}

func NewPostgresEngine() *PostgresEngine {
	return &PostgresEngine{logger: logger.Nop()}
}

func (pa *PostgresEngine) SetLogger(l *logger.Logger) {
	pa.logger = l
}

func (pa *PostgresEngine) Type() DatabaseType { return PostgreSQL }

func (pa *PostgresEngine) Extension() string { return ".sql" }

func (pa *PostgresEngine) TestConnection(ctx context.Context, conn ConnectionParams) error {
	pa.logger.Info("Testing database connection...", "host", conn.Host, "db", conn.DBName)

	dsn, err := pa.BuildConnection(conn)
	if err != nil {
		return err
	}
	return pingSQL(ctx, pa.open, "postgres", dsn)
}

func (pa *PostgresEngine) BuildConnection(conn ConnectionParams) (string, error) {
	if conn.Host == "" || conn.User == "" || conn.DBName == "" {
		return "", apperrors.New(apperrors.TypeConfig, "missing required Postgres connection fields", "Check --host, --user, and --database flags.")
	}

	if conn.Port == 0 {
		conn.Port = PostgreSQL.DefaultPort()
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(conn.User, conn.Password),
		Host:   fmt.Sprintf("%s:%d", conn.Host, conn.Port),
		Path:   conn.DBName,
	}

	q := u.Query()

	if err := conn.TLS.Validate(); err != nil {
		return "", err
	}
	for k, v := range pgSSLParams(conn.TLS) {
		q.Set(k, v)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (pa *PostgresEngine) DumpCommand(conn ConnectionParams, out string) Command {
	args := append(pa.clientArgs(conn), "--file="+out)
	return Command{Name: "pg_dump", Args: args, Env: pa.env(conn)}
}

func (pa *PostgresEngine) RestoreCommand(conn ConnectionParams, in string) Command {
	args := append(pa.clientArgs(conn), "--file="+in)
	return Command{Name: "psql", Args: args, Env: pa.env(conn)}
}

func (pa *PostgresEngine) clientArgs(conn ConnectionParams) []string {
	if conn.Port == 0 {
		conn.Port = PostgreSQL.DefaultPort()
	}
	return []string{
		"--username=" + conn.User,
		"--host=" + conn.Host,
		fmt.Sprintf("--port=%d", conn.Port),
		"--dbname=" + conn.DBName,
	}
}

func (pa *PostgresEngine) env(conn ConnectionParams) []string {
	env := []string{}
	if conn.Password != "" {
		env = append(env, "PGPASSWORD="+conn.Password)
	}
	if conn.TLS.Enabled {
		ssl := make([]string, 0, 4)
		for k, v := range pgSSLParams(conn.TLS) {
			ssl = append(ssl, pgSSLEnv[k]+"="+v)
		}
		sort.Strings(ssl)
		env = append(env, ssl...)
	}
	return env
}

// pgSSLParams maps TLS settings onto libpq parameter names.
func pgSSLParams(t TLSConfig) map[string]string {
	p := map[string]string{"sslmode": t.EffectiveMode()}
	if !t.Enabled {
		return p
	}
	if t.CACert != "" {
		p["sslrootcert"] = t.CACert
	}
	if t.mutual() {
		p["sslcert"] = t.ClientCert
		p["sslkey"] = t.ClientKey
	}
	return p
}

// pgSSLEnv is the environment spelling of each libpq SSL parameter, read by pg_dump and psql.
var pgSSLEnv = map[string]string{
	"sslmode":     "PGSSLMODE",
	"sslrootcert": "PGSSLROOTCERT",
	"sslcert":     "PGSSLCERT",
	"sslkey":      "PGSSLKEY",
}
