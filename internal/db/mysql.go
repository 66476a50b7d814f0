package db

import (
	"context"
	"fmt"

	"github.com/go-sql-driver/mysql"
	apperrors "github.com/lupppig/dbu/internal/errors"
	"github.com/lupppig/dbu/internal/logger"
)

type MysqlEngine struct {
	logger *logger.Logger
	open   sqlOpener
}

func NewMysqlEngine() *MysqlEngine {
	return &MysqlEngine{logger: logger.Nop()}
}

func (ma *MysqlEngine) SetLogger(l *logger.Logger) {
	ma.logger = l
}

func (ma *MysqlEngine) Type() DatabaseType { return MySQL }

func (ma *MysqlEngine) Extension() string { return ".sql" }

func (ma *MysqlEngine) TestConnection(ctx context.Context, conn ConnectionParams) error {
	ma.logger.Info("Testing database connection...", "host", conn.Host, "db", conn.DBName)

	dsn, err := ma.BuildConnection(conn)
	if err != nil {
		return err
	}
	return pingSQL(ctx, ma.open, "mysql", dsn)
}

func (ma *MysqlEngine) BuildConnection(conn ConnectionParams) (string, error) {
	if conn.Host == "" || conn.User == "" || conn.DBName == "" {
		return "", apperrors.New(apperrors.TypeConfig, "missing required MySQL connection fields", "Check --host, --user, and --database flags.")
	}
	if conn.Port == 0 {
		conn.Port = MySQL.DefaultPort()
	}

	cfg := mysql.NewConfig()
	cfg.User = conn.User
	cfg.Passwd = conn.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", conn.Host, conn.Port)
	cfg.DBName = conn.DBName

	if conn.TLS.Enabled {
		name, err := registerMysqlTLS(conn.TLS, conn.Host)
		if err != nil {
			return "", err
		}
		cfg.TLSConfig = name
	}

	return cfg.FormatDSN(), nil
}

// registerMysqlTLS hands the driver a named config; the DSN can only refer to TLS by name.
func registerMysqlTLS(t TLSConfig, host string) (string, error) {
	tc, err := t.clientConfig(host)
	if err != nil {
		return "", err
	}
	name := t.registryKey(host)
	if err := mysql.RegisterTLSConfig(name, tc); err != nil {
		return "", apperrors.Wrap(err, apperrors.TypeConfig, "failed to register TLS config", "")
	}
	return name, nil
}

// DumpCommand runs mysqldump. The password travels in MYSQL_PWD so it never shows up in ps.
// The mysql clients spell the user flag --user and take the database as the
// last positional argument; they have no --username or --dbname.
func (ma *MysqlEngine) DumpCommand(conn ConnectionParams, out string) Command {
	args := ma.clientArgs(conn)
	args = append(args,
		"--single-transaction",
		"--quick",
		"--routines",
		"--triggers",
		"--result-file="+out,
		conn.DBName,
	)
	return Command{Name: "mysqldump", Args: args, Env: ma.env(conn)}
}

// RestoreCommand pipes the dump into the mysql client.
func (ma *MysqlEngine) RestoreCommand(conn ConnectionParams, in string) Command {
	args := append(ma.clientArgs(conn), conn.DBName)
	return Command{Name: "mysql", Args: args, Env: ma.env(conn), InputFile: in}
}

func (ma *MysqlEngine) clientArgs(conn ConnectionParams) []string {
	if conn.Port == 0 {
		conn.Port = MySQL.DefaultPort()
	}
	args := []string{
		"--host=" + conn.Host,
		fmt.Sprintf("--port=%d", conn.Port),
		"--user=" + conn.User,
	}
	if conn.TLS.Enabled {
		args = append(args, "--ssl-mode="+mysqlSSLMode[conn.TLS.EffectiveMode()])
		if conn.TLS.CACert != "" {
			args = append(args, "--ssl-ca="+conn.TLS.CACert)
		}
		if conn.TLS.mutual() {
			args = append(args, "--ssl-cert="+conn.TLS.ClientCert, "--ssl-key="+conn.TLS.ClientKey)
		}
	}
	return args
}

var mysqlSSLMode = map[string]string{
	TLSRequire:    "REQUIRED",
	TLSVerifyCA:   "VERIFY_CA",
	TLSVerifyFull: "VERIFY_IDENTITY",
}

func (ma *MysqlEngine) env(conn ConnectionParams) []string {
	if conn.Password == "" {
		return nil
	}
	return []string{"MYSQL_PWD=" + conn.Password}
}
