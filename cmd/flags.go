package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lupppig/dbu/internal/db"
	apperrors "github.com/lupppig/dbu/internal/errors"
	"github.com/lupppig/dbu/internal/storage"
)

// connFlags are the connection flags shared by connect, backup and restore.
type connFlags struct {
	dbType   string
	host     string
	port     int
	database string
	user     string
	password string

	tls           bool
	tlsMode       string
	tlsCACert     string
	tlsClientCert string
	tlsClientKey  string
}

func (f *connFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.dbType, "database-type", "t", "", "database type (MYSQL, POSTGRESQL, MONGODB, SQLITE)")
	fl.StringVarP(&f.host, "host", "H", "localhost", "database host")
	fl.IntVarP(&f.port, "port", "p", 0, "database port (defaults to the engine's standard port)")
	fl.StringVarP(&f.database, "database", "d", "", "database name, or the database file for SQLITE")
	fl.StringVarP(&f.user, "user", "u", "", "database user")
	fl.StringVarP(&f.password, "password", "w", "", "database password")
	fl.BoolVar(&f.tls, "tls", false, "enable TLS/SSL for the database connection")
	fl.StringVar(&f.tlsMode, "tls-mode", "", "TLS mode (require, verify-ca, verify-full); require when --tls is set")
	fl.StringVar(&f.tlsCACert, "tls-ca-cert", "", "path to the CA certificate used to verify the server")
	fl.StringVar(&f.tlsClientCert, "tls-client-cert", "", "path to the client certificate for mutual TLS")
	fl.StringVar(&f.tlsClientKey, "tls-client-key", "", "path to the client private key for mutual TLS")

	_ = cmd.MarkFlagRequired("database-type")
	_ = cmd.MarkFlagRequired("database")
}

func (f *connFlags) params() (db.ConnectionParams, error) {
	t, err := db.ParseDatabaseType(f.dbType)
	if err != nil {
		return db.ConnectionParams{}, err
	}
	conn := db.ConnectionParams{
		Type:     t,
		Host:     f.host,
		Port:     f.port,
		DBName:   f.database,
		User:     f.user,
		Password: f.password,
		TLS: db.TLSConfig{
			Enabled:    f.tls,
			Mode:       f.tlsMode,
			CACert:     f.tlsCACert,
			ClientCert: f.tlsClientCert,
			ClientKey:  f.tlsClientKey,
		},
	}
	if !t.Networked() {
		if conn.TLS.Enabled {
			return db.ConnectionParams{}, apperrors.New(apperrors.TypeConfig, "TLS is not available for "+string(t), "Drop the --tls flags.")
		}
		conn.Host = ""
	}
	if err := conn.TLS.Validate(); err != nil {
		return db.ConnectionParams{}, err
	}
	return conn.WithDefaults(), nil
}

// storageFlags select a provider and, for most commands, an object key.
type storageFlags struct {
	storageType string
	key         string
}

func (f *storageFlags) register(cmd *cobra.Command, withKey bool) {
	cmd.Flags().StringVarP(&f.storageType, "storage-type", "s", "", "storage type (AWS, AZURE, GCP, MINIO, SFTP, FTP, LOCAL)")
	_ = cmd.MarkFlagRequired("storage-type")
	if withKey {
		cmd.Flags().StringVarP(&f.key, "key", "k", "", "object key")
		_ = cmd.MarkFlagRequired("key")
	}
}

func (f *storageFlags) parse() (storage.Type, error) {
	return storage.ParseType(f.storageType)
}
