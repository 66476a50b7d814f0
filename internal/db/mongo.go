package db

import (
	"context"
	"fmt"
	"net/url"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	apperrors "github.com/lupppig/dbu/internal/errors"
	"github.com/lupppig/dbu/internal/logger"
)

// mongoLister is the part of *mongo.Client the probe needs.
type mongoLister interface {
	ListDatabaseNames(ctx context.Context, filter interface{}, opts ...*options.ListDatabasesOptions) ([]string, error)
	Disconnect(ctx context.Context) error
}

type MongoEngine struct {
	logger  *logger.Logger
	connect func(ctx context.Context, uri string) (mongoLister, error)
}

func NewMongoEngine() *MongoEngine {
	return &MongoEngine{logger: logger.Nop()}
}

func (me *MongoEngine) SetLogger(l *logger.Logger) {
	me.logger = l
}

func (me *MongoEngine) Type() DatabaseType { return MongoDB }

// Extension names a single-file mongodump archive.
func (me *MongoEngine) Extension() string { return ".archive" }

func (me *MongoEngine) BuildConnection(conn ConnectionParams) (string, error) {
	if conn.Host == "" {
		return "", apperrors.New(apperrors.TypeConfig, "missing required MongoDB host", "Check --host.")
	}
	if conn.Port == 0 {
		conn.Port = MongoDB.DefaultPort()
	}
	u := &url.URL{
		Scheme: "mongodb",
		Host:   fmt.Sprintf("%s:%d", conn.Host, conn.Port),
		Path:   "/",
	}
	if conn.User != "" {
		u.User = url.UserPassword(conn.User, conn.Password)
	}
	if conn.TLS.Enabled {
		q := u.Query()
		for _, opt := range mongoTLSOptions(conn.TLS) {
			q.Set(opt.name, opt.value)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// TestConnection lists database names; an empty list counts as a failed connection.
func (me *MongoEngine) TestConnection(ctx context.Context, conn ConnectionParams) error {
	me.logger.Info("Testing database connection...", "host", conn.Host, "db", conn.DBName)

	uri, err := me.BuildConnection(conn)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	connect := me.connect
	if connect == nil {
		connect = dialMongo
	}
	client, err := connect(ctx, uri)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeConnection, "failed to connect to MongoDB", "Verify the database host, port, and credentials.")
	}
	defer client.Disconnect(context.Background())

	names, err := client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeConnection, "failed to list MongoDB databases", "Verify the user has the listDatabases privilege.")
	}
	if len(names) == 0 {
		return apperrors.New(apperrors.TypeConnection, "MongoDB returned no databases", "The credentials may not grant access to any database.")
	}
	return nil
}

func dialMongo(ctx context.Context, uri string) (mongoLister, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(probeTimeout))
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (me *MongoEngine) DumpCommand(conn ConnectionParams, out string) Command {
	args := append(me.clientArgs(conn), "--db="+conn.DBName, "--archive="+out)
	return Command{Name: "mongodump", Args: args}
}

func (me *MongoEngine) RestoreCommand(conn ConnectionParams, in string) Command {
	args := append(me.clientArgs(conn), "--nsInclude="+conn.DBName+".*", "--archive="+in)
	return Command{Name: "mongorestore", Args: args}
}

func (me *MongoEngine) clientArgs(conn ConnectionParams) []string {
	if conn.Port == 0 {
		conn.Port = MongoDB.DefaultPort()
	}
	args := []string{
		"--host=" + conn.Host,
		fmt.Sprintf("--port=%d", conn.Port),
	}
	if conn.User != "" {
		args = append(args, "--username="+conn.User, "--password="+conn.Password, "--authenticationDatabase=admin")
	}
	if conn.TLS.Enabled {
		for _, opt := range mongoTLSOptions(conn.TLS) {
			if opt.value == "true" {
				args = append(args, "--"+opt.name)
			} else {
				args = append(args, "--"+opt.name+"="+opt.value)
			}
		}
	}
	return args
}

type mongoOption struct{ name, value string }

// mongoTLSOptions uses the names shared by the URI and the database tools.
// Mongo wants the client certificate and key in one PEM file, so
// --tls-client-cert must point at the combined file.
func mongoTLSOptions(t TLSConfig) []mongoOption {
	opts := []mongoOption{{"tls", "true"}}
	switch t.EffectiveMode() {
	case TLSRequire:
		opts = append(opts, mongoOption{"tlsInsecure", "true"})
	case TLSVerifyCA:
		opts = append(opts, mongoOption{"tlsAllowInvalidHostnames", "true"})
	}
	if t.CACert != "" {
		opts = append(opts, mongoOption{"tlsCAFile", t.CACert})
	}
	if t.mutual() {
		opts = append(opts, mongoOption{"tlsCertificateKeyFile", t.ClientCert})
	}
	return opts
}
