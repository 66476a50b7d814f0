package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lupppig/dbu/internal/errors"
)

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		in      string
		want    DatabaseType
		wantErr bool
	}{
		{"MYSQL", MySQL, false},
		{"mysql", MySQL, false},
		{"postgres", PostgreSQL, false},
		{"PostgreSQL", PostgreSQL, false},
		{"mongo", MongoDB, false},
		{"sqlite", SQLite, false},
		{"oracle", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDatabaseType(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsType(err, apperrors.TypeConfig))
				assert.Contains(t, err.Error(), "unsupported database")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDatabaseType_Tag(t *testing.T) {
	assert.Equal(t, "mysql", MySQL.Tag())
	assert.Equal(t, "postgresql", PostgreSQL.Tag())
	assert.Equal(t, 27017, MongoDB.DefaultPort())
	assert.False(t, SQLite.Networked())
}

func TestConnectionParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  ConnectionParams
		wantErr bool
	}{
		{"valid mysql", ConnectionParams{Type: MySQL, Host: "localhost", Port: 3306, DBName: "shop"}, false},
		{"port zero", ConnectionParams{Type: MySQL, Host: "localhost", Port: 0, DBName: "shop"}, true},
		{"port too high", ConnectionParams{Type: PostgreSQL, Host: "localhost", Port: 65536, DBName: "shop"}, true},
		{"port max", ConnectionParams{Type: PostgreSQL, Host: "localhost", Port: 65535, DBName: "shop"}, false},
		{"missing db", ConnectionParams{Type: MongoDB, Host: "localhost", Port: 27017}, true},
		{"missing host", ConnectionParams{Type: MongoDB, Port: 27017, DBName: "x"}, true},
		{"missing type", ConnectionParams{Host: "localhost", Port: 1, DBName: "x"}, true},
		{"sqlite ignores port", ConnectionParams{Type: SQLite, DBName: "/tmp/app.db"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, apperrors.IsType(err, apperrors.TypeConfig))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConnectionParams_WithDefaults(t *testing.T) {
	c := ConnectionParams{Type: PostgreSQL, DBName: "shop"}.WithDefaults()
	assert.Equal(t, 5432, c.Port)
	assert.Equal(t, "localhost", c.Host)

	c = ConnectionParams{Type: MySQL, Host: "db", Port: 3307}.WithDefaults()
	assert.Equal(t, 3307, c.Port)
}

func TestConnectionParams_StringHidesPassword(t *testing.T) {
	c := ConnectionParams{Type: MySQL, Host: "h", Port: 3306, DBName: "d", User: "u", Password: "s3cret"}
	assert.NotContains(t, c.String(), "s3cret")
	assert.Contains(t, c.String(), "u@h:3306/d")
}
