package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lupppig/dbu/internal/backup"
	"github.com/lupppig/dbu/internal/compress"
	"github.com/lupppig/dbu/internal/db"
)

func sampleConfig(name string, typ db.DatabaseType) backup.Config {
	return backup.Config{
		Conn: db.ConnectionParams{
			Type:     typ,
			Host:     "localhost",
			Port:     typ.DefaultPort(),
			DBName:   name,
			User:     "admin",
			Password: "secret",
		},
		Destination: "/backups/",
		Compression: compress.Gzip,
		Cron:        "0 0 * * * ?",
	}
}

func sampleRecord(name string, typ db.DatabaseType) JobRecord {
	cfg := sampleConfig(name, typ)
	next := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	return JobRecord{
		JobDescriptor: JobDescriptor{
			Key:       KeyFor(cfg),
			Trigger:   triggerName(name),
			Cron:      cfg.Cron,
			Config:    cfg,
			CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		State:    StateScheduled,
		NextFire: &next,
	}
}

func storeImplementations(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"sqlite": func() Store {
			s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"))
			require.NoError(t, err)
			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, open := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer s.Close()

			shop := sampleRecord("shop", db.MySQL)
			logs := sampleRecord("logs", db.MongoDB)
			require.NoError(t, s.Put(ctx, shop))
			require.NoError(t, s.Put(ctx, logs))

			got, err := s.Get(ctx, shop.Key)
			require.NoError(t, err)
			assert.Equal(t, "backupJob_shop", got.Key.Name)
			assert.Equal(t, "MYSQL", got.Key.Group)
			assert.Equal(t, "trigger_shop", got.Trigger)
			assert.Equal(t, "secret", got.Config.Conn.Password)
			assert.Equal(t, compress.Gzip, got.Config.Compression)
			assert.True(t, shop.NextFire.Equal(*got.NextFire))
			assert.Nil(t, got.PrevFire)

			list, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "MONGODB", list[0].Key.Group)

			t.Run("overwrite same key", func(t *testing.T) {
				again := shop
				again.Cron = "@daily"
				require.NoError(t, s.Put(ctx, again))
				list, err := s.List(ctx)
				require.NoError(t, err)
				assert.Len(t, list, 2)
				got, err := s.Get(ctx, shop.Key)
				require.NoError(t, err)
				assert.Equal(t, "@daily", got.Cron)
			})

			t.Run("set state", func(t *testing.T) {
				require.NoError(t, s.SetState(ctx, shop.Key, StatePaused, nil))
				got, err := s.Get(ctx, shop.Key)
				require.NoError(t, err)
				assert.Equal(t, StatePaused, got.State)
				assert.Nil(t, got.NextFire)

				assert.ErrorIs(t, s.SetState(ctx, JobKey{Name: "nope", Group: "MYSQL"}, StatePaused, nil), ErrJobNotFound)
			})

			t.Run("set state all", func(t *testing.T) {
				next := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
				require.NoError(t, s.SetStateAll(ctx, StateScheduled, func(JobRecord) *time.Time { return &next }))
				list, err := s.List(ctx)
				require.NoError(t, err)
				for _, rec := range list {
					assert.Equal(t, StateScheduled, rec.State)
					require.NotNil(t, rec.NextFire)
					assert.True(t, next.Equal(*rec.NextFire))
				}
			})

			t.Run("record fire", func(t *testing.T) {
				fired := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
				require.NoError(t, s.RecordFire(ctx, logs.Key, fired, nil, "exit code: 1"))
				got, err := s.Get(ctx, logs.Key)
				require.NoError(t, err)
				require.NotNil(t, got.PrevFire)
				assert.True(t, fired.Equal(*got.PrevFire))
				assert.Equal(t, "exit code: 1", got.LastError)
			})

			t.Run("delete", func(t *testing.T) {
				require.NoError(t, s.Delete(ctx, logs.Key))
				assert.ErrorIs(t, s.Delete(ctx, logs.Key), ErrJobNotFound)
				_, err := s.Get(ctx, logs.Key)
				assert.ErrorIs(t, err, ErrJobNotFound)
			})
		})
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "jobs.db")

	s, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, sampleRecord("shop", db.PostgreSQL)))
	require.NoError(t, s.Close())

	s, err = OpenSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "backupJob_shop", list[0].Key.Name)
	assert.Equal(t, "POSTGRESQL", list[0].Key.Group)
}

func TestSQLiteStore_FileIsPrivate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	s, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestMemoryStore_LosesJobsOnRestart(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, sampleRecord("shop", db.MySQL)))

	fresh := NewMemoryStore()
	list, err := fresh.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestParseMisfirePolicy(t *testing.T) {
	p, err := ParseMisfirePolicy("")
	require.NoError(t, err)
	assert.Equal(t, MisfireSkip, p)

	p, err = ParseMisfirePolicy("fire_once")
	require.NoError(t, err)
	assert.Equal(t, MisfireFireOnce, p)

	_, err = ParseMisfirePolicy("always")
	assert.Error(t, err)
}
