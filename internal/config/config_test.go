package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_DefaultsAndEnv(t *testing.T) {
	reset()
	t.Cleanup(reset)
	t.Chdir(t.TempDir())

	t.Setenv("DBU_LOG_LEVEL", "debug")
	t.Setenv("DBU_SCHEDULER_MISFIRE_POLICY", "fire_once")
	t.Setenv("DBU_CLOUD_AWS_BUCKET_NAME", "nightly")

	err := Initialize("")
	require.NoError(t, err)

	cfg := GetConfig()
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "fire_once", cfg.Scheduler.MisfirePolicy)
	assert.Equal(t, "nightly", cfg.Cloud.AWS.Bucket)
	assert.Equal(t, "sqlite", cfg.Scheduler.Store)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.SyncInterval)
	assert.Equal(t, 21, cfg.Cloud.FTP.Port)
}

func TestGetConfig_DefaultWhenUninitialized(t *testing.T) {
	reset()
	t.Cleanup(reset)

	cfg := GetConfig()
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "skip", cfg.Scheduler.MisfirePolicy)
	assert.Equal(t, filepath.Join(HomeDir(), "jobs.db"), cfg.Scheduler.Path)
}

func TestInitialize_YamlFile(t *testing.T) {
	reset()
	t.Cleanup(reset)
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "dbu.yaml")

	yamlContent := `
log:
  json: true
exec:
  timeout: 2m
scheduler:
  store: memory
cloud:
  azure:
    connection_string: "DefaultEndpointsProtocol=https;AccountName=acct;AccountKey=a2V5;EndpointSuffix=core.windows.net"
    container_name: backups
  gcp:
    bucket_name: gcs-backups
    project_id: proj-1
notifications:
  webhooks:
    - url: "http://hooks.local/dbu"
      method: PUT
`
	err := os.WriteFile(configFile, []byte(yamlContent), 0644)
	require.NoError(t, err)

	err = Initialize(configFile)
	require.NoError(t, err)

	cfg := GetConfig()
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, 2*time.Minute, cfg.Exec.Timeout)
	assert.Equal(t, "memory", cfg.Scheduler.Store)
	assert.Equal(t, "backups", cfg.Cloud.Azure.Container)
	assert.Equal(t, "gcs-backups", cfg.Cloud.GCP.Bucket)
	assert.Equal(t, "proj-1", cfg.Cloud.GCP.ProjectID)
	require.Len(t, cfg.Notifications.Webhooks, 1)
	assert.Equal(t, "PUT", cfg.Notifications.Webhooks[0].Method)
}

func TestInitialize_MissingExplicitFile(t *testing.T) {
	reset()
	t.Cleanup(reset)

	err := Initialize(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestInitialize_HotReload(t *testing.T) {
	reset()
	t.Cleanup(reset)
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "dbu.yaml")

	err := os.WriteFile(configFile, []byte("log:\n  level: info\n"), 0644)
	require.NoError(t, err)

	reloaded := make(chan string, 16)
	OnChange(func(c *Config) {
		select {
		case reloaded <- c.Log.Level:
		default:
		}
	})

	err = Initialize(configFile)
	require.NoError(t, err)
	assert.Equal(t, "info", <-reloaded)

	err = os.WriteFile(configFile, []byte("log:\n  level: debug\n"), 0644)
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for level := ""; level != "debug"; {
		select {
		case level = <-reloaded:
		case <-deadline:
			t.Fatal("config change was not picked up")
		}
	}
	assert.Equal(t, "debug", GetConfig().Log.Level)
}
