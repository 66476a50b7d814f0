package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Log           LogConfig       `mapstructure:"log"`
	Exec          ExecConfig      `mapstructure:"exec"`
	Scheduler     SchedulerConfig `mapstructure:"scheduler"`
	Cloud         CloudConfig     `mapstructure:"cloud"`
	Notifications Notifications   `mapstructure:"notifications"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	JSON    bool   `mapstructure:"json"`
	NoColor bool   `mapstructure:"no_color"`
	File    string `mapstructure:"file"`
}

type ExecConfig struct {
	// Timeout bounds every dump/restore tool invocation. Zero means no limit.
	Timeout time.Duration `mapstructure:"timeout"`
}

type SchedulerConfig struct {
	Store         string        `mapstructure:"store"` // sqlite | memory
	Path          string        `mapstructure:"path"`
	MisfirePolicy string        `mapstructure:"misfire_policy"` // skip | fire_once
	SyncInterval  time.Duration `mapstructure:"sync_interval"`
}

type CloudConfig struct {
	AWS   AWSConfig   `mapstructure:"aws"`
	Azure AzureConfig `mapstructure:"azure"`
	GCP   GCPConfig   `mapstructure:"gcp"`
	Minio MinioConfig `mapstructure:"minio"`
	SFTP  SFTPConfig  `mapstructure:"sftp"`
	FTP   FTPConfig   `mapstructure:"ftp"`
	Local LocalConfig `mapstructure:"local"`
}

type AWSConfig struct {
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket_name"`
	Region    string `mapstructure:"region"`
	Prefix    string `mapstructure:"prefix"`
	// Endpoint points the client at an S3-compatible service instead of AWS.
	Endpoint string `mapstructure:"endpoint"`
}

type AzureConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	Container        string `mapstructure:"container_name"`
}

type GCPConfig struct {
	CredentialsPath string        `mapstructure:"credentials_path"`
	Bucket          string        `mapstructure:"bucket_name"`
	ProjectID       string        `mapstructure:"project_id"`
	SignedURLExpiry time.Duration `mapstructure:"signed_url_expiry"`
	// Endpoint points the client at an emulator such as fake-gcs-server; no credentials are sent.
	Endpoint        string        `mapstructure:"endpoint"`
}

type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket_name"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type SFTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	KeyFile  string `mapstructure:"key_file"`
	Path     string `mapstructure:"path"`
}

type FTPConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	Path     string        `mapstructure:"path"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type LocalConfig struct {
	Path string `mapstructure:"path"`
}

type Notifications struct {
	Slack    SlackConfig     `mapstructure:"slack"`
	Webhooks []WebhookConfig `mapstructure:"webhooks"`
}

type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Template   string `mapstructure:"template"`
}

type WebhookConfig struct {
	URL      string            `mapstructure:"url"`
	Method   string            `mapstructure:"method"`
	Template string            `mapstructure:"template"`
	Headers  map[string]string `mapstructure:"headers"`
}

var (
	mu           sync.RWMutex
	globalConfig *Config
	listeners    []func(*Config)
)

// HomeDir is the per-user state directory (~/.dbu).
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dbu"
	}
	return filepath.Join(home, ".dbu")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.no_color", false)
	v.SetDefault("log.file", "")
	v.SetDefault("exec.timeout", "0s")
	v.SetDefault("scheduler.store", "sqlite")
	v.SetDefault("scheduler.path", filepath.Join(HomeDir(), "jobs.db"))
	v.SetDefault("scheduler.misfire_policy", "skip")
	v.SetDefault("scheduler.sync_interval", "30s")
	v.SetDefault("cloud.aws.region", "us-east-1")
	v.SetDefault("cloud.aws.access_key", "")
	v.SetDefault("cloud.aws.secret_key", "")
	v.SetDefault("cloud.aws.bucket_name", "")
	v.SetDefault("cloud.aws.endpoint", "")
	v.SetDefault("cloud.azure.connection_string", "")
	v.SetDefault("cloud.azure.container_name", "")
	v.SetDefault("cloud.gcp.credentials_path", "")
	v.SetDefault("cloud.gcp.bucket_name", "")
	v.SetDefault("cloud.gcp.project_id", "")
	v.SetDefault("cloud.gcp.signed_url_expiry", "15m")
	v.SetDefault("cloud.gcp.endpoint", "")
	v.SetDefault("cloud.minio.endpoint", "")
	v.SetDefault("cloud.minio.bucket_name", "")
	v.SetDefault("cloud.sftp.port", 22)
	v.SetDefault("cloud.sftp.host", "")
	v.SetDefault("cloud.sftp.path", "")
	v.SetDefault("cloud.ftp.port", 21)
	v.SetDefault("cloud.ftp.host", "")
	v.SetDefault("cloud.ftp.path", "")
	v.SetDefault("cloud.ftp.timeout", "5s")
	v.SetDefault("cloud.local.path", filepath.Join(HomeDir(), "storage"))
	v.SetDefault("notifications.slack.webhook_url", "")
}

// Default returns the configuration used when no file or environment overrides exist.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func Initialize(configPath string) error {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("dbu")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(HomeDir())
	}

	v.SetEnvPrefix("DBU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	store(cfg)

	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			next := &Config{}
			if err := v.Unmarshal(next); err != nil {
				return
			}
			store(next)
		})
		v.WatchConfig()
	}

	return nil
}

func store(cfg *Config) {
	mu.Lock()
	globalConfig = cfg
	fns := append([]func(*Config){}, listeners...)
	mu.Unlock()

	for _, fn := range fns {
		fn(cfg)
	}
}

// OnChange registers fn to run after every successful (re)load.
func OnChange(fn func(*Config)) {
	mu.Lock()
	defer mu.Unlock()
	listeners = append(listeners, fn)
}

func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if globalConfig == nil {
		return Default()
	}
	return globalConfig
}

func reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	listeners = nil
}
