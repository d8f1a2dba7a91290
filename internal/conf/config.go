// Package conf loads, validates and persists voterimport settings.
package conf

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/voterimport/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Database backends
const (
	BackendSQLite   = "sqlite"
	BackendMySQL    = "mysql"
	BackendPostgres = "postgres"
)

// Queue transports
const (
	TransportLocal = "local"
	TransportAMQP  = "amqp"
)

// Storage backends
const (
	StorageLocal = "local"
	StorageMinio = "minio"
)

// SQLiteSettings holds the SQLite database location
type SQLiteSettings struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ServerSettings holds connection parameters shared by MySQL and PostgreSQL.
// Password may reference ${ENV_VARS}; PasswordFile, when set, wins.
type ServerSettings struct {
	Host         string `mapstructure:"host" yaml:"host"`
	Port         string `mapstructure:"port" yaml:"port"`
	Username     string `mapstructure:"username" yaml:"username"`
	Password     string `mapstructure:"password" yaml:"password"`
	PasswordFile string `mapstructure:"password_file" yaml:"password_file,omitempty"`
	Database     string `mapstructure:"database" yaml:"database"`
	SSLMode      string `mapstructure:"sslmode" yaml:"sslmode,omitempty"` // postgres only
}

// DatabaseSettings selects and configures the relational backend
type DatabaseSettings struct {
	Backend            string         `mapstructure:"backend" yaml:"backend"` // sqlite, mysql or postgres
	SQLite             SQLiteSettings `mapstructure:"sqlite" yaml:"sqlite"`
	MySQL              ServerSettings `mapstructure:"mysql" yaml:"mysql"`
	Postgres           ServerSettings `mapstructure:"postgres" yaml:"postgres"`
	MaxOpenConns       int            `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns       int            `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime    time.Duration  `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	SlowQueryThreshold time.Duration  `mapstructure:"slow_query_threshold" yaml:"slow_query_threshold"`
}

// ImportSettings controls file reading, chunking and dispatch
type ImportSettings struct {
	BatchSize     int           `mapstructure:"batch_size" yaml:"batch_size"`         // rows per import_batch job
	MaxBatchSize  int           `mapstructure:"max_batch_size" yaml:"max_batch_size"` // ceiling enforced by the upserter
	QueueName     string        `mapstructure:"queue_name" yaml:"queue_name"`
	DispatchRate  float64       `mapstructure:"dispatch_rate" yaml:"dispatch_rate"` // import_file tasks per second for folder imports
	DispatchBurst int           `mapstructure:"dispatch_burst" yaml:"dispatch_burst"`
	StagingPrefix string        `mapstructure:"staging_prefix" yaml:"staging_prefix"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
}

// RetrySettings is the retry budget applied to every queued job
type RetrySettings struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxRetries   int           `mapstructure:"max_retries" yaml:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier" yaml:"multiplier"`
}

// QueueSettings configures the job executor and its transport
type QueueSettings struct {
	Transport   string        `mapstructure:"transport" yaml:"transport"` // local or amqp
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
	MaxJobs     int           `mapstructure:"max_jobs" yaml:"max_jobs"`
	JobTimeout  time.Duration `mapstructure:"job_timeout" yaml:"job_timeout"`
	Retry       RetrySettings `mapstructure:"retry" yaml:"retry"`
}

// AMQPSettings configures the RabbitMQ transport
type AMQPSettings struct {
	URL         string        `mapstructure:"url" yaml:"url"`
	Prefetch    int           `mapstructure:"prefetch" yaml:"prefetch"`
	DialRetries int           `mapstructure:"dial_retries" yaml:"dial_retries"`
	DialBackoff time.Duration `mapstructure:"dial_backoff" yaml:"dial_backoff"`
}

// MinioSettings configures the S3-compatible object store
type MinioSettings struct {
	Endpoint      string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey     string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey     string `mapstructure:"secret_key" yaml:"secret_key"`
	SecretKeyFile string `mapstructure:"secret_key_file" yaml:"secret_key_file,omitempty"`
	Bucket        string `mapstructure:"bucket" yaml:"bucket"`
	Region        string `mapstructure:"region" yaml:"region"`
	UseSSL        bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
}

// StorageSettings selects where source CSV files are read from
type StorageSettings struct {
	Backend string        `mapstructure:"backend" yaml:"backend"` // local or minio
	BaseDir string        `mapstructure:"base_dir" yaml:"base_dir"`
	Minio   MinioSettings `mapstructure:"minio" yaml:"minio"`
}

// ResolverSettings configures the surname resolver cache
type ResolverSettings struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// MQTTSettings configures the cache invalidation broadcast
type MQTTSettings struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker       string `mapstructure:"broker" yaml:"broker"`
	Topic        string `mapstructure:"topic" yaml:"topic"`
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	Username     string `mapstructure:"username" yaml:"username"`
	Password     string `mapstructure:"password" yaml:"password"`
	PasswordFile string `mapstructure:"password_file" yaml:"password_file,omitempty"`
	QoS          byte   `mapstructure:"qos" yaml:"qos"`
}

// WorkerSettings configures the worker HTTP endpoint
type WorkerSettings struct {
	Listen         string `mapstructure:"listen" yaml:"listen"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
}

// NotificationSettings configures upload completion notifications
type NotificationSettings struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	URLs    []string `mapstructure:"urls" yaml:"urls"` // shoutrrr service URLs
}

// SentrySettings configures error telemetry
type SentrySettings struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN         string `mapstructure:"dsn" yaml:"dsn"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// Settings contains all configuration options for voterimport.
type Settings struct {
	Debug bool `mapstructure:"debug" yaml:"debug"`

	// Runtime values, not stored in config file
	Version   string `mapstructure:"-" yaml:"-"`
	BuildDate string `mapstructure:"-" yaml:"-"`

	Logging      logger.LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Database     DatabaseSettings     `mapstructure:"database" yaml:"database"`
	Import       ImportSettings       `mapstructure:"import" yaml:"import"`
	Queue        QueueSettings        `mapstructure:"queue" yaml:"queue"`
	AMQP         AMQPSettings         `mapstructure:"amqp" yaml:"amqp"`
	Storage      StorageSettings      `mapstructure:"storage" yaml:"storage"`
	Resolver     ResolverSettings     `mapstructure:"resolver" yaml:"resolver"`
	MQTT         MQTTSettings         `mapstructure:"mqtt" yaml:"mqtt"`
	Worker       WorkerSettings       `mapstructure:"worker" yaml:"worker"`
	Notification NotificationSettings `mapstructure:"notification" yaml:"notification"`
	Sentry       SentrySettings       `mapstructure:"sentry" yaml:"sentry"`
}

// settingsMutex serializes access to the global viper state.
var settingsMutex sync.Mutex

// Load reads config.yaml (or the embedded default) and the environment into
// a validated Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}
	return unmarshalSettings()
}

// Reload re-reads the viper state into a fresh Settings. Command line flags
// bound after Load take effect here.
func Reload() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	return unmarshalSettings()
}

func unmarshalSettings() (*Settings, error) {
	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	if err := resolveSecrets(settings); err != nil {
		return nil, fmt.Errorf("error resolving secrets: %w", err)
	}
	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	return settings, nil
}

func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return readEmbeddedConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	GetLogger().Debug("configuration loaded", logger.String("path", viper.ConfigFileUsed()))
	return nil
}

// readEmbeddedConfig falls back to the defaults shipped in the binary.
func readEmbeddedConfig() error {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}
	if err := viper.ReadConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("error parsing embedded config: %w", err)
	}
	GetLogger().Debug("no config file found, using embedded defaults")
	return nil
}

// DefaultConfig returns the embedded default config.yaml.
func DefaultConfig() []byte {
	data, _ := fs.ReadFile(configFiles, "config.yaml")
	return data
}

// SaveYAMLConfig writes settings to configPath through a temporary file so a
// crash never leaves a truncated config behind. Comments are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer func() { _ = os.Remove(tempFileName) }()

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	return nil
}
