package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding ties a config key to an environment variable with an optional
// validator.
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "VOTERIMPORT_DEBUG", validateEnvBool},

		{"database.backend", "VOTERIMPORT_DATABASE_BACKEND", validateEnvOneOf(BackendSQLite, BackendMySQL, BackendPostgres)},
		{"database.sqlite.path", "VOTERIMPORT_SQLITE_PATH", nil},
		{"database.mysql.host", "VOTERIMPORT_MYSQL_HOST", nil},
		{"database.mysql.port", "VOTERIMPORT_MYSQL_PORT", validateEnvPort},
		{"database.mysql.username", "VOTERIMPORT_MYSQL_USERNAME", nil},
		{"database.mysql.password", "VOTERIMPORT_MYSQL_PASSWORD", nil},
		{"database.mysql.database", "VOTERIMPORT_MYSQL_DATABASE", nil},
		{"database.postgres.host", "VOTERIMPORT_POSTGRES_HOST", nil},
		{"database.postgres.port", "VOTERIMPORT_POSTGRES_PORT", validateEnvPort},
		{"database.postgres.username", "VOTERIMPORT_POSTGRES_USERNAME", nil},
		{"database.postgres.password", "VOTERIMPORT_POSTGRES_PASSWORD", nil},
		{"database.postgres.database", "VOTERIMPORT_POSTGRES_DATABASE", nil},

		{"import.batch_size", "VOTERIMPORT_BATCH_SIZE", validateEnvPositiveInt},
		{"import.queue_name", "VOTERIMPORT_QUEUE_NAME", nil},

		{"queue.transport", "VOTERIMPORT_QUEUE_TRANSPORT", validateEnvOneOf(TransportLocal, TransportAMQP)},
		{"queue.concurrency", "VOTERIMPORT_QUEUE_CONCURRENCY", validateEnvPositiveInt},
		{"amqp.url", "VOTERIMPORT_AMQP_URL", validateEnvURL},

		{"storage.backend", "VOTERIMPORT_STORAGE_BACKEND", validateEnvOneOf(StorageLocal, StorageMinio)},
		{"storage.minio.endpoint", "VOTERIMPORT_MINIO_ENDPOINT", nil},
		{"storage.minio.access_key", "VOTERIMPORT_MINIO_ACCESS_KEY", nil},
		{"storage.minio.secret_key", "VOTERIMPORT_MINIO_SECRET_KEY", nil},
		{"storage.minio.bucket", "VOTERIMPORT_MINIO_BUCKET", nil},

		{"mqtt.broker", "VOTERIMPORT_MQTT_BROKER", validateEnvURL},
		{"mqtt.password", "VOTERIMPORT_MQTT_PASSWORD", nil},

		{"sentry.dsn", "VOTERIMPORT_SENTRY_DSN", validateEnvURL},
	}
}

// bindEnvVars binds every variable and reports values that fail validation.
// Invalid values are still bound; ValidateSettings has the final say.
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if value := os.Getenv(binding.EnvVar); value != "" {
			if err := binding.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s: %v", binding.EnvVar, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateEnvPort(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("must be a port between 1 and 65535")
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}

func validateEnvOneOf(allowed ...string) func(string) error {
	return func(value string) error {
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return fmt.Errorf("must be one of %s", strings.Join(allowed, ", "))
	}
}
