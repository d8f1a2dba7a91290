package conf

import (
	"fmt"
	"time"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings checks every section and returns all problems at once.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		validateLogging,
		validateDatabase,
		validateImport,
		validateQueue,
		validateStorage,
		validateResolver,
		validateMQTT,
		validateSentry,
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateLogging(s *Settings) error {
	switch s.Logging.Timezone {
	case "", "Local", "UTC":
		return nil
	}
	if _, err := time.LoadLocation(s.Logging.Timezone); err != nil {
		return fmt.Errorf("logging.timezone %q is not a valid IANA zone", s.Logging.Timezone)
	}
	return nil
}

func validateDatabase(s *Settings) error {
	db := &s.Database
	switch db.Backend {
	case BackendSQLite:
		if db.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required for the sqlite backend")
		}
	case BackendMySQL:
		if db.MySQL.Host == "" || db.MySQL.Database == "" {
			return fmt.Errorf("database.mysql.host and database.mysql.database are required")
		}
	case BackendPostgres:
		if db.Postgres.Host == "" || db.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.host and database.postgres.database are required")
		}
	default:
		return fmt.Errorf("database.backend must be sqlite, mysql or postgres, got %q", db.Backend)
	}
	if db.MaxOpenConns < 0 || db.MaxIdleConns < 0 {
		return fmt.Errorf("database connection pool sizes must not be negative")
	}
	return nil
}

func validateImport(s *Settings) error {
	imp := &s.Import
	if imp.MaxBatchSize <= 0 {
		return fmt.Errorf("import.max_batch_size must be positive")
	}
	if imp.BatchSize <= 0 || imp.BatchSize > imp.MaxBatchSize {
		return fmt.Errorf("import.batch_size must be between 1 and %d, got %d", imp.MaxBatchSize, imp.BatchSize)
	}
	if imp.QueueName == "" {
		return fmt.Errorf("import.queue_name is required")
	}
	if imp.DispatchRate < 0 {
		return fmt.Errorf("import.dispatch_rate must not be negative")
	}
	return nil
}

func validateQueue(s *Settings) error {
	q := &s.Queue
	switch q.Transport {
	case TransportLocal:
	case TransportAMQP:
		if s.AMQP.URL == "" {
			return fmt.Errorf("amqp.url is required when queue.transport is amqp")
		}
	default:
		return fmt.Errorf("queue.transport must be local or amqp, got %q", q.Transport)
	}
	if q.Concurrency <= 0 {
		return fmt.Errorf("queue.concurrency must be positive")
	}
	if q.Retry.Enabled {
		if q.Retry.MaxRetries < 0 {
			return fmt.Errorf("queue.retry.max_retries must not be negative")
		}
		if q.Retry.Multiplier < 1 {
			return fmt.Errorf("queue.retry.multiplier must be at least 1")
		}
		if q.Retry.MaxDelay < q.Retry.InitialDelay {
			return fmt.Errorf("queue.retry.max_delay must not be below initial_delay")
		}
	}
	return nil
}

func validateStorage(s *Settings) error {
	switch s.Storage.Backend {
	case StorageLocal:
		return nil
	case StorageMinio:
		if s.Storage.Minio.Endpoint == "" || s.Storage.Minio.Bucket == "" {
			return fmt.Errorf("storage.minio.endpoint and storage.minio.bucket are required")
		}
		return nil
	default:
		return fmt.Errorf("storage.backend must be local or minio, got %q", s.Storage.Backend)
	}
}

func validateResolver(s *Settings) error {
	if s.Resolver.CacheTTL <= 0 {
		return fmt.Errorf("resolver.cache_ttl must be positive")
	}
	return nil
}

func validateMQTT(s *Settings) error {
	if !s.MQTT.Enabled {
		return nil
	}
	if s.MQTT.Broker == "" || s.MQTT.Topic == "" {
		return fmt.Errorf("mqtt.broker and mqtt.topic are required when mqtt is enabled")
	}
	if s.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	return nil
}

func validateSentry(s *Settings) error {
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		return fmt.Errorf("sentry.dsn is required when sentry is enabled")
	}
	return nil
}
