package conf

import (
	"fmt"

	"github.com/tphakala/voterimport/internal/secrets"
)

// resolveSecrets replaces credential fields with their resolved values:
// the *_file path when set, otherwise the value with ${VAR} expanded.
func resolveSecrets(s *Settings) error {
	fields := []struct {
		name  string
		file  string
		value *string
	}{
		{"database.mysql.password", s.Database.MySQL.PasswordFile, &s.Database.MySQL.Password},
		{"database.postgres.password", s.Database.Postgres.PasswordFile, &s.Database.Postgres.Password},
		{"amqp.url", "", &s.AMQP.URL},
		{"storage.minio.access_key", "", &s.Storage.Minio.AccessKey},
		{"storage.minio.secret_key", s.Storage.Minio.SecretKeyFile, &s.Storage.Minio.SecretKey},
		{"mqtt.password", s.MQTT.PasswordFile, &s.MQTT.Password},
		{"sentry.dsn", "", &s.Sentry.DSN},
	}

	for _, f := range fields {
		resolved, err := secrets.Resolve(f.file, *f.value)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.value = resolved
	}
	return nil
}
