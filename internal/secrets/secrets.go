// Package secrets resolves credentials from environment references or
// mounted secret files. Secret values are never logged.
package secrets

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/voterimport/internal/errors"
	"github.com/tphakala/voterimport/internal/logger"
)

// Secrets are small: passwords, access keys, broker URLs.
const maxSecretFileSize = 64 * 1024

// ExpandString expands ${VAR} and ${VAR:-default} references in s. A
// reference without a default to an unset variable is an error.
func ExpandString(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})

	if len(missing) > 0 {
		return "", secretErrorf("expand", "missing environment variable(s): %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// ReadFile reads a secret file such as /run/secrets/db_password. Trailing
// newlines are trimmed; files readable by group or others are accepted with
// a warning.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", secretErrorf("read_file", "secret file path is empty")
	}
	cleanPath := filepath.Clean(path)

	info, err := os.Stat(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.New(err).
				Component("secrets").
				Category(errors.CategoryNotFound).
				Context("path", cleanPath).
				Build()
		}
		return "", secretError(err, "stat")
	}
	if !info.Mode().IsRegular() {
		return "", secretErrorf("read_file", "secret path is not a regular file: %s", cleanPath)
	}
	if info.Size() > maxSecretFileSize {
		return "", secretErrorf("read_file", "secret file larger than %d bytes: %s", maxSecretFileSize, cleanPath)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		GetLogger().Warn("secret file is readable by group or others",
			logger.String("path", cleanPath),
			logger.String("mode", perm.String()))
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return "", secretError(err, "read_file")
	}
	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", secretErrorf("read_file", "secret file is empty: %s", cleanPath)
	}
	return secret, nil
}

// Resolve returns the contents of filePath when set, otherwise value with
// environment references expanded.
func Resolve(filePath, value string) (string, error) {
	if filePath != "" {
		return ReadFile(filePath)
	}
	return ExpandString(value)
}

// GetLogger returns the secrets module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("secrets")
}

func secretError(err error, operation string) error {
	return errors.New(err).
		Component("secrets").
		Category(errors.CategoryConfiguration).
		Context("operation", operation).
		Build()
}

func secretErrorf(operation, format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("secrets").
		Category(errors.CategoryConfiguration).
		Context("operation", operation).
		Build()
}
