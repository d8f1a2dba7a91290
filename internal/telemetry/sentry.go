// Package telemetry initializes optional Sentry error reporting. Only
// enhanced errors built through internal/errors are sent, and events are
// stripped of host and user details before they leave the process.
package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/voterimport/internal/conf"
	"github.com/tphakala/voterimport/internal/errors"
	"github.com/tphakala/voterimport/internal/logger"
)

const flushTimeout = 2 * time.Second

// GetLogger returns the telemetry module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}

// InitSentry installs the Sentry reporter when enabled. The returned
// function flushes pending events and must be called before exit.
func InitSentry(settings *conf.SentrySettings, version string) (func(), error) {
	if settings == nil || !settings.Enabled {
		errors.SetTelemetryReporter(nil)
		return func() {}, nil
	}

	env := settings.Environment
	if env == "" {
		env = "production"
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      env,
		ServerName:       "",
		Release:          fmt.Sprintf("voterimport@%s", version),
		BeforeSend:       applyPrivacyFilters,
	})
	if err != nil {
		return func() {}, errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	GetLogger().Info("sentry error reporting enabled", logger.String("environment", env))

	return func() {
		sentry.Flush(flushTimeout)
	}, nil
}

// applyPrivacyFilters drops host, user and runtime details from an event.
func applyPrivacyFilters(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Request = nil

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}
	return event
}
