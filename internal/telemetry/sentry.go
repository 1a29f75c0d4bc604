// Package telemetry forwards systemic run failures to Sentry. Item-level
// failures never leave the host; see errors.SentryReporter.
package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/cmsbridge/internal/errors"
	"github.com/tphakala/cmsbridge/internal/logger"
)

// Config enables Sentry reporting.
type Config struct {
	DSN         string
	Environment string
	Release     string

	// Transport replaces the HTTP transport, for tests.
	Transport sentry.Transport
}

// Init configures the Sentry client and installs the error reporter. It
// is a no-op when DSN and Transport are both empty.
func Init(cfg Config) error {
	if cfg.DSN == "" && cfg.Transport == nil {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Transport:        cfg.Transport,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      cfg.Environment,
		ServerName:       "",
		Release:          cfg.Release,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	return nil
}

// Flush waits for queued events and disables the reporter.
func Flush(timeout time.Duration) bool {
	errors.SetTelemetryReporter(nil)
	return sentry.Flush(timeout)
}

// applyPrivacyFilters strips host identification and credentials.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Request = nil
	event.Modules = nil

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	event.Message = logger.RedactSensitiveData(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = logger.RedactSensitiveData(event.Exception[i].Value)
	}
	return event
}
