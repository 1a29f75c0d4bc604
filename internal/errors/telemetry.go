// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError sends an enhanced error to Sentry with credentials scrubbed.
// Only high and critical priority errors are forwarded; item-level failures
// stay in the local error log.
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}
	if ee.Priority != PriorityHigh && ee.Priority != PriorityCritical {
		return
	}

	message := scrubMessage(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))
	component := ee.GetComponent()

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))

		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrubMessage(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}

		level := sentry.LevelError
		if ee.Category == CategoryNetwork || ee.Category == CategoryMediaFetch {
			level = sentry.LevelWarning
		}
		scope.SetLevel(level)
		scope.SetFingerprint([]string{component, string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = level
		event.Exception = []sentry.Exception{{
			Type:  component + " " + string(ee.Category),
			Value: message,
		}}
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

var (
	telemetryMu     sync.RWMutex
	globalTelemetry TelemetryReporter
)

// SetTelemetryReporter installs the global telemetry reporter. Passing nil
// disables reporting and restores the fast path in Build.
func SetTelemetryReporter(reporter TelemetryReporter) {
	telemetryMu.Lock()
	defer telemetryMu.Unlock()
	globalTelemetry = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

// reportToTelemetry reports an error to the configured telemetry system
func reportToTelemetry(ee *EnhancedError) {
	telemetryMu.RLock()
	reporter := globalTelemetry
	telemetryMu.RUnlock()

	if reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

var (
	urlQueryRegex  = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	userinfoRegex  = regexp.MustCompile(`(https?://)[^/@\s]+@`)
	secretKVRegex  = regexp.MustCompile(`(?i)(password|client_secret|access_token|token|auth)[=:]\S+`)
	bearerRegex    = regexp.MustCompile(`(?i)bearer\s+\S+`)
	longTokenRegex = regexp.MustCompile(`[0-9a-fA-F]{32,}`)
)

// scrubMessage strips credentials and query strings from a message
func scrubMessage(message string) string {
	scrubbed := urlQueryRegex.ReplaceAllString(message, "$1?[REDACTED]")
	scrubbed = userinfoRegex.ReplaceAllString(scrubbed, "$1[REDACTED]@")
	scrubbed = secretKVRegex.ReplaceAllString(scrubbed, "$1=[REDACTED]")
	scrubbed = bearerRegex.ReplaceAllString(scrubbed, "Bearer [REDACTED]")
	return longTokenRegex.ReplaceAllString(scrubbed, "[TOKEN_REDACTED]")
}
