package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"time"
)

// newTextHandler builds the console handler: logfmt-style text, local
// wall-clock time in the configured zone, TRACE rendered by name.
func newTextHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.In(tz).Format(time.TimeOnly))
				}
			case slog.LevelKey:
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= traceLevelValue {
					return slog.String(slog.LevelKey, "TRACE")
				}
			}
			return a
		},
	})
}

// multiWriterHandler fans records out to several handlers
type multiWriterHandler struct {
	handlers []slog.Handler
}

func newMultiWriterHandler(handlers ...slog.Handler) slog.Handler {
	if len(handlers) == 1 {
		return handlers[0]
	}
	return &multiWriterHandler{handlers: handlers}
}

func (h *multiWriterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

//nolint:gocritic // slog.Handler interface requires record by value
func (h *multiWriterHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *multiWriterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &multiWriterHandler{handlers: next}
}

func (h *multiWriterHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &multiWriterHandler{handlers: next}
}

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-._~+/]+=*)`),
	regexp.MustCompile(`(?i)((?:password|client_secret|access_token|refresh_token)[\s:=]+)([^;,&\s"]+)`),
	regexp.MustCompile(`(?i)((?:SESS|SSESS)[0-9a-f]*=)([^;,\s]+)`),
	regexp.MustCompile(`(https?://[^:/\s]+:)([^@\s]+)(@)`),
}

// RedactSensitiveData masks bearer tokens, OAuth secrets, Drupal session
// cookies and URL userinfo passwords.
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for i, pattern := range sensitivePatterns {
		if i == len(sensitivePatterns)-1 {
			input = pattern.ReplaceAllString(input, "${1}[REDACTED]${3}")
			continue
		}
		input = pattern.ReplaceAllString(input, "${1}[REDACTED]")
	}
	return input
}
