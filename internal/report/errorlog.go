package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/cmsbridge/internal/logger"
)

// ErrorLog appends one tab-separated line per failure:
//
//	<RFC 3339 timestamp>	<stage>	<entity id>	<message>
//
// Messages are flattened to one line and scrubbed of credentials.
type ErrorLog struct {
	mu   sync.Mutex
	f    *os.File
	path string
	now  func() time.Time
}

// OpenErrorLog opens path for appending, creating parent directories.
func OpenErrorLog(path string) (*ErrorLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logger.LogFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("open error log: %w", err)
	}
	return &ErrorLog{f: f, path: path, now: time.Now}, nil
}

// Append writes one failure line. A nil log discards.
func (l *ErrorLog) Append(stage, entityID string, err error) error {
	if l == nil {
		return nil
	}
	msg := "<nil>"
	if err != nil {
		msg = logger.RedactSensitiveData(flatten(err.Error()))
	}
	line := strings.Join([]string{
		l.now().UTC().Format(time.RFC3339),
		flatten(stage),
		flatten(entityID),
		msg,
	}, "\t") + "\n"

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return fmt.Errorf("error log %s is closed", l.path)
	}
	_, werr := l.f.WriteString(line)
	return werr
}

// Path returns the file path.
func (l *ErrorLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close closes the file. Safe to call twice.
func (l *ErrorLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

var flattener = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "\t", " ")

func flatten(s string) string {
	return flattener.Replace(s)
}
