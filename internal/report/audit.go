package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tphakala/cmsbridge/internal/upsert"
)

// Audit status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// AuditRow is one line of an entity audit file.
type AuditRow struct {
	SourceID string
	Fields   map[string]string
	Action   upsert.Action
}

// AuditWriter appends rows to <dir>/<entity>.csv. The header
// (source_id, fields..., migration_status, migration_action) is written
// only when the file is empty, so runs accumulate.
type AuditWriter struct {
	mu     sync.Mutex
	f      *os.File
	w      *csv.Writer
	fields []string
	path   string
}

// OpenAudit opens the audit file for entity under dir.
func OpenAudit(dir, entity string, fields []string) (*AuditWriter, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	path := filepath.Join(dir, entity+".csv")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat audit file: %w", err)
	}

	a := &AuditWriter{f: f, w: csv.NewWriter(f), fields: fields, path: path}
	if info.Size() == 0 {
		header := make([]string, 0, len(fields)+3)
		header = append(header, "source_id")
		header = append(header, fields...)
		header = append(header, "migration_status", "migration_action")
		if err := a.w.Write(header); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write audit header: %w", err)
		}
	}
	return a, nil
}

// Write buffers one row. Fields not in the header are ignored.
func (a *AuditWriter) Write(row AuditRow) error {
	status := StatusSuccess
	if row.Action == upsert.ActionFailed {
		status = StatusError
	}
	record := make([]string, 0, len(a.fields)+3)
	record = append(record, row.SourceID)
	for _, f := range a.fields {
		record = append(record, row.Fields[f])
	}
	record = append(record, status, string(row.Action))

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return fmt.Errorf("audit file %s is closed", a.path)
	}
	return a.w.Write(record)
}

// Flush writes buffered rows to disk.
func (a *AuditWriter) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return nil
	}
	a.w.Flush()
	return a.w.Error()
}

// Path returns the file path.
func (a *AuditWriter) Path() string {
	return a.path
}

// Close flushes and closes the file. Safe to call twice.
func (a *AuditWriter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return nil
	}
	a.w.Flush()
	werr := a.w.Error()
	cerr := a.f.Close()
	a.f = nil
	if werr != nil {
		return werr
	}
	return cerr
}
