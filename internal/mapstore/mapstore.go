// Package mapstore persists flat string maps as JSON objects, replacing
// the file atomically on every save.
package mapstore

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tphakala/cmsbridge/internal/errors"
)

const (
	filePerm = 0o600
	dirPerm  = 0o750
)

// Load reads a JSON object of strings. A missing file returns an error
// matching fs.ErrNotExist. Numeric values written by older tools are
// accepted and rendered as strings.
func Load(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.New(fmt.Errorf("decode %s: %w", filepath.Base(path), err)).
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err != nil {
			return nil, errors.Newf("decode %s: value of %q is neither string nor number", filepath.Base(path), k).
				Category(errors.CategoryFileParsing).
				Context("path", path).
				Build()
		}
		out[k] = n.String()
	}
	return out, nil
}

// LoadOrEmpty is Load with a missing file treated as an empty map. The
// boolean reports whether the file existed.
func LoadOrEmpty(path string) (map[string]string, bool, error) {
	m, err := Load(path)
	switch {
	case err == nil:
		return m, true, nil
	case errors.Is(err, fs.ErrNotExist):
		return map[string]string{}, false, nil
	default:
		return nil, false, err
	}
}

// Save writes m as indented JSON with sorted keys. The data is written to
// a temporary file in the same directory and renamed over path.
func Save(path string, m map[string]string) error {
	if m == nil {
		m = map[string]string{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temporary file: %w", err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		return fmt.Errorf("chmod temporary file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
