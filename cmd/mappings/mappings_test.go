package mappings

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/cmsbridge/internal/identity"
	"github.com/tphakala/cmsbridge/internal/logger"
)

func seededStore(t *testing.T) *identity.Store {
	t.Helper()
	store, err := identity.Open(t.TempDir(), logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil))
	require.NoError(t, err)
	require.NoError(t, store.Record("company", "c-2", "20"))
	require.NoError(t, store.Record("company", "c-1", "10"))
	require.NoError(t, store.Record("user", "u-1", "1"))
	require.NoError(t, store.Close())
	return store
}

func TestList(t *testing.T) {
	t.Parallel()

	store := seededStore(t)
	var buf bytes.Buffer
	require.NoError(t, list(&buf, store))

	out := buf.String()
	assert.Contains(t, out, "ENTITY")
	assert.Regexp(t, `company\s+2\s+`, out)
	assert.Regexp(t, `user\s+1\s+`, out)
}

func TestShow_SortedBySource(t *testing.T) {
	t.Parallel()

	store := seededStore(t)
	var buf bytes.Buffer
	require.NoError(t, show(&buf, store, "company"))

	out := buf.String()
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("c-1")), bytes.Index(buf.Bytes(), []byte("c-2")))
	assert.Regexp(t, `c-1\s+10`, out)
}

func TestShow_UnknownEntityIsEmpty(t *testing.T) {
	t.Parallel()

	store := seededStore(t)
	var buf bytes.Buffer
	require.NoError(t, show(&buf, store, "project"))
	assert.Contains(t, buf.String(), "SOURCE")
	assert.NotContains(t, buf.String(), "c-1")
}
