package identity

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/cmsbridge/internal/errors"
	"github.com/tphakala/cmsbridge/internal/logger"
)

func newTestStore(t *testing.T, dir string) (*Store, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	s, err := Open(dir, logger.NewSlogLogger(&buf, logger.LogLevelDebug, nil))
	require.NoError(t, err)
	return s, &buf
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, _ := newTestStore(t, dir)

	require.NoError(t, s.Record("company", "abc-1", "17"))
	require.NoError(t, s.Record("company", "abc-2", "18"))
	require.NoError(t, s.Flush("company"))

	_, err := os.Stat(filepath.Join(dir, "company_mapping.json"))
	require.NoError(t, err)

	reopened, _ := newTestStore(t, dir)
	m, err := reopened.Load("company")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"abc-1": "17", "abc-2": "18"}, m)

	id, ok := reopened.Lookup("company", "abc-2")
	assert.True(t, ok)
	assert.Equal(t, "18", id)

	_, ok = reopened.Lookup("company", "nope")
	assert.False(t, ok)
}

func TestStore_MissingFileWarnsAndIsEmpty(t *testing.T) {
	t.Parallel()

	s, logs := newTestStore(t, t.TempDir())

	m, err := s.Load("user")
	require.NoError(t, err)
	assert.Empty(t, m)
	assert.Contains(t, logs.String(), "identity map not found")
}

func TestStore_CorruptFileIsError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "category_mapping.json"), []byte("{not json"), 0o600))

	s, _ := newTestStore(t, dir)
	_, err := s.Load("category")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryIdentityMap))

	_, ok := s.Lookup("category", "x")
	assert.False(t, ok)
}

func TestStore_RecordMergesExistingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first, _ := newTestStore(t, dir)
	require.NoError(t, first.Record("project", "p-1", "1"))
	require.NoError(t, first.Close())

	second, _ := newTestStore(t, dir)
	require.NoError(t, second.Record("project", "p-2", "2"))
	require.NoError(t, second.Close())

	third, _ := newTestStore(t, dir)
	m, err := third.Load("project")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"p-1": "1", "p-2": "2"}, m)
}

func TestStore_LoadReturnsCopy(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, t.TempDir())
	require.NoError(t, s.Record("user", "u-1", "9"))

	m, err := s.Load("user")
	require.NoError(t, err)
	m["u-1"] = "tampered"

	id, _ := s.Lookup("user", "u-1")
	assert.Equal(t, "9", id)
}

func TestStore_RejectsEmptyIdentity(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, t.TempDir())
	require.Error(t, s.Record("user", "", "9"))
	require.Error(t, s.Record("user", "u-1", ""))
}

func TestStore_FlushWithoutChangesDoesNotWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, _ := newTestStore(t, dir)
	_, err := s.Load("user")
	require.NoError(t, err)
	require.NoError(t, s.Flush("user"))
	require.NoError(t, s.Flush("never-touched"))

	_, err = os.Stat(filepath.Join(dir, "user_mapping.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestStore_Entities(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, _ := newTestStore(t, dir)
	require.NoError(t, s.Record("company", "a", "1"))
	require.NoError(t, s.Close())
	require.NoError(t, s.Record("user", "u", "2"))

	got, err := s.Entities()
	require.NoError(t, err)
	assert.Equal(t, []string{"company", "user"}, got)
}

func TestStore_ConcurrentRecord(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, t.TempDir())
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			assert.NoError(t, s.Record("taxonomy", string(rune('a'+i)), "x"))
		})
	}
	wg.Wait()

	m, err := s.Load("taxonomy")
	require.NoError(t, err)
	assert.Len(t, m, 20)
}
