package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/cmsbridge/internal/errors"
	"github.com/tphakala/cmsbridge/internal/httpclient"
	"github.com/tphakala/cmsbridge/internal/jsonapi"
	"github.com/tphakala/cmsbridge/internal/logger"
	"github.com/tphakala/cmsbridge/internal/retry"
)

type fakeAuth struct {
	resets     atomic.Int32
	authorized atomic.Int32
	failWith   error
}

func (f *fakeAuth) Authorize(_ context.Context, req *http.Request) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.authorized.Add(1)
	req.Header.Set("Authorization", "Bearer test")
	return nil
}

func (f *fakeAuth) Reset() { f.resets.Add(1) }

func newTestClient(t *testing.T, h http.Handler, auth Authenticator, mutate func(*Config)) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := Config{
		BaseURL:   srv.URL,
		APIPrefix: "/jsonapi",
		PageDelay: time.Millisecond,
		PageLimit: 2,
		Retry:     retry.NewLinear(2, time.Millisecond),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	hc := httpclient.New(nil)
	t.Cleanup(hc.Close)
	return New(cfg, hc, auth, WithLogger(logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil))), srv
}

// pagedHandler serves three pages of node--company; every page side-loads
// the same file--file record and page two adds a second one.
func pagedHandler(t *testing.T, hits *atomic.Int32) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "Bearer test", r.Header.Get("Authorization"))
		assert.Equal(t, jsonapi.MediaType, r.Header.Get("Accept"))

		page := r.URL.Query().Get("page[offset]")
		base := "http://" + r.Host + "/jsonapi/node/company"
		var next string
		var ids []string
		included := []string{`{"type":"file--file","id":"f-1","attributes":{"filename":"a.png"}}`}
		switch page {
		case "":
			assert.Equal(t, "2", r.URL.Query().Get("page[limit]"))
			assert.Equal(t, "field_logo", r.URL.Query().Get("include"))
			ids = []string{"c-1", "c-2"}
			next = base + "?page%5Boffset%5D=2"
		case "2":
			ids = []string{"c-3", "c-4"}
			included = append(included, `{"type":"file--file","id":"f-2","attributes":{}}`)
			next = base + "?page%5Boffset%5D=4"
		case "4":
			ids = []string{"c-5"}
		default:
			t.Errorf("unexpected page %q", page)
		}

		data := make([]string, 0, len(ids))
		for _, id := range ids {
			data = append(data, fmt.Sprintf(`{"type":"node--company","id":%q,"attributes":{"title":%q}}`, id, id))
		}
		links := `{}`
		if next != "" {
			links = fmt.Sprintf(`{"next":{"href":%q}}`, next)
		}
		w.Header().Set("Content-Type", jsonapi.MediaType)
		_, _ = fmt.Fprintf(w, `{"data":[%s],"included":[%s],"links":%s}`,
			strings.Join(data, ","), strings.Join(included, ","), links)
	})
}

func TestFetchAll_FollowsNextAndDedupsIncluded(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	auth := &fakeAuth{}
	c, _ := newTestClient(t, pagedHandler(t, &hits), auth, nil)

	col, err := c.FetchAll(t.Context(), "node/company", Params{Include: []string{"field_logo"}})
	require.NoError(t, err)

	assert.Equal(t, int32(3), hits.Load())
	require.Len(t, col.Primary, 5)
	assert.Equal(t, "c-1", col.Primary[0].ID)
	assert.Equal(t, "c-5", col.Primary[4].ID)
	assert.Len(t, col.Included, 2)
	assert.NotNil(t, col.Resolve(jsonapi.RelationshipRef{Type: "file--file", ID: "f-2"}))
	assert.Equal(t, int32(3), auth.authorized.Load())
}

func TestFetchAll_PacesPages(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	c, _ := newTestClient(t, pagedHandler(t, &hits), &fakeAuth{}, func(cfg *Config) {
		cfg.PageDelay = 20 * time.Millisecond
	})

	start := time.Now()
	_, err := c.FetchAll(t.Context(), "node/company", Params{Include: []string{"field_logo"}})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond, "two waits between three pages")
}

func TestFetchAll_UnauthorizedResetsCredentials(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	auth := &fakeAuth{}
	c, _ := newTestClient(t, h, auth, nil)

	_, err := c.FetchAll(t.Context(), "node/company", Params{})
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), auth.resets.Load())
	assert.Equal(t, int32(1), hits.Load(), "401 is not retried in place")
}

func TestFetchAll_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"data":[{"type":"user--user","id":"u-1"}]}`)
	})
	c, _ := newTestClient(t, h, &fakeAuth{}, nil)

	col, err := c.FetchAll(t.Context(), "user/user", Params{})
	require.NoError(t, err)
	assert.Len(t, col.Primary, 1)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchAll_StatusCategories(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   int
		category errors.ErrorCategory
		hits     int32
	}{
		{http.StatusForbidden, errors.CategoryConfiguration, 1},
		{http.StatusNotFound, errors.CategoryNotFound, 1},
		{http.StatusServiceUnavailable, errors.CategoryNetwork, 3},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()

			var hits atomic.Int32
			h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
			})
			c, _ := newTestClient(t, h, &fakeAuth{}, nil)

			_, err := c.FetchAll(t.Context(), "node/project", Params{})
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, tt.category), "got %v", err)
			assert.Equal(t, tt.hits, hits.Load())
		})
	}
}

func TestFetchAll_PaginationLoop(t *testing.T) {
	t.Parallel()

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		self := "http://" + r.Host + r.URL.RequestURI()
		_, _ = fmt.Fprintf(w, `{"data":[],"links":{"next":{"href":%q}}}`, self)
	})
	c, _ := newTestClient(t, h, &fakeAuth{}, nil)

	_, err := c.FetchAll(t.Context(), "node/company", Params{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pagination loop")
}

func TestFetchAll_AuthFailurePropagates(t *testing.T) {
	t.Parallel()

	exhausted := errors.NewStd("exhausted")
	c, _ := newTestClient(t, http.NotFoundHandler(), &fakeAuth{failWith: exhausted}, nil)

	_, err := c.FetchAll(t.Context(), "node/company", Params{})
	require.ErrorIs(t, err, exhausted)
}

func TestFetchOne(t *testing.T) {
	t.Parallel()

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jsonapi/file/file/f-1", r.URL.Path)
		_, _ = io.WriteString(w, `{"data":{"type":"file--file","id":"f-1","attributes":{"uri":{"url":"/sites/default/files/logo.png"}}}}`)
	})
	c, srv := newTestClient(t, h, &fakeAuth{}, nil)

	doc, err := c.FetchOne(t.Context(), "file/file/f-1", Params{Limit: -1})
	require.NoError(t, err)
	rec := doc.Data.One()
	require.NotNil(t, rec)

	abs, err := c.ResolveURL(rec.Attributes.String("uri", "url"))
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/sites/default/files/logo.png", abs)
}

func TestDownload(t *testing.T) {
	t.Parallel()

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	})
	c, srv := newTestClient(t, h, &fakeAuth{}, nil)

	data, ctype, err := c.Download(t.Context(), srv.URL+"/logo.png")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)
	assert.Equal(t, "image/png", ctype)

	_, _, err = c.Download(t.Context(), srv.URL+"/missing.png")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestParamsEncode(t *testing.T) {
	t.Parallel()

	p := Params{
		Fields:  map[string][]string{"node--company": {"title", "field_logo"}, "file--file": {"uri"}},
		Include: []string{"field_logo", "field_logo.field_media_image"},
		Filter:  map[string]string{"status": "1"},
		Sort:    "nid",
	}
	q := p.encode(50)
	assert.Equal(t,
		"fields%5Bfile--file%5D=uri&fields%5Bnode--company%5D=title%2Cfield_logo&filter%5Bstatus%5D=1"+
			"&include=field_logo%2Cfield_logo.field_media_image&page%5Blimit%5D=50&sort=nid",
		q)

	assert.Empty(t, Params{Limit: -1}.encode(50))
}
