package stages

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/cmsbridge/internal/identity"
	"github.com/tphakala/cmsbridge/internal/jsonapi"
	"github.com/tphakala/cmsbridge/internal/logger"
	"github.com/tphakala/cmsbridge/internal/pipeline"
	"github.com/tphakala/cmsbridge/internal/report"
	"github.com/tphakala/cmsbridge/internal/source"
	"github.com/tphakala/cmsbridge/internal/upsert"
)

var quiet = logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)

func decode(t *testing.T, doc string) *jsonapi.Collection {
	t.Helper()
	d, err := jsonapi.Decode(strings.NewReader(doc))
	require.NoError(t, err)
	col := jsonapi.NewCollection()
	col.Append(d)
	return col
}

type staticIdentity map[string]map[string]string

func (s staticIdentity) Lookup(entity, sourceID string) (string, bool) {
	id, ok := s[entity][sourceID]
	return id, ok
}

type fakeMedia struct {
	mu      sync.Mutex
	folders map[string]string
	missing map[string]bool
}

func (f *fakeMedia) TransferAsset(_ context.Context, fileID, folder string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[fileID] {
		return "", false
	}
	if f.folders == nil {
		f.folders = map[string]string{}
	}
	f.folders[fileID] = folder
	return "target-" + fileID, true
}

func env(ids staticIdentity, m pipeline.MediaTransfer) *pipeline.Env {
	if ids == nil {
		ids = staticIdentity{}
	}
	return &pipeline.Env{RunID: "run-1", Media: m, Identity: ids, Log: quiet}
}

type fetcher struct{ col *jsonapi.Collection }

func (f fetcher) FetchAll(context.Context, string, source.Params) (*jsonapi.Collection, error) {
	return f.col, nil
}

type memTarget struct {
	mu    sync.Mutex
	items map[string][]map[string]any
}

func (m *memTarget) FindID(_ context.Context, collection, field string, value any) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, it := range m.items[collection] {
		if it[field] == value {
			return fmt.Sprint(i + 1), true, nil
		}
	}
	return "", false, nil
}

func (m *memTarget) CreateItem(_ context.Context, collection string, payload map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = map[string][]map[string]any{}
	}
	m.items[collection] = append(m.items[collection], payload)
	return fmt.Sprint(len(m.items[collection])), nil
}

func TestCompanyWithoutLogo_CreatesOneRecord(t *testing.T) {
	t.Parallel()

	col := decode(t, `{"data":{"type":"company","id":"abc-1","attributes":{"title":"Acme"}},"included":[]}`)
	dir := t.TempDir()
	ids, err := identity.Open(dir, quiet)
	require.NoError(t, err)
	rep := report.New(nil, quiet)
	target := &memTarget{}
	engine := upsert.NewEngine(target, rep, upsert.WithLogger(quiet))
	media := &fakeMedia{}

	r := pipeline.NewRunner(pipeline.Config{}, fetcher{col}, engine, ids, rep,
		pipeline.WithLogger(quiet), pipeline.WithMedia(media))
	require.NoError(t, r.Run(t.Context(), Companies(Options{})))

	created := target.items["companies"]
	require.Len(t, created, 1)
	assert.Equal(t, "abc-1", created[0]["source_id"])
	assert.Equal(t, "Acme", created[0]["name"])
	assert.Contains(t, created[0], "logo")
	assert.Nil(t, created[0]["logo"])
	assert.Empty(t, media.folders, "no media transfer without field_logo")
	assert.Equal(t, int64(1), rep.Summary()[0].Created)
}

func TestTransformCompany_LogoAndContacts(t *testing.T) {
	t.Parallel()

	col := decode(t, `{
		"data":[{"type":"node--company","id":"c-1",
			"attributes":{"title":"Acme","status":true,"drupal_internal__nid":12,
				"body":{"value":"<p>Steel <b>works</b></p>","format":"basic_html"},
				"field_website":{"uri":"https://acme.example"}},
			"relationships":{
				"field_logo":{"data":{"type":"media--image","id":"m-1"}},
				"field_contacts":{"data":[{"type":"paragraph--contact","id":"p-1"},{"type":"paragraph--contact","id":"p-missing"}]}}}],
		"included":[
			{"type":"media--image","id":"m-1","relationships":{"field_media_image":{"data":{"type":"file--file","id":"f-1"}}}},
			{"type":"paragraph--contact","id":"p-1","attributes":{"field_name":"Jane Roe","field_email":"jane@acme.example"}}
		]}`)
	media := &fakeMedia{}

	item, err := transformCompany(t.Context(), env(nil, media), col.Primary[0], col, Options{LogoFolder: "logos"})
	require.NoError(t, err)

	assert.Equal(t, "c-1", item.Key)
	assert.Equal(t, "target-f-1", item.Payload["logo"])
	assert.Equal(t, "logos", media.folders["f-1"])
	assert.Equal(t, "published", item.Payload["status"])
	assert.Equal(t, int64(12), item.Payload["legacy_id"])
	assert.Equal(t, "https://acme.example", item.Payload["website"])
	assert.Equal(t, "Steel works", item.Payload["description"])

	require.Len(t, item.Secondary, 1, "unresolvable contacts are dropped")
	c := item.Secondary[0]
	assert.Equal(t, "contacts", c.Collection)
	assert.Equal(t, "p-1", c.Key)
	assert.Equal(t, "company", c.ParentField)
	assert.Equal(t, "Jane Roe", c.Payload["name"])
	assert.Equal(t, "jane@acme.example", c.Payload["email"])
	assert.Nil(t, c.Payload["phone"])
	assert.Equal(t, "1", item.Audit["contacts"])
}

func TestTransformCompany_FailedTransferLeavesLogoNil(t *testing.T) {
	t.Parallel()

	col := decode(t, `{"data":[{"type":"node--company","id":"c-1","attributes":{"title":"Acme"},
		"relationships":{"field_logo":{"data":{"type":"file--file","id":"f-9"}}}}]}`)
	media := &fakeMedia{missing: map[string]bool{"f-9": true}}

	item, err := transformCompany(t.Context(), env(nil, media), col.Primary[0], col, Options{})
	require.NoError(t, err)
	assert.Nil(t, item.Payload["logo"])
}

func TestTransformProject(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("word ", 100)
	col := decode(t, `{
		"data":[{"type":"node--project","id":"p-1",
			"attributes":{"title":"Bridge","status":false,"body":{"value":"<p>`+long+`</p>","summary":""}},
			"relationships":{
				"field_company":{"data":{"type":"node--company","id":"c-1"}},
				"field_gallery":{"data":[
					{"type":"media--image","id":"m-1"},
					{"type":"media--image","id":"m-absent"},
					{"type":"media--image","id":"m-2"}]},
				"field_categories":{"data":[{"type":"taxonomy_term--tags","id":"t-1"},{"type":"taxonomy_term--tags","id":"t-unknown"}]}}}],
		"included":[
			{"type":"media--image","id":"m-1","relationships":{"field_media_image":{"data":{"type":"file--file","id":"f-1"}}}},
			{"type":"media--image","id":"m-2","relationships":{"field_media_image":{"data":{"type":"file--file","id":"f-2"}}}}
		]}`)
	ids := staticIdentity{
		EntityCompany:  {"c-1": "17"},
		EntityCategory: {"t-1": "5"},
	}

	item, err := transformProject(t.Context(), env(ids, &fakeMedia{}), col.Primary[0], col, Options{GalleryFolder: "gallery"})
	require.NoError(t, err)

	assert.Equal(t, "17", item.Payload["company"])
	assert.Equal(t, "draft", item.Payload["status"])
	summary := item.Payload["summary"].(string)
	assert.LessOrEqual(t, len([]rune(summary)), summaryRunes+1)
	assert.True(t, strings.HasSuffix(summary, "…"))

	require.Len(t, item.Secondary, 3)
	assert.Equal(t, "projects_files", item.Secondary[0].Collection)
	assert.Equal(t, "target-f-1", item.Secondary[0].Payload["directus_files_id"])
	assert.Equal(t, 1, item.Secondary[0].Payload["sort"])
	assert.Equal(t, 3, item.Secondary[1].Payload["sort"], "gallery order is kept")
	assert.Equal(t, "projects_categories", item.Secondary[2].Collection)
	assert.Equal(t, "5", item.Secondary[2].Payload["categories_id"])
	assert.Equal(t, "p-1:t-1", item.Secondary[2].Key)
	assert.Equal(t, "2", item.Audit["gallery"])
	assert.Equal(t, "1", item.Audit["categories"])
}

func TestTransformProject_UnknownCompany(t *testing.T) {
	t.Parallel()

	col := decode(t, `{"data":[{"type":"node--project","id":"p-1","attributes":{"title":"Bridge"},
		"relationships":{"field_company":{"data":{"type":"node--company","id":"c-404"}}}}]}`)

	item, err := transformProject(t.Context(), env(nil, nil), col.Primary[0], col, Options{})
	require.NoError(t, err)
	assert.Nil(t, item.Payload["company"])
	assert.Nil(t, item.Payload["summary"])
}

func TestTransformTerm(t *testing.T) {
	t.Parallel()

	col := decode(t, `{"data":[
		{"type":"taxonomy_term--tags","id":"t-1","attributes":{"name":"Steel","weight":2,"drupal_internal__tid":7,
			"description":{"value":"<p>Metal</p>","processed":"<p>Metal</p>"}},
			"relationships":{"parent":{"data":[{"type":"taxonomy_term--tags","id":"virtual"}]}}},
		{"type":"taxonomy_term--tags","id":"t-2","attributes":{"name":"Beams"},
			"relationships":{"parent":{"data":[{"type":"taxonomy_term--tags","id":"t-1"}]}}}]}`)
	ids := staticIdentity{EntityCategory: {"t-1": "40"}}

	root, err := transformTerm(t.Context(), env(ids, nil), col.Primary[0], col)
	require.NoError(t, err)
	assert.Equal(t, "Steel", root.Payload["name"])
	assert.Equal(t, "Metal", root.Payload["description"])
	assert.Equal(t, int64(7), root.Payload["legacy_id"])
	assert.Nil(t, root.Payload["parent"])

	child, err := transformTerm(t.Context(), env(ids, nil), col.Primary[1], col)
	require.NoError(t, err)
	assert.Equal(t, "40", child.Payload["parent"])
	assert.Nil(t, child.Payload["description"])
}

func TestTransformUser(t *testing.T) {
	t.Parallel()

	col := decode(t, `{"data":[
		{"type":"user--user","id":"anon","attributes":{"drupal_internal__uid":0}},
		{"type":"user--user","id":"u-1","attributes":{"name":"jroe","mail":"jane@acme.example","status":true,
			"created":"2020-01-02T03:04:05+01:00","drupal_internal__uid":3}}]}`)

	anon, err := transformUser(t.Context(), env(nil, nil), col.Primary[0], col)
	require.NoError(t, err)
	assert.Nil(t, anon, "anonymous account is dropped")

	u, err := transformUser(t.Context(), env(nil, nil), col.Primary[1], col)
	require.NoError(t, err)
	assert.Equal(t, "u-1", u.Key)
	assert.Equal(t, "jroe", u.Payload["username"])
	assert.Equal(t, "active", u.Payload["status"])
	assert.Equal(t, "2020-01-02T02:04:05Z", u.Payload["created_on"])
}

func TestSelect(t *testing.T) {
	t.Parallel()

	all, err := Select(Options{})
	require.NoError(t, err)
	require.Len(t, all, 4)

	picked, err := Select(Options{}, NameProjects, NameTaxonomy)
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, NameTaxonomy, picked[0].Name, "run order is fixed")
	assert.Equal(t, NameProjects, picked[1].Name)

	_, err = Select(Options{}, "widgets")
	require.Error(t, err)
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", summarize("short", 10))
	assert.Equal(t, "hello…", summarize("hello wonderful world", 10))
	assert.Equal(t, "abcdefghij…", summarize("abcdefghijklmnop", 10))
}

func TestCompanyStage_Identity(t *testing.T) {
	t.Parallel()

	s := Companies(Options{})
	assert.Equal(t, "companies", s.Collection)
	assert.Equal(t, "source_id", s.KeyField)
	assert.Equal(t, EntityCompany, s.Entity)
	assert.Equal(t, "node/company", s.Resource)
}
