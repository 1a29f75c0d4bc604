package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/cmsbridge/internal/errors"
	"github.com/tphakala/cmsbridge/internal/identity"
	"github.com/tphakala/cmsbridge/internal/jsonapi"
	"github.com/tphakala/cmsbridge/internal/logger"
	"github.com/tphakala/cmsbridge/internal/observability"
	"github.com/tphakala/cmsbridge/internal/report"
	"github.com/tphakala/cmsbridge/internal/source"
	"github.com/tphakala/cmsbridge/internal/upsert"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var quiet = logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)

// fakeFetcher serves fixed records and can fail the first calls.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	errs    []error
	records map[string][]*jsonapi.Record
}

func (f *fakeFetcher) FetchAll(_ context.Context, path string, _ source.Params) (*jsonapi.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	col := jsonapi.NewCollection()
	col.AddPrimary(f.records[path]...)
	return col, nil
}

// memTarget is an in-memory target keyed by collection and natural key.
type memTarget struct {
	mu      sync.Mutex
	items   map[string]map[string]map[string]any
	nextID  int
	creates int
	failKey string
}

func newMemTarget() *memTarget {
	return &memTarget{items: make(map[string]map[string]map[string]any)}
}

func (m *memTarget) FindID(_ context.Context, collection, field string, value any) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, item := range m.items[collection] {
		if item[field] == value {
			return id, true, nil
		}
	}
	return "", false, nil
}

func (m *memTarget) CreateItem(_ context.Context, collection string, payload map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range payload {
		if v == m.failKey && m.failKey != "" {
			return "", errors.NewStd("target returned status 400: invalid payload")
		}
	}
	m.creates++
	m.nextID++
	id := fmt.Sprint(m.nextID)
	if m.items[collection] == nil {
		m.items[collection] = make(map[string]map[string]any)
	}
	m.items[collection][id] = payload
	return id, nil
}

func record(typ, id, title string) *jsonapi.Record {
	attrs, _ := jsonapi.NewAttributes([]byte(fmt.Sprintf(`{"title":%q}`, title)))
	return &jsonapi.Record{Type: typ, ID: id, Attributes: attrs}
}

func companyStage() Stage {
	return Stage{
		Name:        "companies",
		Resource:    "node/company",
		Collection:  "companies",
		KeyField:    "source_id",
		Entity:      "company",
		AuditFields: []string{"name"},
		Transform: func(_ context.Context, _ *Env, rec *jsonapi.Record, _ *jsonapi.Collection) (*Item, error) {
			name := rec.Attributes.String("title")
			if name == "broken" {
				return nil, errors.NewStd("missing required name")
			}
			if name == "draft" {
				return nil, nil
			}
			return &Item{
				Key:     rec.ID,
				Payload: map[string]any{"name": name},
				Audit:   map[string]string{"name": name},
				Secondary: []Secondary{{
					Collection:  "contacts",
					KeyField:    "source_id",
					Key:         rec.ID + "-contact",
					ParentField: "company",
					Payload:     map[string]any{"email": "info@" + rec.ID + ".example"},
				}},
			}, nil
		},
	}
}

type harness struct {
	dir      string
	fetcher  *fakeFetcher
	target   *memTarget
	ids      *identity.Store
	reporter *report.Reporter
	runner   *Runner
}

func newHarness(t *testing.T, dir string, target *memTarget, fetcher *fakeFetcher, opts ...Option) *harness {
	t.Helper()
	ids, err := identity.Open(filepath.Join(dir, "csv"), quiet)
	require.NoError(t, err)
	errLog, err := report.OpenErrorLog(filepath.Join(dir, "logs", "migration_errors.log"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = errLog.Close() })

	rep := report.New(errLog, quiet)
	engine := upsert.NewEngine(target, rep, upsert.WithLogger(quiet))
	opts = append([]Option{WithLogger(quiet)}, opts...)
	r := NewRunner(Config{CSVDir: filepath.Join(dir, "csv")}, fetcher, engine, ids, rep, opts...)
	return &harness{dir: dir, fetcher: fetcher, target: target, ids: ids, reporter: rep, runner: r}
}

func companies() *fakeFetcher {
	return &fakeFetcher{records: map[string][]*jsonapi.Record{
		"node/company": {
			record("node--company", "abc-1", "Acme"),
			record("node--company", "abc-2", "broken"),
			record("node--company", "abc-3", "Globex"),
			record("node--company", "abc-4", "draft"),
		},
	}}
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, dir, newMemTarget(), companies())

	require.NoError(t, h.runner.Run(t.Context(), companyStage()))

	summary := h.reporter.Summary()
	require.Len(t, summary, 1)
	assert.Equal(t, int64(2), summary[0].Created)
	assert.Equal(t, int64(1), summary[0].Failed)
	assert.Equal(t, int64(2), summary[0].Secondary)

	errLog, err := os.ReadFile(filepath.Join(dir, "logs", "migration_errors.log"))
	require.NoError(t, err)
	assert.Contains(t, string(errLog), "abc-2")
	assert.Contains(t, string(errLog), "missing required name")

	m, err := h.ids.Load("company")
	require.NoError(t, err)
	assert.Len(t, m, 2)
	assert.Contains(t, m, "abc-1")
	assert.Contains(t, m, "abc-3")

	contact := h.target.items["contacts"]
	require.Len(t, contact, 2)
	for _, c := range contact {
		assert.NotEmpty(t, c["company"], "secondary receives the parent id")
	}
}

func TestRun_IdempotentRerun(t *testing.T) {
	dir := t.TempDir()
	target := newMemTarget()

	first := newHarness(t, dir, target, companies())
	require.NoError(t, first.runner.Run(t.Context(), companyStage()))
	creates := target.creates

	second := newHarness(t, dir, target, companies())
	require.NoError(t, second.runner.Run(t.Context(), companyStage()))

	assert.Equal(t, creates, target.creates, "second run creates nothing")
	s := second.reporter.Summary()[0]
	assert.Zero(t, s.Created)
	assert.Equal(t, int64(2), s.Skipped)

	f, err := os.Open(filepath.Join(dir, "csv", "company.csv"))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"source_id", "name", "migration_status", "migration_action"}, rows[0])
	assert.Len(t, rows, 1+3+3, "one header, three audited records per run")
}

func TestRun_RestartsFetchOnceAfterUnauthorized(t *testing.T) {
	fetcher := companies()
	fetcher.errs = []error{fmt.Errorf("page 2: %w", source.ErrUnauthorized)}
	h := newHarness(t, t.TempDir(), newMemTarget(), fetcher)

	require.NoError(t, h.runner.Run(t.Context(), companyStage()))
	assert.Equal(t, 2, fetcher.calls)
	assert.Equal(t, int64(2), h.reporter.Summary()[0].Created)
}

func TestRun_SecondUnauthorizedIsSystemic(t *testing.T) {
	fetcher := companies()
	fetcher.errs = []error{source.ErrUnauthorized, source.ErrUnauthorized}
	h := newHarness(t, t.TempDir(), newMemTarget(), fetcher)

	projects := companyStage()
	projects.Name = "projects"

	err := h.runner.Run(t.Context(), companyStage(), projects)
	require.Error(t, err)
	require.ErrorIs(t, err, source.ErrUnauthorized)
	assert.True(t, errors.IsCategory(err, errors.CategoryFetch))
	assert.Equal(t, 2, fetcher.calls, "later stages do not run")
	assert.Zero(t, h.target.creates)
}

func TestRun_UpsertFailureIsCounted(t *testing.T) {
	target := newMemTarget()
	target.failKey = "Globex"
	h := newHarness(t, t.TempDir(), target, companies())

	require.NoError(t, h.runner.Run(t.Context(), companyStage()))
	s := h.reporter.Summary()[0]
	assert.Equal(t, int64(1), s.Created)
	assert.Equal(t, int64(2), s.Failed)
}

func TestRun_StagesRunInOrder(t *testing.T) {
	var order []string
	mk := func(name string) Stage {
		return Stage{
			Name: name, Resource: name, Collection: name, KeyField: "source_id", Entity: name,
			Transform: func(_ context.Context, env *Env, rec *jsonapi.Record, _ *jsonapi.Collection) (*Item, error) {
				order = append(order, name)
				assert.NotEmpty(t, env.RunID)
				return &Item{Key: rec.ID, Payload: map[string]any{}}, nil
			},
		}
	}
	fetcher := &fakeFetcher{records: map[string][]*jsonapi.Record{
		"taxonomy": {record("taxonomy_term--tags", "t-1", "")},
		"users":    {record("user--user", "u-1", "")},
	}}
	h := newHarness(t, t.TempDir(), newMemTarget(), fetcher, WithRunID("run-1"))

	require.NoError(t, h.runner.Run(t.Context(), mk("taxonomy"), mk("users")))
	assert.Equal(t, []string{"taxonomy", "users"}, order)
	assert.Equal(t, "run-1", h.runner.RunID())
}

func TestRun_WritesMetricsTextfile(t *testing.T) {
	dir := t.TempDir()
	m, err := observability.NewMetrics()
	require.NoError(t, err)

	ids, err := identity.Open(filepath.Join(dir, "csv"), quiet)
	require.NoError(t, err)
	rep := report.New(nil, quiet)
	engine := upsert.NewEngine(newMemTarget(), rep, upsert.WithLogger(quiet), upsert.WithMetrics(m.Upsert))
	textfile := filepath.Join(dir, "metrics", "cmsbridge.prom")
	r := NewRunner(Config{MetricsTextfile: textfile}, companies(), engine, ids, rep,
		WithLogger(quiet), WithRecorder(m.Pipeline), WithMetricsWriter(m))

	require.NoError(t, r.Run(t.Context(), companyStage()))

	data, err := os.ReadFile(textfile)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `cmsbridge_stage_items_total{outcome="created",stage="companies"} 2`)
	assert.Contains(t, text, "cmsbridge_last_run_timestamp_seconds")
	assert.True(t, strings.Contains(text, "cmsbridge_upsert"), "upsert collectors are exported")
}

func TestRun_CanceledContext(t *testing.T) {
	h := newHarness(t, t.TempDir(), newMemTarget(), companies())
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := h.runner.Run(ctx, companyStage())
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.fetcher.calls)
}

func TestRun_PanickingTransformIsIsolated(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, dir, newMemTarget(), companies())

	stage := companyStage()
	transform := stage.Transform
	stage.Transform = func(ctx context.Context, env *Env, rec *jsonapi.Record, col *jsonapi.Collection) (*Item, error) {
		if rec.ID == "abc-2" {
			var fields map[string]any
			fields["title"] = rec.Attributes.String("title")
		}
		return transform(ctx, env, rec, col)
	}

	require.NotPanics(t, func() {
		require.NoError(t, h.runner.Run(t.Context(), stage))
	})

	summary := h.reporter.Summary()
	require.Len(t, summary, 1)
	assert.Equal(t, int64(2), summary[0].Created)
	assert.Equal(t, int64(1), summary[0].Failed)

	errLog, err := os.ReadFile(filepath.Join(dir, "logs", "migration_errors.log"))
	require.NoError(t, err)
	assert.Contains(t, string(errLog), "abc-2")
	assert.Contains(t, string(errLog), "panic: assignment to entry in nil map")

	data, err := os.ReadFile(h.ids.Path("company"))
	require.NoError(t, err, "identity map is flushed after the panic")
	assert.Contains(t, string(data), "abc-3")

	csv, err := os.ReadFile(filepath.Join(dir, "csv", "company.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(csv), "abc-2,,error,failed")
}

// panickingUpserter panics for one collection and delegates otherwise.
type panickingUpserter struct {
	Upserter
	collection string
}

func (p panickingUpserter) Upsert(ctx context.Context, collection, keyField, keyValue string, payload map[string]any) upsert.Result {
	if collection == p.collection {
		panic("secondary exploded")
	}
	return p.Upserter.Upsert(ctx, collection, keyField, keyValue, payload)
}

func TestRun_PanicInSecondaryKeepsPrimaryOutcome(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, dir, newMemTarget(), companies())
	h.runner.upserter = panickingUpserter{Upserter: h.runner.upserter, collection: "contacts"}

	require.NoError(t, h.runner.Run(t.Context(), companyStage()))

	summary := h.reporter.Summary()
	require.Len(t, summary, 1)
	assert.Equal(t, int64(2), summary[0].Created, "primaries still count as created")
	assert.Equal(t, int64(1), summary[0].Failed, "only the broken transform fails")
	assert.Zero(t, summary[0].Secondary)

	errLog, err := os.ReadFile(filepath.Join(dir, "logs", "migration_errors.log"))
	require.NoError(t, err)
	assert.Contains(t, string(errLog), "secondary exploded")

	m, err := h.ids.Load("company")
	require.NoError(t, err)
	assert.Len(t, m, 2)
}
