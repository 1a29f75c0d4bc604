// Package pipeline runs migration stages in order: fetch everything,
// transform and upsert item by item, then persist identity maps, audit
// files and metrics.
package pipeline

import (
	"context"
	"maps"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/cmsbridge/internal/errors"
	"github.com/tphakala/cmsbridge/internal/jsonapi"
	"github.com/tphakala/cmsbridge/internal/logger"
	"github.com/tphakala/cmsbridge/internal/observability/metrics"
	"github.com/tphakala/cmsbridge/internal/report"
	"github.com/tphakala/cmsbridge/internal/source"
	"github.com/tphakala/cmsbridge/internal/upsert"
)

// Fetcher reads a whole source resource.
type Fetcher interface {
	FetchAll(ctx context.Context, path string, params source.Params) (*jsonapi.Collection, error)
}

// Upserter creates target items idempotently.
type Upserter interface {
	Upsert(ctx context.Context, collection, keyField, keyValue string, payload map[string]any) upsert.Result
}

// IdentityStore records and persists source to target ids.
type IdentityStore interface {
	IdentityLookup
	Record(entity, sourceID, targetID string) error
	Flush(entity string) error
}

// MetricsWriter exports metrics after every stage.
type MetricsWriter interface {
	WriteTextfile(path string) error
}

// Config holds runner paths.
type Config struct {
	// CSVDir receives audit files. Empty disables auditing.
	CSVDir string

	// MetricsTextfile is written after each stage when set.
	MetricsTextfile string
}

// Runner executes stages. One Runner serves one run.
type Runner struct {
	cfg      Config
	src      Fetcher
	upserter Upserter
	ids      IdentityStore
	reporter *report.Reporter
	media    MediaTransfer
	recorder metrics.Recorder
	exporter MetricsWriter
	log      logger.Logger
	runID    string
}

// Option customizes a Runner.
type Option func(*Runner)

// WithLogger sets the module logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithMedia makes asset transfer available to transforms.
func WithMedia(m MediaTransfer) Option {
	return func(r *Runner) { r.media = m }
}

// WithRecorder records stage outcomes.
func WithRecorder(rec metrics.Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithMetricsWriter sets the exporter called after each stage.
func WithMetricsWriter(w MetricsWriter) Option {
	return func(r *Runner) { r.exporter = w }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(r *Runner) { r.runID = id }
}

// NewRunner creates a Runner.
func NewRunner(cfg Config, src Fetcher, u Upserter, ids IdentityStore, rep *report.Reporter, opts ...Option) *Runner {
	r := &Runner{
		cfg:      cfg,
		src:      src,
		upserter: u,
		ids:      ids,
		reporter: rep,
		recorder: metrics.NoOpRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Global().Module("pipeline")
	}
	if r.runID == "" {
		r.runID = uuid.NewString()
	}
	if r.recorder == nil {
		r.recorder = metrics.NoOpRecorder{}
	}
	return r
}

// RunID identifies this run in logs and notifications.
func (r *Runner) RunID() string {
	return r.runID
}

// Run executes stages sequentially. Item failures are counted and the run
// continues; a systemic failure stops the run and is returned.
func (r *Runner) Run(ctx context.Context, stages ...Stage) error {
	ctx = logger.WithTraceID(ctx, r.runID)
	log := r.log.With(logger.String("run_id", r.runID))
	log.Info("migration run started", logger.Int("stages", len(stages)))

	defer func() {
		if f, ok := r.recorder.(interface{ MarkRunFinished() }); ok {
			f.MarkRunFinished()
		}
		r.export(log)
	}()

	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.runStage(ctx, log.With(logger.String("stage", s.Name)), s); err != nil {
			category := string(errors.CategoryGeneric)
			var ee *errors.EnhancedError
			if errors.As(err, &ee) {
				category = ee.GetCategory()
			}
			r.recorder.RecordError(s.Name, category)
			log.Error("stage aborted",
				logger.String("stage", s.Name),
				logger.Error(err))
			return err
		}
	}

	log.Info("migration run finished")
	return nil
}

func (r *Runner) runStage(ctx context.Context, log logger.Logger, s Stage) error {
	start := time.Now()
	counter := r.reporter.Stage(s.Name)
	defer counter.Finish()

	var audit *report.AuditWriter
	if r.cfg.CSVDir != "" {
		var err error
		audit, err = report.OpenAudit(r.cfg.CSVDir, s.Entity, s.AuditFields)
		if err != nil {
			return r.stageError(s, errors.CategoryFileIO, err)
		}
		defer func() {
			if err := audit.Close(); err != nil {
				log.Warn("failed to close audit file", logger.Error(err))
			}
		}()
	}

	log.Info("fetching", logger.String("resource", s.Resource))
	col, err := r.fetch(ctx, log, s)
	if err != nil {
		return err
	}
	log.Info("fetched",
		logger.Int("records", len(col.Primary)),
		logger.Int("included", len(col.Included)))

	env := &Env{RunID: r.runID, Media: r.media, Identity: r.ids, Log: log}
	for _, rec := range col.Primary {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.processItem(ctx, env, s, rec, col, counter, audit)
	}

	if err := r.ids.Flush(s.Entity); err != nil {
		return r.stageError(s, errors.CategoryIdentityMap, err)
	}
	if audit != nil {
		if err := audit.Flush(); err != nil {
			log.Warn("failed to flush audit file", logger.String("path", audit.Path()), logger.Error(err))
		}
	}
	r.recorder.RecordDuration(s.Name, time.Since(start).Seconds())
	r.export(log)

	snap := counter.Snapshot()
	log.Info("stage finished",
		logger.Int64("created", snap.Created),
		logger.Int64("skipped", snap.Skipped),
		logger.Int64("failed", snap.Failed),
		logger.Int64("secondary", snap.Secondary),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// fetch reads the stage resource, restarting once from the first page
// after the source rejected the session.
func (r *Runner) fetch(ctx context.Context, log logger.Logger, s Stage) (*jsonapi.Collection, error) {
	col, err := r.src.FetchAll(ctx, s.Resource, s.Params)
	if errors.Is(err, source.ErrUnauthorized) {
		log.Warn("session rejected, restarting fetch", logger.String("resource", s.Resource))
		col, err = r.src.FetchAll(ctx, s.Resource, s.Params)
	}
	if err != nil {
		return nil, r.stageError(s, errors.CategoryFetch, err)
	}
	return col, nil
}

func (r *Runner) processItem(ctx context.Context, env *Env, s Stage, rec *jsonapi.Record, col *jsonapi.Collection, counter *report.StageCounter, audit *report.AuditWriter) {
	// counted is set once the primary record has an outcome, so a panic in
	// the secondary loop is reported without counting the item twice.
	counted := false
	defer func() {
		if p := recover(); p != nil {
			err := errors.Newf("panic: %v", p).
				Component("pipeline").
				Category(errors.CategoryTransform).
				Context("stage", s.Name).
				Context("record_type", rec.Type).
				Context("stack", string(debug.Stack())).
				Build()
			if counted {
				r.reporter.Fail(s.Name, rec.ID, err)
				return
			}
			r.failItem(env, s, rec, counter, audit, err)
		}
	}()

	item, err := s.Transform(ctx, env, rec, col)
	if err == nil && item != nil && item.Key == "" {
		err = errors.Newf("record %s produced an empty %s", rec.ID, s.KeyField).
			Component("pipeline").
			Category(errors.CategoryValidation).
			Build()
	}
	if err != nil {
		r.failItem(env, s, rec, counter, audit, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryTransform).
			Context("stage", s.Name).
			Context("record_type", rec.Type).
			Build())
		return
	}
	if item == nil {
		env.Log.Debug("record dropped by transform", logger.String("id", rec.ID))
		return
	}

	res := r.upserter.Upsert(ctx, s.Collection, s.KeyField, item.Key, item.Payload)
	counted = true
	counter.Observe(res.Action)
	r.recorder.RecordOperation(s.Name, string(res.Action))
	r.audit(env.Log, audit, report.AuditRow{SourceID: item.Key, Fields: item.Audit, Action: res.Action})
	if !res.OK() {
		return
	}

	if err := r.ids.Record(s.Entity, item.Key, res.ID); err != nil {
		env.Log.Warn("failed to record identity", logger.String("key", item.Key), logger.Error(err))
	}

	for _, sec := range item.Secondary {
		payload := make(map[string]any, len(sec.Payload)+1)
		maps.Copy(payload, sec.Payload)
		if sec.ParentField != "" {
			payload[sec.ParentField] = res.ID
		}
		if r.upserter.Upsert(ctx, sec.Collection, sec.KeyField, sec.Key, payload).Action == upsert.ActionCreated {
			counter.Secondary(1)
		}
	}
}

// failItem records a record that never reached the target.
func (r *Runner) failItem(env *Env, s Stage, rec *jsonapi.Record, counter *report.StageCounter, audit *report.AuditWriter, err error) {
	r.reporter.Fail(s.Name, rec.ID, err)
	counter.Failed()
	r.recorder.RecordOperation(s.Name, string(upsert.ActionFailed))
	r.audit(env.Log, audit, report.AuditRow{SourceID: rec.ID, Action: upsert.ActionFailed})
}

func (r *Runner) audit(log logger.Logger, w *report.AuditWriter, row report.AuditRow) {
	if w == nil {
		return
	}
	if err := w.Write(row); err != nil {
		log.Warn("failed to write audit row", logger.String("path", w.Path()), logger.Error(err))
	}
}

func (r *Runner) export(log logger.Logger) {
	if r.exporter == nil || r.cfg.MetricsTextfile == "" {
		return
	}
	if err := r.exporter.WriteTextfile(r.cfg.MetricsTextfile); err != nil {
		log.Warn("failed to write metrics textfile", logger.Error(err))
	}
}

func (r *Runner) stageError(s Stage, category errors.ErrorCategory, err error) error {
	return errors.New(err).
		Component("pipeline").
		Category(category).
		Priority(errors.PriorityCritical).
		Context("stage", s.Name).
		Context("resource", s.Resource).
		Build()
}
