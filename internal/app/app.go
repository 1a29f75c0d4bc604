// Package app wires configuration into the migration components shared by
// the CLI commands.
package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/tphakala/cmsbridge/internal/auth"
	"github.com/tphakala/cmsbridge/internal/conf"
	"github.com/tphakala/cmsbridge/internal/errors"
	"github.com/tphakala/cmsbridge/internal/httpclient"
	"github.com/tphakala/cmsbridge/internal/identity"
	"github.com/tphakala/cmsbridge/internal/logger"
	"github.com/tphakala/cmsbridge/internal/media"
	"github.com/tphakala/cmsbridge/internal/notify"
	"github.com/tphakala/cmsbridge/internal/observability"
	"github.com/tphakala/cmsbridge/internal/pipeline"
	"github.com/tphakala/cmsbridge/internal/report"
	"github.com/tphakala/cmsbridge/internal/retry"
	"github.com/tphakala/cmsbridge/internal/source"
	"github.com/tphakala/cmsbridge/internal/stages"
	"github.com/tphakala/cmsbridge/internal/target"
	"github.com/tphakala/cmsbridge/internal/upsert"
)

const (
	migrationErrorsFile = "migration_errors.log"
	imageErrorsFile     = "image_errors.log"
	imageMapFile        = "image_map.json"
)

// Loggers hands out module loggers; both *logger.CentralLogger and
// logger.Logger satisfy it.
type Loggers interface {
	Module(name string) logger.Logger
}

// SourceSide is enough to talk to the source: transport, credentials and
// the fetcher.
type SourceSide struct {
	HTTP   *httpclient.Client
	Broker *auth.Broker
	Source *source.Client
}

// NewSourceSide builds the source components from settings.
func NewSourceSide(s *conf.Settings, log Loggers, m *observability.Metrics) (*SourceSide, error) {
	if err := s.RequireSource(); err != nil {
		return nil, err
	}
	hc := httpclient.New(&httpclient.Config{
		DefaultTimeout:     s.Source.Timeout,
		InsecureSkipVerify: s.Source.InsecureSkipVerify,
		ForceIPv4:          s.Source.ForceIPv4,
		EnableCookies:      true,
	})
	broker := auth.NewBroker(auth.Config{
		BaseURL:      s.Source.BaseURL,
		ProbePath:    s.Source.ProbePath,
		LoginPath:    s.Source.LoginPath,
		TokenPath:    s.Source.TokenPath,
		Username:     s.Source.Username,
		Password:     s.Source.Password,
		ClientID:     s.Source.ClientID,
		ClientSecret: s.Source.ClientSecret,
	}, hc, log.Module("auth"))

	opts := []source.Option{source.WithLogger(log.Module("source"))}
	if m != nil {
		opts = append(opts, source.WithMetrics(m.Source))
	}
	src := source.New(source.Config{
		BaseURL:   s.Source.BaseURL,
		APIPrefix: s.Source.APIPrefix,
		PageDelay: s.Source.PageDelay,
		PageLimit: s.Source.PageLimit,
		Retry:     retryPolicy(s),
	}, hc, broker, opts...)

	return &SourceSide{HTTP: hc, Broker: broker, Source: src}, nil
}

// Close releases idle connections.
func (s *SourceSide) Close() {
	s.HTTP.Close()
}

// App holds every component of a migration run.
type App struct {
	*SourceSide

	settings    *conf.Settings
	log         logger.Logger
	loggers     Loggers
	metrics     *observability.Metrics
	targetHTTP  *httpclient.Client
	target      *target.Client
	identity    *identity.Store
	images      *media.ImageCache
	media       *media.Pipeline
	errorLog    *report.ErrorLog
	imageErrors *report.ErrorLog
	reporter    *report.Reporter
	engine      *upsert.Engine
	notifier    *notify.Notifier
}

// New builds a migration App. Close must be called to persist state.
func New(s *conf.Settings, log Loggers) (_ *App, err error) {
	if err := s.RequireTarget(); err != nil {
		return nil, err
	}

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, err
	}

	a := &App{settings: s, log: log.Module("app"), loggers: log, metrics: m}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.SourceSide, err = NewSourceSide(s, log, m); err != nil {
		return nil, err
	}

	a.targetHTTP = httpclient.New(&httpclient.Config{DefaultTimeout: s.Target.Timeout})
	a.target = target.New(target.Config{
		BaseURL: s.Target.BaseURL,
		Token:   s.Target.Token,
		Retry:   retryPolicy(s),
	}, a.targetHTTP, log.Module("target"))

	if a.identity, err = identity.Open(s.CSVDir(), log.Module("identity")); err != nil {
		return nil, err
	}
	if a.images, err = media.Open(filepath.Join(s.CSVDir(), imageMapFile)); err != nil {
		return nil, err
	}
	if a.errorLog, err = report.OpenErrorLog(filepath.Join(s.LogDir(), migrationErrorsFile)); err != nil {
		return nil, err
	}
	if a.imageErrors, err = report.OpenErrorLog(filepath.Join(s.LogDir(), imageErrorsFile)); err != nil {
		return nil, err
	}

	a.reporter = report.New(a.errorLog, log.Module("report"))
	a.engine = upsert.NewEngine(a.target, a.reporter,
		upsert.WithLogger(log.Module("upsert")),
		upsert.WithMetrics(m.Upsert))
	a.media = media.NewPipeline(a.images, a.Source, a.target, a.imageErrors,
		media.WithLogger(log.Module("media")),
		media.WithMetrics(m.Media),
		media.WithRetry(retryPolicy(s)),
		media.WithUserResolver(func(uid string) (string, bool) {
			return a.identity.Lookup(stages.EntityUser, uid)
		}))

	if a.notifier, err = notify.New(notify.Config{
		URLs:          s.Notify.URLs,
		OnFailureOnly: s.Notify.OnFailureOnly,
		Timeout:       s.Notify.Timeout,
	}); err != nil {
		return nil, err
	}
	return a, nil
}

// Migrate runs the named stages, or all of them, and writes the summary
// to w. The returned error is systemic; item failures are in the error
// log.
func (a *App) Migrate(ctx context.Context, w io.Writer, names ...string) error {
	selected, err := stages.Select(stages.Options{
		LogoFolder:    a.settings.Media.LogoFolder,
		GalleryFolder: a.settings.Media.GalleryFolder,
	}, names...)
	if err != nil {
		return errors.New(err).
			Component("app").
			Category(errors.CategoryValidation).
			Build()
	}

	// Fail fast on credentials before fetching anything.
	if _, err := a.Broker.Client(ctx); err != nil {
		return err
	}

	runner := pipeline.NewRunner(pipeline.Config{
		CSVDir:          a.settings.CSVDir(),
		MetricsTextfile: a.settings.Metrics.TextfilePath,
	}, a.Source, a.engine, a.identity, a.reporter,
		pipeline.WithLogger(a.loggers.Module("pipeline")),
		pipeline.WithMedia(a.media),
		pipeline.WithRecorder(a.metrics.Pipeline),
		pipeline.WithMetricsWriter(a.metrics))

	runErr := runner.Run(ctx, selected...)

	if err := a.reporter.WriteSummary(w); err != nil {
		a.log.Warn("failed to write summary", logger.Error(err))
	}
	if err := a.notifier.Send(ctx, notify.RunSummary{
		RunID:  runner.RunID(),
		Stages: a.reporter.Summary(),
		Err:    runErr,
	}); err != nil {
		a.log.Warn("failed to send run notification", logger.Error(err))
	}
	return runErr
}

// Close persists identity maps and the image cache and closes logs.
func (a *App) Close() error {
	var errs []error
	if a.identity != nil {
		errs = append(errs, a.identity.Close())
	}
	if a.images != nil {
		errs = append(errs, a.images.Close())
	}
	errs = append(errs, a.errorLog.Close(), a.imageErrors.Close())
	if a.targetHTTP != nil {
		a.targetHTTP.Close()
	}
	if a.SourceSide != nil {
		a.SourceSide.Close()
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close migration state: %w", err)
	}
	return nil
}

func retryPolicy(s *conf.Settings) retry.Policy {
	return retry.NewLinear(s.Retry.MaxRetries, s.Retry.BaseDelay)
}
