// Package media moves binary assets from the source to the target once
// per source file, remembering every transfer in a persisted cache.
package media

import (
	"context"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/tphakala/cmsbridge/internal/errors"
	"github.com/tphakala/cmsbridge/internal/jsonapi"
	"github.com/tphakala/cmsbridge/internal/logger"
	"github.com/tphakala/cmsbridge/internal/observability/metrics"
	"github.com/tphakala/cmsbridge/internal/retry"
	"github.com/tphakala/cmsbridge/internal/source"
	"github.com/tphakala/cmsbridge/internal/target"
)

const (
	fileType     = "file--file"
	filePath     = "file/file/"
	errorLogStep = "media"
)

// mediaFileFields are the media entity relationships that point at the
// underlying file, in lookup order.
var mediaFileFields = []string{"field_media_image", "field_media_document", "field_media_file"}

// Source reads file entities and their bytes.
type Source interface {
	FetchOne(ctx context.Context, path string, params source.Params) (*jsonapi.Document, error)
	ResolveURL(ref string) (string, error)
	Download(ctx context.Context, rawURL string) ([]byte, string, error)
}

// Uploader stores a file on the target.
type Uploader interface {
	UploadFile(ctx context.Context, f target.FileUpload) (string, error)
}

// ErrorSink records failed transfers, typically logs/image_errors.log.
type ErrorSink interface {
	Append(stage, entityID string, err error) error
}

// UserResolver maps a source user id to a target user id.
type UserResolver func(sourceUserID string) (string, bool)

// Pipeline transfers assets. Safe for concurrent use; concurrent requests
// for the same file share one transfer.
type Pipeline struct {
	cache    *ImageCache
	src      Source
	up       Uploader
	errs     ErrorSink
	policy   retry.Policy
	users    UserResolver
	log      logger.Logger
	metrics  *metrics.MediaMetrics
	inflight singleflight.Group
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the module logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithMetrics attaches media collectors.
func WithMetrics(m *metrics.MediaMetrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithRetry sets the download retry policy.
func WithRetry(policy retry.Policy) Option {
	return func(p *Pipeline) { p.policy = policy }
}

// WithUserResolver fills uploaded_by from the file owner.
func WithUserResolver(r UserResolver) Option {
	return func(p *Pipeline) { p.users = r }
}

// NewPipeline creates a Pipeline. errs may be nil.
func NewPipeline(cache *ImageCache, src Source, up Uploader, errs ErrorSink, opts ...Option) *Pipeline {
	p := &Pipeline{
		cache:  cache,
		src:    src,
		up:     up,
		errs:   errs,
		policy: retry.NewLinear(2, 500*time.Millisecond),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.Global().Module("media")
	}
	p.metrics.SetCacheEntries(cache.Len())
	return p
}

// fileInfo is what a transfer needs from the source file entity.
type fileInfo struct {
	url      string
	filename string
	mime     string
	owner    string
	created  time.Time
	changed  time.Time
}

// TransferAsset returns the target file id for sourceFileID, uploading it
// into folder on first use. ok is false when the asset could not be
// transferred; the failure is already recorded and the caller treats the
// media as absent.
func (p *Pipeline) TransferAsset(ctx context.Context, sourceFileID, folder string) (id string, ok bool) {
	if sourceFileID == "" {
		return "", false
	}
	if id, ok := p.cache.Get(sourceFileID); ok {
		p.metrics.IncrementCacheHits()
		return id, true
	}

	v, err, _ := p.inflight.Do(sourceFileID, func() (any, error) {
		// Another caller may have finished between the miss and Do.
		if id, ok := p.cache.Get(sourceFileID); ok {
			p.metrics.IncrementCacheHits()
			return id, nil
		}
		p.metrics.IncrementCacheMisses()
		return p.transfer(ctx, sourceFileID, folder)
	})
	if err != nil {
		return "", false
	}
	return v.(string), true
}

func (p *Pipeline) transfer(ctx context.Context, sourceFileID, folder string) (string, error) {
	start := time.Now()

	info, err := p.describe(ctx, sourceFileID)
	if err != nil {
		return "", p.fail(sourceFileID, metrics.OpMetadata, err)
	}

	var data []byte
	var sniffed string
	err = p.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		data, sniffed, err = p.src.Download(ctx, info.url)
		return err
	}, func(err error, attempt int, wait time.Duration) {
		p.metrics.IncrementDownloadRetries()
		p.log.Warn("retrying asset download",
			logger.String("file_id", sourceFileID),
			logger.Int("attempt", attempt),
			logger.Duration("wait", wait),
			logger.Error(err))
	})
	if err != nil {
		return "", p.fail(sourceFileID, metrics.OpDownload, err)
	}

	mimeType := info.mime
	if mimeType == "" {
		mimeType = sniffed
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}

	upload := target.FileUpload{
		Data:       data,
		Filename:   info.filename,
		MimeType:   mimeType,
		Title:      strings.TrimSuffix(info.filename, path.Ext(info.filename)),
		Folder:     folder,
		UploadedOn: info.created,
		ModifiedOn: info.changed,
	}
	if p.users != nil && info.owner != "" {
		if uid, ok := p.users(info.owner); ok {
			upload.UploadedBy = uid
		}
	}

	id, err := p.up.UploadFile(ctx, upload)
	if err != nil {
		return "", p.fail(sourceFileID, metrics.OpUpload, err)
	}

	if err := p.cache.Put(sourceFileID, id); err != nil {
		// The upload succeeded; the id is still usable for this run.
		p.log.Error("failed to persist image cache",
			logger.String("path", p.cache.Path()),
			logger.Error(err))
	}
	p.metrics.SetCacheEntries(p.cache.Len())
	p.metrics.ObserveTransfer(time.Since(start).Seconds(), len(data))

	p.log.Info("asset transferred",
		logger.String("file_id", sourceFileID),
		logger.String("target_id", id),
		logger.String("filename", info.filename),
		logger.String("size", humanize.Bytes(uint64(len(data)))))
	return id, nil
}

// describe reads the file entity and extracts transfer metadata.
func (p *Pipeline) describe(ctx context.Context, sourceFileID string) (fileInfo, error) {
	doc, err := p.src.FetchOne(ctx, filePath+sourceFileID, source.Params{Limit: -1})
	if err != nil {
		return fileInfo{}, err
	}
	rec := doc.Data.One()
	if rec == nil {
		return fileInfo{}, errors.Newf("file %s has no data", sourceFileID).
			Component("media").
			Category(errors.CategoryNotFound).
			Build()
	}

	ref := rec.Attributes.String("uri", "url")
	if ref == "" {
		return fileInfo{}, errors.Newf("file %s has no uri.url", sourceFileID).
			Component("media").
			Category(errors.CategoryValidation).
			Build()
	}
	abs, err := p.src.ResolveURL(ref)
	if err != nil {
		return fileInfo{}, err
	}

	name := rec.Attributes.String("filename")
	if name == "" {
		name = path.Base(ref)
	}

	info := fileInfo{
		url:      abs,
		filename: norm.NFC.String(name),
		mime:     rec.Attributes.String("filemime"),
	}
	info.created, _ = rec.Attributes.Time("created")
	info.changed, _ = rec.Attributes.Time("changed")
	if owner, ok := rec.Relationship("uid").One(); ok {
		info.owner = owner.ID
	}
	return info, nil
}

func (p *Pipeline) fail(sourceFileID, step string, err error) error {
	category := errors.CategoryMediaUpload
	if step != metrics.OpUpload {
		category = errors.CategoryMediaFetch
	}
	wrapped := errors.New(err).
		Component("media").
		Category(category).
		Context("file_id", sourceFileID).
		Context("step", step).
		Build()

	p.metrics.IncrementTransferErrors(step)
	p.log.Error("asset transfer failed",
		logger.String("file_id", sourceFileID),
		logger.String("step", step),
		logger.Error(err))
	if p.errs != nil {
		if logErr := p.errs.Append(errorLogStep, sourceFileID, wrapped); logErr != nil {
			p.log.Warn("failed to write image error log", logger.Error(logErr))
		}
	}
	return wrapped
}

// ResolveMediaFile follows ref to the file it stores. ref may point at a
// media entity, whose file relationship is looked up in col, or directly
// at a file. ok is false when any hop is missing.
func (p *Pipeline) ResolveMediaFile(col *jsonapi.Collection, ref jsonapi.RelationshipRef) (jsonapi.RelationshipRef, bool) {
	return ResolveMediaFile(col, ref)
}

// ResolveMediaFile is Pipeline.ResolveMediaFile without a pipeline.
func ResolveMediaFile(col *jsonapi.Collection, ref jsonapi.RelationshipRef) (jsonapi.RelationshipRef, bool) {
	if ref.ID == "" {
		return jsonapi.RelationshipRef{}, false
	}
	if ref.Type == fileType {
		return ref, true
	}
	media := col.Resolve(ref)
	if media == nil {
		return jsonapi.RelationshipRef{}, false
	}
	for _, field := range mediaFileFields {
		if file, ok := media.Relationship(field).One(); ok && file.ID != "" {
			return file, true
		}
	}
	return jsonapi.RelationshipRef{}, false
}
