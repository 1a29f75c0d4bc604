// Package upsert creates target items idempotently: look the natural key
// up, skip when present, create otherwise. Existing items are never
// modified.
package upsert

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/tphakala/cmsbridge/internal/errors"
	"github.com/tphakala/cmsbridge/internal/logger"
	"github.com/tphakala/cmsbridge/internal/observability/metrics"
)

// Action is the outcome of one upsert.
type Action string

const (
	ActionCreated Action = "created"
	ActionSkipped Action = "skipped"
	ActionFailed  Action = "failed"
)

// Result carries the target id (empty on failure) and the action taken.
type Result struct {
	ID     string
	Action Action
}

// OK reports whether the item exists on the target after the call.
func (r Result) OK() bool {
	return r.Action != ActionFailed && r.ID != ""
}

// Target is the subset of the target client the engine needs.
type Target interface {
	FindID(ctx context.Context, collection, field string, value any) (string, bool, error)
	CreateItem(ctx context.Context, collection string, payload map[string]any) (string, error)
}

// FailureSink receives item failures, typically the run reporter.
type FailureSink interface {
	Fail(stage, entityID string, err error)
}

type seenKey struct {
	collection string
	key        string
}

// Engine performs check-then-create upserts. Within one engine the same
// (collection, key) is submitted at most once; concurrent callers for a
// key in flight wait for the first. Safe for concurrent use.
type Engine struct {
	target  Target
	sink    FailureSink
	log     logger.Logger
	metrics *metrics.UpsertMetrics

	mu      sync.Mutex
	seen    map[seenKey]Result
	pending map[seenKey]chan struct{}
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the module logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics attaches upsert collectors.
func WithMetrics(m *metrics.UpsertMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an Engine. sink may be nil.
func NewEngine(target Target, sink FailureSink, opts ...Option) *Engine {
	e := &Engine{
		target:  target,
		sink:    sink,
		seen:    make(map[seenKey]Result),
		pending: make(map[seenKey]chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Global().Module("upsert")
	}
	return e
}

// Upsert ensures an item with keyField == keyValue exists in collection.
// payload is sent unchanged on create, with keyField set to keyValue. It
// never returns an error; failures are reported to the sink and yield
// ActionFailed with an empty id.
func (e *Engine) Upsert(ctx context.Context, collection, keyField, keyValue string, payload map[string]any) Result {
	k := seenKey{collection, keyValue}

	e.mu.Lock()
	if prev, ok := e.seen[k]; ok {
		e.mu.Unlock()
		return repeat(prev)
	}
	if wait, ok := e.pending[k]; ok {
		e.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return e.fail(collection, keyValue, "wait", ctx.Err())
		}
		e.mu.Lock()
		prev := e.seen[k]
		e.mu.Unlock()
		return repeat(prev)
	}
	done := make(chan struct{})
	e.pending[k] = done
	e.mu.Unlock()

	res := e.upsert(ctx, collection, keyField, keyValue, payload)

	e.mu.Lock()
	e.seen[k] = res
	delete(e.pending, k)
	e.mu.Unlock()
	close(done)

	return res
}

// repeat is the answer for a key already handled by this engine.
func repeat(prev Result) Result {
	if prev.Action == ActionFailed {
		return prev
	}
	return Result{ID: prev.ID, Action: ActionSkipped}
}

func (e *Engine) upsert(ctx context.Context, collection, keyField, keyValue string, payload map[string]any) Result {
	start := time.Now()
	id, found, err := e.target.FindID(ctx, collection, keyField, keyValue)
	e.metrics.ObserveCall(collection, metrics.OpLookup, time.Since(start).Seconds())
	if err != nil {
		return e.fail(collection, keyValue, "lookup", err)
	}
	if found {
		e.log.Debug("item exists, skipping",
			logger.String("collection", collection),
			logger.String("key", keyValue),
			logger.String("id", id))
		e.metrics.ObserveAction(collection, string(ActionSkipped))
		return Result{ID: id, Action: ActionSkipped}
	}

	body := make(map[string]any, len(payload)+1)
	maps.Copy(body, payload)
	body[keyField] = keyValue

	start = time.Now()
	id, err = e.target.CreateItem(ctx, collection, body)
	e.metrics.ObserveCall(collection, metrics.OpCreate, time.Since(start).Seconds())
	if err != nil {
		return e.fail(collection, keyValue, "create", err)
	}

	e.log.Debug("item created",
		logger.String("collection", collection),
		logger.String("key", keyValue),
		logger.String("id", id))
	e.metrics.ObserveAction(collection, string(ActionCreated))
	return Result{ID: id, Action: ActionCreated}
}

func (e *Engine) fail(collection, keyValue, op string, err error) Result {
	wrapped := errors.New(err).
		Component("upsert").
		Category(errors.CategoryUpsert).
		Context("collection", collection).
		Context("key", keyValue).
		Context("operation", op).
		Build()

	e.log.Error("upsert failed",
		logger.String("collection", collection),
		logger.String("key", keyValue),
		logger.String("operation", op),
		logger.Error(err))
	if e.sink != nil {
		e.sink.Fail(collection, keyValue, wrapped)
	}
	e.metrics.ObserveAction(collection, string(ActionFailed))
	return Result{Action: ActionFailed}
}
