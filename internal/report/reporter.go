// Package report tracks per-stage outcome counters, the run error log and
// the per-entity audit CSVs.
package report

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"

	"github.com/tphakala/cmsbridge/internal/errors"
	"github.com/tphakala/cmsbridge/internal/logger"
	"github.com/tphakala/cmsbridge/internal/upsert"
)

// StageCounter counts the outcomes of one stage. Safe for concurrent use.
type StageCounter struct {
	name      string
	created   atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
	secondary atomic.Int64
	started   time.Time
	elapsed   atomic.Int64
}

// Created counts one created item.
func (c *StageCounter) Created() { c.created.Add(1) }

// Skipped counts one item that already existed.
func (c *StageCounter) Skipped() { c.skipped.Add(1) }

// Failed counts one failed item.
func (c *StageCounter) Failed() { c.failed.Add(1) }

// Secondary counts n records created as a side effect of an item, such as
// contacts or gallery junction rows.
func (c *StageCounter) Secondary(n int) { c.secondary.Add(int64(n)) }

// Observe maps an upsert action onto the counters.
func (c *StageCounter) Observe(action upsert.Action) {
	switch action {
	case upsert.ActionCreated:
		c.Created()
	case upsert.ActionSkipped:
		c.Skipped()
	case upsert.ActionFailed:
		c.Failed()
	}
}

// Finish records the stage's wall time.
func (c *StageCounter) Finish() {
	c.elapsed.Store(int64(time.Since(c.started)))
}

// Snapshot returns the current counts.
func (c *StageCounter) Snapshot() StageSummary {
	return StageSummary{
		Stage:     c.name,
		Created:   c.created.Load(),
		Skipped:   c.skipped.Load(),
		Failed:    c.failed.Load(),
		Secondary: c.secondary.Load(),
		Elapsed:   time.Duration(c.elapsed.Load()),
	}
}

// StageSummary is a point-in-time copy of a StageCounter.
type StageSummary struct {
	Stage     string
	Created   int64
	Skipped   int64
	Failed    int64
	Secondary int64
	Elapsed   time.Duration
}

// Total is the number of primary items processed.
func (s StageSummary) Total() int64 {
	return s.Created + s.Skipped + s.Failed
}

// Reporter aggregates stage counters and writes item failures to the run
// error log.
type Reporter struct {
	errLog *ErrorLog
	log    logger.Logger

	mu     sync.Mutex
	stages []*StageCounter
	byName map[string]*StageCounter
}

// New creates a Reporter. errLog may be nil to keep failures in the
// structured log only.
func New(errLog *ErrorLog, log logger.Logger) *Reporter {
	if log == nil {
		log = logger.Global().Module("report")
	}
	return &Reporter{
		errLog: errLog,
		log:    log,
		byName: make(map[string]*StageCounter),
	}
}

// Stage returns the counter for name, creating it on first use. Stages
// are reported in creation order.
func (r *Reporter) Stage(name string) *StageCounter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byName[name]; ok {
		return c
	}
	c := &StageCounter{name: name, started: time.Now()}
	r.stages = append(r.stages, c)
	r.byName[name] = c
	return c
}

// Fail records an item failure. It satisfies upsert.FailureSink.
func (r *Reporter) Fail(stage, entityID string, err error) {
	fields := []logger.Field{
		logger.String("stage", stage),
		logger.String("entity_id", entityID),
		logger.Error(err),
	}
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		fields = append(fields, logger.String("category", ee.GetCategory()))
	}
	r.log.Warn("item failed", fields...)

	if werr := r.errLog.Append(stage, entityID, err); werr != nil {
		r.log.Error("failed to write error log", logger.Error(werr))
	}
}

// Summary returns a snapshot of every stage in creation order.
func (r *Reporter) Summary() []StageSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StageSummary, 0, len(r.stages))
	for _, c := range r.stages {
		out = append(out, c.Snapshot())
	}
	return out
}

// Totals sums all stages.
func (r *Reporter) Totals() StageSummary {
	t := StageSummary{Stage: "total"}
	for _, s := range r.Summary() {
		t.Created += s.Created
		t.Skipped += s.Skipped
		t.Failed += s.Failed
		t.Secondary += s.Secondary
		t.Elapsed += s.Elapsed
	}
	return t
}

// WriteSummary renders the end-of-run table.
func (r *Reporter) WriteSummary(w io.Writer) error {
	table := uitable.New()
	table.MaxColWidth = 40
	for _, col := range []int{1, 2, 3, 4, 5} {
		table.RightAlign(col)
	}

	table.AddRow("STAGE", "CREATED", "SKIPPED", "FAILED", "SECONDARY", "TIME")
	for _, s := range r.Summary() {
		addSummaryRow(table, s)
	}
	table.AddRow("", "", "", "", "", "")
	addSummaryRow(table, r.Totals())

	if _, err := fmt.Fprintln(w, table); err != nil {
		return err
	}
	if path := r.errLog.Path(); path != "" && r.Totals().Failed > 0 {
		if _, err := fmt.Fprintf(w, "\nFailures were written to %s\n", path); err != nil {
			return err
		}
	}
	return nil
}

func addSummaryRow(table *uitable.Table, s StageSummary) {
	table.AddRow(s.Stage,
		humanize.Comma(s.Created),
		humanize.Comma(s.Skipped),
		humanize.Comma(s.Failed),
		humanize.Comma(s.Secondary),
		s.Elapsed.Round(time.Millisecond).String())
}
