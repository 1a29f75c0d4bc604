// Package notify posts the end-of-run summary to shoutrrr service URLs.
package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/cmsbridge/internal/errors"
	"github.com/tphakala/cmsbridge/internal/logger"
	"github.com/tphakala/cmsbridge/internal/report"
)

const defaultTimeout = 10 * time.Second

// Config configures a Notifier.
type Config struct {
	URLs          []string
	OnFailureOnly bool
	Timeout       time.Duration
}

type sender interface {
	Send(message string, params *stypes.Params) []error
}

// Notifier sends run summaries. A nil Notifier sends nothing.
type Notifier struct {
	cfg    Config
	sender sender
}

// New builds a Notifier. It returns nil, nil when no URLs are configured.
func New(cfg Config) (*Notifier, error) {
	if len(cfg.URLs) == 0 {
		return nil, nil
	}
	r, err := shoutrrr.CreateSender(cfg.URLs...)
	if err != nil {
		// shoutrrr errors can echo the URL, tokens included.
		return nil, errors.Newf("invalid notification url: %s", logger.RedactSensitiveData(err.Error())).
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	r.Timeout = timeout
	r.SetLogger(log.New(io.Discard, "", 0))
	return &Notifier{cfg: cfg, sender: r}, nil
}

// RunSummary is what gets reported.
type RunSummary struct {
	RunID  string
	Stages []report.StageSummary
	Err    error
}

func (s RunSummary) failed() bool {
	if s.Err != nil {
		return true
	}
	for _, st := range s.Stages {
		if st.Failed > 0 {
			return true
		}
	}
	return false
}

// Title is the notification title.
func (s RunSummary) Title() string {
	switch {
	case s.Err != nil:
		return "cmsbridge migration aborted"
	case s.failed():
		return "cmsbridge migration finished with failures"
	default:
		return "cmsbridge migration finished"
	}
}

// Message renders one line per stage.
func (s RunSummary) Message() string {
	var b strings.Builder
	if s.RunID != "" {
		fmt.Fprintf(&b, "run %s\n", s.RunID)
	}
	for _, st := range s.Stages {
		fmt.Fprintf(&b, "%s: %s created, %s skipped, %s failed",
			st.Stage, humanize.Comma(st.Created), humanize.Comma(st.Skipped), humanize.Comma(st.Failed))
		if st.Secondary > 0 {
			fmt.Fprintf(&b, ", %s secondary", humanize.Comma(st.Secondary))
		}
		b.WriteByte('\n')
	}
	if s.Err != nil {
		fmt.Fprintf(&b, "error: %s\n", logger.RedactSensitiveData(s.Err.Error()))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Send delivers s unless the notifier is disabled or configured to report
// failures only and the run was clean.
func (n *Notifier) Send(ctx context.Context, s RunSummary) error {
	if n == nil || n.sender == nil {
		return nil
	}
	if n.cfg.OnFailureOnly && !s.failed() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := stypes.Params{}
	params.SetTitle(s.Title())
	for _, err := range n.sender.Send(s.Message(), &params) {
		if err != nil {
			return errors.Newf("send notification: %s", logger.RedactSensitiveData(err.Error())).
				Component("notify").
				Category(errors.CategoryNetwork).
				Build()
		}
	}
	return nil
}
