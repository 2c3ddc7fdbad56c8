// Package digest runs one end-to-end digest: resolve the anchor date, total
// the trailing windows, render the message and hand it to the notifier.
package digest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"salesdigest/internal/auth"
	"salesdigest/internal/logging"
	"salesdigest/internal/report"
)

// Notifier delivers a rendered summary.
type Notifier interface {
	Send(ctx context.Context, content string) error
}

// CredentialSource is checked once before any fetch.
type CredentialSource interface {
	Credential() (auth.Credential, error)
}

// Metrics is the run-level instrumentation.
type Metrics interface {
	report.ProbeMetrics
	report.WindowMetrics
	SetAnchorLag(days int, found bool)
	RecordDelivery(err error)
	ObserveRun(duration time.Duration, err error)
}

type Config struct {
	Resolver report.ResolverConfig
	Windows  []report.Window
	// Location decides which calendar day "today" is. Defaults to UTC.
	Location *time.Location
	// Today overrides the computed date when valid.
	Today civil.Date
	// DryRun writes the message to Out instead of sending it.
	DryRun bool
	Out    io.Writer
}

// Report describes what a run produced.
type Report struct {
	RunID       string
	Today       civil.Date
	Summary     report.Summary
	Message     string
	Delivered   bool
	DeliveryErr error
}

type Runner struct {
	fetch    report.Fetcher
	creds    CredentialSource
	notifier Notifier
	log      *logging.Logger
	metrics  Metrics
	cfg      Config

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

func NewRunner(fetch report.Fetcher, creds CredentialSource, notifier Notifier, log *logging.Logger, metrics Metrics, cfg Config) *Runner {
	if log == nil {
		log = logging.Discard()
	}
	if len(cfg.Windows) == 0 {
		cfg.Windows = report.DefaultWindows
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	return &Runner{fetch: fetch, creds: creds, notifier: notifier, log: log, metrics: metrics, cfg: cfg}
}

// RunOnce performs a single digest for the day containing now. The returned
// error covers setup failures only; missing data and delivery failures are
// reflected in the Report and the logs.
func (r *Runner) RunOnce(ctx context.Context, now time.Time) (Report, error) {
	start := time.Now()
	rep, err := r.run(ctx, now)
	if r.metrics != nil {
		r.metrics.ObserveRun(time.Since(start), err)
	}

	r.mu.Lock()
	r.lastRun = now
	r.lastErr = err
	r.mu.Unlock()
	return rep, err
}

func (r *Runner) run(ctx context.Context, now time.Time) (Report, error) {
	rep := Report{RunID: uuid.NewString(), Today: r.today(now)}
	log := r.log.WithRunID(rep.RunID)
	ctx = logging.ContextWithLogger(ctx, log)

	if r.creds != nil {
		if _, err := r.creds.Credential(); err != nil {
			log.Error("credential unavailable", "error", err)
			return rep, fmt.Errorf("obtain credential: %w", err)
		}
	}

	memo := report.NewDayMemo(r.fetch)
	var probeMetrics report.ProbeMetrics
	var windowMetrics report.WindowMetrics
	if r.metrics != nil {
		probeMetrics, windowMetrics = r.metrics, r.metrics
	}

	res, resolveErr := report.NewResolver(memo, r.cfg.Resolver, log, probeMetrics).Resolve(ctx, rep.Today)
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	reason := ""
	switch {
	case resolveErr == nil:
		log.Info("anchor resolved", "anchor", res.Anchor.String(), "verified", res.Verified, "probes", res.Probes)
	case errors.Is(resolveErr, report.ErrNoReport):
		reason = fmt.Sprintf("no report found in the last %d days", r.cfg.Resolver.MaxProbeDays+1)
		log.Warn("no anchor date", "probes", res.Probes)
	default:
		reason = "report lookup failed"
		log.Error("anchor resolution failed", "error", resolveErr)
	}
	if r.metrics != nil {
		r.metrics.SetAnchorLag(rep.Today.DaysSince(res.Anchor), res.Found)
	}

	totals := report.NewAggregator(memo, log, windowMetrics).Aggregate(ctx, res, r.cfg.Windows)
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	log.Debug("windows aggregated", "days_fetched", memo.Len())

	rep.Summary = report.Summary{
		Resolution:  res,
		Totals:      totals,
		Zone:        r.cfg.Location.String(),
		Reason:      reason,
		GeneratedAt: now,
	}
	rep.Message = report.Format(rep.Summary)

	if r.cfg.DryRun {
		_, _ = fmt.Fprintln(r.cfg.Out, rep.Message)
		log.Info("dry run, message not sent")
		return rep, nil
	}
	if r.notifier == nil {
		return rep, errors.New("no notifier configured")
	}

	rep.DeliveryErr = r.notifier.Send(ctx, rep.Message)
	if r.metrics != nil {
		r.metrics.RecordDelivery(rep.DeliveryErr)
	}
	if rep.DeliveryErr != nil {
		log.Error("summary delivery failed", "error", rep.DeliveryErr)
		return rep, nil
	}
	rep.Delivered = true
	log.Info("summary delivered")
	return rep, nil
}

func (r *Runner) today(now time.Time) civil.Date {
	if r.cfg.Today.IsValid() {
		return r.cfg.Today
	}
	return civil.DateOf(now.In(r.cfg.Location))
}

// Ready fails until a run has completed without a setup error.
func (r *Runner) Ready(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastRun.IsZero() {
		return errors.New("no run completed yet")
	}
	if r.lastErr != nil {
		return fmt.Errorf("last run failed: %w", r.lastErr)
	}
	return nil
}
