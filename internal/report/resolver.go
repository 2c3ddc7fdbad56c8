package report

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
)

type ResolverConfig struct {
	// LagDays is subtracted from today to get the first candidate.
	LagDays int
	// AutoLatest enables the backward probe; without it the first candidate
	// is returned unverified.
	AutoLatest bool
	// MaxProbeDays bounds how far back past the first candidate to look.
	MaxProbeDays int
}

// ProbeMetrics records one probe outcome.
type ProbeMetrics interface {
	RecordProbe(outcome string)
}

// Resolution is the outcome of anchor resolution.
type Resolution struct {
	Anchor civil.Date
	// Found is false when no anchor could be established.
	Found bool
	// Verified is true when a fetch confirmed data exists for Anchor.
	Verified bool
	Probes   int
}

type Resolver struct {
	fetch   Fetcher
	cfg     ResolverConfig
	log     Logger
	metrics ProbeMetrics
}

func NewResolver(fetch Fetcher, cfg ResolverConfig, log Logger, metrics ProbeMetrics) *Resolver {
	if cfg.LagDays < 0 {
		cfg.LagDays = 0
	}
	if cfg.MaxProbeDays < 0 {
		cfg.MaxProbeDays = 0
	}
	return &Resolver{fetch: fetch, cfg: cfg, log: orNop(log), metrics: metrics}
}

// Resolve finds the most recent date with a published report, searching
// backwards from today minus the lag. It performs at most MaxProbeDays+1
// fetches and stops at the first report found. A fatal fetch stops the
// search and is returned; exhausting the window returns ErrNoReport.
func (r *Resolver) Resolve(ctx context.Context, today civil.Date) (Resolution, error) {
	candidate := today.AddDays(-r.cfg.LagDays)
	if !r.cfg.AutoLatest {
		return Resolution{Anchor: candidate, Found: true}, nil
	}

	var res Resolution
	for i := 0; i <= r.cfg.MaxProbeDays; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		date := candidate.AddDays(-i)
		out := r.fetch.FetchDay(ctx, date)
		res.Probes++
		r.record(out.Outcome)

		switch out.Outcome {
		case OutcomeFound:
			r.log.Debug("anchor probe hit", "date", date.String(), "probes", res.Probes, "rows", len(out.Rows))
			return Resolution{Anchor: date, Found: true, Verified: true, Probes: res.Probes}, nil
		case OutcomeNotFound:
			r.log.Debug("anchor probe miss", "date", date.String())
		case OutcomeTransient:
			r.log.Warn("anchor probe failed, moving on", "date", date.String(), "error", out.Err)
		case OutcomeFatal:
			return res, fmt.Errorf("probe %s: %w", date, out.Err)
		}
	}
	return res, ErrNoReport
}

func (r *Resolver) record(o Outcome) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordProbe(o.String())
}
