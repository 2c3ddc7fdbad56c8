package report

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
)

// Window is a trailing range of Days days ending at the anchor, inclusive.
type Window struct {
	Days int
}

// DefaultWindows are the day, week and month summaries.
var DefaultWindows = []Window{{Days: 1}, {Days: 7}, {Days: 30}}

func (w Window) Label() string {
	if w.Days == 1 {
		return "24h"
	}
	return fmt.Sprintf("%dd", w.Days)
}

// Start is the first day covered by the window.
func (w Window) Start(anchor civil.Date) civil.Date {
	return anchor.AddDays(-(w.Days - 1))
}

// Total is the aggregate for one window. Units is meaningful only when
// Available is true; zero units with Available set means no downloads.
type Total struct {
	Window    Window
	Units     int64
	Available bool
	// MissingDays counts days inside the window with no report.
	MissingDays int
	Err         error
}

// WindowMetrics records a computed window.
type WindowMetrics interface {
	RecordWindow(label string, units int64, available bool)
}

type Aggregator struct {
	fetch   Fetcher
	log     Logger
	metrics WindowMetrics
}

func NewAggregator(fetch Fetcher, log Logger, metrics WindowMetrics) *Aggregator {
	return &Aggregator{fetch: fetch, log: orNop(log), metrics: metrics}
}

// Aggregate computes one Total per window, in order. Without an anchor every
// window is unavailable. A fatal fetch only affects the windows covering
// that day.
func (a *Aggregator) Aggregate(ctx context.Context, res Resolution, windows []Window) []Total {
	totals := make([]Total, 0, len(windows))
	for _, w := range windows {
		var t Total
		if !res.Found {
			t = Total{Window: w}
		} else {
			t = a.window(ctx, res.Anchor, w)
		}
		if a.metrics != nil {
			a.metrics.RecordWindow(w.Label(), t.Units, t.Available)
		}
		totals = append(totals, t)
	}
	return totals
}

func (a *Aggregator) window(ctx context.Context, anchor civil.Date, w Window) Total {
	t := Total{Window: w}
	if w.Days <= 0 {
		t.Err = fmt.Errorf("window of %d days", w.Days)
		return t
	}

	start := w.Start(anchor)
	for d := start; !d.After(anchor); d = d.AddDays(1) {
		if err := ctx.Err(); err != nil {
			t.Err = err
			return t
		}
		out := a.fetch.FetchDay(ctx, d)
		switch out.Outcome {
		case OutcomeFound:
			for _, row := range out.Rows {
				if row.Date.Before(start) || row.Date.After(anchor) {
					continue
				}
				t.Units += row.Units
			}
		case OutcomeNotFound, OutcomeTransient:
			t.MissingDays++
			a.log.Debug("day missing from window", "window", w.Label(), "date", d.String(), "outcome", out.Outcome.String())
		case OutcomeFatal:
			a.log.Warn("window unavailable", "window", w.Label(), "date", d.String(), "error", out.Err)
			return Total{Window: w, Err: fmt.Errorf("fetch %s: %w", d, out.Err)}
		}
	}
	t.Available = true
	if t.MissingDays > 0 {
		a.log.Warn("window summed with missing days", "window", w.Label(), "missing_days", t.MissingDays)
	}
	return t
}
