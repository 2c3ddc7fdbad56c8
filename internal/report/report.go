// Package report holds the date arithmetic of a digest run: finding the most
// recent published report day, folding daily rows into trailing-window totals
// and rendering the summary text.
package report

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
)

// Outcome classifies a single report fetch.
type Outcome int

const (
	// OutcomeFound means the report exists; Rows may still be empty.
	OutcomeFound Outcome = iota
	// OutcomeNotFound is the expected "not published yet" answer.
	OutcomeNotFound
	// OutcomeTransient covers server-side and transport failures.
	OutcomeTransient
	// OutcomeFatal covers auth failures, rejected requests and unparsable bodies.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeTransient:
		return "transient"
	case OutcomeFatal:
		return "fatal"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Row is one parsed line of a daily report.
type Row struct {
	Date  civil.Date
	Units int64
}

// Result is what a fetch returns. Err is set for transient and fatal outcomes.
type Result struct {
	Outcome Outcome
	Rows    []Row
	Err     error
}

func Found(rows []Row) Result { return Result{Outcome: OutcomeFound, Rows: rows} }
func NotFound() Result { return Result{Outcome: OutcomeNotFound} }
func Transient(err error) Result { return Result{Outcome: OutcomeTransient, Err: err} }
func Fatal(err error) Result { return Result{Outcome: OutcomeFatal, Err: err} }

// Fetcher returns the daily report for a single date.
type Fetcher interface {
	FetchDay(ctx context.Context, date civil.Date) Result
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, date civil.Date) Result

func (f FetcherFunc) FetchDay(ctx context.Context, date civil.Date) Result { return f(ctx, date) }

// ParseError reports a malformed report body.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse report: line %d: %s", e.Line, e.Reason)
	}
	return "parse report: " + e.Reason
}

// ErrNoReport means no published report was found inside the probe window.
var ErrNoReport = errors.New("no published report in probe window")

// Logger is the subset of the logging package used here.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}

func orNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}
