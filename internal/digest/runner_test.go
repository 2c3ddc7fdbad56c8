package digest

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"salesdigest/internal/auth"
	"salesdigest/internal/report"
)

type fakeFetcher struct {
	mu      sync.Mutex
	results map[civil.Date]report.Result
	calls   map[civil.Date]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{results: map[civil.Date]report.Result{}, calls: map[civil.Date]int{}}
}

func (f *fakeFetcher) FetchDay(_ context.Context, d civil.Date) report.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[d]++
	if res, ok := f.results[d]; ok {
		return res
	}
	return report.NotFound()
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type fakeNotifier struct {
	sent []string
	err  error
}

func (n *fakeNotifier) Send(_ context.Context, content string) error {
	n.sent = append(n.sent, content)
	return n.err
}

type fakeCreds struct{ err error }

func (c fakeCreds) Credential() (auth.Credential, error) {
	return auth.Credential{Token: "t"}, c.err
}

type fakeMetrics struct {
	probes     int
	windows    map[string]bool
	anchorLag  int
	anchorSet  bool
	deliveries []error
	runs       []error
}

func (m *fakeMetrics) RecordProbe(string) { m.probes++ }
func (m *fakeMetrics) RecordWindow(label string, _ int64, available bool) {
	if m.windows == nil {
		m.windows = map[string]bool{}
	}
	m.windows[label] = available
}
func (m *fakeMetrics) SetAnchorLag(days int, found bool) { m.anchorLag, m.anchorSet = days, found }
func (m *fakeMetrics) RecordDelivery(err error) { m.deliveries = append(m.deliveries, err) }
func (m *fakeMetrics) ObserveRun(_ time.Duration, err error) {
	m.runs = append(m.runs, err)
}

func date(s string) civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

var (
	runAt       = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	defaultConf = Config{Resolver: report.ResolverConfig{LagDays: 1, AutoLatest: true, MaxProbeDays: 5}}
)

func TestRunOnceEndToEnd(t *testing.T) {
	fetch := newFakeFetcher()
	fetch.results[date("2024-03-08")] = report.Found([]report.Row{{Date: date("2024-03-08"), Units: 100}})
	fetch.results[date("2024-03-07")] = report.Found([]report.Row{{Date: date("2024-03-07"), Units: 50}})
	notifier := &fakeNotifier{}
	metrics := &fakeMetrics{}

	r := NewRunner(fetch, fakeCreds{}, notifier, nil, metrics, defaultConf)
	rep, err := r.RunOnce(context.Background(), runAt)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := strings.Join([]string{
		":iphone: App Store Download Units Summary",
		"Data through: 2024-03-08 (UTC)",
		"• Period 24h: 100",
		"• Period 7d: 150",
		"• Period 30d: 150",
		"Timestamp: 2024-03-10 09:00 UTC",
	}, "\n")
	if rep.Message != want {
		t.Fatalf("unexpected message:\n%s\nwant:\n%s", rep.Message, want)
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != want {
		t.Fatalf("expected one delivery of the message, got %v", notifier.sent)
	}
	if !rep.Delivered || rep.RunID == "" {
		t.Fatalf("expected delivered report with run id, got %+v", rep)
	}
	if rep.Summary.Resolution.Probes != 2 {
		t.Fatalf("expected 2 probes, got %d", rep.Summary.Resolution.Probes)
	}
	for d, n := range fetch.calls {
		if n != 1 {
			t.Fatalf("date %s fetched %d times", d, n)
		}
	}
	// 30 window days plus the 03-09 probe.
	if got := fetch.total(); got != 31 {
		t.Fatalf("expected 31 fetches, got %d", got)
	}
	if !metrics.anchorSet || metrics.anchorLag != 2 {
		t.Fatalf("expected anchor lag 2, got %d (found=%v)", metrics.anchorLag, metrics.anchorSet)
	}
	if len(metrics.runs) != 1 || metrics.runs[0] != nil {
		t.Fatalf("expected one successful run, got %v", metrics.runs)
	}
	if err := r.Ready(context.Background()); err != nil {
		t.Fatalf("expected ready after run: %v", err)
	}
}

func TestRunOnceWithoutAnchor(t *testing.T) {
	fetch := newFakeFetcher()
	notifier := &fakeNotifier{}
	metrics := &fakeMetrics{}

	rep, err := NewRunner(fetch, fakeCreds{}, notifier, nil, metrics, defaultConf).RunOnce(context.Background(), runAt)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(rep.Message, "Data through: UNKNOWN (no report found in the last 6 days)") {
		t.Fatalf("missing unknown anchor line:\n%s", rep.Message)
	}
	if strings.Count(rep.Message, "N/A") != 3 {
		t.Fatalf("expected every window N/A:\n%s", rep.Message)
	}
	if fetch.total() != 6 {
		t.Fatalf("expected 6 probes only, got %d", fetch.total())
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("expected the summary to still be sent")
	}
	if metrics.anchorSet {
		t.Fatalf("expected anchor lag to be cleared")
	}
}

func TestRunOnceFatalProbe(t *testing.T) {
	fetch := newFakeFetcher()
	fetch.results[date("2024-03-09")] = report.Fatal(errors.New("401 unauthorized"))
	fetch.results[date("2024-03-08")] = report.Found(nil)

	rep, err := NewRunner(fetch, fakeCreds{}, &fakeNotifier{}, nil, nil, defaultConf).RunOnce(context.Background(), runAt)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(rep.Message, "Data through: UNKNOWN (report lookup failed)") {
		t.Fatalf("unexpected message:\n%s", rep.Message)
	}
	if fetch.calls[date("2024-03-08")] != 0 {
		t.Fatalf("expected probing to stop at the fatal day")
	}
}

func TestRunOnceCredentialFailure(t *testing.T) {
	fetch := newFakeFetcher()
	notifier := &fakeNotifier{}
	metrics := &fakeMetrics{}
	credErr := &auth.CredentialError{Reason: "parse private key"}

	r := NewRunner(fetch, fakeCreds{err: credErr}, notifier, nil, metrics, defaultConf)
	if err := r.Ready(context.Background()); err == nil {
		t.Fatalf("expected not ready before first run")
	}

	_, err := r.RunOnce(context.Background(), runAt)
	var ce *auth.CredentialError
	if !errors.As(err, &ce) {
		t.Fatalf("expected credential error, got %v", err)
	}
	if fetch.total() != 0 || len(notifier.sent) != 0 {
		t.Fatalf("expected no fetches or deliveries after credential failure")
	}
	if len(metrics.runs) != 1 || metrics.runs[0] == nil {
		t.Fatalf("expected failed run to be recorded, got %v", metrics.runs)
	}
	if err := r.Ready(context.Background()); err == nil {
		t.Fatalf("expected not ready after failed run")
	}
}

func TestRunOnceDeliveryFailure(t *testing.T) {
	fetch := newFakeFetcher()
	fetch.results[date("2024-03-09")] = report.Found(nil)
	notifier := &fakeNotifier{err: errors.New("webhook status 500")}
	metrics := &fakeMetrics{}

	rep, err := NewRunner(fetch, fakeCreds{}, notifier, nil, metrics, defaultConf).RunOnce(context.Background(), runAt)
	if err != nil {
		t.Fatalf("delivery failure must not fail the run: %v", err)
	}
	if rep.Delivered || rep.DeliveryErr == nil {
		t.Fatalf("expected delivery error in report, got %+v", rep)
	}
	if len(metrics.deliveries) != 1 || metrics.deliveries[0] == nil {
		t.Fatalf("expected failed delivery to be recorded")
	}
}

func TestRunOnceDryRun(t *testing.T) {
	fetch := newFakeFetcher()
	fetch.results[date("2024-03-09")] = report.Found([]report.Row{{Date: date("2024-03-09"), Units: 7}})
	notifier := &fakeNotifier{}
	var out bytes.Buffer

	cfg := defaultConf
	cfg.DryRun = true
	cfg.Out = &out
	rep, err := NewRunner(fetch, fakeCreds{}, notifier, nil, nil, cfg).RunOnce(context.Background(), runAt)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("dry run must not deliver")
	}
	if out.String() != rep.Message+"\n" {
		t.Fatalf("expected message on output, got %q", out.String())
	}
	if !strings.Contains(rep.Message, "• Period 24h: 7") {
		t.Fatalf("unexpected message:\n%s", rep.Message)
	}
}

func TestTodayUsesLocationAndOverride(t *testing.T) {
	late := time.Date(2024, 3, 10, 2, 0, 0, 0, time.UTC)

	cfg := defaultConf
	cfg.Location = time.FixedZone("PST", -8*3600)
	r := NewRunner(newFakeFetcher(), nil, &fakeNotifier{}, nil, nil, cfg)
	rep, err := r.RunOnce(context.Background(), late)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Today != date("2024-03-09") {
		t.Fatalf("expected local date 2024-03-09, got %s", rep.Today)
	}
	if rep.Summary.Zone != "PST" {
		t.Fatalf("expected zone PST, got %s", rep.Summary.Zone)
	}

	cfg.Today = date("2024-01-15")
	rep, err = NewRunner(newFakeFetcher(), nil, &fakeNotifier{}, nil, nil, cfg).RunOnce(context.Background(), late)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Today != date("2024-01-15") {
		t.Fatalf("expected override date, got %s", rep.Today)
	}
}

func TestRunOnceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	notifier := &fakeNotifier{}
	_, err := NewRunner(newFakeFetcher(), nil, notifier, nil, nil, defaultConf).RunOnce(ctx, runAt)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("cancelled run must not deliver")
	}
}
