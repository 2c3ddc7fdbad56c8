package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecording(t *testing.T) {
	m := NewMetrics(nil)

	m.ObserveFetch("found", 20*time.Millisecond)
	m.ObserveFetch("not_found", 5*time.Millisecond)
	m.ObserveFetch("not_found", 5*time.Millisecond)
	m.RecordProbe("not_found")
	m.RecordWindow("7d", 420, true)
	m.RecordWindow("30d", 0, false)
	m.SetAnchorLag(2, true)
	m.RecordDelivery(errors.New("boom"))
	m.ObserveRun(time.Second, nil)

	if got := testutil.ToFloat64(m.fetches.WithLabelValues("not_found")); got != 2 {
		t.Fatalf("expected 2 not_found fetches, got %v", got)
	}
	if got := testutil.ToFloat64(m.probes.WithLabelValues("not_found")); got != 1 {
		t.Fatalf("expected 1 probe, got %v", got)
	}
	if got := testutil.ToFloat64(m.windowUnits.WithLabelValues("7d")); got != 420 {
		t.Fatalf("expected 7d units 420, got %v", got)
	}
	if got := testutil.ToFloat64(m.windowAvailable.WithLabelValues("30d")); got != 0 {
		t.Fatalf("expected 30d unavailable, got %v", got)
	}
	if got := testutil.ToFloat64(m.anchorLag); got != 2 {
		t.Fatalf("expected anchor lag 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.deliveries.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected 1 failed delivery, got %v", got)
	}
	if got := testutil.ToFloat64(m.lastSuccess); got == 0 {
		t.Fatalf("expected last success timestamp to be set")
	}

	m.SetAnchorLag(0, false)
	if got := testutil.ToFloat64(m.anchorLag); got != -1 {
		t.Fatalf("expected -1 lag without anchor, got %v", got)
	}
}

func TestRouter(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordProbe("found")

	var readyErr error
	srv := httptest.NewServer(Router(m.Registry(), func(context.Context) error { return readyErr }))
	defer srv.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(b)
	}

	if code, _ := get("/healthz"); code != http.StatusOK {
		t.Fatalf("healthz: got %d", code)
	}
	if code, body := get("/metrics"); code != http.StatusOK || !strings.Contains(body, "salesdigest_anchor_probes_total") {
		t.Fatalf("metrics: got %d", code)
	}
	if code, _ := get("/readyz"); code != http.StatusOK {
		t.Fatalf("readyz: got %d", code)
	}

	readyErr = errors.New("no run completed yet")
	if code, body := get("/readyz"); code != http.StatusServiceUnavailable || body != "no run completed yet" {
		t.Fatalf("readyz: got %d %q", code, body)
	}
}
