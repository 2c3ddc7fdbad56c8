package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics centralizes Prometheus instrumentation for digest runs.
type Metrics struct {
	registry *prometheus.Registry

	fetches      *prometheus.CounterVec
	fetchLatency *prometheus.HistogramVec
	probes       *prometheus.CounterVec
	anchorLag    prometheus.Gauge

	windowUnits     *prometheus.GaugeVec
	windowAvailable *prometheus.GaugeVec

	deliveries  *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	lastSuccess prometheus.Gauge
}

// NewMetrics builds a metrics container backed by the provided registry. If no
// registry is supplied, a new one is created.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{registry: reg}

	m.fetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "salesdigest_report_fetches_total",
		Help: "Sales report requests grouped by outcome",
	}, []string{"outcome"})
	m.fetchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "salesdigest_report_fetch_seconds",
		Help:    "Sales report request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	m.probes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "salesdigest_anchor_probes_total",
		Help: "Anchor date probes grouped by outcome",
	}, []string{"outcome"})
	m.anchorLag = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "salesdigest_anchor_lag_days",
		Help: "Days between today and the resolved anchor date, -1 when none was found",
	})

	m.windowUnits = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "salesdigest_window_units",
		Help: "Units downloaded in the trailing window as of the last run",
	}, []string{"window"})
	m.windowAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "salesdigest_window_available",
		Help: "1 when the window total could be computed in the last run",
	}, []string{"window"})

	m.deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "salesdigest_webhook_deliveries_total",
		Help: "Webhook deliveries grouped by status",
	}, []string{"status"})
	m.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "salesdigest_run_seconds",
		Help:    "Durations of digest runs",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})
	m.lastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "salesdigest_last_success_timestamp_seconds",
		Help: "Unix time of the last run that completed without a setup error",
	})

	reg.MustRegister(m.fetches, m.fetchLatency, m.probes, m.anchorLag, m.windowUnits, m.windowAvailable,
		m.deliveries, m.runDuration, m.lastSuccess)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveFetch(outcome string, latency time.Duration) {
	m.fetches.WithLabelValues(outcome).Inc()
	m.fetchLatency.WithLabelValues(outcome).Observe(latency.Seconds())
}

func (m *Metrics) RecordProbe(outcome string) {
	m.probes.WithLabelValues(outcome).Inc()
}

// SetAnchorLag records how far behind today the anchor is.
func (m *Metrics) SetAnchorLag(days int, found bool) {
	if !found {
		m.anchorLag.Set(-1)
		return
	}
	m.anchorLag.Set(float64(days))
}

func (m *Metrics) RecordWindow(label string, units int64, available bool) {
	if available {
		m.windowUnits.WithLabelValues(label).Set(float64(units))
		m.windowAvailable.WithLabelValues(label).Set(1)
		return
	}
	m.windowAvailable.WithLabelValues(label).Set(0)
}

func (m *Metrics) RecordDelivery(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.deliveries.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveRun(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	} else {
		m.lastSuccess.SetToCurrentTime()
	}
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}
