package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rain_monitor"

// Metrics holds the Prometheus counters, histograms, and gauges for the monitor.
type Metrics struct {
	MonitorRunning prometheus.Gauge
	CyclesTotal    *prometheus.CounterVec // labels: trigger={tick,manual}
	CycleDuration  prometheus.Histogram
	LastCycle      prometheus.Gauge // unix seconds of the last completed cycle

	// Per (location, lead) outcomes.
	PairFailures *prometheus.CounterVec // labels: stage={slot,fetch,decode}
	Readings     *prometheus.GaugeVec   // labels: location, lead, method
	Divergences  prometheus.Counter

	// Alerting.
	AlertsRaised   *prometheus.CounterVec // labels: severity
	NotifyFailures *prometheus.CounterVec // labels: kind={alert,heartbeat}
	HeartbeatsSent prometheus.Counter

	// Tile source.
	TileRequests        *prometheus.CounterVec // labels: pattern, outcome={ok,not_found,error,invalid}
	TileCache           *prometheus.CounterVec // labels: result={hit,miss}
	TileFetchDuration   prometheus.Histogram
	TargetTimesRequests *prometheus.CounterVec // labels: product, outcome={ok,error,cached}
}

func newMetrics() *Metrics {
	return &Metrics{
		MonitorRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running",
			Help:      "1 when the monitor loop is active, 0 when shut down.",
		}),
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed monitor cycles by trigger.",
		}, []string{"trigger"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete monitor cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		LastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time of the last completed cycle.",
		}),
		PairFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pair_failures_total",
			Help:      "Skipped (location, lead) pairs by failing stage.",
		}, []string{"stage"}),
		Readings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reading_mm_per_hour",
			Help:      "Latest estimated rainfall intensity.",
		}, []string{"location", "lead", "method"}),
		Divergences: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "color_step_divergences_total",
			Help:      "Readings whose colour and step estimates disagreed.",
		}),
		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_raised_total",
			Help:      "Alert events raised by severity.",
		}, []string{"severity"}),
		NotifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Notifier delivery failures by event kind.",
		}, []string{"kind"}),
		HeartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_sent_total",
			Help:      "Heartbeat events emitted.",
		}),
		TileRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tile_requests_total",
			Help:      "Tile URL attempts by pattern and outcome.",
		}, []string{"pattern", "outcome"}),
		TileCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tile_cache_total",
			Help:      "Tile cache lookups by result.",
		}, []string{"result"}),
		TileFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tile_fetch_duration_seconds",
			Help:      "Tile request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		TargetTimesRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "target_times_requests_total",
			Help:      "Issuance metadata lookups by product and outcome.",
		}, []string{"product", "outcome"}),
	}
}

// NewMetrics creates and registers all monitor metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.MonitorRunning,
		m.CyclesTotal,
		m.CycleDuration,
		m.LastCycle,
		m.PairFailures,
		m.Readings,
		m.Divergences,
		m.AlertsRaised,
		m.NotifyFailures,
		m.HeartbeatsSent,
		m.TileRequests,
		m.TileCache,
		m.TileFetchDuration,
		m.TargetTimesRequests,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
