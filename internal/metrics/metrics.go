// Package metrics exports agent counters to Prometheus and serves the
// local /metrics, /status and /healthz endpoints.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bft-labs/edgeship/internal/decoder"
	"github.com/bft-labs/edgeship/internal/domain"
	"github.com/bft-labs/edgeship/internal/framer"
	"github.com/bft-labs/edgeship/internal/syncer"
)

const namespace = "edgeship"

// Metrics holds the agent's collectors.
type Metrics struct {
	registry *prometheus.Registry

	Fragments   *prometheus.CounterVec
	Decoded     *prometheus.CounterVec
	Diagnostics *prometheus.CounterVec
	Appended    prometheus.Counter
	AppendErrs  prometheus.Counter
	BytesRead   prometheus.Counter

	SyncTicks     *prometheus.CounterVec
	SyncDelivered *prometheus.CounterVec
	SyncFailed    *prometheus.CounterVec
	SyncDuration  prometheus.Histogram
	Online        prometheus.Gauge
}

// New creates the collectors and registers them, plus the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Fragments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "framer", Name: "fragments_total",
			Help: "Fragments framed from the controller stream, by kind.",
		}, []string{"kind"}),
		Decoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "decoder", Name: "events_total",
			Help: "Decoded events appended to the outbox, by event type.",
		}, []string{"type"}),
		Diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "decoder", Name: "diagnostics_total",
			Help: "Decoder diagnostics, by kind.",
		}, []string{"kind"}),
		Appended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "outbox", Name: "appends_total",
			Help: "Events appended to the outbox.",
		}),
		AppendErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "outbox", Name: "append_errors_total",
			Help: "Failed outbox appends, including retried ones.",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "source", Name: "bytes_total",
			Help: "Raw bytes read from the source.",
		}),
		SyncTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "ticks_total",
			Help: "Sync ticks, by result (ok, failed, offline, skipped).",
		}, []string{"result"}),
		SyncDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "delivered_total",
			Help: "Records delivered, by class.",
		}, []string{"class"}),
		SyncFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "failed_total",
			Help: "Failed delivery attempts, by class.",
		}, []string{"class"}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sync", Name: "tick_duration_seconds",
			Help:    "Duration of sync ticks.",
			Buckets: prometheus.DefBuckets,
		}),
		Online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sync", Name: "online",
			Help: "1 when the last probe reached the backend.",
		}),
	}

	m.registry.MustRegister(
		m.Fragments, m.Decoded, m.Diagnostics, m.Appended, m.AppendErrs, m.BytesRead,
		m.SyncTicks, m.SyncDelivered, m.SyncFailed, m.SyncDuration, m.Online,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// OnSync implements syncer.Observer.
func (m *Metrics) OnSync(r syncer.Report, d time.Duration) {
	switch {
	case r.Skipped:
		m.SyncTicks.WithLabelValues("skipped").Inc()
		return
	case !r.Online:
		m.SyncTicks.WithLabelValues("offline").Inc()
		m.Online.Set(0)
	case r.Err != nil:
		m.SyncTicks.WithLabelValues("failed").Inc()
		m.Online.Set(1)
	default:
		m.SyncTicks.WithLabelValues("ok").Inc()
		m.Online.Set(1)
	}
	m.SyncDuration.Observe(d.Seconds())
	for class, cr := range r.Classes {
		m.SyncDelivered.WithLabelValues(string(class)).Add(float64(cr.Delivered))
		m.SyncFailed.WithLabelValues(string(class)).Add(float64(cr.Failed))
	}
}

// StatsFunc reads outbox statistics.
type StatsFunc func(ctx context.Context) (domain.OutboxStats, error)

// RegisterOutbox exports outbox gauges read at scrape time. evicted may be
// nil.
func (m *Metrics) RegisterOutbox(stats StatsFunc, evicted func() int64) {
	m.registry.MustRegister(&outboxCollector{stats: stats})
	if evicted != nil {
		m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "outbox", Name: "evicted_total",
			Help: "Records evicted by the outbox size cap.",
		}, func() float64 { return float64(evicted()) }))
	}
}

// RegisterPassThroughDrops exports the pass-through drop counter.
func (m *Metrics) RegisterPassThroughDrops(dropped func() int64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "framer", Name: "passthrough_dropped_total",
		Help: "Raw chunks dropped because the pass-through sink was full.",
	}, func() float64 { return float64(dropped()) }))
}

const scrapeTimeout = 2 * time.Second

var (
	pendingDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "outbox", "pending"),
		"Pending records, by class.", []string{"class"}, nil)
	totalDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "outbox", "records"),
		"Records stored in the outbox.", nil, nil)
	exhaustedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "outbox", "exhausted"),
		"Pending records that reached the attempt cap.", nil, nil)
)

type outboxCollector struct {
	stats StatsFunc
}

func (c *outboxCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pendingDesc
	ch <- totalDesc
	ch <- exhaustedDesc
}

func (c *outboxCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()
	st, err := c.stats(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(totalDesc, err)
		return
	}
	for class, n := range st.Pending {
		ch <- prometheus.MustNewConstMetric(pendingDesc, prometheus.GaugeValue, float64(n), string(class))
	}
	ch <- prometheus.MustNewConstMetric(totalDesc, prometheus.GaugeValue, float64(st.TotalCount))
	ch <- prometheus.MustNewConstMetric(exhaustedDesc, prometheus.GaugeValue, float64(st.Exhausted))
}

// OnChunk implements app.Observer.
func (m *Metrics) OnChunk(n int) {
	m.BytesRead.Add(float64(n))
}

// OnFragment implements app.Observer.
func (m *Metrics) OnFragment(kind framer.Kind) {
	m.Fragments.WithLabelValues(kind.String()).Inc()
}

// OnDiagnostic implements app.Observer.
func (m *Metrics) OnDiagnostic(kind decoder.DiagnosticKind) {
	m.Diagnostics.WithLabelValues(kind.String()).Inc()
}

// OnAppended implements app.Observer.
func (m *Metrics) OnAppended(ev domain.Event) {
	m.Decoded.WithLabelValues(string(ev.Type)).Inc()
	m.Appended.Inc()
}

// OnAppendError implements app.Observer.
func (m *Metrics) OnAppendError(error) {
	m.AppendErrs.Inc()
}
