package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scriptfilter"

// Metrics groups the bridge and runner collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	ReadingsIn    *prometheus.CounterVec
	ReadingsOut   *prometheus.CounterVec
	Outcomes      *prometheus.CounterVec
	Reconfigures  *prometheus.CounterVec
	IngestSeconds *prometheus.HistogramVec
	Attached      prometheus.Gauge
	SinkErrors    *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReadingsIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "readings_in_total",
			Help: "Readings handed to a script filter.",
		}, []string{"filter"}),
		ReadingsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "readings_out_total",
			Help: "Readings produced by a script filter.",
		}, []string{"filter"}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingest_outcomes_total",
			Help: "Ingest outcomes by kind (success, script_error, marshal_error, skipped, passthrough).",
		}, []string{"filter", "outcome"}),
		Reconfigures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconfigures_total",
			Help: "Reconfiguration attempts by result.",
		}, []string{"filter", "result"}),
		IngestSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "ingest_seconds",
			Help:    "Time spent inside the exclusive region per batch.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"filter"}),
		Attached: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "interpreter_attached",
			Help: "Filters currently attached to the shared interpreter.",
		}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sink_errors_total",
			Help: "Batches a sink failed to accept.",
		}, []string{"sink"}),
	}
	if reg != nil {
		reg.MustRegister(m.ReadingsIn, m.ReadingsOut, m.Outcomes, m.Reconfigures,
			m.IngestSeconds, m.Attached, m.SinkErrors)
	}
	return m
}

func (m *Metrics) ObserveIngest(filter, outcome string, in, out int, d time.Duration) {
	if m == nil {
		return
	}
	m.ReadingsIn.WithLabelValues(filter).Add(float64(in))
	m.ReadingsOut.WithLabelValues(filter).Add(float64(out))
	m.Outcomes.WithLabelValues(filter, outcome).Inc()
	if d > 0 {
		m.IngestSeconds.WithLabelValues(filter).Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveReconfigure(filter string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.Reconfigures.WithLabelValues(filter, result).Inc()
}

func (m *Metrics) SetAttached(n int) {
	if m == nil {
		return
	}
	m.Attached.Set(float64(n))
}

func (m *Metrics) SinkError(sink string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink).Inc()
}

// Expose serves /metrics for the default registry on port.
func Expose(port int) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
	}()
}
