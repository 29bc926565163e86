// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registry for all pmurelay metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// RelayMetrics holds the metrics of one relay process. A nil *RelayMetrics
// is valid and records nothing.
type RelayMetrics struct {
	// Copy loop
	BytesRead      prometheus.Counter
	BytesForwarded prometheus.Counter
	SinkWrites     prometheus.Counter
	Ack            prometheus.Gauge

	// Replication channel
	AckPushes prometheus.Counter

	// Mirror log
	MirrorBytes     prometheus.Counter
	MirrorRotations prometheus.Counter

	// Election
	Role           *prometheus.GaugeVec // labels: role
	LivenessProbes prometheus.Counter

	Info *prometheus.GaugeVec // labels: instance, version
}

// InitMetrics registers the relay metrics on Registry.
func InitMetrics(instance, version string) *RelayMetrics {
	return New(Registry, instance, version)
}

// New creates relay metrics registered on reg.
func New(reg prometheus.Registerer, instance, version string) *RelayMetrics {
	constLabels := prometheus.Labels{
		"instance_id": instance,
	}
	f := promauto.With(reg)

	m := &RelayMetrics{
		BytesRead: f.NewCounter(prometheus.CounterOpts{
			Name:        "pmurelay_source_bytes_read_total",
			Help:        "Bytes read from the data source",
			ConstLabels: constLabels,
		}),
		BytesForwarded: f.NewCounter(prometheus.CounterOpts{
			Name:        "pmurelay_sink_bytes_forwarded_total",
			Help:        "Bytes accepted by the data sink",
			ConstLabels: constLabels,
		}),
		SinkWrites: f.NewCounter(prometheus.CounterOpts{
			Name:        "pmurelay_sink_writes_total",
			Help:        "Write calls on the sink, including partial writes",
			ConstLabels: constLabels,
		}),
		Ack: f.NewGauge(prometheus.GaugeOpts{
			Name:        "pmurelay_ack",
			Help:        "Last acknowledgment value pushed to the replication service",
			ConstLabels: constLabels,
		}),
		AckPushes: f.NewCounter(prometheus.CounterOpts{
			Name:        "pmurelay_ack_pushes_total",
			Help:        "Records pushed to the replication service",
			ConstLabels: constLabels,
		}),
		MirrorBytes: f.NewCounter(prometheus.CounterOpts{
			Name:        "pmurelay_mirror_bytes_total",
			Help:        "Bytes appended to the mirror log",
			ConstLabels: constLabels,
		}),
		MirrorRotations: f.NewCounter(prometheus.CounterOpts{
			Name:        "pmurelay_mirror_rotations_total",
			Help:        "Mirror log file rotations",
			ConstLabels: constLabels,
		}),
		Role: f.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "pmurelay_role",
			Help:        "1 for the role this instance started in (fresh or recovering)",
			ConstLabels: constLabels,
		}, []string{"role"}),
		LivenessProbes: f.NewCounter(prometheus.CounterOpts{
			Name:        "pmurelay_liveness_probes_total",
			Help:        "Standby connections accepted on the liveness port",
			ConstLabels: constLabels,
		}),
		Info: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pmurelay_info",
			Help: "Relay build and instance information",
		}, []string{"instance_id", "version"}),
	}

	m.Info.WithLabelValues(instance, version).Set(1)
	return m
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveRead records n bytes read from the source.
func (m *RelayMetrics) ObserveRead(n int) {
	if m == nil {
		return
	}
	m.BytesRead.Add(float64(n))
}

// ObserveSinkWrite records one sink write that accepted n bytes.
func (m *RelayMetrics) ObserveSinkWrite(n int) {
	if m == nil {
		return
	}
	m.SinkWrites.Inc()
	m.BytesForwarded.Add(float64(n))
}

// ObservePush records a record push carrying ack.
func (m *RelayMetrics) ObservePush(ack uint32) {
	if m == nil {
		return
	}
	m.AckPushes.Inc()
	m.Ack.Set(float64(ack))
}

// ObserveMirror records n bytes appended to the mirror log.
func (m *RelayMetrics) ObserveMirror(n int) {
	if m == nil {
		return
	}
	m.MirrorBytes.Add(float64(n))
}

// ObserveRotation records a mirror log rotation.
func (m *RelayMetrics) ObserveRotation() {
	if m == nil {
		return
	}
	m.MirrorRotations.Inc()
}

// SetRole marks role as the active one.
func (m *RelayMetrics) SetRole(role string) {
	if m == nil {
		return
	}
	m.Role.Reset()
	m.Role.WithLabelValues(role).Set(1)
}

// ObserveProbe records a standby connecting to the liveness port.
func (m *RelayMetrics) ObserveProbe() {
	if m == nil {
		return
	}
	m.LivenessProbes.Inc()
}
