package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds every collector exported on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// UpdateSessions counts finished update sessions by result
	// (succeeded, failed, rejected, cancelled).
	UpdateSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fwagent_update_sessions_total",
			Help: "Firmware update sessions by result.",
		},
		[]string{"result"},
	)

	// UpdateFailures counts failed sessions by error kind.
	UpdateFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fwagent_update_failures_total",
			Help: "Failed firmware update sessions by error kind.",
		},
		[]string{"kind"},
	)

	// UpdatePhase is 1 for the phase the current session is in.
	UpdatePhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fwagent_update_phase",
			Help: "Current phase of the firmware update session (1 = active).",
		},
		[]string{"phase"},
	)

	BytesTransferred = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fwagent_update_bytes_transferred_total",
			Help: "Image bytes written into the inactive bank.",
		},
	)

	TransferRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fwagent_update_transfer_retries_total",
			Help: "Transfer steps retried after a transient error.",
		},
	)

	// UpdateDuration observes the time from session start to reboot.
	UpdateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fwagent_update_duration_seconds",
			Help:    "Duration of successful firmware update sessions.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 8),
		},
	)

	// BootOrigin is 1 for the classification of the current boot.
	BootOrigin = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fwagent_boot_origin",
			Help: "Why the device booted (1 = this boot's origin).",
		},
		[]string{"origin"},
	)

	// BrokerConnected is 1 while the MQTT session is up.
	BrokerConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fwagent_broker_connected",
			Help: "MQTT broker connectivity (1 = connected).",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		UpdateSessions,
		UpdateFailures,
		UpdatePhase,
		BytesTransferred,
		TransferRetries,
		UpdateDuration,
		BootOrigin,
		BrokerConnected,
	)
}

// SetPhase marks phase as the only active phase.
func SetPhase(phase string) {
	UpdatePhase.Reset()
	UpdatePhase.WithLabelValues(phase).Set(1)
}

// SetBootOrigin marks origin as the only active boot origin.
func SetBootOrigin(origin string) {
	BootOrigin.Reset()
	BootOrigin.WithLabelValues(origin).Set(1)
}

// SetConnected records broker connectivity.
func SetConnected(up bool) {
	if up {
		BrokerConnected.Set(1)
		return
	}
	BrokerConnected.Set(0)
}
