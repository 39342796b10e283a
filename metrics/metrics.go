// Package metrics exposes the server's Prometheus counters and gauges.
// The teacher repo carries prometheus/client_golang as an indirect
// dependency (through tus/tusd/v2) for request-duration metrics it never
// registers; this package promotes it to a direct one and gives it real
// instruments to populate.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder groups every instrument the Protocol Handler updates. A nil
// *Recorder is valid; callers guard each increment themselves.
type Recorder struct {
	UploadsCreated     prometheus.Counter
	UploadsCompleted   prometheus.Counter
	UploadsTerminated  prometheus.Counter
	BytesReceived      prometheus.Counter
	ChecksumMismatches prometheus.Counter
	// ActiveLeases is registered and exported, but nothing in the server
	// sets or changes it, so it always reads 0.
	ActiveLeases prometheus.Gauge
}

// New registers a fresh set of betus_* instruments against registry and
// returns a Recorder wired to them.
func New(registry prometheus.Registerer) *Recorder {
	factory := promauto.With(registry)

	return &Recorder{
		UploadsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "betus_uploads_created_total",
			Help: "Number of uploads created via POST /files.",
		}),
		UploadsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "betus_uploads_completed_total",
			Help: "Number of uploads that reached offset == length.",
		}),
		UploadsTerminated: factory.NewCounter(prometheus.CounterOpts{
			Name: "betus_uploads_terminated_total",
			Help: "Number of uploads removed via DELETE /files/{uuid}.",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "betus_bytes_received_total",
			Help: "Total bytes accepted across all PATCH and creation-with-upload writes.",
		}),
		ChecksumMismatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "betus_checksum_mismatches_total",
			Help: "Number of PATCH requests rejected with 460 Checksum Mismatch.",
		}),
		ActiveLeases: factory.NewGauge(prometheus.GaugeOpts{
			Name: "betus_active_leases",
			Help: "Number of Files Manager leases currently outstanding.",
		}),
	}
}

// Handler returns the HTTP handler to mount at /metrics, serving the
// default global registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns the HTTP handler to mount at /metrics, serving a
// specific registry rather than the global default one.
func HandlerFor(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
