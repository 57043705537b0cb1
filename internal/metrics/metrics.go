// Package metrics exposes per-receiver Prometheus counters on an optional
// HTTP endpoint via prometheus/client_golang.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter the connection handler and driver update.
type Metrics struct {
	Frames      *prometheus.CounterVec
	Acks        *prometheus.CounterVec
	Naks        *prometheus.CounterVec
	Drops       *prometheus.CounterVec
	MediaSaved  *prometheus.CounterVec
	Connections *prometheus.GaugeVec
}

// New registers and returns the receiver's metric set against reg.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Frames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cms_frames_total",
			Help: "Classified frames received, by receiver and kind.",
		}, []string{"receiver", "kind"}),
		Acks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cms_acks_total",
			Help: "ACK replies sent, by receiver.",
		}, []string{"receiver"}),
		Naks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cms_naks_total",
			Help: "NAK replies sent, by receiver.",
		}, []string{"receiver"}),
		Drops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cms_drops_total",
			Help: "Frames silently dropped under DROP_N/NO_RESPONSE/ONLY_PING, by receiver.",
		}, []string{"receiver"}),
		MediaSaved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cms_media_saved_total",
			Help: "Media files persisted, by receiver.",
		}, []string{"receiver"}),
		Connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cms_connections_open",
			Help: "Currently open panel connections, by receiver.",
		}, []string{"receiver"}),
	}
}

// Serve starts an HTTP server exposing reg at /metrics on addr. The caller
// runs this in its own goroutine; Serve blocks until the listener fails.
func Serve(addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
