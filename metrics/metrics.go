// Package metrics exports Prometheus metrics for Vault session management.
//
// All recording methods are safe to call on a nil *Metrics, so components
// can be built without instrumentation in tests.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors recorded by the session broker.
type Metrics struct {
	acquisitions *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	renewals     *prometheus.CounterVec
	rebuilds     prometheus.Counter
	peerRequests *prometheus.CounterVec
	issued       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_acquisitions_total",
			Help:      "Authenticated client acquisitions by outcome.",
		}, []string{"outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Credential cache lookups by category and result.",
		}, []string{"category", "result"}),
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_renewals_total",
			Help:      "Token renewals by result.",
		}, []string{"result"}),
		rebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_rebuilds_total",
			Help:      "Full client rebuilds after purging cached credentials.",
		}),
		peerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_requests_total",
			Help:      "Requests to the trusted controller by operation and result.",
		}, []string{"operation", "result"}),
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_issued_total",
			Help:      "Controller responses by operation and result.",
		}, []string{"operation", "result"}),
	}

	for _, c := range []prometheus.Collector{m.acquisitions, m.cacheLookups, m.renewals, m.rebuilds, m.peerRequests, m.issued} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Acquisition(outcome string) {
	if m == nil {
		return
	}
	m.acquisitions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CacheLookup(category string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(category, result).Inc()
}

func (m *Metrics) Renewal(err error) {
	if m == nil {
		return
	}
	m.renewals.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) Rebuild() {
	if m == nil {
		return
	}
	m.rebuilds.Inc()
}

func (m *Metrics) PeerRequest(operation string, err error) {
	if m == nil {
		return
	}
	m.peerRequests.WithLabelValues(operation, resultLabel(err)).Inc()
}

func (m *Metrics) Issued(operation string, result string) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(operation, result).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// MetricsServer serves the registry on /metrics.
type MetricsServer struct {
	Metrics *Metrics
	srv     *http.Server
}

// New creates a registry with the session broker collectors and a server
// exposing it on listenAddr.
func New(namespace string, listenAddr string) (*MetricsServer, error) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(namespace, reg)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	return &MetricsServer{
		Metrics: m,
		srv: &http.Server{
			Addr:              listenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func (s *MetricsServer) Handler() http.Handler {
	return s.srv.Handler
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
