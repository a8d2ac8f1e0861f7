// Package metrics exports coordinator activity as Prometheus metrics.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soyeahso/conductor/internal/hooks"
	"github.com/soyeahso/conductor/internal/logging"
)

const namespace = "conductor"

// Collector owns a private registry so several instances can coexist.
type Collector struct {
	registry *prometheus.Registry

	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	inFlight           prometheus.Gauge
	handoffsTotal      *prometheus.CounterVec
	parallelTotal      *prometheus.CounterVec
	conflictsTotal     *prometheus.CounterVec
	catalogReloads     prometheus.Counter
	rpcTotal           *prometheus.CounterVec
	rpcDuration        *prometheus.HistogramVec

	log *logging.Logger
}

// NewCollector creates a collector with Go runtime and process metrics.
func NewCollector(log *logging.Logger) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		log:      log.Sub("metrics"),

		invocationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Agent invocations that reached a terminal state.",
		}, []string{"agent", "status"}),

		invocationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Wall time from invocation start to terminal state.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"agent"}),

		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "invocations_in_flight",
			Help:      "Invocations started but not yet finished.",
		}),

		handoffsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_total",
			Help:      "Tracked handoffs by whether context was preserved.",
		}, []string{"context_preserved"}),

		parallelTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parallel_executions_total",
			Help:      "Parallel executions started by aggregation strategy.",
		}, []string{"strategy"}),

		conflictsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Conflicts detected and resolved.",
		}, []string{"event"}),

		catalogReloads: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_reloads_total",
			Help:      "Catalog snapshots swapped in after a reload.",
		}),

		rpcTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "Gateway RPC requests by method and result code.",
		}, []string{"method", "code"}),

		rpcDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_request_duration_seconds",
			Help:      "Gateway RPC handling time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// Attach subscribes the collector to every coordinator event.
func (c *Collector) Attach(hm *hooks.Manager) {
	hm.OnAll("metrics", c.observe)
}

func (c *Collector) observe(_ context.Context, p hooks.Payload) error {
	switch p.Event {
	case hooks.EventInvocationStarted:
		c.inFlight.Inc()
	case hooks.EventInvocationCompleted, hooks.EventInvocationFailed:
		agent := str(p.Data["agent"])
		c.inFlight.Dec()
		c.invocationsTotal.WithLabelValues(agent, str(p.Data["status"])).Inc()
		if ms, ok := p.Data["duration_ms"].(int64); ok {
			c.invocationDuration.WithLabelValues(agent).Observe(time.Duration(ms * int64(time.Millisecond)).Seconds())
		}
	case hooks.EventHandoffTracked:
		c.handoffsTotal.WithLabelValues(str(p.Data["context_preserved"])).Inc()
	case hooks.EventParallelStarted:
		c.parallelTotal.WithLabelValues(str(p.Data["strategy"])).Inc()
	case hooks.EventConflictDetected:
		c.conflictsTotal.WithLabelValues("detected").Inc()
	case hooks.EventConflictResolved:
		c.conflictsTotal.WithLabelValues("resolved").Inc()
	case hooks.EventCatalogReloaded:
		c.catalogReloads.Inc()
	}
	return nil
}

// ObserveRPC records one gateway RPC. code is empty on success.
func (c *Collector) ObserveRPC(method, code string, d time.Duration) {
	if code == "" {
		code = "ok"
	}
	c.rpcTotal.WithLabelValues(method, code).Inc()
	c.rpcDuration.WithLabelValues(method).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorLog: promLogger{c.log},
	})
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// promLogger adapts the logger to promhttp.Logger.
type promLogger struct{ log *logging.Logger }

func (l promLogger) Println(v ...any) {
	l.log.Error().Msg(fmt.Sprint(v...))
}
