package monitor

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mcp-core/internal/events"
	"mcp-core/internal/message"
	"mcp-core/internal/queue"
	"mcp-core/internal/router"
	"mcp-core/internal/signal"
)

// Collectors are the exported Prometheus series of the control plane.
// They live on their own registry so several instances can coexist.
type Collectors struct {
	registry *prometheus.Registry

	Enqueued        *prometheus.CounterVec
	Rejected        *prometheus.CounterVec
	Failed          *prometheus.CounterVec
	Processed       *prometheus.CounterVec
	ProcessDuration *prometheus.HistogramVec
	RoutingOutcomes *prometheus.CounterVec
	Routings        *prometheus.CounterVec
	SignalsClosed   *prometheus.CounterVec
	QueueDepth      *prometheus.GaugeVec
	Clients         prometheus.Gauge
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

// NewCollectors creates and registers every series.
func NewCollectors() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		Enqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mcp_messages_enqueued_total", Help: "Messages accepted by a queue"},
			[]string{"queue", "priority"},
		),
		Rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mcp_messages_rejected_total", Help: "Messages rejected by a full queue"},
			[]string{"queue"},
		),
		Failed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mcp_messages_failed_total", Help: "Messages whose processing failed"},
			[]string{"queue"},
		),
		Processed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mcp_messages_processed_total", Help: "Messages handled by a processor"},
			[]string{"processor"},
		),
		ProcessDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "mcp_process_duration_seconds", Help: "Time spent processing one message", Buckets: prometheus.DefBuckets},
			[]string{"processor"},
		),
		RoutingOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mcp_routing_outcomes_total", Help: "Per-broker routing outcomes"},
			[]string{"broker", "result"},
		),
		Routings: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mcp_routings_total", Help: "Completed routing calls by strategy and outcome"},
			[]string{"strategy", "result"},
		),
		SignalsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mcp_signals_closed_total", Help: "Signals that reached a terminal status"},
			[]string{"status"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "mcp_queue_depth", Help: "Messages waiting in a queue"},
			[]string{"queue"},
		),
		Clients: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "mcp_ws_clients", Help: "Connected realtime clients"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mcp_http_requests_total", Help: "HTTP requests by route and status"},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "mcp_http_request_duration_seconds", Help: "HTTP request latency", Buckets: prometheus.DefBuckets},
			[]string{"method", "route"},
		),
	}
	c.registry.MustRegister(
		c.Enqueued, c.Rejected, c.Failed, c.Processed, c.ProcessDuration,
		c.RoutingOutcomes, c.Routings, c.SignalsClosed, c.QueueDepth, c.Clients,
		c.HTTPRequests, c.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry for gathering in tests.
func (c *Collectors) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveEnqueued records an accepted message.
func (c *Collectors) ObserveEnqueued(q string, p message.Priority) {
	c.Enqueued.WithLabelValues(q, p.String()).Inc()
}

// QueueObserver adapts the collectors to queue.Observer.
func (c *Collectors) QueueObserver() queue.Observer { return queueObserver{c} }

type queueObserver struct{ c *Collectors }

func (o queueObserver) Enqueued(q string, p message.Priority) { o.c.ObserveEnqueued(q, p) }
func (o queueObserver) Rejected(q string)                     { o.c.Rejected.WithLabelValues(q).Inc() }
func (o queueObserver) Failed(q string)                       { o.c.Failed.WithLabelValues(q).Inc() }

// ObserveProcessed records one processed message.
func (c *Collectors) ObserveProcessed(processor string, d time.Duration) {
	c.Processed.WithLabelValues(processor).Inc()
	c.ProcessDuration.WithLabelValues(processor).Observe(d.Seconds())
}

// ObserveRouting records one per-broker routing outcome.
func (c *Collectors) ObserveRouting(brokerID string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.RoutingOutcomes.WithLabelValues(brokerID, result).Inc()
}

// SetQueueDepths refreshes the depth gauges.
func (c *Collectors) SetQueueDepths(stats []queue.Stats) {
	for _, s := range stats {
		c.QueueDepth.WithLabelValues(s.Name).Set(float64(s.Size))
	}
}

// ObserveHTTP records one served request. route is the matched pattern,
// not the raw path.
func (c *Collectors) ObserveHTTP(method, route string, status int, d time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Track counts routing and signal-close events from bus until ctx ends.
func (c *Collectors) Track(ctx context.Context, bus *events.Bus) {
	routed, unsubRouted := bus.Subscribe(events.EventRoutingCompleted, 50)
	closed, unsubClosed := bus.Subscribe(events.EventSignalClosed, 50)
	go func() {
		defer unsubRouted()
		defer unsubClosed()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-routed:
				if !ok {
					return
				}
				if res, ok := ev.(router.RoutingResult); ok {
					result := "failure"
					if res.Succeeded() > 0 {
						result = "success"
					}
					c.Routings.WithLabelValues(string(res.Strategy), result).Inc()
				}
			case ev, ok := <-closed:
				if !ok {
					return
				}
				if sig, ok := ev.(*signal.TradeSignal); ok {
					c.SignalsClosed.WithLabelValues(string(sig.Status)).Inc()
				}
			}
		}
	}()
}
