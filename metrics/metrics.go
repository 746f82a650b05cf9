// Package metrics exposes Prometheus collectors for async-rpc clients.
//
// All methods are safe on a nil *Collector, so instrumentation can stay in
// place when metrics are disabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for completed calls.
const (
	OutcomeSuccess     = "success"
	OutcomeApplication = "application_failure"
	OutcomeRemote      = "remote_exception"
	OutcomeTimeout     = "timeout"
	OutcomeClosed      = "connection_closed"
	OutcomeError       = "error"
)

type Collector struct {
	callsStarted        *prometheus.CounterVec
	callsCompleted      *prometheus.CounterVec
	callDuration        *prometheus.HistogramVec
	unknownResponses    prometheus.Counter
	unattributable      prometheus.Counter
	framesReceived      prometheus.Counter
	pendingCalls        prometheus.Gauge
	connectionsOpen     prometheus.Gauge
	connectionsFailures prometheus.Counter
}

// NewCollector creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is handy in tests.
func NewCollector(namespace string, reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		callsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_client_calls_started_total",
			Help:      "RPC calls issued, by method and call type.",
		}, []string{"method", "type"}),
		callsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_client_calls_completed_total",
			Help:      "RPC calls resolved, by method and outcome.",
		}, []string{"method", "outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_client_call_duration_seconds",
			Help:      "Time from issuing a call to its resolution.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		unknownResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_client_unknown_responses_total",
			Help:      "Responses whose correlation id matched no pending call.",
		}),
		unattributable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_client_unattributable_frames_total",
			Help:      "Frames whose header could not be decoded.",
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_client_frames_received_total",
			Help:      "Complete frames reassembled from the stream.",
		}),
		pendingCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rpc_client_pending_calls",
			Help:      "Calls waiting for a response.",
		}),
		connectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rpc_client_connections_open",
			Help:      "Established connections.",
		}),
		connectionsFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_client_connection_failures_total",
			Help:      "Connections that failed before being established.",
		}),
	}

	if reg != nil {
		for _, collector := range c.collectors() {
			if err := reg.Register(collector); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.callsStarted,
		c.callsCompleted,
		c.callDuration,
		c.unknownResponses,
		c.unattributable,
		c.framesReceived,
		c.pendingCalls,
		c.connectionsOpen,
		c.connectionsFailures,
	}
}

func (c *Collector) CallStarted(method string, oneway bool) {
	if c == nil {
		return
	}
	callType := "call"
	if oneway {
		callType = "oneway"
	}
	c.callsStarted.WithLabelValues(method, callType).Inc()
	if !oneway {
		c.pendingCalls.Inc()
	}
}

func (c *Collector) CallCompleted(method, outcome string, seconds float64) {
	if c == nil {
		return
	}
	c.callsCompleted.WithLabelValues(method, outcome).Inc()
	c.callDuration.WithLabelValues(method).Observe(seconds)
}

// CallSettled marks a non-oneway call as no longer pending.
func (c *Collector) CallSettled() {
	if c == nil {
		return
	}
	c.pendingCalls.Dec()
}

func (c *Collector) UnknownResponse() {
	if c == nil {
		return
	}
	c.unknownResponses.Inc()
}

func (c *Collector) UnattributableFrame() {
	if c == nil {
		return
	}
	c.unattributable.Inc()
}

func (c *Collector) FramesReceived(n int) {
	if c == nil {
		return
	}
	c.framesReceived.Add(float64(n))
}

func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsOpen.Inc()
}

func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsOpen.Dec()
}

func (c *Collector) ConnectionFailed() {
	if c == nil {
		return
	}
	c.connectionsFailures.Inc()
}
