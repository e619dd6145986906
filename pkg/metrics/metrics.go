// Package metrics provides Prometheus instrumentation for the device stack.
//
// A nil *Metrics is valid and records nothing, so components take one
// unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "things"

// Metrics holds all Prometheus collectors for the stack.
type Metrics struct {
	// Modem metrics
	ModemResponses *prometheus.CounterVec

	// Datagram metrics
	Datagrams     *prometheus.CounterVec
	DatagramBytes *prometheus.CounterVec

	// CoAP metrics
	CoAPMessages   *prometheus.CounterVec
	CoAPDuplicates prometheus.Counter
	CoAPDropped    prometheus.Counter

	// Platform metrics
	PlatformEvents *prometheus.CounterVec
	RPCResponses   *prometheus.CounterVec

	// Connectivity metrics
	WatchdogPings *prometheus.CounterVec
	WatchdogIndex prometheus.Gauge
	NetworkInits  *prometheus.CounterVec
	TickDuration  prometheus.Histogram
}

// New registers all collectors with reg under namespace.
// Passing a fresh prometheus.NewRegistry() keeps tests independent.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	f := promauto.With(reg)

	return &Metrics{
		ModemResponses: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "modem",
				Name:      "responses_total",
				Help:      "Framed modem responses by classification",
			},
			[]string{"type"},
		),
		Datagrams: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "datagram",
				Name:      "total",
				Help:      "UDP datagrams sent and received through the modem",
			},
			[]string{"direction"},
		),
		DatagramBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "datagram",
				Name:      "bytes_total",
				Help:      "UDP payload bytes sent and received through the modem",
			},
			[]string{"direction"},
		),
		CoAPMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "coap",
				Name:      "messages_total",
				Help:      "CoAP messages by direction and type",
			},
			[]string{"direction", "type"},
		),
		CoAPDuplicates: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "coap",
				Name:      "duplicates_total",
				Help:      "Retransmitted CoAP messages suppressed by the duplicate window",
			},
		),
		CoAPDropped: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "coap",
				Name:      "dropped_total",
				Help:      "Datagrams dropped because they did not decode as CoAP",
			},
		),
		PlatformEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "platform",
				Name:      "events_total",
				Help:      "Correlated platform events by kind",
			},
			[]string{"kind"},
		),
		RPCResponses: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "platform",
				Name:      "rpc_responses_total",
				Help:      "Replies sent to incoming RPC requests by status code",
			},
			[]string{"status"},
		),
		WatchdogPings: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "watchdog",
				Name:      "pings_total",
				Help:      "Connectivity pings by result",
			},
			[]string{"result"},
		),
		WatchdogIndex: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "watchdog",
				Name:      "escalation_index",
				Help:      "Current position in the connectivity check interval sequence",
			},
		),
		NetworkInits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "network",
				Name:      "inits_total",
				Help:      "Network initialisation attempts by result",
			},
			[]string{"result"},
		),
		TickDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tick_duration_seconds",
				Help:      "Duration of one engine tick",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
	}
}

// ModemResponse counts one framed modem response.
func (m *Metrics) ModemResponse(kind string) {
	if m == nil {
		return
	}
	m.ModemResponses.WithLabelValues(kind).Inc()
}

// Datagram counts one datagram of n bytes in direction "in" or "out".
func (m *Metrics) Datagram(direction string, n int) {
	if m == nil {
		return
	}
	m.Datagrams.WithLabelValues(direction).Inc()
	m.DatagramBytes.WithLabelValues(direction).Add(float64(n))
}

// CoAPMessage counts one CoAP message.
func (m *Metrics) CoAPMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.CoAPMessages.WithLabelValues(direction, msgType).Inc()
}

// Duplicate counts one suppressed retransmission.
func (m *Metrics) Duplicate() {
	if m == nil {
		return
	}
	m.CoAPDuplicates.Inc()
}

// Dropped counts one undecodable datagram.
func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.CoAPDropped.Inc()
}

// PlatformEvent counts one correlated event.
func (m *Metrics) PlatformEvent(kind string) {
	if m == nil {
		return
	}
	m.PlatformEvents.WithLabelValues(kind).Inc()
}

// RPCResponse counts one reply to an incoming RPC.
func (m *Metrics) RPCResponse(status string) {
	if m == nil {
		return
	}
	m.RPCResponses.WithLabelValues(status).Inc()
}

// WatchdogPing counts one connectivity ping and records the escalation index.
func (m *Metrics) WatchdogPing(ok bool, index int) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.WatchdogPings.WithLabelValues(result).Inc()
	m.WatchdogIndex.Set(float64(index))
}

// NetworkInit counts one network initialisation attempt.
func (m *Metrics) NetworkInit(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.NetworkInits.WithLabelValues(result).Inc()
}

// ObserveTick records the duration of one tick.
func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.TickDuration.Observe(d.Seconds())
}
