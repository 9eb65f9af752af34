package bridge

import (
	"io"

	"github.com/VictoriaMetrics/metrics"

	"github.com/pg9182/adbkit/pkg/metricsx"
)

// Metrics tracks packet and service activity across every Socket sharing
// it. A nil *Metrics is safe to use: every method is a no-op.
type Metrics struct {
	set *metrics.Set

	connections_total struct {
		accepted  *metrics.Counter
		auth_fail *metrics.Counter
	}
	packets_total struct {
		rx, tx func(command string) *metrics.Counter
	}
	bytes_total struct {
		rx, tx *metrics.Counter
	}
	services_opened_total *metrics.Counter
	services_failed_total *metrics.Counter
}

// NewMetrics creates a Metrics instance. Register its WritePrometheus
// output wherever the process exposes a /metrics endpoint.
func NewMetrics() *Metrics {
	m := &Metrics{set: metrics.NewSet()}
	m.connections_total.accepted = m.set.NewCounter(`adbkit_bridge_connections_total{result="accepted"}`)
	m.connections_total.auth_fail = m.set.NewCounter(`adbkit_bridge_connections_total{result="auth_fail"}`)
	m.packets_total.rx = func(command string) *metrics.Counter {
		return m.set.GetOrCreateCounter(metricsx.WithLabel(`adbkit_bridge_packets_total{direction="rx"}`, "command", command))
	}
	m.packets_total.tx = func(command string) *metrics.Counter {
		return m.set.GetOrCreateCounter(metricsx.WithLabel(`adbkit_bridge_packets_total{direction="tx"}`, "command", command))
	}
	m.bytes_total.rx = m.set.NewCounter(`adbkit_bridge_bytes_total{direction="rx"}`)
	m.bytes_total.tx = m.set.NewCounter(`adbkit_bridge_bytes_total{direction="tx"}`)
	m.services_opened_total = m.set.NewCounter(`adbkit_bridge_services_opened_total`)
	m.services_failed_total = m.set.NewCounter(`adbkit_bridge_services_failed_total`)
	return m
}

// WritePrometheus writes m's counters in Prometheus text exposition format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	if m == nil {
		return
	}
	m.set.WritePrometheus(w)
}

func (m *Metrics) connectionAccepted() {
	if m == nil {
		return
	}
	m.connections_total.accepted.Inc()
}

func (m *Metrics) authFailed() {
	if m == nil {
		return
	}
	m.connections_total.auth_fail.Inc()
}

func (m *Metrics) packetReceived(p *Packet) {
	if m == nil {
		return
	}
	m.packets_total.rx(p.CommandName()).Inc()
	m.bytes_total.rx.Add(HeaderSize + len(p.Data))
}

func (m *Metrics) packetSent(command uint32, dataLen int) {
	if m == nil {
		return
	}
	m.packets_total.tx((&Packet{Command: command}).CommandName()).Inc()
	m.bytes_total.tx.Add(HeaderSize + dataLen)
}

func (m *Metrics) serviceOpened() {
	if m == nil {
		return
	}
	m.services_opened_total.Inc()
}

func (m *Metrics) serviceFailed() {
	if m == nil {
		return
	}
	m.services_failed_total.Inc()
}
