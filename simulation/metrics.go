package simulation

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts control plane activity. It keeps its own registry so
// several simulators can live in one process.
type Metrics struct {
	Registry  *prometheus.Registry
	forwarded *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	commands  *prometheus.CounterVec
	crashes   prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		forwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_forwarded_total",
			Help:      "Packets forwarded by drones",
		}, []string{"node", "kind"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Packets dropped by drones",
		}, []string{"node", "kind", "reason"}),
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands sent by the controller",
		}, []string{"command"}),
		crashes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crashes_total",
			Help:      "Nodes crashed by the controller",
		}),
	}
}

func (m *Metrics) Observe(ev Event) {
	node := strconv.Itoa(int(ev.Node))
	switch ev.Kind {
	case PacketForwarded:
		m.forwarded.WithLabelValues(node, ev.PacketKind.String()).Inc()
	case PacketDropped:
		m.dropped.WithLabelValues(node, ev.PacketKind.String(), ev.Reason).Inc()
	}
}

func (m *Metrics) command(cmd Command) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(cmd.commandName()).Inc()
}

func (m *Metrics) crashed() {
	if m == nil {
		return
	}
	m.crashes.Inc()
}
