package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

// Metrics are the counters a TCP server keeps about the traffic it serves.
type Metrics struct {
	FramesRead        prometheus.Counter
	BytesRead         prometheus.Counter
	ProtocolErrors    prometheus.Counter
	ActiveConnections prometheus.Gauge
	Commands          *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		FramesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "respwire",
			Name:      "frames_read_total",
			Help:      "Request frames read from clients.",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "respwire",
			Name:      "bytes_read_total",
			Help:      "Bytes read from clients.",
		}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "respwire",
			Name:      "protocol_errors_total",
			Help:      "Connections closed because of malformed or invalid frames.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "respwire",
			Name:      "active_connections",
			Help:      "Client connections currently open.",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "respwire",
			Name:      "commands_total",
			Help:      "Commands served, by command name.",
		}, []string{"command"}),
	}

	err := multierr.Combine(
		reg.Register(m.FramesRead),
		reg.Register(m.BytesRead),
		reg.Register(m.ProtocolErrors),
		reg.Register(m.ActiveConnections),
		reg.Register(m.Commands),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
