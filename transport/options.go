package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/luma/respwire/storage"
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on. Zero picks a free port, see TCP.Addr.
	Port int

	// Reuseport controls setting SO_REUSEPORT, which lets several listeners share the port.
	// TODO(rolly) this https://blog.cloudflare.com/graceful-upgrades-in-go/
	Reuseport bool

	// Trace will log every frame read at debug level. This is only useful in local debugging
	Trace bool

	NumListeners int

	// MaxFrameSize bounds a single request frame. Defaults to DefaultMaxFrameSize.
	MaxFrameSize int

	Store storage.Store

	// Registerer receives the server metrics. Defaults to a private registry.
	Registerer prometheus.Registerer

	Log *zap.Logger
}
