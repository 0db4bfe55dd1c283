package server

import (
	"log/slog"
	"time"

	"github.com/rudransh-shrivastava/netspeed/internal/discovery"
	"github.com/rudransh-shrivastava/netspeed/internal/session"
	"github.com/rudransh-shrivastava/netspeed/internal/transport"
)

type Config struct {
	Transport transport.Config

	// DiscoveryPort is where offers are sent.
	DiscoveryPort int

	// BroadcastTargets overrides the computed broadcast addresses.
	BroadcastTargets []string

	OfferInterval time.Duration

	// DisableOffers runs the server without the broadcaster, for clients
	// that connect directly.
	DisableOffers bool

	Session session.Config
	Logger  *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		Transport:     transport.DefaultConfig(),
		DiscoveryPort: transport.DiscoveryPort,
		OfferInterval: discovery.DefaultInterval,
		Session:       session.DefaultConfig(),
		Logger:        slog.Default(),
	}
}
