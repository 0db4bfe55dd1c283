package integration

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/netspeed/internal/client"
	"github.com/rudransh-shrivastava/netspeed/internal/discovery"
	"github.com/rudransh-shrivastava/netspeed/internal/logger"
	"github.com/rudransh-shrivastava/netspeed/internal/server"
	"github.com/rudransh-shrivastava/netspeed/internal/session"
	"github.com/rudransh-shrivastava/netspeed/internal/transport"
)

// Network is one server broadcasting offers to a private discovery port on
// loopback, plus the clients created against it.
type Network struct {
	server        *server.Server
	discoveryPort int
	serverErr     chan error
	cancel        context.CancelFunc
	ctx           context.Context
	t             *testing.T
}

func NewNetwork(t *testing.T) *Network {
	t.Helper()

	port := freeUDPPort(t)

	srv, err := server.New(server.Config{
		Transport:        transport.Config{Host: "127.0.0.1"},
		DiscoveryPort:    port,
		BroadcastTargets: []string{"127.0.0.1"},
		OfferInterval:    100 * time.Millisecond,
		Logger:           logger.NewLogger(nil),
	})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	n := &Network{
		server:        srv,
		discoveryPort: port,
		serverErr:     make(chan error, 1),
		cancel:        cancel,
		ctx:           ctx,
		t:             t,
	}
	go func() {
		n.serverErr <- srv.Start(ctx)
	}()

	return n
}

func (n *Network) NewClient() *client.Client {
	n.t.Helper()

	cfg := client.DefaultConfig()
	cfg.Logger = logger.NewLogger(nil)
	cfg.Discovery = discovery.ListenerConfig{Host: "127.0.0.1", Port: n.discoveryPort}
	cfg.Session = session.DefaultConfig()
	cfg.Session.IdleTimeout = 300 * time.Millisecond

	return client.New(cfg)
}

func (n *Network) Server() *server.Server {
	return n.server
}

func (n *Network) Context() context.Context {
	return n.ctx
}

func (n *Network) Close() {
	n.cancel()
	select {
	case err := <-n.serverErr:
		if err != nil && err != context.Canceled {
			n.t.Errorf("Server error: %v", err)
		}
	case <-time.After(5 * time.Second):
		n.t.Error("Server did not shutdown in time")
	}
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	defer func() { _ = conn.Close() }()
	return conn.LocalAddr().(*net.UDPAddr).Port
}
