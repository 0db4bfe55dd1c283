// Package discovery implements the offer broadcast of a server and the
// offer wait of a client.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/rudransh-shrivastava/netspeed/internal/protocol"
	"github.com/rudransh-shrivastava/netspeed/internal/transport"
)

const DefaultInterval = time.Second

var limitedBroadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})

type BroadcasterConfig struct {
	// Port offers are sent to.
	Port int

	// Targets overrides the computed broadcast addresses. Entries are
	// hosts or host:port pairs; a bare host uses Port.
	Targets []string

	Interval time.Duration
	Logger   *slog.Logger
}

func DefaultBroadcasterConfig() BroadcasterConfig {
	return BroadcasterConfig{
		Port:     transport.DiscoveryPort,
		Interval: DefaultInterval,
		Logger:   slog.Default(),
	}
}

// Broadcaster periodically advertises a server's ports.
type Broadcaster struct {
	conn     *net.UDPConn
	offer    []byte
	targets  []netip.AddrPort
	interval time.Duration
	logger   *slog.Logger
}

func NewBroadcaster(cfg BroadcasterConfig, offer protocol.Offer) (*Broadcaster, error) {
	d := DefaultBroadcasterConfig()
	if cfg.Port == 0 {
		cfg.Port = d.Port
	}
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.Logger == nil {
		cfg.Logger = d.Logger
	}

	var (
		targets []netip.AddrPort
		err     error
	)
	if len(cfg.Targets) > 0 {
		targets, err = resolveTargets(cfg.Targets, cfg.Port)
	} else {
		targets, err = BroadcastAddrs(cfg.Port)
	}
	if err != nil {
		return nil, err
	}

	// Go enables SO_BROADCAST on every IPv4 datagram socket.
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("opening broadcast socket: %w", err)
	}

	return &Broadcaster{
		conn:     conn,
		offer:    protocol.EncodeOffer(offer.UDPPort, offer.TCPPort),
		targets:  targets,
		interval: cfg.Interval,
		logger:   cfg.Logger,
	}, nil
}

func (b *Broadcaster) Targets() []netip.AddrPort {
	return b.targets
}

func (b *Broadcaster) Close() error {
	return b.conn.Close()
}

// Run sends one offer immediately and then one per interval until ctx is
// done. It closes the socket on return.
func (b *Broadcaster) Run(ctx context.Context) error {
	defer func() { _ = b.conn.Close() }()

	b.logger.Info("Broadcasting offers", "targets", len(b.targets), "interval", b.interval)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		if err := b.broadcast(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *Broadcaster) broadcast() error {
	for _, target := range b.targets {
		_, err := b.conn.WriteToUDPAddrPort(b.offer, target)
		if err == nil {
			continue
		}
		if errors.Is(err, net.ErrClosed) {
			return err
		}
		// Unroutable targets are common on hosts without a default route.
		b.logger.Debug("Failed to send offer", "target", target.String(), "error", err)
	}
	return nil
}

// BroadcastAddrs lists the subnet broadcast address of every up,
// broadcast-capable, non-loopback IPv4 interface, followed by
// 255.255.255.255.
func BroadcastAddrs(port int) ([]netip.AddrPort, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}

	seen := make(map[netip.Addr]bool)
	var out []netip.AddrPort
	add := func(a netip.Addr) {
		if seen[a] {
			return
		}
		seen[a] = true
		out = append(out, netip.AddrPortFrom(a, uint16(port)))
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if bcast, ok := SubnetBroadcast(ipnet); ok {
				add(bcast)
			}
		}
	}
	add(limitedBroadcast)
	return out, nil
}

// SubnetBroadcast returns the directed broadcast address of an IPv4 network.
func SubnetBroadcast(ipnet *net.IPNet) (netip.Addr, bool) {
	ip := ipnet.IP.To4()
	if ip == nil || len(ipnet.Mask) != net.IPv4len {
		return netip.Addr{}, false
	}
	var b [4]byte
	for i := range b {
		b[i] = ip[i] | ^ipnet.Mask[i]
	}
	return netip.AddrFrom4(b), true
}

func resolveTargets(targets []string, port int) ([]netip.AddrPort, error) {
	out := make([]netip.AddrPort, 0, len(targets))
	for _, t := range targets {
		host, p, err := net.SplitHostPort(t)
		if err != nil {
			host, p = t, strconv.Itoa(port)
		}
		addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, p))
		if err != nil {
			return nil, fmt.Errorf("resolving broadcast target %q: %w", t, err)
		}
		ap := addr.AddrPort()
		out = append(out, netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()))
	}
	return out, nil
}
