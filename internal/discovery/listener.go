package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/rudransh-shrivastava/netspeed/internal/protocol"
	"github.com/rudransh-shrivastava/netspeed/internal/transport"
	"golang.org/x/net/ipv4"
)

const (
	// pollInterval bounds each blocking read so cancellation is noticed.
	pollInterval = 200 * time.Millisecond

	errorBackoff = 50 * time.Millisecond
)

type ListenerConfig struct {
	// Host to bind; empty accepts broadcasts on all interfaces.
	Host   string
	Port   int
	Logger *slog.Logger
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		Port:   transport.DiscoveryPort,
		Logger: slog.Default(),
	}
}

// Listener waits for offers on the discovery port.
type Listener struct {
	conn   *net.UDPConn
	pc     *ipv4.PacketConn
	cm     bool
	logger *slog.Logger
}

func Listen(ctx context.Context, cfg ListenerConfig) (*Listener, error) {
	if cfg.Port == 0 {
		cfg.Port = transport.DiscoveryPort
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	conn, err := transport.ListenDiscovery(ctx, cfg.Host, cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("binding discovery port %d: %w", cfg.Port, err)
	}

	pc := ipv4.NewPacketConn(conn)
	cm := pc.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true) == nil

	return &Listener{
		conn:   conn,
		pc:     pc,
		cm:     cm,
		logger: cfg.Logger,
	}, nil
}

func (l *Listener) Port() int {
	return l.conn.LocalAddr().(*net.UDPAddr).Port
}

func (l *Listener) Close() error {
	return l.conn.Close()
}

// Wait blocks until a valid offer arrives and returns the endpoint it
// advertises. Anything else received on the port is discarded.
func (l *Listener) Wait(ctx context.Context) (protocol.Endpoint, error) {
	return l.next(ctx, time.Time{})
}

// Collect waits for a first offer and then keeps listening for window,
// returning every distinct server in the order first seen.
func (l *Listener) Collect(ctx context.Context, window time.Duration) ([]protocol.Endpoint, error) {
	first, err := l.Wait(ctx)
	if err != nil {
		return nil, err
	}

	found := []protocol.Endpoint{first}
	seen := map[protocol.Endpoint]bool{first: true}
	deadline := time.Now().Add(window)

	for {
		ep, err := l.next(ctx, deadline)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errDeadline(err) {
				return found, nil
			}
			return found, err
		}
		if seen[ep] {
			continue
		}
		seen[ep] = true
		found = append(found, ep)
		l.logger.Debug("Discovered additional server", "server", ep.String())
	}
}

// next returns the next valid offer, or an error once ctx is done or the
// optional deadline passes.
func (l *Listener) next(ctx context.Context, deadline time.Time) (protocol.Endpoint, error) {
	buf := make([]byte, 64)
	for {
		if err := ctx.Err(); err != nil {
			return protocol.Endpoint{}, err
		}

		poll := time.Now().Add(pollInterval)
		if !deadline.IsZero() {
			if !time.Now().Before(deadline) {
				return protocol.Endpoint{}, errDeadlinePassed
			}
			if deadline.Before(poll) {
				poll = deadline
			}
		}
		_ = l.pc.SetReadDeadline(poll)

		n, cm, src, err := l.pc.ReadFrom(buf)
		if err != nil {
			if errDeadline(err) {
				continue
			}
			if ctx.Err() != nil {
				return protocol.Endpoint{}, ctx.Err()
			}
			if isClosed(err) {
				return protocol.Endpoint{}, err
			}
			l.logger.Debug("Discovery read failed", "error", err)
			time.Sleep(errorBackoff)
			continue
		}

		offer, err := protocol.DecodeOffer(buf[:n])
		if err != nil {
			continue
		}
		addr, ok := sourceAddr(src)
		if !ok {
			continue
		}

		ep := offer.Endpoint(addr)
		attrs := []any{"server", ep.String()}
		if l.cm && cm != nil {
			attrs = append(attrs, "dst", cm.Dst.String(), "ifindex", cm.IfIndex)
		}
		l.logger.Debug("Received offer", attrs...)
		return ep, nil
	}
}

func sourceAddr(src net.Addr) (netip.Addr, bool) {
	udp, ok := src.(*net.UDPAddr)
	if !ok {
		return netip.Addr{}, false
	}
	addr, ok := netip.AddrFromSlice(udp.IP)
	if !ok {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
