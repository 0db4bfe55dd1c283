package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
)

// Transport owns the two listening sockets of a server. Their ports are
// fixed for the lifetime of the Transport and advertised in offers.
type Transport struct {
	tcp *net.TCPListener
	udp *PacketConn
}

func NewTransport(cfg Config) (*Transport, error) {
	tcp, err := bind(cfg.TCPPort, func(port uint16) (*net.TCPListener, error) {
		addr, err := net.ResolveTCPAddr("tcp4", hostPort(cfg.Host, port))
		if err != nil {
			return nil, err
		}
		return net.ListenTCP("tcp4", addr)
	})
	if err != nil {
		return nil, fmt.Errorf("binding tcp listener: %w", err)
	}

	udp, err := bind(cfg.UDPPort, func(port uint16) (*net.UDPConn, error) {
		addr, err := net.ResolveUDPAddr("udp4", hostPort(cfg.Host, port))
		if err != nil {
			return nil, err
		}
		return net.ListenUDP("udp4", addr)
	})
	if err != nil {
		_ = tcp.Close()
		return nil, fmt.Errorf("binding udp socket: %w", err)
	}

	if cfg.ReadBuffer > 0 {
		// The kernel may clamp the value; a smaller buffer only raises measured loss.
		_ = udp.SetReadBuffer(cfg.ReadBuffer)
	}

	return &Transport{
		tcp: tcp,
		udp: NewPacketConn(udp),
	}, nil
}

func (t *Transport) Accept() (net.Conn, error) {
	return t.tcp.Accept()
}

func (t *Transport) Packets() *PacketConn {
	return t.udp
}

func (t *Transport) TCPPort() uint16 {
	return uint16(t.tcp.Addr().(*net.TCPAddr).Port)
}

func (t *Transport) UDPPort() uint16 {
	return uint16(t.udp.LocalAddr().(*net.UDPAddr).Port)
}

func (t *Transport) Close() error {
	return errors.Join(t.tcp.Close(), t.udp.Close())
}

// DialTCP opens the connection for one reliable session.
func DialTCP(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: DialTimeout}
	return d.DialContext(ctx, "tcp4", addr)
}

// DialUDP opens a connected UDP socket for one unreliable session, so
// only datagrams from the server reach it.
func DialUDP(ctx context.Context, addr string, readBuffer int) (*net.UDPConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", addr)
	if err != nil {
		return nil, err
	}
	udp := conn.(*net.UDPConn)
	if readBuffer > 0 {
		_ = udp.SetReadBuffer(readBuffer)
	}
	return udp, nil
}

// ListenDiscovery binds the offer port with address reuse so several
// clients on one host can listen at once.
func ListenDiscovery(ctx context.Context, host string, port int) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: reuseControl}
	conn, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	return conn.(*net.UDPConn), nil
}

func bind[L any](port uint16, listen func(uint16) (L, error)) (L, error) {
	if port != 0 {
		return listen(port)
	}

	var (
		l   L
		err error
	)
	for i := 0; i < bindAttempts; i++ {
		l, err = listen(randomPort())
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return l, err
		}
	}
	return l, fmt.Errorf("no free port in %d-%d after %d attempts: %w", PortRangeMin, PortRangeMax, bindAttempts, err)
}

func hostPort(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}
