package transport

import (
	"net"
	"sync"
	"time"
)

// PacketConn is a UDP socket shared by every unreliable session handler.
// Writes are serialized; reads are left to the single receive loop.
type PacketConn struct {
	conn *net.UDPConn
	mu   sync.Mutex
}

func NewPacketConn(conn *net.UDPConn) *PacketConn {
	return &PacketConn{conn: conn}
}

func (p *PacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteTo(b, addr)
}

func (p *PacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	return p.conn.ReadFrom(b)
}

func (p *PacketConn) SetReadDeadline(t time.Time) error {
	return p.conn.SetReadDeadline(t)
}

func (p *PacketConn) LocalAddr() net.Addr {
	return p.conn.LocalAddr()
}

func (p *PacketConn) Close() error {
	return p.conn.Close()
}
