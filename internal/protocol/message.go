package protocol

import (
	"net"
	"net/netip"
	"strconv"
)

type Message interface {
	Type() MessageType
}

// Offer advertises the ports a server is listening on.
type Offer struct {
	UDPPort uint16
	TCPPort uint16
}

func (Offer) Type() MessageType { return MsgOffer }

// Endpoint binds the offer to the address it was broadcast from.
func (o Offer) Endpoint(addr netip.Addr) Endpoint {
	return Endpoint{Addr: addr.Unmap(), UDPPort: o.UDPPort, TCPPort: o.TCPPort}
}

type Request struct {
	Size uint64
}

func (Request) Type() MessageType { return MsgRequest }

// Segment is one payload unit. Index is 1-based.
type Segment struct {
	Total uint64
	Index uint64
	Body  []byte
}

func (Segment) Type() MessageType { return MsgPayload }

// Endpoint identifies a discovered server.
type Endpoint struct {
	Addr    netip.Addr
	UDPPort uint16
	TCPPort uint16
}

func (e Endpoint) TCPAddr() string {
	return net.JoinHostPort(e.Addr.String(), strconv.Itoa(int(e.TCPPort)))
}

func (e Endpoint) UDPAddr() string {
	return net.JoinHostPort(e.Addr.String(), strconv.Itoa(int(e.UDPPort)))
}

func (e Endpoint) String() string {
	return e.Addr.String() + " (tcp " + strconv.Itoa(int(e.TCPPort)) + ", udp " + strconv.Itoa(int(e.UDPPort)) + ")"
}
