package transport

import (
	"math/rand/v2"
	"time"
)

const (
	// DiscoveryPort is the well-known port offers are broadcast to.
	DiscoveryPort = 13117

	// Ports drawn at server startup come from the IANA dynamic range.
	PortRangeMin = 49152
	PortRangeMax = 65535

	bindAttempts = 32
)

type Config struct {
	// Host to bind; empty means all interfaces.
	Host string

	// TCPPort and UDPPort of zero are drawn once from
	// [PortRangeMin, PortRangeMax].
	TCPPort uint16
	UDPPort uint16

	// ReadBuffer sets SO_RCVBUF on the UDP socket when non-zero.
	ReadBuffer int
}

func DefaultConfig() Config {
	return Config{
		ReadBuffer: 4 << 20,
	}
}

// PickPort draws a port from the dynamic range using randFn(n) in [0, n).
func PickPort(randFn func(n int) int) uint16 {
	return uint16(PortRangeMin + randFn(PortRangeMax-PortRangeMin+1))
}

func randomPort() uint16 {
	return PickPort(rand.IntN)
}

// DialTimeout bounds connection setup for reliable sessions.
const DialTimeout = 5 * time.Second
