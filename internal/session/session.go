// Package session implements the reliable (TCP) and unreliable (UDP)
// transfer sessions on both the client and the server side.
package session

import (
	"bytes"
	"errors"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/rudransh-shrivastava/netspeed/internal/protocol"
)

var (
	ErrProtocolViolation  = errors.New("protocol violation")
	ErrOutOfOrderSegment  = errors.New("out of order segment")
	ErrIncompleteTransfer = errors.New("incomplete transfer")
	ErrTimeout            = errors.New("timeout")
)

const (
	DefaultIdleTimeout = time.Second
	DefaultIOTimeout   = 30 * time.Second

	recvBufferSize = 64 << 10
	maxSegmentBody = protocol.MaxSegmentBody
)

// filler is the body content of every payload. It is never written to.
var filler = bytes.Repeat([]byte{'a'}, 64<<10)

type Kind uint8

const (
	KindReliable Kind = iota + 1
	KindUnreliable
)

func (k Kind) String() string {
	switch k {
	case KindReliable:
		return "reliable"
	case KindUnreliable:
		return "unreliable"
	default:
		return "unknown"
	}
}

// Transport names the socket type carrying the session.
func (k Kind) Transport() string {
	switch k {
	case KindReliable:
		return "TCP"
	case KindUnreliable:
		return "UDP"
	default:
		return "?"
	}
}

type Config struct {
	// IdleTimeout ends an unreliable client session after this much silence.
	IdleTimeout time.Duration

	// IOTimeout bounds every read and write of a reliable session.
	IOTimeout time.Duration

	// SegmentBody is the number of body bytes per unreliable datagram.
	SegmentBody int

	// ReadBuffer sets SO_RCVBUF on client UDP sockets when non-zero.
	ReadBuffer int

	Logger *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		IdleTimeout: DefaultIdleTimeout,
		IOTimeout:   DefaultIOTimeout,
		SegmentBody: maxSegmentBody,
		ReadBuffer:  4 << 20,
		Logger:      slog.Default(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = d.IOTimeout
	}
	if c.SegmentBody <= 0 || c.SegmentBody > maxSegmentBody {
		c.SegmentBody = d.SegmentBody
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	return c
}

// Result is the completion record of one client session.
type Result struct {
	ID        int
	RunID     string
	Kind      Kind
	Requested uint64

	Elapsed    time.Duration
	Bytes      uint64
	Throughput float64

	// Segments counts distinct accepted segments out of TotalSegments.
	Segments      uint64
	TotalSegments uint64
	LossPercent   float64

	// Unreliable sessions only. Missing is TotalSegments less Segments.
	Missing    uint64
	Received   uint64
	Duplicates uint64
	Reordered  uint64
	Unexpected uint64

	Err error
}

func (r Result) OK() bool {
	return r.Err == nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
