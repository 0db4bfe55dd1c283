package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/rudransh-shrivastava/netspeed/internal/protocol"
	"github.com/rudransh-shrivastava/netspeed/internal/stats"
	"github.com/rudransh-shrivastava/netspeed/internal/transport"
)

// indexPageBits is the number of segment indices tracked per bitset page.
const indexPageBits = 1 << 10

// indexSet holds segment indices as fixed-size bitset pages, so memory
// follows the indices actually received rather than the largest one.
type indexSet map[uint64]*bitset.BitSet

// add reports whether i was newly added.
func (s indexSet) add(i uint64) bool {
	page, bit := i/indexPageBits, uint(i%indexPageBits)
	b, ok := s[page]
	if !ok {
		b = bitset.New(indexPageBits)
		s[page] = b
	}
	if b.Test(bit) {
		return false
	}
	b.Set(bit)
	return true
}

// Receiver does the loss accounting of one unreliable session. A segment
// counts as accepted the first time its index is seen, in any order.
type Receiver struct {
	requested uint64
	total     uint64
	body      uint64
	highest   uint64
	seen      indexSet

	Received   uint64
	Accepted   uint64
	Duplicates uint64
	Reordered  uint64
	Unexpected uint64
	Bytes      uint64

	Last time.Time
}

func NewReceiver(requested uint64) *Receiver {
	return &Receiver{
		requested: requested,
		seen:      indexSet{},
	}
}

// Handle accounts for one datagram and reports whether it was accepted.
func (r *Receiver) Handle(datagram []byte, at time.Time) bool {
	seg, err := protocol.DecodeSegment(datagram)
	if err != nil {
		r.Unexpected++
		return false
	}
	body, ok := r.plausible(seg)
	if !ok {
		r.Unexpected++
		return false
	}
	if r.total == 0 {
		r.total = seg.Total
	}
	if r.body == 0 {
		r.body = body
	}

	r.Received++
	r.Last = at

	if !r.seen.add(seg.Index) {
		r.Duplicates++
		return false
	}
	r.Accepted++
	r.Bytes += uint64(len(seg.Body))

	if seg.Index < r.highest {
		r.Reordered++
	} else {
		r.highest = seg.Index
	}
	return true
}

// plausible rejects headers that contradict the session: a zero or
// out-of-range index, a total that changed mid-session, or a geometry the
// server cannot produce for the requested size. Every segment but the last
// carries the same body length b and Total is ceil(requested/b). It returns
// the b implied by seg, zero when the request size is unknown.
func (r *Receiver) plausible(seg protocol.Segment) (uint64, bool) {
	if seg.Total == 0 || seg.Index == 0 || seg.Index > seg.Total {
		return 0, false
	}
	if r.total != 0 && seg.Total != r.total {
		return 0, false
	}
	if r.requested == 0 {
		return 0, true
	}

	n := uint64(len(seg.Body))
	if n == 0 || n > r.requested || seg.Total > r.requested {
		return 0, false
	}

	body := n
	if seg.Index == seg.Total && seg.Total > 1 {
		// The last segment carries the remainder: requested = (Total-1)*b + n.
		rest := r.requested - n
		if rest%(seg.Total-1) != 0 {
			return 0, false
		}
		body = rest / (seg.Total - 1)
		if body < n {
			return 0, false
		}
	}

	if r.body != 0 {
		return body, body == r.body
	}
	return body, r.requested/body+min(r.requested%body, 1) == seg.Total
}

// Total is the segment count advertised by the first valid segment.
func (r *Receiver) Total() uint64 {
	return r.total
}

func (r *Receiver) LossPercent() float64 {
	return stats.LossPercent(r.Accepted, r.total)
}

// RunUnreliable sends one request datagram to addr and receives segments
// until no datagram arrives for cfg.IdleTimeout.
func RunUnreliable(ctx context.Context, addr string, size uint64, cfg Config) Result {
	cfg = cfg.withDefaults()
	res := Result{Kind: KindUnreliable, Requested: size, LossPercent: 100}

	conn, err := transport.DialUDP(ctx, addr, cfg.ReadBuffer)
	if err != nil {
		res.Err = fmt.Errorf("opening socket to %s: %w", addr, err)
		return res
	}
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	start := time.Now()
	if _, err := conn.Write(protocol.EncodeRequest(size)); err != nil {
		res.Err = fmt.Errorf("sending request: %w", err)
		return res
	}

	rcv := NewReceiver(size)
	res.Err = receiveUnreliable(conn, rcv, cfg.IdleTimeout)
	if res.Err != nil && ctx.Err() != nil {
		res.Err = ctx.Err()
	}

	end := rcv.Last
	if rcv.Accepted == 0 {
		end = time.Now()
	}
	c := stats.Counters{
		Start:         start,
		End:           end,
		Bytes:         rcv.Bytes,
		Segments:      rcv.Accepted,
		TotalSegments: rcv.Total(),
	}

	res.Elapsed = c.Elapsed()
	res.Bytes = c.Bytes
	res.Throughput = c.Throughput()
	res.Segments = c.Segments
	res.TotalSegments = c.TotalSegments
	res.LossPercent = c.LossPercent()
	res.Missing = c.Missing()
	res.Received = rcv.Received
	res.Duplicates = rcv.Duplicates
	res.Reordered = rcv.Reordered
	res.Unexpected = rcv.Unexpected
	return res
}

// receiveUnreliable returns nil when the idle window elapses, which is the
// normal end of an unreliable session.
func receiveUnreliable(conn net.Conn, rcv *Receiver, idle time.Duration) error {
	buf := make([]byte, recvBufferSize)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		n, err := conn.Read(buf)
		if err != nil {
			if isTimeout(err) {
				return nil
			}
			return fmt.Errorf("receiving segments: %w", err)
		}
		rcv.Handle(buf[:n], time.Now())
	}
}

// PacketWriter is the send side of a shared datagram socket.
type PacketWriter interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}

// ServeUnreliable emits ceil(size/cfg.SegmentBody) segments to addr without
// waiting for acknowledgement. It returns the number of segments written.
func ServeUnreliable(ctx context.Context, w PacketWriter, addr net.Addr, size uint64, cfg Config) (uint64, error) {
	cfg = cfg.withDefaults()

	total := stats.SegmentCount(size, cfg.SegmentBody)
	buf := make([]byte, 0, protocol.SegmentHeaderSize+cfg.SegmentBody)
	remaining := size

	var sent uint64
	for index := uint64(1); index <= total; index++ {
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		n := min(remaining, uint64(cfg.SegmentBody))
		buf = protocol.AppendSegmentHeader(buf[:0], total, index)
		buf = append(buf, filler[:n]...)
		remaining -= n

		if _, err := w.WriteTo(buf, addr); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return sent, err
			}
			// A full send queue drops the datagram; the receiver counts it as lost.
			cfg.Logger.Debug("Dropped segment on send", "peer", addr.String(), "index", index, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}
