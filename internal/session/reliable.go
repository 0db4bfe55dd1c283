package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rudransh-shrivastava/netspeed/internal/protocol"
	"github.com/rudransh-shrivastava/netspeed/internal/stats"
	"github.com/rudransh-shrivastava/netspeed/internal/transport"
)

// RunReliable requests size bytes over one TCP connection to addr and
// reads them back. The returned Result carries any failure in Err.
func RunReliable(ctx context.Context, addr string, size uint64, cfg Config) Result {
	cfg = cfg.withDefaults()
	res := Result{Kind: KindReliable, Requested: size}

	conn, err := transport.DialTCP(ctx, addr)
	if err != nil {
		res.Err = fmt.Errorf("connecting to %s: %w", addr, err)
		return res
	}
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c := stats.Counters{Start: time.Now()}

	_ = conn.SetWriteDeadline(time.Now().Add(cfg.IOTimeout))
	if _, err := conn.Write(protocol.EncodeRequest(size)); err != nil {
		res.Err = fmt.Errorf("sending request: %w", err)
		return res
	}

	err = receiveReliable(&deadlineReader{conn: conn, timeout: cfg.IOTimeout}, size, &c)
	c.End = time.Now()
	if err != nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	res.Elapsed = c.Elapsed()
	res.Bytes = c.Bytes
	res.Segments = c.Segments
	res.TotalSegments = c.TotalSegments
	res.LossPercent = c.LossPercent()
	res.Err = err
	if err == nil {
		res.Throughput = c.Throughput()
	}
	return res
}

// receiveReliable consumes one header announcing a single segment and then
// exactly size body bytes.
func receiveReliable(r io.Reader, size uint64, c *stats.Counters) error {
	hdr, err := protocol.ReadSegmentHeader(r)
	if err != nil {
		return classifyReadErr(err, "reading segment header")
	}

	if hdr.Index != 1 {
		return fmt.Errorf("%w: got index %d, want 1", ErrOutOfOrderSegment, hdr.Index)
	}
	if hdr.Total != 1 {
		return fmt.Errorf("%w: stream announces %d segments", ErrProtocolViolation, hdr.Total)
	}
	c.TotalSegments = hdr.Total

	n, err := io.Copy(io.Discard, io.LimitReader(r, int64(size)))
	c.Bytes = uint64(n)
	if err != nil {
		return classifyReadErr(err, "reading body")
	}
	if c.Bytes < size {
		return fmt.Errorf("%w: got %d of %d bytes", ErrIncompleteTransfer, c.Bytes, size)
	}
	c.Segments = 1
	return nil
}

func classifyReadErr(err error, op string) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %s: connection closed", ErrIncompleteTransfer, op)
	case errors.Is(err, protocol.ErrMalformedPacket):
		return fmt.Errorf("%w: %s: %w", ErrProtocolViolation, op, err)
	case isTimeout(err):
		return fmt.Errorf("%w: %s", ErrTimeout, op)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// ServeReliable answers one accepted connection: it reads a single request
// and streams the requested number of bytes back. It returns the body bytes
// written.
func ServeReliable(conn net.Conn, cfg Config) (uint64, error) {
	cfg = cfg.withDefaults()

	_ = conn.SetReadDeadline(time.Now().Add(cfg.IOTimeout))
	var buf [protocol.RequestSize]byte
	if _, err := io.ReadFull(conn, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: reading request: %w", ErrProtocolViolation, err)
	}
	req, err := protocol.DecodeRequest(buf[:])
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}

	w := &deadlineWriter{conn: conn, timeout: cfg.IOTimeout}
	if _, err := w.Write(protocol.AppendSegmentHeader(nil, 1, 1)); err != nil {
		return 0, fmt.Errorf("writing segment header: %w", err)
	}

	var sent uint64
	for sent < req.Size {
		chunk := filler[:min(req.Size-sent, uint64(len(filler)))]
		n, err := w.Write(chunk)
		sent += uint64(n)
		if err != nil {
			return sent, fmt.Errorf("writing body after %d of %d bytes: %w", sent, req.Size, err)
		}
	}
	return sent, nil
}

// deadlineReader pushes the read deadline forward before every read, so
// the timeout bounds silence rather than the whole transfer.
type deadlineReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r *deadlineReader) Read(p []byte) (int, error) {
	_ = r.conn.SetReadDeadline(time.Now().Add(r.timeout))
	return r.conn.Read(p)
}

type deadlineWriter struct {
	conn    net.Conn
	timeout time.Duration
}

func (w *deadlineWriter) Write(p []byte) (int, error) {
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	return w.conn.Write(p)
}
