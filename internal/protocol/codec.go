package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrMalformedPacket = errors.New("malformed packet")
	ErrBadMagic        = fmt.Errorf("%w: bad magic", ErrMalformedPacket)
	ErrUnexpectedType  = fmt.Errorf("%w: unexpected message type", ErrMalformedPacket)
)

func EncodeOffer(udpPort, tcpPort uint16) []byte {
	b := make([]byte, 0, OfferSize)
	b = appendPrefix(b, MsgOffer)
	b = binary.BigEndian.AppendUint16(b, udpPort)
	return binary.BigEndian.AppendUint16(b, tcpPort)
}

func DecodeOffer(b []byte) (Offer, error) {
	if err := checkPrefix(b, MsgOffer); err != nil {
		return Offer{}, err
	}
	if len(b) != OfferSize {
		return Offer{}, fmt.Errorf("%w: offer is %d bytes, want %d", ErrMalformedPacket, len(b), OfferSize)
	}
	return Offer{
		UDPPort: binary.BigEndian.Uint16(b[5:7]),
		TCPPort: binary.BigEndian.Uint16(b[7:9]),
	}, nil
}

func EncodeRequest(size uint64) []byte {
	b := make([]byte, 0, RequestSize)
	b = appendPrefix(b, MsgRequest)
	return binary.BigEndian.AppendUint64(b, size)
}

func DecodeRequest(b []byte) (Request, error) {
	if err := checkPrefix(b, MsgRequest); err != nil {
		return Request{}, err
	}
	if len(b) != RequestSize {
		return Request{}, fmt.Errorf("%w: request is %d bytes, want %d", ErrMalformedPacket, len(b), RequestSize)
	}
	return Request{Size: binary.BigEndian.Uint64(b[5:13])}, nil
}

func EncodeSegment(total, index uint64, body []byte) []byte {
	b := make([]byte, 0, SegmentHeaderSize+len(body))
	b = AppendSegmentHeader(b, total, index)
	return append(b, body...)
}

// AppendSegmentHeader appends only the fixed-size header, letting callers
// reuse one buffer for every datagram of a session.
func AppendSegmentHeader(dst []byte, total, index uint64) []byte {
	dst = appendPrefix(dst, MsgPayload)
	dst = binary.BigEndian.AppendUint64(dst, total)
	return binary.BigEndian.AppendUint64(dst, index)
}

// DecodeSegment returns a Segment whose Body aliases b.
func DecodeSegment(b []byte) (Segment, error) {
	if err := checkPrefix(b, MsgPayload); err != nil {
		return Segment{}, err
	}
	if len(b) < SegmentHeaderSize {
		return Segment{}, fmt.Errorf("%w: segment is %d bytes, header needs %d", ErrMalformedPacket, len(b), SegmentHeaderSize)
	}
	return Segment{
		Total: binary.BigEndian.Uint64(b[5:13]),
		Index: binary.BigEndian.Uint64(b[13:21]),
		Body:  b[SegmentHeaderSize:],
	}, nil
}

// ReadSegmentHeader reads one header from a byte stream. The returned
// Segment has no body; the caller consumes it from r.
func ReadSegmentHeader(r io.Reader) (Segment, error) {
	var hdr [SegmentHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Segment{}, err
	}
	return DecodeSegment(hdr[:])
}

// Decode dispatches on the type byte.
func Decode(b []byte) (Message, error) {
	if len(b) < 5 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedPacket, len(b))
	}
	switch MessageType(b[4]) {
	case MsgOffer:
		return DecodeOffer(b)
	case MsgRequest:
		return DecodeRequest(b)
	case MsgPayload:
		return DecodeSegment(b)
	default:
		if err := checkMagic(b); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %#x", ErrUnexpectedType, b[4])
	}
}

func appendPrefix(dst []byte, t MessageType) []byte {
	dst = binary.BigEndian.AppendUint32(dst, Magic)
	return append(dst, byte(t))
}

func checkMagic(b []byte) error {
	if len(b) < 4 {
		return fmt.Errorf("%w: %d bytes", ErrMalformedPacket, len(b))
	}
	if m := binary.BigEndian.Uint32(b[:4]); m != Magic {
		return fmt.Errorf("%w: %#08x", ErrBadMagic, m)
	}
	return nil
}

func checkPrefix(b []byte, want MessageType) error {
	if err := checkMagic(b); err != nil {
		return err
	}
	if len(b) < 5 {
		return fmt.Errorf("%w: %d bytes", ErrMalformedPacket, len(b))
	}
	if got := MessageType(b[4]); got != want {
		return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedType, got, want)
	}
	return nil
}
