package protocol

import (
	"bytes"
	"errors"
	"net/netip"
	"testing"
)

func TestCodecOffer(t *testing.T) {
	data := EncodeOffer(13117, 2115)
	if len(data) != OfferSize {
		t.Fatalf("Expected %d bytes, got %d", OfferSize, len(data))
	}

	want := []byte{0xAB, 0xCD, 0xDC, 0xBA, 0x02, 0x33, 0x3D, 0x08, 0x43}
	if !bytes.Equal(data, want) {
		t.Errorf("Wire layout mismatch: got %x, want %x", data, want)
	}

	offer, err := DecodeOffer(data)
	if err != nil {
		t.Fatalf("DecodeOffer failed: %v", err)
	}
	if offer.UDPPort != 13117 || offer.TCPPort != 2115 {
		t.Errorf("Expected ports 13117/2115, got %d/%d", offer.UDPPort, offer.TCPPort)
	}
}

func TestCodecOfferWrongLength(t *testing.T) {
	data := append(EncodeOffer(1, 2), 0x00)

	_, err := DecodeOffer(data)
	if !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("Expected ErrMalformedPacket, got %v", err)
	}

	_, err = DecodeOffer(data[:OfferSize-1])
	if !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("Expected ErrMalformedPacket for short offer, got %v", err)
	}
}

func TestCodecRequest(t *testing.T) {
	data := EncodeRequest(1 << 40)
	if len(data) != RequestSize {
		t.Fatalf("Expected %d bytes, got %d", RequestSize, len(data))
	}

	req, err := DecodeRequest(data)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if req.Size != 1<<40 {
		t.Errorf("Expected size %d, got %d", uint64(1<<40), req.Size)
	}
}

func TestCodecSegmentRoundTrip(t *testing.T) {
	cases := []struct {
		total, index uint64
		body         []byte
	}{
		{1, 1, nil},
		{10, 3, []byte("abc")},
		{1 << 40, 1<<40 - 1, bytes.Repeat([]byte{'a'}, MaxSegmentBody)},
	}

	for _, c := range cases {
		seg, err := DecodeSegment(EncodeSegment(c.total, c.index, c.body))
		if err != nil {
			t.Fatalf("DecodeSegment(%d, %d) failed: %v", c.total, c.index, err)
		}
		if seg.Total != c.total || seg.Index != c.index {
			t.Errorf("Expected %d/%d, got %d/%d", c.index, c.total, seg.Index, seg.Total)
		}
		if !bytes.Equal(seg.Body, c.body) {
			t.Errorf("Body mismatch for segment %d", c.index)
		}
	}
}

func TestCodecSegmentFitsDatagram(t *testing.T) {
	data := EncodeSegment(1, 1, make([]byte, MaxSegmentBody))
	if len(data) != MaxDatagramSize {
		t.Errorf("Expected %d bytes, got %d", MaxDatagramSize, len(data))
	}
}

func TestCodecSegmentShortHeader(t *testing.T) {
	data := EncodeSegment(2, 1, nil)

	_, err := DecodeSegment(data[:SegmentHeaderSize-1])
	if !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("Expected ErrMalformedPacket, got %v", err)
	}
}

func TestReadSegmentHeader(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(AppendSegmentHeader(nil, 1, 1))
	buf.WriteString("payload")

	seg, err := ReadSegmentHeader(&buf)
	if err != nil {
		t.Fatalf("ReadSegmentHeader failed: %v", err)
	}
	if seg.Total != 1 || seg.Index != 1 || len(seg.Body) != 0 {
		t.Errorf("Unexpected header: %+v", seg)
	}
	if buf.String() != "payload" {
		t.Errorf("Expected body to remain unread, got %q", buf.String())
	}
}

func TestCodecMagicRejection(t *testing.T) {
	buffers := map[string][]byte{
		"offer":   EncodeOffer(1, 2),
		"request": EncodeRequest(3),
		"segment": EncodeSegment(4, 1, []byte("body")),
	}

	for name, data := range buffers {
		corrupt := bytes.Clone(data)
		corrupt[3] ^= 0xFF

		decoders := map[string]func([]byte) error{
			"DecodeOffer":   func(b []byte) error { _, err := DecodeOffer(b); return err },
			"DecodeRequest": func(b []byte) error { _, err := DecodeRequest(b); return err },
			"DecodeSegment": func(b []byte) error { _, err := DecodeSegment(b); return err },
			"Decode":        func(b []byte) error { _, err := Decode(b); return err },
		}
		for decoder, decode := range decoders {
			err := decode(corrupt)
			if !errors.Is(err, ErrBadMagic) {
				t.Errorf("%s(%s with bad magic): expected ErrBadMagic, got %v", decoder, name, err)
			}
			if !errors.Is(err, ErrMalformedPacket) {
				t.Errorf("%s(%s with bad magic): expected ErrMalformedPacket, got %v", decoder, name, err)
			}
		}
	}
}

func TestCodecTypeMismatch(t *testing.T) {
	_, err := DecodeOffer(EncodeRequest(42)[:OfferSize])
	if !errors.Is(err, ErrUnexpectedType) {
		t.Errorf("Expected ErrUnexpectedType, got %v", err)
	}

	_, err = DecodeRequest(EncodeSegment(1, 1, nil)[:RequestSize])
	if !errors.Is(err, ErrUnexpectedType) {
		t.Errorf("Expected ErrUnexpectedType, got %v", err)
	}
}

func TestDecodeDispatch(t *testing.T) {
	msg, err := Decode(EncodeOffer(10, 20))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Type() != MsgOffer {
		t.Errorf("Expected OFFER, got %s", msg.Type())
	}

	msg, err = Decode(EncodeRequest(5))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if req, ok := msg.(Request); !ok || req.Size != 5 {
		t.Errorf("Expected Request{5}, got %#v", msg)
	}

	unknown := EncodeOffer(1, 1)
	unknown[4] = 0x7F
	if _, err := Decode(unknown); !errors.Is(err, ErrUnexpectedType) {
		t.Errorf("Expected ErrUnexpectedType, got %v", err)
	}

	if _, err := Decode([]byte{0xAB}); !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("Expected ErrMalformedPacket, got %v", err)
	}
}

func TestMessageTypeString(t *testing.T) {
	if MsgPayload.String() != "PAYLOAD" {
		t.Errorf("Expected PAYLOAD, got %s", MsgPayload.String())
	}
	if MessageType(9).String() != "UNKNOWN" {
		t.Errorf("Expected UNKNOWN, got %s", MessageType(9).String())
	}
}

func TestEndpointAddrs(t *testing.T) {
	ep := Offer{UDPPort: 50001, TCPPort: 50002}.Endpoint(netip.MustParseAddr("::ffff:192.168.1.7"))

	if ep.TCPAddr() != "192.168.1.7:50002" {
		t.Errorf("Unexpected TCP addr %s", ep.TCPAddr())
	}
	if ep.UDPAddr() != "192.168.1.7:50001" {
		t.Errorf("Unexpected UDP addr %s", ep.UDPAddr())
	}
}
