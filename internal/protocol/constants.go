package protocol

const (
	Magic uint32 = 0xABCDDCBA

	OfferSize         = 4 + 1 + 2 + 2
	RequestSize       = 4 + 1 + 8
	SegmentHeaderSize = 4 + 1 + 8 + 8

	// MaxDatagramSize keeps a segment inside a single Ethernet frame
	// (1500 MTU minus IPv4 and UDP headers).
	MaxDatagramSize = 1472
	MaxSegmentBody  = MaxDatagramSize - SegmentHeaderSize
)

type MessageType uint8

const (
	MsgOffer   MessageType = 0x2
	MsgRequest MessageType = 0x3
	MsgPayload MessageType = 0x4
)

func (t MessageType) String() string {
	switch t {
	case MsgOffer:
		return "OFFER"
	case MsgRequest:
		return "REQUEST"
	case MsgPayload:
		return "PAYLOAD"
	default:
		return "UNKNOWN"
	}
}
