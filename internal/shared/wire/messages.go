package wire

// MessageType identifies the payload that follows a Header on the wire.
type MessageType uint8

const (
	MsgInvalid MessageType = iota
	MsgClientHello
	MsgServerHello
	MsgBufferState
	MsgBufferUpdate
	MsgClientData
	MsgClientDataAck
	MsgHostData
	MsgHostDataAck
	msgTypeMax
)

func (t MessageType) Valid() bool {
	return t > MsgInvalid && t < msgTypeMax
}

func (t MessageType) String() string {
	switch t {
	case MsgClientHello:
		return "CLIENT_HELLO"
	case MsgServerHello:
		return "SERVER_HELLO"
	case MsgBufferState:
		return "BUFFER_STATE"
	case MsgBufferUpdate:
		return "BUFFER_UPDATE"
	case MsgClientData:
		return "CLIENT_DATA"
	case MsgClientDataAck:
		return "CLIENT_DATA_ACK"
	case MsgHostData:
		return "HOST_DATA"
	case MsgHostDataAck:
		return "HOST_DATA_ACK"
	default:
		return "INVALID"
	}
}

// HelloStatus is carried in the SERVER_HELLO connection-manager payload.
type HelloStatus uint8

const (
	StatusInvalid HelloStatus = iota
	StatusOK
	StatusError
	StatusRejected
)

// Header is the fixed 10-byte prefix of every in-band message.
type Header struct {
	Version uint8
	Type    MessageType
}

// SetHeader fills hdr.Version/hdr.Type for encoding; Magic is implicit and
// written by Encode.
func SetHeader(hdr *Header, t MessageType) {
	hdr.Version = Version
	hdr.Type = t
}

// BufferState is sent client -> host to publish (or revoke, when Size==0) a
// locally registered memory region.
type BufferState struct {
	Header   Header
	PageSize uint32
	Addr     uint64
	Size     uint64
	RKey     uint64
	Index    uint8
}

// BufferUpdate is sent host -> client immediately after a one-sided write,
// notifying the client that data landed in one of its published regions.
type BufferUpdate struct {
	Header        Header
	BufferIndex   uint8
	PayloadSize   uint32
	PayloadOffset uint32
	WriteSerial   uint32
	ChannelSerial uint32
}

// DataMessage is the shape shared by CLIENT_DATA and HOST_DATA: an inline
// user payload plus the two ordering serials.
type DataMessage struct {
	Header        Header
	Length        uint32
	MsgSerial     uint32
	ChannelSerial uint32
	Data          []byte
}

// ServerHello carries only a status byte beyond the header, exchanged over
// the connection manager's private-data channel rather than the data
// stream.
type ServerHello struct {
	Header Header
	Status HelloStatus
}
