package channel

import "github.com/netfr-go/netfr/internal/shared/wire"

// encodeData and decodeData bridge the role-generic send/recv path to the
// role-specific CLIENT_DATA/HOST_DATA wire encoders, since a Channel
// doesn't know at the call site which direction it's encoding for without
// asking outboundDataType first.
func encodeData(buf []byte, t wire.MessageType, payload []byte, msgSerial, channelSerial uint32) (int, error) {
	m := &wire.DataMessage{Length: uint32(len(payload)), MsgSerial: msgSerial, ChannelSerial: channelSerial, Data: payload}
	if t == wire.MsgHostData {
		return wire.EncodeHostData(buf, m)
	}
	return wire.EncodeClientData(buf, m)
}

func decodeData(buf []byte) (*wire.DataMessage, error) {
	hdr, err := wire.VerifyHeader(buf)
	if err != nil {
		return nil, err
	}
	if hdr.Type == wire.MsgHostData {
		return wire.DecodeHostData(buf)
	}
	return wire.DecodeClientData(buf)
}
