package wire

import (
	"encoding/binary"
	"fmt"
)

// ErrBadHeader is returned by VerifyHeader/Decode* when the magic, version
// or type field fails validation. Callers treat this as a BadMessage: drop
// the slot's contents, release the context, and continue.
type ErrBadHeader struct {
	Reason string
}

func (e *ErrBadHeader) Error() string { return "wire: bad header: " + e.Reason }

// EncodeHeader writes the 10-byte header at the start of buf.
func EncodeHeader(buf []byte, t MessageType) {
	_ = buf[HeaderSize-1]
	copy(buf[0:8], Magic)
	buf[8] = Version
	buf[9] = byte(t)
}

// VerifyHeader validates the header at the start of buf and returns the
// parsed header. It rejects a magic mismatch, a version mismatch, or a
// type outside the known range.
func VerifyHeader(buf []byte) (Header, error) {
	var hdr Header
	if len(buf) < HeaderSize {
		return hdr, &ErrBadHeader{Reason: "short buffer"}
	}
	if string(buf[0:8]) != Magic {
		return hdr, &ErrBadHeader{Reason: "magic mismatch"}
	}
	if buf[8] != Version {
		return hdr, &ErrBadHeader{Reason: fmt.Sprintf("version mismatch: got %d want %d", buf[8], Version)}
	}
	mt := MessageType(buf[9])
	if !mt.Valid() {
		return hdr, &ErrBadHeader{Reason: fmt.Sprintf("unknown message type %d", buf[9])}
	}
	hdr.Version = buf[8]
	hdr.Type = mt
	return hdr, nil
}

// --- BUFFER_STATE, 39 bytes: header(10) + pageSize(4) + addr(8) + size(8) + rkey(8) + index(1) ---

const bufferStateSize = HeaderSize + 4 + 8 + 8 + 8 + 1

func EncodeBufferState(buf []byte, m *BufferState) int {
	EncodeHeader(buf, MsgBufferState)
	o := HeaderSize
	binary.LittleEndian.PutUint32(buf[o:], m.PageSize)
	o += 4
	binary.LittleEndian.PutUint64(buf[o:], m.Addr)
	o += 8
	binary.LittleEndian.PutUint64(buf[o:], m.Size)
	o += 8
	binary.LittleEndian.PutUint64(buf[o:], m.RKey)
	o += 8
	buf[o] = m.Index
	o++
	return o
}

func DecodeBufferState(buf []byte) (*BufferState, error) {
	if len(buf) < bufferStateSize {
		return nil, &ErrBadHeader{Reason: "short BUFFER_STATE"}
	}
	hdr, err := VerifyHeader(buf)
	if err != nil {
		return nil, err
	}
	m := &BufferState{Header: hdr}
	o := HeaderSize
	m.PageSize = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	m.Addr = binary.LittleEndian.Uint64(buf[o:])
	o += 8
	m.Size = binary.LittleEndian.Uint64(buf[o:])
	o += 8
	m.RKey = binary.LittleEndian.Uint64(buf[o:])
	o += 8
	m.Index = buf[o]
	return m, nil
}

// --- BUFFER_UPDATE, 32 bytes: header(10) + index(1) + pad(5) + 4×u32 ---

const bufferUpdateSize = 32

func EncodeBufferUpdate(buf []byte, m *BufferUpdate) int {
	EncodeHeader(buf, MsgBufferUpdate)
	buf[HeaderSize] = m.BufferIndex
	for i := HeaderSize + 1; i < 16; i++ {
		buf[i] = 0
	}
	o := 16
	binary.LittleEndian.PutUint32(buf[o:], m.PayloadSize)
	o += 4
	binary.LittleEndian.PutUint32(buf[o:], m.PayloadOffset)
	o += 4
	binary.LittleEndian.PutUint32(buf[o:], m.WriteSerial)
	o += 4
	binary.LittleEndian.PutUint32(buf[o:], m.ChannelSerial)
	o += 4
	return o
}

func DecodeBufferUpdate(buf []byte) (*BufferUpdate, error) {
	if len(buf) < bufferUpdateSize {
		return nil, &ErrBadHeader{Reason: "short BUFFER_UPDATE"}
	}
	hdr, err := VerifyHeader(buf)
	if err != nil {
		return nil, err
	}
	m := &BufferUpdate{Header: hdr, BufferIndex: buf[HeaderSize]}
	o := 16
	m.PayloadSize = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	m.PayloadOffset = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	m.WriteSerial = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	m.ChannelSerial = binary.LittleEndian.Uint32(buf[o:])
	return m, nil
}

// --- CLIENT_DATA / HOST_DATA, 32-byte prefix then up to MaxPayload bytes ---

const dataPrefixSize = 32

func encodeDataMessage(buf []byte, t MessageType, m *DataMessage) (int, error) {
	if len(m.Data) > MaxPayload {
		return 0, fmt.Errorf("wire: payload %d exceeds MaxPayload %d", len(m.Data), MaxPayload)
	}
	EncodeHeader(buf, t)
	o := HeaderSize
	binary.LittleEndian.PutUint32(buf[o:], m.Length)
	o += 4
	binary.LittleEndian.PutUint32(buf[o:], m.MsgSerial)
	o += 4
	binary.LittleEndian.PutUint32(buf[o:], m.ChannelSerial)
	o += 4
	for i := o; i < dataPrefixSize; i++ {
		buf[i] = 0
	}
	n := copy(buf[dataPrefixSize:], m.Data)
	return dataPrefixSize + n, nil
}

func decodeDataMessage(buf []byte, want MessageType) (*DataMessage, error) {
	if len(buf) < dataPrefixSize {
		return nil, &ErrBadHeader{Reason: "short data message"}
	}
	hdr, err := VerifyHeader(buf)
	if err != nil {
		return nil, err
	}
	if hdr.Type != want {
		return nil, &ErrBadHeader{Reason: fmt.Sprintf("expected %s got %s", want, hdr.Type)}
	}
	m := &DataMessage{Header: hdr}
	o := HeaderSize
	m.Length = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	m.MsgSerial = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	m.ChannelSerial = binary.LittleEndian.Uint32(buf[o:])
	if m.Length == 0 || m.Length > MaxPayload {
		return nil, &ErrBadHeader{Reason: fmt.Sprintf("invalid payload length %d", m.Length)}
	}
	if dataPrefixSize+int(m.Length) > len(buf) {
		return nil, &ErrBadHeader{Reason: "payload length exceeds buffer"}
	}
	m.Data = buf[dataPrefixSize : dataPrefixSize+int(m.Length)]
	return m, nil
}

func EncodeClientData(buf []byte, m *DataMessage) (int, error) {
	return encodeDataMessage(buf, MsgClientData, m)
}

func DecodeClientData(buf []byte) (*DataMessage, error) {
	return decodeDataMessage(buf, MsgClientData)
}

func EncodeHostData(buf []byte, m *DataMessage) (int, error) {
	return encodeDataMessage(buf, MsgHostData, m)
}

func DecodeHostData(buf []byte) (*DataMessage, error) {
	return decodeDataMessage(buf, MsgHostData)
}

// --- header-only acknowledgements ---

func EncodeClientDataAck(buf []byte) int {
	EncodeHeader(buf, MsgClientDataAck)
	return HeaderSize
}

func EncodeHostDataAck(buf []byte) int {
	EncodeHeader(buf, MsgHostDataAck)
	return HeaderSize
}

// --- hello / CM private data ---

// EncodeClientHello fills a CMMessageMaxSize-capped buffer for the connect
// private-data payload.
func EncodeClientHello(buf []byte) int {
	EncodeHeader(buf, MsgClientHello)
	return HeaderSize
}

// EncodeServerHello fills the accept/reject private-data payload.
func EncodeServerHello(buf []byte, status HelloStatus) int {
	EncodeHeader(buf, MsgServerHello)
	buf[HeaderSize] = byte(status)
	return HeaderSize + 1
}

func DecodeServerHello(buf []byte) (*ServerHello, error) {
	hdr, err := VerifyHeader(buf)
	if err != nil {
		return nil, err
	}
	if hdr.Type != MsgServerHello {
		return nil, &ErrBadHeader{Reason: "expected SERVER_HELLO"}
	}
	if len(buf) < HeaderSize+1 {
		return nil, &ErrBadHeader{Reason: "short SERVER_HELLO"}
	}
	return &ServerHello{Header: hdr, Status: HelloStatus(buf[HeaderSize])}, nil
}
