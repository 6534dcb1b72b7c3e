// Package tcpfab is the one concrete fabric.Provider shipped in this
// repository: it carries the abstract send/recv/write/inject primitives
// over a plain TCP connection, standing in for a real libfabric/verbs
// binding (none exists in the Go ecosystem this repository draws on).
//
// Two-sided send/recv are framed messages on the connection. One-sided
// write is emulated by having the sender push a tagged frame that the
// receiver's background reader copies directly into the addressed,
// registered memory region — without involving the receiving
// application's recv path at all, which is the behavior the engine above
// this package depends on.
package tcpfab

import "encoding/binary"

type frameType uint8

const (
	frameApp   frameType = 1 // payload is an opaque message (wire.Header + fields)
	frameWrite frameType = 2 // payload is rkey(8) + remote address(8) + raw data
)

// frameHeaderSize is the on-wire prefix before every frame's payload:
// 1 byte type + 4 byte little-endian payload length.
const frameHeaderSize = 5

// writeFrameHeaderSize is the rkey+remote-address prefix within a frameWrite
// payload.
const writeFrameHeaderSize = 16

func putFrameHeader(buf []byte, t frameType, payloadLen uint32) {
	buf[0] = byte(t)
	binary.LittleEndian.PutUint32(buf[1:5], payloadLen)
}

func putWriteFrameHeader(buf []byte, rkey, remoteAddr uint64) {
	binary.LittleEndian.PutUint64(buf[0:8], rkey)
	binary.LittleEndian.PutUint64(buf[8:16], remoteAddr)
}

func decodeFrameType(hdr []byte) frameType { return frameType(hdr[0]) }
func decodeFrameLen(hdr []byte) uint32     { return binary.LittleEndian.Uint32(hdr[1:5]) }

func decodeWriteFrameHeader(buf []byte) (rkey, remoteAddr uint64) {
	return binary.LittleEndian.Uint64(buf[0:8]), binary.LittleEndian.Uint64(buf[8:16])
}
