// Package wire implements the netfr wire protocol codec: fixed magic+version
// headers, the typed control/data messages exchanged between host and
// client, and the slot/payload geometry both sides must agree on.
package wire

// Magic is the 8-byte identifier every header must carry. A mismatch means
// the peer is speaking a different protocol entirely and the message is
// dropped without a NACK (see VerifyHeader).
const Magic = "NetFrame"

// Version is the single protocol version this package understands. There is
// no cross-version compatibility; a header with a different version is
// rejected the same way a bad magic is.
const Version uint8 = 1

// NumChannels is the number of independent channels a peer owns: primary
// (bulk writes) and secondary (low-latency messaging).
const NumChannels = 2

const (
	ChannelPrimary = iota
	ChannelSecondary
)

// SlotSize is the size in bytes of a single communication-buffer slot. A
// slot holds one encoded message starting at its header, with no separate
// preamble.
const SlotSize = 4096

// HeaderSize is the size of the fixed magic+version+type header.
const HeaderSize = 10 // 8 (magic) + 1 (version) + 1 (type)

// SlotPreambleSize is the combined size of the msgSerial and channelSerial
// fields. CLIENT_DATA/HOST_DATA carry them after the header and length
// field, not at the front of the slot.
const SlotPreambleSize = 8

// MaxPayload is the largest user payload a single CLIENT_DATA/HOST_DATA
// message can carry: the slot minus the 32-byte header+fields+padding
// block that precedes the 16-byte-aligned data region.
const MaxPayload = SlotSize - 32

// Per-channel context-pool partition sizes. The order of these partitions
// ([0,TX), [TX,TX+RX), [TX+RX,TX+RX+WRITE), [TX+RX+WRITE,SLOT_COUNT)) is a
// load-bearing invariant: context index arithmetic in slotpool depends on
// it.
const (
	TXSlots    = 60
	RXSlots    = 60
	WriteSlots = 6
	AckSlots   = 2
	SlotCount  = TXSlots + RXSlots + WriteSlots + AckSlots // 128
)

// MaxMemRegions is the size of the per-channel memory region registry.
const MaxMemRegions = 32

// MaxBufferSize is the largest single RDMA-style buffer a region may cover.
const MaxBufferSize = 1 << 28 // 256 MiB

// CreditInit is the number of user-data sends a channel may have
// outstanding before the peer must ack one back.
const CreditInit = TXSlots

// ReservedCredits guarantees internal (non-user-data) messages can always
// make progress even when user credits are exhausted.
const ReservedCredits = 8

// CMMessageMaxSize is the maximum size of the connection-manager private
// data payload used to carry CLIENT_HELLO/SERVER_HELLO.
const CMMessageMaxSize = 16

// serialWrapWindow is half the window used by the wrap-safe comparator:
// any two serials within this modular distance of one another compare
// correctly across a single wrap of the 32-bit counter.
const serialWrapWindow = 2048

// serialWrapShift is subtracted from both serials under comparison once
// either one falls in the top serialWrapWindow of the 32-bit space.
const serialWrapShift = 4096
