// Package slotpool implements the context/slot manager: a fixed pool of
// wire.SlotCount slot+context pairs per channel, partitioned by operation
// class, backing every in-flight send/recv/write/ack.
package slotpool

import (
	"github.com/netfr-go/netfr/internal/shared/fabric"
	"github.com/netfr-go/netfr/internal/shared/relayerr"
	"github.com/netfr-go/netfr/internal/shared/wire"
)

// State is a context's position in the alloc/reset lifecycle.
type State uint8

const (
	Invalid State = iota
	Available
	AckOnly
	Allocated
	Waiting
	HasData
	Canceled
)

func (s State) String() string {
	switch s {
	case Invalid:
		return "INVALID"
	case Available:
		return "AVAILABLE"
	case AckOnly:
		return "ACK_ONLY"
	case Allocated:
		return "ALLOCATED"
	case Waiting:
		return "WAITING"
	case HasData:
		return "HAS_DATA"
	case Canceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// Class is the operation partition a context belongs to. Partition
// boundaries are fixed at pool construction time and a context's class
// is derivable from its index alone (Locate).
type Class uint8

const (
	ClassSend Class = iota
	ClassRecv
	ClassWrite
	ClassAck
)

func (c Class) String() string {
	switch c {
	case ClassSend:
		return "send"
	case ClassRecv:
		return "recv"
	case ClassWrite:
		return "write"
	case ClassAck:
		return "ack"
	default:
		return "unknown"
	}
}

// WriteCallback is invoked on a write context's CQ completion, carrying
// the user-data closed over when WriteBuffer was called.
type WriteCallback func(userData any, canceled bool)

// Context is a handle bound 1:1 to a slot of the channel's communication
// buffer.
type Context struct {
	Index int
	Class Class
	State State

	// Slot is this context's SlotSize-byte region of the channel's
	// communication buffer. It holds one encoded wire message starting at
	// its header; there is no separate serial preamble ahead of it.
	Slot []byte

	// MsgSerial/ChannelSerial are the ordering values copied out of the
	// decoded data message when a recv context lands in HasData. They are
	// not set on outbound send/write contexts.
	MsgSerial     uint32
	ChannelSerial uint32

	// Callback/UserData are set only for write contexts; invoked once on
	// the write's CQ completion, then cleared by Reset.
	Callback WriteCallback
	UserData any

	// Aux is engine-internal bookkeeping a Channel attaches to a context
	// across the post/complete boundary (e.g. which remote entry a write
	// context targets); never surfaced to the write callback's UserData.
	Aux any
}

// Pool is the per-channel fixed array of contexts and their backing
// communication buffer, partitioned [0,TX)=send, [TX,TX+RX)=recv,
// [TX+RX,TX+RX+WRITE)=write, [TX+RX+WRITE,SlotCount)=ack.
type Pool struct {
	buf      []byte
	desc     fabric.MemoryRegistration
	contexts [wire.SlotCount]Context

	ackCursor int
}

const (
	sendBase  = 0
	recvBase  = sendBase + wire.TXSlots
	writeBase = recvBase + wire.RXSlots
	ackBase   = writeBase + wire.WriteSlots
)

// NewPool registers one SlotCount*SlotSize communication buffer with the
// resource and slices it into per-context slots.
func NewPool(resource fabric.Resource) (*Pool, error) {
	buf := make([]byte, wire.SlotCount*wire.SlotSize)
	desc, err := resource.RegisterMemory(buf, fabric.AccessSend|fabric.AccessRecv, 0)
	if err != nil {
		return nil, relayerr.Wrap("slotpool.NewPool", relayerr.KindFatal, err)
	}

	p := &Pool{buf: buf, desc: desc}
	for i := range p.contexts {
		ctx := &p.contexts[i]
		ctx.Index = i
		ctx.Slot = buf[i*wire.SlotSize : (i+1)*wire.SlotSize]
		switch {
		case i < recvBase:
			ctx.Class = ClassSend
			ctx.State = Available
		case i < writeBase:
			ctx.Class = ClassRecv
			ctx.State = Available
		case i < ackBase:
			ctx.Class = ClassWrite
			ctx.State = Available
		default:
			ctx.Class = ClassAck
			ctx.State = AckOnly
		}
	}
	return p, nil
}

func (p *Pool) Desc() fabric.MemoryRegistration { return p.desc }

func classRange(class Class) (base, end int) {
	switch class {
	case ClassSend:
		return sendBase, recvBase
	case ClassRecv:
		return recvBase, writeBase
	case ClassWrite:
		return writeBase, ackBase
	case ClassAck:
		return ackBase, wire.SlotCount
	default:
		return 0, 0
	}
}

// Alloc implements alloc(channel, op_class): scans the class partition
// for a context in Available, flips it to Allocated, and returns it.
// Returns a *relayerr.Error(KindAgain) when the partition is exhausted;
// the caller must surface Again (callers needing Busy-equivalent
// semantics translate at the API boundary).
func (p *Pool) Alloc(class Class) (*Context, error) {
	base, end := classRange(class)
	for i := base; i < end; i++ {
		if p.contexts[i].State == Available {
			p.contexts[i].State = Allocated
			return &p.contexts[i], nil
		}
	}
	return nil, relayerr.New("slotpool.Alloc", relayerr.KindAgain)
}

// AllocAck returns the next Ack-partition context in round-robin order.
// Ack contexts are never freed and carry no payload beyond the header,
// so concurrent zero-payload acks may share the same small set of
// contexts without any alloc/reset bookkeeping.
func (p *Pool) AllocAck() *Context {
	base, end := classRange(ClassAck)
	ctx := &p.contexts[base+p.ackCursor]
	p.ackCursor = (p.ackCursor + 1) % (end - base)
	return ctx
}

// Reset implements reset(context): returns the state to Available unless
// ctx is a reserved Ack-only context, which is never freed.
func (p *Pool) Reset(ctx *Context) {
	if ctx.Class == ClassAck {
		return
	}
	ctx.Callback = nil
	ctx.UserData = nil
	ctx.Aux = nil
	ctx.State = Available
}

// Locate implements locate(ctx_ptr) -> (index, class): returns the index
// and class recorded on the context by NewPool, used for diagnostics on CQ
// errors.
func (p *Pool) Locate(ctx *Context) (index int, class Class) {
	return ctx.Index, ctx.Class
}

// Context returns the context at absolute index i.
func (p *Pool) Context(i int) *Context { return &p.contexts[i] }

// Range calls fn for every context in class, in index order, stopping
// early if fn returns false. Used by consume_rx_slots and the
// HasData-scan in client_process.
func (p *Pool) Range(class Class, fn func(*Context) bool) {
	base, end := classRange(class)
	for i := base; i < end; i++ {
		if !fn(&p.contexts[i]) {
			return
		}
	}
}

// DebugCheckNoneAllocated returns the indices of every non-ack context still
// sitting in Allocated (alloc'd but never posted); Waiting contexts are not
// reported. It does no logging itself and never panics: the caller decides
// what to do with the result. Callers gate this behind their own debug-level check;
// it does nothing on its own to avoid scanning the pool on every hot-path
// Process call.
func (p *Pool) DebugCheckNoneAllocated() []int {
	var stuck []int
	for i := range p.contexts {
		if p.contexts[i].Class == ClassAck {
			continue
		}
		if p.contexts[i].State == Allocated {
			stuck = append(stuck, i)
		}
	}
	return stuck
}
