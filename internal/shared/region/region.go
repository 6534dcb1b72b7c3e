// Package region implements the per-channel memory region registry: up to
// wire.MaxMemRegions pinned, registered buffers, each tracked through the
// lifecycle a region moves through as it is published, written to, and
// re-synced with the peer.
package region

import (
	"os"

	"github.com/netfr-go/netfr/internal/shared/fabric"
	"github.com/netfr-go/netfr/internal/shared/relayerr"
	"github.com/netfr-go/netfr/internal/shared/wire"
)

// defaultPageSize is the rounding unit Attach pads internal allocations to,
// matching the original's system-page-size alignment.
const defaultPageSize = 4096

// hugePagesSafe reports whether RDMAV_HUGEPAGES_SAFE is set, in which case
// Attach trusts the caller's buffer is already huge-page aligned and skips
// the page-size rounding step.
func hugePagesSafe() bool {
	return os.Getenv("RDMAV_HUGEPAGES_SAFE") != ""
}

func pageAlign(size int) int {
	if hugePagesSafe() || size%defaultPageSize == 0 {
		return size
	}
	return (size/defaultPageSize + 1) * defaultPageSize
}

// State is a region's position in its lifecycle loop.
type State uint8

const (
	Empty State = iota
	Reserved
	AvailableUnsynced
	Available
	Busy
	HasData
)

func (s State) String() string {
	switch s {
	case Empty:
		return "EMPTY"
	case Reserved:
		return "RESERVED"
	case AvailableUnsynced:
		return "AVAILABLE_UNSYNCED"
	case Available:
		return "AVAILABLE"
	case Busy:
		return "BUSY"
	case HasData:
		return "HAS_DATA"
	default:
		return "UNKNOWN"
	}
}

// MemType distinguishes a region the registry allocated and owns from one
// whose backing buffer was supplied by the caller.
type MemType uint8

const (
	MemInternal MemType = iota
	MemUserOwned
)

// Region is a single entry in a channel's Memory Region Registry.
type Region struct {
	Index int
	State State

	Buf     []byte
	MemType MemType
	Desc    fabric.MemoryRegistration

	// PayloadOffset and PayloadLength are set when the peer's BUFFER_UPDATE
	// names this region as the target of a completed write.
	PayloadOffset uint32
	PayloadLength uint32

	// WriteSerial and ChannelSerial carry the ordering values from the
	// BUFFER_UPDATE that last transitioned this region to HasData.
	WriteSerial   uint32
	ChannelSerial uint32
}

func (r *Region) Addr() uint64 {
	if r.Desc == nil {
		return 0
	}
	return r.Desc.Addr()
}

func (r *Region) Key() uint64 {
	if r.Desc == nil {
		return 0
	}
	return r.Desc.Key()
}

func (r *Region) Size() int { return len(r.Buf) }

// Registry is the fixed-size table of Regions belonging to one channel.
type Registry struct {
	resource fabric.Resource
	regions  [wire.MaxMemRegions]Region
}

func NewRegistry(resource fabric.Resource) *Registry {
	reg := &Registry{resource: resource}
	for i := range reg.regions {
		reg.regions[i].Index = i
		reg.regions[i].State = Empty
	}
	return reg
}

// Attach registers a new region: buf is the caller-supplied buffer when
// non-nil; when nil, Attach allocates size bytes internally and owns its
// lifetime. initialState is Available for a host-side attach and
// AvailableUnsynced for a client-side attach.
func (r *Registry) Attach(buf []byte, size int, access fabric.AccessFlags, initialState State) (*Region, error) {
	slot := -1
	for i := range r.regions {
		if r.regions[i].State == Empty {
			slot = i
			break
		}
	}
	if slot == -1 {
		return nil, relayerr.New("region.Attach", relayerr.KindNoSpace)
	}

	memType := MemUserOwned
	if buf == nil {
		buf = make([]byte, pageAlign(size))
		memType = MemInternal
	}

	desc, err := r.resource.RegisterMemory(buf, access, 0)
	if err != nil {
		return nil, relayerr.Wrap("region.Attach", relayerr.KindFatal, err)
	}

	reg := &r.regions[slot]
	reg.Buf = buf
	reg.MemType = memType
	reg.Desc = desc
	reg.State = initialState
	reg.PayloadOffset = 0
	reg.PayloadLength = 0
	reg.WriteSerial = 0
	reg.ChannelSerial = 0
	return reg, nil
}

// Release implements release(region): the slot returns to Empty. The
// backing buffer is only dropped (for GC) if this registry allocated it;
// a user-owned or internally-embedded buffer's memory is never the
// registry's concern to free.
func (r *Registry) Release(reg *Region) {
	if reg.MemType == MemInternal {
		reg.Buf = nil
	}
	reg.Desc = nil
	reg.State = Empty
	reg.PayloadOffset = 0
	reg.PayloadLength = 0
}

// Ack moves any non-empty state to AvailableUnsynced, which causes the
// next process pass to re-announce the region to the peer via
// BUFFER_STATE. Idempotent when already AvailableUnsynced or Available.
func (r *Region) Ack() {
	if r.State == Empty {
		return
	}
	r.State = AvailableUnsynced
}

// At returns the region at index i, or nil if out of range.
func (r *Registry) At(i int) *Region {
	if i < 0 || i >= len(r.regions) {
		return nil
	}
	return &r.regions[i]
}

// Len reports the fixed registry size.
func (r *Registry) Len() int { return len(r.regions) }

// Unsynced returns up to max regions currently in AvailableUnsynced, for
// the resync pass a client process pass runs at its start.
func (r *Registry) Unsynced(max int) []*Region {
	var out []*Region
	for i := range r.regions {
		if r.regions[i].State == AvailableUnsynced {
			out = append(out, &r.regions[i])
			if len(out) == max {
				break
			}
		}
	}
	return out
}
