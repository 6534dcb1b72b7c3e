// Package remotemem implements the host-side remote memory registry: the
// mirror of the client's memory region registry, populated by inbound
// BUFFER_STATE messages and consulted by the transfer engine's write path
// to pick a target for a one-sided write.
package remotemem

import "github.com/netfr-go/netfr/internal/shared/wire"

// State is a remote entry's position in its lifecycle.
type State uint8

const (
	None State = iota
	Available
	Allocated
	BusyLocal
	BusyRemote
)

func (s State) String() string {
	switch s {
	case None:
		return "NONE"
	case Available:
		return "AVAILABLE"
	case Allocated:
		return "ALLOCATED"
	case BusyLocal:
		return "BUSY_LOCAL"
	case BusyRemote:
		return "BUSY_REMOTE"
	default:
		return "UNKNOWN"
	}
}

// Entry is the host-side mirror of one region the client has published.
type Entry struct {
	Index int
	State State

	Addr      uint64
	Size      uint64
	RKey      uint64
	PageAlign uint32
}

// Registry is the fixed-size table of Entries for one channel, indexed
// identically to the client's Memory Region Registry by BUFFER_STATE's
// index field.
type Registry struct {
	entries [wire.MaxMemRegions]Entry
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.entries {
		r.entries[i].Index = i
		r.entries[i].State = None
	}
	return r
}

func (r *Registry) At(i int) *Entry {
	if i < 0 || i >= len(r.entries) {
		return nil
	}
	return &r.entries[i]
}

func (r *Registry) Len() int { return len(r.entries) }

// Publish applies an inbound BUFFER_STATE to entry index. A size of zero
// clears the entry back to None (the client revoked the region).
// Publishing over an entry in BusyLocal is rejected: the client cannot
// legally re-announce a region the host has not yet finished writing to.
func (r *Registry) Publish(index int, addr, size, rkey uint64, pageAlign uint32) error {
	e := r.At(index)
	if e == nil {
		return errInvalidIndex
	}
	if size == 0 {
		e.State = None
		e.Addr, e.Size, e.RKey = 0, 0, 0
		return nil
	}
	if e.State == BusyLocal {
		return errInvalidTransition
	}
	e.Addr, e.Size, e.RKey, e.PageAlign = addr, size, rkey, pageAlign
	e.State = Available
	return nil
}

// SelectTightFit scans entries in Available whose size covers
// length-remoteOffset, returning the one with the smallest qualifying
// size. Returns nil if none qualify.
func (r *Registry) SelectTightFit(length, remoteOffset uint64) *Entry {
	need := length - remoteOffset
	var best *Entry
	for i := range r.entries {
		e := &r.entries[i]
		if e.State != Available || e.Size < need {
			continue
		}
		if best == nil || e.Size < best.Size {
			best = e
		}
	}
	return best
}

type registryError string

func (e registryError) Error() string { return string(e) }

const (
	errInvalidIndex      = registryError("remotemem: index out of range")
	errInvalidTransition = registryError("remotemem: invalid state transition")
)
