package tcpfab

import (
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/netfr-go/netfr/internal/shared/fabric"
	"github.com/netfr-go/netfr/internal/shared/relayerr"
)

// Provider is the sole fabric.Provider this repository registers. It only
// understands fabric.TransportTCP; selecting fabric.TransportRDMA fails
// fast with a KindFatal error, since no verbs binding exists to wire it to.
type Provider struct {
	Logger zerolog.Logger
}

func NewProvider(logger zerolog.Logger) *Provider {
	return &Provider{Logger: logger}
}

func (p *Provider) Open(hints fabric.Hints) (fabric.Resource, error) {
	if hints.Transport != fabric.TransportTCP {
		return nil, relayerr.New("tcpfab.Open", relayerr.KindFatal)
	}
	return &resource{
		logger: p.Logger,
		mrs:    make(map[uint64]*memReg),
		eq:     newEventQueue(),
		cq:     newCompletionQueue(),
	}, nil
}

type resource struct {
	logger zerolog.Logger

	mu  sync.Mutex
	mrs map[uint64]*memReg

	// rkeyCounter never resets for the life of this resource, so a retried
	// registration after a key collision can never reuse a key a still-live
	// region depends on.
	rkeyCounter uint64

	// pending is the FIFO of accepted-but-undispositioned connections,
	// shared by every passiveEndpoint opened against this resource. In
	// practice a channel opens exactly one passiveEndpoint, so this is
	// that listener's accept backlog.
	pending []*pendingConn

	eq *eventQueue
	cq *completionQueue
}

type pendingConn struct {
	conn  net.Conn
	hello []byte
}

func (r *resource) pushPending(pc *pendingConn) {
	r.mu.Lock()
	r.pending = append(r.pending, pc)
	r.mu.Unlock()
}

func (r *resource) popPending() *pendingConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return nil
	}
	pc := r.pending[0]
	r.pending = r.pending[1:]
	return pc
}

// registerMemoryRetries bounds the key-collision retry loop. This software
// provider assigns keys from its own monotonic counter so a collision can
// only happen if a caller explicitly requests an in-use key; the bounded
// retry is kept for fidelity with the provider contract.
const registerMemoryRetries = 8

func (r *resource) RegisterMemory(buf []byte, access fabric.AccessFlags, requestedKey uint64) (fabric.MemoryRegistration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := requestedKey
	for attempt := 0; attempt < registerMemoryRetries; attempt++ {
		if key == 0 {
			r.rkeyCounter++
			key = r.rkeyCounter
		}
		if _, exists := r.mrs[key]; !exists {
			addr := key // synthetic address space shares the key's uniqueness
			mr := &memReg{buf: buf, addr: addr, key: key}
			r.mrs[key] = mr
			return mr, nil
		}
		r.rkeyCounter++
		key = r.rkeyCounter
	}
	return nil, relayerr.New("tcpfab.RegisterMemory", relayerr.KindFatal)
}

func (r *resource) lookupMR(key uint64) (*memReg, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mr, ok := r.mrs[key]
	return mr, ok
}

func (r *resource) PassiveListen(addr string) (fabric.PassiveEndpoint, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, relayerr.Wrap("tcpfab.PassiveListen", relayerr.KindFatal, err)
	}
	pe := &passiveEndpoint{
		ln:       ln,
		resource: r,
		stop:     make(chan struct{}),
	}
	pe.wg.Add(1)
	go pe.acceptLoop()
	return pe, nil
}

func (r *resource) NewEndpoint() (fabric.Endpoint, error) {
	return &endpoint{resource: r}, nil
}

func (r *resource) EventQueue() fabric.EventQueue           { return r.eq }
func (r *resource) CompletionQueue() fabric.CompletionQueue { return r.cq }

func (r *resource) Close() error {
	r.eq.close()
	return nil
}

// newCompletionPollLimiter paces a channel's empty-CQ polling so a
// busy-loop caller doesn't spin a core at 100% waiting on an idle
// connection — the software analogue of NIC interrupt moderation, since
// this provider has no hardware completion interrupt to block on.
func newCompletionPollLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(200*time.Microsecond), 1)
}
