// Package fabric defines the abstract capability set a transport provider
// must implement for the relay engine to drive it. This is the seam
// between the core engineering in this repository and whatever
// underlying transport actually moves bytes — a raw TCP socket in the
// tcpfab package, or (not implemented here) a real RDMA verbs/libfabric
// binding. The engine never imports a concrete provider directly; it talks
// only to these interfaces, translating provider-specific failures to the
// closed taxonomy in relayerr at this boundary.
package fabric

import "github.com/netfr-go/netfr/internal/shared/relayerr"

// Transport names the wire-level carrier a channel is configured to use.
type Transport uint8

const (
	TransportTCP Transport = iota
	TransportRDMA
)

func (t Transport) String() string {
	if t == TransportRDMA {
		return "rdma"
	}
	return "tcp"
}

// AccessFlags controls what a registered memory region may be used for.
type AccessFlags uint8

const (
	AccessSend AccessFlags = 1 << iota
	AccessRecv
	AccessWrite      // local side issues one-sided writes into remote memory
	AccessRemoteWrite // region may be the target of a peer's one-sided write
)

// Hints parameterizes Provider.Open: which transport to use and the local
// address to bind (host) or the peer address to reach (client).
type Hints struct {
	Transport Transport
	Addr      string
}

// Provider is the top-level factory a channel opens once at startup,
// analogous to fi_getinfo + fi_fabric + fi_domain + fi_eq_open + fi_cq_open.
type Provider interface {
	// Open allocates the fabric/domain/event-queue/completion-queue bundle
	// for one channel. Each channel calls this independently; resources
	// are never shared across channels.
	Open(hints Hints) (Resource, error)
}

// Resource is the per-channel bundle of fabric/domain/EQ/CQ a Provider
// hands back from Open.
type Resource interface {
	// RegisterMemory pins and registers addr[:size] with the given access
	// flags. requestedKey, when non-zero, asks for a specific remote key;
	// implementations retry with an incrementing key on collision, up to
	// 8 attempts.
	RegisterMemory(buf []byte, access AccessFlags, requestedKey uint64) (MemoryRegistration, error)

	// PassiveListen opens a passive endpoint bound to addr, ready to
	// receive CONNREQ events from the resource's event queue.
	PassiveListen(addr string) (PassiveEndpoint, error)

	// NewEndpoint creates an endpoint bound to this resource's event queue
	// and completion queue, not yet connected.
	NewEndpoint() (Endpoint, error)

	EventQueue() EventQueue
	CompletionQueue() CompletionQueue

	Close() error
}

// EventKind enumerates the connection-manager events a channel polls for.
type EventKind uint8

const (
	EventNone EventKind = iota
	EventConnReq
	EventConnected
	EventShutdown
)

// Event is a single connection-manager event read from an EventQueue.
type Event struct {
	Kind EventKind
	// PrivateData is the up-to-CMMessageMaxSize-byte handshake payload
	// carried by CONNREQ/CONNECTED events (CLIENT_HELLO/SERVER_HELLO).
	PrivateData []byte
	// Conn identifies which passive-endpoint listener a CONNREQ arrived
	// on, so the caller can Accept/Reject the right one.
	Conn PassiveEndpoint
}

// EventQueue is polled once per Process call; Read returns a KindAgain
// error when nothing is pending.
type EventQueue interface {
	Read() (Event, error)
}

// CQEntry is a single successful completion.
type CQEntry struct {
	UserContext any
}

// CQErrEntry is a failed completion. Canceled distinguishes a
// provider-initiated cancellation (the context should transition to
// CANCELED and the callback must handle it idempotently) from any other
// provider error (propagated as KindFatal).
type CQErrEntry struct {
	UserContext any
	Canceled    bool
	ProviderErr error
}

// CompletionQueue is drained once per Process call until it reports
// KindAgain.
type CompletionQueue interface {
	// Read returns the next completion. On an empty queue it returns a
	// *relayerr.Error with KindAgain. On a failed operation it returns a
	// *relayerr.Error with KindFatal, canceled ops included; the Error
	// does not carry the entry, so callers that need it (including its
	// Canceled flag) use ReadErr.
	Read() (CQEntry, error)
	// ReadErr retrieves the error detail for the completion that made the
	// last Read call fail; mirrors fi_cq_readerr.
	ReadErr() (CQErrEntry, error)
}

// PassiveEndpoint listens for inbound connection requests on one address.
type PassiveEndpoint interface {
	Reject(privData []byte) error
	Close() error
}

// Endpoint is a single connection-oriented endpoint used for both the
// client's active connect and the host's passive accept.
type Endpoint interface {
	Connect(peerAddr string, privData []byte) error
	Accept(privData []byte) error

	PostSend(buf []byte, desc MemoryRegistration, userCtx any) error
	PostRecv(buf []byte, desc MemoryRegistration, userCtx any) error
	PostWrite(localBuf []byte, desc MemoryRegistration, remoteAddr, rkey uint64, userCtx any) error
	// PostInject is a size-bounded send that consumes no context and
	// completes without a CQ entry. The transfer engine does not post
	// injects, and nothing falls back to a copied send when one fails.
	PostInject(buf []byte) error

	Close() error
}

// MemoryRegistration is the handle returned by RegisterMemory. Addr and Key
// together are exactly what gets published to the peer in a BUFFER_STATE
// message; the engine treats both as opaque identifiers it passes back
// into PostWrite verbatim.
type MemoryRegistration interface {
	Addr() uint64
	Key() uint64
}

// InjectSizeError is a sentinel returned by PostInject implementations when
// the payload exceeds the provider's inline-send threshold, distinct from a
// transient-backpressure KindAgain. No engine code checks for it; there is
// no automatic fallback to SEND_COPY.
type InjectSizeError struct{}

func (*InjectSizeError) Error() string { return "fabric: payload exceeds inject size" }

// AsRelayErr coerces any error from a provider into the closed taxonomy,
// defaulting to KindFatal for anything unrecognized. Concrete providers
// should prefer returning *relayerr.Error directly; this exists for the
// boundary where raw provider errors (e.g. net package errors) need a home.
func AsRelayErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*relayerr.Error); ok {
		return err
	}
	return relayerr.Wrap(op, relayerr.KindFatal, err)
}
