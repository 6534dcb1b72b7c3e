package tcpfab

import (
	"github.com/netfr-go/netfr/internal/shared/fabric"
	"github.com/netfr-go/netfr/internal/shared/relayerr"
)

// completionQueue is the shared CQ for every endpoint opened against one
// resource, mirroring a single fi_cq bound to a domain. Writer and reader
// goroutines across all of a channel's endpoints push completions here;
// Channel.Process drains it once per call via Read/ReadErr.
type completionQueue struct {
	ok      chan fabric.CQEntry
	errs    chan fabric.CQErrEntry
	limiter interface {
		Allow() bool
	}
	lastErr fabric.CQErrEntry
}

func newCompletionQueue() *completionQueue {
	return &completionQueue{
		ok:      make(chan fabric.CQEntry, 256),
		errs:    make(chan fabric.CQErrEntry, 64),
		limiter: newCompletionPollLimiter(),
	}
}

func (c *completionQueue) pushOK(ctx any) {
	select {
	case c.ok <- fabric.CQEntry{UserContext: ctx}:
	default:
		// CQ overrun: the caller is not draining fast enough. Dropping here
		// would silently lose a context; block instead so backpressure
		// propagates to the writer/reader goroutine.
		c.ok <- fabric.CQEntry{UserContext: ctx}
	}
}

func (c *completionQueue) pushErr(ctx any, err error, canceled bool) {
	entry := fabric.CQErrEntry{UserContext: ctx, Canceled: canceled, ProviderErr: err}
	select {
	case c.errs <- entry:
	default:
		c.errs <- entry
	}
}

func (c *completionQueue) Read() (fabric.CQEntry, error) {
	select {
	case e := <-c.ok:
		return e, nil
	default:
	}
	select {
	case e := <-c.errs:
		c.lastErr = e
		if e.Canceled {
			return fabric.CQEntry{}, relayerr.New("tcpfab.CompletionQueue.Read", relayerr.KindFatal)
		}
		return fabric.CQEntry{}, relayerr.Wrap("tcpfab.CompletionQueue.Read", relayerr.KindFatal, e.ProviderErr)
	default:
	}
	c.limiter.Allow()
	return fabric.CQEntry{}, relayerr.New("tcpfab.CompletionQueue.Read", relayerr.KindAgain)
}

func (c *completionQueue) ReadErr() (fabric.CQErrEntry, error) {
	return c.lastErr, nil
}
