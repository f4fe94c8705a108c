package fetch

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/resource"
)

// Resource kind labels.
const (
	kindFetch    = "fetch"
	kindResponse = "response"
)

type result struct {
	resp *response
	err  error
}

// fetchResource is an in-flight request. The sending goroutine delivers
// exactly one result on future and then closes it; whoever receives the
// result owns its response body.
type fetchResource struct {
	future  chan result
	cancel  context.CancelFunc
	started time.Time

	abortTx *resource.Slot[*AbortSender]
	abortRx *resource.Slot[*AbortReceiver]

	closeOnce sync.Once
}

func newFetchResource(cancel context.CancelFunc) *fetchResource {
	tx, rx := NewAbortPair()
	return &fetchResource{
		future:  make(chan result, 1),
		cancel:  cancel,
		started: time.Now(),
		abortTx: resource.NewSlot(tx),
		abortRx: resource.NewSlot(rx),
	}
}

func (f *fetchResource) Name() string { return kindFetch }

// Close aborts the request and releases a response that arrives later.
func (f *fetchResource) Close() error {
	f.closeOnce.Do(func() {
		f.cancel()
		go func() {
			for r := range f.future {
				if r.resp != nil {
					r.resp.body.Close()
				}
			}
		}()
	})
	return nil
}

// responseResource is a response whose headers were delivered and whose
// body is read chunk by chunk. mu is held for the duration of each read.
type responseResource struct {
	mu     sync.Mutex
	body   io.ReadCloser
	cancel context.CancelFunc

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newResponseResource(resp *response, cancel context.CancelFunc) *responseResource {
	return &responseResource{
		body:   resp.body,
		cancel: cancel,
	}
}

func (r *responseResource) Name() string { return kindResponse }

// Close drops the connection. It does not wait for a read in progress; the
// read fails instead.
func (r *responseResource) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.closeErr = r.body.Close()
		r.cancel()
	})
	return r.closeErr
}
