package fetch

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/resource"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/shared/types"
)

// DefaultChunkSize is the largest body chunk returned by one read.
const DefaultChunkSize = 64 * 1024

// Orchestrator drives fetches stored in one session's resource table.
type Orchestrator struct {
	table     *resource.Table
	builder   *Builder
	limiter   *rate.Limiter
	chunkSize int
	logger    *logging.Logger
	metrics   *monitoring.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLimiter throttles outbound sends.
func WithLimiter(l *rate.Limiter) Option {
	return func(o *Orchestrator) {
		o.limiter = l
	}
}

// WithChunkSize sets the maximum chunk returned by ReadChunk.
func WithChunkSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithMetrics records fetch metrics.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// NewOrchestrator creates an orchestrator over table.
func NewOrchestrator(table *resource.Table, builder *Builder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		table:     table,
		builder:   builder,
		limiter:   rate.NewLimiter(rate.Inf, 0),
		chunkSize: DefaultChunkSize,
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start builds the request, registers it and begins sending in the
// background. Construction errors are returned before any network activity.
func (o *Orchestrator) Start(desc *types.RequestDescriptor) (resource.Handle, error) {
	req, err := o.builder.Build(desc)
	if err != nil {
		return 0, err
	}

	// The fetch outlives the call that started it, so it gets its own root.
	ctx, cancel := context.WithCancel(context.Background())
	f := newFetchResource(cancel)
	h := o.table.Add(f)

	go func() {
		defer close(f.future)
		if err := o.limiter.Wait(ctx); err != nil {
			f.future <- result{err: err}
			return
		}
		resp, err := req.Send(ctx)
		f.future <- result{resp: resp, err: err}
	}()

	o.metrics.IncFetchesStarted()
	o.logger.Debug("fetch started",
		zap.Uint32("rid", uint32(h)),
		zap.String("method", req.Method),
		zap.String("scheme", req.Scheme()),
	)
	return h, nil
}

// Cancel fires the abort signal of the fetch at h. It never fails: a
// missing handle or an already fired signal is a no-op.
func (o *Orchestrator) Cancel(h resource.Handle) {
	f, err := resource.Get[*fetchResource](o.table, h)
	if err != nil {
		return
	}
	tx, ok := f.abortTx.Take()
	if !ok {
		return
	}
	tx.Abort()

	// Nobody awaits yet, so nobody can observe the response: stop the
	// network side right away.
	if f.abortRx.Full() {
		f.cancel()
	}
	o.logger.Debug("fetch canceled", zap.Uint32("rid", uint32(h)))
}

// Await waits for the response headers of the fetch at h and promotes the
// response into a new body handle. On any failure the fetch handle is
// closed.
func (o *Orchestrator) Await(ctx context.Context, h resource.Handle) (*types.FetchResponse, error) {
	const op = "send"

	f, err := resource.Get[*fetchResource](o.table, h)
	if err != nil {
		return nil, notFound(op, err)
	}
	rx, ok := f.abortRx.Take()
	if !ok {
		return nil, canceled(op)
	}

	// A cancel that happened before we got here always wins.
	if rx.Aborted() {
		return nil, o.abandon(h, canceled(op), f.started)
	}

	// raceClosed means the handle was closed and the closer took the result.
	r, outcome := race(ctx, f.future, rx)
	if outcome != raceCompleted {
		return nil, o.abandon(h, canceled(op), f.started)
	}

	if r.err != nil {
		if rx.Aborted() || errors.Is(r.err, context.Canceled) {
			return nil, o.abandon(h, canceled(op), f.started)
		}
		return nil, o.abandon(h, networkError(op, sendPhase(r.err), r.err), f.started)
	}

	// The handle may have been closed while we were waiting.
	if _, err := resource.Take[*fetchResource](o.table, h); err != nil {
		r.resp.body.Close()
		f.cancel()
		o.metrics.RecordFetch(monitoring.OutcomeCanceled, 0)
		return nil, canceled(op)
	}

	rid := o.table.Add(newResponseResource(r.resp, f.cancel))
	o.metrics.RecordFetch(monitoring.OutcomeOK, time.Since(f.started))
	o.logger.Debug("fetch response",
		zap.Uint32("rid", uint32(h)),
		zap.Uint32("body_rid", uint32(rid)),
		zap.Int("status", r.resp.status),
	)

	return &types.FetchResponse{
		Status:     r.resp.status,
		StatusText: r.resp.statusText,
		Headers:    r.resp.headers,
		URL:        r.resp.url,
		RID:        uint32(rid),
	}, nil
}

type raceOutcome int

const (
	raceCompleted raceOutcome = iota
	raceAborted
	raceClosed
)

// race waits for the first of completion, abort and ctx. A result that is
// ready at the moment of an abort wins over it.
func race(ctx context.Context, future <-chan result, rx *AbortReceiver) (result, raceOutcome) {
	settle := func() (result, raceOutcome) {
		select {
		case r, ok := <-future:
			if !ok {
				return result{}, raceClosed
			}
			return r, raceCompleted
		default:
			return result{}, raceAborted
		}
	}

	select {
	case r, ok := <-future:
		if !ok {
			return result{}, raceClosed
		}
		return r, raceCompleted
	case <-rx.Done():
		return settle()
	case <-ctx.Done():
		return settle()
	}
}

// abandon closes the fetch handle after a failed await and returns err.
func (o *Orchestrator) abandon(h resource.Handle, err *Error, started time.Time) error {
	_ = o.table.Close(h)

	outcome := monitoring.OutcomeError
	if err.Kind == KindRequestCanceled {
		outcome = monitoring.OutcomeCanceled
	}
	o.metrics.RecordFetch(outcome, time.Since(started))
	o.logger.Debug("fetch failed", zap.Uint32("rid", uint32(h)), zap.Error(err))
	return err
}

// ReadChunk returns the next body chunk of the response at h. eof is true
// once the body is exhausted, at which point the handle is closed and
// further reads fail with ErrResourceNotFound. Canceling ctx closes the
// body and the read fails with ErrRequestCanceled.
func (o *Orchestrator) ReadChunk(ctx context.Context, h resource.Handle) (chunk []byte, eof bool, err error) {
	const op = "read_body"

	res, err := resource.Get[*responseResource](o.table, h)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, canceled(op)
		}
		return nil, false, notFound(op, err)
	}

	res.mu.Lock()
	defer res.mu.Unlock()

	if ctx.Err() != nil {
		_ = o.table.Close(h)
		return nil, false, canceled(op)
	}
	if res.closed.Load() {
		return nil, false, notFound(op, resource.ErrNotFound)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = o.table.Close(h)
	})
	defer stop()

	buf := make([]byte, o.chunkSize)
	n, err := io.ReadAtLeast(res.body, buf, 1)
	if n > 0 {
		o.metrics.AddBodyBytes(n)
		return buf[:n], false, nil
	}

	switch {
	case errors.Is(err, io.EOF):
		_ = o.table.Close(h)
		return nil, true, nil
	case res.closed.Load():
		return nil, false, canceled(op)
	default:
		_ = o.table.Close(h)
		return nil, false, networkError(op, PhaseTransfer, err)
	}
}

// CloseBody releases the response at h. Missing handles are ignored.
func (o *Orchestrator) CloseBody(h resource.Handle) {
	if err := o.table.Close(h); err != nil && !errors.Is(err, resource.ErrNotFound) {
		o.logger.Debug("close body", zap.Uint32("rid", uint32(h)), zap.Error(err))
	}
}

// Close releases any resource at h.
func (o *Orchestrator) Close(h resource.Handle) error {
	if err := o.table.Close(h); err != nil {
		if errors.Is(err, resource.ErrNotFound) {
			return notFound("close", err)
		}
		return err
	}
	return nil
}
