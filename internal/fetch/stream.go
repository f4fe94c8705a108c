package fetch

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/resource"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/shared/types"
)

var (
	// ErrDuplicateRequest is returned when a streaming request id is reused
	// while its first request is still running.
	ErrDuplicateRequest = errors.New("request id already in flight")
	// ErrStreamerClosed is returned by Start after Close.
	ErrStreamerClosed = errors.New("streamer closed")
)

// Streamer runs fetches that push their whole lifecycle as events instead
// of being polled. Each request produces one response event, any number of
// data events, then exactly one error or done event.
type Streamer struct {
	orch *Orchestrator

	mu       sync.Mutex
	inflight map[uint64]context.CancelFunc
	closed   bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewStreamer creates a streamer whose fetches live in orch's table.
func NewStreamer(orch *Orchestrator) *Streamer {
	return &Streamer{
		orch:     orch,
		inflight: make(map[uint64]context.CancelFunc),
		done:     make(chan struct{}),
	}
}

// Start begins a streaming fetch. Construction errors are returned directly
// and produce no events.
func (s *Streamer) Start(desc *types.RequestDescriptor, id uint64, out chan<- types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamerClosed
	}
	if _, dup := s.inflight[id]; dup {
		return ErrDuplicateRequest
	}

	h, err := s.orch.Start(desc)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.inflight[id] = cancel
	s.wg.Add(1)
	go s.run(ctx, id, h, out)
	return nil
}

// Cancel aborts the streaming fetch with the given id. It reports whether
// such a request was running.
func (s *Streamer) Cancel(id uint64) bool {
	s.mu.Lock()
	cancel, ok := s.inflight[id]
	s.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// Active returns the number of running streaming fetches.
func (s *Streamer) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Close cancels every running fetch and waits for them to stop. Events not
// yet delivered are dropped.
func (s *Streamer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	for _, cancel := range s.inflight {
		cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Streamer) run(ctx context.Context, id uint64, h resource.Handle, out chan<- types.Event) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if cancel, ok := s.inflight[id]; ok {
			cancel()
			delete(s.inflight, id)
		}
		s.mu.Unlock()
	}()

	emit := func(ev types.Event) bool {
		ev.RequestID = id
		select {
		case out <- ev:
			s.orch.metrics.RecordStreamEvent(string(ev.Type))
			return true
		case <-s.done:
			return false
		}
	}
	fail := func(err error) {
		s.orch.logger.Debug("stream failed", zap.Uint64("request_id", id), zap.Error(err))
		emit(types.Event{Type: types.EventError, Message: err.Error(), Kind: KindOf(err).String()})
	}

	stop := context.AfterFunc(ctx, func() {
		s.orch.Cancel(h)
	})
	resp, err := s.orch.Await(ctx, h)
	stop()
	if err != nil {
		fail(err)
		return
	}

	body := resource.Handle(resp.RID)
	if !emit(types.Event{
		Type:       types.EventResponse,
		Status:     resp.Status,
		StatusText: resp.StatusText,
		Headers:    resp.Headers,
		URL:        resp.URL,
	}) {
		s.orch.CloseBody(body)
		return
	}

	for {
		chunk, eof, err := s.orch.ReadChunk(ctx, body)
		if err != nil {
			if ctx.Err() != nil {
				err = canceled("read_body")
			}
			fail(err)
			return
		}
		if eof {
			emit(types.Event{Type: types.EventDone})
			return
		}
		if !emit(types.Event{Type: types.EventData, Data: chunk}) {
			s.orch.CloseBody(body)
			return
		}
	}
}
