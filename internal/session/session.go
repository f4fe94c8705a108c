package session

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/fetch"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/resource"
)

// Session is one client's fetch state.
type Session struct {
	ID        string
	CreatedAt time.Time

	Table        *resource.Table
	Orchestrator *fetch.Orchestrator

	mu        sync.Mutex
	streamers map[*fetch.Streamer]struct{}
	closed    bool

	closeOnce sync.Once
	onClose   func()
}

func newSession(id string, table *resource.Table, orch *fetch.Orchestrator) *Session {
	return &Session{
		ID:           id,
		CreatedAt:    time.Now(),
		Table:        table,
		Orchestrator: orch,
		streamers:    make(map[*fetch.Streamer]struct{}),
	}
}

// OpenStream returns a streamer whose fetches live in this session. The
// caller closes it with CloseStream; closing the session closes it too.
func (s *Session) OpenStream() (*fetch.Streamer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	st := fetch.NewStreamer(s.Orchestrator)
	s.streamers[st] = struct{}{}
	return st, nil
}

// CloseStream cancels the streamer's fetches and forgets it.
func (s *Session) CloseStream(st *fetch.Streamer) {
	s.mu.Lock()
	delete(s.streamers, st)
	s.mu.Unlock()

	st.Close()
}

// Streams returns the number of open streamers.
func (s *Session) Streams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streamers)
}

// Close cancels every streaming fetch and releases every resource. It is
// safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		streamers := s.streamers
		s.streamers = nil
		s.mu.Unlock()

		for st := range streamers {
			st.Close()
		}
		err = s.Table.CloseAll()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return err
}
