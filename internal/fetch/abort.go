package fetch

import "sync"

// abortSignal is a one-shot broadcast shared by an AbortSender and its
// AbortReceiver.
type abortSignal struct {
	once sync.Once
	ch   chan struct{}
}

// AbortSender fires the signal. Firing more than once is a no-op.
type AbortSender struct {
	sig *abortSignal
}

// AbortReceiver observes the signal.
type AbortReceiver struct {
	sig *abortSignal
}

// NewAbortPair returns the two halves of a fresh cancellation token.
func NewAbortPair() (*AbortSender, *AbortReceiver) {
	sig := &abortSignal{ch: make(chan struct{})}
	return &AbortSender{sig: sig}, &AbortReceiver{sig: sig}
}

// Abort fires the signal.
func (s *AbortSender) Abort() {
	s.sig.once.Do(func() {
		close(s.sig.ch)
	})
}

// Done is closed once the signal fired.
func (r *AbortReceiver) Done() <-chan struct{} {
	return r.sig.ch
}

// Aborted reports whether the signal already fired.
func (r *AbortReceiver) Aborted() bool {
	select {
	case <-r.sig.ch:
		return true
	default:
		return false
	}
}
