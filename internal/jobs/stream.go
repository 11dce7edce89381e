package jobs

import (
	"sync"

	"github.com/asteroid-belt/trophysync/internal/progress"
)

// stream carries snapshots one way, from a running job to the status
// store. Only the newest unsent snapshot is kept so a slow store never
// blocks the job.
type stream struct {
	mu     sync.Mutex
	latest *progress.Progress
	closed bool
	signal chan struct{}
	done   chan struct{}
}

var _ progress.Publisher = (*stream)(nil)

func newStream() *stream {
	return &stream{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Publish replaces the pending snapshot. Publishing after close is dropped.
func (s *stream) Publish(p progress.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.latest = &p
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// run delivers snapshots to write until the stream is closed.
func (s *stream) run(write func(progress.Progress)) {
	defer close(s.done)
	for range s.signal {
		if p := s.take(); p != nil {
			write(*p)
		}
	}
	// Flush whatever arrived between the last signal and close.
	if p := s.take(); p != nil {
		write(*p)
	}
}

func (s *stream) take() *progress.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.latest
	s.latest = nil
	return p
}

// close stops the stream and waits until every snapshot has been written.
func (s *stream) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.signal)
	}
	s.mu.Unlock()
	<-s.done
}
