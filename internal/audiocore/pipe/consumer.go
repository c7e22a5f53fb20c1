package pipe

import "github.com/tphakala/birdnet-go/internal/audiocore/chunk"

// Consumer is a per-output cursor into a Pipe. It never removes chunks
// from the pipe itself — reclamation is the fan-out hub's job
// (MultipleOutputs.CheckPipe), which only shifts the pipe's head once
// every registered Consumer reports it has passed that chunk.
type Consumer struct {
	pipe     *Pipe
	current  *chunk.Chunk
	consumed bool
}

// NewConsumer creates a cursor over pipe, starting before the head.
func NewConsumer(p *Pipe) *Consumer {
	return &Consumer{pipe: p}
}

// Get returns the chunk this consumer should process next: the pipe's
// head on first call, or the chunk following the last one marked
// Consume()d. Returns nil when there is nothing new to read yet.
func (s *Consumer) Get() *chunk.Chunk {
	switch {
	case s.current == nil:
		s.current = s.pipe.Peek()
	case s.consumed:
		s.current = s.current.Next
		s.consumed = false
	}
	return s.current
}

// Consume marks the chunk last returned by Get as fully processed by
// this consumer.
func (s *Consumer) Consume() {
	s.consumed = true
}

// IsConsumed reports whether this consumer has already read past c —
// either because c is its current chunk and has been marked Consume()d,
// or because its cursor has already advanced beyond c in FIFO order.
func (s *Consumer) IsConsumed(c *chunk.Chunk) bool {
	if s.current == nil {
		return false
	}
	if s.current == c {
		return s.consumed
	}
	return true
}

// Reset rewinds the cursor to "before the head", used when the pipe is
// replaced or cleared (e.g. on Cancel or a cross-song seek).
func (s *Consumer) Reset() {
	s.current = nil
	s.consumed = false
}
