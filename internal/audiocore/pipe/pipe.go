// Package pipe implements MusicPipe, the single-producer/multi-consumer
// FIFO of chunks that connects the decoder to the player and, through
// MultipleOutputs, to every output stage.
package pipe

import (
	"sync"

	"github.com/tphakala/birdnet-go/internal/audiocore"
	"github.com/tphakala/birdnet-go/internal/audiocore/chunk"
)

// Pipe is an intrusive singly-linked FIFO of chunks with head/tail
// pointers and a size counter, protected by an internal mutex. One
// producer (the decoder) pushes at the tail; any number of consumers
// read from the head via their own Consumer cursor.
type Pipe struct {
	mu   sync.Mutex
	head *chunk.Chunk
	tail *chunk.Chunk
	size int

	format      audiocore.AudioFormat
	formatKnown bool
}

// New creates an empty pipe with no established format yet; the format
// is latched by the first non-empty Push.
func New() *Pipe {
	return &Pipe{}
}

// Format returns the pipe's established AudioFormat; the second return
// value is false until the first non-empty chunk has been pushed.
func (p *Pipe) Format() (audiocore.AudioFormat, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.format, p.formatKnown
}

// Size returns the number of chunks currently queued.
func (p *Pipe) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// CheckFormat reports whether c's format is compatible with the pipe's
// established format: the pipe has none yet, c is empty (tag-only), or
// the formats are equal. A caller pushing a mismatched chunk has a bug.
func (p *Pipe) CheckFormat(c *chunk.Chunk) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.formatKnown || c.IsEmpty() {
		return true
	}
	return c.Format == p.format
}

// Push appends c at the tail. The first non-empty push establishes the
// pipe's format.
func (p *Pipe) Push(c *chunk.Chunk) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.formatKnown && !c.IsEmpty() {
		p.format = c.Format
		p.formatKnown = true
	}

	c.Next = nil
	if p.tail == nil {
		p.head = c
	} else {
		p.tail.Next = c
	}
	p.tail = c
	p.size++
}

// Peek returns the head chunk without removing it, or nil if empty.
func (p *Pipe) Peek() *chunk.Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.head
}

// Shift detaches and returns the head chunk, or nil if the pipe is
// empty. The caller takes ownership of the returned chunk's slab slot.
func (p *Pipe) Shift() *chunk.Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.head
	if c == nil {
		return nil
	}
	p.head = c.Next
	if p.head == nil {
		p.tail = nil
	}
	c.Next = nil
	p.size--
	return c
}

// Clear detaches every queued chunk and returns the former head of the
// now-empty list to the caller for release; resets the established
// format so the pipe can be reused for a different song.
func (p *Pipe) Clear() *chunk.Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()

	head := p.head
	p.head = nil
	p.tail = nil
	p.size = 0
	p.formatKnown = false
	p.format = audiocore.AudioFormat{}
	return head
}
