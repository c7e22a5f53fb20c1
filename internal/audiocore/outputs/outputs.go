// Package outputs implements the fan-out of one shared pipe to many
// configured output.Control instances: open/play/cancel/drain broadcast
// to all of them, and CheckPipe reclaims chunks once every output has
// passed them.
package outputs

import (
	"log/slog"
	"sync"

	"github.com/tphakala/birdnet-go/internal/audiocore"
	"github.com/tphakala/birdnet-go/internal/audiocore/chunk"
	"github.com/tphakala/birdnet-go/internal/audiocore/output"
	"github.com/tphakala/birdnet-go/internal/audiocore/pipe"
	"github.com/tphakala/birdnet-go/internal/errors"
	"github.com/tphakala/birdnet-go/internal/logging"
)

// MultipleOutputs owns the set of configured outputs and the pipe they
// all read from. There is exactly one instance per engine.
type MultipleOutputs struct {
	mu      sync.Mutex
	outputs []*output.Control
	pipe    *pipe.Pipe
	buffer  *chunk.Buffer

	elapsed      audiocore.SignedSongTime
	elapsedKnown bool

	logger *slog.Logger
}

func New(buf *chunk.Buffer, outs ...*output.Control) *MultipleOutputs {
	logger := logging.ForService("audioengine")
	if logger == nil {
		logger = slog.Default()
	}
	return &MultipleOutputs{
		outputs: outs,
		buffer:  buf,
		logger:  logger.With("component", "multiple_outputs"),
	}
}

// Open enables and opens every output at af against p — the same pipe
// the decoder is already writing the song's chunks into, so no relay
// copy is needed between decode and playback. Succeeds if at least one
// output opens, otherwise rethrows the first error.
func (m *MultipleOutputs) Open(af audiocore.AudioFormat, p *pipe.Pipe) error {
	m.mu.Lock()
	m.pipe = p
	outs := append([]*output.Control(nil), m.outputs...)
	m.mu.Unlock()

	var firstErr error
	opened := 0
	for _, o := range outs {
		o.Enable()
		if !o.IsEnabled() {
			continue
		}
		o.Open(af, p)
		if o.IsOpen() {
			opened++
		} else if firstErr == nil {
			if failed, _, err := o.HasFailed(); failed {
				firstErr = err
			}
		}
	}
	if opened == 0 {
		if firstErr == nil {
			firstErr = errors.Newf("outputs: no output could be opened").
				Component("outputs").Category(errors.CategoryOutput).Build()
		}
		return firstErr
	}
	return nil
}

// RebindPipe swaps the shared pipe every output's cursor reads from,
// without a device close/open cycle: used at a song border once the
// previously-current pipe is exhausted.
func (m *MultipleOutputs) RebindPipe(p *pipe.Pipe) {
	m.mu.Lock()
	m.pipe = p
	outs := append([]*output.Control(nil), m.outputs...)
	m.mu.Unlock()

	for _, o := range outs {
		o.RebindConsumer(p)
	}
}

// Pipe returns the shared pipe every output reads from; valid once
// Open has succeeded.
func (m *MultipleOutputs) Pipe() *pipe.Pipe {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pipe
}

// Play pushes c into the shared pipe; the decoder/player is expected to
// have already called Open (and, per output, Update) so every consumer
// exists before the first Push.
func (m *MultipleOutputs) Play(c *chunk.Chunk) {
	m.mu.Lock()
	p := m.pipe
	m.mu.Unlock()
	if p == nil {
		return
	}
	p.Push(c)
}

// CheckPipe reclaims fully-consumed chunks from the head of the pipe: as
// long as every output reports IsConsumed for the head chunk, advance
// and release it back to the buffer. At the tail chunk, every output is
// made to quiesce (allowPlay cleared) before the pipe is rearranged,
// then allowed to resume.
func (m *MultipleOutputs) CheckPipe() {
	m.mu.Lock()
	p := m.pipe
	outs := append([]*output.Control(nil), m.outputs...)
	m.mu.Unlock()
	if p == nil {
		return
	}

	for {
		head := p.Peek()
		if head == nil {
			return
		}
		if head.Next == nil {
			// Tail chunk: quiesce every output before touching the
			// pipe structure underneath them, then resume.
			for _, o := range outs {
				o.SetAllowPlay(false)
			}
			consumed := m.allConsumed(outs, head)
			if consumed {
				m.adoptElapsed(head)
				p.Shift()
				m.buffer.Release(head)
			}
			for _, o := range outs {
				o.SetAllowPlay(true)
			}
			return
		}

		if !m.allConsumed(outs, head) {
			return
		}
		m.adoptElapsed(head)
		p.Shift()
		m.buffer.Release(head)
	}
}

func (m *MultipleOutputs) allConsumed(outs []*output.Control, head *chunk.Chunk) bool {
	for _, o := range outs {
		c := o.Consumer()
		if c == nil {
			continue
		}
		if !c.IsConsumed(head) {
			return false
		}
	}
	return true
}

// adoptElapsed records the reclaimed chunk's timestamp as the engine's
// last-known playback position.
func (m *MultipleOutputs) adoptElapsed(c *chunk.Chunk) {
	if c.Length == 0 {
		return
	}
	if v, ok := c.Time.Value(); ok {
		m.mu.Lock()
		m.elapsed = audiocore.NewSignedSongTime(v)
		m.elapsedKnown = true
		m.mu.Unlock()
	}
}

// Elapsed returns the last reclaimed chunk's timestamp.
func (m *MultipleOutputs) Elapsed() (audiocore.SignedSongTime, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elapsed, m.elapsedKnown
}

// Cancel broadcasts Cancel to every output, then clears and reopens the
// shared pipe; invalidates elapsed-time tracking.
func (m *MultipleOutputs) Cancel() {
	m.mu.Lock()
	outs := append([]*output.Control(nil), m.outputs...)
	p := m.pipe
	m.mu.Unlock()

	for _, o := range outs {
		o.Cancel()
	}
	if p != nil {
		for c := p.Clear(); c != nil; {
			next := c.Next
			c.Next = nil
			m.buffer.Release(c)
			c = next
		}
	}
	for _, o := range outs {
		o.SetAllowPlay(true)
	}

	m.mu.Lock()
	m.elapsedKnown = false
	m.mu.Unlock()
}

func (m *MultipleOutputs) Drain() {
	for _, o := range m.snapshot() {
		o.Drain()
	}
}

func (m *MultipleOutputs) Pause() {
	for _, o := range m.snapshot() {
		o.Pause()
	}
}

// Resume un-pauses every output's source loop without reopening the
// sink, the counterpart to Pause.
func (m *MultipleOutputs) Resume() {
	for _, o := range m.snapshot() {
		o.Play()
	}
}

// Release closes (or pauses, for always-on outputs) every output.
func (m *MultipleOutputs) Release() {
	for _, o := range m.snapshot() {
		o.Release()
	}
}

// SongBorder records that playback has crossed into a new song by
// clearing the hub's elapsed-known flag; the outputs themselves are
// not notified.
func (m *MultipleOutputs) SongBorder() {
	m.mu.Lock()
	m.elapsedKnown = false
	m.mu.Unlock()
}

func (m *MultipleOutputs) snapshot() []*output.Control {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*output.Control(nil), m.outputs...)
}

// Outputs returns the configured output set, for metrics/status use.
func (m *MultipleOutputs) Outputs() []*output.Control {
	return m.snapshot()
}
