package pipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/birdnet-go/internal/audiocore"
	"github.com/tphakala/birdnet-go/internal/audiocore/chunk"
)

func push(t *testing.T, p *Pipe, buf *chunk.Buffer, af audiocore.AudioFormat, n int) chunk.Handle {
	t.Helper()
	h, ok := buf.Allocate()
	require.True(t, ok)
	data := h.Chunk().Write(af, audiocore.NewSignedSongTime(0), 0)
	require.NoError(t, h.Chunk().Expand(af, copy(data, make([]byte, n))))
	p.Push(h.Chunk())
	return h
}

func TestPipeOrderPreservation(t *testing.T) {
	af := audiocore.AudioFormat{SampleRate: 44100, Format: audiocore.SampleFormatS16, Channels: 2}
	buf := chunk.NewBuffer(8)
	p := New()

	var handles []chunk.Handle
	for i := 0; i < 5; i++ {
		handles = append(handles, push(t, p, buf, af, 4))
	}
	assert.Equal(t, 5, p.Size())

	c1 := NewConsumer(p)
	c2 := NewConsumer(p)

	for i := 0; i < 5; i++ {
		got1 := c1.Get()
		got2 := c2.Get()
		require.NotNil(t, got1)
		require.NotNil(t, got2)
		assert.Same(t, handles[i].Chunk(), got1)
		assert.Same(t, handles[i].Chunk(), got2)
		c1.Consume()
		c2.Consume()
	}

	assert.Nil(t, c1.Get())
	assert.Nil(t, c2.Get())
}

func TestPipeShiftRemovesExactlyHead(t *testing.T) {
	af := audiocore.AudioFormat{SampleRate: 44100, Format: audiocore.SampleFormatS16, Channels: 2}
	buf := chunk.NewBuffer(4)
	p := New()

	h1 := push(t, p, buf, af, 4)
	h2 := push(t, p, buf, af, 4)

	shifted := p.Shift()
	assert.Same(t, h1.Chunk(), shifted)
	assert.Equal(t, 1, p.Size())
	assert.Same(t, h2.Chunk(), p.Peek())
}

// TestPipeConsumerSafety models the reclamation rule enforced by the
// fan-out hub: the head must only be shifted once every registered
// consumer reports IsConsumed for it. Pipe.Shift itself never checks
// consumers — that gate lives one layer up.
func TestPipeConsumerSafety(t *testing.T) {
	af := audiocore.AudioFormat{SampleRate: 44100, Format: audiocore.SampleFormatS16, Channels: 2}
	buf := chunk.NewBuffer(4)
	p := New()
	h := push(t, p, buf, af, 4)

	slow := NewConsumer(p)
	fast := NewConsumer(p)

	got := fast.Get()
	require.Same(t, h.Chunk(), got)
	fast.Consume()

	assert.True(t, fast.IsConsumed(h.Chunk()))
	assert.False(t, slow.IsConsumed(h.Chunk()), "a consumer that has not yet read the chunk must not report it consumed")

	canReclaim := fast.IsConsumed(h.Chunk()) && slow.IsConsumed(h.Chunk())
	assert.False(t, canReclaim, "head must not be reclaimed while any consumer is still behind")

	slow.Get()
	slow.Consume()
	canReclaim = fast.IsConsumed(h.Chunk()) && slow.IsConsumed(h.Chunk())
	assert.True(t, canReclaim, "once every consumer has passed the head it is safe to shift")
}

func TestPipeClearResetsFormat(t *testing.T) {
	af := audiocore.AudioFormat{SampleRate: 44100, Format: audiocore.SampleFormatS16, Channels: 2}
	buf := chunk.NewBuffer(4)
	p := New()
	push(t, p, buf, af, 4)

	_, known := p.Format()
	assert.True(t, known)

	head := p.Clear()
	assert.NotNil(t, head)
	assert.Equal(t, 0, p.Size())

	_, known = p.Format()
	assert.False(t, known)
}
