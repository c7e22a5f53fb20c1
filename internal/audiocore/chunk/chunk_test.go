package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/birdnet-go/internal/audiocore"
)

func TestChunkWriteEstablishesFormat(t *testing.T) {
	var c Chunk
	af := audiocore.AudioFormat{SampleRate: 44100, Format: audiocore.SampleFormatS16, Channels: 2}

	buf := c.Write(af, audiocore.NewSignedSongTime(0), 128)
	assert.Len(t, buf, PayloadSize)

	n := copy(buf, []byte{1, 2, 3, 4})
	require.NoError(t, c.Expand(af, n))
	assert.Equal(t, n, c.Length)
	assert.Equal(t, af, c.Format)
}

func TestChunkExpandRejectsFormatMismatch(t *testing.T) {
	var c Chunk
	af := audiocore.AudioFormat{SampleRate: 44100, Format: audiocore.SampleFormatS16, Channels: 2}
	other := audiocore.AudioFormat{SampleRate: 48000, Format: audiocore.SampleFormatFloat, Channels: 2}

	c.Write(af, audiocore.NewSignedSongTime(0), 0)
	require.NoError(t, c.Expand(af, 4))

	err := c.Expand(other, 4)
	assert.ErrorIs(t, err, audiocore.ErrFormatMismatch)
}

func TestChunkExpandFullWhenCapacityExceeded(t *testing.T) {
	var c Chunk
	af := audiocore.AudioFormat{SampleRate: 44100, Format: audiocore.SampleFormatS16, Channels: 2}
	c.Write(af, audiocore.NewSignedSongTime(0), 0)

	err := c.Expand(af, PayloadSize+1)
	assert.ErrorIs(t, err, ErrChunkFull)
}

func TestEmptyChunkLegalWithTag(t *testing.T) {
	c := Chunk{Tag: &Tag{Name: "boundary"}}
	assert.True(t, c.IsEmpty())
	assert.NotNil(t, c.Tag)
}
