package mix

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tphakala/birdnet-go/internal/audiocore"
)

func s16le(v int16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(v))
	return b
}

// TestMixEnergyPreservation checks that mixing a buffer with itself at
// any ratio in [0,1] reproduces the same buffer (energy is conserved,
// not halved or doubled, when both sides are identical).
func TestMixEnergyPreservation(t *testing.T) {
	af := audiocore.AudioFormat{SampleRate: 44100, Format: audiocore.SampleFormatS16, Channels: 1}
	a := append(s16le(1000), s16le(-2000)...)
	b := append([]byte{}, a...)
	dst := make([]byte, len(a))

	for _, ratio := range []float32{0, 0.25, 0.5, 0.75, 1} {
		Mix(dst, a, b, af, ratio)
		assert.Equal(t, a, dst, "mixing identical buffers must reproduce the same signal regardless of ratio")
	}
}

func TestMixRatioEndpoints(t *testing.T) {
	af := audiocore.AudioFormat{SampleRate: 44100, Format: audiocore.SampleFormatS16, Channels: 1}
	a := s16le(1000)
	b := s16le(-1000)
	dst := make([]byte, 2)

	Mix(dst, a, b, af, 1)
	assert.Equal(t, a, dst, "ratio=1 must be pure a")

	Mix(dst, a, b, af, 0)
	assert.Equal(t, b, dst, "ratio=0 must be pure b")
}

func TestMixFloatMidpoint(t *testing.T) {
	af := audiocore.AudioFormat{SampleRate: 44100, Format: audiocore.SampleFormatFloat, Channels: 1}
	a := make([]byte, 4)
	b := make([]byte, 4)
	bytesFromFloat32(a, 1.0)
	bytesFromFloat32(b, -1.0)
	dst := make([]byte, 4)

	Mix(dst, a, b, af, 0.5)
	assert.InDelta(t, 0.0, float32FromBytes(dst), 1e-6)
}
