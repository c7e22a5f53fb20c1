package crossfade

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tphakala/birdnet-go/internal/audiocore"
)

func TestMixRampInterpolateExactMatch(t *testing.T) {
	got := mixRampInterpolate("-20 0;-10 1", -20)
	assert.InDelta(t, 0.0, got, 1e-9)
}

// TestMixRampInterpolateLinear checks that for a two-point curve
// "a A;b B" with a<b, the value at required dB x in [a,b] equals
// A + (x-a)*(B-A)/(b-a).
func TestMixRampInterpolateLinear(t *testing.T) {
	got := mixRampInterpolate("-20 0;-10 1", -15)
	assert.InDelta(t, 0.5, got, 1e-9)
}

func TestMixRampInterpolateBelowRangeExtrapolatesToLeast(t *testing.T) {
	got := mixRampInterpolate("-20 0;-10 1", -30)
	assert.InDelta(t, 0.0, got, 1e-9, "required dB below the lowest point returns that point's seconds")
}

func TestMixRampInterpolateMalformedReturnsSentinel(t *testing.T) {
	got := mixRampInterpolate("garbage", -15)
	assert.Equal(t, -1.0, got)
}

func TestMixRampInterpolateEmptyReturnsSentinel(t *testing.T) {
	got := mixRampInterpolate("", -15)
	assert.Equal(t, -1.0, got)
}

// TestCalculateMixRampScenario reproduces the documented MixRamp
// scenario: symmetric "-20 0;-10 1" curves on both sides, mixramp_db
// -15, mixramp_delay 0.2s, 48kHz float stereo. Overlap = 0.5+0.5-0.2 =
// 0.8s, which at 93.75 chunks/s (384000 B/s / 4096 B/chunk) truncates
// to exactly 75 chunks.
func TestCalculateMixRampScenario(t *testing.T) {
	af := audiocore.AudioFormat{SampleRate: 48000, Format: audiocore.SampleFormatFloat, Channels: 2}
	s := Settings{Duration: 5, MixRampDB: -15, MixRampDelay: 0.2}

	total := audiocore.SignedFromDuration(60 * time.Second)
	chunks := s.Calculate(total, 0, 0, "-20 0;-10 1", "-20 0;-10 1", af, af, 10000)
	assert.Equal(t, 75, chunks)
}

func TestCalculateRejectsFormatMismatch(t *testing.T) {
	af := audiocore.AudioFormat{SampleRate: 48000, Format: audiocore.SampleFormatFloat, Channels: 2}
	other := audiocore.AudioFormat{SampleRate: 44100, Format: audiocore.SampleFormatS16, Channels: 2}
	s := Settings{Duration: 1}
	total := audiocore.SignedFromDuration(60 * time.Second)

	chunks := s.Calculate(total, 0, 0, "", "", af, other, 10000)
	assert.Equal(t, 0, chunks)
}

func TestCalculateRejectsDurationNotShorterThanSong(t *testing.T) {
	af := audiocore.AudioFormat{SampleRate: 48000, Format: audiocore.SampleFormatFloat, Channels: 2}
	s := Settings{Duration: 60}
	total := audiocore.SignedFromDuration(60 * time.Second)

	chunks := s.Calculate(total, 0, 0, "", "", af, af, 10000)
	assert.Equal(t, 0, chunks, "duration must be strictly less than total song time")
}

func TestCalculateSimpleMode(t *testing.T) {
	af := audiocore.AudioFormat{SampleRate: 44100, Format: audiocore.SampleFormatS16, Channels: 2}
	s := Settings{Duration: 2} // no MixRampDelay: Simple mode
	total := audiocore.SignedFromDuration(30 * time.Second)

	chunks := s.Calculate(total, 0, 0, "", "", af, af, 10000)
	// chunks_per_second = 44100*4/4096 ~= 43.066; *2s + 0.5 truncated.
	assert.Greater(t, chunks, 0)
	assert.LessOrEqual(t, chunks, 10000)
}

func TestCalculateCapsAtMaxChunks(t *testing.T) {
	af := audiocore.AudioFormat{SampleRate: 44100, Format: audiocore.SampleFormatS16, Channels: 2}
	s := Settings{Duration: 20}
	total := audiocore.SignedFromDuration(21 * time.Second)

	chunks := s.Calculate(total, 0, 0, "", "", af, af, 5)
	assert.Equal(t, 5, chunks)
}

// TestCalculateMonotonicityInDelay checks that for fixed settings and
// curves, increasing mixramp_delay never increases the computed
// overlap.
func TestCalculateMonotonicityInDelay(t *testing.T) {
	af := audiocore.AudioFormat{SampleRate: 48000, Format: audiocore.SampleFormatFloat, Channels: 2}
	total := audiocore.SignedFromDuration(60 * time.Second)

	prevChunks := -1
	for _, delay := range []float64{0.1, 0.2, 0.3, 0.4, 0.5} {
		s := Settings{Duration: 5, MixRampDB: -15, MixRampDelay: delay}
		chunks := s.Calculate(total, 0, 0, "-20 0;-10 1", "-20 0;-10 1", af, af, 10000)
		if prevChunks >= 0 {
			assert.LessOrEqual(t, chunks, prevChunks, "increasing delay must not increase overlap")
		}
		prevChunks = chunks
	}
}
