package audiocore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioFormatRoundTrip(t *testing.T) {
	cases := []AudioFormat{
		{SampleRate: 44100, Format: SampleFormatS16, Channels: 2},
		{SampleRate: 48000, Format: SampleFormatFloat, Channels: 2},
		{SampleRate: 96000, Format: SampleFormatS24P32, Channels: 1},
		{SampleRate: 192000, Format: SampleFormatS32, Channels: 8},
		{SampleRate: 2822400, Format: SampleFormatDSD, Channels: 2},
	}
	for _, af := range cases {
		t.Run(af.String(), func(t *testing.T) {
			parsed, err := ParseAudioFormat(af.String(), false)
			require.NoError(t, err)
			assert.Equal(t, af, parsed)
		})
	}
}

func TestAudioFormatParseRejectsOutOfRange(t *testing.T) {
	_, err := ParseAudioFormat("0:16:2", false)
	assert.Error(t, err)

	_, err = ParseAudioFormat("44100:16:9", false)
	assert.Error(t, err)

	_, err = ParseAudioFormat("44100:16:0", false)
	assert.Error(t, err)

	_, err = ParseAudioFormat("1073741824:16:2", false)
	assert.Error(t, err)
}

func TestAudioFormatMaskParsing(t *testing.T) {
	mask, err := ParseAudioFormat("44100:*:2", true)
	require.NoError(t, err)
	assert.True(t, mask.IsMaskDefined())
	assert.False(t, mask.IsFullyDefined())

	_, err = ParseAudioFormat("44100:*:2", false)
	assert.Error(t, err, "* is only valid in mask mode")
}

func TestAudioFormatApplyMaskIdempotent(t *testing.T) {
	af := AudioFormat{SampleRate: 44100, Format: SampleFormatS16, Channels: 2}
	mask := AudioFormat{SampleRate: 48000, Channels: 0, Format: SampleFormatUndefined}

	once := af
	once.ApplyMask(mask)

	twice := once
	twice.ApplyMask(mask)

	assert.Equal(t, once, twice)
	assert.Equal(t, uint32(48000), once.SampleRate)
	assert.Equal(t, uint8(2), once.Channels, "zero mask field preserves original value")
	assert.Equal(t, SampleFormatS16, once.Format, "zero mask field preserves original value")
}

func TestFrameArithmeticRoundTrip(t *testing.T) {
	af := AudioFormat{SampleRate: 48000, Format: SampleFormatFloat, Channels: 2}
	frameSize := af.FrameSize()
	require.Equal(t, 8, frameSize)

	for frames := int64(0); frames < 100; frames++ {
		n := frames * int64(frameSize)
		got := af.TimeToSize(af.SizeToTime(n))
		assert.Equal(t, n, got)
	}
}

func TestDSDFrameSize(t *testing.T) {
	af := AudioFormat{SampleRate: 2822400, Format: SampleFormatDSD, Channels: 2}
	assert.Equal(t, 2, af.FrameSize(), "DSD carries one byte per channel per frame")
}
