package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/birdnet-go/internal/audiocore"
)

func mono16(af audiocore.AudioFormat, samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(uint16(s))
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

func TestConvertFilterSameFormatPassthrough(t *testing.T) {
	af := audiocore.AudioFormat{SampleRate: 44100, Format: audiocore.SampleFormatS16, Channels: 2}
	c := NewConvertFilter("c", af).Prepare()
	_, err := c.Open(af)
	require.NoError(t, err)
	assert.Equal(t, af, c.GetOutAudioFormat())

	src := mono16(af, 1, 2, 3, 4)
	out, err := c.FilterPCM(src)
	require.NoError(t, err)
	assert.Equal(t, src, out, "identical in/out format must not copy or alter bytes")
}

func TestConvertFilterMonoToStereo(t *testing.T) {
	in := audiocore.AudioFormat{SampleRate: 44100, Format: audiocore.SampleFormatS16, Channels: 1}
	target := audiocore.AudioFormat{Channels: 2}
	c := NewConvertFilter("c", target).Prepare()
	_, err := c.Open(in)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), c.GetOutAudioFormat().Channels)

	src := mono16(in, 1000, -1000)
	out, err := c.FilterPCM(src)
	require.NoError(t, err)
	assert.Len(t, out, 8, "two mono frames become two stereo frames, 4 bytes each")
}

func TestVolumeFilterUnityIsNoop(t *testing.T) {
	af := audiocore.AudioFormat{SampleRate: 44100, Format: audiocore.SampleFormatS16, Channels: 1}
	vRaw := NewVolumeFilter("vol").Prepare()
	v := vRaw.(*volumeInstance)
	_, err := v.Open(af)
	require.NoError(t, err)

	src := mono16(af, 1234, -5678)
	out, err := v.FilterPCM(src)
	require.NoError(t, err)
	assert.Equal(t, src, out)
}

func TestVolumeFilterZeroIsSilence(t *testing.T) {
	af := audiocore.AudioFormat{SampleRate: 44100, Format: audiocore.SampleFormatS16, Channels: 1}
	vRaw := NewVolumeFilter("vol").Prepare()
	v := vRaw.(*volumeInstance)
	_, err := v.Open(af)
	require.NoError(t, err)
	v.SetVolume(0)

	src := mono16(af, 1234, -5678)
	out, err := v.FilterPCM(src)
	require.NoError(t, err)
	for _, b := range out {
		assert.Equal(t, byte(0), b)
	}
}

func TestRouteFilterMonoDuplicate(t *testing.T) {
	in := audiocore.AudioFormat{SampleRate: 44100, Format: audiocore.SampleFormatS16, Channels: 1}
	r, err := NewRouteFilter("route", "0>0,0>1")
	require.NoError(t, err)
	inst := r.Prepare()
	_, err = inst.Open(in)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), inst.GetOutAudioFormat().Channels)

	src := mono16(in, 777)
	out, err := inst.FilterPCM(src)
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, out[0:2], out[2:4])
}

func TestRouteFilterRejectsBadTable(t *testing.T) {
	_, err := NewRouteFilter("route", "not-a-table")
	assert.Error(t, err)
}

func TestChainFilterEndsWithConvertFormat(t *testing.T) {
	in := audiocore.AudioFormat{SampleRate: 44100, Format: audiocore.SampleFormatS16, Channels: 2}
	target := audiocore.AudioFormat{SampleRate: 48000}
	chain := NewChainFilter("chain",
		NewVolumeFilter("vol"),
		NewConvertFilter("out", target),
	)
	inst := chain.Prepare()
	_, err := inst.Open(in)
	require.NoError(t, err)
	assert.Equal(t, uint32(48000), inst.GetOutAudioFormat().SampleRate)
}

// monoOnlyFilter is a test double standing in for a plugin that only
// accepts mono input no matter what format it is opened with,
// exercising AutoConvertFilter's decision to insert a Convert stage.
type monoOnlyFilter struct{}

func (monoOnlyFilter) Name() string          { return "mono-only" }
func (monoOnlyFilter) Prepare() PreparedFilter { return &monoOnlyInstance{} }

type monoOnlyInstance struct{ format audiocore.AudioFormat }

func (m *monoOnlyInstance) Open(in audiocore.AudioFormat) (audiocore.AudioFormat, error) {
	required := in
	required.Channels = 1
	m.format = required
	return required, nil
}
func (m *monoOnlyInstance) GetOutAudioFormat() audiocore.AudioFormat { return m.format }
func (m *monoOnlyInstance) Reset()                                  {}
func (m *monoOnlyInstance) FilterPCM(src []byte) ([]byte, error)     { return src, nil }
func (m *monoOnlyInstance) Flush() ([]byte, error)                   { return nil, nil }
func (m *monoOnlyInstance) Close()                                  {}

func TestAutoConvertInsertsStageOnMismatch(t *testing.T) {
	in := audiocore.AudioFormat{SampleRate: 44100, Format: audiocore.SampleFormatS16, Channels: 2}
	auto := NewAutoConvertFilter("auto", monoOnlyFilter{})
	instRaw := auto.Prepare()
	inst := instRaw.(*autoConvertInstance)

	_, err := inst.Open(in)
	require.NoError(t, err)
	assert.NotNil(t, inst.convert, "a Convert stage must be inserted when the child narrows its input")
	assert.Equal(t, uint8(1), inst.GetOutAudioFormat().Channels)

	src := mono16(in, 1, 2, 3, 4)
	out, err := inst.FilterPCM(src)
	require.NoError(t, err)
	assert.Len(t, out, 4, "stereo->mono via the inserted convert halves the byte count")
}
