package filter

import (
	"log/slog"
	"math"

	"github.com/tphakala/birdnet-go/internal/audiocore"
	"github.com/tphakala/birdnet-go/internal/errors"
	"github.com/tphakala/birdnet-go/internal/logging"
)

// ConvertFilter resamples, re-quantizes, and channel-maps PCM from
// whatever Open negotiates down to a fixed target AudioFormat. target
// is a mask: zero/Undefined fields pass the input's value through
// unchanged, matching the engine's convert_filter_set semantics where
// only the fields the output actually constrains get overridden. A
// chain always ends with a Convert filter so the sink's current
// negotiated format can be changed later without disturbing upstream
// filters.
type ConvertFilter struct {
	name   string
	target audiocore.AudioFormat

	in     audiocore.AudioFormat
	out    audiocore.AudioFormat
	logger *slog.Logger
}

// NewConvertFilter builds a named Convert template against a target
// mask (use audiocore.Undefined() fields for "pass through").
func NewConvertFilter(name string, target audiocore.AudioFormat) *ConvertFilter {
	return &ConvertFilter{name: name, target: target}
}

func (f *ConvertFilter) Name() string { return f.name }

func (f *ConvertFilter) Prepare() PreparedFilter {
	logger := logging.ForService("audioengine")
	if logger == nil {
		logger = slog.Default()
	}
	return &convertInstance{filter: f, logger: logger.With("component", "convert_filter", "filter", f.name)}
}

// SetTarget changes the output format that instances opened after the
// call convert to; an instance already open keeps the output format it
// computed in Open.
func (f *ConvertFilter) SetTarget(target audiocore.AudioFormat) { f.target = target }

type convertInstance struct {
	filter *ConvertFilter
	in     audiocore.AudioFormat
	out    audiocore.AudioFormat
	logger *slog.Logger
}

func (c *convertInstance) Open(in audiocore.AudioFormat) (audiocore.AudioFormat, error) {
	if !in.IsFullyDefined() {
		return audiocore.AudioFormat{}, errors.New(audiocore.ErrInvalidAudioFormat).
			Component("filter").
			Category(errors.CategoryAudio).
			Context("filter", c.filter.name).
			Context("in_format", in.String()).
			Build()
	}
	c.in = in
	out := in
	out.ApplyMask(c.filter.target)
	c.out = out
	return in, nil
}

func (c *convertInstance) GetOutAudioFormat() audiocore.AudioFormat { return c.out }

func (c *convertInstance) Reset() {}

func (c *convertInstance) FilterPCM(src []byte) ([]byte, error) {
	if c.in == c.out {
		return src, nil
	}
	samples := decodePCM(src, c.in)
	samples = remapChannels(samples, int(c.in.Channels), int(c.out.Channels))
	if c.in.SampleRate != c.out.SampleRate {
		samples = resample(samples, int(c.out.Channels), int(c.in.SampleRate), int(c.out.SampleRate))
	}
	return encodePCM(samples, c.out), nil
}

func (c *convertInstance) Flush() ([]byte, error) { return nil, nil }

func (c *convertInstance) Close() {}

// decodePCM unpacks raw bytes in af into interleaved float samples in
// [-1, 1], the common currency for resampling and channel mapping.
func decodePCM(src []byte, af audiocore.AudioFormat) []float32 {
	fs := af.SampleSize()
	if fs == 0 {
		return nil
	}
	n := len(src) / fs
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		b := src[i*fs : i*fs+fs]
		switch af.Format {
		case audiocore.SampleFormatS8:
			out[i] = float32(int8(b[0])) / 128
		case audiocore.SampleFormatS16:
			v := int16(uint16(b[0]) | uint16(b[1])<<8)
			out[i] = float32(v) / 32768
		case audiocore.SampleFormatS24P32, audiocore.SampleFormatS32:
			v := int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
			out[i] = float32(float64(v) / 2147483648)
		case audiocore.SampleFormatFloat:
			bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
			out[i] = math.Float32frombits(bits)
		}
	}
	return out
}

// encodePCM packs interleaved float samples into af's wire format.
func encodePCM(samples []float32, af audiocore.AudioFormat) []byte {
	fs := af.SampleSize()
	out := make([]byte, len(samples)*fs)
	for i, s := range samples {
		b := out[i*fs : i*fs+fs]
		switch af.Format {
		case audiocore.SampleFormatS8:
			b[0] = byte(int8(clampf(s*128, -128, 127)))
		case audiocore.SampleFormatS16:
			v := int16(clampf(s*32768, -32768, 32767))
			b[0] = byte(uint16(v))
			b[1] = byte(uint16(v) >> 8)
		case audiocore.SampleFormatS24P32, audiocore.SampleFormatS32:
			v := int32(clampf64(float64(s)*2147483648, -2147483648, 2147483647))
			u := uint32(v)
			b[0] = byte(u)
			b[1] = byte(u >> 8)
			b[2] = byte(u >> 16)
			b[3] = byte(u >> 24)
		case audiocore.SampleFormatFloat:
			bits := math.Float32bits(s)
			b[0] = byte(bits)
			b[1] = byte(bits >> 8)
			b[2] = byte(bits >> 16)
			b[3] = byte(bits >> 24)
		}
	}
	return out
}

// remapChannels duplicates mono into stereo and averages stereo into
// mono; any other change of channel count keeps the first
// min(inCh, outCh) channels of each frame and leaves extra output
// channels silent. Equal channel counts pass through untouched (a
// same-channel-count reorder is a Route filter's job).
func remapChannels(samples []float32, inCh, outCh int) []float32 {
	if inCh == outCh || inCh == 0 || outCh == 0 {
		return samples
	}
	frames := len(samples) / inCh
	out := make([]float32, frames*outCh)
	switch {
	case inCh == 1 && outCh == 2:
		for i := 0; i < frames; i++ {
			out[i*2] = samples[i]
			out[i*2+1] = samples[i]
		}
	case inCh == 2 && outCh == 1:
		for i := 0; i < frames; i++ {
			out[i] = (samples[i*2] + samples[i*2+1]) / 2
		}
	default:
		// Other channel count change: copy the first min(inCh, outCh)
		// channels per frame; extra output channels stay silent.
		for i := 0; i < frames; i++ {
			for ch := 0; ch < outCh; ch++ {
				if ch < inCh {
					out[i*outCh+ch] = samples[i*inCh+ch]
				}
			}
		}
	}
	return out
}

// resample performs linear-interpolation sample-rate conversion,
// adequate for the cross-fade/output path's occasional rate mismatch;
// it is not a high-quality resampler.
func resample(samples []float32, channels, inRate, outRate int) []float32 {
	if inRate == outRate || channels == 0 || inRate == 0 {
		return samples
	}
	inFrames := len(samples) / channels
	if inFrames == 0 {
		return samples
	}
	outFrames := int(int64(inFrames) * int64(outRate) / int64(inRate))
	out := make([]float32, outFrames*channels)
	ratio := float64(inRate) / float64(outRate)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * ratio
		i0 := int(pos)
		i1 := i0 + 1
		if i1 >= inFrames {
			i1 = inFrames - 1
		}
		frac := float32(pos - float64(i0))
		for ch := 0; ch < channels; ch++ {
			a := samples[i0*channels+ch]
			b := samples[i1*channels+ch]
			out[i*channels+ch] = a + (b-a)*frac
		}
	}
	return out
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampf64(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
