package filter

import (
	"log/slog"
	"sync/atomic"

	"github.com/tphakala/birdnet-go/internal/audiocore"
	"github.com/tphakala/birdnet-go/internal/audiocore/filter/mix"
	"github.com/tphakala/birdnet-go/internal/errors"
	"github.com/tphakala/birdnet-go/internal/logging"
)

// VolumeUnity is the integer scale value representing unity gain (no
// change in level); 0 is silence. SetVolume clamps to [0, VolumeUnity],
// so the filter never amplifies.
const VolumeUnity = 1000

// VolumeFilter applies an integer software-volume scale to 16/32-bit
// PCM. It is installed into an output's chain only when that output's
// mixer is the software mixer; the volume itself is set from outside
// the audio thread (a client command), hence the atomic.
type VolumeFilter struct {
	name string
}

// NewVolumeFilter builds a named Volume template starting at unity.
func NewVolumeFilter(name string) *VolumeFilter { return &VolumeFilter{name: name} }

func (f *VolumeFilter) Name() string { return f.name }

func (f *VolumeFilter) Prepare() PreparedFilter {
	logger := logging.ForService("audioengine")
	if logger == nil {
		logger = slog.Default()
	}
	inst := &volumeInstance{logger: logger.With("component", "volume_filter", "filter", f.name)}
	inst.volume.Store(int64(VolumeUnity))
	return inst
}

type volumeInstance struct {
	volume atomic.Int64
	format audiocore.AudioFormat
	logger *slog.Logger
}

func (v *volumeInstance) Open(in audiocore.AudioFormat) (audiocore.AudioFormat, error) {
	if in.Format != audiocore.SampleFormatS16 && in.Format != audiocore.SampleFormatS32 &&
		in.Format != audiocore.SampleFormatS24P32 && in.Format != audiocore.SampleFormatFloat {
		return audiocore.AudioFormat{}, errors.New(audiocore.ErrInvalidAudioFormat).
			Component("filter").
			Category(errors.CategoryAudio).
			Context("filter", "volume").
			Context("format", in.String()).
			Build()
	}
	v.format = in
	return in, nil
}

func (v *volumeInstance) GetOutAudioFormat() audiocore.AudioFormat { return v.format }

func (v *volumeInstance) Reset() {}

// SetVolume sets the scale, clamped to [0, VolumeUnity]. Callable from
// any goroutine.
func (v *volumeInstance) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > VolumeUnity {
		volume = VolumeUnity
	}
	v.volume.Store(int64(volume))
}

// GetVolume returns the current scale.
func (v *volumeInstance) GetVolume() int { return int(v.volume.Load()) }

func (v *volumeInstance) FilterPCM(src []byte) ([]byte, error) {
	volume := v.volume.Load()
	if volume == VolumeUnity {
		return src, nil
	}
	if volume == 0 {
		dst := make([]byte, len(src))
		return dst, nil
	}

	dst := make([]byte, len(src))
	scale := float64(volume) / VolumeUnity
	applyScale(dst, src, v.format, scale)
	return dst, nil
}

func (v *volumeInstance) Flush() ([]byte, error) { return nil, nil }

func (v *volumeInstance) Close() {}

func applyScale(dst, src []byte, af audiocore.AudioFormat, scale float64) {
	switch af.Format {
	case audiocore.SampleFormatS16:
		if mix.WideKernel() {
			applyScaleS16Wide(dst, src, scale)
		} else {
			applyScaleS16Scalar(dst, src, scale)
		}
	case audiocore.SampleFormatS32, audiocore.SampleFormatS24P32:
		for i := 0; i+3 < len(src); i += 4 {
			s := int32(uint32(src[i]) | uint32(src[i+1])<<8 | uint32(src[i+2])<<16 | uint32(src[i+3])<<24)
			out := int32(clampf64(float64(s)*scale, -2147483648, 2147483647))
			u := uint32(out)
			dst[i] = byte(u)
			dst[i+1] = byte(u >> 8)
			dst[i+2] = byte(u >> 16)
			dst[i+3] = byte(u >> 24)
		}
	case audiocore.SampleFormatFloat:
		floats := decodePCM(src, af)
		for i := range floats {
			floats[i] = float32(float64(floats[i]) * scale)
		}
		copy(dst, encodePCM(floats, af))
	default:
		copy(dst, src)
	}
}

func applyScaleS16Sample(dst, src []byte, i int, scale float64) {
	s := int16(uint16(src[i]) | uint16(src[i+1])<<8)
	out := int16(clampf64(float64(s)*scale, -32768, 32767))
	dst[i] = byte(uint16(out))
	dst[i+1] = byte(uint16(out) >> 8)
}

func applyScaleS16Scalar(dst, src []byte, scale float64) {
	n := (len(src) / 2) * 2
	for i := 0; i+1 < n; i += 2 {
		applyScaleS16Sample(dst, src, i, scale)
	}
}

// applyScaleS16Wide is the batched counterpart to applyScaleS16Scalar,
// selected via mix.WideKernel when the host advertises AVX2 — see that
// function's doc comment for why a wider Go loop stands in for a real
// vector kernel here.
func applyScaleS16Wide(dst, src []byte, scale float64) {
	n := (len(src) / 2) * 2
	batch := n - n%8
	i := 0
	for ; i < batch; i += 8 {
		applyScaleS16Sample(dst, src, i, scale)
		applyScaleS16Sample(dst, src, i+2, scale)
		applyScaleS16Sample(dst, src, i+4, scale)
		applyScaleS16Sample(dst, src, i+6, scale)
	}
	for ; i+1 < n; i += 2 {
		applyScaleS16Sample(dst, src, i, scale)
	}
}
