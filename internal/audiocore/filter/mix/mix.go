// Package mix implements pcm_mix, the cross-fade kernel that combines
// two PCM buffers of the same AudioFormat into one. The output stage
// calls this once per chunk that carries an "other" buffer during a
// cross-fade.
package mix

import (
	"log/slog"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"github.com/tphakala/birdnet-go/internal/audiocore"
	"github.com/tphakala/birdnet-go/internal/logging"
)

var (
	logOnce    sync.Once
	avx2Logged bool
	wideKernel bool
)

// HasAVX2 reports whether the running CPU advertises AVX2.
func HasAVX2() bool {
	return cpuid.CPU.Supports(cpuid.AVX2)
}

// WideKernel reports whether the S16 mix/scale kernels should use the
// 4-samples-per-iteration loop instead of the one-sample-at-a-time
// loop. AVX2 machines also tend to have wider load/store ports and
// better auto-vectorization of a batched loop body than the Go
// compiler gets from the naive per-sample version, so this is the
// gate both filter/mix and filter's volume scaler dispatch on. Without
// cgo or assembly there is no real SIMD intrinsic to call into; this
// is the batched-loop substitute the detected width buys us.
func WideKernel() bool {
	logCapabilityOnce()
	return wideKernel
}

func logCapabilityOnce() {
	logOnce.Do(func() {
		logger := logging.ForService("audioengine")
		if logger == nil {
			logger = slog.Default()
		}
		avx2Logged = HasAVX2()
		wideKernel = avx2Logged
		logger.With("component", "pcm_mix").Info("cross-fade mix kernel ready", "avx2", avx2Logged, "wide_kernel", wideKernel)
	})
}

// Mix combines a and b, both in format af and of equal frame count,
// into dst using ratio as the weight of a (b gets 1-ratio). ratio must
// be in [0,1]. dst, a and b must all be the same length; dst may alias
// a or b.
func Mix(dst, a, b []byte, af audiocore.AudioFormat, ratio float32) {
	logCapabilityOnce()

	switch af.Format {
	case audiocore.SampleFormatS16:
		mixS16(dst, a, b, ratio)
	case audiocore.SampleFormatS32, audiocore.SampleFormatS24P32:
		mixS32(dst, a, b, ratio)
	case audiocore.SampleFormatFloat:
		mixFloat(dst, a, b, ratio)
	case audiocore.SampleFormatS8:
		mixS8(dst, a, b, ratio)
	default:
		// DSD and anything else: no meaningful linear mix, fall back to
		// a straight crossover at the midpoint of the ratio.
		if ratio >= 0.5 {
			copy(dst, a)
		} else {
			copy(dst, b)
		}
	}
}

func mixS8(dst, a, b []byte, ratio float32) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		v := float32(int8(a[i]))*ratio + float32(int8(b[i]))*(1-ratio)
		dst[i] = byte(int8(clamp(v, -128, 127)))
	}
}

func mixS16(dst, a, b []byte, ratio float32) {
	if WideKernel() {
		mixS16Wide(dst, a, b, ratio)
		return
	}
	mixS16Scalar(dst, a, b, ratio)
}

func mixS16Scalar(dst, a, b []byte, ratio float32) {
	n := (len(a) / 2) * 2
	if nb := (len(b) / 2) * 2; nb < n {
		n = nb
	}
	for i := 0; i+1 < n; i += 2 {
		mixS16Sample(dst, a, b, i, ratio)
	}
}

// mixS16Wide processes four samples per loop iteration, the batched
// substitute for a real vector kernel described on WideKernel. Any
// tail shorter than one batch falls back to the scalar sample loop.
func mixS16Wide(dst, a, b []byte, ratio float32) {
	n := (len(a) / 2) * 2
	if nb := (len(b) / 2) * 2; nb < n {
		n = nb
	}
	batch := n - n%8
	i := 0
	for ; i < batch; i += 8 {
		mixS16Sample(dst, a, b, i, ratio)
		mixS16Sample(dst, a, b, i+2, ratio)
		mixS16Sample(dst, a, b, i+4, ratio)
		mixS16Sample(dst, a, b, i+6, ratio)
	}
	for ; i+1 < n; i += 2 {
		mixS16Sample(dst, a, b, i, ratio)
	}
}

func mixS16Sample(dst, a, b []byte, i int, ratio float32) {
	av := int16(uint16(a[i]) | uint16(a[i+1])<<8)
	bv := int16(uint16(b[i]) | uint16(b[i+1])<<8)
	v := float32(av)*ratio + float32(bv)*(1-ratio)
	mixed := int16(clamp(v, -32768, 32767))
	dst[i] = byte(uint16(mixed))
	dst[i+1] = byte(uint16(mixed) >> 8)
}

func mixS32(dst, a, b []byte, ratio float32) {
	n := (len(a) / 4) * 4
	if nb := (len(b) / 4) * 4; nb < n {
		n = nb
	}
	for i := 0; i+3 < n; i += 4 {
		av := int32(uint32(a[i]) | uint32(a[i+1])<<8 | uint32(a[i+2])<<16 | uint32(a[i+3])<<24)
		bv := int32(uint32(b[i]) | uint32(b[i+1])<<8 | uint32(b[i+2])<<16 | uint32(b[i+3])<<24)
		v := float64(av)*float64(ratio) + float64(bv)*float64(1-ratio)
		mixed := int32(clamp64(v, -2147483648, 2147483647))
		u := uint32(mixed)
		dst[i] = byte(u)
		dst[i+1] = byte(u >> 8)
		dst[i+2] = byte(u >> 16)
		dst[i+3] = byte(u >> 24)
	}
}

func mixFloat(dst, a, b []byte, ratio float32) {
	n := (len(a) / 4) * 4
	if nb := (len(b) / 4) * 4; nb < n {
		n = nb
	}
	for i := 0; i+3 < n; i += 4 {
		av := float32FromBytes(a[i : i+4])
		bv := float32FromBytes(b[i : i+4])
		mixed := av*ratio + bv*(1-ratio)
		bytesFromFloat32(dst[i:i+4], mixed)
	}
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp64(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
