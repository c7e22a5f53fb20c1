package audiocore

import (
	"fmt"
	"strconv"
	"strings"
)

// ComponentAudioCore names this package to the errors package's
// component-detection registry.
const ComponentAudioCore = "audiocore"

// SampleFormat is the on-the-wire sample encoding of a PCM stream.
type SampleFormat uint8

const (
	SampleFormatUndefined SampleFormat = iota
	SampleFormatS8
	SampleFormatS16
	SampleFormatS24P32 // 24-bit signed, packed into 32-bit words
	SampleFormatS32
	SampleFormatFloat // 32-bit float, range [-1.0, 1.0]
	SampleFormatDSD   // 1-bit samples, 8 per channel per byte
)

// String renders the sample format the way AudioFormat's wire string does.
func (f SampleFormat) String() string {
	switch f {
	case SampleFormatS8:
		return "8"
	case SampleFormatS16:
		return "16"
	case SampleFormatS24P32:
		return "24"
	case SampleFormatS32:
		return "32"
	case SampleFormatFloat:
		return "f"
	case SampleFormatDSD:
		return "dsd"
	default:
		return "?"
	}
}

// SampleSize is the size in bytes of a single (mono) sample.
func (f SampleFormat) SampleSize() int {
	switch f {
	case SampleFormatS8:
		return 1
	case SampleFormatS16:
		return 2
	case SampleFormatS24P32, SampleFormatS32, SampleFormatFloat:
		return 4
	case SampleFormatDSD:
		return 1
	default:
		return 0
	}
}

// MaxChannels bounds AudioFormat.Channels; only mono and stereo are fully
// exercised by the filter chain, but up to 8 channels are accepted.
const MaxChannels = 8

// minSampleRate/maxSampleRate bound AudioFormat.SampleRate: [1, 2^30).
const (
	minSampleRate = 1
	maxSampleRate = 1 << 30
)

// AudioFormat describes a raw PCM stream: sample rate, sample encoding,
// and channel count. The zero value is Undefined.
type AudioFormat struct {
	SampleRate uint32
	Format     SampleFormat
	Channels   uint8
}

// Undefined returns the zero AudioFormat.
func Undefined() AudioFormat { return AudioFormat{} }

// IsDefined reports whether the sample rate has been set; cheaper than
// IsFullyDefined and used as a fast existence check.
func (af AudioFormat) IsDefined() bool { return af.SampleRate != 0 }

// IsFullyDefined reports whether every field carries a concrete value.
func (af AudioFormat) IsFullyDefined() bool {
	return af.SampleRate != 0 && af.Format != SampleFormatUndefined && af.Channels != 0
}

// IsMaskDefined reports whether at least one field is set; used when af
// is being interpreted as a mask.
func (af AudioFormat) IsMaskDefined() bool {
	return af.SampleRate != 0 || af.Format != SampleFormatUndefined || af.Channels != 0
}

// IsValid reports whether af could describe a real PCM stream.
func (af AudioFormat) IsValid() bool {
	return af.SampleRate >= minSampleRate && af.SampleRate < maxSampleRate &&
		af.Format != SampleFormatUndefined &&
		af.Channels >= 1 && af.Channels <= MaxChannels
}

// IsMaskValid reports whether af could describe a valid mask: any field
// may be zero/undefined ("any"), but a non-zero field must itself be valid.
func (af AudioFormat) IsMaskValid() bool {
	if af.SampleRate != 0 && (af.SampleRate < minSampleRate || af.SampleRate >= maxSampleRate) {
		return false
	}
	if af.Channels != 0 && af.Channels > MaxChannels {
		return false
	}
	return true
}

// Clear resets af to Undefined.
func (af *AudioFormat) Clear() { *af = AudioFormat{} }

// ApplyMask overwrites only the fields of af that mask sets (non-zero).
func (af *AudioFormat) ApplyMask(mask AudioFormat) {
	if mask.SampleRate != 0 {
		af.SampleRate = mask.SampleRate
	}
	if mask.Format != SampleFormatUndefined {
		af.Format = mask.Format
	}
	if mask.Channels != 0 {
		af.Channels = mask.Channels
	}
}

// SampleSize is the size in bytes of a single (mono) sample.
func (af AudioFormat) SampleSize() int { return af.Format.SampleSize() }

// FrameSize is the size in bytes of one frame (all channels). DSD frames
// carry 8 samples per channel per byte, so DSD's frame size is just the
// channel count, not SampleSize()*Channels.
func (af AudioFormat) FrameSize() int {
	if af.Format == SampleFormatDSD {
		return int(af.Channels)
	}
	return af.SampleSize() * int(af.Channels)
}

// BytesPerSecond is the floating-point factor converting a time span in
// seconds to a storage size in bytes: sample_rate * frame_size. Used by
// the cross-fade calculator to turn a duration into a chunk count.
func (af AudioFormat) BytesPerSecond() float64 {
	return float64(af.SampleRate) * float64(af.FrameSize())
}

// SizeToTime converts a byte count to a duration in whole milliseconds;
// partial frames are ignored and the result is truncated, not rounded.
func (af AudioFormat) SizeToTime(size int64) SongTime {
	fs := af.FrameSize()
	if fs == 0 || af.SampleRate == 0 {
		return 0
	}
	frames := size / int64(fs)
	ms := frames * 1000 / int64(af.SampleRate)
	return SongTime(ms)
}

// TimeToSize converts a duration to the byte count of the whole frames
// it spans at this format's rate (truncated). Because SongTime has
// millisecond resolution, TimeToSize(SizeToTime(n)) == n only when n
// covers a whole number of milliseconds' worth of frames.
func (af AudioFormat) TimeToSize(t SongTime) int64 {
	fs := af.FrameSize()
	frames := int64(t) * int64(af.SampleRate) / 1000
	return frames * int64(fs)
}

// String renders af as "<rate>:<bits>:<channels>".
func (af AudioFormat) String() string {
	return fmt.Sprintf("%d:%s:%d", af.SampleRate, af.Format, af.Channels)
}

// ParseAudioFormat parses the "<rate>:<bits>:<channels>" wire format. Any
// field may be "*" to produce a mask value (0/Undefined in that field).
// Accepts "24_3" as a backwards-compatible alias for 24-bit.
func ParseAudioFormat(s string, mask bool) (AudioFormat, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return AudioFormat{}, fmt.Errorf("audioformat: expected 3 colon-separated fields, got %d in %q", len(parts), s)
	}

	var af AudioFormat

	if parts[0] == "*" {
		if !mask {
			return AudioFormat{}, fmt.Errorf("audioformat: %q not allowed outside mask mode", "*")
		}
	} else {
		rate, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			return AudioFormat{}, fmt.Errorf("audioformat: invalid sample rate %q: %w", parts[0], err)
		}
		if rate < minSampleRate || rate >= maxSampleRate {
			return AudioFormat{}, fmt.Errorf("audioformat: sample rate %d out of range", rate)
		}
		af.SampleRate = uint32(rate)
	}

	if parts[1] == "*" {
		if !mask {
			return AudioFormat{}, fmt.Errorf("audioformat: %q not allowed outside mask mode", "*")
		}
	} else {
		format, err := parseSampleFormat(parts[1])
		if err != nil {
			return AudioFormat{}, err
		}
		af.Format = format
	}

	if parts[2] == "*" {
		if !mask {
			return AudioFormat{}, fmt.Errorf("audioformat: %q not allowed outside mask mode", "*")
		}
	} else {
		channels, err := strconv.ParseUint(parts[2], 10, 8)
		if err != nil {
			return AudioFormat{}, fmt.Errorf("audioformat: invalid channel count %q: %w", parts[2], err)
		}
		if channels < 1 || channels > MaxChannels {
			return AudioFormat{}, fmt.Errorf("audioformat: channel count %d out of range [1,%d]", channels, MaxChannels)
		}
		af.Channels = uint8(channels)
	}

	if mask {
		if !af.IsMaskValid() {
			return AudioFormat{}, fmt.Errorf("audioformat: invalid mask %q", s)
		}
	} else if !af.IsValid() {
		return AudioFormat{}, fmt.Errorf("audioformat: invalid format %q", s)
	}

	return af, nil
}

func parseSampleFormat(s string) (SampleFormat, error) {
	switch s {
	case "8":
		return SampleFormatS8, nil
	case "16":
		return SampleFormatS16, nil
	case "24", "24_3":
		return SampleFormatS24P32, nil
	case "32":
		return SampleFormatS32, nil
	case "f":
		return SampleFormatFloat, nil
	case "dsd":
		return SampleFormatDSD, nil
	default:
		return SampleFormatUndefined, fmt.Errorf("audioformat: unknown bit-depth token %q", s)
	}
}
