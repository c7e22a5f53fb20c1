package filter

import (
	"github.com/tphakala/birdnet-go/internal/audiocore"
)

// NormalizeFilter is an adaptive compressor: it tracks a short-term
// peak envelope and continuously adjusts gain to bring it toward a
// target level, smoothed by separate attack/release time constants so
// gain changes don't introduce audible pumping.
type NormalizeFilter struct {
	name    string
	target  float32
	attack  float32
	release float32
}

// NewNormalizeFilter builds a named Normalize template. target is the
// desired peak level in [0,1]; attack/release are per-block smoothing
// factors in (0,1], closer to 1 reacting faster.
func NewNormalizeFilter(name string, target, attack, release float32) *NormalizeFilter {
	if target <= 0 {
		target = 0.8
	}
	if attack <= 0 || attack > 1 {
		attack = 0.1
	}
	if release <= 0 || release > 1 {
		release = 0.01
	}
	return &NormalizeFilter{name: name, target: target, attack: attack, release: release}
}

func (f *NormalizeFilter) Name() string { return f.name }

func (f *NormalizeFilter) Prepare() PreparedFilter {
	return &normalizeInstance{filter: f, gain: 1.0, peak: f.target}
}

type normalizeInstance struct {
	filter *NormalizeFilter
	format audiocore.AudioFormat
	gain   float32
	peak   float32
}

func (n *normalizeInstance) Open(in audiocore.AudioFormat) (audiocore.AudioFormat, error) {
	n.format = in
	return in, nil
}

func (n *normalizeInstance) GetOutAudioFormat() audiocore.AudioFormat { return n.format }

func (n *normalizeInstance) Reset() {
	n.gain = 1.0
	n.peak = n.filter.target
}

func (n *normalizeInstance) FilterPCM(src []byte) ([]byte, error) {
	samples := decodePCM(src, n.format)
	if len(samples) == 0 {
		return src, nil
	}

	var blockPeak float32
	for _, s := range samples {
		if a := abs32(s); a > blockPeak {
			blockPeak = a
		}
	}

	if blockPeak > n.peak {
		n.peak += (blockPeak - n.peak) * n.filter.attack
	} else {
		n.peak += (blockPeak - n.peak) * n.filter.release
	}
	if n.peak < 1e-4 {
		n.peak = 1e-4
	}

	desiredGain := n.filter.target / n.peak
	const maxGain = 8.0
	if desiredGain > maxGain {
		desiredGain = maxGain
	}
	n.gain = desiredGain

	for i := range samples {
		samples[i] = clampf(samples[i]*n.gain, -1, 1)
	}
	return encodePCM(samples, n.format), nil
}

func (n *normalizeInstance) Flush() ([]byte, error) { return nil, nil }

func (n *normalizeInstance) Close() {}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
