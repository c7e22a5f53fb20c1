// Package mixer implements the three volume-control strategies an
// output can be configured with: software (a VolumeFilter in the
// chain), hardware (talks to the sink's own volume control), and null
// (accepts and echoes values without affecting playback).
package mixer

import (
	"sync"
	"time"

	"github.com/tphakala/birdnet-go/internal/audiocore/filter"
	"github.com/tphakala/birdnet-go/internal/errors"
)

// hardwareVolumeCacheTTL bounds how often a hardware mixer re-queries
// the device.
const hardwareVolumeCacheTTL = time.Second

// volumeController is the narrow capability a prepared VolumeFilter
// instance exposes; declared locally since the filter package only
// returns the opaque PreparedFilter interface from Prepare().
type volumeController interface {
	SetVolume(int)
	GetVolume() int
}

// Software drives an output's prepared VolumeFilter instance; percent
// is in [0, 100] and maps linearly onto filter.VolumeUnity.
type Software struct {
	vf volumeController
}

// NewSoftware wraps a prepared VolumeFilter instance (as returned by
// (*filter.VolumeFilter).Prepare(), already Open()'d into the output's
// chain) for volume control. Returns an error if inst does not carry
// the expected SetVolume/GetVolume methods.
func NewSoftware(inst filter.PreparedFilter) (*Software, error) {
	vc, ok := inst.(volumeController)
	if !ok {
		return nil, errors.Newf("mixer: prepared filter does not support software volume control").
			Component("mixer").Category(errors.CategoryMixer).Build()
	}
	return &Software{vf: vc}, nil
}

func (s *Software) SetVolume(percent int) error {
	percent = clampPercent(percent)
	s.vf.SetVolume(percent * filter.VolumeUnity / 100)
	return nil
}

func (s *Software) GetVolume() (int, error) {
	return s.vf.GetVolume() * 100 / filter.VolumeUnity, nil
}

// HardwareSink is the narrow capability a sink must expose for the
// hardware mixer to talk to it directly.
type HardwareSink interface {
	GetVolume() (int, error)
	SetVolume(percent int) error
}

// Hardware delegates to the sink's own volume control, caching reads
// for hardwareVolumeCacheTTL to throttle kernel/driver round-trips.
type Hardware struct {
	sink HardwareSink

	mu        sync.Mutex
	cached    int
	cachedAt  time.Time
	haveCache bool
}

func NewHardware(sink HardwareSink) *Hardware {
	return &Hardware{sink: sink}
}

func (h *Hardware) SetVolume(percent int) error {
	percent = clampPercent(percent)
	if err := h.sink.SetVolume(percent); err != nil {
		return errors.New(err).Component("mixer").Category(errors.CategoryMixer).
			Context("kind", "hardware").Context("op", "set").Build()
	}
	h.mu.Lock()
	h.cached = percent
	h.cachedAt = time.Now()
	h.haveCache = true
	h.mu.Unlock()
	return nil
}

func (h *Hardware) GetVolume() (int, error) {
	h.mu.Lock()
	if h.haveCache && time.Since(h.cachedAt) < hardwareVolumeCacheTTL {
		v := h.cached
		h.mu.Unlock()
		return v, nil
	}
	h.mu.Unlock()

	v, err := h.sink.GetVolume()
	if err != nil {
		return 0, errors.New(err).Component("mixer").Category(errors.CategoryMixer).
			Context("kind", "hardware").Context("op", "get").Build()
	}
	h.mu.Lock()
	h.cached = v
	h.cachedAt = time.Now()
	h.haveCache = true
	h.mu.Unlock()
	return v, nil
}

// Null accepts and echoes volume without touching playback, for outputs
// with no usable volume control.
type Null struct {
	mu    sync.Mutex
	level int
}

func NewNull() *Null { return &Null{level: 100} }

func (n *Null) SetVolume(percent int) error {
	n.mu.Lock()
	n.level = clampPercent(percent)
	n.mu.Unlock()
	return nil
}

func (n *Null) GetVolume() (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.level, nil
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Memento is a client-side cache that throttles hardware volume queries
// (delegated to Hardware's own TTL cache above) and separately remembers
// the last software-volume level set, the way a state-file writer would
// hash it without re-querying the audio thread on every save.
type Memento struct {
	target Volume

	mu           sync.Mutex
	lastSoftware int
	haveSoftware bool
}

// Volume is the interface Memento wraps: any of Software/Hardware/Null.
type Volume interface {
	SetVolume(percent int) error
	GetVolume() (int, error)
}

func NewMemento(target Volume) *Memento {
	return &Memento{target: target}
}

func (m *Memento) SetVolume(percent int) error {
	err := m.target.SetVolume(percent)
	if err == nil {
		m.mu.Lock()
		m.lastSoftware = clampPercent(percent)
		m.haveSoftware = true
		m.mu.Unlock()
	}
	return err
}

func (m *Memento) GetVolume() (int, error) { return m.target.GetVolume() }

// LastKnown returns the last successfully-set level without touching
// the underlying mixer, for state-file persistence.
func (m *Memento) LastKnown() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSoftware, m.haveSoftware
}
