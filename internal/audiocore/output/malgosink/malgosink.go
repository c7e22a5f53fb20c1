// Package malgosink implements an output.Sink backed by a real playback
// device through gen2brain/malgo. It is the playback-side counterpart
// to the project's malgo capture source: where that source pulls PCM
// out of a device's data callback, this sink pushes PCM into one,
// decoupled through a blocking ring buffer so Play() can apply normal
// backpressure instead of racing the device callback directly.
package malgosink

import (
	"encoding/hex"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/birdnet-go/internal/audiocore"
	"github.com/tphakala/birdnet-go/internal/audiocore/output"
	"github.com/tphakala/birdnet-go/internal/errors"
)

// DeviceInfo describes one playback device as reported by the backend.
type DeviceInfo struct {
	Index int
	Name  string
	ID    string
}

func platformBackend() (malgo.Backend, error) {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa, nil
	case "windows":
		return malgo.BackendWasapi, nil
	case "darwin":
		return malgo.BackendCoreaudio, nil
	default:
		return malgo.BackendNull, errors.Newf("malgosink: unsupported operating system %q", runtime.GOOS).
			Component("malgosink").Category(errors.CategoryAudio).Build()
	}
}

func hexToASCII(s string) string {
	b, err := hex.DecodeString(s)
	if err != nil {
		return s
	}
	return string(b)
}

// EnumerateDevices lists the playback devices the platform backend
// reports, skipping the discard-all-samples null device.
func EnumerateDevices() ([]DeviceInfo, error) {
	backend, err := platformBackend()
	if err != nil {
		return nil, err
	}
	ctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errors.New(err).Component("malgosink").Category(errors.CategoryAudio).
			Context("operation", "init_context").Build()
	}
	defer func() { _ = ctx.Uninit() }()

	infos, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, errors.New(err).Component("malgosink").Category(errors.CategoryAudio).
			Context("operation", "enumerate_devices").Build()
	}

	out := make([]DeviceInfo, 0, len(infos))
	for i := range infos {
		if strings.Contains(infos[i].Name(), "Discard all samples") {
			continue
		}
		out = append(out, DeviceInfo{Index: i, Name: infos[i].Name(), ID: hexToASCII(infos[i].ID.String())})
	}
	return out, nil
}

func selectDevice(infos []malgo.DeviceInfo, name string) (*malgo.DeviceInfo, error) {
	if name == "" || name == "default" {
		for i := range infos {
			if infos[i].IsDefault == 1 {
				return &infos[i], nil
			}
		}
		if len(infos) > 0 {
			return &infos[0], nil
		}
	}
	for i := range infos {
		if infos[i].Name() == name || strings.Contains(infos[i].Name(), name) {
			return &infos[i], nil
		}
	}
	return nil, errors.Newf("malgosink: no playback device matches %q", name).
		Component("malgosink").Category(errors.CategoryValidation).Build()
}

// ringBufferBytes sizes the PCM handoff buffer between Play (producer)
// and the device data callback (consumer); large enough to absorb
// normal scheduling jitter between the two threads without audible
// underrun. 64 KiB holds about 370ms of 44.1kHz stereo S16 or about
// 170ms of 48kHz stereo float.
const ringBufferBytes = 64 * 1024

// Sink is an output.Sink driving a real malgo playback device.
type Sink struct {
	name       string
	deviceName string

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	ring   *ringbuffer.RingBuffer
	format audiocore.AudioFormat

	interrupted atomic.Bool
}

// New returns a Sink that opens deviceName (or the system default, if
// empty) on Open.
func New(name, deviceName string) *Sink {
	return &Sink{name: name, deviceName: deviceName}
}

func (s *Sink) Name() string { return s.name }

// Enable initializes the backend context; Open does the per-session
// device negotiation.
func (s *Sink) Enable() error {
	backend, err := platformBackend()
	if err != nil {
		return err
	}
	ctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return errors.New(err).Component("malgosink").Category(errors.CategoryAudio).
			Context("output", s.name).Context("operation", "init_context").Build()
	}
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	return nil
}

func (s *Sink) Disable() {
	s.mu.Lock()
	ctx := s.ctx
	s.ctx = nil
	s.mu.Unlock()
	if ctx != nil {
		_ = ctx.Uninit()
	}
}

// Open opens the device at af's sample rate and channel count (F32
// samples for float input, S16 otherwise) and returns af unchanged; it
// does not adjust af to what the backend reports.
func (s *Sink) Open(af audiocore.AudioFormat) (audiocore.AudioFormat, error) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return af, errors.Newf("malgosink %q: Open called before Enable", s.name).
			Component("malgosink").Category(errors.CategoryState).Build()
	}

	infos, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return af, errors.New(err).Component("malgosink").Category(errors.CategoryAudio).
			Context("output", s.name).Context("operation", "enumerate_devices").Build()
	}
	info, err := selectDevice(infos, s.deviceName)
	if err != nil {
		return af, err
	}

	deviceFormat := malgo.FormatS16
	if af.Format == audiocore.SampleFormatFloat {
		deviceFormat = malgo.FormatF32
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = deviceFormat
	cfg.Playback.Channels = uint32(af.Channels)
	cfg.Playback.DeviceID = info.ID.Pointer()
	cfg.SampleRate = uint32(af.SampleRate)
	cfg.Alsa.NoMMap = 1

	ring := ringbuffer.New(ringBufferBytes)
	ring.SetBlocking(true)

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			n, _ := ring.Read(out)
			for i := n; i < len(out); i++ {
				out[i] = 0
			}
		},
	}

	device, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		return af, errors.New(err).Component("malgosink").Category(errors.CategoryAudio).
			Context("output", s.name).Context("operation", "init_device").Build()
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return af, errors.New(err).Component("malgosink").Category(errors.CategoryAudio).
			Context("output", s.name).Context("operation", "start_device").Build()
	}

	s.mu.Lock()
	s.device = device
	s.ring = ring
	s.format = af
	s.mu.Unlock()
	return af, nil
}

func (s *Sink) Close() {
	s.mu.Lock()
	device := s.device
	ring := s.ring
	s.device = nil
	s.ring = nil
	s.mu.Unlock()
	if device != nil {
		_ = device.Stop()
		device.Uninit()
	}
	if ring != nil {
		ring.CloseWriter()
	}
}

// Play writes data into the ring buffer the device callback reads
// from; blocks (per SetBlocking(true)) while the buffer is full, which
// is this sink's only backpressure mechanism — there is no separate
// drain/poll loop.
func (s *Sink) Play(data []byte) (int, error) {
	s.mu.Lock()
	ring := s.ring
	s.mu.Unlock()
	if ring == nil {
		return 0, errors.Newf("malgosink %q: Play called while closed", s.name).
			Component("malgosink").Category(errors.CategoryState).Build()
	}
	if s.interrupted.CompareAndSwap(true, false) {
		return 0, output.ErrInterrupted
	}
	n, err := ring.Write(data)
	if err != nil {
		return n, errors.New(err).Component("malgosink").Category(errors.CategoryAudio).
			Context("output", s.name).Context("phase", "play").Build()
	}
	return n, nil
}

// Drain blocks until the ring buffer the device callback reads from
// has been fully consumed.
func (s *Sink) Drain() error {
	s.mu.Lock()
	ring := s.ring
	s.mu.Unlock()
	if ring == nil {
		return nil
	}
	for ring.Length() > 0 {
		if s.interrupted.Load() {
			return nil
		}
	}
	return nil
}

// Cancel discards whatever is queued in the ring buffer without
// waiting for the device to play it.
func (s *Sink) Cancel() {
	s.mu.Lock()
	ring := s.ring
	s.mu.Unlock()
	if ring != nil {
		ring.Reset()
	}
}

func (s *Sink) SendTag(string) {}

// Interrupt cancels the next blocking Play/Drain call.
func (s *Sink) Interrupt() { s.interrupted.Store(true) }

// Sink deliberately does not implement output.VolumeSink: malgo has no
// portable hardware volume API, so volume is left to the software
// volume filter upstream rather than claiming a capability malgo can't
// back.
var _ output.Sink = (*Sink)(nil)
