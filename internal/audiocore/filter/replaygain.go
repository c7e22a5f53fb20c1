package filter

import (
	"log/slog"
	"math"
	"sync"

	"github.com/tphakala/birdnet-go/internal/audiocore"
	"github.com/tphakala/birdnet-go/internal/audiocore/chunk"
	"github.com/tphakala/birdnet-go/internal/logging"
)

// ReplayGainMode selects which gain value a ReplayGainFilter applies.
type ReplayGainMode int

const (
	ReplayGainOff ReplayGainMode = iota
	ReplayGainTrack
	ReplayGainAlbum
	// ReplayGainAuto behaves like Track while a single song is playing
	// and falls back to Album once consecutive songs from the same
	// album are detected by the player; the player is responsible for
	// that detection and simply sets Track or Album accordingly, so
	// Auto is treated the same as Track at the filter level.
	ReplayGainAuto
)

// replayGainPreampDB caps the applied boost so a quiet track tagged
// with an implausibly large gain cannot clip or deafen.
const replayGainPreampDB = 15.0

// ReplayGainFilter scales PCM by a factor derived from a chunk's
// ReplayGainInfo and the configured mode. The output stage calls
// Update whenever a chunk's ReplayGainSerial differs from the last one
// it saw (serial 0 means "no replay gain data").
type ReplayGainFilter struct {
	name string

	mu   sync.Mutex
	mode ReplayGainMode
}

func NewReplayGainFilter(name string) *ReplayGainFilter { return &ReplayGainFilter{name: name} }

func (f *ReplayGainFilter) Name() string { return f.name }

// SetMode sets the mode future Prepare() instances start with. Safe to
// call before the output owning this filter has opened.
func (f *ReplayGainFilter) SetMode(mode ReplayGainMode) {
	f.mu.Lock()
	f.mode = mode
	f.mu.Unlock()
}

func (f *ReplayGainFilter) Prepare() PreparedFilter {
	logger := logging.ForService("audioengine")
	if logger == nil {
		logger = slog.Default()
	}
	f.mu.Lock()
	mode := f.mode
	f.mu.Unlock()
	return &replayGainInstance{
		mode:   mode,
		scale:  1.0,
		logger: logger.With("component", "replaygain_filter", "filter", f.name),
	}
}

type replayGainInstance struct {
	mu     sync.Mutex
	mode   ReplayGainMode
	scale  float64
	serial uint32
	format audiocore.AudioFormat
	logger *slog.Logger
}

func (r *replayGainInstance) Open(in audiocore.AudioFormat) (audiocore.AudioFormat, error) {
	r.format = in
	return in, nil
}

func (r *replayGainInstance) GetOutAudioFormat() audiocore.AudioFormat { return r.format }

func (r *replayGainInstance) Reset() {}

// SetMode changes which gain field future Update calls read.
func (r *replayGainInstance) SetMode(mode ReplayGainMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
}

// Update recomputes the applied scale from a freshly-seen chunk's
// ReplayGain info, but only when serial differs from the last value
// seen (serial 0 disables replay gain entirely: unity scale).
func (r *replayGainInstance) Update(info chunk.ReplayGainInfo, serial uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if serial == r.serial {
		return
	}
	r.serial = serial
	if serial == 0 {
		r.scale = 1.0
		return
	}

	var db float64
	switch r.mode {
	case ReplayGainAlbum:
		db = float64(info.AlbumGain)
	case ReplayGainOff:
		r.scale = 1.0
		return
	default: // Track, Auto
		db = float64(info.TrackGain)
	}
	if db > replayGainPreampDB {
		db = replayGainPreampDB
	}
	r.scale = math.Pow(10, db/20)
}

func (r *replayGainInstance) FilterPCM(src []byte) ([]byte, error) {
	r.mu.Lock()
	scale := r.scale
	af := r.format
	r.mu.Unlock()

	if scale == 1.0 {
		return src, nil
	}
	dst := make([]byte, len(src))
	applyScale(dst, src, af, scale)
	return dst, nil
}

func (r *replayGainInstance) Flush() ([]byte, error) { return nil, nil }

func (r *replayGainInstance) Close() {}
