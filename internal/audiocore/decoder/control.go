package decoder

import (
	"log/slog"
	"sync"

	"github.com/tphakala/birdnet-go/internal/audiocore"
	"github.com/tphakala/birdnet-go/internal/audiocore/chunk"
	"github.com/tphakala/birdnet-go/internal/audiocore/pipe"
	"github.com/tphakala/birdnet-go/internal/logging"
)

// Control is the shared object linking the player and decoder threads.
// All fields are protected by mu; Cond is signalled on every state or
// command change so either side can wait for the other.
type Control struct {
	mu   sync.Mutex
	Cond *sync.Cond

	state   State
	command Command

	song DetachedSong

	// startTime/endTime bound the range within song to decode;
	// initialSeekEssential marks the initial seek to startTime as
	// mandatory (a failed mandatory seek is fatal).
	startTime             audiocore.SongTime
	endTime               audiocore.SongTime
	initialSeekEssential  bool
	initialSeekPending    bool

	seekTime  audiocore.SongTime
	seekError error

	inputFormat  audiocore.AudioFormat
	outputFormat audiocore.AudioFormat
	totalTime    audiocore.SignedSongTime

	replayGainDB     float64
	replayGainPrevDB float64
	mixRamp          MixRampInfo
	mixRampPrev      MixRampInfo

	pipeline *pipe.Pipe
	buffer   *chunk.Buffer

	err error

	logger *slog.Logger
}

// NewControl creates an idle (Stop-state) decoder control.
func NewControl() *Control {
	logger := logging.ForService("audioengine")
	if logger == nil {
		logger = slog.Default()
	}
	c := &Control{logger: logger.With("component", "decoder_control")}
	c.Cond = sync.NewCond(&c.mu)
	return c
}

// Lock/Unlock expose the control's mutex to the bridge and plugin
// adapters that need to hold it across a multi-field update.
func (c *Control) Lock()   { c.mu.Lock() }
func (c *Control) Unlock() { c.mu.Unlock() }

// State returns the current lifecycle state.
func (c *Control) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Error returns the stored failure, if the decoder is in StateError.
func (c *Control) Error() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// CheckRethrowError returns and clears the stored error, the way the
// player observes a failed decode at its next point of contact.
func (c *Control) CheckRethrowError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.err
	c.err = nil
	return err
}

// Start issues a Start command for song over [startTime, endTime) into
// pipeline, using buffer for chunk allocation. Blocks until the
// decoder thread acknowledges (transitions out of Stop/Error).
func (c *Control) Start(song DetachedSong, startTime, endTime audiocore.SongTime, p *pipe.Pipe, buf *chunk.Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.song = song
	c.startTime = startTime
	c.endTime = endTime
	c.initialSeekEssential = startTime > 0
	c.initialSeekPending = startTime > 0
	c.pipeline = p
	c.buffer = buf
	c.totalTime = song.Duration
	c.err = nil
	c.command = CommandStart
	c.Cond.Broadcast()

	c.logger.Info("decoder start requested", "uri", song.URI, "start_time", startTime, "end_time", endTime)

	// After a failed decode the thread idles in Error exactly as in Stop.
	if c.state == StateError {
		c.state = StateStop
	}
	for c.state == StateStop || c.state == StateStart {
		c.Cond.Wait()
	}
}

// Stop issues a Stop command and blocks until the decoder has torn
// down and cleared its pipe.
func (c *Control) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateError {
		// A failed decode has already torn down; the thread is idle.
		c.state = StateStop
	}
	if c.state == StateStop {
		return
	}
	c.command = CommandStop
	c.Cond.Broadcast()
	for c.state != StateStop {
		c.Cond.Wait()
	}
}

// Seek issues an external Seek command; returns the seek error, if
// any, once the decoder has acknowledged.
func (c *Control) Seek(t audiocore.SongTime) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seekTime = t
	c.seekError = nil
	c.command = CommandSeek
	c.initialSeekPending = false // an explicit seek supersedes any pending initial seek
	c.Cond.Broadcast()

	for c.command == CommandSeek {
		c.Cond.Wait()
	}
	return c.seekError
}

// WakeWaiters broadcasts the control's condition variable without
// changing any field, used by the player to rouse a decoder goroutine
// blocked in SubmitAudio's buffer-exhausted wait once chunks have been
// freed elsewhere (the fan-out hub reclaiming played chunks does not by
// itself know about this control's condition variable).
func (c *Control) WakeWaiters() {
	c.mu.Lock()
	c.Cond.Broadcast()
	c.mu.Unlock()
}

// Pipe returns the pipe currently assigned to this decode.
func (c *Control) Pipe() *pipe.Pipe {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pipeline
}

// Formats returns the negotiated input/output AudioFormat, valid once
// State() >= StateDecode.
func (c *Control) Formats() (in, out audiocore.AudioFormat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputFormat, c.outputFormat
}

// TotalTime returns the decoder-reported song duration.
func (c *Control) TotalTime() audiocore.SignedSongTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalTime
}

// ReplayGainDB returns the track gain, in dB, that SubmitReplayGain
// recorded for the current song and the value it held before that.
func (c *Control) ReplayGainDB() (current, prev float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replayGainDB, c.replayGainPrevDB
}

// MixRampCurves returns the current and previous song's MixRamp info.
func (c *Control) MixRampCurves() (current, prev MixRampInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mixRamp, c.mixRampPrev
}
