package player

import (
	"log/slog"
	"sync"

	"github.com/tphakala/birdnet-go/internal/audiocore"
	"github.com/tphakala/birdnet-go/internal/logging"
)

// Control is the client-facing handle to the player thread: a command
// queue plus the state a status query needs, guarded by mu/cond the
// same way decoder.Control and output.Control are. One Control exists
// per engine.
type Control struct {
	mu   sync.Mutex
	cond *sync.Cond

	command Command
	state   State

	song     *Song
	nextSong *Song
	queued   bool

	seekTime  audiocore.SongTime
	seekError error

	updateForce bool

	crossFadeState CrossFadeState

	errorType ErrorType
	err       error

	elapsed      audiocore.SignedSongTime
	elapsedKnown bool

	logger *slog.Logger
}

// NewControl creates an idle (Stop-state) player control.
func NewControl() *Control {
	logger := logging.ForService("audioengine")
	if logger == nil {
		logger = slog.Default()
	}
	c := &Control{logger: logger.With("component", "player_control")}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *Control) sendCommand(cmd Command) {
	c.mu.Lock()
	c.command = cmd
	c.cond.Broadcast()
	for c.command == cmd {
		c.cond.Wait()
	}
	c.mu.Unlock()
}

// Queue requests playback of song: if the player is idle this starts
// fresh playback immediately; if a song is already playing, song is
// remembered and decoded ahead once the current song finishes
// decoding, becoming a cross-fade or gapless successor at the song
// border.
func (c *Control) Queue(song *Song) {
	c.mu.Lock()
	c.nextSong = song
	c.queued = true
	c.command = CommandQueue
	c.cond.Broadcast()
	for c.command == CommandQueue {
		c.cond.Wait()
	}
	c.mu.Unlock()
}

// Cancel discards the queued successor song, stopping its decode-ahead
// if that has already started.
func (c *Control) Cancel() { c.sendCommand(CommandCancel) }

// Stop halts playback and releases the current song.
func (c *Control) Stop() { c.sendCommand(CommandStop) }

// TogglePause requests Play<->Pause; a no-op from Stop.
func (c *Control) TogglePause() { c.sendCommand(CommandPause) }

// Seek requests a seek to t within the current song.
func (c *Control) Seek(t audiocore.SongTime) error {
	c.mu.Lock()
	c.seekTime = t
	c.seekError = nil
	c.command = CommandSeek
	c.cond.Broadcast()
	for c.command == CommandSeek {
		c.cond.Wait()
	}
	err := c.seekError
	c.mu.Unlock()
	return err
}

// CloseAudio releases every output (closing it, or pausing an always-on
// one) without stopping the decoder. UpdateAudio reopens only outputs
// that have failed, so released outputs stay closed until the next
// fresh start opens them.
func (c *Control) CloseAudio() { c.sendCommand(CommandCloseAudio) }

// UpdateAudio asks the player to retry any failed outputs; force
// bypasses the reopen-delay gate.
func (c *Control) UpdateAudio(force bool) {
	c.mu.Lock()
	c.updateForce = force
	c.command = CommandUpdateAudio
	c.cond.Broadcast()
	for c.command == CommandUpdateAudio {
		c.cond.Wait()
	}
	c.mu.Unlock()
}

// Refresh recomputes cached status (elapsed time, stale-error clearing)
// without otherwise affecting playback.
func (c *Control) Refresh() { c.sendCommand(CommandRefresh) }

// Exit stops playback and terminates the player thread; Run returns
// once it has been acknowledged.
func (c *Control) Exit() { c.sendCommand(CommandExit) }

func (c *Control) peekCommand() Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.command
}

// ack clears the current command and wakes any client blocked on it;
// called by the player thread once it has acted on the command.
func (c *Control) ack() {
	c.mu.Lock()
	c.command = CommandNone
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *Control) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Control) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.cond.Broadcast()
	c.mu.Unlock()
}

// CurrentSong returns the song currently playing, or nil if stopped.
func (c *Control) CurrentSong() *Song {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.song
}

// QueuedSong returns the successor song queued to play next, and
// whether one is currently queued.
func (c *Control) QueuedSong() (*Song, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextSong, c.queued
}

func (c *Control) Error() (ErrorType, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorType, c.err
}

func (c *Control) setError(t ErrorType, err error) {
	c.mu.Lock()
	c.errorType = t
	c.err = err
	c.mu.Unlock()
	if err != nil {
		c.logger.Error("player error", "type", t, "error", err)
	}
}

func (c *Control) clearError() {
	c.mu.Lock()
	c.errorType = ErrorTypeNone
	c.err = nil
	c.mu.Unlock()
}

// CrossFadeState reports the lazily-evaluated cross-fade decision for
// the currently queued successor, if any.
func (c *Control) CrossFadeState() CrossFadeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.crossFadeState
}

func (c *Control) setCrossFadeState(s CrossFadeState) {
	c.mu.Lock()
	c.crossFadeState = s
	c.mu.Unlock()
}

func (c *Control) setSeekError(err error) {
	c.mu.Lock()
	c.seekError = err
	c.mu.Unlock()
}

// ElapsedTime returns the last-known playback position within the
// current song.
func (c *Control) ElapsedTime() (audiocore.SignedSongTime, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed, c.elapsedKnown
}

func (c *Control) setElapsed(t audiocore.SignedSongTime, known bool) {
	c.mu.Lock()
	c.elapsed = t
	c.elapsedKnown = known
	c.mu.Unlock()
}
