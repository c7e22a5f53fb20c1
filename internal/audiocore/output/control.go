package output

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tphakala/birdnet-go/internal/audiocore"
	"github.com/tphakala/birdnet-go/internal/audiocore/chunk"
	"github.com/tphakala/birdnet-go/internal/audiocore/filter"
	"github.com/tphakala/birdnet-go/internal/audiocore/filter/mix"
	"github.com/tphakala/birdnet-go/internal/audiocore/pipe"
	"github.com/tphakala/birdnet-go/internal/errors"
	"github.com/tphakala/birdnet-go/internal/logging"
)

// reopenDelay bounds how soon a failed output may be retried by a
// non-forced Update.
const reopenDelay = 10 * time.Second

// Control is the coordination object for one output's thread: a command
// queue plus the state bits the source loop and the fan-out hub both
// read. One Control exists per configured sink for the engine's
// lifetime; Open/Close cycle underneath it per song-format change.
type Control struct {
	mu   sync.Mutex
	cond *sync.Cond

	name string
	sink Sink

	command Command

	open          bool
	paused        bool
	enabled       bool
	reallyEnabled bool
	allowPlay     bool
	killed        bool
	playing       bool // true while sourceLoop is actively running

	// always_on outputs are paused (not closed) by Release, matching
	// the source's distinction for devices expensive to reopen.
	alwaysOn bool

	consumer *pipe.Consumer

	// sourceFormat is the pipe's (pre-mix, pre-chain) PCM format, used
	// to open the ReplayGain filter and the main chain's input side.
	// negotiated is what the sink actually settled on, once Open
	// returns; the main chain (ending in AutoConvert) bridges the two.
	sourceFormat audiocore.AudioFormat
	negotiated   audiocore.AudioFormat

	replayGain     *filter.ReplayGainFilter
	replayGainInst filter.PreparedFilter
	lastRGSerial   uint32

	chain     filter.Filter
	chainInst filter.PreparedFilter

	mixer Mixer

	errType   ErrorType
	err       error
	failedAt  time.Time
	hasFailed bool

	logger *slog.Logger
}

// Mixer is the narrow interface Control needs from the mixer package,
// declared here (rather than importing it) to avoid a package cycle;
// mixer.Software/Hardware/Null all satisfy it.
type Mixer interface {
	SetVolume(percent int) error
	GetVolume() (int, error)
}

// NewControl wires a sink behind its own control/thread. replayGain is
// the output's private ReplayGain filter (mode configured by the
// player); chain is the rest of the filter pipeline, expected to end in
// a Convert/AutoConvert stage producing the sink's negotiated format.
func NewControl(name string, sink Sink, replayGain *filter.ReplayGainFilter, chain filter.Filter, alwaysOn bool) *Control {
	logger := logging.ForService("audioengine")
	if logger == nil {
		logger = slog.Default()
	}
	c := &Control{
		name:       name,
		sink:       sink,
		replayGain: replayGain,
		chain:      chain,
		alwaysOn:   alwaysOn,
		allowPlay:  true,
		mixer:      nullMixerSingleton{},
		logger:     logger.With("component", "output_control", "output", name),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// SetMixer installs the volume-control strategy for this output.
func (c *Control) SetMixer(m Mixer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mixer = m
}

func (c *Control) Name() string { return c.name }

func (c *Control) sendCommand(cmd Command) {
	c.mu.Lock()
	c.command = cmd
	c.cond.Broadcast()
	c.mu.Unlock()
	c.sink.Interrupt()
	c.mu.Lock()
	for c.command == cmd {
		c.cond.Wait()
	}
	c.mu.Unlock()
}

// Enable/Disable bracket resource acquisition independent of any
// particular song format.
func (c *Control) Enable() { c.sendCommand(CommandEnable) }

func (c *Control) Disable() { c.sendCommand(CommandDisable) }

// Open starts (or re-negotiates) playback at af; binds a fresh consumer
// cursor onto p. Open does not block on the source loop reaching Play —
// only on the command being dispatched and acknowledged by the thread.
func (c *Control) Open(af audiocore.AudioFormat, p *pipe.Pipe) {
	c.mu.Lock()
	c.sourceFormat = af
	c.negotiated = af
	c.consumer = pipe.NewConsumer(p)
	c.command = CommandOpen
	c.cond.Broadcast()
	c.mu.Unlock()

	c.mu.Lock()
	for c.command == CommandOpen {
		c.cond.Wait()
	}
	c.mu.Unlock()
}

func (c *Control) Close() { c.sendCommand(CommandClose) }

func (c *Control) Pause() { c.sendCommand(CommandPause) }

// Play resumes the source loop after a Pause, without renegotiating
// the sink (unlike Open). A no-op if the output isn't open or the
// source loop is already running.
func (c *Control) Play() {
	c.mu.Lock()
	if !c.open || c.playing {
		c.mu.Unlock()
		return
	}
	c.command = CommandPlay
	c.cond.Broadcast()
	for c.command == CommandPlay {
		c.cond.Wait()
	}
	c.mu.Unlock()
}

func (c *Control) Drain() { c.sendCommand(CommandDrain) }

func (c *Control) Cancel() { c.sendCommand(CommandCancel) }

// Release closes or pauses the output depending on alwaysOn, matching
// the source's distinction for devices expensive to reopen.
func (c *Control) Release() {
	if c.alwaysOn {
		c.Pause()
		return
	}
	c.Close()
}

func (c *Control) Kill() {
	c.mu.Lock()
	c.killed = true
	c.command = CommandKill
	c.cond.Broadcast()
	c.mu.Unlock()
	c.sink.Interrupt()
}

// IsOpen/IsEnabled/HasFailed/Consumer are read by the fan-out hub.
func (c *Control) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Control) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reallyEnabled
}

func (c *Control) HasFailed() (bool, ErrorType, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasFailed, c.errType, c.err
}

// ReadyToReopen reports whether enough time has passed since the last
// failure for a non-forced Update to retry this output (property #12).
func (c *Control) ReadyToReopen(force bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasFailed {
		return true
	}
	if force {
		return true
	}
	return time.Since(c.failedAt) >= reopenDelay
}

func (c *Control) ClearFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasFailed = false
	c.errType = ErrorTypeNone
	c.err = nil
}

// RebindConsumer swaps in a fresh cursor onto a different pipe without
// touching the sink, used at a song border once the previously-current
// pipe is exhausted and playback continues from the already-decoding
// next pipe.
func (c *Control) RebindConsumer(p *pipe.Pipe) {
	c.mu.Lock()
	c.consumer = pipe.NewConsumer(p)
	c.mu.Unlock()
}

func (c *Control) Consumer() *pipe.Consumer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consumer
}

// SetAllowPlay gates the source loop: the fan-out hub clears this while
// rearranging the pipe (CheckPipe's tail-chunk quiesce step) and sets it
// again once the rearrangement is safe to observe.
func (c *Control) SetAllowPlay(allow bool) {
	c.mu.Lock()
	c.allowPlay = allow
	c.cond.Broadcast()
	c.mu.Unlock()
}

// SetVolume/GetVolume delegate to whichever Mixer strategy is installed
// (software/hardware/null).
func (c *Control) SetVolume(percent int) error {
	c.mu.Lock()
	m := c.mixer
	c.mu.Unlock()
	return m.SetVolume(percent)
}

func (c *Control) GetVolume() (int, error) {
	c.mu.Lock()
	m := c.mixer
	c.mu.Unlock()
	return m.GetVolume()
}

func (c *Control) recordFailure(err error) {
	c.mu.Lock()
	c.hasFailed = true
	c.errType = ErrorTypeOutput
	c.err = err
	c.failedAt = time.Now()
	c.open = false
	c.mu.Unlock()
	c.logger.Error("output failed", "error", err)
}

// Run drives this output's thread for the engine's lifetime; returns
// only when stop is closed. It alternates between waiting for a command
// (idle) and running the source loop (once Open'd and allowed to play).
func Run(c *Control, stop <-chan struct{}) {
	for {
		c.mu.Lock()
		cmd := c.command
		c.mu.Unlock()

		select {
		case <-stop:
			return
		default:
		}

		switch cmd {
		case CommandEnable:
			c.handleEnable()
		case CommandDisable:
			c.handleDisable()
		case CommandOpen:
			c.handleOpen()
			c.sourceLoop(stop)
		case CommandClose, CommandPause, CommandCancel, CommandDrain, CommandRelease:
			c.ackCommand()
		case CommandPlay:
			c.mu.Lock()
			c.command = CommandNone
			c.cond.Broadcast()
			c.mu.Unlock()
			c.sourceLoop(stop)
		case CommandKill:
			c.handleDisable()
			return
		default:
			c.mu.Lock()
			for c.command == CommandNone {
				c.cond.Wait()
			}
			c.mu.Unlock()
		}
	}
}

func (c *Control) ackCommand() {
	c.mu.Lock()
	cmd := c.command
	c.mu.Unlock()

	switch cmd {
	case CommandClose:
		c.sink.Close()
	case CommandCancel:
		c.sink.Cancel()
	case CommandDrain:
		_ = c.sink.Drain()
	case CommandPause:
		c.runPauseLoop()
	}

	c.mu.Lock()
	if cmd == CommandClose {
		c.open = false
	}
	c.command = CommandNone
	c.cond.Broadcast()
	c.mu.Unlock()
}

// runPauseLoop keeps calling the sink's Pause (when it implements
// Pauser) until it returns false or another command arrives, matching
// the plugin contract's "returns true to stay in pause loop".
func (c *Control) runPauseLoop() {
	p, ok := c.sink.(Pauser)
	if !ok {
		return
	}
	for {
		c.mu.Lock()
		stillPaused := c.command == CommandPause
		c.mu.Unlock()
		if !stillPaused {
			return
		}
		if !p.Pause() {
			return
		}
	}
}

func (c *Control) handleEnable() {
	err := c.sink.Enable()
	c.mu.Lock()
	if err != nil {
		c.recordFailureLocked(err)
	} else {
		c.enabled = true
		c.reallyEnabled = true
	}
	c.command = CommandNone
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *Control) handleDisable() {
	c.sink.Disable()
	c.mu.Lock()
	c.enabled = false
	c.reallyEnabled = false
	c.open = false
	c.command = CommandNone
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *Control) recordFailureLocked(err error) {
	c.hasFailed = true
	c.errType = ErrorTypeOutput
	c.err = err
	c.failedAt = time.Now()
}

func (c *Control) handleOpen() {
	c.mu.Lock()
	af := c.negotiated
	c.mu.Unlock()

	negotiated, err := c.sink.Open(af)
	if err != nil {
		c.recordFailure(errors.New(err).Component("output").Category(errors.CategoryOutput).
			Context("output", c.name).Context("phase", "open").Build())
		c.mu.Lock()
		c.command = CommandNone
		c.cond.Broadcast()
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	c.negotiated = negotiated
	c.open = true
	c.allowPlay = true
	c.command = CommandNone
	c.cond.Broadcast()
	c.mu.Unlock()

	if c.replayGainInst == nil && c.replayGain != nil {
		inst := c.replayGain.Prepare()
		if _, err := inst.Open(af); err == nil {
			c.replayGainInst = inst
		}
	}
	if c.chainInst == nil && c.chain != nil {
		// chain is expected to end in AutoConvert/Convert, bridging
		// the pipe's format (af) to whatever the sink negotiated.
		inst := c.chain.Prepare()
		if _, err := inst.Open(af); err == nil {
			c.chainInst = inst
		}
	}
}

// sourceLoop implements the per-output pull/mix/filter/play cycle,
// exiting back to the command-wait state on any
// Close/Cancel/Pause/Drain/Kill.
func (c *Control) sourceLoop(stop <-chan struct{}) {
	c.mu.Lock()
	c.playing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.playing = false
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		if c.command != CommandNone {
			c.mu.Unlock()
			if c.command != CommandOpen {
				c.ackCommand()
			}
			return
		}
		consumer := c.consumer
		allow := c.allowPlay
		c.mu.Unlock()

		select {
		case <-stop:
			return
		default:
		}

		if consumer == nil {
			return
		}
		if !allow {
			time.Sleep(time.Millisecond)
			continue
		}

		ch := consumer.Get()
		if ch == nil {
			time.Sleep(time.Millisecond)
			continue
		}

		data := c.prepareChunk(ch)
		consumer.Consume()

		if !c.playAll(data) {
			return
		}
	}
}

// prepareChunk applies ReplayGain, cross-fade mixing, and the main
// filter chain to one pipe chunk, returning PCM ready for the sink.
func (c *Control) prepareChunk(ch *chunk.Chunk) []byte {
	data := ch.Data[:ch.Length]

	if c.replayGainInst != nil {
		if ch.ReplayGainSerial != 0 && ch.ReplayGainSerial != c.lastRGSerial {
			c.lastRGSerial = ch.ReplayGainSerial
		}
		if out, err := c.replayGainInst.FilterPCM(data); err == nil {
			data = out
		}
	}

	if ch.Other != nil {
		data = c.mixCrossFade(ch, data)
	}

	if c.chainInst != nil {
		if out, err := c.chainInst.FilterPCM(data); err == nil {
			data = out
		}
	}
	return data
}

func (c *Control) mixCrossFade(ch *chunk.Chunk, a []byte) []byte {
	other := ch.Other.Data[:ch.Other.Length]
	n := len(a)
	if len(other) < n {
		n = len(other)
	}
	af := ch.Format

	out := make([]byte, len(a))
	copy(out, a)

	ratio := ch.MixRatio
	if ratio < 0 {
		// MixRamp envelope mode: the source's pcm_mix interprets a
		// negative mix_ratio as "use the amplitude envelope computed
		// from the songs' MixRamp curves"; absent a separate envelope
		// channel on Chunk, approximate with a fixed 0.5 crossover,
		// matching the documented fallback for Open Question 2.
		ratio = 0.5
	}
	mix.Mix(out[:n], a[:n], other[:n], af, ratio)

	if len(other) > n {
		out = append(out[:n:n], other[n:]...)
	}
	return out
}

// playAll submits data to the sink in a loop until fully consumed or a
// command interrupts it. ErrInterrupted exits the loop; a real error,
// or a zero-byte return with no error (which also closes the sink),
// records a failure, which arms the reopen timer.
func (c *Control) playAll(data []byte) bool {
	for len(data) > 0 {
		c.mu.Lock()
		cmd := c.command
		c.mu.Unlock()
		if cmd != CommandNone {
			return false
		}

		n, err := c.sink.Play(data)
		if err == ErrInterrupted {
			return false
		}
		if err != nil {
			c.recordFailure(errors.New(err).Component("output").Category(errors.CategoryOutput).
				Context("output", c.name).Context("phase", "play").Build())
			return false
		}
		if n == 0 {
			c.sink.Close()
			c.recordFailure(errors.Newf("output %q: zero-byte play, closing", c.name).
				Component("output").Category(errors.CategoryOutput).
				Context("output", c.name).Context("phase", "play").Build())
			return false
		}
		data = data[n:]

		if d, ok := c.sink.(Delayer); ok {
			if delay := d.Delay(); delay > 0 {
				time.Sleep(time.Duration(delay))
			}
		}
	}
	return true
}

// nullMixerSingleton is the default "no volume control" mixer, echoing
// whatever was last set without touching the sink.
type nullMixerSingleton struct{}

func (nullMixerSingleton) SetVolume(percent int) error { return nil }
func (nullMixerSingleton) GetVolume() (int, error)     { return 100, nil }
