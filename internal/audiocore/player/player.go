// Package player implements the coordinator thread that sits between
// the decoder and the output fan-out: it starts/seeks/cancels the
// decoder, decides whether two consecutive songs should cross-fade,
// performs the per-chunk mix once a cross-fade window opens, and
// promotes the queued-ahead song to "current" once its predecessor has
// fully drained out through every output.
package player

import (
	"log/slog"
	"time"

	"github.com/tphakala/birdnet-go/internal/audiocore"
	"github.com/tphakala/birdnet-go/internal/audiocore/chunk"
	"github.com/tphakala/birdnet-go/internal/audiocore/crossfade"
	"github.com/tphakala/birdnet-go/internal/audiocore/decoder"
	"github.com/tphakala/birdnet-go/internal/audiocore/outputs"
	"github.com/tphakala/birdnet-go/internal/audiocore/pipe"
	"github.com/tphakala/birdnet-go/internal/errors"
	"github.com/tphakala/birdnet-go/internal/logging"
)

// errNotPlaying is returned by Seek when no song is currently loaded.
var errNotPlaying = errors.Newf("player: seek requested with no song playing").
	Component("player").Category(errors.CategoryPlayer).Build()

// outputQueueHighWatermark is the chunk count above which the current
// pipe is considered to be running dangerously far ahead of playback;
// logged, not enforced, since the decoder's own buffer-exhaustion wait
// already bounds how far ahead of real time decoding can get.
const outputQueueHighWatermark = 64

// idleTick is how often the loop polls state/commands while stopped,
// paused, or waiting for the next chunk to become available.
const idleTick = 2 * time.Millisecond

// crossFadeContext snapshots the outgoing and incoming songs' cross-fade
// inputs at the moment the decoder hands off from one to the other; the
// decoder control itself only ever remembers "current vs previous", so
// this must be captured on both sides of that hand-off or the outgoing
// song's values are overwritten before they can be used.
type crossFadeContext struct {
	curTotal, nextTotal   audiocore.SignedSongTime
	curRGDB, nextRGDB     float64
	curMixRampEnd         string
	nextMixRampStart      string
	curFormat, nextFormat audiocore.AudioFormat
}

// Player is the coordinator for one playback instance: one decoder, one
// chunk buffer, one fan-out hub. Run drives it for the engine's
// lifetime.
type Player struct {
	ctl       *Control
	decoder   *decoder.Control
	buffer    *chunk.Buffer
	outputs   *outputs.MultipleOutputs
	crossFade crossfade.Settings

	currentPipe *pipe.Pipe
	aheadPipe   *pipe.Pipe

	xf                   crossFadeContext
	crossFadeChunksTotal int
	crossFadeChunksLeft  int

	logger *slog.Logger
}

// Run drives ctl for the engine's lifetime; returns once CommandExit
// has been acknowledged or stop is closed.
func Run(ctl *Control, dec *decoder.Control, buf *chunk.Buffer, outs *outputs.MultipleOutputs, cf crossfade.Settings, stop <-chan struct{}) {
	logger := logging.ForService("audioengine")
	if logger == nil {
		logger = slog.Default()
	}
	p := &Player{
		ctl:       ctl,
		decoder:   dec,
		buffer:    buf,
		outputs:   outs,
		crossFade: cf,
		logger:    logger.With("component", "player"),
	}
	p.loop(stop)
}

func (p *Player) loop(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		if cmd := p.ctl.peekCommand(); cmd != CommandNone {
			if !p.handleCommand(cmd) {
				return
			}
			continue
		}

		switch p.ctl.State() {
		case StatePlay:
			p.tick()
		default:
			time.Sleep(idleTick)
		}
	}
}

func (p *Player) handleCommand(cmd Command) bool {
	switch cmd {
	case CommandExit:
		p.doStop()
		p.ctl.ack()
		return false
	case CommandStop:
		p.doStop()
	case CommandPause:
		p.doTogglePause()
	case CommandSeek:
		p.doSeek()
	case CommandCloseAudio:
		p.outputs.Release()
	case CommandUpdateAudio:
		p.ctl.mu.Lock()
		force := p.ctl.updateForce
		p.ctl.mu.Unlock()
		p.doUpdateAudio(force)
	case CommandQueue:
		p.doQueue()
	case CommandCancel:
		p.doCancel()
	case CommandRefresh:
		p.refreshElapsed()
		p.ctl.clearError()
	}
	p.ctl.ack()
	return true
}

// tick runs one iteration of the playing main loop: reclaim fully
// consumed chunks, advance the decode-ahead and cross-fade state
// machines, and refresh cached status.
func (p *Player) tick() {
	p.outputs.CheckPipe()
	p.decoder.WakeWaiters()

	if p.currentPipe != nil {
		if n := p.currentPipe.Size(); n > outputQueueHighWatermark {
			p.logger.Warn("output queue above watermark", "chunks", n)
		}
	}

	p.maybeStartAhead()
	p.pumpCrossFade()
	p.maybeAdvanceSongBorder()
	p.refreshElapsed()

	// A single failed output (among several) does not stop playback —
	// the healthy ones keep draining the pipe, and doUpdateAudio will
	// retry the failed one once its reopen delay has passed. Only a
	// total loss of every output pauses playback.
	if failed, _, err := p.firstFailedOutput(); failed {
		p.ctl.setError(ErrorTypeOutput, err)
		if !p.anyOutputOpen() {
			p.ctl.setState(StatePause)
			return
		}
	}
	if p.decoder.State() == decoder.StateError {
		if err := p.decoder.CheckRethrowError(); err != nil {
			p.ctl.setError(ErrorTypeDecoder, err)
			p.ctl.setState(StatePause)
			return
		}
	}

	time.Sleep(time.Millisecond)
}

func (p *Player) firstFailedOutput() (bool, ErrorType, error) {
	for _, o := range p.outputs.Outputs() {
		if failed, _, err := o.HasFailed(); failed {
			return true, ErrorTypeOutput, err
		}
	}
	return false, ErrorTypeNone, nil
}

func (p *Player) anyOutputOpen() bool {
	for _, o := range p.outputs.Outputs() {
		if o.IsOpen() {
			return true
		}
	}
	return false
}

// doQueue accepts a freshly queued song: starts playback immediately
// from Stop, or (if already playing) just records it — the decode-ahead
// itself only begins once the current song finishes decoding, handled
// by maybeStartAhead on subsequent ticks.
func (p *Player) doQueue() {
	p.ctl.mu.Lock()
	song := p.ctl.nextSong
	state := p.ctl.state
	p.ctl.mu.Unlock()
	if song == nil {
		return
	}
	if state == StateStop {
		p.startFresh(song)
	}
}

func (p *Player) startFresh(song *Song) {
	p.currentPipe = pipe.New()
	p.decoder.Start(song.detached(), song.StartTime, song.EndTime, p.currentPipe, p.buffer)

	if p.decoder.State() == decoder.StateError {
		err := p.decoder.CheckRethrowError()
		p.ctl.setError(ErrorTypeDecoder, err)
		p.currentPipe = nil
		return
	}

	_, outFormat := p.decoder.Formats()
	if err := p.outputs.Open(outFormat, p.currentPipe); err != nil {
		p.ctl.setError(ErrorTypeOutput, err)
		p.decoder.Stop()
		p.discardPipe(p.currentPipe)
		p.currentPipe = nil
		return
	}

	p.ctl.mu.Lock()
	p.ctl.song = song
	p.ctl.nextSong = nil
	p.ctl.queued = false
	p.ctl.crossFadeState = CrossFadeUnknown
	p.ctl.mu.Unlock()
	p.ctl.clearError()
	p.ctl.setState(StatePlay)
}

// maybeStartAhead begins decoding the queued successor song once the
// current song has finished decoding (decoder.State reaches Stop),
// snapshotting both sides' cross-fade inputs across the hand-off.
func (p *Player) maybeStartAhead() {
	if p.aheadPipe != nil || p.currentPipe == nil {
		return
	}
	p.ctl.mu.Lock()
	next := p.ctl.nextSong
	p.ctl.mu.Unlock()
	if next == nil {
		return
	}
	if p.decoder.State() != decoder.StateStop {
		return
	}

	p.xf.curTotal = p.decoder.TotalTime()
	p.xf.curRGDB, _ = p.decoder.ReplayGainDB()
	curMix, _ := p.decoder.MixRampCurves()
	p.xf.curMixRampEnd = curMix.End
	_, p.xf.curFormat = p.decoder.Formats()

	ap := pipe.New()
	p.decoder.Start(next.detached(), next.StartTime, next.EndTime, ap, p.buffer)
	if p.decoder.State() == decoder.StateError {
		err := p.decoder.CheckRethrowError()
		p.ctl.setError(ErrorTypeDecoder, err)
		p.discardPipe(ap)
		p.ctl.mu.Lock()
		p.ctl.nextSong = nil
		p.ctl.queued = false
		p.ctl.mu.Unlock()
		return
	}

	p.xf.nextTotal = p.decoder.TotalTime()
	p.xf.nextRGDB, _ = p.decoder.ReplayGainDB()
	nextMix, _ := p.decoder.MixRampCurves()
	p.xf.nextMixRampStart = nextMix.Start
	_, p.xf.nextFormat = p.decoder.Formats()

	p.aheadPipe = ap
	p.ctl.setCrossFadeState(CrossFadeUnknown)
}

// pumpCrossFade advances the lazy cross-fade decision and, once active,
// mixes chunks from the ahead pipe into the tail of the current pipe.
func (p *Player) pumpCrossFade() {
	if p.aheadPipe == nil {
		return
	}

	switch p.ctl.CrossFadeState() {
	case CrossFadeUnknown:
		p.decideCrossFade()
	case CrossFadeEnabled:
		if p.currentPipe.Size() <= p.crossFadeChunksTotal {
			p.ctl.setCrossFadeState(CrossFadeActive)
		}
	case CrossFadeActive:
		p.mixCrossFadeChunks()
	}
}

func (p *Player) decideCrossFade() {
	p.ctl.mu.Lock()
	borderPause := p.ctl.song != nil && p.ctl.song.BorderPause
	p.ctl.mu.Unlock()
	if borderPause {
		// The current song asked to pause at its border rather than
		// blend into its successor; cross-fading would defeat that.
		p.ctl.setCrossFadeState(CrossFadeDisabled)
		return
	}

	curSecs := p.xf.curTotal.ToDoubleSeconds()
	nextSecs := p.xf.nextTotal.ToDoubleSeconds()
	if p.crossFade.Duration <= 0 || curSecs < crossfade.MinCrossFadeSongDuration || nextSecs < crossfade.MinCrossFadeSongDuration {
		p.ctl.setCrossFadeState(CrossFadeDisabled)
		return
	}

	maxChunks := p.buffer.N() / 4
	chunks := p.crossFade.Calculate(
		p.xf.nextTotal, p.xf.nextRGDB, p.xf.curRGDB,
		p.xf.nextMixRampStart, p.xf.curMixRampEnd,
		p.xf.nextFormat, p.xf.curFormat, maxChunks,
	)
	if chunks <= 0 {
		p.ctl.setCrossFadeState(CrossFadeDisabled)
		return
	}

	p.crossFadeChunksTotal = chunks
	p.crossFadeChunksLeft = chunks
	p.ctl.setCrossFadeState(CrossFadeEnabled)
}

// mixCrossFadeChunks mutates chunks already sitting at the head of the
// current pipe in place, attaching a chunk pulled from the ahead pipe
// as Other plus the ratio the output stage should mix them at. Output
// consumers read the current pipe's chunks by pointer, so this is
// visible to them without any pipe restructuring.
func (p *Player) mixCrossFadeChunks() {
	for p.crossFadeChunksLeft > 0 {
		head := p.currentPipe.Peek()
		if head == nil {
			return
		}
		if head.Other != nil || head.IsEmpty() {
			// Already mixed (waiting to be played) or a tag-only
			// boundary chunk: leave it for the output stage to drain
			// before mixing anything further in.
			return
		}
		other := p.aheadPipe.Peek()
		if other == nil {
			return
		}

		next := p.aheadPipe.Shift()
		head.Other = next
		head.MixRatio = p.crossFadeRatio()
		p.crossFadeChunksLeft--
	}
}

func (p *Player) crossFadeRatio() float32 {
	if p.crossFadeChunksTotal <= 0 {
		return 0.5
	}
	return float32(p.crossFadeChunksLeft) / float32(p.crossFadeChunksTotal)
}

// maybeAdvanceSongBorder promotes the ahead pipe to current once the
// outgoing song's pipe has been fully drained (every output has
// consumed and released every chunk it held). If the outgoing song was
// queued with BorderPause, playback pauses at this border instead of
// continuing straight into the successor.
func (p *Player) maybeAdvanceSongBorder() {
	if p.aheadPipe == nil || p.currentPipe == nil {
		return
	}
	if p.currentPipe.Peek() != nil {
		return
	}

	p.ctl.mu.Lock()
	borderPause := p.ctl.song != nil && p.ctl.song.BorderPause
	p.ctl.mu.Unlock()

	p.outputs.RebindPipe(p.aheadPipe)
	p.currentPipe = p.aheadPipe
	p.aheadPipe = nil
	p.crossFadeChunksTotal = 0
	p.crossFadeChunksLeft = 0

	p.ctl.mu.Lock()
	p.ctl.song = p.ctl.nextSong
	p.ctl.nextSong = nil
	p.ctl.queued = false
	p.ctl.crossFadeState = CrossFadeUnknown
	p.ctl.mu.Unlock()

	p.outputs.SongBorder()

	if borderPause {
		p.outputs.Pause()
		p.ctl.setState(StatePause)
	}
}

// doSeek retargets playback within the current song. If a successor is
// already being decoded ahead, that decode is cancelled first (seeking
// the current song makes its queued successor's timing stale too; the
// successor stays queued, is decoded ahead again, and the cross-fade
// decision is recomputed then).
func (p *Player) doSeek() {
	p.ctl.mu.Lock()
	t := p.ctl.seekTime
	song := p.ctl.song
	p.ctl.mu.Unlock()

	if song == nil || p.currentPipe == nil {
		p.ctl.setSeekError(errNotPlaying)
		return
	}

	p.decoder.Stop()
	if p.aheadPipe != nil {
		p.discardPipe(p.aheadPipe)
		p.aheadPipe = nil
		p.ctl.setCrossFadeState(CrossFadeUnknown)
		p.crossFadeChunksTotal = 0
		p.crossFadeChunksLeft = 0
	}

	newPipe := pipe.New()
	p.decoder.Start(song.detached(), t, song.EndTime, newPipe, p.buffer)
	if p.decoder.State() == decoder.StateError {
		err := p.decoder.CheckRethrowError()
		p.ctl.setError(ErrorTypeDecoder, err)
		p.ctl.setSeekError(err)
		p.discardPipe(newPipe)
		return
	}

	p.discardPipe(p.currentPipe)
	p.outputs.RebindPipe(newPipe)
	p.currentPipe = newPipe
	p.ctl.setSeekError(nil)
}

func (p *Player) doCancel() {
	p.ctl.mu.Lock()
	p.ctl.nextSong = nil
	p.ctl.queued = false
	p.ctl.mu.Unlock()

	if p.aheadPipe != nil {
		p.decoder.Stop()
		p.discardPipe(p.aheadPipe)
		p.aheadPipe = nil
		p.ctl.setCrossFadeState(CrossFadeUnknown)
	}
}

func (p *Player) doStop() {
	p.decoder.Stop()
	p.outputs.Cancel()
	p.discardPipe(p.currentPipe)
	p.discardPipe(p.aheadPipe)
	p.currentPipe = nil
	p.aheadPipe = nil
	p.crossFadeChunksTotal = 0
	p.crossFadeChunksLeft = 0

	p.ctl.mu.Lock()
	p.ctl.song = nil
	p.ctl.nextSong = nil
	p.ctl.queued = false
	p.ctl.crossFadeState = CrossFadeUnknown
	p.ctl.mu.Unlock()
	p.ctl.setState(StateStop)
}

func (p *Player) doTogglePause() {
	switch p.ctl.State() {
	case StatePlay:
		p.outputs.Pause()
		p.ctl.setState(StatePause)
	case StatePause:
		p.outputs.Resume()
		p.ctl.setState(StatePlay)
	}
}

// doUpdateAudio retries any output that has previously failed and is
// ready to reopen, against the current pipe's established format.
func (p *Player) doUpdateAudio(force bool) {
	if p.currentPipe == nil {
		return
	}
	af, ok := p.currentPipe.Format()
	if !ok {
		return
	}
	for _, o := range p.outputs.Outputs() {
		failed, _, _ := o.HasFailed()
		if !failed || !o.ReadyToReopen(force) {
			continue
		}
		o.ClearFailure()
		o.Enable()
		if !o.IsEnabled() {
			continue
		}
		o.Open(af, p.currentPipe)
		if o.IsOpen() {
			o.Play()
		}
	}

	if errType, _ := p.ctl.Error(); errType == ErrorTypeOutput && p.ctl.State() == StatePause && p.anyOutputOpen() {
		p.ctl.clearError()
		p.ctl.setState(StatePlay)
	}
}

func (p *Player) refreshElapsed() {
	if e, ok := p.outputs.Elapsed(); ok {
		p.ctl.setElapsed(e, true)
	} else {
		p.ctl.setElapsed(audiocore.UnknownSongTime, false)
	}
}

func (p *Player) discardPipe(pp *pipe.Pipe) {
	if pp == nil {
		return
	}
	for c := pp.Clear(); c != nil; {
		next := c.Next
		c.Next = nil
		p.buffer.Release(c)
		c = next
	}
}
