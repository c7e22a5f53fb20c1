package decoder

import (
	"log/slog"

	"github.com/tphakala/birdnet-go/internal/audiocore"
	"github.com/tphakala/birdnet-go/internal/audiocore/chunk"
	"github.com/tphakala/birdnet-go/internal/errors"
)

// Bridge implements DecoderClient against one Control for the
// duration of a single Plugin.Decode call; a fresh Bridge is created
// for every song.
type Bridge struct {
	ctl    *Control
	logger *slog.Logger

	seekable bool

	// virtualSeek is set while GetCommand is reporting the
	// initial-seek-to-start_time as a Seek command the plugin hasn't
	// yet acknowledged via CommandFinished.
	virtualSeek bool

	pending       *chunk.Handle // chunk currently being filled
	absoluteFrame int64
	replaySerial  uint32
	lastReplayGain chunk.ReplayGainInfo

	// shiftedReplayGain marks that this bridge's first SubmitReplayGain
	// call has already moved the previous song's dB value into
	// replayGainPrevDB, mirroring the shift SubmitMixRamp does for
	// mixRampPrev.
	shiftedReplayGain bool
}

// NewBridge creates a bridge bound to ctl for one decode.
func NewBridge(ctl *Control) *Bridge {
	return &Bridge{ctl: ctl, logger: ctl.logger.With("subcomponent", "bridge")}
}

func (b *Bridge) Ready(af audiocore.AudioFormat, seekable bool, duration audiocore.SignedSongTime) {
	b.ctl.mu.Lock()
	b.ctl.inputFormat = af
	if !b.ctl.outputFormat.IsFullyDefined() {
		b.ctl.outputFormat = af
	}
	b.ctl.totalTime = duration
	b.ctl.state = StateDecode
	b.ctl.Cond.Broadcast()
	b.ctl.mu.Unlock()

	b.seekable = seekable
	b.logger.Info("decoder ready", "format", af.String(), "seekable", seekable)
}

func (b *Bridge) GetCommand() Command {
	b.ctl.mu.Lock()
	defer b.ctl.mu.Unlock()

	if b.ctl.err != nil {
		return CommandStop
	}
	if b.virtualSeek {
		return CommandSeek
	}
	if b.ctl.initialSeekPending && b.ctl.state == StateDecode && b.ctl.command == CommandNone {
		b.ctl.initialSeekPending = false
		b.ctl.seekTime = b.ctl.startTime
		b.virtualSeek = true
		return CommandSeek
	}
	return b.ctl.command
}

func (b *Bridge) CommandFinished() {
	b.ctl.mu.Lock()
	defer func() {
		b.ctl.Cond.Broadcast()
		b.ctl.mu.Unlock()
	}()

	if b.virtualSeek {
		b.virtualSeek = false
		b.absoluteFrame = seekFrameFromTime(b.ctl.seekTime, b.ctl.inputFormat)
		// An external Seek may have overwritten seekTime (and command)
		// while the virtual initial seek was still in flight; the
		// absoluteFrame computed above already reflects that newer
		// target, so just clear the coalesced command too.
		if b.ctl.command == CommandSeek {
			b.reArmPipe()
			b.ctl.command = CommandNone
		}
		return
	}

	switch b.ctl.command {
	case CommandSeek:
		b.reArmPipe()
		b.absoluteFrame = seekFrameFromTime(b.ctl.seekTime, b.ctl.inputFormat)
		b.ctl.command = CommandNone
	case CommandStop:
		b.reArmPipe()
		b.ctl.command = CommandNone
		b.ctl.state = StateStop
	}
}

// reArmPipe discards anything already queued (stale pre-seek audio)
// and releases it back to the buffer, called with ctl.mu held.
func (b *Bridge) reArmPipe() {
	if b.pending != nil {
		b.pending.Release()
		b.pending = nil
	}
	if b.ctl.pipeline == nil {
		return
	}
	for c := b.ctl.pipeline.Clear(); c != nil; {
		next := c.Next
		c.Next = nil
		if b.ctl.buffer != nil {
			b.ctl.buffer.Release(c)
		}
		c = next
	}
}

func (b *Bridge) GetSeekTime() audiocore.SongTime {
	b.ctl.mu.Lock()
	defer b.ctl.mu.Unlock()
	return b.ctl.seekTime
}

func (b *Bridge) GetSeekFrame() int64 {
	b.ctl.mu.Lock()
	t := b.ctl.seekTime
	af := b.ctl.inputFormat
	b.ctl.mu.Unlock()
	return seekFrameFromTime(t, af)
}

func seekFrameFromTime(t audiocore.SongTime, af audiocore.AudioFormat) int64 {
	return int64(t) * int64(af.SampleRate) / 1000
}

func (b *Bridge) SeekError(err error) {
	b.ctl.mu.Lock()
	defer func() {
		b.ctl.Cond.Broadcast()
		b.ctl.mu.Unlock()
	}()

	if b.virtualSeek {
		b.virtualSeek = false
		if b.ctl.initialSeekEssential {
			b.ctl.err = errors.New(err).
				Component("decoder").
				Category(errors.CategoryDecoder).
				Context("phase", "initial_seek").
				Build()
			b.ctl.state = StateError
		}
		return
	}
	b.ctl.seekError = err
	b.ctl.command = CommandNone
}

// SubmitAudio enqueues data (already in af) into the decoder's pipe,
// allocating fresh chunks from the buffer as needed and respecting
// end_time truncation. Blocks on the control's condition variable
// while the buffer is exhausted, re-checking command on every wakeup.
func (b *Bridge) SubmitAudio(af audiocore.AudioFormat, data []byte, bitRate uint16) (Command, error) {
	b.ctl.mu.Lock()
	frameSize := af.FrameSize()
	endFrame := int64(-1)
	if b.ctl.endTime > 0 {
		endFrame = seekFrameFromTime(b.ctl.endTime, af)
	}
	pl := b.ctl.pipeline
	buf := b.ctl.buffer
	b.ctl.mu.Unlock()

	if frameSize == 0 || pl == nil || buf == nil {
		return CommandNone, nil
	}

	for len(data) > 0 {
		b.ctl.mu.Lock()
		if cmd := b.ctl.command; cmd != CommandNone {
			b.ctl.mu.Unlock()
			return cmd, nil
		}
		b.ctl.mu.Unlock()

		if endFrame >= 0 && b.absoluteFrame >= endFrame {
			return CommandStop, nil
		}

		if b.pending == nil {
			h, ok := buf.Allocate()
			if !ok {
				b.ctl.mu.Lock()
				for {
					if b.ctl.command != CommandNone {
						cmd := b.ctl.command
						b.ctl.mu.Unlock()
						return cmd, nil
					}
					h, ok = buf.Allocate()
					if ok {
						break
					}
					b.ctl.Cond.Wait()
				}
				b.ctl.mu.Unlock()
			}
			h.Chunk().ReplayGain = b.lastReplayGain
			h.Chunk().ReplayGainSerial = b.replaySerial
			b.pending = &h
		}

		dataTime := audiocore.NewSignedSongTime(audiocore.SongTime(b.absoluteFrame * 1000 / int64(af.SampleRate)))
		dst := b.pending.Chunk().Write(af, dataTime, bitRate)
		n := copy(dst, data)
		// Truncate to a whole number of frames.
		n -= n % frameSize
		if n == 0 {
			b.flushPending(pl)
			continue
		}
		if endFrame >= 0 {
			remainingFrames := endFrame - b.absoluteFrame
			if maxBytes := remainingFrames * int64(frameSize); int64(n) > maxBytes {
				n = int(maxBytes)
			}
		}
		if err := b.pending.Chunk().Expand(af, n); err != nil {
			b.flushPending(pl)
			continue
		}
		b.absoluteFrame += int64(n / frameSize)
		data = data[n:]

		if b.pending.Chunk().IsFull() {
			b.flushPending(pl)
		}
		if endFrame >= 0 && b.absoluteFrame >= endFrame {
			b.flushPending(pl)
			return CommandStop, nil
		}
	}

	return CommandNone, nil
}

func (b *Bridge) flushPending(pl interface{ Push(*chunk.Chunk) }) {
	if b.pending == nil {
		return
	}
	pl.Push(b.pending.Chunk())
	b.pending = nil
}

// SubmitTag flushes any partially-filled chunk, then enqueues a fresh
// empty chunk carrying only the tag.
func (b *Bridge) SubmitTag(name string) {
	b.ctl.mu.Lock()
	pl := b.ctl.pipeline
	buf := b.ctl.buffer
	b.ctl.mu.Unlock()
	if pl == nil || buf == nil {
		return
	}

	b.flushPending(pl)

	h, ok := buf.Allocate()
	if !ok {
		b.logger.Warn("dropped tag: buffer exhausted", "tag", name)
		return
	}
	h.Chunk().Tag = &chunk.Tag{Name: name}
	pl.Push(h.Chunk())
}

// SubmitReplayGain flushes the current chunk (the new gain affects
// only samples that follow) and records the info for subsequent
// chunks plus the scalar dB value used by the cross-fade calculator.
func (b *Bridge) SubmitReplayGain(info chunk.ReplayGainInfo, ok bool) {
	b.ctl.mu.Lock()
	pl := b.ctl.pipeline
	b.ctl.mu.Unlock()
	if pl != nil {
		b.flushPending(pl)
	}

	b.ctl.mu.Lock()
	defer b.ctl.mu.Unlock()
	if !b.shiftedReplayGain {
		b.ctl.replayGainPrevDB = b.ctl.replayGainDB
		b.shiftedReplayGain = true
	}
	b.replaySerial++
	if !ok {
		b.replaySerial = 0
		b.ctl.replayGainDB = 0
		return
	}
	b.ctl.replayGainDB = float64(info.TrackGain)
	b.lastReplayGain = info
}

// reArmPipeOnExit flushes any partially-filled chunk to the pipe once
// the plugin's Decode call returns, whether normally or with an error;
// called with ctl.mu held by the run loop.
func (b *Bridge) reArmPipeOnExit() {
	if b.pending != nil && b.ctl.pipeline != nil {
		b.ctl.pipeline.Push(b.pending.Chunk())
		b.pending = nil
	}
}

func (b *Bridge) SubmitMixRamp(info MixRampInfo) {
	b.ctl.mu.Lock()
	defer b.ctl.mu.Unlock()
	b.ctl.mixRampPrev = b.ctl.mixRamp
	b.ctl.mixRamp = info
}
