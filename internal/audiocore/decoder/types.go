package decoder

import (
	"github.com/tphakala/birdnet-go/internal/audiocore"
	"github.com/tphakala/birdnet-go/internal/audiocore/chunk"
)

// State is DecoderControl's lifecycle state.
type State int

const (
	StateStop State = iota
	StateStart
	StateDecode
	StateError
)

func (s State) String() string {
	switch s {
	case StateStop:
		return "stop"
	case StateStart:
		return "start"
	case StateDecode:
		return "decode"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Command is a request from the player thread to the decoder thread.
type Command int

const (
	CommandNone Command = iota
	CommandStart
	CommandStop
	CommandSeek
)

func (c Command) String() string {
	switch c {
	case CommandNone:
		return "none"
	case CommandStart:
		return "start"
	case CommandStop:
		return "stop"
	case CommandSeek:
		return "seek"
	default:
		return "unknown"
	}
}

// DetachedSong is the immutable description of what to decode: a
// locator plus the (sub-track) range within it.
type DetachedSong struct {
	URI       string
	StartTime audiocore.SongTime
	EndTime   audiocore.SongTime // zero means "play to end of file"
	Duration  audiocore.SignedSongTime
}

// HasEndTime reports whether EndTime bounds decoding.
func (s DetachedSong) HasEndTime() bool { return s.EndTime > 0 }

// MixRampInfo carries a song's start/end MixRamp amplitude curves, as
// reported by the decoder plugin via SubmitMixRamp.
type MixRampInfo = chunk.MixRampInfo
