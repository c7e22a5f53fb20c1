package player

import (
	"github.com/tphakala/birdnet-go/internal/audiocore"
	"github.com/tphakala/birdnet-go/internal/audiocore/decoder"
)

// Command is a request from a client thread to the player thread. All
// are synchronous from the client's viewpoint.
type Command int

const (
	CommandNone Command = iota
	CommandExit
	CommandStop
	CommandPause
	CommandSeek
	CommandCloseAudio
	CommandUpdateAudio
	CommandQueue
	CommandCancel
	CommandRefresh
)

func (c Command) String() string {
	switch c {
	case CommandNone:
		return "none"
	case CommandExit:
		return "exit"
	case CommandStop:
		return "stop"
	case CommandPause:
		return "pause"
	case CommandSeek:
		return "seek"
	case CommandCloseAudio:
		return "close_audio"
	case CommandUpdateAudio:
		return "update_audio"
	case CommandQueue:
		return "queue"
	case CommandCancel:
		return "cancel"
	case CommandRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

// State is the player's externally-visible playback state.
type State int

const (
	StateStop State = iota
	StatePause
	StatePlay
)

func (s State) String() string {
	switch s {
	case StateStop:
		return "stop"
	case StatePause:
		return "pause"
	case StatePlay:
		return "play"
	default:
		return "unknown"
	}
}

// ErrorType classifies why the player stopped/paused unexpectedly.
type ErrorType int

const (
	ErrorTypeNone ErrorType = iota
	ErrorTypeDecoder
	ErrorTypeOutput
)

// CrossFadeState tracks the lazily-evaluated per-song cross-fade
// decision: unknown until the successor's total time and ReplayGain/
// MixRamp data are available, then resolved to disabled or enabled,
// and finally active once the current song's remaining buffered chunks
// drop within range of the successor's lead-in.
type CrossFadeState int

const (
	CrossFadeUnknown CrossFadeState = iota
	CrossFadeDisabled
	CrossFadeEnabled
	CrossFadeActive
)

func (s CrossFadeState) String() string {
	switch s {
	case CrossFadeUnknown:
		return "unknown"
	case CrossFadeDisabled:
		return "disabled"
	case CrossFadeEnabled:
		return "enabled"
	case CrossFadeActive:
		return "active"
	default:
		return "unknown"
	}
}

// Song is the client-facing request to play one track, distinct from
// decoder.DetachedSong in that it additionally carries the flags the
// player's own state machine needs, such as BorderPause.
type Song struct {
	URI         string
	StartTime   audiocore.SongTime
	EndTime     audiocore.SongTime
	Duration    audiocore.SignedSongTime
	BorderPause bool
}

func (s Song) detached() decoder.DetachedSong {
	return decoder.DetachedSong{URI: s.URI, StartTime: s.StartTime, EndTime: s.EndTime, Duration: s.Duration}
}
