// Package output implements the per-sink output stage: a plugin-hosting
// thread that pulls chunks from the shared pipe through a per-output
// cursor, mixes any cross-fade partner, runs the filter chain, and
// drives a Sink plugin.
package output

import (
	"errors"

	"github.com/tphakala/birdnet-go/internal/audiocore"
)

// ErrInterrupted is returned by a blocking Sink call that was aborted by
// a concurrent Interrupt() from the output's control thread. This is the
// systems-rewrite substitute for the source's AudioOutputInterrupted
// exception: an explicit return value instead of unwinding through a
// blocking library call.
var ErrInterrupted = errors.New("output: interrupted")

// Sink is the plugin contract a concrete device/file/network output
// implements. Enable/Disable bracket resource acquisition (device
// handles, sockets); Open/Close bracket one playback session at a
// negotiated AudioFormat.
type Sink interface {
	Name() string

	Enable() error
	Disable()

	// Open may renegotiate af in place (e.g. snap to a supported rate)
	// and returns the format actually in effect.
	Open(af audiocore.AudioFormat) (audiocore.AudioFormat, error)
	Close()

	// Play submits data and returns the number of bytes actually
	// consumed; it may be less than len(data) but must be > 0: Control
	// treats a zero return with no error as a failure and closes the
	// output. Returns ErrInterrupted if Interrupt() cancelled this call.
	Play(data []byte) (int, error)

	// Drain blocks until the device has physically played everything
	// already submitted.
	Drain() error
	// Cancel discards anything buffered in the device without waiting.
	Cancel()

	SendTag(name string)

	// Interrupt aborts one in-flight blocking call (Play/Pause/Drain)
	// from another goroutine; at most one call is cancelled per
	// Interrupt.
	Interrupt()
}

// Pauser is implemented by sinks that support an explicit pause state
// (keeping the device open but silent) rather than Close/Open cycling.
// Pause returns true to remain in the pause loop (called repeatedly
// until it returns false or a command arrives).
type Pauser interface {
	Pause() bool
}

// Delayer is implemented by sinks that know how long the caller should
// sleep before the next Play call (e.g. a software ring buffer that
// tracks device-side drain rate).
type Delayer interface {
	Delay() int64 // nanoseconds
}

// FormatChanger is implemented by sinks that can renegotiate format
// in-flight without a full Close/Open cycle.
type FormatChanger interface {
	ChangeAudioFormat(af audiocore.AudioFormat) (audiocore.AudioFormat, error)
}

// VolumeSink is implemented by sinks with their own hardware volume
// control, used by the hardware mixer.
type VolumeSink interface {
	GetVolume() (int, error)
	SetVolume(percent int) error
}
