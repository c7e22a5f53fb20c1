package decoder

import (
	"github.com/tphakala/birdnet-go/internal/audiocore"
	"github.com/tphakala/birdnet-go/internal/audiocore/chunk"
)

// DecoderClient is the facade a decoder plugin decodes against; it
// never touches Control directly. Bridge is the only implementation.
type DecoderClient interface {
	// Ready latches the negotiated input format, seekability, and the
	// song's total duration once the plugin has parsed the stream
	// header.
	Ready(af audiocore.AudioFormat, seekable bool, duration audiocore.SignedSongTime)

	// GetCommand returns the command the plugin should act on next;
	// may be a virtual Seek synthesized for the song's initial seek,
	// or a virtual Stop once an error has been latched.
	GetCommand() Command

	// CommandFinished acknowledges whatever GetCommand last returned.
	CommandFinished()

	// GetSeekTime/GetSeekFrame report the destination of an in-flight
	// seek (time relative to the start of the file).
	GetSeekTime() audiocore.SongTime
	GetSeekFrame() int64

	// SeekError reports that the plugin could not honour a seek.
	SeekError(err error)

	// SubmitAudio enqueues PCM in the given format at bitRate; returns
	// the command the plugin should act on, so a plugin can return
	// promptly instead of blocking through a full command turnaround.
	SubmitAudio(af audiocore.AudioFormat, data []byte, bitRate uint16) (Command, error)

	// SubmitTag flushes the current chunk and attaches name as a
	// boundary marker on a fresh one.
	SubmitTag(name string)

	// SubmitReplayGain stores a fresh ReplayGainInfo snapshot and bumps
	// the serial chunks are stamped with. Pass ok=false to clear
	// ("no info").
	SubmitReplayGain(info chunk.ReplayGainInfo, ok bool)

	// SubmitMixRamp stores the song's MixRamp curves.
	SubmitMixRamp(info MixRampInfo)
}

// Plugin decodes one song's worth of audio against client, blocking
// until finished, a terminal command (Stop) is observed, or an error
// occurs. uri identifies the resource to open (interpretation is
// plugin-specific: file path, stream URL, ...).
type Plugin interface {
	Decode(client DecoderClient, uri string) error
}
