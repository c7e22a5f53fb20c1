// Package chunk implements the fixed-size PCM block (MusicChunk) and its
// slab allocator (MusicBuffer), the unit the decoder, player and output
// stages pass between each other.
package chunk

import (
	"github.com/tphakala/birdnet-go/internal/audiocore"
)

// Size is the total size of a chunk in bytes, including the header
// fields carried alongside the PCM payload.
const Size = 4096

// headerOverhead approximates the space the header fields (format, tag
// pointer, timestamps, replay gain info...) would occupy in a packed
// layout, leaving the remainder for PCM payload.
const headerOverhead = 128

// PayloadSize is the PCM payload capacity of one chunk.
const PayloadSize = Size - headerOverhead

// ReplayGainInfo is a snapshot of the per-track/per-album amplitude
// normalisation data attached to a chunk.
type ReplayGainInfo struct {
	TrackGain float32
	TrackPeak float32
	AlbumGain float32
	AlbumPeak float32
}

// Tag carries song-boundary metadata through the pipe without consuming
// PCM space; an empty chunk with a non-nil Tag is how a tag event rides
// between stages.
type Tag struct {
	Name     string
	Duration audiocore.SignedSongTime
}

// MixRampInfo holds a song's start/end MixRamp volume curves as received
// from the decoder.
type MixRampInfo struct {
	Start string
	End   string
}

// Chunk is a fixed-capacity unit of homogeneous PCM frames plus metadata.
// All frames in one chunk share Format; Length is always a whole multiple
// of Format's frame size. An empty chunk (Length == 0) is legal only when
// it carries a non-nil Tag.
type Chunk struct {
	Data   [PayloadSize]byte
	Length int

	Format audiocore.AudioFormat

	Tag *Tag

	// Other is an owning pointer to a second chunk used for cross-fade
	// mixing; set by the player when activating a cross-fade mix, read
	// (and mixed) by the output stage.
	Other *Chunk
	// MixRatio selects linear cross-fade mixing when >= 0
	// (output = MixRatio*this + (1-MixRatio)*Other); a negative value
	// means "use MixRamp envelope mixing" instead.
	MixRatio float32

	BitRate uint16
	Time    audiocore.SignedSongTime

	ReplayGain       ReplayGainInfo
	ReplayGainSerial uint32 // 0 means "no replay gain info"

	// Next links chunks into a MusicPipe's intrusive singly-linked FIFO.
	Next *Chunk
}

// IsEmpty reports whether the chunk carries no PCM payload.
func (c *Chunk) IsEmpty() bool { return c.Length == 0 }

// IsFull reports whether the chunk's payload capacity is exhausted.
func (c *Chunk) IsFull() bool { return c.Length >= PayloadSize }

// reset clears a chunk back to its just-allocated state so the slab
// allocator can hand it out again. Next and Other are cleared by the
// caller (the buffer) outside its lock, since freeing Other may
// recursively free further chunks.
func (c *Chunk) reset() {
	c.Length = 0
	c.Format = audiocore.AudioFormat{}
	c.Tag = nil
	c.Other = nil
	c.MixRatio = 0
	c.BitRate = 0
	c.Time = audiocore.UnknownSongTime
	c.ReplayGain = ReplayGainInfo{}
	c.ReplayGainSerial = 0
	c.Next = nil
}

// Write returns a writable slice into the chunk's free tail. The first
// write on an empty, untagged chunk establishes its format, data
// timestamp, and bit-rate estimate; subsequent writes must agree with
// the chunk's established format.
func (c *Chunk) Write(af audiocore.AudioFormat, dataTime audiocore.SignedSongTime, bitRate uint16) []byte {
	if c.Length == 0 && c.Tag == nil && !c.Format.IsDefined() {
		c.Format = af
		c.Time = dataTime
		c.BitRate = bitRate
	}
	return c.Data[c.Length:]
}

// Expand commits n bytes written by a prior Write call. af must equal the
// chunk's established format. Returns ErrChunkFull if committing n bytes
// would exceed the chunk's payload capacity.
func (c *Chunk) Expand(af audiocore.AudioFormat, n int) error {
	if c.Format.IsDefined() && af != c.Format {
		return audiocore.ErrFormatMismatch
	}
	if c.Length+n > PayloadSize {
		return ErrChunkFull
	}
	c.Length += n
	return nil
}
