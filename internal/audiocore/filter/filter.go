// Package filter implements the PCM-in-PCM-out transform stages hosted
// by each output's filter chain: format conversion, volume, ReplayGain,
// channel routing, dynamic normalization, and the chain/auto-convert
// composition helpers that wire them together.
package filter

import "github.com/tphakala/birdnet-go/internal/audiocore"

// PreparedFilter is a Filter that has been Open()ed against a concrete
// input AudioFormat. Opening may narrow or otherwise change the format
// the filter actually requires as input (reported back to the caller);
// GetOutAudioFormat reports what comes out the other end.
type PreparedFilter interface {
	// Open negotiates in against this filter's requirements and returns
	// the input format the filter will actually accept — which may
	// differ from in (e.g. a filter that only takes mono returns a mono
	// format; Convert accepts in unchanged and changes only its output).
	Open(in audiocore.AudioFormat) (audiocore.AudioFormat, error)

	// GetOutAudioFormat reports the format of buffers returned by
	// FilterPCM/Flush. Only valid after Open.
	GetOutAudioFormat() audiocore.AudioFormat

	// Reset drops any internal buffering (resamplers, cross-fade
	// mixers). Called on seek or cancel.
	Reset()

	// FilterPCM filters one block of input-format PCM and returns a
	// buffer in output format. The returned slice is only valid until
	// the next call to FilterPCM or Flush, or until Close.
	FilterPCM(src []byte) ([]byte, error)

	// Flush drains any residual tail samples held by a stateful filter
	// (a resampler mid-frame, a compressor's lookahead window). Returns
	// an empty slice once fully drained.
	Flush() ([]byte, error)

	// Close releases resources acquired by Open.
	Close()
}

// Filter is a named, unopened filter template: a factory for a
// PreparedFilter, as resolved from a chain's comma-separated plugin
// list plus its config block.
type Filter interface {
	// Name is the filter template's configured name, used for logging
	// and error context.
	Name() string

	// Prepare returns a fresh PreparedFilter instance; Chain and
	// AutoConvert call this once per Open.
	Prepare() PreparedFilter
}
