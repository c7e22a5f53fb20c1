package audiocore

import "errors"

// Sentinel errors shared across engine stages. Stage-specific errors
// (decoder, output, pipe, crossfade, mixer) live in their own packages
// wrapped with internal/errors's EnhancedError and the matching category.
var (
	ErrInvalidAudioFormat = errors.New("invalid audio format")
	ErrFormatMismatch     = errors.New("audio format mismatch")
)
