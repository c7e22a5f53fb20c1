package chunk

import "errors"

var (
	// ErrChunkFull is returned by Chunk.Expand when the commit would
	// exceed the chunk's payload capacity.
	ErrChunkFull = errors.New("chunk: payload capacity exceeded")
	// ErrBufferExhausted names the state in which no chunk is free.
	// Buffer.Allocate reports that state with a false second result, not
	// with this error; callers wait on a condition variable elsewhere
	// (DecoderControl) rather than the buffer blocking internally.
	ErrBufferExhausted = errors.New("chunk: buffer has no free chunks")
)
