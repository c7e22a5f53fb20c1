package chunk

import (
	"encoding/binary"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/smallnest/ringbuffer"
	"github.com/tphakala/birdnet-go/internal/logging"
)

// Buffer is a fixed-size slab of N chunks with a thread-safe allocator.
// Allocate does not wait for a free chunk: once the slab is exhausted it
// returns an invalid Handle and false, and the caller (the decoder, via
// DecoderControl's condition variable) is responsible for waiting until
// a chunk is freed.
type Buffer struct {
	mu     sync.Mutex
	slab   []Chunk
	free   *ringbuffer.RingBuffer // holds free slab indices, 4 bytes each
	idxBuf [4]byte
	logger *slog.Logger

	allocated int
}

// NewBuffer preallocates n chunks and seeds the free-list with all of
// their indices.
func NewBuffer(n int) *Buffer {
	logger := logging.ForService("audioengine")
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "chunk_buffer")

	b := &Buffer{
		slab:   make([]Chunk, n),
		free:   ringbuffer.New(n * 4),
		logger: logger,
	}
	for i := 0; i < n; i++ {
		b.pushFree(uint32(i))
	}
	logger.Info("chunk buffer created", "chunks", n, "chunk_size", Size, "payload_size", PayloadSize)
	return b
}

// N is the total number of chunks in the slab.
func (b *Buffer) N() int { return len(b.slab) }

func (b *Buffer) pushFree(idx uint32) {
	binary.LittleEndian.PutUint32(b.idxBuf[:], idx)
	_, _ = b.free.Write(b.idxBuf[:])
}

func (b *Buffer) popFree() (uint32, bool) {
	if b.free.Length() < 4 {
		return 0, false
	}
	var buf [4]byte
	n, err := b.free.Read(buf[:])
	if err != nil || n != 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(buf[:]), true
}

// Allocate returns an owning Handle to a free chunk, or (Handle{}, false)
// if the slab is currently exhausted.
func (b *Buffer) Allocate() (Handle, bool) {
	b.mu.Lock()
	idx, ok := b.popFree()
	if !ok {
		b.mu.Unlock()
		return Handle{}, false
	}
	b.allocated++
	b.mu.Unlock()

	return Handle{buf: b, idx: idx, c: &b.slab[idx]}, true
}

// IsFull reports whether every chunk in the slab is currently allocated.
func (b *Buffer) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allocated >= len(b.slab)
}

// IsEmpty reports whether every chunk in the slab is currently free; for
// debug/test use only.
func (b *Buffer) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allocated == 0
}

// Allocated returns the number of chunks currently checked out, for
// metrics and the buffer-conservation test invariant.
func (b *Buffer) Allocated() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allocated
}

// Release returns a chunk obtained by raw pointer (e.g. detached from
// a Pipe) to this Buffer, recovering its owning Handle by slab index.
// Equivalent to calling Release on the Handle originally returned by
// Allocate for this chunk.
func (b *Buffer) Release(c *Chunk) {
	if c == nil {
		return
	}
	Handle{buf: b, idx: slabIndex(b, c), c: c}.Release()
}

// free_ returns one chunk's slab slot to the pool and touches no other
// chunk: Handle.Release detaches Next and Other before calling it and
// frees them afterwards, outside of b.mu.
func (b *Buffer) free_(idx uint32) {
	b.mu.Lock()
	b.slab[idx].reset()
	b.pushFree(idx)
	b.allocated--
	b.mu.Unlock()
}

// Handle is an owning reference to a chunk allocated from a Buffer. The
// zero Handle is invalid; check Valid() before use. Handles are
// single-owner: Release returns the underlying chunk to its Buffer and
// the Handle must not be used again.
type Handle struct {
	buf *Buffer
	idx uint32
	c   *Chunk
}

// Valid reports whether h refers to an allocated chunk.
func (h Handle) Valid() bool { return h.c != nil }

// Chunk returns the underlying chunk. Panics on a zero Handle.
func (h Handle) Chunk() *Chunk {
	if h.c == nil {
		panic("chunk: Chunk() called on invalid Handle")
	}
	return h.c
}

// Release detaches Next/Other (recursively releasing them, iteratively
// to avoid unbounded recursion on a long chain) and returns this chunk's
// slot to its Buffer. Safe to call on a zero Handle (no-op).
func (h Handle) Release() {
	if h.c == nil {
		return
	}

	// Detach the owned chain outside of the buffer's lock: walk `next`
	// iteratively, releasing `other` for each link as we go, so a long
	// pipe's worth of chunks cannot blow the stack via recursive frees.
	next := h.c.Next
	other := h.c.Other
	h.c.Next = nil
	h.c.Other = nil

	h.buf.free_(h.idx)

	if other != nil {
		Handle{buf: h.buf, idx: slabIndex(h.buf, other), c: other}.Release()
	}
	for next != nil {
		n := next.Next
		o := next.Other
		next.Next = nil
		next.Other = nil
		idx := slabIndex(h.buf, next)
		h.buf.free_(idx)
		if o != nil {
			Handle{buf: h.buf, idx: slabIndex(h.buf, o), c: o}.Release()
		}
		next = n
	}
}

// slabIndex recovers a chunk's slab index from its pointer, needed
// because Next/Other are plain *Chunk (matching the source's owning
// raw-pointer chain) rather than Handles. Go defines no subtraction
// between *Chunk values, so this goes through uintptr arithmetic
// instead, same as the slab-index recovery pattern in sync.Pool-style
// allocators.
func slabIndex(b *Buffer, c *Chunk) uint32 {
	off := uintptr(unsafe.Pointer(c)) - uintptr(unsafe.Pointer(&b.slab[0]))
	return uint32(off / unsafe.Sizeof(b.slab[0]))
}
