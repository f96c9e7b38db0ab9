package stream

import (
	"context"
	"errors"
	"io"
	"sync"
)

// DefaultChunkSize is the read size used when a body wraps an io.Reader
const DefaultChunkSize = 32 * 1024

// ErrLocked is returned when a reader is requested for a body that already has one
var ErrLocked = errors.New("stream: body is locked")

// ReadableStream is a lazy, finite, non-restartable sequence of byte chunks.
// Acquiring a reader locks the stream; a locked stream cannot be read again.
type ReadableStream interface {
	Locked() bool
	Reader() (ChunkReader, error)
}

// ChunkReader pulls chunks from a ReadableStream.
// Next returns io.EOF at end of stream and keeps returning io.EOF afterwards.
type ChunkReader interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Body is the standard ReadableStream implementation backed by an io.Reader
type Body struct {
	mu        sync.Mutex
	src       io.Reader
	chunkSize int
	locked    bool
}

// NewBody wraps r as a body stream. If r is also an io.Closer it is closed
// when the reader is closed.
func NewBody(r io.Reader) *Body {
	return &Body{src: r, chunkSize: DefaultChunkSize}
}

// NewBodyWithChunkSize is NewBody with an explicit read size
func NewBodyWithChunkSize(r io.Reader, size int) *Body {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &Body{src: r, chunkSize: size}
}

// NewChunkBody returns a body that yields the given chunks in order
func NewChunkBody(chunks ...[]byte) *Body {
	return NewBody(&chunkSource{chunks: chunks})
}

// Locked reports whether a reader has already been acquired
func (b *Body) Locked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locked
}

// Reader acquires the single reader of the body and locks it
func (b *Body) Reader() (ChunkReader, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.locked {
		return nil, ErrLocked
	}
	b.locked = true

	return &bodyReader{src: b.src, buf: make([]byte, b.chunkSize)}, nil
}

type bodyReader struct {
	src  io.Reader
	buf  []byte
	done bool
	err  error
}

func (r *bodyReader) Next(ctx context.Context) ([]byte, error) {
	if r.done {
		return nil, io.EOF
	}
	if r.err != nil {
		return nil, r.err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := r.src.Read(r.buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, r.buf[:n])
			if err == io.EOF {
				// Deliver the bytes now; the next call reports the end.
				r.done = true
				return chunk, nil
			}
			r.err = err
			return chunk, nil
		}
		if err == io.EOF {
			r.done = true
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
	}
}

func (r *bodyReader) Close() error {
	r.done = true
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// chunkSource replays fixed chunks through the io.Reader interface while
// keeping their boundaries.
type chunkSource struct {
	chunks [][]byte
	off    int
}

func (c *chunkSource) Read(p []byte) (int, error) {
	for len(c.chunks) > 0 {
		cur := c.chunks[0][c.off:]
		if len(cur) == 0 {
			c.chunks = c.chunks[1:]
			c.off = 0
			continue
		}
		n := copy(p, cur)
		c.off += n
		if c.off == len(c.chunks[0]) {
			c.chunks = c.chunks[1:]
			c.off = 0
		}
		return n, nil
	}
	return 0, io.EOF
}
