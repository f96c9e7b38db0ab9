package stream

import (
	"bytes"
	"sync"
)

// Recorder is an in-memory ResponseStream for testing
type Recorder struct {
	mu      sync.Mutex
	prelude *Prelude
	writes  [][]byte
	ended   int
}

// NewRecorder creates an empty Recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Start implements ResponseStream.Start
func (r *Recorder) Start(p Prelude) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ended > 0 {
		return ErrStreamEnded
	}
	if r.prelude != nil {
		return ErrAlreadyStarted
	}
	r.prelude = &p
	return nil
}

// Write implements ResponseStream.Write
func (r *Recorder) Write(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ended > 0 {
		return ErrStreamEnded
	}
	r.writes = append(r.writes, append([]byte(nil), p...))
	return nil
}

// End implements ResponseStream.End
func (r *Recorder) End() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended++
	return nil
}

// Prelude returns the recorded control message, nil if none was sent
func (r *Recorder) Prelude() *Prelude {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prelude
}

// Writes returns every write in order, including empty ones
func (r *Recorder) Writes() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.writes...)
}

// Body returns the concatenation of all writes
func (r *Recorder) Body() []byte {
	return bytes.Join(r.Writes(), nil)
}

// Ended reports how many times End was called
func (r *Recorder) Ended() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended
}
