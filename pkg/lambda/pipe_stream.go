package lambda

import (
	"io"
	"sync"

	"kit-adapter-aws/pkg/stream"
)

// pipeStream is a ResponseStream whose body side is an io.Pipe read by the
// Lambda runtime. The prelude is handed over on a channel because the
// runtime needs it before the first body byte.
type pipeStream struct {
	pr      *io.PipeReader
	pw      *io.PipeWriter
	prelude chan stream.Prelude

	mu      sync.Mutex
	started bool
	ended   bool
}

func newPipeStream() *pipeStream {
	pr, pw := io.Pipe()
	return &pipeStream{
		pr:      pr,
		pw:      pw,
		prelude: make(chan stream.Prelude, 1),
	}
}

func (p *pipeStream) Start(prelude stream.Prelude) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ended {
		return stream.ErrStreamEnded
	}
	if p.started {
		return stream.ErrAlreadyStarted
	}
	p.started = true
	p.prelude <- prelude
	return nil
}

func (p *pipeStream) Write(b []byte) error {
	p.mu.Lock()
	ended := p.ended
	p.mu.Unlock()

	if ended {
		return stream.ErrStreamEnded
	}
	_, err := p.pw.Write(b)
	return err
}

func (p *pipeStream) End() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ended {
		return nil
	}
	p.ended = true
	return p.pw.Close()
}

// Abort closes the body with err so the runtime reports a truncated
// response instead of a clean end of stream
func (p *pipeStream) Abort(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ended {
		return
	}
	p.ended = true
	p.pw.CloseWithError(err)
}
