package stream

import (
	"errors"
	"net/http"
	"strings"
)

// ErrStreamEnded is returned when writing to a response stream that has been ended
var ErrStreamEnded = errors.New("stream: write after end")

// ErrAlreadyStarted is returned when the prelude is sent twice
var ErrAlreadyStarted = errors.New("stream: prelude already sent")

// Response is the framework-agnostic response produced by a server.
// A nil Body means the response has no body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       ReadableStream
}

// Prelude is the control message sent once before any body bytes
type Prelude struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Cookies    []string          `json:"cookies"`
}

// ResponseStream is the platform's outbound channel.
// Start must precede Write; End is idempotent and no Write may follow it.
type ResponseStream interface {
	Start(p Prelude) error
	Write(p []byte) error
	End() error
}

// Aborter is implemented by response streams that can report a body that
// failed mid-flight. Abort ends the stream.
type Aborter interface {
	Abort(err error)
}

// PreludeFor computes the control message for a response. Set-Cookie values are
// moved out of the header block into the cookie list, in order.
func PreludeFor(resp *Response) Prelude {
	p := Prelude{
		StatusCode: resp.StatusCode,
		Headers:    make(map[string]string, len(resp.Header)),
		Cookies:    []string{},
	}
	if p.StatusCode == 0 {
		p.StatusCode = http.StatusOK
	}

	for key, values := range resp.Header {
		name := strings.ToLower(key)
		if name == "set-cookie" {
			p.Cookies = append(p.Cookies, values...)
			continue
		}
		if len(values) == 0 {
			continue
		}
		p.Headers[name] = strings.Join(values, ", ")
	}

	return p
}
