package preview

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"kit-adapter-aws/internal/edge"
	"kit-adapter-aws/internal/event"
	"kit-adapter-aws/pkg/lambda"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const copyBufferSize = 32 * 1024

// LambdaOrigin serves requests through an in-process Lambda handler. Each
// request becomes a function URL event the way CloudFront and the viewer
// request function would shape it, and the streamed body is flushed to the
// client chunk by chunk.
func LambdaOrigin(handler *lambda.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ev, err := FunctionURLEvent(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		resp, err := handler.Serve(r.Context(), ev)
		if err != nil {
			logrus.WithError(err).WithField("path", r.URL.Path).Error("Lambda origin failed")
			http.Error(w, "Bad Gateway", http.StatusBadGateway)
			return
		}

		if c, ok := resp.Body.(io.Closer); ok {
			// Unblocks the stream goroutine if the client goes away.
			defer c.Close()
		}

		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		for _, cookie := range resp.Cookies {
			w.Header().Add("Set-Cookie", cookie)
		}
		w.WriteHeader(resp.StatusCode)

		if err := copyFlushing(w, resp.Body); err != nil {
			logrus.WithError(err).WithField("path", r.URL.Path).Warn("Response body interrupted")
		}
	})
}

// FunctionURLEvent converts an inbound request into a function URL event.
// The body travels out of band as binary.
func FunctionURLEvent(r *http.Request) (*event.Event, error) {
	headers := make(map[string]string, len(r.Header)+2)
	for k, v := range r.Header {
		key := strings.ToLower(k)
		if key == "cookie" {
			continue
		}
		headers[key] = strings.Join(v, ",")
	}
	if headers["x-forwarded-host"] == "" {
		headers["x-forwarded-host"] = r.Host
	}
	if headers["x-forwarded-proto"] == "" {
		headers["x-forwarded-proto"] = "http"
		if r.TLS != nil {
			headers["x-forwarded-proto"] = "https"
		}
	}

	var cookies []string
	for _, line := range r.Header.Values("Cookie") {
		for _, c := range strings.Split(line, ";") {
			if c = strings.TrimSpace(c); c != "" {
				cookies = append(cookies, c)
			}
		}
	}

	sourceIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		sourceIP = host
	}

	ev := event.FromV2(events.LambdaFunctionURLRequest{
		Version:        "2.0",
		RawPath:        r.URL.EscapedPath(),
		RawQueryString: r.URL.RawQuery,
		Headers:        headers,
		Cookies:        cookies,
		RequestContext: events.LambdaFunctionURLRequestContext{
			RequestID: uuid.NewString(),
			HTTP: events.LambdaFunctionURLRequestContextHTTPDescription{
				Method:    r.Method,
				Path:      r.URL.Path,
				SourceIP:  sourceIP,
				UserAgent: r.UserAgent(),
			},
		},
	})

	if r.Body != nil && r.Body != http.NoBody {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		if len(body) > 0 {
			ev.WithBinaryBody(body)
		}
	}
	return ev, nil
}

// RemoteOrigin forwards requests to a deployed function URL. With a signer
// the requests are SigV4-signed for an IAM-protected URL.
func RemoteOrigin(target *url.URL, signer *edge.Signer) http.Handler {
	proxy := httputil.NewSingleHostReverseProxy(target)
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		host := r.Host
		director(r)
		if r.Header.Get("X-Forwarded-Host") == "" {
			r.Header.Set("X-Forwarded-Host", host)
		}
		if signer == nil {
			r.Host = target.Host
		}
	}
	if signer != nil {
		proxy.Transport = &edge.Transport{Signer: signer}
	}
	proxy.FlushInterval = -1
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logrus.WithError(err).WithField("target", target.Host).Error("Remote origin failed")
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
	}
	return proxy
}

func copyFlushing(w http.ResponseWriter, body io.Reader) error {
	rc := http.NewResponseController(w)
	buf := make([]byte, copyBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
