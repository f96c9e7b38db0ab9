package event

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Translate builds the standard request for an invocation event.
// GET and DELETE requests never carry a body.
func Translate(ctx context.Context, ev *Event) (*http.Request, error) {
	if ev == nil || ev.version == VersionUnknown {
		return nil, newTranslateError("translate", "", ErrUnknownSchema)
	}

	inv := ev.canonical()
	if inv.method == "" {
		return nil, newTranslateError("translate", "method", ErrMalformedEvent)
	}

	target, err := requestURL(inv)
	if err != nil {
		return nil, err
	}

	body, err := requestBody(inv)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, inv.method, target.String(), nil)
	if err != nil {
		return nil, newTranslateError("translate", "method", err)
	}

	if body != nil {
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	} else {
		req.Body = http.NoBody
	}

	for _, h := range inv.headers {
		req.Header.Add(h.key, h.value)
	}

	req.RemoteAddr = inv.sourceIP
	req.RequestURI = target.RequestURI()

	return req, nil
}

// requestURL rebuilds the public URL from forwarded headers; the connection
// the event arrived on belongs to the CDN, not the client.
func requestURL(inv invocation) (*url.URL, error) {
	proto, ok := inv.lookup("x-forwarded-proto")
	if !ok || firstToken(proto) == "" {
		return nil, newTranslateError("url", "x-forwarded-proto", ErrMissingForwardedHeader)
	}
	host, ok := inv.lookup("x-forwarded-host")
	if !ok || firstToken(host) == "" {
		return nil, newTranslateError("url", "x-forwarded-host", ErrMissingForwardedHeader)
	}

	path := inv.rawPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	raw := firstToken(proto) + "://" + firstToken(host) + path
	if inv.rawQuery != "" {
		raw += "?" + inv.rawQuery
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, newTranslateError("url", "rawPath", fmt.Errorf("%w: %v", ErrInvalidURL, err))
	}
	return u, nil
}

func requestBody(inv invocation) ([]byte, error) {
	if inv.method == http.MethodGet || inv.method == http.MethodDelete {
		return nil, nil
	}

	if inv.hasBinary {
		return inv.binary, nil
	}

	if inv.body == "" {
		return nil, nil
	}

	if inv.base64 {
		data, err := base64.StdEncoding.DecodeString(inv.body)
		if err != nil {
			return nil, newTranslateError("body", "body", fmt.Errorf("%w: %v", ErrMalformedBody, err))
		}
		return data, nil
	}

	charset, _ := inv.lookup("content-encoding")
	data, err := decodeText(inv.body, charset)
	if err != nil {
		return nil, newTranslateError("body", "content-encoding", fmt.Errorf("%w: %v", ErrMalformedBody, err))
	}
	return data, nil
}

// decodeText converts a textual body to bytes using the named charset.
// Names that are not charsets, such as content codings, pass through.
func decodeText(body, charset string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8":
		return []byte(body), nil
	case "latin1", "binary", "ascii", "iso-8859-1":
		// One byte per UTF-16 code unit: its low byte.
		units, err := utf16le.NewEncoder().Bytes([]byte(body))
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(units)/2)
		for i := range out {
			out[i] = units[2*i]
		}
		return out, nil
	case "utf16le", "utf-16le", "ucs2", "ucs-2":
		return utf16le.NewEncoder().Bytes([]byte(body))
	case "hex":
		return hex.DecodeString(body)
	case "base64":
		return base64.StdEncoding.DecodeString(body)
	default:
		return []byte(body), nil
	}
}

func firstToken(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}
