// Package event translates Lambda HTTP invocation events into standard
// *http.Request values. Every supported payload schema is resolved once at
// the boundary into a single canonical form; nothing downstream branches on
// the schema version.
package event

import (
	"encoding/json"
	"net/url"
	"sort"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/tidwall/gjson"
)

// Version identifies the payload schema of an invocation event
type Version int

const (
	VersionUnknown Version = iota
	// Version1 is the REST API / payload format 1.0 shape
	Version1
	// Version2 is the function URL / HTTP API payload format 2.0 shape
	Version2
)

func (v Version) String() string {
	switch v {
	case Version1:
		return "1.0"
	case Version2:
		return "2.0"
	default:
		return "unknown"
	}
}

// Event is a tagged union over the supported invocation event schemas
type Event struct {
	version   Version
	v1        *events.APIGatewayProxyRequest
	v2        *events.LambdaFunctionURLRequest
	binary    []byte
	hasBinary bool
}

type header struct {
	key   string
	value string
}

// invocation is the schema-independent view of an event
type invocation struct {
	method    string
	rawPath   string
	rawQuery  string
	headers   []header
	body      string
	base64    bool
	binary    []byte
	hasBinary bool
	sourceIP  string
	requestID string
}

// FromV2 wraps a function URL event
func FromV2(e events.LambdaFunctionURLRequest) *Event {
	return &Event{version: Version2, v2: &e}
}

// FromV1 wraps a REST API event
func FromV1(e events.APIGatewayProxyRequest) *Event {
	return &Event{version: Version1, v1: &e}
}

// Decode sniffs the schema version of a raw event and decodes it
func Decode(raw []byte) (*Event, error) {
	if !gjson.ValidBytes(raw) {
		return nil, newTranslateError("decode", "", ErrMalformedEvent)
	}

	fields := gjson.GetManyBytes(raw, "version", "requestContext.http.method", "httpMethod")
	version, httpMethod, restMethod := fields[0], fields[1], fields[2]

	switch {
	case version.String() == "2.0" || httpMethod.Exists():
		var e events.LambdaFunctionURLRequest
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, newTranslateError("decode", "", err)
		}
		return FromV2(e), nil
	case restMethod.Exists():
		var e events.APIGatewayProxyRequest
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, newTranslateError("decode", "", err)
		}
		return FromV1(e), nil
	default:
		return nil, newTranslateError("decode", "version", ErrUnknownSchema)
	}
}

// WithBinaryBody attaches an already-binary body that bypasses text and
// base64 decoding
func (e *Event) WithBinaryBody(body []byte) *Event {
	e.binary = body
	e.hasBinary = true
	return e
}

// Version returns the payload schema of the event
func (e *Event) Version() Version {
	return e.version
}

// Method returns the HTTP method of the event
func (e *Event) Method() string {
	return e.canonical().method
}

// Path returns the raw request path of the event
func (e *Event) Path() string {
	return e.canonical().rawPath
}

// SourceIP returns the client address reported by the platform
func (e *Event) SourceIP() string {
	return e.canonical().sourceIP
}

// RequestID returns the platform request id, if any
func (e *Event) RequestID() string {
	return e.canonical().requestID
}

func (e *Event) canonical() invocation {
	inv := invocation{binary: e.binary, hasBinary: e.hasBinary}

	switch e.version {
	case Version2:
		ev := e.v2
		inv.method = ev.RequestContext.HTTP.Method
		inv.rawPath = ev.RawPath
		inv.rawQuery = ev.RawQueryString
		inv.body = ev.Body
		inv.base64 = ev.IsBase64Encoded
		inv.sourceIP = ev.RequestContext.HTTP.SourceIP
		inv.requestID = ev.RequestContext.RequestID
		inv.headers = singleValued(ev.Headers)
		if len(ev.Cookies) > 0 {
			// Function URLs move the cookie header into its own list.
			inv.headers = append(inv.headers, header{key: "cookie", value: strings.Join(ev.Cookies, "; ")})
		}
	case Version1:
		ev := e.v1
		inv.method = ev.HTTPMethod
		inv.rawPath = ev.Path
		inv.body = ev.Body
		inv.base64 = ev.IsBase64Encoded
		inv.sourceIP = ev.RequestContext.Identity.SourceIP
		inv.requestID = ev.RequestContext.RequestID
		if len(ev.MultiValueHeaders) > 0 {
			inv.headers = multiValued(ev.MultiValueHeaders)
		} else {
			inv.headers = singleValued(ev.Headers)
		}
		inv.rawQuery = queryString(ev.MultiValueQueryStringParameters, ev.QueryStringParameters)
	}

	return inv
}

// lookup returns the first value of a header, matched case-insensitively
func (inv invocation) lookup(name string) (string, bool) {
	for _, h := range inv.headers {
		if strings.EqualFold(h.key, name) {
			return h.value, true
		}
	}
	return "", false
}

func singleValued(m map[string]string) []header {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	headers := make([]header, 0, len(keys))
	for _, k := range keys {
		headers = append(headers, header{key: k, value: m[k]})
	}
	return headers
}

func multiValued(m map[string][]string) []header {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var headers []header
	for _, k := range keys {
		for _, v := range m[k] {
			headers = append(headers, header{key: k, value: v})
		}
	}
	return headers
}

func queryString(multi map[string][]string, single map[string]string) string {
	values := url.Values{}
	if len(multi) > 0 {
		for k, vs := range multi {
			for _, v := range vs {
				values.Add(k, v)
			}
		}
	} else {
		for k, v := range single {
			values.Set(k, v)
		}
	}
	return values.Encode()
}
