package lambda

import (
	"context"
	"net/http"

	"kit-adapter-aws/pkg/stream"
)

// Platform carries per-invocation details the server may need
type Platform struct {
	ClientAddress string `json:"client_address"`
	RequestID     string `json:"request_id"`
}

// InitOptions is passed to Server.Init once per successful initialization
type InitOptions struct {
	Env      map[string]string `json:"-"`
	Manifest *Manifest         `json:"manifest,omitempty"`
	// ChunkSize is the preferred body read size. Zero keeps the server's own.
	ChunkSize int `json:"-"`
}

// Server is the framework server driven by the adapter
type Server interface {
	// Init binds the environment into the server before the first request
	Init(ctx context.Context, opts InitOptions) error

	// Respond renders a response for one request. The response body may be
	// streamed and is consumed at most once.
	Respond(ctx context.Context, req *http.Request, platform Platform) (*stream.Response, error)
}
