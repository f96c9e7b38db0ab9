package lambda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kit-adapter-aws/internal/event"
	"kit-adapter-aws/pkg/stream"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Handler is the Lambda entry point for a streaming function URL. It turns
// each invocation event into a request for the shared server and streams
// the server's response back to the runtime.
type Handler struct {
	manager  *ServerManager
	streamer *stream.Streamer
	logger   *logrus.Logger
}

// NewHandler creates a handler around a server manager
func NewHandler(manager *ServerManager, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		manager:  manager,
		streamer: stream.NewStreamer(logrus.NewEntry(logger)),
		logger:   logger,
	}
}

// Invoke handles one raw invocation event. It returns as soon as the
// prelude is known; the body is pumped into the returned reader by a
// background goroutine until the response ends.
func (h *Handler) Invoke(ctx context.Context, raw json.RawMessage) (*events.LambdaFunctionURLStreamingResponse, error) {
	ev, err := event.Decode(raw)
	if err != nil {
		return nil, err
	}
	return h.Serve(ctx, ev)
}

// Serve handles an already decoded event. In-process callers use it to pass
// binary bodies without a base64 round trip.
func (h *Handler) Serve(ctx context.Context, ev *event.Event) (*events.LambdaFunctionURLStreamingResponse, error) {
	start := time.Now()

	id := requestID(ctx, ev)
	entry := h.logger.WithFields(logrus.Fields{
		"request_id": id,
		"method":     ev.Method(),
		"path":       ev.Path(),
	})

	srv, err := h.manager.Server(ctx)
	if err != nil {
		entry.WithError(err).Error("Server unavailable")
		return nil, err
	}

	req, err := event.Translate(ctx, ev)
	if err != nil {
		entry.WithError(err).Warn("Failed to translate event")
		return nil, err
	}

	platform := Platform{
		ClientAddress: ev.SourceIP(),
		RequestID:     id,
	}

	resp, err := srv.Respond(ctx, req, platform)
	if err != nil {
		entry.WithError(err).Error("Server failed to respond")
		return nil, fmt.Errorf("respond: %w", err)
	}

	out := newPipeStream()
	done := make(chan struct{})
	var streamErr error

	go func() {
		defer close(done)

		streamErr = h.streamer.Stream(ctx, resp, out)
		fields := entry.WithFields(logrus.Fields{
			"latency_ms": time.Since(start).Milliseconds(),
		})
		if resp != nil {
			fields = fields.WithField("status_code", resp.StatusCode)
		}
		if streamErr != nil {
			fields.WithError(streamErr).Error("Response stream failed")
			return
		}
		fields.Info("Request completed")
	}()

	select {
	case prelude := <-out.prelude:
		return streamingResponse(prelude, out), nil
	case <-done:
		// The prelude is sent before the stream can end, so check it first.
		select {
		case prelude := <-out.prelude:
			return streamingResponse(prelude, out), nil
		default:
		}
		if streamErr == nil {
			streamErr = errors.New("stream ended without a prelude")
		}
		return nil, streamErr
	}
}

func streamingResponse(prelude stream.Prelude, out *pipeStream) *events.LambdaFunctionURLStreamingResponse {
	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: prelude.StatusCode,
		Headers:    prelude.Headers,
		Cookies:    prelude.Cookies,
		Body:       out.pr,
	}
}

// requestID prefers the runtime's request id, then the one carried by the
// event, and generates one for local invocations.
func requestID(ctx context.Context, ev *event.Event) string {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID
	}
	if id := ev.RequestID(); id != "" {
		return id
	}
	return uuid.NewString()
}
