package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Streamer drives a ResponseStream to completion from a Response
type Streamer struct {
	logger *logrus.Entry
}

// NewStreamer creates a Streamer logging through the given entry.
// A nil entry falls back to the standard logrus logger.
func NewStreamer(logger *logrus.Entry) *Streamer {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Streamer{logger: logger}
}

// Stream sends the prelude, an empty commit write, then every body chunk in
// order. The stream is ended on every return path.
func (s *Streamer) Stream(ctx context.Context, resp *Response, out ResponseStream) (err error) {
	defer func() {
		if endErr := out.End(); endErr != nil && err == nil {
			err = fmt.Errorf("end stream: %w", endErr)
		}
	}()

	if resp == nil {
		return errors.New("stream: nil response")
	}

	if err := out.Start(PreludeFor(resp)); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}

	if err := out.Write([]byte{}); err != nil {
		return fmt.Errorf("commit stream: %w", err)
	}

	if resp.Body == nil {
		return nil
	}

	if resp.Body.Locked() {
		s.logger.WithField("status_code", resp.StatusCode).Warn("Response body already consumed, ending stream")
		return nil
	}

	reader, err := resp.Body.Reader()
	if err != nil {
		return fmt.Errorf("acquire body reader: %w", err)
	}
	defer reader.Close()

	for {
		chunk, err := reader.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			err = fmt.Errorf("read body: %w", err)
			if a, ok := out.(Aborter); ok {
				a.Abort(err)
			}
			return err
		}
		if err := out.Write(chunk); err != nil {
			return fmt.Errorf("write body: %w", err)
		}
	}
}
