package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RequestIDKey is the key used to store request ID in context
const RequestIDKey = "request_id"

// OriginKey is the context key naming the origin that served a request
const OriginKey = "origin"

// RequestID tags each request with an id: the caller's X-Request-ID, else
// the CloudFront request id, else a fresh uuid. The id is echoed back.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = c.GetHeader("X-Amz-Cf-Id")
		}
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// AccessLog writes one line per request once the response is complete,
// naming the origin that served it. Bodies are never captured.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := logrus.Fields{
			"request_id":  c.GetString(RequestIDKey),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status_code": status,
			"duration_ms": millis(time.Since(start)),
			"bytes":       c.Writer.Size(),
			"origin":      originOf(c),
		}
		if q := c.Request.URL.RawQuery; q != "" {
			fields["query"] = q
		}
		if enc := c.Writer.Header().Get("Content-Encoding"); enc != "" {
			fields["content_encoding"] = enc
		}

		entry := logrus.WithFields(fields)
		switch {
		case status >= 500:
			entry.Error("Origin failed")
		case status >= 400:
			entry.Warn("Request rejected")
		default:
			entry.Info("Served")
		}
	}
}

// SlowFirstByte warns when a response takes longer than threshold to send
// its first byte. Total duration is reported too but not judged, since a
// streamed body may legitimately stay open.
func SlowFirstByte(threshold time.Duration) gin.HandlerFunc {
	if threshold <= 0 {
		threshold = time.Second
	}

	return func(c *gin.Context) {
		start := time.Now()
		w := &firstByteWriter{ResponseWriter: c.Writer}
		c.Writer = w

		c.Next()

		ttfb := time.Since(start)
		if !w.first.IsZero() {
			ttfb = w.first.Sub(start)
		}
		if ttfb <= threshold {
			return
		}
		logrus.WithFields(logrus.Fields{
			"request_id":   c.GetString(RequestIDKey),
			"method":       c.Request.Method,
			"path":         c.Request.URL.Path,
			"status_code":  c.Writer.Status(),
			"ttfb_ms":      millis(ttfb),
			"duration_ms":  millis(time.Since(start)),
			"threshold_ms": millis(threshold),
		}).Warn("Slow first byte")
	}
}

// firstByteWriter records when the first body byte or flush happened
type firstByteWriter struct {
	gin.ResponseWriter
	first time.Time
}

func (w *firstByteWriter) mark() {
	if w.first.IsZero() {
		w.first = time.Now()
	}
}

func (w *firstByteWriter) Write(b []byte) (int, error) {
	w.mark()
	return w.ResponseWriter.Write(b)
}

func (w *firstByteWriter) WriteString(s string) (int, error) {
	w.mark()
	return w.ResponseWriter.WriteString(s)
}

func (w *firstByteWriter) Flush() {
	w.mark()
	w.ResponseWriter.Flush()
}

func originOf(c *gin.Context) string {
	if origin := c.GetString(OriginKey); origin != "" {
		return origin
	}
	return "none"
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
