package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Header().Get("X-Request-ID") == "" || w.Body.String() != w.Header().Get("X-Request-ID") {
		t.Errorf("Expected generated request id, got header %q body %q", w.Header().Get("X-Request-ID"), w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Body.String() != "abc" {
		t.Errorf("Expected incoming request id abc, got %s", w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Amz-Cf-Id", "cf-1")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Body.String() != "cf-1" {
		t.Errorf("Expected CloudFront request id cf-1, got %s", w.Body.String())
	}
}

func TestAccessLog(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	router := gin.New()
	router.Use(AccessLog())
	router.GET("/ok", func(c *gin.Context) {
		c.Set(OriginKey, "prerendered")
		c.Header("Content-Encoding", "br")
		c.String(http.StatusOK, "page")
	})
	router.GET("/fail", func(c *gin.Context) {
		c.Status(http.StatusBadGateway)
	})

	tests := []struct {
		path    string
		level   logrus.Level
		message string
		origin  string
	}{
		{"/ok", logrus.InfoLevel, "Served", "prerendered"},
		{"/fail", logrus.ErrorLevel, "Origin failed", "none"},
	}

	for _, tt := range tests {
		hook.Reset()
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

		entry := hook.LastEntry()
		if entry == nil {
			t.Fatalf("Expected a log entry for %s", tt.path)
		}
		if entry.Level != tt.level || entry.Message != tt.message {
			t.Errorf("Expected %s %q, got %s %q", tt.level, tt.message, entry.Level, entry.Message)
		}
		if entry.Data["origin"] != tt.origin {
			t.Errorf("Expected origin %s, got %v", tt.origin, entry.Data["origin"])
		}
	}
}

func TestSlowFirstByte(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	router := gin.New()
	router.Use(SlowFirstByte(20 * time.Millisecond))
	router.GET("/fast-start", func(c *gin.Context) {
		c.Status(http.StatusOK)
		c.Writer.WriteString("first")
		c.Writer.Flush()
		time.Sleep(40 * time.Millisecond)
		c.Writer.WriteString("rest")
	})
	router.GET("/slow-start", func(c *gin.Context) {
		time.Sleep(40 * time.Millisecond)
		c.String(http.StatusOK, "late")
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fast-start", nil))
	if len(hook.AllEntries()) != 0 {
		t.Errorf("Expected a long stream with a quick first byte to pass, got %v", hook.LastEntry().Message)
	}

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/slow-start", nil))
	entry := hook.LastEntry()
	if entry == nil || entry.Message != "Slow first byte" {
		t.Fatalf("Expected slow first byte warning, got %v", entry)
	}
	if entry.Data["ttfb_ms"].(float64) < 40 {
		t.Errorf("Expected ttfb of at least 40ms, got %v", entry.Data["ttfb_ms"])
	}
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name     string
		errType  gin.ErrorType
		expected int
	}{
		{"public", gin.ErrorTypePublic, http.StatusBadRequest},
		{"private", gin.ErrorTypePrivate, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(ErrorHandler())
			router.GET("/", func(c *gin.Context) {
				_ = c.Error(errors.New("boom")).SetType(tt.errType)
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
			if w.Code != tt.expected {
				t.Errorf("Expected status %d, got %d", tt.expected, w.Code)
			}
			if !strings.Contains(w.Body.String(), `"timestamp"`) {
				t.Errorf("Expected JSON error body, got %s", w.Body.String())
			}
		})
	}
}

func TestErrorHandler_AfterWrite(t *testing.T) {
	router := gin.New()
	router.Use(ErrorHandler())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		_ = c.Error(errors.New("stream broke"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK || w.Body.String() != "partial" {
		t.Errorf("Expected written response to be kept, got %d %q", w.Code, w.Body.String())
	}
}

func TestRateLimiter(t *testing.T) {
	router := gin.New()
	router.Use(RateLimiter(0.001, 1))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := []int{}
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("Expected [200 429], got %v", codes)
	}
}

func TestRequestSizeLimit(t *testing.T) {
	router := gin.New()
	router.Use(RequestSizeLimit(4))
	router.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too large")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", w.Code)
	}
}

func TestMetrics(t *testing.T) {
	metrics := NewMetrics("test")
	router := gin.New()
	router.Use(metrics.Middleware())
	router.GET("/asset", func(c *gin.Context) {
		c.Set(OriginKey, "client")
		c.Status(http.StatusOK)
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	for i := 0; i < 3; i++ {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/asset", nil))
	}

	got := testutil.ToFloat64(metrics.requests.WithLabelValues(http.MethodGet, "client", "200"))
	if got != 3 {
		t.Errorf("Expected 3 client requests, got %v", got)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), `test_requests_total{code="200",method="GET",origin="client"} 3`) {
		t.Errorf("Expected exposition to include the counter, got:\n%s", w.Body.String())
	}
}
