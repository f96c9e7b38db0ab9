// Package app is a small gin application packaged by the adapter's own
// reference Lambda and used by the preview server. It exercises the paths
// the runtime shim has to get right: cookies, binary bodies, streamed
// responses and the bound environment.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"kit-adapter-aws/internal/middleware"
	"kit-adapter-aws/pkg/server"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// GreetingVar is read from the bound environment during Init
const GreetingVar = "GREETING"

const maxBodySize = 6 << 20

// App serves the demo routes as a lambda.Server
type App struct {
	*server.HandlerServer

	mu       sync.RWMutex
	greeting string
}

// New creates the application. Generated bootstraps call it by this name.
func New() *App {
	a := &App{greeting: "Hello"}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestSizeLimit(maxBodySize))
	router.Use(middleware.SlowFirstByte(2 * time.Second))

	router.GET("/", a.index)
	router.GET("/api/health", a.health)
	router.GET("/api/session", a.session)
	router.POST("/api/echo", a.echo)
	router.GET("/api/stream", a.stream)

	a.HandlerServer = server.NewHandlerServer(router, server.WithInit(a.init))
	return a
}

func (a *App) init(ctx context.Context, env map[string]string) error {
	if g := env[GreetingVar]; g != "" {
		a.mu.Lock()
		a.greeting = g
		a.mu.Unlock()
	}
	logrus.WithField("vars", len(env)).Debug("Application environment bound")
	return nil
}

// Greeting returns the greeting bound at init
func (a *App) Greeting() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.greeting
}

func (a *App) index(c *gin.Context) {
	client := c.ClientIP()
	if p, ok := server.PlatformFrom(c.Request.Context()); ok && p.ClientAddress != "" {
		client = p.ClientAddress
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(fmt.Sprintf(
		"<!doctype html><h1>%s</h1><p>%s</p><p>client %s</p>",
		a.Greeting(), c.Request.URL.String(), client,
	)))
}

func (a *App) health(c *gin.Context) {
	resp := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}
	if p, ok := server.PlatformFrom(c.Request.Context()); ok {
		resp["request_id"] = p.RequestID
	}
	c.JSON(http.StatusOK, resp)
}

// session sets two cookies so both must survive as separate values
func (a *App) session(c *gin.Context) {
	c.SetCookie("session", "abc", 3600, "/", "", true, true)
	c.SetCookie("theme", "dark", 3600, "/", "", true, false)

	cookies := map[string]string{}
	for _, ck := range c.Request.Cookies() {
		cookies[ck.Name] = ck.Value
	}
	c.JSON(http.StatusOK, gin.H{"received": cookies})
}

// echo returns the request body byte for byte
func (a *App) echo(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		_ = c.Error(err).SetType(gin.ErrorTypePublic)
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	contentType := c.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, body)
}

// stream writes n lines, flushing after each
func (a *App) stream(c *gin.Context) {
	n, err := strconv.Atoi(c.DefaultQuery("n", "3"))
	if err != nil || n < 0 || n > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "n must be between 0 and 1000"})
		return
	}
	delay, _ := time.ParseDuration(c.DefaultQuery("delay", "0s"))

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Status(http.StatusOK)
	for i := 1; i <= n; i++ {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-c.Request.Context().Done():
				return
			}
		}
		fmt.Fprintf(c.Writer, "chunk %d\n", i)
		c.Writer.Flush()
	}
}
