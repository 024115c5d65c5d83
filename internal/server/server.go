// Package server exposes the chat pipeline over HTTP as an event stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"courtside/internal/logging"
	"courtside/internal/types"

	"github.com/gin-gonic/gin"
)

// AttemptHeader carries the client's attempt number.
const AttemptHeader = "X-Attempt-Number"

// Options configures the HTTP surface.
type Options struct {
	// RequestTimeout bounds one streamed run. Zero means no bound.
	RequestTimeout time.Duration
	// Health reports whether backing storage is reachable.
	Health func(ctx context.Context) error
	// Sentinel writes a trailing [DONE] line after the done event.
	Sentinel bool
}

// Server routes chat requests to a Pipeline.
type Server struct {
	pipeline *Pipeline
	opts     Options
	engine   *gin.Engine
}

// New creates a Server with its routes registered.
func New(p *Pipeline, opts Options) *Server {
	s := &Server{pipeline: p, opts: opts, engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.engine.POST("/api/chat", s.handleChat)
	s.engine.GET("/healthz", s.handleHealth)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Pipeline returns the pipeline behind the server.
func (s *Server) Pipeline() *Pipeline {
	return s.pipeline
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Server("Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logging.Server("Shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	<-errCh
	return nil
}

func (s *Server) handleChat(c *gin.Context) {
	var req types.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logging.ServerWarn("Rejected chat request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	attempt, err := attemptNumber(c.GetHeader(AttemptHeader), req.Attempt)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		logging.ServerWarn("Rejected chat request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}
	SetSSEHeaders(c.Writer)
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	s.pipeline.Run(ctx, RunRequest{Chat: req, Attempt: attempt}, writer)
	if s.opts.Sentinel {
		_ = writer.WriteSentinel()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.opts.Health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// attemptNumber prefers the header, then the body field, then 1.
func attemptNumber(header string, body int) (int, error) {
	if header = strings.TrimSpace(header); header != "" {
		n, err := strconv.Atoi(header)
		if err != nil || n < 1 {
			return 0, fmt.Errorf("%w: %s must be a positive integer", types.ErrInvalidRequest, AttemptHeader)
		}
		return n, nil
	}
	if body > 0 {
		return body, nil
	}
	return 1, nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.ServerDebug("%s %s -> %d (%v)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
