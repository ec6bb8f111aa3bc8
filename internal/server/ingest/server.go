// Package ingest accepts pastes over a raw TCP socket. A connection carries
// exactly one paste; its end is inferred from an inactivity timeout, an
// EOT/SUB byte or the client closing its side.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"slashbin/internal/server/ratelimit"
	"slashbin/internal/server/service"
)

// Replies written to socket clients.
const (
	MsgRateLimited = "Error: Rate limit exceeded. Try again later.\n"
	MsgTooLarge    = "Error: Data too large\n"
	MsgServerError = "Server error during upload\n"
)

// PasteFilename is the original name recorded for every socket paste.
const PasteFilename = "paste.txt"

// ObjectCreator stores a finished paste.
type ObjectCreator interface {
	CreateObject(ctx context.Context, channel string, r io.Reader, filename string, ttlDays int) (*service.UploadResult, error)
}

// Config holds the socket protocol limits.
type Config struct {
	SizeCap          int64         // bytes; a paste larger than this is rejected
	Inactivity       time.Duration // quiet period that completes a paste
	FirstByteTimeout time.Duration // zero disables
	TTLDays          int
	WriteTimeout     time.Duration
	CreateTimeout    time.Duration
}

// Server accepts paste connections.
type Server struct {
	cfg     Config
	limiter ratelimit.Admitter
	creator ObjectCreator

	wg sync.WaitGroup
}

// NewServer creates a new paste server.
func NewServer(cfg Config, limiter ratelimit.Admitter, creator ObjectCreator) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = 30 * time.Second
	}
	return &Server{
		cfg:     cfg,
		limiter: limiter,
		creator: creator,
	}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	slog.Info("paste socket listening", "addr", ln.Addr().String())
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln, one goroutine each, until ctx is
// cancelled. It closes ln and returns after in-flight connections finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("paste socket stopping, waiting for open connections")
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				slog.Warn("accept failed, retrying", "error", err, "backoff", backoff)
				time.Sleep(backoff)
				continue
			}
			s.wg.Wait()
			return fmt.Errorf("accept failed: %w", err)
		}
		backoff = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Handle(ctx, conn)
		}()
	}
}

// Handle runs one connection to completion and closes it. It is the single
// entry point per accepted socket.
func (s *Server) Handle(ctx context.Context, conn net.Conn) Outcome {
	sess := newSession(s, conn)
	defer conn.Close()
	return sess.run(ctx)
}

// remoteHost returns the host part of addr, which keys the rate limiter.
func remoteHost(addr net.Addr) string {
	if addr == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
