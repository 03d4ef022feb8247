// Package tracker implements the rendezvous service: a registry of which
// peers seed which filename, served over a one-request-per-connection text
// protocol.
package tracker

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fabricionaweb/pico-share/protocol"
	"github.com/fabricionaweb/pico-share/workers"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
)

const (
	shutdownTimeout  = 30 * time.Second
	acceptRetryDelay = 10 * time.Millisecond
)

// Config tunes a Server. The zero value is a public, unlimited tracker with
// no I/O deadlines.
type Config struct {
	AllowlistPath string        // private mode when set
	RateLimit     int           // requests per minute per source IP, 0 disables
	MaxConns      int           // concurrent handlers, 0 is unbounded
	IOTimeout     time.Duration // per-connection deadline, 0 disables
}

// Server is a tracker. It moves Stopped -> Listening -> Stopped through
// Start and Stop and may be restarted.
type Server struct {
	registry *Registry
	limiter  *ipLimiter
	allow    allowlist
	cfg      Config

	ln         net.Listener
	policy     workers.Policy
	cancel     context.CancelFunc
	acceptDone chan struct{}
	running    atomic.Bool
	mu         sync.Mutex
}

// NewServer creates a stopped tracker with an empty registry.
func NewServer(cfg Config) *Server {
	return &Server{
		cfg:      cfg,
		registry: NewRegistry(),
		limiter:  newIPLimiter(cfg.RateLimit),
	}
}

// Registry exposes the server's registry.
func (s *Server) Registry() *Registry { return s.registry }

// Addr returns the listening address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Start binds port and begins accepting connections in the background. On
// failure the server stays stopped.
func (s *Server) Start(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return xerrors.New("tracker already listening")
	}

	addr := net.JoinHostPort("", strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &protocol.SocketError{Op: "listen", Addr: addr, Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	if s.cfg.AllowlistPath != "" {
		if err := s.allow.watch(ctx, s.cfg.AllowlistPath); err != nil {
			cancel()
			//nolint:errcheck // Startup already failed
			ln.Close()
			return err
		}
	}
	if s.limiter != nil {
		go s.sweepLoop(ctx)
	}

	s.ln = ln
	s.cancel = cancel
	s.policy = workers.Limited(s.cfg.MaxConns)
	s.acceptDone = make(chan struct{})
	s.running.Store(true)

	go s.acceptLoop(ctx, ln, s.policy, s.acceptDone)

	log.Info().Str("addr", ln.Addr().String()).Msg("tracker listening")
	return nil
}

// Stop closes the listener, waits for the accept loop to exit and for every
// in-flight handler to finish. Stopping a stopped server is a no-op. The
// lock is released before the drain, so Addr and Start stay responsive.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		return nil
	}
	s.running.Store(false)
	s.cancel()

	err := s.ln.Close()
	s.ln = nil
	acceptDone, policy := s.acceptDone, s.policy
	s.mu.Unlock()

	<-acceptDone

	log.Info().Msg("waiting for in-flight requests to complete...")
	policy.Wait()

	files, endpoints := s.registry.Stats()
	log.Info().Int("files", files).Int("peers", endpoints).Msg("tracker stopped")
	return err
}

// Run starts the tracker and blocks until ctx is canceled, then stops it.
func (s *Server) Run(ctx context.Context, port int) error {
	if err := s.Start(port); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")

	done := make(chan error, 1)
	go func() { done <- s.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			log.Debug().Err(err).Msg("failed to close listener")
		}
		log.Info().Msg("shutdown complete")
		return nil
	case <-time.After(shutdownTimeout):
		log.Warn().Msg("forcing shutdown after timeout, some handlers incomplete")
		return xerrors.New("shutdown timeout")
	}
}

// acceptLoop hands every connection to the policy until the listener closes.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, policy workers.Policy, done chan<- struct{}) {
	defer close(done)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Error().Err(&protocol.SocketError{Op: "accept", Addr: ln.Addr().String(), Err: err}).
				Msg("failed to accept connection")
			time.Sleep(acceptRetryDelay)
			continue
		}

		log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("accepted connection")
		if err := policy.Go(ctx, func() { s.handleConn(conn) }); err != nil {
			//nolint:errcheck // Server is shutting down
			conn.Close()
			return
		}
	}
}

// sweepLoop drops idle rate limiter entries until ctx is canceled.
func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(rateLimitSweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.sweep(time.Now().Add(-rateLimitIdle)); n > 0 {
				log.Debug().Int("removed", n).Msg("swept idle rate limiters")
			}
		}
	}
}
