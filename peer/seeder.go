// Package peer implements the two peer roles: a Seeder that registers a file
// with the tracker and streams it to anyone who connects, and a Downloader
// that finds seeders through the tracker and pulls a verified copy.
package peer

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fabricionaweb/pico-share/protocol"
	"github.com/fabricionaweb/pico-share/transfer"
	"github.com/fabricionaweb/pico-share/workers"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
)

// acceptRetryDelay paces the accept loop after an error it cannot exit on.
const acceptRetryDelay = 10 * time.Millisecond

// SeederConfig tunes a Seeder.
type SeederConfig struct {
	Tracker   *TrackerClient
	ChunkSize int            // send chunk size, transfer.DefaultChunkSize when 0
	IOTimeout time.Duration  // idle timeout per upload, 0 disables
	Policy    workers.Policy // schedules uploads, unbounded when nil
}

// Seeder serves one file at a time. It moves Idle -> Seeding -> Idle through
// Seed and Stop.
//
// Stop does not wait for uploads already in progress: they finish or fail on
// their own. Callers that need a drain call Wait after Stop.
type Seeder struct {
	cfg    SeederConfig
	policy workers.Policy

	ln         net.Listener
	path       string
	cancel     context.CancelFunc
	acceptDone chan struct{}
	seeding    atomic.Bool
	mu         sync.Mutex
}

// NewSeeder returns an idle seeder.
func NewSeeder(cfg SeederConfig) *Seeder {
	policy := cfg.Policy
	if policy == nil {
		policy = workers.Unbounded()
	}
	return &Seeder{cfg: cfg, policy: policy}
}

// Seeding reports whether the seeder is accepting connections.
func (s *Seeder) Seeding() bool { return s.seeding.Load() }

// Addr returns the listening address, or nil when idle.
func (s *Seeder) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Seed registers the file at path with the tracker and starts serving it on
// port. Nothing is bound if registration fails. A file already being seeded
// is stopped first.
func (s *Seeder) Seed(ctx context.Context, path string, port int) error {
	info, err := os.Stat(path)
	if err != nil {
		return xerrors.Errorf("file does not exist: %w", err)
	}
	if !info.Mode().IsRegular() {
		return xerrors.Errorf("%s is not a regular file", path)
	}

	filename := filepath.Base(path)
	if strings.ContainsAny(filename, " \t\r\n") {
		return xerrors.Errorf("filename %q contains whitespace and cannot be announced", filename)
	}

	s.Stop()

	if err := s.cfg.Tracker.Register(ctx, filename, port); err != nil {
		return xerrors.Errorf("register with tracker: %w", err)
	}
	log.Info().Str("file", filename).Str("tracker", s.cfg.Tracker.Addr).Msg("registered with tracker")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seeding.Load() {
		return xerrors.New("seeder already running")
	}

	addr := net.JoinHostPort("", strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &protocol.SocketError{Op: "listen", Addr: addr, Err: err}
	}

	acceptCtx, cancel := context.WithCancel(context.Background())
	s.ln = ln
	s.path = path
	s.cancel = cancel
	s.acceptDone = make(chan struct{})
	s.seeding.Store(true)

	go s.acceptLoop(acceptCtx, ln, path, s.acceptDone)

	log.Info().Str("file", filename).Int("port", port).Msg("seeding")
	return nil
}

// Stop closes the listener and joins the accept loop. In-flight uploads are
// left running.
func (s *Seeder) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.seeding.Load() {
		return
	}
	s.seeding.Store(false)
	s.cancel()

	if err := s.ln.Close(); err != nil {
		log.Debug().Err(err).Msg("failed to close seeder listener")
	}
	<-s.acceptDone

	s.ln = nil
	log.Info().Str("path", s.path).Msg("stopped seeding")
}

// Wait blocks until every upload started by this seeder has finished.
func (s *Seeder) Wait() {
	s.policy.Wait()
}

func (s *Seeder) acceptLoop(ctx context.Context, ln net.Listener, path string, done chan<- struct{}) {
	defer close(done)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.seeding.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Error().Err(&protocol.SocketError{Op: "accept", Addr: ln.Addr().String(), Err: err}).
				Msg("failed to accept connection")
			time.Sleep(acceptRetryDelay)
			continue
		}

		log.Info().Str("remote", conn.RemoteAddr().String()).Msg("accepted download request")
		if err := s.policy.Go(ctx, func() { s.serve(conn, path) }); err != nil {
			//nolint:errcheck // Seeder is stopping
			conn.Close()
			return
		}
	}
}

// serve sends the file on one connection and closes it whatever happens.
// Size and checksum are recomputed per connection so a file replaced on disk
// is never announced with a stale checksum.
func (s *Seeder) serve(conn net.Conn, path string) {
	//nolint:errcheck // Upload finished or failed
	defer conn.Close()

	lg := log.With().
		Str("session", xid.New().String()).
		Str("remote", conn.RemoteAddr().String()).
		Str("file", filepath.Base(path)).
		Logger()

	sent, err := transfer.SendFile(withIdleTimeout(conn, s.cfg.IOTimeout), path, transfer.Options{
		ChunkSize: s.cfg.ChunkSize,
		Logger:    &lg,
	})
	if err != nil {
		lg.Warn().Err(err).Uint64("sent", sent).Msg("upload failed")
	}
}
