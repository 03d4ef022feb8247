package tracker

import (
	"bufio"
	"errors"
	"io"
	"net"
	"time"

	"github.com/fabricionaweb/pico-share/protocol"
	"github.com/rs/zerolog/log"
)

// handleConn serves exactly one request and closes conn.
func (s *Server) handleConn(conn net.Conn) {
	//nolint:errcheck // Response already sent or connection broken
	defer conn.Close()

	logger := log.With().Str("remote", conn.RemoteAddr().String()).Logger()

	if s.cfg.IOTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(s.cfg.IOTimeout)); err != nil {
			logger.Debug().Err(err).Msg("failed to set deadline")
		}
	}

	line, err := readRequest(conn)
	if err != nil {
		logger.Debug().Err(err).Msg("failed to read request")
		return
	}

	resp := s.handleRequest(remoteHost(conn.RemoteAddr()), line)
	if _, err := io.WriteString(conn, resp); err != nil {
		logger.Warn().Err(err).Msg("failed to send response")
	}
}

// handleRequest parses line and runs it against the registry on behalf of
// a client at host. It always produces exactly one response.
func (s *Server) handleRequest(host, line string) string {
	if !s.limiter.allow(host) {
		log.Debug().Str("host", host).Msg("rate limited request")
		return protocol.ErrorResponse(protocol.ReasonRateLimited)
	}

	req, err := protocol.ParseRequest(line)
	if err != nil {
		var perr *protocol.ProtocolError
		reason := protocol.ReasonUnknownCommand
		if errors.As(err, &perr) {
			reason = perr.Err.Error()
		}
		log.Debug().Str("host", host).Str("reason", reason).Msg("rejected request")
		return protocol.ErrorResponse(reason)
	}

	switch req.Command {
	case protocol.CmdRegister:
		if !s.allow.allows(req.Filename) {
			log.Info().Str("file", req.Filename).Str("host", host).Msg("register rejected: not in allowlist")
			return protocol.ErrorResponse(protocol.ReasonNotAuthorized)
		}
		if !s.registry.Register(req.Filename, protocol.Endpoint{Host: host, Port: req.Port}) {
			return protocol.ErrorResponse(protocol.ReasonRegisterFailure)
		}
		return protocol.OKResponse()

	case protocol.CmdGetPeers:
		if !s.allow.allows(req.Filename) {
			log.Debug().Str("file", req.Filename).Msg("getpeers filtered: not in allowlist")
			return protocol.PeersResponse(nil)
		}
		peers := s.registry.Lookup(req.Filename)
		log.Debug().Str("file", req.Filename).Int("peers", len(peers)).Msg("getpeers")
		return protocol.PeersResponse(peers)
	}

	return protocol.ErrorResponse(protocol.ReasonUnknownCommand)
}

// readRequest reads up to the first newline, bounded by MaxRequestSize. A
// client that closes without a newline still gets its bytes parsed.
func readRequest(r io.Reader) (string, error) {
	br := bufio.NewReader(io.LimitReader(r, protocol.MaxRequestSize))
	line, err := br.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return line, nil
}

// remoteHost extracts the observed source IP of a connection.
func remoteHost(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
