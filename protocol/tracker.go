package protocol

import (
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// Tracker protocol: one newline-terminated ASCII request per connection,
// exactly one response, then close.
const (
	CmdRegister = "REGISTER"
	CmdGetPeers = "GETPEERS"

	// MaxRequestSize caps how much of a request the tracker will read.
	MaxRequestSize = 4096

	respOK        = "OK\n"
	respNoPeers   = "\n"
	respErrPrefix = "ERROR "
	peerSeparator = ";"

	ReasonUnknownCommand  = "Unknown command"
	ReasonBadRegister     = "Invalid REGISTER command format"
	ReasonBadGetPeers     = "Invalid GETPEERS command format"
	ReasonNotAuthorized   = "File not authorized"
	ReasonRateLimited     = "Rate limit exceeded, try again later"
	ReasonRegisterFailure = "Failed to register file"
)

// Request is a parsed tracker request. Port is only set for REGISTER.
type Request struct {
	Command  string
	Filename string
	Port     int
}

// ParseRequest parses one request line. Fields are whitespace separated, so
// filenames cannot contain spaces. The returned ProtocolError carries the
// reason to send back to the client in its Err.
func ParseRequest(line string) (Request, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Request{}, &ProtocolError{Op: "parse request", Err: xerrors.New(ReasonUnknownCommand)}
	}

	switch fields[0] {
	case CmdRegister:
		if len(fields) != 3 {
			return Request{}, &ProtocolError{Op: "parse REGISTER", Err: xerrors.New(ReasonBadRegister)}
		}
		port, err := strconv.Atoi(fields[2])
		if err != nil || !validPort(port) {
			return Request{}, &ProtocolError{Op: "parse REGISTER", Err: xerrors.New(ReasonBadRegister)}
		}
		return Request{Command: CmdRegister, Filename: fields[1], Port: port}, nil

	case CmdGetPeers:
		if len(fields) != 2 {
			return Request{}, &ProtocolError{Op: "parse GETPEERS", Err: xerrors.New(ReasonBadGetPeers)}
		}
		return Request{Command: CmdGetPeers, Filename: fields[1]}, nil

	default:
		return Request{}, &ProtocolError{Op: "parse request", Err: xerrors.New(ReasonUnknownCommand)}
	}
}

// FormatRegister builds a REGISTER request line.
func FormatRegister(filename string, port int) string {
	return CmdRegister + " " + filename + " " + strconv.Itoa(port) + "\n"
}

// FormatGetPeers builds a GETPEERS request line.
func FormatGetPeers(filename string) string {
	return CmdGetPeers + " " + filename + "\n"
}

// OKResponse is the REGISTER success reply.
func OKResponse() string { return respOK }

// ErrorResponse builds "ERROR <reason>\n".
func ErrorResponse(reason string) string {
	return respErrPrefix + reason + "\n"
}

// PeersResponse builds the GETPEERS reply: every endpoint followed by ';',
// or a bare newline when there are none.
func PeersResponse(eps []Endpoint) string {
	if len(eps) == 0 {
		return respNoPeers
	}
	var b strings.Builder
	for _, ep := range eps {
		b.WriteString(ep.String())
		b.WriteString(peerSeparator)
	}
	b.WriteByte('\n')
	return b.String()
}

// ParseRegisterResponse returns nil for OK, or the tracker's error reason.
func ParseRegisterResponse(resp string) error {
	if resp == respOK {
		return nil
	}
	line := strings.TrimRight(resp, "\r\n")
	if reason, ok := strings.CutPrefix(line, respErrPrefix); ok {
		return xerrors.Errorf("tracker: %s", reason)
	}
	return &ProtocolError{Op: "parse REGISTER response", Err: xerrors.Errorf("unexpected reply %q", line)}
}

// ParsePeersResponse splits a GETPEERS reply into endpoint strings. An
// "ERROR ..." reply is returned as an error; an empty reply yields no peers.
func ParsePeersResponse(resp string) ([]string, error) {
	line, _, _ := strings.Cut(resp, "\n")
	if reason, ok := strings.CutPrefix(line, respErrPrefix); ok {
		return nil, xerrors.Errorf("tracker: %s", reason)
	}

	peers := []string{}
	for _, p := range strings.Split(line, peerSeparator) {
		if p != "" {
			peers = append(peers, p)
		}
	}
	return peers, nil
}
