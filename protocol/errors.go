package protocol

import (
	"encoding/hex"
	"fmt"
)

// SocketError reports a failure to listen, accept or dial.
type SocketError struct {
	Op   string // "listen", "accept", "dial"
	Addr string
	Err  error
}

func (e *SocketError) Error() string {
	return fmt.Sprintf("socket %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *SocketError) Unwrap() error { return e.Err }

// ProtocolError reports malformed or truncated wire data. It is fatal to the
// connection it happened on and nothing else.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IntegrityError reports a checksum mismatch after a complete body.
type IntegrityError struct {
	Want []byte
	Got  []byte
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("checksum mismatch: want %s, got %s",
		hex.EncodeToString(e.Want), hex.EncodeToString(e.Got))
}
