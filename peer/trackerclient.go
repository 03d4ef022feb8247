package peer

import (
	"context"
	"io"
	"time"

	"github.com/fabricionaweb/pico-share/protocol"
	"golang.org/x/xerrors"
)

// maxResponseSize bounds a GETPEERS reply.
const maxResponseSize = 1 << 20

// TrackerClient speaks the tracker protocol: one request per connection.
type TrackerClient struct {
	Addr        string        // host:port
	DialTimeout time.Duration // 0 means no timeout
	IOTimeout   time.Duration // 0 means no timeout
}

// Register announces that this host serves filename on port.
func (c *TrackerClient) Register(ctx context.Context, filename string, port int) error {
	resp, err := c.roundTrip(ctx, protocol.FormatRegister(filename, port))
	if err != nil {
		return err
	}
	return protocol.ParseRegisterResponse(resp)
}

// GetPeers returns the endpoints registered for filename, possibly none.
func (c *TrackerClient) GetPeers(ctx context.Context, filename string) ([]string, error) {
	resp, err := c.roundTrip(ctx, protocol.FormatGetPeers(filename))
	if err != nil {
		return nil, err
	}
	return protocol.ParsePeersResponse(resp)
}

func (c *TrackerClient) roundTrip(ctx context.Context, req string) (string, error) {
	conn, err := dial(ctx, c.Addr, c.DialTimeout)
	if err != nil {
		return "", err
	}
	//nolint:errcheck // One-shot connection
	defer conn.Close()

	// unblock the exchange if the caller gives up
	stop := context.AfterFunc(ctx, func() {
		//nolint:errcheck // Forced close
		conn.Close()
	})
	defer stop()

	if c.IOTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(c.IOTimeout)); err != nil {
			return "", xerrors.Errorf("set deadline: %w", err)
		}
	}

	if _, err := io.WriteString(conn, req); err != nil {
		return "", exchangeError(ctx, "send request to tracker", err)
	}

	// the tracker closes after its single response
	resp, err := io.ReadAll(io.LimitReader(conn, maxResponseSize))
	if err != nil {
		return "", exchangeError(ctx, "read tracker response", err)
	}
	if len(resp) == 0 {
		return "", &protocol.ProtocolError{Op: "read tracker response", Err: io.ErrUnexpectedEOF}
	}
	return string(resp), nil
}

// exchangeError reports a canceled context in place of the I/O error it
// caused.
func exchangeError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return xerrors.Errorf("tracker request canceled: %w", ctx.Err())
	}
	return xerrors.Errorf("%s: %w", op, err)
}
