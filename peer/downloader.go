package peer

import (
	"context"
	"time"

	"github.com/fabricionaweb/pico-share/metainfo"
	"github.com/fabricionaweb/pico-share/protocol"
	"github.com/fabricionaweb/pico-share/transfer"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
)

// Downloader finds seeders through the tracker and pulls files from them.
// Choosing among several endpoints is left to the caller.
type Downloader struct {
	Tracker     *TrackerClient
	ChunkSize   int
	DialTimeout time.Duration
	IOTimeout   time.Duration // idle timeout while transferring
	KeepFailed  bool          // keep corrupt or partial files on disk
	Progress    func(done, total uint64)
}

// ListPeers returns the endpoints seeding filename, empty when none.
func (d *Downloader) ListPeers(ctx context.Context, filename string) ([]string, error) {
	return d.Tracker.GetPeers(ctx, filename)
}

// Download fetches filename from endpoint into dest. It succeeds only when
// the whole body arrived and its checksum matches the seeder's.
func (d *Downloader) Download(ctx context.Context, filename, endpoint, dest string) (*transfer.Result, error) {
	return d.download(ctx, filename, endpoint, dest, nil)
}

// Fetch downloads the file described by desc and additionally requires the
// seeder to announce the descriptor's size and checksum.
func (d *Downloader) Fetch(ctx context.Context, desc *metainfo.Descriptor, endpoint, dest string) (*transfer.Result, error) {
	expect, err := desc.Header()
	if err != nil {
		return nil, err
	}
	return d.download(ctx, desc.Name, endpoint, dest, expect)
}

func (d *Downloader) download(
	ctx context.Context, filename, endpoint, dest string, expect *protocol.Header,
) (*transfer.Result, error) {
	ep, err := protocol.ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	lg := log.With().
		Str("session", xid.New().String()).
		Str("file", filename).
		Stringer("peer", ep).
		Logger()
	lg.Info().Msg("connecting to peer")

	conn, err := dial(ctx, ep.String(), d.DialTimeout)
	if err != nil {
		return nil, err
	}
	//nolint:errcheck // Session over
	defer conn.Close()

	// unblock a pending read if the caller gives up
	stop := context.AfterFunc(ctx, func() {
		//nolint:errcheck // Forced close
		conn.Close()
	})
	defer stop()

	res, err := transfer.Receive(withIdleTimeout(conn, d.IOTimeout), dest, transfer.ReceiveOptions{
		Options: transfer.Options{
			ChunkSize: d.ChunkSize,
			Progress:  d.Progress,
			Logger:    &lg,
		},
		Expect:     expect,
		KeepFailed: d.KeepFailed,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, xerrors.Errorf("download canceled: %w", ctx.Err())
		}
		lg.Error().Err(err).Msg("download failed")
		return nil, err
	}
	return res, nil
}
