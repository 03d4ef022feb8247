// Package transfer implements the file transfer session: a fixed header with
// the file size and checksum, then the raw body, verified on arrival.
package transfer

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/fabricionaweb/pico-share/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
)

// DefaultChunkSize is the body read/write granularity when none is set.
const DefaultChunkSize = 1024

// FailedSuffix is appended to the destination name of a failed body kept
// with ReceiveOptions.KeepFailed.
const FailedSuffix = ".failed"

// Options are shared by both sides of a session.
type Options struct {
	ChunkSize int                      // bytes per read/write, DefaultChunkSize when <= 0
	Progress  func(done, total uint64) // called after every chunk, may be nil
	Logger    *zerolog.Logger          // defaults to the global logger
}

func (o Options) chunkSize() int {
	if o.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return o.ChunkSize
}

func (o Options) logger() *zerolog.Logger {
	if o.Logger == nil {
		return &log.Logger
	}
	return o.Logger
}

func (o Options) progress(done, total uint64) {
	if o.Progress != nil {
		o.Progress(done, total)
	}
}

// ReceiveOptions extend Options for the receiving side.
type ReceiveOptions struct {
	Options

	// Expect, when set, must match the sender's header exactly; a different
	// checksum is an IntegrityError and a different size a ProtocolError.
	// Either way nothing is written to disk.
	Expect *protocol.Header

	// KeepFailed keeps a corrupt or incomplete body for inspection as
	// dest+FailedSuffix instead of removing it.
	KeepFailed bool
}

// Result describes a completed, verified download.
type Result struct {
	Path     string
	Size     uint64
	Checksum []byte
}

// Send writes the header for (size, sum) and then exactly size bytes from
// body. It fails if body ends early.
func Send(w io.Writer, body io.Reader, size uint64, sum []byte, opts Options) (uint64, error) {
	if err := protocol.WriteHeader(w, protocol.Header{Size: size, Checksum: sum}); err != nil {
		return 0, xerrors.Errorf("send header: %w", err)
	}

	buf := make([]byte, opts.chunkSize())
	var sent uint64
	for sent < size {
		want := uint64(len(buf))
		if remaining := size - sent; remaining < want {
			want = remaining
		}

		n, rerr := body.Read(buf[:want])
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return sent, xerrors.Errorf("send body at %d/%d: %w", sent, size, err)
			}
			sent += uint64(n)
			opts.progress(sent, size)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return sent, xerrors.Errorf("read body at %d/%d: %w", sent, size, rerr)
		}
	}

	if sent != size {
		return sent, xerrors.Errorf("source ended at %d of %d bytes", sent, size)
	}
	return sent, nil
}

// SendFile computes the size and checksum of path and sends it.
func SendFile(w io.Writer, path string, opts Options) (uint64, error) {
	sum, size, err := FileChecksum(path)
	if err != nil {
		return 0, err
	}

	//nolint:gosec // Path comes from the local user
	f, err := os.Open(path)
	if err != nil {
		return 0, xerrors.Errorf("open %s: %w", path, err)
	}
	//nolint:errcheck // Read-only file
	defer f.Close()

	lg := opts.logger()
	lg.Debug().Str("size", humanize.IBytes(size)).Hex("checksum", sum).Msg("sending file")

	sent, err := Send(w, f, size, sum, opts)
	if err != nil {
		return sent, err
	}
	lg.Info().Str("path", path).Str("size", humanize.IBytes(sent)).Msg("file sent")
	return sent, nil
}

// Receive reads one session from r into dest and verifies the checksum of
// what landed on disk against the sender's.
func Receive(r io.Reader, dest string, opts ReceiveOptions) (*Result, error) {
	hdr, err := protocol.ReadHeader(r)
	if err != nil {
		return nil, err
	}

	lg := opts.logger()
	lg.Debug().Str("size", humanize.IBytes(hdr.Size)).Hex("checksum", hdr.Checksum).Msg("received header")

	if opts.Expect != nil {
		if !bytes.Equal(hdr.Checksum, opts.Expect.Checksum) {
			return nil, &protocol.IntegrityError{Want: opts.Expect.Checksum, Got: hdr.Checksum}
		}
		if hdr.Size != opts.Expect.Size {
			return nil, &protocol.ProtocolError{
				Op:  "check header",
				Err: xerrors.Errorf("declared size %d, expected %d", hdr.Size, opts.Expect.Size),
			}
		}
	}

	// the body lands in a sibling temp file so an existing dest survives a
	// failed transfer
	f, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".part*")
	if err != nil {
		return nil, xerrors.Errorf("create temp file for %s: %w", dest, err)
	}
	tmp := f.Name()
	//nolint:gosec // Downloads are ordinary user files
	if err := f.Chmod(0o644); err != nil {
		lg.Debug().Err(err).Str("path", tmp).Msg("failed to set download permissions")
	}

	received, err := receiveBody(r, f, hdr.Size, opts.Options)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = xerrors.Errorf("close %s: %w", tmp, cerr)
	}
	if err == nil {
		err = verify(tmp, hdr.Checksum)
	}
	if err == nil {
		if rerr := os.Rename(tmp, dest); rerr != nil {
			err = xerrors.Errorf("move download into %s: %w", dest, rerr)
		}
	}
	if err != nil {
		discard(lg, tmp, dest, opts.KeepFailed)
		return nil, err
	}

	lg.Info().Str("path", dest).Str("size", humanize.IBytes(received)).Msg("download verified")
	return &Result{Path: dest, Size: received, Checksum: hdr.Checksum}, nil
}

// receiveBody copies exactly size bytes from r to w, one chunk per read.
// The stream ending before size is a ProtocolError.
func receiveBody(r io.Reader, w io.Writer, size uint64, opts Options) (uint64, error) {
	buf := make([]byte, opts.chunkSize())
	var received uint64

	for received < size {
		want := uint64(len(buf))
		if remaining := size - received; remaining < want {
			want = remaining
		}

		n, err := r.Read(buf[:want])
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return received, xerrors.Errorf("write chunk: %w", werr)
			}
			received += uint64(n)
			opts.progress(received, size)
		}
		if received == size {
			break
		}
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return received, &protocol.ProtocolError{
				Op:  "read body",
				Err: xerrors.Errorf("after %d of %d bytes: %w", received, size, err),
			}
		}
		if n == 0 {
			return received, &protocol.ProtocolError{
				Op:  "read body",
				Err: xerrors.Errorf("empty read after %d of %d bytes", received, size),
			}
		}
	}
	return received, nil
}

func verify(path string, want []byte) error {
	got, _, err := FileChecksum(path)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, want) {
		return &protocol.IntegrityError{Want: want, Got: got}
	}
	return nil
}

// discard removes the temp body, or moves it to dest+FailedSuffix when keep
// is set.
func discard(lg *zerolog.Logger, tmp, dest string, keep bool) {
	if keep {
		kept := dest + FailedSuffix
		err := os.Rename(tmp, kept)
		if err == nil {
			lg.Warn().Str("path", kept).Msg("keeping failed download for inspection")
			return
		}
		lg.Warn().Err(err).Str("path", kept).Msg("failed to keep failed download")
	}
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		lg.Warn().Err(err).Str("path", tmp).Msg("failed to remove failed download")
	}
}
