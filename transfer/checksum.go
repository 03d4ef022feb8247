package transfer

import (
	"crypto/sha256"
	"io"
	"os"

	"golang.org/x/xerrors"
)

// ChecksumSize is the width of every checksum sent on the wire.
const ChecksumSize = sha256.Size

// Checksum digests everything r yields.
func Checksum(r io.Reader) ([]byte, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// FileChecksum returns the checksum and size of the file at path.
func FileChecksum(path string) (sum []byte, size uint64, err error) {
	//nolint:gosec // Path comes from the local user
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, xerrors.Errorf("open %s: %w", path, err)
	}
	//nolint:errcheck // Read-only file
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return nil, 0, xerrors.Errorf("read %s: %w", path, err)
	}
	//nolint:gosec // io.Copy never returns a negative count
	return h.Sum(nil), uint64(n), nil
}
