package protocol

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"
)

// Transfer header layout, big endian:
//
//	[declared_size:8][checksum_len:8][checksum:checksum_len]
const (
	sizeFieldLen = 8

	// MaxChecksumLen bounds the checksum allocation driven by a peer-supplied
	// length field.
	MaxChecksumLen = 256
)

// Header is sent once by the seeder before the raw body.
type Header struct {
	Size     uint64
	Checksum []byte
}

// WriteHeader encodes h to w in a single write.
func WriteHeader(w io.Writer, h Header) error {
	if len(h.Checksum) > MaxChecksumLen {
		return xerrors.Errorf("checksum length %d exceeds %d", len(h.Checksum), MaxChecksumLen)
	}
	buf := make([]byte, 0, 2*sizeFieldLen+len(h.Checksum))
	buf = binary.BigEndian.AppendUint64(buf, h.Size)
	buf = binary.BigEndian.AppendUint64(buf, uint64(len(h.Checksum)))
	buf = append(buf, h.Checksum...)
	_, err := w.Write(buf)
	return err
}

// ReadHeader decodes a header from r. Partial reads are retried until every
// fixed-width field is complete; a short stream is a ProtocolError.
func ReadHeader(r io.Reader) (Header, error) {
	var field [sizeFieldLen]byte

	if _, err := io.ReadFull(r, field[:]); err != nil {
		return Header{}, &ProtocolError{Op: "read declared size", Err: err}
	}
	size := binary.BigEndian.Uint64(field[:])

	if _, err := io.ReadFull(r, field[:]); err != nil {
		return Header{}, &ProtocolError{Op: "read checksum length", Err: err}
	}
	sumLen := binary.BigEndian.Uint64(field[:])
	if sumLen > MaxChecksumLen {
		return Header{}, &ProtocolError{
			Op:  "read checksum length",
			Err: xerrors.Errorf("length %d exceeds %d", sumLen, MaxChecksumLen),
		}
	}

	sum := make([]byte, sumLen)
	if _, err := io.ReadFull(r, sum); err != nil {
		return Header{}, &ProtocolError{Op: "read checksum", Err: err}
	}

	return Header{Size: size, Checksum: sum}, nil
}
