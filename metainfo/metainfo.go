// Package metainfo reads and writes descriptor files: small bencoded records
// that name a shared file, its size and checksum, and the tracker that knows
// its seeders.
package metainfo

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/fabricionaweb/pico-share/protocol"
	"github.com/fabricionaweb/pico-share/transfer"
	bencode "github.com/jackpal/bencode-go"
	"golang.org/x/xerrors"
)

// Ext is appended to a shared file's name to form its descriptor path.
const Ext = ".pshare"

const createdBy = "pico-share"

// Descriptor is the bencoded record stored in a descriptor file.
type Descriptor struct {
	Name         string `bencode:"name"`
	Length       int64  `bencode:"length"`
	Checksum     string `bencode:"checksum"` // hex
	Tracker      string `bencode:"tracker"`
	CreatedBy    string `bencode:"created by"`
	CreationDate int64  `bencode:"creation date"`
}

// New describes the file at path, announced on tracker (host:port).
func New(path, tracker string) (*Descriptor, error) {
	sum, size, err := transfer.FileChecksum(path)
	if err != nil {
		return nil, err
	}
	return &Descriptor{
		Name:         filepath.Base(path),
		Length:       int64(size), //nolint:gosec // Local file sizes fit in int64
		Checksum:     hex.EncodeToString(sum),
		Tracker:      tracker,
		CreatedBy:    createdBy,
		CreationDate: time.Now().Unix(),
	}, nil
}

// Header returns the transfer header a seeder of this file must send.
func (d *Descriptor) Header() (*protocol.Header, error) {
	sum, err := hex.DecodeString(d.Checksum)
	if err != nil {
		return nil, xerrors.Errorf("descriptor checksum: %w", err)
	}
	if d.Length < 0 {
		return nil, xerrors.Errorf("descriptor length %d is negative", d.Length)
	}
	return &protocol.Header{Size: uint64(d.Length), Checksum: sum}, nil
}

// Validate checks the fields a downloader relies on.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return xerrors.New("descriptor has no name")
	}
	if _, err := d.Header(); err != nil {
		return err
	}
	if len(d.Checksum) != 2*transfer.ChecksumSize {
		return xerrors.Errorf("descriptor checksum has %d hex digits, want %d", len(d.Checksum), 2*transfer.ChecksumSize)
	}
	return nil
}

// Write stores d at path.
func Write(path string, d *Descriptor) error {
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, *d); err != nil {
		return xerrors.Errorf("encode descriptor: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil { //nolint:gosec // Descriptors are public
		return xerrors.Errorf("write descriptor: %w", err)
	}
	return nil
}

// Read loads and validates the descriptor at path.
func Read(path string) (*Descriptor, error) {
	//nolint:gosec // Path comes from the local user
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("open descriptor: %w", err)
	}
	//nolint:errcheck // Read-only file
	defer f.Close()

	var d Descriptor
	if err := bencode.Unmarshal(f, &d); err != nil {
		return nil, xerrors.Errorf("decode descriptor %s: %w", path, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}
