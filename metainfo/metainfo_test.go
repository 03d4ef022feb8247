package metainfo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fabricionaweb/pico-share/transfer"
	"github.com/stretchr/testify/require"
)

func TestNew_DescribesFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "movie.mp4")
	require.NoError(t, os.WriteFile(src, []byte("frames"), 0o600))

	d, err := New(src, "127.0.0.1:9000")
	require.NoError(t, err)
	require.Equal(t, "movie.mp4", d.Name)
	require.Equal(t, int64(6), d.Length)
	require.Equal(t, "127.0.0.1:9000", d.Tracker)
	require.NoError(t, d.Validate())

	sum, size, err := transfer.FileChecksum(src)
	require.NoError(t, err)
	hdr, err := d.Header()
	require.NoError(t, err)
	require.Equal(t, size, hdr.Size)
	require.Equal(t, sum, hdr.Checksum)
}

func TestWriteRead(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "song.flac")
	require.NoError(t, os.WriteFile(src, []byte("audio"), 0o600))

	d, err := New(src, "tracker.local:9000")
	require.NoError(t, err)

	path := src + Ext
	require.NoError(t, Write(path, d))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(raw), "d"), "bencoded dictionary expected")

	got, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, d, got)
}

func TestRead_Rejects(t *testing.T) {
	dir := t.TempDir()

	_, err := Read(filepath.Join(dir, "missing"+Ext))
	require.Error(t, err)

	garbage := filepath.Join(dir, "garbage"+Ext)
	require.NoError(t, os.WriteFile(garbage, []byte("not bencode"), 0o600))
	_, err = Read(garbage)
	require.Error(t, err)

	bad := filepath.Join(dir, "bad"+Ext)
	require.NoError(t, Write(bad, &Descriptor{Name: "x", Length: 1, Checksum: "zz"}))
	_, err = Read(bad)
	require.Error(t, err)
}
