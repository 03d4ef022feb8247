package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"testing/iotest"

	"github.com/fabricionaweb/pico-share/protocol"
	"github.com/stretchr/testify/require"
)

func randomBytes(t *testing.T, n int, seed int64) []byte {
	t.Helper()
	b := make([]byte, n)
	//nolint:gosec // Deterministic test data
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

// sendToBuffer runs the send side into memory.
func sendToBuffer(t *testing.T, data []byte, chunk int) *bytes.Buffer {
	t.Helper()
	sum, err := Checksum(bytes.NewReader(data))
	require.NoError(t, err)

	var wire bytes.Buffer
	n, err := Send(&wire, bytes.NewReader(data), uint64(len(data)), sum, Options{ChunkSize: chunk})
	require.NoError(t, err)
	require.Equal(t, uint64(len(data)), n)
	return &wire
}

// bitFlipper flips one bit of the byte at stream offset pos.
type bitFlipper struct {
	r   io.Reader
	pos int64
	off int64
}

func (b *bitFlipper) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if b.pos >= b.off && b.pos < b.off+int64(n) {
		p[b.pos-b.off] ^= 0x01
	}
	b.off += int64(n)
	return n, err
}

func TestSendReceive_RoundTrip(t *testing.T) {
	sizes := []int{0, 1, 1023, 1024, 1025, 70_000}
	chunks := []struct{ send, recv int }{{1024, 1024}, {7, 4096}, {65536, 3}, {0, 0}}

	for _, size := range sizes {
		for _, c := range chunks {
			t.Run(fmt.Sprintf("size=%d/send=%d/recv=%d", size, c.send, c.recv), func(t *testing.T) {
				data := randomBytes(t, size, int64(size))
				wire := sendToBuffer(t, data, c.send)
				dest := filepath.Join(t.TempDir(), "out.bin")

				res, err := Receive(wire, dest, ReceiveOptions{Options: Options{ChunkSize: c.recv}})
				require.NoError(t, err)
				require.Equal(t, uint64(size), res.Size)

				got, err := os.ReadFile(dest)
				require.NoError(t, err)
				require.True(t, bytes.Equal(data, got))

				want, _ := Checksum(bytes.NewReader(data))
				require.Equal(t, want, res.Checksum)
			})
		}
	}
}

func TestSendReceive_OverPipe(t *testing.T) {
	data := randomBytes(t, 256*1024, 1)
	src := filepath.Join(t.TempDir(), "src.bin")
	require.NoError(t, os.WriteFile(src, data, 0o600))

	pr, pw := io.Pipe()
	go func() {
		_, err := SendFile(pw, src, Options{})
		pw.CloseWithError(err)
	}()

	dest := filepath.Join(t.TempDir(), "dst.bin")
	_, err := Receive(iotest.HalfReader(pr), dest, ReceiveOptions{})
	require.NoError(t, err)

	want, size, err := FileChecksum(src)
	require.NoError(t, err)
	got, gotSize, err := FileChecksum(dest)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, size, gotSize)
}

func TestReceive_BitFlipIsIntegrityError(t *testing.T) {
	data := randomBytes(t, 10_000, 2)
	headerLen := int64(8 + 8 + ChecksumSize)

	for _, keep := range []bool{false, true} {
		t.Run(fmt.Sprintf("keep=%v", keep), func(t *testing.T) {
			wire := sendToBuffer(t, data, 1024)
			dest := filepath.Join(t.TempDir(), "out.bin")

			corrupt := &bitFlipper{r: wire, pos: headerLen + 5000}
			res, err := Receive(corrupt, dest, ReceiveOptions{KeepFailed: keep})
			require.Nil(t, res)

			var ierr *protocol.IntegrityError
			require.True(t, errors.As(err, &ierr))
			require.NotEqual(t, ierr.Want, ierr.Got)

			require.NoFileExists(t, dest)
			if keep {
				require.FileExists(t, dest+FailedSuffix)
			} else {
				require.NoFileExists(t, dest+FailedSuffix)
			}
			requireNoTempFiles(t, filepath.Dir(dest))
		})
	}
}

func TestReceive_TruncatedBody(t *testing.T) {
	data := randomBytes(t, 5000, 3)
	wire := sendToBuffer(t, data, 1024)
	truncated := bytes.NewReader(wire.Bytes()[:wire.Len()-100])
	dest := filepath.Join(t.TempDir(), "out.bin")

	_, err := Receive(truncated, dest, ReceiveOptions{})

	var perr *protocol.ProtocolError
	require.True(t, errors.As(err, &perr))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr))
}

// requireNoTempFiles fails if a partial body was left behind in dir.
func requireNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, ".*.part*"))
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestReceive_FailureKeepsExistingDestination(t *testing.T) {
	data := randomBytes(t, 5000, 7)
	headerLen := int64(8 + 8 + ChecksumSize)
	original := []byte("original content already on disk")

	tests := []struct {
		name string
		wire func() io.Reader
	}{
		{"truncated body", func() io.Reader {
			wire := sendToBuffer(t, data, 1024)
			return bytes.NewReader(wire.Bytes()[:wire.Len()-100])
		}},
		{"corrupt body", func() io.Reader {
			return &bitFlipper{r: sendToBuffer(t, data, 1024), pos: headerLen + 10}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest := filepath.Join(t.TempDir(), "movie.mp4")
			require.NoError(t, os.WriteFile(dest, original, 0o600))

			_, err := Receive(tt.wire(), dest, ReceiveOptions{})
			require.Error(t, err)

			got, err := os.ReadFile(dest)
			require.NoError(t, err)
			require.Equal(t, original, got)
			requireNoTempFiles(t, filepath.Dir(dest))
		})
	}
}

func TestReceive_SuccessReplacesExistingDestination(t *testing.T) {
	data := randomBytes(t, 3000, 8)
	dest := filepath.Join(t.TempDir(), "movie.mp4")
	require.NoError(t, os.WriteFile(dest, []byte("stale"), 0o600))

	_, err := Receive(sendToBuffer(t, data, 512), dest, ReceiveOptions{})
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, data, got)
	requireNoTempFiles(t, filepath.Dir(dest))
}

func TestReceive_OversizedChecksumCreatesNothing(t *testing.T) {
	var wire bytes.Buffer
	wire.Write([]byte{0, 0, 0, 0, 0, 0, 0, 1})
	wire.Write([]byte{0, 0, 0, 0, 0, 0, 0x10, 0})
	dest := filepath.Join(t.TempDir(), "out.bin")

	_, err := Receive(&wire, dest, ReceiveOptions{})

	var perr *protocol.ProtocolError
	require.True(t, errors.As(err, &perr))
	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr))
}

func TestReceive_Expect(t *testing.T) {
	data := []byte("descriptor checked payload")
	sum, _ := Checksum(bytes.NewReader(data))

	t.Run("match", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "out.bin")
		_, err := Receive(sendToBuffer(t, data, 0), dest, ReceiveOptions{
			Expect: &protocol.Header{Size: uint64(len(data)), Checksum: sum},
		})
		require.NoError(t, err)
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "out.bin")
		_, err := Receive(sendToBuffer(t, data, 0), dest, ReceiveOptions{
			Expect: &protocol.Header{Size: uint64(len(data)), Checksum: make([]byte, ChecksumSize)},
		})
		var ierr *protocol.IntegrityError
		require.True(t, errors.As(err, &ierr))
		_, statErr := os.Stat(dest)
		require.True(t, os.IsNotExist(statErr))
	})

	t.Run("size mismatch", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "out.bin")
		_, err := Receive(sendToBuffer(t, data, 0), dest, ReceiveOptions{
			Expect: &protocol.Header{Size: 1, Checksum: sum},
		})
		var perr *protocol.ProtocolError
		require.True(t, errors.As(err, &perr))
	})
}

func TestProgress_MonotonicAndComplete(t *testing.T) {
	data := randomBytes(t, 10_000, 4)
	var sendSeen, recvSeen []uint64

	sum, _ := Checksum(bytes.NewReader(data))
	var wire bytes.Buffer
	_, err := Send(&wire, bytes.NewReader(data), uint64(len(data)), sum, Options{
		ChunkSize: 999,
		Progress:  func(done, _ uint64) { sendSeen = append(sendSeen, done) },
	})
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "out.bin")
	_, err = Receive(&wire, dest, ReceiveOptions{Options: Options{
		ChunkSize: 1001,
		Progress:  func(done, _ uint64) { recvSeen = append(recvSeen, done) },
	}})
	require.NoError(t, err)

	for _, seen := range [][]uint64{sendSeen, recvSeen} {
		require.NotEmpty(t, seen)
		for i := 1; i < len(seen); i++ {
			require.Greater(t, seen[i], seen[i-1])
		}
		require.Equal(t, uint64(len(data)), seen[len(seen)-1])
	}
}

func TestSend_SourceShorterThanDeclared(t *testing.T) {
	_, err := Send(io.Discard, bytes.NewReader([]byte("short")), 100, nil, Options{})
	require.ErrorContains(t, err, "source ended")
}

func TestSend_NeverExceedsDeclaredSize(t *testing.T) {
	var wire bytes.Buffer
	n, err := Send(&wire, bytes.NewReader([]byte("0123456789")), 4, nil, Options{ChunkSize: 3})
	require.NoError(t, err)
	require.Equal(t, uint64(4), n)
	require.Equal(t, 16+4, wire.Len())
}

type failingWriter struct{ after int }

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.after <= 0 {
		return 0, errors.New("simulated write failure")
	}
	f.after--
	return len(p), nil
}

func TestSend_WriteFailureAborts(t *testing.T) {
	data := randomBytes(t, 4096, 5)
	_, err := Send(&failingWriter{after: 2}, bytes.NewReader(data), uint64(len(data)), nil, Options{})
	require.ErrorContains(t, err, "simulated write failure")

	_, err = Send(&failingWriter{}, bytes.NewReader(data), uint64(len(data)), nil, Options{})
	require.ErrorContains(t, err, "send header")
}

func TestSendFile_Missing(t *testing.T) {
	_, err := SendFile(io.Discard, filepath.Join(t.TempDir(), "missing"), Options{})
	require.Error(t, err)
}

func TestChecksum_Deterministic(t *testing.T) {
	data := randomBytes(t, 3000, 6)
	a, err := Checksum(bytes.NewReader(data))
	require.NoError(t, err)
	b, err := Checksum(iotest.OneByteReader(bytes.NewReader(data)))
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, ChecksumSize)

	data[0] ^= 0x80
	c, _ := Checksum(bytes.NewReader(data))
	require.NotEqual(t, a, c)
}
