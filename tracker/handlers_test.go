package tracker

import (
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/fabricionaweb/pico-share/protocol"
	"github.com/stretchr/testify/require"
)

func TestHandleRequest(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  string
		files int
	}{
		{"register", []string{"REGISTER movie.mp4 6001\n"}, "OK\n", 1},
		{"register twice", []string{"REGISTER movie.mp4 6001\n", "REGISTER movie.mp4 6001\n"}, "OK\n", 1},
		{"malformed register", []string{"REGISTER\n"}, "ERROR Invalid REGISTER command format\n", 0},
		{"non-numeric port", []string{"REGISTER movie.mp4 port\n"}, "ERROR Invalid REGISTER command format\n", 0},
		{"getpeers unknown", []string{"GETPEERS movie.mp4\n"}, "\n", 0},
		{"getpeers known", []string{"REGISTER movie.mp4 6001\n", "GETPEERS movie.mp4\n"}, "192.168.1.1:6001;\n", 1},
		{"malformed getpeers", []string{"GETPEERS\n"}, "ERROR Invalid GETPEERS command format\n", 0},
		{"unknown command", []string{"PING\n"}, "ERROR Unknown command\n", 0},
		{"empty line", []string{"\n"}, "ERROR Unknown command\n", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(Config{})

			var got string
			for _, line := range tt.lines {
				got = s.handleRequest("192.168.1.1", line)
			}

			require.Equal(t, tt.want, got)
			files, _ := s.registry.Stats()
			require.Equal(t, tt.files, files)
		})
	}
}

func TestHandleRequest_UsesObservedHost(t *testing.T) {
	s := NewServer(Config{})
	s.handleRequest("10.1.1.1", "REGISTER a.bin 7000\n")
	s.handleRequest("10.2.2.2", "REGISTER a.bin 7000\n")

	require.Equal(t, "10.1.1.1:7000;10.2.2.2:7000;\n", s.handleRequest("10.9.9.9", "GETPEERS a.bin\n"))
}

func TestHandleRequest_RateLimited(t *testing.T) {
	s := NewServer(Config{RateLimit: 2})

	require.Equal(t, "OK\n", s.handleRequest("10.0.0.1", "REGISTER a.bin 1\n"))
	require.Equal(t, "OK\n", s.handleRequest("10.0.0.1", "REGISTER a.bin 2\n"))
	require.Equal(t, "ERROR Rate limit exceeded, try again later\n", s.handleRequest("10.0.0.1", "REGISTER a.bin 3\n"))

	// other hosts have their own budget
	require.Equal(t, "OK\n", s.handleRequest("10.0.0.2", "REGISTER a.bin 3\n"))
	require.Len(t, s.registry.Lookup("a.bin"), 3)
}

func TestHandleRequest_Allowlist(t *testing.T) {
	s := NewServer(Config{})
	names := map[string]struct{}{"allowed.bin": {}}
	s.allow.names.Store(&names)

	require.Equal(t, "OK\n", s.handleRequest("10.0.0.1", "REGISTER allowed.bin 1\n"))
	require.Equal(t, "ERROR File not authorized\n", s.handleRequest("10.0.0.1", "REGISTER secret.bin 1\n"))
	require.Equal(t, "\n", s.handleRequest("10.0.0.1", "GETPEERS secret.bin\n"))
	require.Equal(t, "10.0.0.1:1;\n", s.handleRequest("10.0.0.1", "GETPEERS allowed.bin\n"))
}

func TestHandleConn_OneShot(t *testing.T) {
	s := NewServer(Config{IOTimeout: time.Second})
	client, server := net.Pipe()

	done := make(chan struct{})
	go func() {
		s.handleConn(server)
		close(done)
	}()

	_, err := io.WriteString(client, "GETPEERS movie.mp4\n")
	require.NoError(t, err)

	resp, err := io.ReadAll(client)
	require.NoError(t, err)
	require.Equal(t, "\n", string(resp))

	<-done
}

func TestHandleConn_ClientClosesWithoutRequest(t *testing.T) {
	s := NewServer(Config{})
	client, server := net.Pipe()
	require.NoError(t, client.Close())

	s.handleConn(server)

	files, _ := s.registry.Stats()
	require.Zero(t, files)
}

func TestReadRequest(t *testing.T) {
	t.Run("stops at newline", func(t *testing.T) {
		line, err := readRequest(strings.NewReader("GETPEERS a\nextra"))
		require.NoError(t, err)
		require.Equal(t, "GETPEERS a\n", line)
	})

	t.Run("accepts missing newline", func(t *testing.T) {
		line, err := readRequest(strings.NewReader("GETPEERS a"))
		require.NoError(t, err)
		require.Equal(t, "GETPEERS a", line)
	})

	t.Run("empty stream", func(t *testing.T) {
		_, err := readRequest(strings.NewReader(""))
		require.ErrorIs(t, err, io.EOF)
	})

	t.Run("bounded", func(t *testing.T) {
		long := make([]byte, protocol.MaxRequestSize*2)
		for i := range long {
			long[i] = 'A'
		}
		line, err := readRequest(strings.NewReader(string(long)))
		require.NoError(t, err)
		require.Len(t, line, protocol.MaxRequestSize)
	})
}

func TestRemoteHost(t *testing.T) {
	require.Equal(t, "127.0.0.1", remoteHost(&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5000}))
	require.Equal(t, "::1", remoteHost(&net.TCPAddr{IP: net.ParseIP("::1"), Port: 5000}))
}
