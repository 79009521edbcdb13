package tcp

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/collabrelay/broker/internal/broker"
	"github.com/collabrelay/broker/internal/ratelimit"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	b := broker.New(nil)
	go b.Run()
	t.Cleanup(b.Stop)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := New(b, nil)
	go s.Serve(ln)
	t.Cleanup(func() { _ = ln.Close() })
	return s, ln.Addr().String()
}

func TestHandshakeOverRealTCPConnection(t *testing.T) {
	_, addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"event":"handshake","name":"alice"}` + "\n"))
	require.NoError(t, err)

	conn2, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn2.Close()

	_, err = conn2.Write([]byte(`{"event":"handshake","name":"bob"}` + "\n"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &frame))
	require.Equal(t, "user_joined", frame["event"])
	require.Equal(t, "bob", frame["name"])
}

func TestOversizeFrameClosesConnection(t *testing.T) {
	_, addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	oversized := make([]byte, 6*1024*1024)
	for i := range oversized {
		oversized[i] = 'a'
	}
	_, _ = conn.Write(oversized)
	_, _ = conn.Write([]byte("\n"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.Error(t, err) // connection closed by server
}

// TestRateLimitedFramesAreDroppedNotSpun guards against a read loop that
// checks the limiter before reading: that shape never drains the socket
// once a client exceeds its rate, spinning the CPU while frames pile up
// in the kernel buffer instead of being read and dropped.
func TestRateLimitedFramesAreDroppedNotSpun(t *testing.T) {
	b := broker.New(nil)
	go b.Run()
	t.Cleanup(b.Stop)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	limiter := ratelimit.New(60, 0) // burst 0: every frame is denied
	s := New(b, limiter)
	go s.Serve(ln)

	blocked, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer blocked.Close()

	observer, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer observer.Close()
	_, err = observer.Write([]byte(`{"event":"handshake","name":"observer"}` + "\n"))
	require.NoError(t, err)

	require.NoError(t, blocked.SetWriteDeadline(time.Now().Add(2*time.Second)))
	frame := []byte(`{"event":"handshake","name":"blocked"}` + "\n")
	for i := 0; i < 200; i++ {
		_, err := blocked.Write(frame)
		require.NoError(t, err) // never blocks: the loop keeps reading
	}

	require.NoError(t, observer.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	buf := make([]byte, 1)
	_, err = observer.Read(buf)
	require.Error(t, err) // nothing rate-limited ever reached the broker
}
