package session

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeConn is an io.ReadWriteCloser backed by an in-memory buffer,
// guarding concurrent access since RunWriter and test assertions both
// touch it.
type fakeConn struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (f *fakeConn) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, io.ErrClosedPipe
	}
	return f.buf.Write(p)
}

func (f *fakeConn) Read(p []byte) (int, error) { return 0, io.EOF }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.String()
}

func TestSessionNameDefaultsEmpty(t *testing.T) {
	s := New(1, &fakeConn{}, "1.2.3.4:5")
	require.Equal(t, "", s.Name())
	require.False(t, s.IsHost())
}

func TestNewAssignsDistinctTraceIDs(t *testing.T) {
	a := New(1, &fakeConn{}, "1.2.3.4:5")
	b := New(2, &fakeConn{}, "1.2.3.4:6")
	require.NotEmpty(t, a.TraceID)
	require.NotEqual(t, a.TraceID, b.TraceID)
}

func TestSessionSetNameAndHost(t *testing.T) {
	s := New(1, &fakeConn{}, "1.2.3.4:5")
	s.SetName("alice")
	s.SetHost(true)
	require.Equal(t, "alice", s.Name())
	require.True(t, s.IsHost())
}

func TestSessionSendDropsOnFullOutbox(t *testing.T) {
	s := New(1, &fakeConn{}, "1.2.3.4:5")
	for i := 0; i < OutboxCapacity; i++ {
		require.True(t, s.Send([]byte("x")))
	}
	require.False(t, s.Send([]byte("overflow")))
}

func TestSessionRunWriterDrainsToConn(t *testing.T) {
	conn := &fakeConn{}
	s := New(1, conn, "1.2.3.4:5")

	go s.RunWriter()

	require.True(t, s.Send([]byte("a\n")))
	require.True(t, s.Send([]byte("b\n")))
	s.Close()

	require.Eventually(t, func() bool {
		return conn.written() == "a\nb\n"
	}, time.Second, time.Millisecond)
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s := New(1, &fakeConn{}, "1.2.3.4:5")
	s.Close()
	require.NotPanics(t, func() { s.Close() })

	select {
	case <-s.Done():
	default:
		t.Fatal("Done channel should be closed")
	}
}

func TestNewWebSocketSetsFlag(t *testing.T) {
	s := NewWebSocket(1, &fakeConn{}, "1.2.3.4:5")
	require.True(t, s.WebSocket)

	tcp := New(1, &fakeConn{}, "1.2.3.4:5")
	require.False(t, tcp.WebSocket)
}
