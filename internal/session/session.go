// Package session models one accepted connection's lifetime: identity,
// a bounded outbound queue, and the reader/writer goroutines that drain
// it. Grounded on the Connection/DefaultMessageSender split of the
// teacher's connection manager, generalized so the wire transport
// (raw TCP socket or WebSocket) is hidden behind io.ReadWriteCloser.
package session

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// OutboxCapacity is the fixed size of each session's outbound frame
// queue. A full outbox drops the newest frame rather than blocking the
// router.
const OutboxCapacity = 64

// Session is one client's connection state. ID is immutable once
// assigned; Name and IsHost are mutated only by the broker's supervisor
// goroutine and are safe to read concurrently via the atomic-backed
// accessors below.
type Session struct {
	ID         int
	Conn       io.ReadWriteCloser
	RemoteAddr string

	// TraceID correlates this session's log lines across its lifetime,
	// independent of the reassignable integer ID.
	TraceID string

	// WebSocket reports whether Conn is a WebSocket transport, so the
	// broker knows to frame outbound data with wire.EncodeWebSocket
	// (bare JSON, no newline terminator) instead of wire.Encode.
	WebSocket bool

	name   atomic.Pointer[string]
	isHost atomic.Bool

	outbox    chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a TCP-framed session wrapping conn. The caller assigns ID
// before exposing the session to other goroutines.
func New(id int, conn io.ReadWriteCloser, remoteAddr string) *Session {
	return newSession(id, conn, remoteAddr, false)
}

// NewWebSocket creates a session whose outbound frames are encoded for
// WebSocket transport (see WebSocket field).
func NewWebSocket(id int, conn io.ReadWriteCloser, remoteAddr string) *Session {
	return newSession(id, conn, remoteAddr, true)
}

func newSession(id int, conn io.ReadWriteCloser, remoteAddr string, ws bool) *Session {
	s := &Session{
		ID:         id,
		Conn:       conn,
		RemoteAddr: remoteAddr,
		TraceID:    uuid.NewString(),
		WebSocket:  ws,
		outbox:     make(chan []byte, OutboxCapacity),
		closed:     make(chan struct{}),
	}
	empty := ""
	s.name.Store(&empty)
	return s
}

// Name returns the session's declared name, or "" before handshake.
func (s *Session) Name() string {
	return *s.name.Load()
}

// SetName fixes the session's name. Callers must only invoke this once,
// from within a supervisor step, per the handshake invariant that a
// name is immutable once set.
func (s *Session) SetName(name string) {
	s.name.Store(&name)
}

// IsHost reports whether this session currently holds the host role.
func (s *Session) IsHost() bool {
	return s.isHost.Load()
}

// SetHost updates the host flag. Callers must ensure at most one live
// session has this set at any time (registry invariant 2).
func (s *Session) SetHost(host bool) {
	s.isHost.Store(host)
}

// Send enqueues a pre-encoded frame for delivery. Non-blocking: if the
// outbox is full, the frame is dropped and Send reports false.
func (s *Session) Send(frame []byte) bool {
	select {
	case s.outbox <- frame:
		return true
	default:
		return false
	}
}

// RunWriter drains the outbox to the connection until the outbox is
// closed or a write fails. Intended to run in its own goroutine.
func (s *Session) RunWriter() {
	for frame := range s.outbox {
		if _, err := s.Conn.Write(frame); err != nil {
			return
		}
	}
}

// Close closes the outbox (stopping the writer) and the underlying
// connection. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.outbox)
		close(s.closed)
		_ = s.Conn.Close()
	})
}

// Done returns a channel closed once Close has run.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}
