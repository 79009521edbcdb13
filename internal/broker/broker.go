package broker

import (
	"github.com/collabrelay/broker/internal/logger"
	"github.com/collabrelay/broker/internal/session"
	"github.com/collabrelay/broker/internal/wire"
)

// Broker owns the session registry, the pending-request table, and the
// single supervisor goroutine that serializes every mutation of both.
// All exported methods are safe to call from any goroutine: they submit
// a closure to the actions channel and the supervisor goroutine is the
// only thing that ever touches clients, host, pending, or the counters.
type Broker struct {
	actions chan func()

	clients       map[int]*session.Session
	host          *session.Session
	pending       map[int]*pendingRequest
	nextClientID  int
	nextRequestID int

	sink Sink
}

// New creates a broker with sink for audit events. Pass NoopSink{} to
// disable persistence entirely.
func New(sink Sink) *Broker {
	if sink == nil {
		sink = NoopSink{}
	}
	return &Broker{
		actions: make(chan func(), 1024),
		clients: make(map[int]*session.Session),
		pending: make(map[int]*pendingRequest),
		sink:    sink,
	}
}

// Run drains the actions channel until it is closed. Call it once, in
// its own goroutine, before accepting connections.
func (b *Broker) Run() {
	for action := range b.actions {
		action()
	}
}

// Stop closes the actions channel, ending Run. Any actions submitted
// after Stop panics, matching a closed-channel send — callers must stop
// accepting new connections before calling Stop. Outstanding
// host-request timers are cancelled first so a late timeout callback
// doesn't try to send on the now-closed channel.
func (b *Broker) Stop() {
	b.submit(func() {
		for _, p := range b.pending {
			p.timer.Stop()
		}
	})
	close(b.actions)
}

// submit hands a closure to the supervisor goroutine and blocks until
// it has run, so callers can safely read return values captured by the
// closure.
func (b *Broker) submit(fn func()) {
	done := make(chan struct{})
	b.actions <- func() {
		fn()
		close(done)
	}
	<-done
}

// Accept registers a newly-connected session: assigns its id, makes it
// host if the registry was empty, and starts its writer goroutine. It
// returns the assigned client id.
func (b *Broker) Accept(sess *session.Session) int {
	var id int
	b.submit(func() {
		id = b.nextClientID
		b.nextClientID++
		sess.ID = id

		if len(b.clients) == 0 {
			sess.SetHost(true)
			b.host = sess
		}
		b.clients[id] = sess

		logger.InfoF("client %d connected from %s trace=%s", id, sess.RemoteAddr, sess.TraceID)
	})
	go sess.RunWriter()
	return id
}

// Dispatch decodes-independent routing entry point: hand a parsed frame
// from sess to the router. Safe to call concurrently from many readers.
func (b *Broker) Dispatch(sess *session.Session, frame wire.Frame) {
	b.actions <- func() {
		b.route(sess, frame)
	}
}

// Disconnect tears down sess per SPEC_FULL.md §4.3. Safe to call more
// than once; only the first call has any effect.
func (b *Broker) Disconnect(sess *session.Session) {
	b.actions <- func() {
		b.teardown(sess)
	}
}

// Snapshot returns a point-in-time copy of broker-level counters,
// fetched through the supervisor so it never races the registry.
func (b *Broker) Snapshot() Snapshot {
	var snap Snapshot
	b.submit(func() {
		snap.Clients = len(b.clients)
		snap.Pending = len(b.pending)
		if b.host != nil {
			id := b.host.ID
			snap.HostID = &id
		}
	})
	return snap
}

// send serializes data and enqueues it to sess's outbox, dropping it
// silently on overflow per SPEC_FULL.md §4.6.
func (b *Broker) send(sess *session.Session, data map[string]any) {
	encode := wire.Encode
	if sess.WebSocket {
		encode = wire.EncodeWebSocket
	}
	frame, err := encode(data)
	if err != nil {
		logger.ErrorF("marshal frame for client %d: %v", sess.ID, err)
		return
	}
	if !sess.Send(frame) {
		logger.DebugF("outbox full, dropping frame for client %d", sess.ID)
	}
}

// broadcast sends data to every client except exclude (pass nil to
// exclude nobody).
func (b *Broker) broadcast(exclude *session.Session, data map[string]any) {
	for id, c := range b.clients {
		if exclude != nil && id == exclude.ID {
			continue
		}
		b.send(c, data)
	}
}
