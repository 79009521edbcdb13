package broker

import (
	"time"

	"github.com/collabrelay/broker/internal/logger"
	"github.com/collabrelay/broker/internal/session"
	"github.com/collabrelay/broker/internal/wire"
)

var broadcastEvents = map[string]bool{
	"cursor_move":    true,
	"update_content": true,
	"cursor_leave":   true,
}

// route implements SPEC_FULL.md §4.4's classification, run from inside
// the supervisor goroutine so every branch observes a consistent
// snapshot of clients/host/pending.
func (b *Broker) route(sess *session.Session, frame wire.Frame) {
	event := frame.Event()

	if event == "handshake" {
		b.handleHandshake(sess, frame)
		return
	}

	if sess.Name() == "" {
		b.send(sess, map[string]any{"event": "error", "message": "Set name first!"})
		return
	}

	if broadcastEvents[event] {
		frame["from_id"] = sess.ID
		frame["name"] = sess.Name()
		b.broadcast(sess, frame)
		return
	}

	if reqID, ok := frame.RequestID(); ok {
		b.handleResponse(sess, frame, reqID)
		return
	}

	if sess.IsHost() {
		// Open Question resolved per SPEC_FULL.md §4.4: a non-broadcast,
		// non-response event from the host itself is broadcast, not
		// treated as a self-request.
		frame["from_id"] = sess.ID
		frame["name"] = sess.Name()
		b.broadcast(sess, frame)
		return
	}

	b.handleHostRequest(sess, frame)
}

func (b *Broker) handleHandshake(sess *session.Session, frame wire.Frame) {
	name, ok := frame["name"].(string)
	if !ok || name == "" {
		b.send(sess, map[string]any{"event": "error", "message": "Invalid name"})
		return
	}

	if sess.Name() != "" {
		// Second handshake on an already-named session: ignored.
		return
	}

	sess.SetName(name)
	b.broadcast(sess, map[string]any{
		"event": "user_joined", "id": sess.ID, "name": name, "is_host": sess.IsHost(),
	})
	b.sink.Record("joined", sess.ID, name, nil)
}

func (b *Broker) handleResponse(sess *session.Session, frame wire.Frame, reqID int) {
	pending, ok := b.pending[reqID]
	if !ok {
		logger.DebugF("response for unknown/expired request id %d from client %d", reqID, sess.ID)
		return
	}

	pending.timer.Stop()
	delete(b.pending, reqID)

	target, ok := b.clients[pending.requesterID]
	if !ok {
		return
	}
	b.send(target, frame)
}

func (b *Broker) handleHostRequest(sess *session.Session, frame wire.Frame) {
	if b.host == nil {
		b.send(sess, map[string]any{"event": "error", "message": "No host available"})
		return
	}

	reqID := b.nextRequestID
	b.nextRequestID++

	pending := &pendingRequest{requesterID: sess.ID}
	pending.timer = time.AfterFunc(RequestTimeout, func() {
		b.actions <- func() {
			b.handleTimeout(reqID)
		}
	})
	b.pending[reqID] = pending

	frame["request_id"] = reqID
	frame["from_id"] = sess.ID
	b.send(b.host, frame)
}

func (b *Broker) handleTimeout(reqID int) {
	pending, ok := b.pending[reqID]
	if !ok {
		return
	}
	delete(b.pending, reqID)

	if requester, ok := b.clients[pending.requesterID]; ok {
		b.send(requester, map[string]any{"event": "error", "message": "Timeout"})
	}
}

// teardown implements SPEC_FULL.md §4.3's disconnect sequence.
func (b *Broker) teardown(sess *session.Session) {
	if _, ok := b.clients[sess.ID]; !ok {
		return
	}
	delete(b.clients, sess.ID)

	for id, p := range b.pending {
		if p.requesterID == sess.ID {
			p.timer.Stop()
			delete(b.pending, id)
		}
	}

	wasHost := sess.IsHost()
	var newHostID *int
	if wasHost {
		if len(b.clients) > 0 {
			for id, c := range b.clients {
				c.SetHost(true)
				b.host = c
				newHostID = &id
				b.broadcast(nil, map[string]any{"event": "new_host", "host_id": id, "name": c.Name()})
				break
			}
		} else {
			b.host = nil
		}
	}

	name := sess.Name()
	if name != "" {
		b.broadcast(nil, map[string]any{"event": "user_left", "id": sess.ID, "name": name})
		b.sink.Record("left", sess.ID, name, nil)
	}
	if newHostID != nil {
		if host, ok := b.clients[*newHostID]; ok {
			b.sink.Record("host_changed", *newHostID, host.Name(), newHostID)
		}
	}

	logger.InfoF("client %d disconnected", sess.ID)
	sess.Close()
}
