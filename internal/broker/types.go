// Package broker implements the session broker: the supervisor loop that
// serializes registry mutations and routing decisions across every
// connected client, per SPEC_FULL.md §4-§5.
package broker

import (
	"time"
)

// RequestTimeout is the fixed window a host-directed request waits for
// a response before the requester is told the host timed out. A var,
// not a const, so tests can shorten it rather than driving handleTimeout
// by hand.
var RequestTimeout = 5 * time.Second

// pendingRequest tracks one outstanding host-directed request awaiting
// a correlated response.
type pendingRequest struct {
	requesterID int
	timer       *time.Timer
}

// Snapshot is a point-in-time, lock-free copy of broker state safe to
// read outside the supervisor goroutine (used by the HTTP /metrics
// handler).
type Snapshot struct {
	Clients int
	HostID  *int
	Pending int
}

// Sink receives session lifecycle events for best-effort audit
// persistence. Implementations must not block the supervisor: Record
// should hand off to a background goroutine or channel.
type Sink interface {
	Record(kind string, clientID int, name string, hostID *int)
}

// NoopSink discards every event; used when the audit sink is disabled.
type NoopSink struct{}

func (NoopSink) Record(string, int, string, *int) {}
