package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// These tests exercise MongoSink's queueing/drop semantics directly
// against the struct, bypassing NewMongoSink's background writer so
// they never touch the package-level events collection (nil unless
// Connect has run against a live database).

func TestRecordEnqueuesUntilCapacity(t *testing.T) {
	s := &MongoSink{queue: make(chan Record, 2), done: make(chan struct{})}

	s.Record("joined", 1, "alice", nil)
	s.Record("joined", 2, "bob", nil)

	require.Len(t, s.queue, 2)
}

func TestRecordDropsWhenQueueFull(t *testing.T) {
	s := &MongoSink{queue: make(chan Record, 1), done: make(chan struct{})}

	s.Record("joined", 1, "alice", nil)
	s.Record("joined", 2, "bob", nil) // dropped, queue already full

	require.Len(t, s.queue, 1)
	rec := <-s.queue
	require.Equal(t, 1, rec.ClientID)
}

func TestRecordCapturesHostID(t *testing.T) {
	s := &MongoSink{queue: make(chan Record, 1), done: make(chan struct{})}
	hostID := 7

	s.Record("host_changed", 3, "carol", &hostID)

	rec := <-s.queue
	require.Equal(t, "host_changed", rec.Kind)
	require.NotNil(t, rec.HostID)
	require.Equal(t, 7, *rec.HostID)
	require.WithinDuration(t, time.Now(), rec.At, time.Second)
}
