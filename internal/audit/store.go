package audit

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/collabrelay/broker/internal/logger"
)

// queueCapacity bounds how many unwritten events the sink will hold
// before it starts dropping them, so a slow or unreachable database
// never applies backpressure to the supervisor goroutine.
const queueCapacity = 256

// Record is one session lifecycle event as persisted to the audit
// collection.
type Record struct {
	Kind      string    `bson:"kind"`
	ClientID  int       `bson:"client_id"`
	Name      string    `bson:"name"`
	HostID    *int      `bson:"host_id,omitempty"`
	At        time.Time `bson:"at"`
}

// MongoSink implements broker.Sink by queueing events for asynchronous
// insertion into the audit collection. Grounded on the teacher's
// DBStore, generalized from a replace-on-write session document to an
// append-only event log, and adapted to run off the supervisor
// goroutine per SPEC_FULL.md §5's audit-only relaxation.
type MongoSink struct {
	queue chan Record
	done  chan struct{}
}

// NewMongoSink starts the background writer goroutine. Connect must
// have been called successfully first.
func NewMongoSink() *MongoSink {
	s := &MongoSink{
		queue: make(chan Record, queueCapacity),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

// Record enqueues an event for persistence. Non-blocking: if the queue
// is full the event is dropped and logged.
func (s *MongoSink) Record(kind string, clientID int, name string, hostID *int) {
	rec := Record{Kind: kind, ClientID: clientID, Name: name, HostID: hostID, At: now()}
	select {
	case s.queue <- rec:
	default:
		logger.WarnF("audit queue full, dropping %s event for client %d", kind, clientID)
	}
}

// Close stops the writer goroutine after draining whatever is already
// queued.
func (s *MongoSink) Close() {
	close(s.queue)
	<-s.done
}

func (s *MongoSink) run() {
	defer close(s.done)
	for rec := range s.queue {
		s.write(rec)
	}
}

func (s *MongoSink) write(rec Record) {
	ctx := context.Background()
	if operationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, operationTimeout)
		defer cancel()
	}

	if _, err := events.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			logger.ErrorF("audit insert: unique key conflict: %v", err)
			return
		}
		logger.ErrorF("audit insert failed: %v", err)
	}
}

// now is split out so tests can stub timestamps without depending on
// wall-clock time in assertions.
var now = time.Now
