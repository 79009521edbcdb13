// Package telemetry wires optional Sentry error reporting for
// broker-operational failures (listener bind failures, audit sink
// errors) — never per-client protocol errors, which are routine and
// handled entirely within internal/broker. Grounded on songify's
// scrubbing package, adapted from an HTTP middleware concern to a
// direct-capture helper.
package telemetry

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/collabrelay/broker/internal/apperr"
)

// defaultFlushTimeout bounds FlushCallback.Invoke when the shutdown
// context carries no deadline of its own.
const defaultFlushTimeout = 2 * time.Second

// FlushCallback flushes queued Sentry events as an event.Callable, run
// during signal-driven graceful shutdown so reports queued before the
// signal are sent. Exits through other paths do not run it.
type FlushCallback struct{}

// NewFlushCallback returns a Callable that flushes the Sentry client.
func NewFlushCallback() *FlushCallback {
	return &FlushCallback{}
}

func (fc *FlushCallback) Invoke(ctx context.Context) error {
	timeout := defaultFlushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			timeout = d
		}
	}
	Flush(timeout)
	return nil
}

// sensitiveKeys are field names redacted from any tags or extras
// attached to a captured event.
var sensitiveKeys = map[string]bool{
	"password": true, "token": true, "secret": true, "authorization": true,
}

// Init configures the global Sentry client. dsn == "" disables
// reporting; Capture and Flush become no-ops.
func Init(dsn, environment string) error {
	if dsn == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
		BeforeSend:       scrubEvent,
	})
}

// Capture reports err as an operational failure, attaching its
// xerrors stack trace as an extra when present.
func Capture(err error) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetExtra("stack", apperr.LogValue(err))
		sentry.CaptureException(err)
	})
}

// Flush blocks up to timeout waiting for queued events to be sent,
// intended to run during graceful shutdown.
func Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}

func scrubEvent(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	for key := range event.Tags {
		if sensitiveKeys[key] {
			event.Tags[key] = "[Filtered]"
		}
	}
	for i := range event.Extra {
		if sensitiveKeys[i] {
			event.Extra[i] = "[Filtered]"
		}
	}
	if event.Request != nil {
		event.Request.Data = ""
	}
	return event
}
