// Package apperr wraps broker-operational errors (as opposed to
// per-client protocol errors, which never leave the router as Go errors)
// with a stack trace, so a boundary-level log line points at where the
// failure actually originated.
package apperr

import (
	"log/slog"
	"path/filepath"

	"github.com/mdobak/go-xerrors"
)

// Sentinel errors for broker-operational failures. Per-client protocol
// errors (bad handshake, no host, timeout) are never represented as Go
// errors — they are observable state changes (an "error" frame sent to
// the offending client), per the propagation policy in SPEC_FULL.md §7.
var (
	ErrListenerBind = xerrors.New("failed to bind listener")
	ErrAuditSink    = xerrors.New("audit sink operation failed")
	ErrConfig       = xerrors.New("invalid configuration")
)

// Wrap attaches a stack trace to err and prefixes it with msg. Returns
// nil if err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := xerrors.WithStackTrace(err, 1)
	return xerrors.Newf("%s: %v", msg, wrapped)
}

// boundaryError tags a wrapped error with the sentinel it originated
// from, so callers further up the stack can distinguish a bind failure
// from an audit-sink failure from a config failure with errors.Is,
// without string-matching msg.
type boundaryError struct {
	sentinel error
	cause    error
}

func (e *boundaryError) Error() string { return e.cause.Error() }

func (e *boundaryError) Unwrap() error { return e.cause }

func (e *boundaryError) Is(target error) bool { return target == e.sentinel }

// Boundary wraps err like Wrap, additionally tagging the result with
// sentinel (one of ErrListenerBind, ErrAuditSink, ErrConfig) so
// errors.Is(result, sentinel) reports true. Returns nil if err is nil.
func Boundary(sentinel, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &boundaryError{sentinel: sentinel, cause: Wrap(err, msg)}
}

type stackFrame struct {
	Func   string `json:"func"`
	Source string `json:"source"`
	Line   int    `json:"line"`
}

// LogValue renders err (which may carry an xerrors stack trace) as a
// structured slog value with `msg` and `trace` fields, for use in
// slog.Any("error", apperr.LogValue(err)) at a component boundary.
func LogValue(err error) slog.Value {
	if err == nil {
		return slog.StringValue("")
	}

	attrs := []slog.Attr{slog.String("msg", err.Error())}

	if frames := xerrors.StackTrace(err).Frames(); len(frames) > 0 {
		trace := make([]stackFrame, len(frames))
		for i, f := range frames {
			trace[i] = stackFrame{
				Source: filepath.Join(filepath.Base(filepath.Dir(f.File)), filepath.Base(f.File)),
				Func:   filepath.Base(f.Function),
				Line:   f.Line,
			}
		}
		attrs = append(attrs, slog.Any("trace", trace))
	}

	return slog.GroupValue(attrs...)
}
