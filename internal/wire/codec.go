// Package wire implements the broker's newline-delimited JSON framing:
// one JSON object per line inbound, one JSON object plus a trailing '\n'
// outbound. Grounded on the fixed-header/remaining-length framing style
// of an MQTT byte-stream reader, but generalized to a self-delimiting
// text protocol where the terminator does the framing job a length
// prefix would otherwise do.
package wire

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the hard ceiling on a single inbound frame, terminator
// included. Exceeding it is fatal to the connection.
const MaxFrameSize = 5 * 1024 * 1024

// ErrFrameTooLarge is returned by Decoder.Next when a frame would exceed
// MaxFrameSize before a terminator is found.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

// ErrMalformedFrame wraps a per-frame JSON parse failure. Unlike
// ErrFrameTooLarge, it is not fatal: the caller should drop the frame
// and keep reading.
type ErrMalformedFrame struct {
	Raw []byte
	Err error
}

func (e *ErrMalformedFrame) Error() string {
	return fmt.Sprintf("wire: malformed frame: %v", e.Err)
}

func (e *ErrMalformedFrame) Unwrap() error { return e.Err }

// Frame is one decoded JSON object, keyed as the wire protocol requires:
// a mandatory "event" string plus arbitrary additional fields.
type Frame map[string]any

// Event returns the frame's "event" field, or "" if absent or not a
// string.
func (f Frame) Event() string {
	event, _ := f["event"].(string)
	return event
}

// RequestID returns the frame's numeric "request_id" field and whether
// it was present. JSON numbers decode to float64 via encoding/json's
// default map[string]any handling.
func (f Frame) RequestID() (int, bool) {
	v, ok := f["request_id"].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}

// Decoder reads successive newline-terminated JSON frames from an
// underlying byte stream, enforcing MaxFrameSize.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder wraps r. The scanner starts with a 64KiB buffer and grows
// up to MaxFrameSize.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)
	scanner.Split(bufio.ScanLines)
	return &Decoder{scanner: scanner}
}

// Next reads and parses the next frame. It returns io.EOF when the
// stream ends cleanly. A malformed frame is reported as
// *ErrMalformedFrame (non-fatal: call Next again). ErrFrameTooLarge is
// fatal: the stream is unusable past this point.
func (d *Decoder) Next() (Frame, error) {
	if !d.scanner.Scan() {
		if err := d.scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				return nil, ErrFrameTooLarge
			}
			return nil, err
		}
		return nil, io.EOF
	}

	raw := d.scanner.Bytes()
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		cp := make([]byte, len(raw))
		copy(cp, raw)
		return nil, &ErrMalformedFrame{Raw: cp, Err: err}
	}
	if frame == nil {
		frame = Frame{}
	}
	return frame, nil
}

// Encode serializes data as a single newline-terminated JSON frame.
func Encode(data map[string]any) ([]byte, error) {
	buf, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal frame: %w", err)
	}
	out := make([]byte, 0, len(buf)+1)
	out = append(out, buf...)
	out = append(out, '\n')
	return out, nil
}

// EncodeWebSocket serializes data as a bare JSON object with no
// trailing newline, for transports (WebSocket) that provide their own
// message boundaries.
func EncodeWebSocket(data map[string]any) ([]byte, error) {
	buf, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal frame: %w", err)
	}
	return buf, nil
}
