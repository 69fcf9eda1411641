// Package debugstream implements the optional debug output collaborator
// (spec.md §1's "out of scope" list, SPEC_FULL.md §4.8 indicator
// diagnostics): a second, independent serial port that receives
// human-readable link diagnostics, modeled the way the teacher treats "one
// more serial peripheral" in cmd/bluetooth-service/main.go's flag wiring.
// Transport is go.bug.st/serial — present in the teacher's go.mod but never
// opened anywhere in its tree.
package debugstream

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// Stream writes formatted diagnostic lines to an underlying io.Writer. A nil
// or closed Stream is a valid no-op sink, matching the original's "debug
// stream is optional" collaborator.
type Stream struct {
	w io.Writer
	c io.Closer
}

// Open opens devicePath at baudRate as the debug transport.
func Open(devicePath string, baudRate int) (*Stream, error) {
	mode := &serial.Mode{BaudRate: baudRate}
	port, err := serial.Open(devicePath, mode)
	if err != nil {
		return nil, fmt.Errorf("debugstream: open %s: %w", devicePath, err)
	}
	return &Stream{w: port, c: port}, nil
}

// Wrap adapts any io.Writer (e.g. os.Stdout, or a test buffer) as a Stream.
func Wrap(w io.Writer) *Stream {
	return &Stream{w: w}
}

// Discard is a Stream that throws every line away, the zero-configuration
// default when no debug device is configured.
var Discard = &Stream{w: io.Discard}

// Printf writes one formatted, newline-terminated diagnostic line. Write
// errors are swallowed: the debug stream is diagnostic-only and must never
// affect link behaviour.
func (s *Stream) Printf(format string, args ...any) {
	if s == nil || s.w == nil {
		return
	}
	fmt.Fprintf(s.w, format+"\n", args...)
}

// Close closes the underlying transport, if it owns one.
func (s *Stream) Close() error {
	if s == nil || s.c == nil {
		return nil
	}
	return s.c.Close()
}
