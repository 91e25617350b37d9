package wire

import (
	"bytes"
	"io"
	"time"

	"github.com/allbin/go-portsh/internal/logging"
)

// ReadBuffer accumulates bytes read from a Line that have not been
// consumed yet. CRLF pairs are folded to LF as they arrive, since the
// remote tty adds a CR to every line it prints.
type ReadBuffer struct {
	line   Line
	buf    []byte
	chunk  []byte
	tracer *logging.Tracer
}

// NewReadBuffer returns an empty buffer reading from line
func NewReadBuffer(line Line, tracer *logging.Tracer) *ReadBuffer {
	return &ReadBuffer{
		line:   line,
		chunk:  make([]byte, ReadChunk),
		tracer: tracer,
	}
}

// Fill waits up to timeout for the line to become readable and appends
// one read's worth of data. It returns the raw bytes read, or nil if the
// line stayed quiet.
func (r *ReadBuffer) Fill(timeout time.Duration) ([]byte, error) {
	ok, err := WaitReadable(r.line.Fd(), timeout)
	if err != nil || !ok {
		return nil, err
	}
	n, err := r.line.Read(r.chunk)
	if n <= 0 {
		if err == nil {
			err = io.EOF
		}
		return nil, err
	}
	raw := append([]byte(nil), r.chunk[:n]...)
	r.tracer.Printf("(%d)", n)
	r.buf = append(r.buf, raw...)
	if bytes.Contains(r.buf, []byte("\r\n")) {
		r.buf = bytes.ReplaceAll(r.buf, []byte("\r\n"), []byte("\n"))
	}
	return raw, err
}

// Len returns the number of unconsumed bytes
func (r *ReadBuffer) Len() int {
	return len(r.buf)
}

// Peek returns the unconsumed bytes without consuming them. The slice is
// only valid until the next Fill.
func (r *ReadBuffer) Peek() []byte {
	return r.buf
}

// Contains reports whether sep occurs in the unconsumed bytes
func (r *ReadBuffer) Contains(sep string) bool {
	return bytes.Contains(r.buf, []byte(sep))
}

// Next consumes and returns up to n bytes
func (r *ReadBuffer) Next(n int) []byte {
	if n > len(r.buf) {
		n = len(r.buf)
	}
	out := append([]byte(nil), r.buf[:n]...)
	r.buf = r.buf[n:]
	return out
}

// Until consumes everything up to and including the first sep. Nothing is
// consumed if sep has not arrived yet.
func (r *ReadBuffer) Until(sep string) ([]byte, bool) {
	pos := bytes.Index(r.buf, []byte(sep))
	if pos < 0 {
		return nil, false
	}
	return r.Next(pos + len(sep)), true
}

// All consumes every buffered byte
func (r *ReadBuffer) All() []byte {
	return r.Next(len(r.buf))
}

// Line consumes one complete line and returns it without the newline
func (r *ReadBuffer) Line() (string, bool) {
	line, ok := r.Until("\n")
	if !ok {
		return "", false
	}
	return string(line[:len(line)-1]), true
}
