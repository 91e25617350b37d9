package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	serial "github.com/allbin/go-portsh"
	"github.com/allbin/go-portsh/internal/logging"
	"github.com/allbin/go-portsh/internal/wire"
	"golang.org/x/sys/unix"
)

const (
	// stdinChunk bounds one stdin read so a frame stays short on the line
	stdinChunk = 128

	// faultIdle is how long remote diagnostics may pause before we stop
	// copying them
	faultIdle = time.Second
)

// eofSignal tells the remote stage to close the command's stdin
var eofSignal = []byte("\n\x04")

// Input is a readable local stream with a pollable descriptor
type Input interface {
	io.Reader
	Fd() uintptr
}

// Forwarder connects local stdio to a running remote command. It owns
// the session from the RUNNING sentinel until the exit sentinel.
type Forwarder struct {
	Session *Session
	Line    wire.Line
	Buffer  *wire.ReadBuffer

	Stdin  Input
	Stdout io.Writer
	Stderr io.Writer
	Log    *slog.Logger

	stdinDone bool
}

// Run forwards until the remote command exits and returns its status.
// A remote diagnostic fails with ErrRemoteFault, anything else the loop
// cannot parse fails with ErrProtocol.
func (f *Forwarder) Run() (int, error) {
	if f.Log == nil {
		f.Log = logging.Discard()
	}
	if f.Buffer == nil {
		f.Buffer = wire.NewReadBuffer(f.Line, f.Session.Trace)
	}

	// Output can arrive together with the RUNNING sentinel.
	if code, done, err := f.handleLines(); done {
		return code, err
	}

	chunk := make([]byte, stdinChunk)
	for {
		fds := []unix.PollFd{{Fd: int32(f.Line.Fd()), Events: unix.POLLIN}}
		if !f.stdinDone {
			fds = append(fds, unix.PollFd{Fd: int32(f.Stdin.Fd()), Events: unix.POLLIN})
		}
		if _, err := wire.Poll(fds, -1); err != nil {
			return -1, fmt.Errorf("poll: %w", err)
		}

		if !f.stdinDone && wire.Ready(fds[1]) {
			if err := f.pumpStdin(chunk); err != nil {
				return -1, err
			}
		}
		if wire.Ready(fds[0]) {
			if code, done, err := f.pumpLine(); done {
				return code, err
			}
		}
	}
}

func (f *Forwarder) pumpStdin(chunk []byte) error {
	n, err := f.Stdin.Read(chunk)
	if n > 0 {
		f.Session.Trace.Printf(">>%s", chunk[:n])
		text, eerr := f.Session.Encode(chunk[:n])
		if eerr != nil {
			return eerr
		}
		if _, werr := f.Line.Write([]byte(text + "\n")); werr != nil {
			return fmt.Errorf("write serial: %w", werr)
		}
	}
	switch {
	case err == nil && n > 0:
		return nil
	case err == nil, errors.Is(err, io.EOF):
		return f.sendEOF()
	default:
		return fmt.Errorf("read stdin: %w", err)
	}
}

// sendEOF writes the EOF signal the first time it is called only
func (f *Forwarder) sendEOF() error {
	if f.stdinDone {
		return nil
	}
	f.stdinDone = true
	f.Log.Debug("local stdin closed, signalling remote EOF")
	if _, err := f.Line.Write(eofSignal); err != nil {
		return fmt.Errorf("write serial: %w", err)
	}
	return nil
}

// pumpLine reads a burst from the line and handles every complete line
func (f *Forwarder) pumpLine() (int, bool, error) {
	for {
		raw, err := f.Buffer.Fill(wire.BurstIdle)
		if err != nil {
			return -1, true, fmt.Errorf("read serial: %w", err)
		}
		f.Session.Trace.Data(raw)
		if code, done, err := f.handleLines(); done {
			return code, true, err
		}
		if raw == nil {
			return 0, false, nil
		}
	}
}

// handleLines consumes complete buffered lines. done is set once the
// session is over, either with an exit status or an error.
func (f *Forwarder) handleLines() (code int, done bool, err error) {
	for {
		line, ok := f.Buffer.Line()
		if !ok {
			return 0, false, nil
		}
		frame, err := wire.ParseFrame(line, f.Session.Token)
		if err != nil {
			f.drainTrace()
			return -1, true, err
		}

		switch frame.Kind {
		case wire.FrameExit:
			f.Session.Trace.Printf("(rv=%d)", frame.Code)
			f.Session.SetExit(frame.Code)
			return frame.Code, true, nil
		case wire.FrameStdout, wire.FrameStderr:
			data, err := f.Session.Decode(frame.Payload)
			if err != nil {
				f.drainTrace()
				return -1, true, err
			}
			out := f.Stdout
			if frame.Kind == wire.FrameStderr {
				out = f.Stderr
			}
			if _, err := out.Write(data); err != nil {
				return -1, true, fmt.Errorf("write %s: %w", frame.Kind, err)
			}
		case wire.FrameDiagnostic:
			return -1, true, f.remoteFault(line)
		default:
			f.drainTrace()
			return -1, true, fmt.Errorf("%w: unexpected prefix %q...", serial.ErrProtocol, wire.Excerpt(line))
		}
	}
}

// remoteFault copies the diagnostic and everything after it to stderr
// unframed until the remote goes quiet
func (f *Forwarder) remoteFault(line string) error {
	fmt.Fprintln(f.Stderr, line)
	f.Stderr.Write(f.Buffer.All())
	for {
		raw, err := f.Buffer.Fill(faultIdle)
		if err != nil || raw == nil {
			break
		}
		f.Stderr.Write(f.Buffer.All())
	}
	return fmt.Errorf("%w: %s", serial.ErrRemoteFault, line)
}

// drainTrace swallows the rest of a burst so it shows up in the trace
func (f *Forwarder) drainTrace() {
	for {
		raw, err := f.Buffer.Fill(wire.BurstIdle)
		if err != nil || raw == nil {
			return
		}
		f.Session.Trace.Data(raw)
	}
}
