package session

import (
	"bytes"
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

// Device is the part of serial.Port the passthrough needs
type Device interface {
	wire.Line
	SendBreak() error
	LineStatus() (string, error)
}

// Escape sequences recognized at the start of a local input line
var (
	escapeExit  = []string{"~.", "!."}
	escapeBreak = "~b"
)

// Passthrough copies bytes between the local terminal and the line with
// no framing. The local terminal is expected to be in raw mode already.
type Passthrough struct {
	Port   Device
	Stdin  Input
	Stdout io.Writer
	Log    *slog.Logger

	// Delay is slept after every byte sent to the line, see ByteDelay
	Delay time.Duration
	sleep func(time.Duration)
}

// ByteDelay converts an upload cap in bits per second into the pause
// after each byte. Zero disables the cap. The cap must be at least 300
// and may not exceed the larger of 115200 and the line speed.
func ByteDelay(limit, baud int) (time.Duration, error) {
	switch {
	case limit == 0:
		return 0, nil
	case limit < 300:
		return 0, fmt.Errorf("%w: limit should be at least 300 bps", serial.ErrInvalidConfig)
	case limit > max(115200, baud):
		return 0, fmt.Errorf("%w: limit should be no more than the line speed", serial.ErrInvalidConfig)
	}
	// Ten bit times per byte with start and stop bits.
	return 10 * time.Second / time.Duration(limit), nil
}

// Run copies until an exit escape is typed, local input ends, or the line
// fails.
func (p *Passthrough) Run() error {
	if p.Log == nil {
		p.Log = logging.Discard()
	}
	if p.sleep == nil {
		p.sleep = time.Sleep
	}
	p.Log.Info("(Type ~. or !. to exit, or ~b to send BREAK)")

	var (
		line     []byte
		status   string
		first    = true
		watching = true
		in       = make([]byte, 1)
		out      = make([]byte, wire.ReadChunk)
	)
	for {
		if watching {
			s, err := p.Port.LineStatus()
			switch {
			case err != nil:
				p.Log.Debug("line status unavailable", "error", err)
				watching = false
			case first || s != status:
				status = s
				p.Log.Info("line status", slog.String("status", s))
			}
			first = false
		}

		fds := []unix.PollFd{
			{Fd: int32(p.Stdin.Fd()), Events: unix.POLLIN},
			{Fd: int32(p.Port.Fd()), Events: unix.POLLIN},
		}
		if _, err := wire.Poll(fds, -1); err != nil {
			return fmt.Errorf("poll: %w", err)
		}

		if wire.Ready(fds[0]) {
			n, err := p.Stdin.Read(in)
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("read stdin: %w", err)
			}
			if n == 0 {
				p.Log.Debug("local input closed")
				return nil
			}
			done, err := p.handleInput(in[0], &line)
			if done || err != nil {
				return err
			}
		}

		if wire.Ready(fds[1]) {
			n, err := p.Port.Read(out)
			if n > 0 {
				if _, werr := p.Stdout.Write(out[:n]); werr != nil {
					return fmt.Errorf("write stdout: %w", werr)
				}
			}
			if n == 1 && out[0] == 0 {
				p.Log.Info("(received NUL byte)")
			}
			if err != nil {
				return fmt.Errorf("read serial: %w", err)
			}
			if n == 0 {
				return fmt.Errorf("read serial: %w", io.EOF)
			}
		}
	}
}

// handleInput tracks the current input line for escapes and forwards b
func (p *Passthrough) handleInput(b byte, line *[]byte) (bool, error) {
	if b == '\r' || b == '\n' || b == 0x03 {
		*line = (*line)[:0]
	} else {
		*line = append(*line, b)
	}

	for _, esc := range escapeExit {
		if bytes.Equal(*line, []byte(esc)) {
			return true, nil
		}
	}
	if bytes.Equal(*line, []byte(escapeBreak)) {
		p.Log.Info("(BREAK)")
		*line = (*line)[:0]
		if err := p.Port.SendBreak(); err != nil {
			return true, fmt.Errorf("send break: %w", err)
		}
		return false, nil
	}

	if _, err := p.Port.Write([]byte{b}); err != nil {
		return true, fmt.Errorf("write serial: %w", err)
	}
	if p.Delay > 0 {
		p.sleep(p.Delay)
	}
	return false, nil
}
