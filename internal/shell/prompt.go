// Package shell drives the remote end of the line: it finds an
// interactive shell prompt and bootstraps the remote stage through it.
package shell

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	serial "github.com/allbin/go-portsh"
	"github.com/allbin/go-portsh/internal/logging"
	"github.com/allbin/go-portsh/internal/session"
	"github.com/allbin/go-portsh/internal/wire"
)

var (
	// resetBurst interrupts whatever is running and asks for a new prompt
	resetBurst = []byte("\x03\x03\x03\r\n")

	// prodBurst also sends EOF and SIGQUIT to get out of a stuck program
	prodBurst = []byte("\x03\x03\x03\r\n\x04\x04\x04\x1c\x1c\x1c\r\n")

	promptSuffixes = []string{"#", "$", "%", ">"}
)

// DefaultMaxRounds bounds how many times Negotiate reacts to the remote
const DefaultMaxRounds = 10

// Timeouts controls how long Negotiate listens to the remote
type Timeouts struct {
	// Settle is the first wait for output after each action
	Settle time.Duration
	// Quiet is how long a silent remote is given before it is prodded
	Quiet time.Duration
}

// DefaultTimeouts returns the timeouts used on real lines
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Settle: time.Second,
		Quiet:  2 * time.Second,
	}
}

// Negotiator brings the remote end from an unknown state to a confirmed
// shell prompt, logging in with Username and Password if asked.
type Negotiator struct {
	Line     wire.Line
	Username string
	Password string

	// Head and Tail are printed by the probe command as one word
	Head string
	Tail string

	Trace     *logging.Tracer
	Log       *slog.Logger
	Timeouts  Timeouts
	MaxRounds int
}

// NewNegotiator returns a Negotiator probing with the session's marker
func NewNegotiator(line wire.Line, sess *session.Session, username, password string) *Negotiator {
	head, tail := sess.Marker()
	return &Negotiator{
		Line:      line,
		Username:  username,
		Password:  password,
		Head:      head,
		Tail:      tail,
		Trace:     sess.Trace,
		Log:       logging.Discard(),
		Timeouts:  DefaultTimeouts(),
		MaxRounds: DefaultMaxRounds,
	}
}

// Negotiate returns nil once the remote shell has printed the marker, or
// ErrProtocol when no prompt turned up within MaxRounds.
func (n *Negotiator) Negotiate(ctx context.Context) error {
	if err := n.write(resetBurst); err != nil {
		return err
	}
	buf, err := wire.ReadUntilIdle(n.Line, 0, n.Trace)
	if err != nil {
		return fmt.Errorf("read serial: %w", err)
	}

	marker := n.Head + n.Tail
	probed := false
	for round := 0; round < n.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		text := strings.ReplaceAll(string(buf), "\r", "")
		n.Trace.Printf("%s", text)
		tail := strings.ToLower(strings.TrimSpace(string(buf)))

		switch {
		case strings.HasSuffix(tail, "login:"):
			n.Log.Debug("answering login prompt", "user", n.Username)
			err = n.write([]byte(n.Username + "\n"))
		case strings.HasSuffix(tail, "password:"):
			err = n.write([]byte(n.Password + "\n"))
			n.Trace.Printf("(password)")
		case strings.Contains(text, marker):
			n.Trace.Printf("(got a shell prompt)\n")
			n.Log.Debug("shell prompt confirmed", "rounds", round+1)
			return nil
		case !probed && looksLikePrompt(tail):
			err = n.write([]byte(fmt.Sprintf("printf %%s %s; printf %%s %s\r", n.Head, n.Tail)))
			n.Trace.Printf("(shelltest)\n")
			probed = true
		default:
			probed = false
			var ready bool
			ready, err = wire.WaitReadable(n.Line.Fd(), n.Timeouts.Quiet)
			if err == nil && !ready {
				n.Trace.Printf("(prodding)\n")
				err = n.write(prodBurst)
			}
		}
		if err != nil {
			return err
		}

		if buf, err = wire.ReadUntilIdle(n.Line, n.Timeouts.Settle, n.Trace); err != nil {
			return fmt.Errorf("read serial: %w", err)
		}
	}
	return fmt.Errorf("%w: no shell prompt after %d tries", serial.ErrProtocol, n.MaxRounds)
}

func (n *Negotiator) write(p []byte) error {
	if _, err := n.Line.Write(p); err != nil {
		return fmt.Errorf("write serial: %w", err)
	}
	return nil
}

// looksLikePrompt matches sh, csh and fancy ANSI prompts
func looksLikePrompt(tail string) bool {
	for _, suffix := range promptSuffixes {
		if strings.HasSuffix(tail, suffix) {
			return true
		}
	}
	return strings.Contains(tail, "\x1b")
}
