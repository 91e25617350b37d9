package shell

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	serial "github.com/allbin/go-portsh"
	"github.com/allbin/go-portsh/internal/logging"
	"github.com/allbin/go-portsh/internal/session"
	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
	"golang.org/x/term"
)

// fakeRemote plays the device on the far end of a raw pty
type fakeRemote struct {
	f    *os.File
	seen []byte
}

// newFakeRemote returns the local end of the line and the remote player
func newFakeRemote(t *testing.T) (*os.File, *fakeRemote) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })
	_, err = term.MakeRaw(int(slave.Fd()))
	require.NoError(t, err)
	return slave, &fakeRemote{f: master}
}

// expect reads until s arrives and returns everything before it
func (r *fakeRemote) expect(s string) (string, error) {
	buf := make([]byte, 4096)
	for {
		if i := bytes.Index(r.seen, []byte(s)); i >= 0 {
			before := string(r.seen[:i])
			r.seen = r.seen[i+len(s):]
			return before, nil
		}
		n, err := r.f.Read(buf)
		if err != nil {
			return "", fmt.Errorf("waiting for %q: %w", s, err)
		}
		r.seen = append(r.seen, buf[:n]...)
	}
}

func (r *fakeRemote) say(s string) error {
	_, err := r.f.Write([]byte(s))
	return err
}

// play runs script in the background; the returned channel yields its
// result
func play(script func() error) <-chan error {
	done := make(chan error, 1)
	go func() { done <- script() }()
	return done
}

// drain swallows everything the remote is sent
func (r *fakeRemote) drain() {
	buf := make([]byte, 4096)
	for {
		if _, err := r.f.Read(buf); err != nil {
			return
		}
	}
}

func fastNegotiator(line *os.File, sess *session.Session, user, password string) *Negotiator {
	n := NewNegotiator(line, sess, user, password)
	n.Timeouts = Timeouts{Settle: 300 * time.Millisecond, Quiet: 300 * time.Millisecond}
	return n
}

func TestNegotiateLogin(t *testing.T) {
	line, remote := newFakeRemote(t)
	var trace bytes.Buffer
	sess := session.New(logging.NewTracer(&trace, true))
	head, tail := sess.Marker()

	script := play(func() error {
		steps := []struct{ want, reply string }{
			{"\x03\x03\x03\r\n", "\r\nbox login: "},
			{"alice\n", "Password: "},
			{"secret\n", "\r\nLast login: today\r\nalice@box:~$ "},
			{fmt.Sprintf("printf %%s %s; printf %%s %s\r", head, tail), head + tail + "\r\nalice@box:~$ "},
		}
		for _, step := range steps {
			if _, err := remote.expect(step.want); err != nil {
				return err
			}
			if err := remote.say(step.reply); err != nil {
				return err
			}
		}
		return nil
	})

	n := fastNegotiator(line, sess, "alice", "secret")
	err := within(t, 10*time.Second, func() error { return n.Negotiate(context.Background()) })
	require.NoError(t, err)
	require.NoError(t, <-script)

	require.Contains(t, trace.String(), "(password)")
	require.Contains(t, trace.String(), "(got a shell prompt)")
	require.NotContains(t, trace.String(), "secret")
}

func TestNegotiateProdsSilentRemote(t *testing.T) {
	line, remote := newFakeRemote(t)
	sess := session.New(nil)
	head, tail := sess.Marker()

	script := play(func() error {
		// A program is hogging the terminal and ignores the first reset
		if _, err := remote.expect("\x04\x04\x04\x1c\x1c\x1c\r\n"); err != nil {
			return err
		}
		if err := remote.say("Quit\r\n# "); err != nil {
			return err
		}
		if _, err := remote.expect(head + "; printf %s " + tail + "\r"); err != nil {
			return err
		}
		return remote.say(head + tail + "\r\n# ")
	})

	n := fastNegotiator(line, sess, "root", "")
	err := within(t, 10*time.Second, func() error { return n.Negotiate(context.Background()) })
	require.NoError(t, err)
	require.NoError(t, <-script)
}

func TestNegotiateANSIPrompt(t *testing.T) {
	line, remote := newFakeRemote(t)
	sess := session.New(nil)
	head, tail := sess.Marker()

	script := play(func() error {
		if _, err := remote.expect("\r\n"); err != nil {
			return err
		}
		if err := remote.say("\x1b[01;32mbox\x1b[00m:\x1b[01;34m~\x1b[00m "); err != nil {
			return err
		}
		if _, err := remote.expect("\r"); err != nil {
			return err
		}
		return remote.say(head + tail + "\r\n")
	})

	n := fastNegotiator(line, sess, "root", "")
	err := within(t, 10*time.Second, func() error { return n.Negotiate(context.Background()) })
	require.NoError(t, err)
	require.NoError(t, <-script)
}

func TestNegotiateGivesUp(t *testing.T) {
	line, remote := newFakeRemote(t)
	go remote.drain()

	n := NewNegotiator(line, session.New(nil), "root", "")
	n.Timeouts = Timeouts{Settle: 20 * time.Millisecond, Quiet: 20 * time.Millisecond}
	n.MaxRounds = 3

	err := within(t, 5*time.Second, func() error { return n.Negotiate(context.Background()) })
	require.ErrorIs(t, err, serial.ErrProtocol)
	require.Contains(t, err.Error(), "no shell prompt")
}

func TestNegotiateCancelled(t *testing.T) {
	line, remote := newFakeRemote(t)
	go remote.drain()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := NewNegotiator(line, session.New(nil), "root", "")
	err := within(t, 5*time.Second, func() error { return n.Negotiate(ctx) })
	require.ErrorIs(t, err, context.Canceled)
}

func TestLooksLikePrompt(t *testing.T) {
	for _, s := range []string{"root@box:~#", "$", "host%", "c:\\>", "\x1b[0m"} {
		require.True(t, looksLikePrompt(s), s)
	}
	for _, s := range []string{"", "login:", "loading..."} {
		require.False(t, looksLikePrompt(strings.ToLower(s)), s)
	}
}

// within runs fn and fails the test if it does not return in time
func within[T any](t *testing.T, d time.Duration, fn func() T) T {
	t.Helper()
	done := make(chan T, 1)
	go func() { done <- fn() }()
	select {
	case v := <-done:
		return v
	case <-time.After(d):
		t.Fatalf("did not finish within %v", d)
		panic("unreachable")
	}
}
