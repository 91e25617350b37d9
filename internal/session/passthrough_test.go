package session

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	serial "github.com/allbin/go-portsh"
	"github.com/stretchr/testify/require"
)

// fakeDevice is the local end of a raw pty with scripted line status
type fakeDevice struct {
	*os.File

	mu        sync.Mutex
	breaks    int
	statuses  []string
	statusErr error
	polls     int
}

func (d *fakeDevice) SendBreak() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.breaks++
	return nil
}

func (d *fakeDevice) LineStatus() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.polls++
	if d.statusErr != nil {
		return "", d.statusErr
	}
	s := d.statuses[0]
	if len(d.statuses) > 1 {
		d.statuses = d.statuses[1:]
	}
	return s, nil
}

type passthroughHarness struct {
	line   remoteLine
	dev    *fakeDevice
	stdinW *os.File
	stdout syncBuffer
	log    syncBuffer
	pt     *Passthrough
}

func newPassthroughHarness(t *testing.T) *passthroughHarness {
	t.Helper()
	h := &passthroughHarness{line: newRemoteLine(t)}
	h.dev = &fakeDevice{File: h.line.Local, statuses: []string{"DTR, RTS"}}

	stdinR, stdinW, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { stdinR.Close(); stdinW.Close() })
	h.stdinW = stdinW

	h.pt = &Passthrough{
		Port:   h.dev,
		Stdin:  stdinR,
		Stdout: &h.stdout,
		Log:    slog.New(slog.NewTextHandler(&h.log, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
	return h
}

func (h *passthroughHarness) run(t *testing.T) error {
	t.Helper()
	return within(t, 5*time.Second, h.pt.Run)
}

func (h *passthroughHarness) typeKeys(t *testing.T, keys string) {
	t.Helper()
	_, err := h.stdinW.Write([]byte(keys))
	require.NoError(t, err)
}

// remoteGot reads exactly len(want) bytes from the remote end
func (h *passthroughHarness) remoteGot(t *testing.T, n int) string {
	t.Helper()
	return within(t, 2*time.Second, func() string {
		buf := make([]byte, n)
		if _, err := io.ReadFull(h.line.Remote, buf); err != nil {
			return "read error: " + err.Error()
		}
		return string(buf)
	})
}

func TestPassthroughEscapes(t *testing.T) {
	tests := []struct {
		name   string
		keys   string
		sent   string
		breaks int
	}{
		{"tilde dot", "ls\r~.", "ls\r~", 0},
		{"bang dot", "x\n!.", "x\n!", 0},
		{"only at line start", "a~.\r~.", "a~.\r~", 0},
		{"ctrl-c starts a line", "sleep 9\x03~.", "sleep 9\x03~", 0},
		{"break", "~b~.", "~~", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newPassthroughHarness(t)
			h.typeKeys(t, tt.keys)

			require.NoError(t, h.run(t))
			require.Equal(t, tt.sent, h.remoteGot(t, len(tt.sent)))
			require.Equal(t, tt.breaks, h.dev.breaks)
		})
	}
}

func TestPassthroughCopiesLineToStdout(t *testing.T) {
	h := newPassthroughHarness(t)

	errc := make(chan error, 1)
	go func() { errc <- h.pt.Run() }()

	_, err := h.line.Remote.Write([]byte("login: "))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.stdout.String() == "login: " }, 2*time.Second, 10*time.Millisecond)

	_, err = h.line.Remote.Write([]byte{0})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return strings.Contains(h.log.String(), "received NUL byte") }, 2*time.Second, 10*time.Millisecond)

	h.typeKeys(t, "~.")
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("passthrough did not exit")
	}
	require.Equal(t, "login: \x00", h.stdout.String())
}

func TestPassthroughLineStatusChanges(t *testing.T) {
	h := newPassthroughHarness(t)
	h.dev.statuses = []string{"DTR, RTS", "DTR, RTS", "CD, DTR, RTS"}

	h.typeKeys(t, "ab\r~.")
	require.NoError(t, h.run(t))

	log := h.log.String()
	require.Equal(t, 1, strings.Count(log, `status="DTR, RTS"`))
	require.Equal(t, 1, strings.Count(log, `status="CD, DTR, RTS"`))
}

func TestPassthroughWithoutLineStatus(t *testing.T) {
	h := newPassthroughHarness(t)
	h.dev.statusErr = errors.New("inappropriate ioctl for device")

	h.typeKeys(t, "abc\r~.")
	require.NoError(t, h.run(t))
	require.Equal(t, 1, h.dev.polls, "unsupported line status is not polled again")
	require.NotContains(t, h.log.String(), "status=")
}

func TestPassthroughRateLimit(t *testing.T) {
	h := newPassthroughHarness(t)
	var slept []time.Duration
	h.pt.Delay = 5 * time.Millisecond
	h.pt.sleep = func(d time.Duration) { slept = append(slept, d) }

	h.typeKeys(t, "abc\r~.")
	require.NoError(t, h.run(t))
	require.Equal(t, "abc\r~", h.remoteGot(t, 5))
	require.Len(t, slept, 5, "one pause per byte sent")
	for _, d := range slept {
		require.Equal(t, 5*time.Millisecond, d)
	}
}

func TestPassthroughLocalEOF(t *testing.T) {
	h := newPassthroughHarness(t)
	h.typeKeys(t, "bye")
	require.NoError(t, h.stdinW.Close())

	require.NoError(t, h.run(t))
	require.Equal(t, "bye", h.remoteGot(t, 3))
}

func TestByteDelay(t *testing.T) {
	tests := []struct {
		limit, baud int
		want        time.Duration
		wantErr     bool
	}{
		{0, 115200, 0, false},
		{300, 9600, 10 * time.Second / 300, false},
		{9600, 115200, 10 * time.Second / 9600, false},
		{115200, 9600, 10 * time.Second / 115200, false},
		{230400, 230400, 10 * time.Second / 230400, false},
		{299, 115200, 0, true},
		{-1, 115200, 0, true},
		{230400, 115200, 0, true},
	}

	for _, tt := range tests {
		got, err := ByteDelay(tt.limit, tt.baud)
		if tt.wantErr {
			require.ErrorIs(t, err, serial.ErrInvalidConfig, "limit %d", tt.limit)
			require.True(t, serial.IsConfigError(err))
			continue
		}
		require.NoError(t, err, "limit %d", tt.limit)
		require.Equal(t, tt.want, got, "limit %d", tt.limit)
	}
}
