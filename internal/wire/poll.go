package wire

import (
	"errors"
	"io"
	"time"

	"github.com/allbin/go-portsh/internal/logging"
	"golang.org/x/sys/unix"
)

// Line is a byte stream with a pollable descriptor. The serial port
// satisfies it, as do ptys and pipes.
type Line interface {
	io.ReadWriter
	Fd() uintptr
}

// Idle thresholds used to decide that a burst of output is over
const (
	BurstIdle = 100 * time.Millisecond
	ReadChunk = 4096
)

// Poll waits on fds like poll(2). A negative timeout waits forever.
// Interrupted waits are resumed with whatever time is left.
func Poll(fds []unix.PollFd, timeout time.Duration) (int, error) {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		ms := -1
		if timeout >= 0 {
			remaining := time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
			ms = int((remaining + time.Millisecond - 1) / time.Millisecond)
		}
		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return n, err
	}
}

// Ready reports whether a polled descriptor can be read without blocking.
// Hangups and errors count, so the following read reports them.
func Ready(fd unix.PollFd) bool {
	return fd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0
}

// WaitReadable waits up to timeout for fd to become readable
func WaitReadable(fd uintptr, timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := Poll(fds, timeout)
	if err != nil {
		return false, err
	}
	return n > 0 && Ready(fds[0]), nil
}

// ReadUntilIdle collects output from line until it goes quiet. The first
// wait lasts up to start; once data has arrived the line only has to stay
// quiet for BurstIdle.
func ReadUntilIdle(line Line, start time.Duration, tracer *logging.Tracer) ([]byte, error) {
	var out []byte
	buf := make([]byte, ReadChunk)
	timeout := start
	for {
		ok, err := WaitReadable(line.Fd(), timeout)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		n, err := line.Read(buf)
		if n > 0 {
			tracer.Printf("(%d)", n)
			out = append(out, buf[:n]...)
		}
		if err != nil {
			return out, err
		}
		if n == 0 {
			return out, io.EOF
		}
		timeout = BurstIdle
	}
}
