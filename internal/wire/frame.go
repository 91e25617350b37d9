package wire

import (
	"fmt"
	"strconv"
	"strings"

	serial "github.com/allbin/go-portsh"
)

// FrameKind classifies one line of remote output
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameStdout
	FrameStderr
	FrameReady
	FrameRunning
	FrameExit
	FrameDiagnostic
)

func (k FrameKind) String() string {
	switch k {
	case FrameStdout:
		return "stdout"
	case FrameStderr:
		return "stderr"
	case FrameReady:
		return "ready"
	case FrameRunning:
		return "running"
	case FrameExit:
		return "exit"
	case FrameDiagnostic:
		return "diagnostic"
	default:
		return "unknown"
	}
}

// Frame is one parsed line
type Frame struct {
	Kind    FrameKind
	Payload string // encoded chunk for stdout/stderr frames
	Code    int    // exit status for exit frames
	Line    string
}

// Sentinel suffixes appended to the session token
const (
	SentinelReady   = "-READY"
	SentinelRunning = "-RUNNING"
	SentinelExit    = "-EXIT-"
)

// ParseFrame classifies line, which must not include its newline. Only a
// malformed exit sentinel is an error; other unrecognized lines come back
// as FrameUnknown for the caller to judge.
func ParseFrame(line, token string) (Frame, error) {
	f := Frame{Line: line}
	exit := token + SentinelExit
	switch {
	case strings.Contains(line, exit):
		pre, code, _ := strings.Cut(line, exit)
		if pre != "" {
			return f, fmt.Errorf("%w: junk before exit sentinel: %q", serial.ErrProtocol, Excerpt(pre))
		}
		n, err := strconv.Atoi(strings.TrimSpace(code))
		if err != nil {
			return f, fmt.Errorf("%w: bad exit status %q", serial.ErrProtocol, Excerpt(code))
		}
		f.Kind, f.Code = FrameExit, n
	case line == token+SentinelReady:
		f.Kind = FrameReady
	case line == token+SentinelRunning:
		f.Kind = FrameRunning
	case strings.HasPrefix(line, "1 "):
		f.Kind, f.Payload = FrameStdout, line[2:]
	case strings.HasPrefix(line, "2 "):
		f.Kind, f.Payload = FrameStderr, line[2:]
	case strings.HasPrefix(line, "Traceback"), strings.HasPrefix(line, "ERROR"):
		f.Kind = FrameDiagnostic
	}
	return f, nil
}

// Excerpt shortens s for error messages
func Excerpt(s string) string {
	if len(s) > 15 {
		return s[:15]
	}
	return s
}
