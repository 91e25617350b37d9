// Package session runs the local side of a portsh connection: the framed
// remote-exec forwarding loop and the raw terminal passthrough.
package session

import (
	"strings"

	"github.com/allbin/go-portsh/internal/logging"
	"github.com/allbin/go-portsh/internal/wire"
	"github.com/google/uuid"
)

// Session is one remote-exec invocation. The token is random per run and
// prefixes every sentinel line, so ordinary remote output cannot be
// mistaken for protocol traffic.
type Session struct {
	Token    string
	Prompted bool
	Running  bool
	ExitCode *int

	Trace *logging.Tracer

	enc *wire.Encoder
	dec *wire.Decoder
}

// New creates a session with a fresh token and codec pair
func New(tracer *logging.Tracer) *Session {
	return &Session{
		Token: strings.ReplaceAll(uuid.NewString(), "-", ""),
		Trace: tracer,
		enc:   wire.NewEncoder(),
		dec:   wire.NewDecoder(),
	}
}

// Encode frames local bytes for the remote stage
func (s *Session) Encode(p []byte) (string, error) {
	return s.enc.Encode(p)
}

// Decode unframes a remote output chunk. Chunks must be decoded in the
// order the remote produced them.
func (s *Session) Decode(text string) ([]byte, error) {
	return s.dec.Decode(text)
}

// Sentinel returns the token followed by suffix, e.g. wire.SentinelReady
func (s *Session) Sentinel(suffix string) string {
	return s.Token + suffix
}

// Marker returns the two halves of the text the shell probe prints. The
// probe command carries them apart, so only real shell output contains
// them joined.
func (s *Session) Marker() (head, tail string) {
	half := len(s.Token) / 2
	return "PS" + s.Token[:half], s.Token[half:] + "OK"
}

// SetExit records the remote exit status and ends the running state
func (s *Session) SetExit(code int) {
	s.ExitCode = &code
	s.Running = false
}
