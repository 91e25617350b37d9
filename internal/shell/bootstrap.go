package shell

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	serial "github.com/allbin/go-portsh"
	"github.com/allbin/go-portsh/internal/logging"
	"github.com/allbin/go-portsh/internal/session"
	"github.com/allbin/go-portsh/internal/wire"
)

//go:embed stage.py
var stageSource []byte

// Stage returns the remote stage program uploaded by Inject
func Stage() []byte {
	return stageSource
}

// DefaultInterpreter runs the wrapper and the stage on the remote end
const DefaultInterpreter = "python3"

// wrapperTemplate is typed at the remote shell prompt. The inline program
// reads the stage one byte at a time so the command line that follows is
// left for the stage. Whatever happens to the interpreter, the shell then
// prints the fallback exit sentinel and copies input back out.
const wrapperTemplate = `stty sane; stty -echo -icanon; INTERP -Sc '
import os,sys,zlib,base64
os.write(1,("%s-READY\n" % "TOKEN").encode())
b=b""
while not b.endswith(b"\n"):
  c=os.read(0,1)
  if not c: sys.exit(97)
  b+=c
exec(zlib.decompress(base64.b64decode(b)))
stage("TOKEN")
'; printf %s-EXIT-97\\n TOKEN; stty sane; cat`

// WaitPolicy bounds the wait for a sentinel
type WaitPolicy struct {
	Tries int
	First time.Duration
	Next  time.Duration
}

// DefaultWaitPolicy allows ten seconds for the first output and then a
// second per read, fifty reads in total
func DefaultWaitPolicy() WaitPolicy {
	return WaitPolicy{Tries: 50, First: 10 * time.Second, Next: time.Second}
}

// Injector starts the remote stage from a shell prompt
type Injector struct {
	Line        wire.Line
	Buffer      *wire.ReadBuffer
	Interpreter string
	Wait        WaitPolicy
	Trace       *logging.Tracer
	Log         *slog.Logger
}

// NewInjector returns an Injector reading through buf, which the
// Forwarder must keep using afterwards
func NewInjector(line wire.Line, buf *wire.ReadBuffer, tracer *logging.Tracer) *Injector {
	return &Injector{
		Line:        line,
		Buffer:      buf,
		Interpreter: DefaultInterpreter,
		Wait:        DefaultWaitPolicy(),
		Trace:       tracer,
		Log:         logging.Discard(),
	}
}

// Wrapper renders the bootstrap command line for token
func (in *Injector) Wrapper(token string) (string, error) {
	if in.Interpreter == "" || strings.ContainsAny(in.Interpreter, "'\"\\ \t\r\n;") {
		return "", fmt.Errorf("%w: interpreter %q", serial.ErrInvalidConfig, in.Interpreter)
	}
	r := strings.NewReplacer("INTERP", in.Interpreter, "TOKEN", token)
	return r.Replace(wrapperTemplate), nil
}

// Inject launches stage on the remote end and starts command under it.
// It returns once the stage reports the command running. An interpreter
// that exits before that fails with ErrBootstrap.
func (in *Injector) Inject(ctx context.Context, sess *session.Session, stage []byte, command string) error {
	wrapper, err := in.Wrapper(sess.Token)
	if err != nil {
		return err
	}
	if err := in.send(wrapper); err != nil {
		return err
	}
	if err := in.waitFor(ctx, sess, wire.SentinelReady); err != nil {
		return err
	}

	packed, err := wire.CompressOnce(stage)
	if err != nil {
		return fmt.Errorf("pack stage: %w", err)
	}
	in.Trace.Printf("(stage=%d)", len(packed))
	if err := in.send(packed); err != nil {
		return err
	}

	// The command is the first frame of the session's stream.
	encoded, err := sess.Encode([]byte(command))
	if err != nil {
		return err
	}
	if err := in.send(encoded); err != nil {
		return err
	}
	if err := in.waitFor(ctx, sess, wire.SentinelRunning); err != nil {
		return err
	}
	sess.Running = true
	in.Log.Debug("remote command running", "command", command)
	return nil
}

func (in *Injector) send(line string) error {
	if _, err := in.Line.Write([]byte(line + "\r")); err != nil {
		return fmt.Errorf("write serial: %w", err)
	}
	return nil
}

// waitFor consumes buffered output up to and including the sentinel line
func (in *Injector) waitFor(ctx context.Context, sess *session.Session, suffix string) error {
	want := sess.Sentinel(suffix) + "\n"
	exit := sess.Sentinel(wire.SentinelExit)
	timeout := in.Wait.First
	for try := 0; ; try++ {
		if _, ok := in.Buffer.Until(want); ok {
			in.Trace.Printf("(got %s)", strings.TrimPrefix(suffix, "-"))
			return nil
		}
		if in.Buffer.Contains(exit) {
			in.Log.Debug("remote output before exit", "output", string(in.Buffer.Peek()))
			return fmt.Errorf("%w: %s exited before %s", serial.ErrBootstrap, in.Interpreter, strings.TrimPrefix(suffix, "-"))
		}
		if try == in.Wait.Tries {
			return fmt.Errorf("%w: no %s sentinel after %d reads", serial.ErrProtocol, strings.TrimPrefix(suffix, "-"), in.Wait.Tries)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := in.Buffer.Fill(timeout)
		if err != nil {
			return fmt.Errorf("read serial: %w", err)
		}
		in.Trace.Data(raw)
		timeout = in.Wait.Next
	}
}
