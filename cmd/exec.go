/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	serial "github.com/allbin/go-portsh"
	"github.com/allbin/go-portsh/internal/logging"
	"github.com/allbin/go-portsh/internal/session"
	"github.com/allbin/go-portsh/internal/shell"
	"github.com/allbin/go-portsh/internal/wire"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// execCmd represents the exec command
var execCmd = &cobra.Command{
	Use:   "exec <tty> <command...>",
	Short: "Run a command on the device at the other end of the line",
	Long: `Log in to the shell on the other end of a serial line and run one command.

portsh gets the remote end to a shell prompt (answering login: and
Password: prompts if asked), starts a small Python helper there and runs
the command under it. Local stdin is sent to the command, its stdout and
stderr come back separately, and portsh exits with the command's status.

The remote side needs a Python 3 interpreter, see --interpreter.

Examples:
  portsh exec ttyUSB0 uname -a
  portsh exec -u admin -p secret /dev/ttyS0 cat /proc/cpuinfo
  tar cz src | portsh exec ttyUSB0 'tar xz -C /tmp'

Exit status is the remote command's, or: 78 bad configuration, 75 device
locked, 76 protocol failure, 70 remote error, 74 I/O error.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runExec,
}

func init() {
	rootCmd.AddCommand(execCmd)

	// Everything after the tty belongs to the remote command.
	execCmd.Flags().SetInterspersed(false)

	execCmd.Flags().IntP("speed", "s", 115200, "the baud rate to use")
	execCmd.Flags().BoolP("trace", "t", false, "show serial port trace on stderr")
	execCmd.Flags().StringP("user", "u", "root", "response to 'login:' prompt")
	execCmd.Flags().StringP("password", "p", "", "response to 'Password:' prompt")
	execCmd.Flags().String("interpreter", shell.DefaultInterpreter, "remote Python 3 interpreter")
}

func runExec(cmd *cobra.Command, args []string) error {
	tracer := logging.NewTracer(os.Stderr, viper.GetBool("trace"))
	command := strings.Join(args[1:], " ")

	port, err := openPort(args[0], serial.WithBaudRate(viper.GetInt("speed")))
	if err != nil {
		return err
	}
	defer closePort(port)

	// Interrupts only abort the setup; once the command runs, local EOF
	// is the only way to end it early.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess := session.New(tracer)
	log := logger.With("device", port.Name(), "session", sess.Token)

	// Drop whatever the device printed before we were listening.
	if err := port.FlushInput(); err != nil {
		log.Warn("flushing stale input", "error", err)
	}

	negotiator := shell.NewNegotiator(port, sess, viper.GetString("user"), viper.GetString("password"))
	negotiator.Log = log
	if err := negotiator.Negotiate(ctx); err != nil {
		return err
	}
	sess.Prompted = true

	buf := wire.NewReadBuffer(port, tracer)
	injector := shell.NewInjector(port, buf, tracer)
	injector.Interpreter = viper.GetString("interpreter")
	injector.Log = log
	if err := injector.Inject(ctx, sess, shell.Stage(), command); err != nil {
		return err
	}
	stop()

	fwd := &session.Forwarder{
		Session: sess,
		Line:    port,
		Buffer:  buf,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Log:     log,
	}
	code, err := fwd.Run()
	if err != nil {
		return err
	}
	log.Debug("remote command exited", "status", code)
	if code != 0 {
		return &exitStatus{code: code}
	}
	return nil
}
