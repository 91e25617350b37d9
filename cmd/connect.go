/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"os"

	serial "github.com/allbin/go-portsh"
	"github.com/allbin/go-portsh/internal/session"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect <tty>",
	Short: "Connect the terminal to a serial port",
	Long: `Connect the local terminal directly to a serial port.

Every key is sent to the line as typed and everything received is written
to the terminal unchanged. Changes in the modem control lines are reported
as they happen.

At the start of a line:
  ~. or !.   disconnect
  ~b         send a BREAK

Devices with poor flow control can be fed more slowly with --limit, which
caps the upload rate in bits per second (0 for no cap).

Examples:
  portsh connect ttyUSB0
  portsh connect -s 9600 -l 2400 /dev/ttyS0`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		speed := viper.GetInt("speed")
		delay, err := session.ByteDelay(viper.GetInt("limit"), speed)
		if err != nil {
			return err
		}

		port, err := openPort(args[0], serial.WithBaudRate(speed))
		if err != nil {
			return err
		}
		defer closePort(port)

		fd := int(os.Stdin.Fd())
		if term.IsTerminal(fd) {
			state, err := term.MakeRaw(fd)
			if err != nil {
				return err
			}
			defer func() {
				if err := term.Restore(fd, state); err != nil {
					logger.Warn("restoring terminal", "error", err)
				}
			}()
		}

		pt := &session.Passthrough{
			Port:   port,
			Stdin:  os.Stdin,
			Stdout: os.Stdout,
			Log:    logger.With("device", port.Name()),
			Delay:  delay,
		}
		return pt.Run()
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)

	connectCmd.Flags().IntP("speed", "s", 115200, "the baud rate to use")
	connectCmd.Flags().IntP("limit", "l", 9600, "maximum upload rate in bits per second")
}
