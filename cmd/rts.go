/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"strings"

	serial "github.com/allbin/go-portsh"
	"github.com/spf13/cobra"
)

// rtsCmd represents the rts command
var rtsCmd = &cobra.Command{
	Use:   "rts <tty> <state>",
	Short: "Control RTS (Request To Send) signal",
	Long: `Manually set the RTS (Request To Send) signal state.

Examples:
  portsh rts /dev/ttyUSB0 high
  portsh rts ttyUSB0 low

Valid states: high, low, on, off, true, false, 1, 0`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSignal(cmd, args[0], args[1], "RTS", signalRTS)
	},
}

// signalLine sets and reads back one modem control output
type signalLine struct {
	set func(serial.Port, bool) error
	get func(serial.Port) (bool, error)
}

var (
	signalRTS = signalLine{
		set: func(p serial.Port, s bool) error { return p.SetRTS(s) },
		get: func(p serial.Port) (bool, error) { return p.GetRTS() },
	}
	signalDTR = signalLine{
		set: func(p serial.Port, s bool) error { return p.SetDTR(s) },
		get: func(p serial.Port) (bool, error) { return p.GetDTR() },
	}
)

func setSignal(cmd *cobra.Command, device, stateArg, name string, line signalLine) error {
	state, err := parseSignalState(stateArg)
	if err != nil {
		return err
	}

	port, err := openPort(device)
	if err != nil {
		return err
	}
	defer closePort(port)

	if err := line.set(port, state); err != nil {
		return fmt.Errorf("setting %s: %w", name, err)
	}

	// Verify the state was set
	current, err := line.get(port)
	if err != nil {
		logger.Warn("could not verify signal state", "signal", name, "error", err)
		current = state
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s set to %s on %s\n", name, formatSignalState(current), port.Name())
	return nil
}

func parseSignalState(state string) (bool, error) {
	switch strings.ToLower(state) {
	case "high", "on", "true", "1":
		return true, nil
	case "low", "off", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("%w: invalid state: %s (valid: high, low, on, off, true, false, 1, 0)", serial.ErrInvalidConfig, state)
	}
}

func init() {
	rootCmd.AddCommand(rtsCmd)
}
