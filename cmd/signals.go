/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// signalsCmd represents the signals command
var signalsCmd = &cobra.Command{
	Use:   "signals <tty>",
	Short: "Display current modem signal states",
	Long: `Display the current state of all modem control signals.

Shows the state of CTS, DSR, RI, DCD, RTS, and DTR signals for the specified port,
followed by the raw list of asserted lines as connect reports it.

Examples:
  portsh signals /dev/ttyUSB0
  portsh signals ttyACM0

Signal meanings:
  CTS - Clear To Send (input)
  DSR - Data Set Ready (input)
  RI  - Ring Indicator (input)
  DCD - Data Carrier Detect (input)
  RTS - Request To Send (output)
  DTR - Data Terminal Ready (output)`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := openPort(args[0])
		if err != nil {
			return err
		}
		defer closePort(port)

		signals, err := port.GetModemSignals()
		if err != nil {
			return fmt.Errorf("reading modem signals: %w", err)
		}
		status, err := port.LineStatus()
		if err != nil {
			return fmt.Errorf("reading line status: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Modem Signals for %s:\n\n", port.Name())
		fmt.Fprintf(out, "  CTS (Clear To Send):       %s\n", formatSignalState(signals.CTS))
		fmt.Fprintf(out, "  DSR (Data Set Ready):      %s\n", formatSignalState(signals.DSR))
		fmt.Fprintf(out, "  RI  (Ring Indicator):      %s\n", formatSignalState(signals.RI))
		fmt.Fprintf(out, "  DCD (Data Carrier Detect): %s\n", formatSignalState(signals.DCD))
		fmt.Fprintf(out, "  RTS (Request To Send):     %s\n", formatSignalState(signals.RTS))
		fmt.Fprintf(out, "  DTR (Data Terminal Ready): %s\n", formatSignalState(signals.DTR))
		fmt.Fprintf(out, "\nLine Status: %s\n", status)
		return nil
	},
}

func formatSignalState(state bool) string {
	if state {
		return "HIGH"
	}
	return "LOW"
}

func init() {
	rootCmd.AddCommand(signalsCmd)
}
