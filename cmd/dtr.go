/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"github.com/spf13/cobra"
)

// dtrCmd represents the dtr command
var dtrCmd = &cobra.Command{
	Use:   "dtr <tty> <state>",
	Short: "Control DTR (Data Terminal Ready) signal",
	Long: `Manually set the DTR (Data Terminal Ready) signal state.

Many boards wire DTR to reset or boot-mode pins, so toggling it is a cheap
way to power cycle a device before running exec against it.

Examples:
  portsh dtr /dev/ttyUSB0 high
  portsh dtr ttyUSB0 off

Valid states: high, low, on, off, true, false, 1, 0`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSignal(cmd, args[0], args[1], "DTR", signalDTR)
	},
}

func init() {
	rootCmd.AddCommand(dtrCmd)
}
