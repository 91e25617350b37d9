/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"

	serial "github.com/allbin/go-portsh"
	"github.com/spf13/cobra"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info <tty>",
	Short: "Display information about a serial port",
	Long: `Display information about a serial port and its lock file.

Examples:
  portsh info ttyUSB0
  portsh info /dev/ttyACM0`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := serial.GetPortInfo(args[0])
		if err != nil {
			return fmt.Errorf("getting port info: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Port Information: %s\n\n", info.Path)
		fmt.Fprintf(out, "  Name:        %s\n", info.Name)
		fmt.Fprintf(out, "  Description: %s\n", info.Description)
		fmt.Fprintf(out, "  Lock file:   %s\n", info.LockPath)
		if info.LockedBy > 0 {
			fmt.Fprintf(out, "  Locked by:   pid %d\n", info.LockedBy)
		} else {
			fmt.Fprintf(out, "  Locked by:   -\n")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
