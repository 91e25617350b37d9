/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	serial "github.com/allbin/go-portsh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available serial ports",
	Long: `List the serial ports on this system.

Real serial lines are listed (ttyUSB*, ttyACM*, ttyS*, ttyAMA* and other
platform UARTs); virtual consoles and pseudo terminals are not.

The table view also shows which process, if any, holds the port's lock
file, which is what makes exec and connect fail with "already in use".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := serial.ListPorts()
		if err != nil {
			return fmt.Errorf("listing ports: %w", err)
		}

		filterType := viper.GetString("filter")
		infos := filterPorts(ports, filterType)

		out := cmd.OutOrStdout()
		if len(infos) == 0 {
			if filterType != "" {
				fmt.Fprintf(out, "No serial ports found matching filter: %s\n", filterType)
			} else {
				fmt.Fprintln(out, "No serial ports found")
			}
			return nil
		}

		if viper.GetBool("table") {
			renderTable(out, infos)
		} else {
			for _, info := range infos {
				fmt.Fprintln(out, info.Path)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringP("filter", "f", "", "Filter by port type: usb, standard, arm, all")
	listCmd.Flags().BoolP("table", "t", false, "Display output in a styled table format")
}

// filterPorts looks up each port and keeps the ones of filterType
func filterPorts(ports []string, filterType string) []*serial.PortInfo {
	filterType = strings.ToLower(filterType)

	var infos []*serial.PortInfo
	for _, port := range ports {
		info, err := serial.GetPortInfo(port)
		if err != nil {
			logger.Debug("skipping port", "port", port, "error", err)
			continue
		}
		if matchesFilter(info.Name, filterType) {
			infos = append(infos, info)
		}
	}
	return infos
}

func matchesFilter(name, filterType string) bool {
	name = strings.ToLower(name)
	switch filterType {
	case "", "all":
		return true
	case "usb":
		return strings.HasPrefix(name, "ttyusb") || strings.HasPrefix(name, "ttyacm")
	case "standard":
		return strings.HasPrefix(name, "ttys") && !strings.HasPrefix(name, "ttysac")
	case "arm":
		return strings.HasPrefix(name, "ttyama")
	default:
		return false
	}
}

// renderTable renders the port list as a styled table
func renderTable(w io.Writer, infos []*serial.PortInfo) {
	fmt.Fprintf(w, "Found %d serial port(s):\n\n", len(infos))

	const (
		portWidth = 12
		descWidth = 24
		lockWidth = 10
	)

	renderer := lipgloss.NewRenderer(w)
	headerStyle := renderer.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("240"))
	lockedStyle := renderer.NewStyle().Foreground(lipgloss.Color("203"))

	header := fmt.Sprintf("%-*s %-*s %-*s",
		portWidth, "Port",
		descWidth, "Description",
		lockWidth, "Locked by")
	fmt.Fprintln(w, headerStyle.Render(header))

	for _, info := range infos {
		row := fmt.Sprintf("%-*s %-*s ",
			portWidth, info.Name,
			descWidth, info.Description)
		owner := "-"
		if info.LockedBy > 0 {
			owner = lockedStyle.Render("pid " + strconv.Itoa(info.LockedBy))
		}
		fmt.Fprintln(w, row+owner)
	}
}

