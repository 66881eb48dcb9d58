package cmd

import (
	"fmt"

	"github.com/sergev/tmcl/adapter"

	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports and supported CAN adapters",
	Long:  "List serial ports with their USB identifiers, marking the ones with a supported slcan adapter.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ports, err := enumerator.GetDetailedPortsList()
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to list serial ports: %w", err))
		}
		if len(ports) == 0 {
			fmt.Printf("No serial ports found\n")
		}
		for _, port := range ports {
			if !port.IsUSB {
				fmt.Printf("%s\n", port.Name)
				continue
			}
			fmt.Printf("%s  %s:%s", port.Name, port.VID, port.PID)
			if port.SerialNumber != "" {
				fmt.Printf("  serial %s", port.SerialNumber)
			}
			if name := adapter.PortAdapter(port); name != "" {
				fmt.Printf("  [%s]", name)
			}
			fmt.Printf("\n")
		}

		fmt.Printf("\nSupported adapters:\n")
		for _, info := range adapter.Adapters() {
			switch {
			case info.USB:
				fmt.Printf("    %-10s USB device %04x:%04x\n", info.Name, info.VendorID, info.ProductID)
			case info.VendorID != 0 || info.ProductID != 0:
				fmt.Printf("    %-10s serial port %04x:%04x\n", info.Name, info.VendorID, info.ProductID)
			default:
				fmt.Printf("    %-10s network interface\n", info.Name)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
