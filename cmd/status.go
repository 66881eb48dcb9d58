package cmd

import (
	"fmt"

	"github.com/sergev/tmcl/config"
	"github.com/sergev/tmcl/tmcl"

	"github.com/spf13/cobra"
)

// CMD_FIRMWARE is the TMCL command returning the firmware version
const CMD_FIRMWARE = 136

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the module firmware and configuration",
	Long:  "Query the firmware version of the module and print the selected configuration.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		d := connect()

		// Type 1 returns the version in binary form
		version := wait(cmd.Context(), d.Submit(tmcl.Request{Command: CMD_FIRMWARE, Type: 1}))
		fmt.Printf("Module: TMCM-%d, firmware %d.%d\n", uint32(version)>>16, uint8(version>>8), uint8(version))

		dev := config.Selected
		adapterName := dev.Adapter
		if adapterName == "" {
			adapterName = "auto-detect"
		}
		fmt.Printf("\nConfiguration file: %s\n", config.Path)
		fmt.Printf("Device: %s\n", config.DeviceName)
		fmt.Printf("Adapter: %s %s\n", adapterName, dev.Port)
		fmt.Printf("Bitrate: %d\n", dev.Bitrate)
		fmt.Printf("CAN ids: module %d, reply %d\n", dev.DeviceID, dev.ReplyID)
		fmt.Printf("Timeouts: %v, motion %v\n", dev.Timeout(), dev.MotionTimeout())
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
