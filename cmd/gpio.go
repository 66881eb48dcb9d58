package cmd

import (
	"fmt"

	"github.com/sergev/tmcl/tmcl"

	"github.com/spf13/cobra"
)

var allPorts bool

// portArg returns the port given on the command line, or AllPorts with --all
func portArg(args []string) (uint8, error) {
	if allPorts {
		return tmcl.AllPorts, nil
	}
	if len(args) == 0 {
		return 0, fmt.Errorf("port number or --all required")
	}
	return parseByte("port", args[0])
}

var gpioCmd = &cobra.Command{
	Use:   "gpio",
	Short: "Read inputs or set outputs",
	Long: `Access the I/O ports of the module.
Bank 0: digital inputs (ENABLE is port 10)
Bank 1: analog inputs
Bank 2: digital outputs
With --all, digital banks are read or written as a bit vector.`,
}

var gpioGetCmd = &cobra.Command{
	Use:   "get BANK [PORT]",
	Short: "Read a port",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		bank, err := parseByte("bank", args[0])
		cobra.CheckErr(err)
		port, err := portArg(args[1:])
		cobra.CheckErr(err)

		value := wait(cmd.Context(), connect().GetIO(port, bank))
		if port == tmcl.AllPorts {
			fmt.Printf("Bank %d = %#b\n", bank, value)
		} else {
			fmt.Printf("Bank %d port %d = %d\n", bank, port, value)
		}
	},
}

var gpioSetCmd = &cobra.Command{
	Use:   "set BANK [PORT] LEVEL",
	Short: "Set an output",
	Args:  cobra.RangeArgs(2, 3),
	Run: func(cmd *cobra.Command, args []string) {
		bank, err := parseByte("bank", args[0])
		cobra.CheckErr(err)
		port, err := portArg(args[1 : len(args)-1])
		cobra.CheckErr(err)
		level, err := parseValue(args[len(args)-1])
		cobra.CheckErr(err)

		wait(cmd.Context(), connect().SetIO(port, bank, level))
		if port == tmcl.AllPorts {
			fmt.Printf("Bank %d set to %#b\n", bank, level)
		} else {
			fmt.Printf("Bank %d port %d set to %d\n", bank, port, level)
		}
	},
}

func init() {
	gpioCmd.PersistentFlags().BoolVarP(&allPorts, "all", "a", false, "all ports of the bank")

	gpioCmd.AddCommand(gpioGetCmd)
	gpioCmd.AddCommand(gpioSetCmd)
	rootCmd.AddCommand(gpioCmd)
}
