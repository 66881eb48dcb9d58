package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var storeParam bool

var axisCmd = &cobra.Command{
	Use:   "axis",
	Short: "Read or write axis parameters",
}

var axisGetCmd = &cobra.Command{
	Use:   "get MOTOR PARAM",
	Short: "Read an axis parameter",
	Long:  "Read an axis parameter, for example 1 for the actual position or 3 for the actual speed.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		motor, err := parseMotor(args[0])
		cobra.CheckErr(err)
		param, err := parseByte("parameter", args[1])
		cobra.CheckErr(err)

		value := wait(cmd.Context(), connect().GetAxisParameter(motor, param))
		fmt.Printf("Motor %d parameter %d = %d\n", motor, param, value)
	},
}

var axisSetCmd = &cobra.Command{
	Use:   "set MOTOR PARAM VALUE",
	Short: "Write an axis parameter",
	Long:  "Write an axis parameter; with --store also save it in the module EEPROM.",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		motor, err := parseMotor(args[0])
		cobra.CheckErr(err)
		param, err := parseByte("parameter", args[1])
		cobra.CheckErr(err)
		value, err := parseValue(args[2])
		cobra.CheckErr(err)

		d := connect()
		wait(cmd.Context(), d.SetAxisParameter(motor, param, value))
		fmt.Printf("Motor %d parameter %d set to %d\n", motor, param, value)
		if storeParam {
			wait(cmd.Context(), d.StoreAxisParameter(motor, param))
			fmt.Printf("Stored in EEPROM\n")
		}
	},
}

var globalCmd = &cobra.Command{
	Use:   "global",
	Short: "Read or write global parameters of bank 0",
}

var globalGetCmd = &cobra.Command{
	Use:   "get PARAM",
	Short: "Read a global parameter",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		param, err := parseByte("parameter", args[0])
		cobra.CheckErr(err)

		value := wait(cmd.Context(), connect().GetGlobalParameter(param))
		fmt.Printf("Global parameter %d = %d\n", param, value)
	},
}

var globalSetCmd = &cobra.Command{
	Use:   "set PARAM VALUE",
	Short: "Write a global parameter",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		param, err := parseByte("parameter", args[0])
		cobra.CheckErr(err)
		value, err := parseValue(args[1])
		cobra.CheckErr(err)

		wait(cmd.Context(), connect().SetGlobalParameter(param, value))
		fmt.Printf("Global parameter %d set to %d\n", param, value)
	},
}

func init() {
	axisSetCmd.Flags().BoolVarP(&storeParam, "store", "s", false, "save the parameter in EEPROM")

	axisCmd.AddCommand(axisGetCmd)
	axisCmd.AddCommand(axisSetCmd)
	globalCmd.AddCommand(globalGetCmd)
	globalCmd.AddCommand(globalSetCmd)
	rootCmd.AddCommand(axisCmd)
	rootCmd.AddCommand(globalCmd)
}
