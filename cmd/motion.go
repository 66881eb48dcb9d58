package cmd

import (
	"errors"
	"fmt"

	"github.com/sergev/tmcl/tmcl"

	"github.com/spf13/cobra"
)

var (
	rotateLeft   bool
	moveRelative bool
	homeStatus   bool
	homeAbort    bool
)

var rotateCmd = &cobra.Command{
	Use:   "rotate MOTOR VELOCITY",
	Short: "Rotate a motor at constant velocity",
	Long:  "Start rotating the motor right (or left with --left) at the given velocity, in internal units.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		motor, err := parseMotor(args[0])
		cobra.CheckErr(err)
		velocity, err := parseValue(args[1])
		cobra.CheckErr(err)

		d := connect()
		direction := "right"
		if rotateLeft {
			direction = "left"
			wait(cmd.Context(), d.RotateLeft(motor, velocity))
		} else {
			wait(cmd.Context(), d.RotateRight(motor, velocity))
		}
		fmt.Printf("Motor %d rotating %s at velocity %d\n", motor, direction, velocity)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop MOTOR",
	Short: "Stop a motor",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		motor, err := parseMotor(args[0])
		cobra.CheckErr(err)

		wait(cmd.Context(), connect().Stop(motor))
		fmt.Printf("Motor %d stopped\n", motor)
	},
}

var moveCmd = &cobra.Command{
	Use:   "move MOTOR POSITION",
	Short: "Move a motor to a position",
	Long: `Move the motor to an absolute position, or by an offset with --relative,
and wait until the module reports the target position reached.
Interrupting the command stops the motor.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		motor, err := parseMotor(args[0])
		cobra.CheckErr(err)
		position, err := parseValue(args[1])
		cobra.CheckErr(err)

		d := connect()
		var call *tmcl.Call
		if moveRelative {
			call = d.MoveBy(motor, position)
		} else {
			call = d.MoveTo(motor, position)
		}
		if _, err := call.Wait(cmd.Context()); err != nil {
			if cmd.Context().Err() != nil {
				d.Stop(motor).Err()
				cobra.CheckErr(errors.New("move interrupted, motor stopped"))
			}
			cobra.CheckErr(fmt.Errorf("move failed: %w", err))
		}

		actual := wait(cmd.Context(), d.GetAxisParameter(motor, 1))
		fmt.Printf("Motor %d at position %d\n", motor, actual)
	},
}

var homeCmd = &cobra.Command{
	Use:   "home MOTOR",
	Short: "Run a reference search",
	Long: `Start the reference search of the motor and wait until it has finished.
With --status only print whether a search is active; with --abort stop it.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		motor, err := parseMotor(args[0])
		cobra.CheckErr(err)
		d := connect()

		switch {
		case homeStatus:
			status := wait(cmd.Context(), d.ReferenceSearchStatus(motor))
			if status == 0 {
				fmt.Printf("Motor %d: no reference search active\n", motor)
			} else {
				fmt.Printf("Motor %d: reference search active (status %d)\n", motor, status)
			}
		case homeAbort:
			wait(cmd.Context(), d.StopReferenceSearch(motor))
			fmt.Printf("Motor %d: reference search stopped\n", motor)
		default:
			fmt.Printf("Motor %d: searching reference...\n", motor)
			if _, err := d.ReferenceSearch(motor).Wait(cmd.Context()); err != nil {
				if cmd.Context().Err() != nil {
					d.StopReferenceSearch(motor).Err()
					cobra.CheckErr(errors.New("reference search interrupted and stopped"))
				}
				cobra.CheckErr(fmt.Errorf("reference search failed: %w", err))
			}
			fmt.Printf("Motor %d: reference search done\n", motor)
		}
	},
}

func init() {
	rotateCmd.Flags().BoolVarP(&rotateLeft, "left", "l", false, "rotate left")
	moveCmd.Flags().BoolVarP(&moveRelative, "relative", "r", false, "move by an offset from the current target")
	homeCmd.Flags().BoolVar(&homeStatus, "status", false, "print the reference search status")
	homeCmd.Flags().BoolVar(&homeAbort, "abort", false, "stop a running reference search")
	homeCmd.MarkFlagsMutuallyExclusive("status", "abort")

	rootCmd.AddCommand(rotateCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(homeCmd)
}
