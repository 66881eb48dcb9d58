package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sergev/tmcl/adapter"
	"github.com/sergev/tmcl/config"
	_ "github.com/sergev/tmcl/gsusb"
	_ "github.com/sergev/tmcl/slcan"
	_ "github.com/sergev/tmcl/socketcan"
	"github.com/sergev/tmcl/tmcl"

	"github.com/spf13/cobra"
)

var (
	configFile string
	deviceName string
	verbose    bool

	driver *tmcl.Driver
)

var rootCmd = &cobra.Command{
	Use:   "tmcl",
	Short: "A CLI program which controls TMCL stepper motor modules over CAN",
	Long: `The tmcl tool controls Trinamic TMCM stepper motor modules in TMCL direct mode
over a CAN bus, through SocketCAN, an slcan serial adapter or a candleLight USB adapter.`,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := config.Initialize(configFile, deviceName)
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to initialize config: %w", err))
		}
		setupLogger()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if driver != nil {
			driver.Close()
			driver = nil
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "configuration file (default ~/.tmcl)")
	rootCmd.PersistentFlags().StringVarP(&deviceName, "device", "d", "", "device entry of the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every CAN frame")
}

// setupLogger sends library logs to stderr at the configured level
func setupLogger() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(config.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// connect opens the CAN adapter and starts the driver for the selected device
func connect() *tmcl.Driver {
	dev := config.Selected
	bus, err := adapter.Open(dev)
	if err != nil {
		cobra.CheckErr(fmt.Errorf("failed to open CAN adapter: %w", err))
	}

	driver = tmcl.NewDriver(bus, uint8(dev.DeviceID), tmcl.Options{
		ReplyID:       uint32(dev.ReplyID),
		Extended:      dev.Extended,
		Timeout:       dev.Timeout(),
		MotionTimeout: dev.MotionTimeout(),
		Logger:        slog.Default(),
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "tmcl: %v\n", err)
		},
	})
	return driver
}

// wait blocks for the result of a call, or until the command is interrupted
func wait(ctx context.Context, call *tmcl.Call) int32 {
	value, err := call.Wait(ctx)
	if err != nil {
		cobra.CheckErr(fmt.Errorf("%s failed: %w", commandName(call.Request.Command), err))
	}
	return value
}

// commandName returns the TMCL mnemonic of a command
func commandName(command uint8) string {
	switch command {
	case tmcl.CMD_ROR:
		return "ROR"
	case tmcl.CMD_ROL:
		return "ROL"
	case tmcl.CMD_MST:
		return "MST"
	case tmcl.CMD_MVP:
		return "MVP"
	case tmcl.CMD_SAP:
		return "SAP"
	case tmcl.CMD_GAP:
		return "GAP"
	case tmcl.CMD_STAP:
		return "STAP"
	case tmcl.CMD_SGP:
		return "SGP"
	case tmcl.CMD_GGP:
		return "GGP"
	case tmcl.CMD_RFS:
		return "RFS"
	case tmcl.CMD_SIO:
		return "SIO"
	case tmcl.CMD_GIO:
		return "GIO"
	}
	return "command " + strconv.Itoa(int(command))
}

// parseMotor parses a motor number
func parseMotor(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil || v >= tmcl.NumMotors {
		return 0, fmt.Errorf("invalid motor %q: must be 0..%d", s, tmcl.NumMotors-1)
	}
	return uint8(v), nil
}

// parseByte parses a parameter, port or bank number
func parseByte(what, s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be 0..255", what, s)
	}
	return uint8(v), nil
}

// parseValue parses a 32-bit command value
func parseValue(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	return int32(v), nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.CheckErr(rootCmd.ExecuteContext(ctx))
}
