package cmd

import (
	"fmt"
	"log/slog"

	"github.com/sergev/tmcl/bridge"
	"github.com/sergev/tmcl/config"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept commands from an MQTT broker",
	Long: `Connect to the MQTT broker of the configuration file and run JSON commands
received on <topic>/cmd, publishing results on <topic>/reply, until interrupted.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		d := connect()
		b := bridge.New(d, bridge.Config{
			Broker:   config.MQTT.Broker,
			ClientID: config.MQTT.ClientID,
			Topic:    config.MQTT.Topic,
			Logger:   slog.Default(),
		})
		cobra.CheckErr(b.Start())
		fmt.Printf("Serving device %q on %s, topic %s/cmd\n", config.DeviceName, config.MQTT.Broker, config.MQTT.Topic)

		<-cmd.Context().Done()
		b.Stop()
		fmt.Printf("\nStopped\n")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
