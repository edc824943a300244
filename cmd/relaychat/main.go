package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"relaychat/internal/config"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "relaychat",
		Short:         "Chat with a hosted model through a streaming relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")

	root.AddCommand(newServeCommand(), newChatCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(configPath, cmd.Flags())
}
