package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/inkframe/internal/config"
	"github.com/danmuck/inkframe/internal/logging"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logging.ConfigureRuntime()
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "inkclient: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "inkclient",
		Short: "E-paper frame client",
		Long: `inkclient receives framed display updates over a WebSocket,
decodes them against the panel frame buffer and answers each packet
with an ACK or NAK.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.toml (built-in defaults when empty)")

	load := func() (config.Config, error) {
		return loadConfig(configPath)
	}
	root.AddCommand(
		runCmd(load),
		replayCmd(load),
		configCmd(),
		versionCmd(),
	)
	return root
}

func loadConfig(path string) (config.Config, error) {
	if strings.TrimSpace(path) == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
