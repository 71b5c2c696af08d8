package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initSocketURL string

func init() {
	initCmd.Flags().StringVar(&initSocketURL, "socket-url", "", "Websocket endpoint for realtime chat")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <base-url>",
	Short: "Store endpoints in ~/.teelink/config.toml",
	Long:  "Initialize the TeeLink CLI by storing the API base URL (and optionally the socket endpoint) in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Default.BaseURL = args[0]
		if initSocketURL != "" {
			cfg.Default.SocketURL = initSocketURL
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Configuration saved to %s\n", path)
		return nil
	},
}
