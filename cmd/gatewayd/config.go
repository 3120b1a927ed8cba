package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nodeway/gatewayd/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or validate the gateway configuration",
	}
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the config file and report any errors",
		Run: func(cmd *cobra.Command, args []string) {
			path := resolveConfigPath()
			cfg, err := config.Load(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
				os.Exit(1)
			}
			switch cfg.Auth.Mode {
			case "legacy", "ed25519", "dual":
			default:
				fmt.Fprintf(os.Stderr, "config invalid: unknown auth.mode %q\n", cfg.Auth.Mode)
				os.Exit(1)
			}
			fmt.Printf("config OK (%s): port=%d authMode=%s hash=%s\n", path, cfg.Port, cfg.Auth.Mode, cfg.Hash())
		},
	}
}
