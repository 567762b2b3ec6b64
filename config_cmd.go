package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Long: `Print the configuration osf-sync actually resolved for this invocation:
the config file's values layered with any --config, --root, and environment
overrides.`,
		RunE: runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(cc.Cfg); err != nil {
			return fmt.Errorf("config show: encoding JSON: %w", err)
		}

		return nil
	}

	enc := toml.NewEncoder(os.Stdout)
	if err := enc.Encode(cc.Cfg); err != nil {
		return fmt.Errorf("config show: encoding TOML: %w", err)
	}

	return nil
}
