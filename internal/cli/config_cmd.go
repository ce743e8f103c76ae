package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the active configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for unusable values",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.Validate(); err != nil {
				return err
			}
			root.printf("configuration OK\n")
			return nil
		},
	})
	return cmd
}

func (r *Root) configShow() error {
	cfgPath := os.Getenv("PANOSTITCH_CONFIG")
	if cfgPath == "" {
		cfgPath = "(default) ~/.config/panostitch/config.json"
	}
	r.printf("Config file: %s\n", cfgPath)

	shown := *r.cfg
	if shown.Server.JWTSecret != "" {
		shown.Server.JWTSecret = "********"
	}
	enc := json.NewEncoder(r.stdout())
	enc.SetIndent("", "  ")
	return enc.Encode(shown)
}
