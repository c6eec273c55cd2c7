package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/permissionlesstech/meshcore/internal/config"
)

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Load and validate the configuration, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		fmt.Printf("config OK: max_peers=%d power_mode=%s device_name=%q\n",
			cfg.MaxPeers, cfg.PowerMode, cfg.DeviceName)
		return nil
	},
}
