package cmd

import (
	"fmt"
	"os"

	cfgpkg "github.com/KaramelBytes/dataforge-cli/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or set Data Forge configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, l := range effectiveConfig().Lines() {
			fmt.Fprintln(cmd.OutOrStdout(), l)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value and save to disk",
	Long: `Set validates and saves one key. Use datasets.<name> to add a dataset that
the shell connects at startup, and an empty value to remove it:

  dataforge config set datasets.cars data/cars.csv
  dataforge config set datasets.cars ""`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]
		// Start from the file (plus env), not from flag overrides.
		c, err := cfgpkg.Load(cfgFile)
		if err != nil {
			// A new --config file starts from the defaults.
			if _, statErr := os.Stat(cfgFile); cfgFile == "" || !os.IsNotExist(statErr) {
				return err
			}
			c = cfgpkg.Defaults()
		}
		if err := c.Set(key, val); err != nil {
			return err
		}
		if err := cfgpkg.Save(c, cfgFile); err != nil {
			return err
		}
		cfg = c
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Saved %s\n", key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
