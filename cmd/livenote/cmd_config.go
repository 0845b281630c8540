package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var configShowSecrets bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change vault settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set [name] [value]",
	Short: "Change one setting and save it",
	Long: `Settings:
  theme                  auto, dark or light
  math                   on or off (MathJax typesetting on composed pages)
  market.cache_backend   files or sqlite
  server.addr            listen address of livenote serve`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

func init() {
	configShowCmd.Flags().BoolVar(&configShowSecrets, "show-secrets", false, "Print provider keys unmasked")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	shown := *cfg
	if !configShowSecrets {
		shown.Market.PrimaryAPIKey = mask(shown.Market.PrimaryAPIKey)
		shown.Market.SecondaryAPIKey = mask(shown.Market.SecondaryAPIKey)
	}
	data, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	cmd.Printf("# %s\n%s", configPath, data)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	if err := cfg.Set(args[0], args[1]); err != nil {
		return err
	}
	if err := cfg.Save(configPath); err != nil {
		return err
	}
	logger.Debug("setting saved", zap.String("name", args[0]), zap.String("path", configPath))
	cmd.Printf("%s = %s\n", args[0], args[1])
	return nil
}

func mask(key string) string {
	if len(key) <= 4 {
		if key == "" {
			return ""
		}
		return "****"
	}
	return "****" + key[len(key)-4:]
}
