// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/automate-cli/internal/config"
	"github.com/xkilldash9x/automate-cli/internal/device"
	"github.com/xkilldash9x/automate-cli/internal/llmclient"
	"github.com/xkilldash9x/automate-cli/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

var cfgFile string

// flagBindings maps command line flags to the configuration keys they override.
var flagBindings = map[string]string{
	"driver":   "device.driver",
	"provider": "llm.provider",
	"model":    "llm.model",
	"serial":   "device.adb.serial",
}

// NewRootCommand builds the command tree. Each call returns an independent tree.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "automate",
		Short:         "Automate drives a handset with a language model.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			// 1. Read the config file, environment and flag overrides.
			if err := initializeConfig(cmd, v); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "automate"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			// 2. Build and validate the configuration object.
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "automate"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			// 3. Initialize the logger with the loaded config.
			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting automate", zap.String("version", Version))

			// 4. Hand the config to subcommands.
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	stores := NewStoreProvider()
	rootCmd.AddCommand(newRunCmd(runDeps{stores: stores, newDriver: device.New, newClient: llmclient.NewClient}))
	rootCmd.AddCommand(newSettingsCmd(&http.Client{Timeout: connectionTestTimeout}))
	rootCmd.AddCommand(newDeviceCmd(device.New))
	rootCmd.AddCommand(newHistoryCmd(stores))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the command tree with a signal-aware context.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			observability.GetLogger().Warn("Command aborted by user signal")
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
			observability.GetLogger().Debug("Command execution failed", zap.Error(err))
		}
	}
	observability.Sync()
	return err
}

// initializeConfig reads in config file and ENV variables if set, then binds
// the override flags defined on cmd.
func initializeConfig(cmd *cobra.Command, v *viper.Viper) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("AUTOMATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}

	for name, key := range flagBindings {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}
	return nil
}

func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}
