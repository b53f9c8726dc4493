// File: cmd/settings.go
package cmd

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/automate-cli/internal/config"
	"github.com/xkilldash9x/automate-cli/internal/observability"
	"github.com/xkilldash9x/automate-cli/internal/settings"
)

const connectionTestTimeout = 15 * time.Second

func openSettings(cfg config.Interface) (*settings.FileStore, error) {
	return settings.NewFileStore(cfg.Settings().Path, observability.GetLogger())
}

// newSettingsCmd manages the persisted model endpoint settings. client is used
// by the connection test.
func newSettingsCmd(client *http.Client) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Shows and edits the saved model endpoint settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Prints the saved settings with the API key masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			store, err := openSettings(cfg)
			if err != nil {
				return err
			}
			s, err := store.Load()
			if err != nil {
				return err
			}
			printSettings(cmd.OutOrStdout(), store.Path(), s)
			return nil
		},
	}

	var apiKey, baseURL, model string
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Updates the saved settings",
		Long:  "Set merges the given flags onto the saved settings, validates the result and writes it back.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("api-key") && !cmd.Flags().Changed("base-url") && !cmd.Flags().Changed("model") {
				return fmt.Errorf("nothing to set: pass at least one of --api-key, --base-url or --model")
			}
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			store, err := openSettings(cfg)
			if err != nil {
				return err
			}
			s, err := store.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("api-key") {
				s.APIKey = apiKey
			}
			if cmd.Flags().Changed("base-url") {
				s.BaseURL = baseURL
			}
			if cmd.Flags().Changed("model") {
				s.Model = model
			}
			if err := store.Save(s); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Settings saved.")
			return nil
		},
	}
	setCmd.Flags().StringVar(&apiKey, "api-key", "", "API key of the OpenAI-compatible endpoint")
	setCmd.Flags().StringVar(&baseURL, "base-url", "", "Base URL of the OpenAI-compatible endpoint")
	setCmd.Flags().StringVar(&model, "model", "", "Model name")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Deletes the saved settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			store, err := openSettings(cfg)
			if err != nil {
				return err
			}
			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Settings cleared.")
			return nil
		},
	}

	testCmd := &cobra.Command{
		Use:   "test",
		Short: "Checks that the saved endpoint accepts the saved API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			store, err := openSettings(cfg)
			if err != nil {
				return err
			}
			s, err := store.Load()
			if err != nil {
				return err
			}
			if err := settings.TestConnection(cmd.Context(), client, s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Connection to %s succeeded.\n", s.BaseURL)
			return nil
		},
	}

	settingsCmd.AddCommand(showCmd, setCmd, clearCmd, testCmd)
	return settingsCmd
}

func printSettings(out io.Writer, path string, s settings.Settings) {
	key := s.MaskedAPIKey()
	if key == "" {
		key = "(not set)"
	}
	fmt.Fprintf(out, "File:     %s\n", path)
	fmt.Fprintf(out, "API key:  %s\n", key)
	fmt.Fprintf(out, "Base URL: %s\n", s.BaseURL)
	fmt.Fprintf(out, "Model:    %s\n", s.Model)
}
