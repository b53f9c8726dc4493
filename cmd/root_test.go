// File: cmd/root_test.go
package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/automate-cli/internal/config"
)

// captureRunConfig replaces the run command's RunE so the test can observe
// the configuration the root command resolved.
func captureRunConfig(t *testing.T, root *cobra.Command) **config.Config {
	t.Helper()
	var captured *config.Config
	runCmd, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	runCmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfigFromContext(cmd.Context())
		captured = cfg
		return err
	}
	return &captured
}

func executeRoot(root *cobra.Command, args ...string) (string, error) {
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_VersionFlag(t *testing.T) {
	resetForTest(t)
	out, err := executeRoot(NewRootCommand(), "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestRootCmd_VersionCommandNeedsNoConfig(t *testing.T) {
	resetForTest(t)
	t.Setenv("AUTOMATE_LLM_PROVIDER", "not-a-provider")
	out, err := executeRoot(NewRootCommand(), "version")
	require.NoError(t, err)
	assert.Equal(t, "automate "+Version+"\n", out)
}

func TestRootCmd_RegistersCommands(t *testing.T) {
	root := NewRootCommand()
	for _, name := range []string{"run", "settings", "device", "history", "version"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestRootCmd_ConfigPrecedence(t *testing.T) {
	configFile := createTempConfig(t, `
llm:
  provider: ollama
  model: llava
device:
  driver: simulated
`)

	t.Run("config file", func(t *testing.T) {
		resetForTest(t)
		root := NewRootCommand()
		captured := captureRunConfig(t, root)

		_, err := executeRoot(root, "--config", configFile, "run", "open settings")
		require.NoError(t, err)
		require.NotNil(t, *captured)
		assert.Equal(t, config.ProviderOllama, (*captured).LLM().Provider)
		assert.Equal(t, "llava", (*captured).LLM().Model)
		assert.Equal(t, config.DriverSimulated, (*captured).Device().Driver)
	})

	t.Run("environment beats config file", func(t *testing.T) {
		resetForTest(t)
		t.Setenv("AUTOMATE_LLM_MODEL", "llama3.2-vision")
		root := NewRootCommand()
		captured := captureRunConfig(t, root)

		_, err := executeRoot(root, "--config", configFile, "run", "open settings")
		require.NoError(t, err)
		assert.Equal(t, "llama3.2-vision", (*captured).LLM().Model)
	})

	t.Run("flags beat everything", func(t *testing.T) {
		resetForTest(t)
		t.Setenv("AUTOMATE_LLM_MODEL", "llama3.2-vision")
		root := NewRootCommand()
		captured := captureRunConfig(t, root)

		_, err := executeRoot(root, "--config", configFile, "run", "--provider", "gemini", "--model", "gemini-2.5-flash", "--driver", "adb", "open settings")
		require.NoError(t, err)
		assert.Equal(t, config.ProviderGemini, (*captured).LLM().Provider)
		assert.Equal(t, "gemini-2.5-flash", (*captured).LLM().Model)
		assert.Equal(t, config.DriverADB, (*captured).Device().Driver)
	})

	t.Run("api key from environment", func(t *testing.T) {
		resetForTest(t)
		t.Setenv("OPENAI_API_KEY", "sk-from-env")
		root := NewRootCommand()
		captured := captureRunConfig(t, root)

		_, err := executeRoot(root, "--config", configFile, "run", "open settings")
		require.NoError(t, err)
		assert.Equal(t, "sk-from-env", (*captured).LLM().APIKey)
	})
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	resetForTest(t)
	configFile := createTempConfig(t, "llm:\n  provider: telepathy\n")

	_, err := executeRoot(NewRootCommand(), "--config", configFile, "settings", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load or validate config")
	assert.Contains(t, err.Error(), "telepathy")
}

func TestRootCmd_UnreadableConfig(t *testing.T) {
	resetForTest(t)
	configFile := createTempConfig(t, "llm: [unterminated")

	_, err := executeRoot(NewRootCommand(), "--config", configFile, "settings", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize configuration")
}

func TestGetConfigFromContext_Missing(t *testing.T) {
	_, err := getConfigFromContext(context.Background())
	assert.EqualError(t, err, "configuration not loaded")
}
