// internal/settings/settings.go
package settings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/automate-cli/internal/config"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o"
)

// ErrInvalidSettings is returned by Validate.
var ErrInvalidSettings = errors.New("invalid settings")

// Settings is the persisted model endpoint configuration.
type Settings struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Defaults returns the settings of a fresh install.
func Defaults() Settings {
	return Settings{BaseURL: DefaultBaseURL, Model: DefaultModel}
}

// Validate requires every field and an absolute http(s) base URL.
func (s Settings) Validate() error {
	var missing []string
	if strings.TrimSpace(s.APIKey) == "" {
		missing = append(missing, "api_key")
	}
	if strings.TrimSpace(s.BaseURL) == "" {
		missing = append(missing, "base_url")
	}
	if strings.TrimSpace(s.Model) == "" {
		missing = append(missing, "model")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidSettings, strings.Join(missing, ", "))
	}

	u, err := url.Parse(s.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: base_url must be an absolute http(s) URL", ErrInvalidSettings)
	}
	return nil
}

// MaskedAPIKey shows only the last four characters of the key.
func (s Settings) MaskedAPIKey() string {
	if len(s.APIKey) <= 4 {
		return strings.Repeat("*", len(s.APIKey))
	}
	return strings.Repeat("*", len(s.APIKey)-4) + s.APIKey[len(s.APIKey)-4:]
}

// Apply fills the OpenAI-compatible model configuration from the settings.
// Values already present in cfg come from flags, env or the config file and win.
// Other providers are configured only through cfg.
func (s Settings) Apply(cfg config.LLMConfig) config.LLMConfig {
	if cfg.Provider != config.ProviderOpenAI {
		return cfg
	}
	if cfg.APIKey == "" {
		cfg.APIKey = s.APIKey
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = s.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = s.Model
	}
	return cfg
}

// FileStore keeps Settings in a YAML file readable only by its owner.
type FileStore struct {
	path   string
	logger *zap.Logger
}

// NewFileStore creates a store at path. A leading ~ expands to the home directory.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("settings path is required")
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand settings path %q: %w", path, err)
	}
	return &FileStore{path: expanded, logger: logger.Named("settings")}, nil
}

// Path is the resolved location of the settings file.
func (f *FileStore) Path() string { return f.path }

// Load reads the settings. A missing file yields Defaults, and empty fields
// in an existing file fall back to the default base URL and model.
func (f *FileStore) Load() (Settings, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.logger.Debug("No settings file, using defaults", zap.String("path", f.path))
		return Defaults(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings %s: %w", f.path, err)
	}
	if s.BaseURL == "" {
		s.BaseURL = DefaultBaseURL
	}
	if s.Model == "" {
		s.Model = DefaultModel
	}
	return s, nil
}

// Save validates s and replaces the settings file atomically.
func (f *FileStore) Save(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temporary settings file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict settings permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}

	f.logger.Info("Settings saved", zap.String("path", f.path), zap.String("model", s.Model), zap.String("base_url", s.BaseURL))
	return nil
}

// Clear deletes the settings file. Clearing absent settings is not an error.
func (f *FileStore) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove settings: %w", err)
	}
	f.logger.Info("Settings cleared", zap.String("path", f.path))
	return nil
}

// TestConnection lists the models of the endpoint to check the base URL and key.
func TestConnection(ctx context.Context, client *http.Client, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if client == nil {
		client = http.DefaultClient
	}

	endpoint := strings.TrimRight(s.BaseURL, "/") + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.APIKey)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("connection to %s failed: %w", s.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("connection test failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
