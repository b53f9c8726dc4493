// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	LLM() LLMConfig
	Device() DeviceConfig
	Metrics() MetricsConfig
	Settings() SettingsConfig

	// Setters for values commonly overridden from the command line.
	SetDeviceDriver(d DeviceDriverType)
	SetLLMProvider(p LLMProvider)
	SetLLMModel(m string)
}

// Config holds the entire application configuration.
// Fields are exported so viper can decode into them; callers should prefer the getters.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	LLMCfg      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	DeviceCfg   DeviceConfig   `mapstructure:"device" yaml:"device"`
	MetricsCfg  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	SettingsCfg SettingsConfig `mapstructure:"settings" yaml:"settings"`
}

var _ Interface = (*Config)(nil)

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) LLM() LLMConfig           { return c.LLMCfg }
func (c *Config) Device() DeviceConfig     { return c.DeviceCfg }
func (c *Config) Metrics() MetricsConfig   { return c.MetricsCfg }
func (c *Config) Settings() SettingsConfig { return c.SettingsCfg }

func (c *Config) SetDeviceDriver(d DeviceDriverType) { c.DeviceCfg.Driver = d }
func (c *Config) SetLLMProvider(p LLMProvider)       { c.LLMCfg.Provider = p }
func (c *Config) SetLLMModel(m string)               { c.LLMCfg.Model = m }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the run history database connection details.
// An empty URL disables run history.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// LLMProvider defines the type for supported LLM providers.
type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderGemini LLMProvider = "gemini"
	ProviderOllama LLMProvider = "ollama"
)

// LLMConfig configures the language model endpoint. APIKey, Endpoint and
// Model override the values from the settings file when non-empty.
type LLMConfig struct {
	Provider          LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	RetryMaxElapsed   time.Duration `mapstructure:"retry_max_elapsed" yaml:"retry_max_elapsed"`
}

// DeviceDriverType selects the Device Automation Driver implementation.
type DeviceDriverType string

const (
	DriverADB       DeviceDriverType = "adb"
	DriverBrowser   DeviceDriverType = "browser"
	DriverSimulated DeviceDriverType = "simulated"
)

// DeviceConfig configures the handset being automated.
type DeviceConfig struct {
	Driver  DeviceDriverType    `mapstructure:"driver" yaml:"driver"`
	ADB     ADBConfig           `mapstructure:"adb" yaml:"adb"`
	Browser BrowserDeviceConfig `mapstructure:"browser" yaml:"browser"`
	// FallbackToDefaultSize allows drivers to assume 1080x1920 when the
	// device cannot report its geometry.
	FallbackToDefaultSize bool `mapstructure:"fallback_to_default_size" yaml:"fallback_to_default_size"`
}

// ADBConfig configures the Android Debug Bridge driver.
type ADBConfig struct {
	Path           string        `mapstructure:"path" yaml:"path"`
	Serial         string        `mapstructure:"serial" yaml:"serial"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
}

// BrowserDeviceConfig configures the emulated handset driven over CDP.
type BrowserDeviceConfig struct {
	Headless    bool          `mapstructure:"headless" yaml:"headless"`
	Width       int           `mapstructure:"width" yaml:"width"`
	Height      int           `mapstructure:"height" yaml:"height"`
	Scale       float64       `mapstructure:"scale" yaml:"scale"`
	UserAgent   string        `mapstructure:"user_agent" yaml:"user_agent"`
	HomeURL     string        `mapstructure:"home_url" yaml:"home_url"`
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	Apps        []AppShortcut `mapstructure:"apps" yaml:"apps"`
}

// AppShortcut maps an app identifier on the emulated handset to a URL.
type AppShortcut struct {
	Name       string `mapstructure:"name" yaml:"name"`
	Identifier string `mapstructure:"identifier" yaml:"identifier"`
	URL        string `mapstructure:"url" yaml:"url"`
}

// MetricsConfig configures the Prometheus exporter. An empty ListenAddr
// disables it.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// SettingsConfig locates the persisted model settings.
type SettingsConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "automate")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- LLM --
	v.SetDefault("llm.provider", string(ProviderOpenAI))
	v.SetDefault("llm.api_timeout", "120s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.requests_per_second", 2.0)
	v.SetDefault("llm.retry_max_elapsed", "60s")

	// -- Device --
	v.SetDefault("device.driver", string(DriverADB))
	v.SetDefault("device.fallback_to_default_size", true)
	v.SetDefault("device.adb.path", "adb")
	v.SetDefault("device.adb.command_timeout", "15s")
	v.SetDefault("device.browser.headless", true)
	v.SetDefault("device.browser.width", 412)
	v.SetDefault("device.browser.height", 915)
	v.SetDefault("device.browser.scale", 2.625)
	v.SetDefault("device.browser.home_url", "about:blank")
	v.SetDefault("device.browser.settle_delay", "750ms")

	// -- Settings --
	v.SetDefault("settings.path", "~/.automate/settings.yaml")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("llm.api_key", "AUTOMATE_LLM_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("database.url", "AUTOMATE_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.LLMCfg.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if err := c.DeviceCfg.Validate(); err != nil {
		return fmt.Errorf("device configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the LLM configuration.
func (l *LLMConfig) Validate() error {
	switch l.Provider {
	case ProviderOpenAI, ProviderGemini, ProviderOllama:
	default:
		return fmt.Errorf("unsupported provider %q", l.Provider)
	}
	if l.APITimeout <= 0 {
		return fmt.Errorf("api_timeout must be a positive duration")
	}
	if l.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be greater than 0")
	}
	if l.Endpoint != "" {
		if u, err := url.Parse(l.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("endpoint must be an absolute URL")
		}
	}
	return nil
}

// Validate checks the device configuration.
func (d *DeviceConfig) Validate() error {
	switch d.Driver {
	case DriverADB:
		if d.ADB.Path == "" {
			return fmt.Errorf("adb.path is required for the adb driver")
		}
	case DriverBrowser:
		if d.Browser.Width <= 0 || d.Browser.Height <= 0 {
			return fmt.Errorf("browser.width and browser.height must be positive")
		}
		for _, app := range d.Browser.Apps {
			if app.Identifier == "" || app.URL == "" {
				return fmt.Errorf("browser.apps entries require identifier and url")
			}
		}
	case DriverSimulated:
	default:
		return fmt.Errorf("unsupported driver %q", d.Driver)
	}
	return nil
}
