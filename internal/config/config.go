// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Task    TaskConfig    `mapstructure:"task" yaml:"task"`
}

// LoggerConfig controls the zap logger and file rotation.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"` // "console" or "json"
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to terminal colors for the console encoder.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig tunes the Chrome session the tasks run against.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	OperationTimeout  time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
	ExtraFlags        []string      `mapstructure:"extra_flags" yaml:"extra_flags"`
}

// TaskConfig tunes the local execution engine: settle pauses, poll loops
// and the bounded recovery waits.
type TaskConfig struct {
	// SettleDelay is the pause after scrolling an element into view.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	// PollInterval is the fixed interval for pause-until conditions.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// DefaultWaitTimeout bounds a pause-until condition with no explicit timeout.
	DefaultWaitTimeout time.Duration `mapstructure:"default_wait_timeout" yaml:"default_wait_timeout"`
	// RecoveryDelay is the fixed wait before a recovery re-resolution.
	RecoveryDelay time.Duration `mapstructure:"recovery_delay" yaml:"recovery_delay"`
	// MutationPollInterval drives the change monitor's mutation counter.
	MutationPollInterval time.Duration `mapstructure:"mutation_poll_interval" yaml:"mutation_poll_interval"`
	// LocationPollInterval drives the change monitor's URL watcher.
	LocationPollInterval time.Duration `mapstructure:"location_poll_interval" yaml:"location_poll_interval"`
	// MutationBurstThreshold is the mutation count per poll that counts as drift.
	MutationBurstThreshold int `mapstructure:"mutation_burst_threshold" yaml:"mutation_burst_threshold"`
	// MaxSnapshotElements caps the per-collection inventory passed to the planner.
	MaxSnapshotElements int `mapstructure:"max_snapshot_elements" yaml:"max_snapshot_elements"`
}

// LLMProvider defines the supported reasoning-service providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// AgentConfig holds settings for the reasoning-service boundary.
type AgentConfig struct {
	LLM LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
}

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	RequestsPerMinute    float64                   `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single model.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "taskpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.operation_timeout", "20s")

	// -- Task engine --
	v.SetDefault("task.settle_delay", "350ms")
	v.SetDefault("task.poll_interval", "250ms")
	v.SetDefault("task.default_wait_timeout", "10s")
	v.SetDefault("task.recovery_delay", "1500ms")
	v.SetDefault("task.mutation_poll_interval", "400ms")
	v.SetDefault("task.location_poll_interval", "300ms")
	v.SetDefault("task.mutation_burst_threshold", 25)
	v.SetDefault("task.max_snapshot_elements", 60)

	// -- Agent --
	v.SetDefault("agent.llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.default_powerful_model", "gemini-2.5-pro")
	v.SetDefault("agent.llm.requests_per_minute", 30)
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults always unmarshal; a failure here is a programming error.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a validated configuration from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("agent.llm.models.default.api_key", "TASKPILOT_GEMINI_API_KEY")

	var cfg Config
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
	if c.Browser.WindowWidth <= 0 || c.Browser.WindowHeight <= 0 {
		return fmt.Errorf("browser.window_width and browser.window_height must be positive")
	}
	if c.Browser.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be a positive duration")
	}
	if c.Task.PollInterval <= 0 {
		return fmt.Errorf("task.poll_interval must be a positive duration")
	}
	if c.Task.DefaultWaitTimeout < c.Task.PollInterval {
		return fmt.Errorf("task.default_wait_timeout must not be shorter than task.poll_interval")
	}
	if c.Task.MutationBurstThreshold <= 0 {
		return fmt.Errorf("task.mutation_burst_threshold must be a positive integer")
	}
	if c.Agent.LLM.RequestsPerMinute <= 0 {
		return fmt.Errorf("agent.llm.requests_per_minute must be positive")
	}
	return nil
}
