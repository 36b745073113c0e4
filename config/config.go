package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research assistant
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig describes the chat model used for planning and reasoning
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.APIKey) == "" {
		return &ConfigurationError{Key: "llm.api_key", Reason: "OPENAI_API_KEY is not set"}
	}
	if strings.TrimSpace(l.Model) == "" {
		return &ConfigurationError{Key: "llm.model", Reason: "model name required"}
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return &ConfigurationError{Key: "llm.temperature", Reason: "must be within [0, 2]"}
	}
	return nil
}

// SourcesConfig contains external source configurations
type SourcesConfig struct {
	WebSearch WebSearchConfig `mapstructure:"web_search"`
}

// WebSearchConfig contains web search settings
type WebSearchConfig struct {
	Provider     string        `mapstructure:"provider"` // brave, serper
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	Endpoint     string        `mapstructure:"endpoint"`
	MaxResults   int           `mapstructure:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// APIKey returns the credential of the selected provider.
func (w WebSearchConfig) APIKey() string {
	if w.Provider == "serper" {
		return w.SerperAPIKey
	}
	return w.BraveAPIKey
}

func (w WebSearchConfig) Validate() error {
	switch w.Provider {
	case "brave":
		if strings.TrimSpace(w.BraveAPIKey) == "" {
			return &ConfigurationError{Key: "sources.web_search.brave_api_key", Reason: "BRAVE_API_KEY is not set"}
		}
	case "serper":
		if strings.TrimSpace(w.SerperAPIKey) == "" {
			return &ConfigurationError{Key: "sources.web_search.serper_api_key", Reason: "SERPER_API_KEY is not set"}
		}
	default:
		return &ConfigurationError{Key: "sources.web_search.provider", Reason: fmt.Sprintf("unsupported provider %q", w.Provider)}
	}
	if w.MaxResults < 1 {
		return &ConfigurationError{Key: "sources.web_search.max_results", Reason: "must be >= 1"}
	}
	return nil
}

// AgentsConfig controls the reasoning loop and the session cache
type AgentsConfig struct {
	MaxIterations int `mapstructure:"max_iterations"`
	CacheCapacity int `mapstructure:"cache_capacity"`
}

// Normalize applies defaults for unset agent values.
func (a AgentsConfig) Normalize() AgentsConfig {
	if a.MaxIterations <= 0 {
		a.MaxIterations = 8
	}
	if a.CacheCapacity <= 0 {
		a.CacheCapacity = 32
	}
	return a
}

// StorageConfig selects where chat sessions are persisted
type StorageConfig struct {
	Backend string      `mapstructure:"backend"` // file, redis, memory
	File    FileConfig  `mapstructure:"file"`
	Redis   RedisConfig `mapstructure:"redis"`
}

func (s StorageConfig) Validate() error {
	switch s.Backend {
	case "file":
		if strings.TrimSpace(s.File.DataDir) == "" {
			return &ConfigurationError{Key: "storage.file.data_dir", Reason: "required for the file backend"}
		}
	case "redis":
		return s.Redis.Validate()
	case "memory":
	default:
		return &ConfigurationError{Key: "storage.backend", Reason: fmt.Sprintf("unsupported backend %q", s.Backend)}
	}
	return nil
}

// FileConfig contains file storage settings
type FileConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Addr joins host and port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return &ConfigurationError{Key: "storage.redis.host", Reason: "required"}
	}
	if strings.TrimSpace(r.Port) == "" {
		return &ConfigurationError{Key: "storage.redis.port", Reason: "required"}
	}
	return nil
}

// TelemetryConfig contains logging, metrics and tracing settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	LogFile      string `mapstructure:"log_file"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

// ConfigurationError reports a missing or invalid setting. It is fatal and is
// surfaced before any request is processed.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":10001")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("sources.web_search.provider", "brave")
	v.SetDefault("sources.web_search.max_results", 5)
	v.SetDefault("sources.web_search.timeout", 30*time.Second)
	v.SetDefault("agents.max_iterations", 8)
	v.SetDefault("agents.cache_capacity", 32)
	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.file.data_dir", "saved_sessions")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("telemetry.service_name", "researcher")
}

// LoadConfig loads config from file and environment. An empty path searches
// the usual locations; a missing file there is not an error. Credentials are
// always read from OPENAI_API_KEY / BRAVE_API_KEY / SERPER_API_KEY when the
// file leaves them empty.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("RESEARCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("llm.api_key", "RESEARCHER_LLM_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("sources.web_search.brave_api_key", "RESEARCHER_SOURCES_WEB_SEARCH_BRAVE_API_KEY", "BRAVE_API_KEY")
	_ = v.BindEnv("sources.web_search.serper_api_key", "RESEARCHER_SOURCES_WEB_SEARCH_SERPER_API_KEY", "SERPER_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Agents = cfg.Agents.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section and returns the first failure.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Sources.WebSearch.Validate(); err != nil {
		return err
	}
	return c.Storage.Validate()
}
