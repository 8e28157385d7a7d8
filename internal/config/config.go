package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Output     Output     `yaml:"output"`
	Logging    Logging    `yaml:"logging"`
	Cache      Cache      `yaml:"cache"`
	Baselines  Baselines  `yaml:"baselines"`
	Policy     Policy     `yaml:"policy"`
	Ranking    Ranking    `yaml:"ranking"`
	Generation Generation `yaml:"generation"`
	Server     Server     `yaml:"server"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Cache configures the baseline snapshot cache. An empty RedisURL keeps
// snapshots in the SQLite database instead.
type Cache struct {
	RedisURL   string        `yaml:"redis_url"`
	TTL        time.Duration `yaml:"ttl"`
	MaxRetries int           `yaml:"max_retries"`
}

type Baselines struct {
	WindowDays int `yaml:"window_days"`
	MaxPosts   int `yaml:"max_posts"`
}

type Policy struct {
	RelativeInteractionsMultiplier float64 `yaml:"relative_interactions_multiplier"`
	RelativeERMultiplier           float64 `yaml:"relative_er_multiplier"`
	StrictMode                     bool    `yaml:"strict_mode"`
}

type Ranking struct {
	SmallSampleCutoff   int     `yaml:"small_sample_cutoff"`
	RecencyHalfLifeDays float64 `yaml:"recency_half_life_days"`
}

type Generation struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	OllamaURL   string `yaml:"ollama_url"`
	OpenAIModel string `yaml:"openai_model"`
	APIKeyEnv   string `yaml:"api_key_env"`
	MaxTokens   int    `yaml:"max_tokens"`
	MaxAttempts int    `yaml:"max_attempts"`

	// LLMClassifier routes intent detection through the provider, keeping
	// the keyword rules as fallback.
	LLMClassifier bool `yaml:"llm_classifier"`
}

type Server struct {
	Port int `yaml:"port"`
}

// ConfigDir returns the XDG config directory for answerengine.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "answerengine")
}

// DataDir returns the XDG data directory for answerengine.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "answerengine")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/answerengine/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'answerengine init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := parse(nil)
	if err != nil {
		panic(err)
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Logging: Logging{Level: "INFO", Format: "text"},
		Cache:   Cache{TTL: 6 * time.Hour, MaxRetries: 2},
		Baselines: Baselines{
			WindowDays: 90,
			MaxPosts:   600,
		},
		Policy: Policy{
			RelativeInteractionsMultiplier: 1.25,
			RelativeERMultiplier:           1.15,
			StrictMode:                     true,
		},
		Ranking: Ranking{
			SmallSampleCutoff:   10,
			RecencyHalfLifeDays: 90,
		},
		Generation: Generation{
			Provider:    "ollama",
			Model:       "qwen2.5:7b",
			OllamaURL:   "http://localhost:11434",
			OpenAIModel: "gpt-4o-mini",
			APIKeyEnv:   "OPENAI_API_KEY",
			MaxTokens:   900,
			MaxAttempts: 2,
		},
		Server: Server{Port: 8000},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Baselines.WindowDays <= 0:
		return fmt.Errorf("baselines.window_days must be positive, got %d", c.Baselines.WindowDays)
	case c.Policy.RelativeInteractionsMultiplier <= 0:
		return fmt.Errorf("policy.relative_interactions_multiplier must be positive")
	case c.Policy.RelativeERMultiplier <= 0:
		return fmt.Errorf("policy.relative_er_multiplier must be positive")
	case c.Generation.MaxAttempts < 1:
		return fmt.Errorf("generation.max_attempts must be at least 1")
	case c.Cache.MaxRetries < 0:
		return fmt.Errorf("cache.max_retries must not be negative")
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DatabasePath returns the SQLite file inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.GetDataDir(), "answerengine.db")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
