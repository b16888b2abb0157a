package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Sources  []Source `yaml:"sources"`
	Keywords []string `yaml:"keywords"`
	Analysis Analysis `yaml:"analysis"`
	Scraper  Scraper  `yaml:"scraper"`
	Output   Output   `yaml:"output"`
	Server   Server   `yaml:"server"`
}

// Source is a single scrape target. Type selects the extraction strategy:
// "html" for listing pages, "rss" for feeds.
type Source struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type Analysis struct {
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	MaxTokens int    `yaml:"max_tokens"`
	Retries   int    `yaml:"retries"`
}

type Scraper struct {
	IntervalSeconds int  `yaml:"interval_seconds"`
	RunOnStartup    bool `yaml:"run_on_startup"`
	MaxItems        int  `yaml:"max_items"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

// ConfigDir returns the XDG config directory for policylens.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "policylens")
}

// DataDir returns the XDG data directory for policylens.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "policylens")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/policylens/config.yaml > ./config.yaml
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
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'policylens init' to create a default config",
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

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Analysis: Analysis{
			Model:     "gemini-1.5-flash-latest",
			BaseURL:   "https://generativelanguage.googleapis.com/v1beta",
			APIKeyEnv: "GEMINI_API_KEY",
			MaxTokens: 500,
			Retries:   2,
		},
		Scraper: Scraper{
			IntervalSeconds: 3600,
			RunOnStartup:    true,
			MaxItems:        10,
		},
		Server: Server{Port: 8000},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if len(cfg.Keywords) == 0 {
		cfg.Keywords = DefaultKeywords
	}
	for i := range cfg.Sources {
		if cfg.Sources[i].Type == "" {
			cfg.Sources[i].Type = "html"
		}
	}

	return cfg, nil
}

// DefaultKeywords is the fiscal vocabulary used by the relevance filter when
// the config does not override it.
var DefaultKeywords = []string{
	"GST", "Tax", "Subsidy", "Rate", "Budget", "Finance",
	"Economic", "Fiscal", "Revenue", "Tariff", "Duty",
	"Customs", "Income Tax", "Direct Tax", "Indirect Tax",
	"Cess", "Rebate", "Exemption", "Credit", "Loan",
	"Policy", "Government", "Ministry", "Scheme",
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
