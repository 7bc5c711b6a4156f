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
	Data        Data        `yaml:"data"`
	Models      Models      `yaml:"models"`
	Recommender Recommender `yaml:"recommender"`
	Logging     Logging     `yaml:"logging"`
}

type Data struct {
	BooksCSV   string `yaml:"books_csv"`
	ReviewsCSV string `yaml:"reviews_csv"`
	DataDir    string `yaml:"data_dir"`
}

type Models struct {
	OllamaURL      string `yaml:"ollama_url"`
	EmbeddingModel string `yaml:"embedding_model"`
	SentimentModel string `yaml:"sentiment_model"`
}

type Recommender struct {
	MaxReviews int `yaml:"max_reviews"`
	PoolSize   int `yaml:"pool_size"`
	// Temperature controls softmax sampling over the candidate pool.
	// Zero or negative disables sampling and returns the greedy top-k.
	Temperature float64 `yaml:"temperature"`
	TopK        int     `yaml:"top_k"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for bookrec.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "bookrec")
}

// DataDir returns the XDG data directory for bookrec.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "bookrec")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/bookrec/config.yaml > ./config.yaml
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
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'bookrec init' to create a default config",
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
		Data: Data{
			BooksCSV:   "reviewedBooks.csv",
			ReviewsCSV: "reviews.csv",
		},
		Models: Models{
			OllamaURL:      "http://localhost:11434",
			EmbeddingModel: "nomic-embed-text",
			SentimentModel: "qwen2.5:7b",
		},
		Recommender: Recommender{
			MaxReviews:  5,
			PoolSize:    50,
			Temperature: 0.05,
			TopK:        10,
		},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Data.DataDir != "" {
		return c.Data.DataDir
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
