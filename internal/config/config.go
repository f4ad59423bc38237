package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration.
type Config struct {
	GeminiAPIKey string `env:"GEMINI_API_KEY,required"`
	Model        string `env:"SKILLSIM_MODEL" envDefault:"gemini-2.5-flash"`
	StorageConfig
}

// StorageConfig is the subset needed to manage the saved session
// without backend credentials.
type StorageConfig struct {
	SaveDir string `env:"SKILLSIM_SAVE_DIR" envDefault:".saves"`
}

// LoadConfig loads the configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// LoadStorageConfig loads only the storage settings.
func LoadStorageConfig() (*StorageConfig, error) {
	var cfg StorageConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}
