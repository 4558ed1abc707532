// Package config loads the vault's YAML configuration with environment
// overrides and sensible defaults.
package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Storage struct {
		BlobPath string `yaml:"blob_path"`
		Database string `yaml:"database"`
		KeyPath  string `yaml:"key_path"`
	} `yaml:"storage"`
	API struct {
		Port string `yaml:"port"`
		Key  string `yaml:"key"`
	} `yaml:"api"`
}

// Load reads the config file named by CONFIG_PATH (default config.yaml),
// falling back to defaults when it is absent or malformed. PRIVAULT_API_KEY
// overrides the configured API key.
func Load() *Config {
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}

	config := defaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		log.Printf("config: %s not readable, using defaults: %v", configPath, err)
	} else if err := yaml.Unmarshal(data, config); err != nil {
		log.Printf("config: failed to parse %s, using defaults: %v", configPath, err)
		config = defaultConfig()
	}

	if envKey := os.Getenv("PRIVAULT_API_KEY"); envKey != "" {
		config.API.Key = envKey
	}

	return config
}

func defaultConfig() *Config {
	c := &Config{}
	c.Storage.BlobPath = "./vault/encrypted"
	c.Storage.Database = "./vault/vault.db"
	c.Storage.KeyPath = "./vault/secret.key"
	c.API.Port = "8080"
	return c
}
