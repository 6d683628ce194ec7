package application

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines backup subsystem configuration.
type Config struct {
	StorageRoot    string
	Retention      time.Duration
	ReapInterval   time.Duration
	StatusInterval time.Duration
}

type fileConfig struct {
	StorageRoot    string `yaml:"storage_root"`
	Retention      string `yaml:"retention"`
	ReapInterval   string `yaml:"reap_interval"`
	StatusInterval string `yaml:"status_interval"`
}

// LoadConfig loads backup config from env, optionally overridden by a YAML
// file pointed to by BACKUP_CONFIG.
func LoadConfig() (Config, error) {
	cfg := Config{
		StorageRoot:    getenvDefault("BACKUP_STORAGE_ROOT", filepath.FromSlash("var/backups")),
		Retention:      getenvDuration("BACKUP_RETENTION", time.Hour),
		ReapInterval:   getenvDuration("BACKUP_REAP_INTERVAL", 15*time.Minute),
		StatusInterval: getenvDuration("BACKUP_STATUS_INTERVAL", time.Second),
	}

	if path := os.Getenv("BACKUP_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		var file fileConfig
		if err := yaml.Unmarshal(data, &file); err != nil {
			return cfg, err
		}
		if file.StorageRoot != "" {
			cfg.StorageRoot = file.StorageRoot
		}
		if err := applyDuration(&cfg.Retention, file.Retention); err != nil {
			return cfg, err
		}
		if err := applyDuration(&cfg.ReapInterval, file.ReapInterval); err != nil {
			return cfg, err
		}
		if err := applyDuration(&cfg.StatusInterval, file.StatusInterval); err != nil {
			return cfg, err
		}
	}

	if cfg.StorageRoot == "" {
		return cfg, errors.New("backup: storage root required")
	}
	return cfg, nil
}

func applyDuration(target *time.Duration, value string) error {
	if value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	if parsed > 0 {
		*target = parsed
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
