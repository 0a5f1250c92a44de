package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all flowmated configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath          string `json:"db_path"`
	LogLevel        string `json:"log_level"`
	PoolSize        int    `json:"pool_size"`
	QueueBacklog    int    `json:"queue_backlog"`
	RescanSeconds   int    `json:"rescan_seconds"`
	CredentialsPath string `json:"credentials_path"`
}

func defaultConfig() Config {
	return Config{
		DBPath:        filepath.Join(flowmateDir(), "flowmate.db"),
		LogLevel:      "info",
		PoolSize:      8,
		QueueBacklog:  1024,
		RescanSeconds: 30,
	}
}

func flowmateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowmate"
	}
	return filepath.Join(home, ".flowmate")
}

func settingsPath() string {
	return filepath.Join(flowmateDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("FLOWMATE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FLOWMATE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLOWMATE_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("FLOWMATE_QUEUE_BACKLOG"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueBacklog = n
		}
	}
	if v := os.Getenv("FLOWMATE_RESCAN_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RescanSeconds = n
		}
	}
	if v := os.Getenv("FLOWMATE_CREDENTIALS_PATH"); v != "" {
		cfg.CredentialsPath = v
	}

	return cfg
}
