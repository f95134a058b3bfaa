// Package config loads the bot configuration from an optional YAML file with
// environment variable overrides (prefix POTHEAD_).
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the runtime. Zero values are filled with
// defaults before the YAML file and the environment are applied, in that
// order, so the environment always wins.
type Config struct {
	// Account is the phone number signal-cli sends and receives as.
	Account string `yaml:"account" env:"ACCOUNT"`

	// Superuser bypasses all permission checks.
	Superuser string `yaml:"superuser" env:"SUPERUSER"`

	SignalCLIPath   string `yaml:"signal_cli_path" env:"SIGNAL_CLI_PATH"`
	AttachmentsPath string `yaml:"attachments_path" env:"ATTACHMENTS_PATH"`
	PermissionsPath string `yaml:"permissions_path" env:"PERMISSIONS_PATH"`
	FileStorePath   string `yaml:"file_store_path" env:"FILE_STORE_PATH"`

	// HistoryDBPath enables the sqlite message archive when non-empty.
	HistoryDBPath string `yaml:"history_db_path" env:"HISTORY_DB_PATH"`

	TriggerWords     []string `yaml:"trigger_words" env:"TRIGGER_WORDS"`
	HistoryMaxLength int      `yaml:"history_max_length" env:"HISTORY_MAX_LENGTH"`
	LogLevel         string   `yaml:"log_level" env:"LOG_LEVEL"`
	EnabledPlugins   []string `yaml:"enabled_plugins" env:"ENABLED_PLUGINS"`

	// SettleSeconds drops inbound chat messages older than this horizon,
	// so a backlog replayed by signal-cli after downtime is not answered.
	SettleSeconds int `yaml:"ignore_messages_older_than" env:"IGNORE_MESSAGES_OLDER_THAN"`

	// MessagePrefix is prepended to every outbound message.
	MessagePrefix string `yaml:"message_prefix" env:"MESSAGE_PREFIX"`

	AI AIConfig `yaml:"ai" envPrefix:"AI_"`
}

// AIConfig selects and configures the LLM provider used by the ai plugin.
type AIConfig struct {
	Provider          string   `yaml:"provider" env:"PROVIDER"`
	APIKey            string   `yaml:"api_key" env:"API_KEY"`
	Model             string   `yaml:"model" env:"MODEL"`
	SystemInstruction string   `yaml:"system_instruction" env:"SYSTEM_INSTRUCTION"`
	// Chats lists chat ids the autoresponder is active in.
	Chats []string `yaml:"chats" env:"CHATS"`
}

// Default returns a config with the built-in defaults applied.
func Default() *Config {
	return &Config{
		SignalCLIPath:    "signal-cli",
		AttachmentsPath:  "~/.local/share/signal-cli/attachments",
		PermissionsPath:  "permissions",
		FileStorePath:    "document_store",
		TriggerWords:     []string{"!pot", "!pothead", "!ph"},
		HistoryMaxLength: 30,
		LogLevel:         "info",
		SettleSeconds:    30,
	}
}

// Load reads the YAML file at path (skipped when path is empty or missing)
// and then applies POTHEAD_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Run on defaults + environment.
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "POTHEAD_"}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.Account == "" {
		return nil, fmt.Errorf("account is required (POTHEAD_ACCOUNT or config file)")
	}
	return cfg, nil
}
