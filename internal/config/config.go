package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Defaults applied when config fields are absent or zero.
const (
	DefaultPerChatCap        = 200
	DefaultGlobalCap         = 2000
	DefaultChatDebounceMs    = 500
	DefaultMessageDebounceMs = 2000
)

// Config represents the global ~/.wamcp/config.toml.
type Config struct {
	DefaultSession string      `toml:"default_session"`
	Store          StoreConfig `toml:"store"`
}

// StoreConfig controls local history retention and persistence.
type StoreConfig struct {
	PerChatCap             int  `toml:"per_chat_cap"`
	GlobalCap              int  `toml:"global_cap"`
	PersistMessages        bool `toml:"persist_messages"`
	ChatFlushDebounceMs    int  `toml:"chat_flush_debounce_ms"`
	MessageFlushDebounceMs int  `toml:"message_flush_debounce_ms"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	cfg := &Config{Store: StoreConfig{PersistMessages: true}}
	cfg.applyDefaults()
	return cfg
}

// Load reads config from the given path. A missing file yields the default
// config; a malformed file is an error.
func Load(path string) (*Config, error) {
	var cfg Config
	cfg.Store.PersistMessages = true
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) applyDefaults() {
	if c.Store.PerChatCap <= 0 {
		c.Store.PerChatCap = DefaultPerChatCap
	}
	if c.Store.GlobalCap <= 0 {
		c.Store.GlobalCap = DefaultGlobalCap
	}
	if c.Store.ChatFlushDebounceMs <= 0 {
		c.Store.ChatFlushDebounceMs = DefaultChatDebounceMs
	}
	if c.Store.MessageFlushDebounceMs <= 0 {
		c.Store.MessageFlushDebounceMs = DefaultMessageDebounceMs
	}
}
