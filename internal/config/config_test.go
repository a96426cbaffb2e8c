package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Store.PerChatCap != DefaultPerChatCap {
		t.Errorf("PerChatCap = %d, want %d", cfg.Store.PerChatCap, DefaultPerChatCap)
	}
	if cfg.Store.GlobalCap != DefaultGlobalCap {
		t.Errorf("GlobalCap = %d, want %d", cfg.Store.GlobalCap, DefaultGlobalCap)
	}
	if !cfg.Store.PersistMessages {
		t.Error("PersistMessages should default to true")
	}
	if cfg.Store.ChatFlushDebounceMs != DefaultChatDebounceMs {
		t.Errorf("ChatFlushDebounceMs = %d, want %d", cfg.Store.ChatFlushDebounceMs, DefaultChatDebounceMs)
	}
	if cfg.Store.MessageFlushDebounceMs != DefaultMessageDebounceMs {
		t.Errorf("MessageFlushDebounceMs = %d, want %d", cfg.Store.MessageFlushDebounceMs, DefaultMessageDebounceMs)
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.PerChatCap != DefaultPerChatCap {
		t.Errorf("PerChatCap = %d, want default", cfg.Store.PerChatCap)
	}
}

func TestLoadPartialFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "default_session = \"work\"\n\n[store]\nper_chat_cap = 50\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want work", cfg.DefaultSession)
	}
	if cfg.Store.PerChatCap != 50 {
		t.Errorf("PerChatCap = %d, want 50", cfg.Store.PerChatCap)
	}
	if cfg.Store.GlobalCap != DefaultGlobalCap {
		t.Errorf("GlobalCap = %d, want default %d", cfg.Store.GlobalCap, DefaultGlobalCap)
	}
}

func TestPersistMessagesCanBeDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "[store]\npersist_messages = false\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.PersistMessages {
		t.Error("persist_messages = false was not honored")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("not [valid toml"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() should fail on malformed TOML")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	cfg := Default()
	cfg.DefaultSession = "personal"
	cfg.Store.GlobalCap = 5000

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.DefaultSession != "personal" || got.Store.GlobalCap != 5000 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}
