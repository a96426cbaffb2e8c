package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.wamcp.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wamcp")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// SessionDBPath returns the whatsmeow session.db path.
func SessionDBPath(name string) string {
	return filepath.Join(Dir(name), "session.db")
}

// ChatsPath returns the persisted chat directory document.
func ChatsPath(name string) string {
	return filepath.Join(Dir(name), "chats.json")
}

// MessagesPath returns the persisted message history document.
func MessagesPath(name string) string {
	return filepath.Join(Dir(name), "messages.json")
}

// MediaDir returns the default directory for downloaded media.
func MediaDir(name string) string {
	return filepath.Join(Dir(name), "media")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
		MediaDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
