package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Flusher is a debounced, serialized, crash-safe snapshot writer. Schedule
// arms a timer if none is armed; further calls within the window coalesce
// into the same write. Writes go to a temp file and are renamed over the
// target, so a reader never observes a half-written document. Disk failures
// are logged and swallowed: the in-memory store stays the source of truth.
type Flusher struct {
	path     string
	delay    time.Duration
	snapshot func() ([]byte, error)
	logger   *zap.Logger

	mu    sync.Mutex
	armed bool

	// writeMu serializes writes so overlapping schedule/fire cycles never
	// race on the same file.
	writeMu sync.Mutex
}

// NewFlusher creates a flusher for the given target path. snapshot is
// invoked at write time to serialize the store's current state.
func NewFlusher(path string, delay time.Duration, snapshot func() ([]byte, error), logger *zap.Logger) *Flusher {
	return &Flusher{
		path:     path,
		delay:    delay,
		snapshot: snapshot,
		logger:   logger,
	}
}

// Schedule arms the debounce timer. No-op while a timer is already armed.
func (f *Flusher) Schedule() {
	f.mu.Lock()
	if f.armed {
		f.mu.Unlock()
		return
	}
	f.armed = true
	f.mu.Unlock()

	time.AfterFunc(f.delay, func() {
		f.mu.Lock()
		f.armed = false
		f.mu.Unlock()
		f.Flush()
	})
}

// Flush writes the current snapshot immediately. Used by the debounce timer
// and for the final write at shutdown.
func (f *Flusher) Flush() {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	data, err := f.snapshot()
	if err != nil {
		f.logger.Error("snapshot failed", zap.String("path", f.path), zap.Error(err))
		return
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		f.logger.Error("create state dir failed", zap.String("path", f.path), zap.Error(err))
		return
	}

	tmp := fmt.Sprintf("%s.%s.tmp", f.path, uuid.NewString())
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		f.logger.Error("write temp file failed", zap.String("path", tmp), zap.Error(err))
		return
	}
	if err := os.Rename(tmp, f.path); err != nil {
		f.logger.Error("rename failed", zap.String("path", f.path), zap.Error(err))
		_ = os.Remove(tmp)
	}
}
