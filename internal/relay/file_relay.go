package relay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const signalSuffix = ".signal"

// FileRelay signals across processes by touching <dir>/<topic>.signal and
// watching the directory for writes.
type FileRelay struct {
	dir    string
	logger *slog.Logger

	mu     sync.Mutex
	listen map[string]bool
}

func NewFileRelay(dir string, logger *slog.Logger) (*FileRelay, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create signal dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileRelay{dir: dir, logger: logger, listen: make(map[string]bool)}, nil
}

func (r *FileRelay) path(topic string) string {
	return filepath.Join(r.dir, topic+signalSuffix)
}

func (r *FileRelay) Signal(topic string) error {
	stamp := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	if err := os.WriteFile(r.path(topic), stamp, 0o644); err != nil {
		return fmt.Errorf("signal %s: %w", topic, err)
	}
	return nil
}

func (r *FileRelay) Listen(ctx context.Context, topic string, fn func()) error {
	r.mu.Lock()
	if r.listen[topic] {
		r.mu.Unlock()
		return ErrListenerRegistered
	}
	r.listen[topic] = true
	r.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.release(topic)
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		_ = watcher.Close()
		r.release(topic)
		return fmt.Errorf("watch %s: %w", r.dir, err)
	}

	target := topic + signalSuffix
	wake := make(chan struct{}, 1)

	go func() {
		defer r.release(topic)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("signal watcher error", "topic", topic, "error", err)
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-wake:
				fn()
			}
		}
	}()
	return nil
}

func (r *FileRelay) release(topic string) {
	r.mu.Lock()
	delete(r.listen, topic)
	r.mu.Unlock()
}
