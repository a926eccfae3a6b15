// 等级限额文件监听器。
//
// 基于 fsnotify 监听限额文件所在目录，防抖后重新解析并回调。
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// --- 监听器类型定义 ---

// TierWatcher watches the tier limits file and reloads it on change
type TierWatcher struct {
	mu sync.Mutex

	path          string
	debounceDelay time.Duration

	watcher  *fsnotify.Watcher
	running  bool
	stopChan chan struct{}

	callbacks []func(TiersConfig)

	logger *zap.Logger
}

// TierWatcherOption configures the TierWatcher
type TierWatcherOption func(*TierWatcher)

// WithDebounceDelay sets the debounce delay for file events
func WithDebounceDelay(d time.Duration) TierWatcherOption {
	return func(w *TierWatcher) {
		w.debounceDelay = d
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) TierWatcherOption {
	return func(w *TierWatcher) {
		w.logger = logger
	}
}

// NewTierWatcher creates a watcher for the given tiers file
func NewTierWatcher(path string, opts ...TierWatcherOption) (*TierWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	w := &TierWatcher{
		path:          absPath,
		debounceDelay: 200 * time.Millisecond,
		stopChan:      make(chan struct{}),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// OnReload registers a callback invoked with the freshly parsed tiers
func (w *TierWatcher) OnReload(callback func(TiersConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching. 监听目录而非文件本身，编辑器的原子替换也能被捕获
func (w *TierWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	w.watcher = fsw
	w.running = true
	go w.loop(ctx)

	w.logger.Info("tier watcher started",
		zap.String("path", w.path),
		zap.Duration("debounce_delay", w.debounceDelay))
	return nil
}

// Stop stops the watcher
func (w *TierWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	close(w.stopChan)
	w.running = false

	w.logger.Info("tier watcher stopped")
	return w.watcher.Close()
}

func (w *TierWatcher) loop(ctx context.Context) {
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounceDelay, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("tier watcher error", zap.Error(err))
		}
	}
}

// reload 解析失败时保留旧值，只记录日志
func (w *TierWatcher) reload() {
	tiers, err := LoadTiersFile(w.path)
	if err != nil {
		w.logger.Warn("tier reload failed, keeping previous limits",
			zap.String("path", w.path), zap.Error(err))
		return
	}
	tiers.File = w.path

	w.mu.Lock()
	callbacks := make([]func(TiersConfig), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("tier limits reloaded", zap.String("path", w.path))
	for _, cb := range callbacks {
		cb(*tiers)
	}
}
