package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives the freshly loaded config after a file change.
type ReloadFunc func(cfg AppConfig) error

// Watcher 监听配置文件变化并触发重载
type Watcher struct {
	path     string
	cooldown time.Duration
	watcher  *fsnotify.Watcher
	onReload ReloadFunc

	mu         sync.Mutex
	lastReload time.Time

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewWatcher creates a file watcher for path. cooldown suppresses duplicate
// reloads caused by editors writing the file in multiple events.
func NewWatcher(path string, cooldown time.Duration, onReload ReloadFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}
	return &Watcher{
		path:     path,
		cooldown: cooldown,
		watcher:  fw,
		onReload: onReload,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start 启动监听
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.path); err != nil {
		return fmt.Errorf("failed to watch config file: %w", err)
	}
	go w.watch(ctx)
	return nil
}

// Stop stops the watcher and waits briefly for the goroutine to exit.
func (w *Watcher) Stop() error {
	select {
	case <-w.stopChan:
	default:
		close(w.stopChan)
	}
	select {
	case <-w.doneChan:
	case <-time.After(1 * time.Second):
	}
	return w.watcher.Close()
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneChan)

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
			// 只处理写入和创建事件
			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create {
				w.handleChange()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			fmt.Printf("config watcher error: %v\n", err)
		}
	}
}

// settleDelay 等待编辑器完成写入,避免读到半截文件
const settleDelay = 100 * time.Millisecond

func (w *Watcher) handleChange() {
	time.Sleep(settleDelay)

	w.mu.Lock()
	defer w.mu.Unlock()

	// 冷却时间内忽略
	if time.Since(w.lastReload) < w.cooldown {
		return
	}

	cfg, err := LoadWithEnvOverrides(w.path)
	if err != nil {
		fmt.Printf("config reload skipped: %v\n", err)
		return
	}
	if w.onReload != nil {
		if err := w.onReload(cfg); err != nil {
			fmt.Printf("config reload rejected: %v\n", err)
			return
		}
	}
	w.lastReload = time.Now()
}

// LastReload 获取最后重载时间
func (w *Watcher) LastReload() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastReload
}
