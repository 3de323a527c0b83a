package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
)

// WatchConfig configures Watch.
type WatchConfig struct {
	// Path is the config file to watch.
	Path string
	// Flags are re-applied on every reload.
	Flags *pflag.FlagSet
	// Debounce collapses bursts of writes. Default: 100ms.
	Debounce time.Duration
	// OnChange receives every configuration that loads and validates.
	OnChange func(*Config)
	Logger   *slog.Logger
}

func (w *WatchConfig) defaults() {
	if w.Debounce <= 0 {
		w.Debounce = 100 * time.Millisecond
	}
	if w.Logger == nil {
		w.Logger = slog.Default()
	}
}

// Watch reloads the file whenever it changes until ctx ends. The parent
// directory is watched so editors that replace the file by rename are seen.
// A reload that fails is logged and the previous configuration stays.
func Watch(ctx context.Context, wc WatchConfig) error {
	wc.defaults()
	if wc.Path == "" {
		return fmt.Errorf("config: watch: no path")
	}
	target, err := filepath.Abs(wc.Path)
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(target), err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		cfg, err := Load(wc.Path, wc.Flags)
		if err != nil {
			wc.Logger.Warn("config: reload failed", "path", wc.Path, "error", err)
			return
		}
		wc.Logger.Info("config: reloaded", "path", wc.Path)
		if wc.OnChange != nil {
			wc.OnChange(cfg)
		}
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if name, err := filepath.Abs(event.Name); err != nil || name != target {
				continue
			}

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(wc.Debounce, reload)
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			wc.Logger.Error("config: watcher error", "error", err)
		}
	}
}
