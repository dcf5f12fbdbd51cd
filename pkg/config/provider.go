package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/cuemby/pqhost/pkg/log"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Provider supplies the current settings and announces changes.
type Provider interface {
	Current() Settings
	Changes() <-chan Settings
}

// StaticProvider holds settings set in code, from flags or tests.
type StaticProvider struct {
	mu      sync.RWMutex
	current Settings
	changes chan Settings
}

// NewStaticProvider creates a provider holding s.
func NewStaticProvider(s Settings) *StaticProvider {
	return &StaticProvider{current: s, changes: make(chan Settings, 1)}
}

func (p *StaticProvider) Current() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

func (p *StaticProvider) Changes() <-chan Settings { return p.changes }

// Set replaces the settings and announces them unless nothing changed.
// Only the latest unread change is kept.
func (p *StaticProvider) Set(s Settings) {
	p.mu.Lock()
	if reflect.DeepEqual(p.current, s) {
		p.mu.Unlock()
		return
	}
	p.current = s
	p.mu.Unlock()
	publishLatest(p.changes, s)
}

func publishLatest(ch chan Settings, s Settings) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// FileProvider reloads settings when the configuration file changes.
type FileProvider struct {
	path     string
	override func(*Settings)
	limiter  *rate.Limiter
	fallback time.Duration
	logger   zerolog.Logger

	mu      sync.RWMutex
	current Settings
	changes chan Settings
}

// NewFileProvider loads path once. override, when set, is applied after
// every load so command line flags keep precedence over the file.
func NewFileProvider(path string, override func(*Settings)) (*FileProvider, error) {
	p := &FileProvider{
		path:     path,
		override: override,
		limiter:  rate.NewLimiter(rate.Every(250*time.Millisecond), 1),
		fallback: 30 * time.Second,
		logger:   log.WithComponent("config"),
		changes:  make(chan Settings, 1),
	}
	s, err := p.load()
	if err != nil {
		return nil, err
	}
	p.current = s
	return p, nil
}

func (p *FileProvider) load() (Settings, error) {
	s, err := Load(p.path)
	if err != nil {
		return s, err
	}
	if p.override != nil {
		p.override(&s)
	}
	return s, s.Validate()
}

func (p *FileProvider) Current() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

func (p *FileProvider) Changes() <-chan Settings { return p.changes }

// Path returns the watched file.
func (p *FileProvider) Path() string { return p.path }

// Watch reloads the file on change until ctx ends. The parent directory is
// watched so editors that replace the file by rename are noticed; a slow
// fallback poll covers filesystems without notifications.
func (p *FileProvider) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.logger.Warn().Err(err).Msg("File notifications unavailable, polling config")
		p.poll(ctx)
		return
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		p.logger.Warn().Err(err).Msg("Cannot watch config directory, polling config")
		p.poll(ctx)
		return
	}

	fallbackTicker := time.NewTicker(p.fallback)
	defer fallbackTicker.Stop()

	base := filepath.Base(p.path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			// Bursts of writes collapse into one reload.
			if err := p.limiter.Wait(ctx); err != nil {
				return
			}
			p.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn().Err(err).Msg("Config watcher error")
		case <-fallbackTicker.C:
			p.reload()
		}
	}
}

func (p *FileProvider) poll(ctx context.Context) {
	ticker := time.NewTicker(p.fallback)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reload()
		}
	}
}

// reload re-reads the file and announces the result if it differs.
// An unreadable or invalid file keeps the previous settings.
func (p *FileProvider) reload() {
	// A truncated file is usually a write in progress.
	if info, err := os.Stat(p.path); err == nil && info.Size() == 0 {
		return
	}
	s, err := p.load()
	if err != nil {
		p.logger.Warn().Err(err).Str("path", p.path).Msg("Ignoring invalid config")
		return
	}

	p.mu.Lock()
	if reflect.DeepEqual(p.current, s) {
		p.mu.Unlock()
		return
	}
	p.current = s
	p.mu.Unlock()

	p.logger.Info().Str("path", p.path).Msg("Configuration reloaded")
	publishLatest(p.changes, s)
}
