package loader

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"forexbot/internal/logger"
)

// WeightsSnapshot is a read-only view of the model weight file.
type WeightsSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Weights  map[string]float64
}

// fileConfig is the full weight file structure:
//
//	weights:
//	  sma_fast: 1.0
//	  rsi_14: 0.5
type fileConfig struct {
	Weights map[string]float64 `mapstructure:"weights"`
}

// ChangeListener is invoked whenever the weight file changes on disk.
type ChangeListener func(WeightsSnapshot)

// WeightsLoader reads model weights from a YAML file and watches it for
// hot updates, so weights can be retuned without restarting a session.
type WeightsLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  WeightsSnapshot
	listeners []ChangeListener
}

// NewWeightsLoader reads the weight file and starts watching it.
func NewWeightsLoader(path string) (*WeightsLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("weights loader requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read weights file failed: %w", err)
	}
	l := &WeightsLoader{path: path, v: v}
	if err := l.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := l.reload(); err != nil {
			logger.Errorf("weights reload failed (%s): %v", evt.Name, err)
			return
		}
		l.notify()
	})
	v.WatchConfig()
	return l, nil
}

// Snapshot returns the current weights (deep copy).
func (l *WeightsLoader) Snapshot() WeightsSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Subscribe registers a listener and immediately delivers the current
// snapshot to it.
func (l *WeightsLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go runListener(fn, snap)
}

func (l *WeightsLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go runListener(fn, snap)
	}
}

func runListener(fn ChangeListener, snap WeightsSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("weights listener panic: %v", r)
		}
	}()
	fn(snap)
}

func (l *WeightsLoader) reload() error {
	var fileCfg fileConfig
	if err := l.v.Unmarshal(&fileCfg); err != nil {
		return fmt.Errorf("parse weights file failed: %w", err)
	}
	normalized := make(map[string]float64, len(fileCfg.Weights))
	for id, w := range fileCfg.Weights {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if w < 0 {
			return fmt.Errorf("weight for %s must be >= 0, got %v", id, w)
		}
		normalized[id] = w
	}
	l.mu.Lock()
	l.snapshot = WeightsSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Weights:  normalized,
	}
	l.mu.Unlock()
	logger.Infof("weights loader reloaded %d weights from %s", len(normalized), filepath.Base(l.path))
	return nil
}

func cloneSnapshot(in WeightsSnapshot) WeightsSnapshot {
	out := WeightsSnapshot{
		Version:  in.Version,
		LoadedAt: in.LoadedAt,
		Weights:  make(map[string]float64, len(in.Weights)),
	}
	for k, v := range in.Weights {
		out.Weights[k] = v
	}
	return out
}
