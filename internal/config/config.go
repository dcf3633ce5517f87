package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads the session config at path. A file may name other files
// in an `include` list; included files are merged first, so the
// including file wins on conflicts. Defaults fill only the keys no
// file set, then the merged result is validated as a whole.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &includeWalker{done: make(map[string]bool), active: make(map[string]bool)}
	files, err := w.expand(abs)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		if err := mergeFileInto(v, file); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}

	userKeys := make(keySet)
	markUserKeys("", v.AllSettings(), userKeys)
	cfg.applyDefaults(userKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func mergeFileInto(v *viper.Viper, path string) error {
	one := viper.New()
	one.SetConfigFile(path)
	if err := one.ReadInConfig(); err != nil {
		return err
	}
	return v.MergeConfigMap(one.AllSettings())
}

// includeWalker flattens the include graph into merge order: a file's
// includes come before the file itself, each file appears once, and a
// file including itself (directly or not) is an error.
type includeWalker struct {
	done   map[string]bool // fully expanded
	active map[string]bool // on the current walk path
}

func (w *includeWalker) expand(path string) ([]string, error) {
	path = filepath.Clean(path)
	if w.active[path] {
		return nil, fmt.Errorf("include cycle detected: %s", path)
	}
	if w.done[path] {
		return nil, nil
	}
	w.active[path] = true
	defer delete(w.active, path)

	includes, err := readIncludeList(path)
	if err != nil {
		return nil, fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	var order []string
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		sub, err := w.expand(inc)
		if err != nil {
			return nil, err
		}
		order = append(order, sub...)
	}
	w.done[path] = true
	return append(order, path), nil
}

func readIncludeList(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	raw := v.Get("include")
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		if strs, ok := raw.([]string); ok {
			items = make([]any, len(strs))
			for i, s := range strs {
				items[i] = s
			}
		} else {
			return nil, fmt.Errorf("include must be a string array")
		}
	}
	var out []string
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include only supports strings")
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// markUserKeys records every dotted key path the config files set, so
// applyDefaults can tell "explicit zero" apart from "never mentioned".
func markUserKeys(prefix string, node any, dest keySet) {
	key := func(k string) (string, bool) {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			return "", false
		}
		if prefix != "" {
			k = prefix + "." + k
		}
		return k, true
	}
	switch val := node.(type) {
	case map[string]any:
		for k, child := range val {
			if next, ok := key(k); ok {
				markUserKeys(next, child, dest)
			}
		}
	case map[any]any:
		for k, child := range val {
			s, ok := k.(string)
			if !ok {
				continue
			}
			if next, ok := key(s); ok {
				markUserKeys(next, child, dest)
			}
		}
	case []any:
		if prefix != "" {
			dest.mark(prefix)
		}
		for _, item := range val {
			markUserKeys(prefix, item, dest)
		}
	default:
		if prefix != "" {
			dest.mark(prefix)
		}
	}
}
