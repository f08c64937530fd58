package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/myrqyry/obs-copilot-sub005/internal/logger"
	"github.com/myrqyry/obs-copilot-sub005/internal/metrics"
	"github.com/myrqyry/obs-copilot-sub005/internal/rule"
)

// RulesLoader reads a YAML rules file and watches it for changes.
type RulesLoader struct {
	path string
	log  *logger.Logger

	mu       sync.RWMutex
	current  *RuleSet
	onChange []func(*RuleSet)
}

// NewRulesLoader creates a RulesLoader and performs the initial load.
func NewRulesLoader(path string, log *logger.Logger) (*RulesLoader, error) {
	l := &RulesLoader{path: filepath.Clean(path), log: log.With("component", "rules-loader")}
	rs, err := LoadRules(l.path)
	if err != nil {
		metrics.RuleReloads.WithLabelValues("error").Inc()
		return nil, err
	}
	l.current = rs
	metrics.RuleReloads.WithLabelValues("success").Inc()
	return l, nil
}

// Path returns the watched file.
func (l *RulesLoader) Path() string { return l.path }

// RuleSet returns the latest successfully loaded rule set.
func (l *RulesLoader) RuleSet() *RuleSet {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked whenever the rules reload.
func (l *RulesLoader) OnChange(fn func(*RuleSet)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the rules on file
// changes. The parent directory is watched so editors that replace the file
// by rename are picked up. Call the returned stop function to clean up.
func (l *RulesLoader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rules watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("rules watcher add %s: %w", dir, err)
	}

	done := make(chan struct{})
	var once sync.Once
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != l.path {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						// Keep serving the previous rules.
						l.log.Warn("rules reload failed", "path", l.path, "error", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.log.Warn("rules watcher error", "error", err)
			case <-done:
				return
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload forces an immediate re-read of the rules file. On error the
// previous rule set stays current and no callback runs.
func (l *RulesLoader) Reload() (*RuleSet, error) {
	rs, err := LoadRules(l.path)
	if err != nil {
		metrics.RuleReloads.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.RuleReloads.WithLabelValues("success").Inc()

	l.mu.Lock()
	l.current = rs
	callbacks := make([]func(*RuleSet), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()

	l.log.Info("rules reloaded", "path", l.path, "rules", len(rs.Rules))
	for _, fn := range callbacks {
		fn(rs)
	}
	return rs, nil
}

// LoadRules reads, normalizes and validates a rules file.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	rs, err := ParseRules(data, time.Now())
	if err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}
	return rs, nil
}

// ParseRules decodes a YAML (or JSON) rule set, derives missing IDs and
// validates the result.
func ParseRules(data []byte, now time.Time) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	rule.DeriveIDs(rs.Rules)
	rule.Normalize(rs.Rules, now)
	if err := ValidateRuleSet(&rs); err != nil {
		return nil, err
	}
	return &rs, nil
}
