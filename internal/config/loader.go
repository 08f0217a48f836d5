package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:default} patterns in a string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		submatch := envVarPattern.FindStringSubmatch(match)
		if len(submatch) < 2 {
			return match
		}
		varName := submatch[1]
		defaultVal := ""
		if len(submatch) >= 3 {
			defaultVal = submatch[2]
		}
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return defaultVal
	})
}

// LoadFile reads a YAML file, expands env vars, and unmarshals into dest.
func LoadFile(path string, dest interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), dest); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks cross-file references. Model identifiers and the providers they
// point at are fixed at load time, so a dangling reference is a startup error.
func Validate(cfg *Config, models *ModelsConfig, providers *ProvidersConfig) error {
	for name, p := range providers.Providers {
		switch p.Protocol() {
		case ProtocolOpenAI, ProtocolAnthropic:
		default:
			return fmt.Errorf("provider %q: unknown type %q", name, p.Type)
		}
	}
	for id, m := range models.Models {
		if m.Provider == "" || m.Model == "" {
			return fmt.Errorf("model %q: provider and model are required", id)
		}
		if _, ok := providers.Providers[m.Provider]; !ok {
			return fmt.Errorf("model %q: unknown provider %q", id, m.Provider)
		}
		if m.Middleware != "" && m.Middleware != "reasoning" {
			return fmt.Errorf("model %q: unknown middleware %q", id, m.Middleware)
		}
	}
	for _, ref := range []struct{ name, id string }{
		{"routing.default_model", cfg.Routing.DefaultModel},
		{"routing.title_model", cfg.Routing.TitleModel},
		{"routing.synthesis_model", cfg.Routing.SynthesisModel},
	} {
		if ref.id == "" {
			continue
		}
		if _, ok := models.Models[ref.id]; !ok {
			return fmt.Errorf("%s: unknown model %q", ref.name, ref.id)
		}
	}
	switch cfg.RateLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("rate_limit.backend: unknown backend %q", cfg.RateLimit.Backend)
	}
	return nil
}

// Loader manages configuration loading and hot-reload via fsnotify.
type Loader struct {
	configDir string
	mu        sync.RWMutex
	cfg       *Config
	models    *ModelsConfig
	providers *ProvidersConfig
	watchers  []func()
	logger    *slog.Logger
}

func NewLoader(configDir string, logger *slog.Logger) *Loader {
	return &Loader{
		configDir: configDir,
		logger:    logger,
	}
}

func (l *Loader) Load() error {
	cfg := DefaultConfig()
	if err := LoadFile(filepath.Join(l.configDir, "scout.yaml"), cfg); err != nil {
		return fmt.Errorf("load scout config: %w", err)
	}

	models := &ModelsConfig{}
	if err := LoadFile(filepath.Join(l.configDir, "models.yaml"), models); err != nil {
		return fmt.Errorf("load models config: %w", err)
	}

	providers := &ProvidersConfig{}
	if err := LoadFile(filepath.Join(l.configDir, "providers.yaml"), providers); err != nil {
		return fmt.Errorf("load providers config: %w", err)
	}

	if err := Validate(cfg, models, providers); err != nil {
		return err
	}

	l.mu.Lock()
	l.cfg = cfg
	l.models = models
	l.providers = providers
	l.mu.Unlock()

	l.logger.Info("configuration loaded", "dir", l.configDir)
	return nil
}

func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

func (l *Loader) Models() *ModelsConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.models
}

func (l *Loader) Providers() *ProvidersConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.providers
}

// reloadDebounce coalesces the burst of events an editor or a ConfigMap
// symlink swap produces for one logical change.
const reloadDebounce = 250 * time.Millisecond

// OnReload registers a callback that fires after a successful reload.
// Callbacks must be registered before Watch.
func (l *Loader) OnReload(fn func()) {
	l.watchers = append(l.watchers, fn)
}

// Watch reloads all three files whenever a YAML file in the config directory
// changes, until ctx is done. A failed reload keeps the previous configuration.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(l.configDir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir %s: %w", l.configDir, err)
	}

	go func() {
		defer watcher.Close()

		timer := time.NewTimer(reloadDebounce)
		timer.Stop()
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isConfigEvent(event) {
					continue
				}
				l.logger.Debug("config file changed", "file", event.Name, "op", event.Op.String())
				timer.Reset(reloadDebounce)
			case <-timer.C:
				l.reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Error("fsnotify error", "error", err)
			}
		}
	}()

	return nil
}

func (l *Loader) reload() {
	if err := l.Load(); err != nil {
		l.logger.Error("config reload rejected, keeping previous configuration", "error", err)
		return
	}
	for _, fn := range l.watchers {
		fn()
	}
}

func isConfigEvent(event fsnotify.Event) bool {
	switch filepath.Ext(event.Name) {
	case ".yaml", ".yml":
	default:
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}
