package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	viper.SetDefault("base_dir", defaults.BaseDir)
	viper.SetDefault("max_workers", defaults.MaxWorkers)
	viper.SetDefault("convert_workers", defaults.ConvertWorkers)
	viper.SetDefault("keep_repaired", defaults.KeepRepaired)
	viper.SetDefault("skip_merge", defaults.SkipMerge)
	viper.SetDefault("soffice_path", defaults.SofficePath)
	viper.SetDefault("fzf_path", defaults.FzfPath)
	viper.SetDefault("portal", defaults.Portal)

	// Environment variables with SLATE_ prefix
	viper.SetEnvPrefix("SLATE")
	viper.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.slate")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct. Worker counts
// decode leniently: a malformed SLATE_MAX_WORKERS must fall back to the
// default with a warning, not abort the run.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg, viper.DecodeHook(lenientIntHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// lenientIntHook turns string values that cannot parse as integers into
// zero, which ResolveWorkers treats as unset. The only integer settings are
// the worker counts.
func lenientIntHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Int {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return 0, nil
		}
		if _, err := strconv.Atoi(raw); err != nil {
			slog.Warn("invalid worker count, using default", "value", raw)
			return 0, nil
		}
		return raw, nil
	}
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	viper.WatchConfig()
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// ResolveWorkers picks a worker pool size: explicit override first, then the
// configured value, then def. Negative candidates at either level log a
// warning and fall back rather than failing the run.
func ResolveWorkers(explicit, configured, def int, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	if explicit != 0 {
		if explicit > 0 {
			return explicit
		}
		logger.Warn("invalid worker count, using default", "requested", explicit, "default", def)
		return def
	}
	if configured > 0 {
		return configured
	}
	if configured < 0 {
		logger.Warn("invalid worker count, using default", "requested", configured, "default", def)
	}
	return def
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Slate configuration
# Credentials use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell or a .env file: SLATE_USERNAME=xxx SLATE_PASSWORD=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
