package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v2"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxWorkers != 5 {
		t.Errorf("expected default max_workers 5, got %d", cfg.MaxWorkers)
	}
	if cfg.ConvertWorkers != 2 {
		t.Errorf("expected default convert_workers 2, got %d", cfg.ConvertWorkers)
	}
	if cfg.Portal.BaseURL == "" {
		t.Error("expected a default portal base URL")
	}
	if cfg.SkipMerge {
		t.Error("merging should be enabled by default")
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Setenv("SLATE_TEST_USER", "alice")

	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"plain value", "alice", "alice"},
		{"env reference", "${SLATE_TEST_USER}", "alice"},
		{"embedded reference", "user-${SLATE_TEST_USER}-x", "user-alice-x"},
		{"unset reference", "${SLATE_TEST_UNSET_VAR}", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveEnvVars(tt.value); got != tt.want {
				t.Errorf("ResolveEnvVars(%q) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestResolveWorkers(t *testing.T) {
	tests := []struct {
		name       string
		explicit   int
		configured int
		want       int
	}{
		{"explicit wins", 8, 3, 8},
		{"configured wins over default", 0, 3, 3},
		{"default when unset", 0, 0, 5},
		{"invalid explicit falls back", -2, 3, 5},
		{"invalid configured falls back", 0, -1, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveWorkers(tt.explicit, tt.configured, 5, slog.Default())
			if got != tt.want {
				t.Errorf("ResolveWorkers(%d, %d, 5) = %d, want %d", tt.explicit, tt.configured, got, tt.want)
			}
		})
	}
}

func TestResolveWorkersWarnsOnInvalidExplicit(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ResolveWorkers(-1, 0, 5, logger)
	if !strings.Contains(buf.String(), "invalid worker count") {
		t.Errorf("expected warning for invalid explicit override, got: %q", buf.String())
	}
}

func TestResolveWorkersWarnsOnInvalidConfigured(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	if got := ResolveWorkers(0, -3, 5, logger); got != 5 {
		t.Errorf("ResolveWorkers(0, -3, 5) = %d, want 5", got)
	}
	if !strings.Contains(buf.String(), "invalid worker count") {
		t.Errorf("expected warning for invalid configured value, got: %q", buf.String())
	}
}

func TestNewManagerToleratesMalformedWorkerEnv(t *testing.T) {
	t.Setenv("SLATE_MAX_WORKERS", "abc")

	// point at a real config file so the manager never picks up a stray
	// config.yaml from the search path
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}

	cm, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager must not fail on a malformed worker count: %v", err)
	}

	cfg := cm.Get()
	if cfg.MaxWorkers != 0 {
		t.Errorf("malformed max_workers should decode to unset, got %d", cfg.MaxWorkers)
	}
	if got := ResolveWorkers(0, cfg.MaxWorkers, DefaultMaxWorkers, slog.Default()); got != DefaultMaxWorkers {
		t.Errorf("resolved workers = %d, want default %d", got, DefaultMaxWorkers)
	}
}

func TestNewManagerAcceptsNumericWorkerEnv(t *testing.T) {
	t.Setenv("SLATE_MAX_WORKERS", "7")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}

	cm, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if got := cm.Get().MaxWorkers; got != 7 {
		t.Errorf("max_workers from environment = %d, want 7", got)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# Slate configuration") {
		t.Error("expected config header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.MaxWorkers != DefaultMaxWorkers {
		t.Errorf("round-tripped max_workers = %d, want %d", cfg.MaxWorkers, DefaultMaxWorkers)
	}
	if cfg.Portal.Username != "${SLATE_USERNAME}" {
		t.Errorf("expected env-reference credential placeholder, got %q", cfg.Portal.Username)
	}
}
