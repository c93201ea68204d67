package config

// Config holds slate configuration.
// Stored at: ~/.slate/config.yaml (overridable with --config).
type Config struct {
	// BaseDir overrides the output root (default ~/.slate/courses).
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`

	// MaxWorkers bounds concurrent class downloads per unit.
	MaxWorkers int `mapstructure:"max_workers" yaml:"max_workers"`

	// ConvertWorkers bounds concurrent office-to-PDF conversions.
	ConvertWorkers int `mapstructure:"convert_workers" yaml:"convert_workers"`

	// KeepRepaired retains zip-repair artifacts for inspection.
	KeepRepaired bool `mapstructure:"keep_repaired" yaml:"keep_repaired"`

	// SkipMerge disables per-unit and aggregate PDF merging.
	SkipMerge bool `mapstructure:"skip_merge" yaml:"skip_merge"`

	// SofficePath overrides LibreOffice binary discovery.
	SofficePath string `mapstructure:"soffice_path" yaml:"soffice_path"`

	// FzfPath overrides fzf binary discovery for interactive selection.
	FzfPath string `mapstructure:"fzf_path" yaml:"fzf_path"`

	Portal PortalConfig `mapstructure:"portal" yaml:"portal"`
}

// PortalConfig holds portal connection settings. Credentials here support
// ${ENV_VAR} syntax; most setups leave them empty and use SLATE_USERNAME /
// SLATE_PASSWORD or a .env file instead.
type PortalConfig struct {
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// Default worker pool sizes.
const (
	DefaultMaxWorkers     = 5
	DefaultConvertWorkers = 2
)

// DefaultPortalBaseURL is the production portal origin.
const DefaultPortalBaseURL = "https://www.pesuacademy.com/Academy"

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxWorkers:     DefaultMaxWorkers,
		ConvertWorkers: DefaultConvertWorkers,
		Portal: PortalConfig{
			BaseURL:  DefaultPortalBaseURL,
			Username: "${SLATE_USERNAME}",
			Password: "${SLATE_PASSWORD}",
		},
	}
}
