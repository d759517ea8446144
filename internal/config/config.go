package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ajranjith/source-shield/internal/support"
)

// DefaultConfigPath is where Resolve looks for an override file when no
// explicit path is given. It is relative to the project root.
const DefaultConfigPath = ".shield/config.yml"

// Config is the compiled-in configuration with optional overrides.
type Config struct {
	SchemaVersion string        `yaml:"schema_version"`
	Paths         PathsConfig   `yaml:"paths"`
	Scan          ScanConfig    `yaml:"scan"`
	Watch         WatchConfig   `yaml:"watch"`
	Backups       BackupsConfig `yaml:"backups"`
	Logging       LoggingConfig `yaml:"logging"`
}

// PathsConfig holds project-relative locations.
type PathsConfig struct {
	Manifest    string   `yaml:"manifest"`
	SourceRoots []string `yaml:"source_roots"`
	StateDir    string   `yaml:"state_dir"`
}

type ScanConfig struct {
	Dialects     []string `yaml:"dialects"`
	MaskComments *bool    `yaml:"mask_comments"`
	SkipDirs     []string `yaml:"skip_dirs"`
}

type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

type BackupsConfig struct {
	Enabled *bool `yaml:"enabled"`
	// Keep is the number of snapshots retained; 0 keeps all.
	Keep *int `yaml:"keep"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Flags struct {
	ProjectRoot string
	ConfigPath  string
}

// Default returns the compiled-in defaults.
func Default() Config {
	yes := true
	keep := 10
	return Config{
		SchemaVersion: "1.0",
		Paths: PathsConfig{
			Manifest: "app/src/main/AndroidManifest.xml",
			SourceRoots: []string{
				"app/src/main/java",
				"app/src/main/kotlin",
			},
			StateDir: ".shield",
		},
		Scan: ScanConfig{
			Dialects:     []string{"kotlin", "java"},
			MaskComments: &yes,
			SkipDirs:     []string{"build", ".gradle", ".idea", ".shield"},
		},
		Watch: WatchConfig{
			Debounce: 300 * time.Millisecond,
		},
		Backups: BackupsConfig{
			Enabled: &yes,
			Keep:    &keep,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

// Load reads a YAML config from disk.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(support.StripBOM(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve applies defaults and optional overrides, then validates. It returns
// the path of the file that was loaded, if any, and non-fatal warnings.
func Resolve(flags Flags) (Config, string, []string, error) {
	cfg := Default()
	var cfgPath string
	var warnings []string

	candidate := flags.ConfigPath
	explicit := candidate != ""
	if !explicit && flags.ProjectRoot != "" {
		candidate = filepath.Join(flags.ProjectRoot, filepath.FromSlash(DefaultConfigPath))
	}
	if candidate != "" {
		loaded, err := Load(candidate)
		switch {
		case err == nil:
			defaults := Default()
			mergeConfigDefaults(&loaded, &defaults)
			cfg = loaded
			cfgPath = candidate
		case os.IsNotExist(err) && !explicit:
			// no project override
		default:
			return Config{}, "", nil, err
		}
	}

	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = "1.0"
	}
	if cfg.Watch.Debounce < 50*time.Millisecond {
		cfg.Watch.Debounce = 50 * time.Millisecond
		warnings = append(warnings, "watch.debounce raised to 50ms")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, "", nil, err
	}
	return cfg, cfgPath, warnings, nil
}

// Validate checks the resolved configuration for consistency.
func (c *Config) Validate() error {
	if c.SchemaVersion != "1.0" {
		return fmt.Errorf("unsupported schema_version: %s (expected 1.0)", c.SchemaVersion)
	}
	if c.Paths.Manifest == "" {
		return fmt.Errorf("paths.manifest must not be empty")
	}
	if len(c.Paths.SourceRoots) == 0 {
		return fmt.Errorf("paths.source_roots must list at least one directory")
	}
	if len(c.Scan.Dialects) == 0 {
		return fmt.Errorf("scan.dialects must list at least one dialect")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unsupported logging.format: %s", c.Logging.Format)
	}
	if c.Backups.Keep != nil && *c.Backups.Keep < 0 {
		return fmt.Errorf("backups.keep must not be negative")
	}
	return nil
}

// ManifestPath returns the manifest location under root.
func (c *Config) ManifestPath(root string) string {
	return filepath.Join(root, filepath.FromSlash(c.Paths.Manifest))
}

// SourceRootPaths returns the configured source roots under root, in order.
func (c *Config) SourceRootPaths(root string) []string {
	out := make([]string, 0, len(c.Paths.SourceRoots))
	for _, r := range c.Paths.SourceRoots {
		out = append(out, filepath.Join(root, filepath.FromSlash(r)))
	}
	return out
}

// StateDirPath returns the state directory under root.
func (c *Config) StateDirPath(root string) string {
	if filepath.IsAbs(c.Paths.StateDir) {
		return c.Paths.StateDir
	}
	return filepath.Join(root, filepath.FromSlash(c.Paths.StateDir))
}

func (c *Config) MaskComments() bool {
	return c.Scan.MaskComments == nil || *c.Scan.MaskComments
}

func (c *Config) BackupsEnabled() bool {
	return c.Backups.Enabled == nil || *c.Backups.Enabled
}

// BackupsKeep returns how many snapshots to retain; 0 means all.
func (c *Config) BackupsKeep() int {
	if c.Backups.Keep == nil {
		return 0
	}
	return *c.Backups.Keep
}

func mergeConfigDefaults(cfg *Config, defaults *Config) {
	if cfg.Paths.Manifest == "" {
		cfg.Paths.Manifest = defaults.Paths.Manifest
	}
	if len(cfg.Paths.SourceRoots) == 0 {
		cfg.Paths.SourceRoots = defaults.Paths.SourceRoots
	}
	if cfg.Paths.StateDir == "" {
		cfg.Paths.StateDir = defaults.Paths.StateDir
	}
	if len(cfg.Scan.Dialects) == 0 {
		cfg.Scan.Dialects = defaults.Scan.Dialects
	}
	if cfg.Scan.MaskComments == nil {
		cfg.Scan.MaskComments = defaults.Scan.MaskComments
	}
	if cfg.Scan.SkipDirs == nil {
		cfg.Scan.SkipDirs = defaults.Scan.SkipDirs
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = defaults.Watch.Debounce
	}
	if cfg.Backups.Enabled == nil {
		cfg.Backups.Enabled = defaults.Backups.Enabled
	}
	if cfg.Backups.Keep == nil {
		cfg.Backups.Keep = defaults.Backups.Keep
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
}
