package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const (
	FileName  = "twirlhost.yaml"
	EnvPrefix = "TWIRLHOST_"

	DefaultArtifacts = ".twirlhost/artifacts.yaml"
	DefaultLedger    = ".twirlhost/ledger.db"
	DefaultVersion   = "2.11"
)

type Config struct {
	// ProjectRoot anchors every relative path below.
	ProjectRoot    string        `koanf:"-"`
	ConfigFile     string        `koanf:"-"`
	Artifacts      string        `koanf:"artifacts"`
	Ledger         string        `koanf:"ledger"`
	CacheSize      int           `koanf:"cache_size"`
	StartTimeout   time.Duration `koanf:"start_timeout"`
	CallTimeout    time.Duration `koanf:"call_timeout"`
	Jobs           int           `koanf:"jobs"`
	LogLevel       string        `koanf:"log_level"`
	DefaultVersion string        `koanf:"default_version"`
}

func defaults() map[string]any {
	return map[string]any{
		"artifacts":       DefaultArtifacts,
		"ledger":          DefaultLedger,
		"cache_size":      4,
		"start_timeout":   "3s",
		"call_timeout":    "30s",
		"jobs":            4,
		"log_level":       "info",
		"default_version": DefaultVersion,
	}
}

// flagKeys maps flags whose names differ from their config keys.
var flagKeys = map[string]string{
	"twirl-version": "default_version",
}

// Load resolves configuration for projectRoot.
// Precedence (highest to lowest): changed flags > TWIRLHOST_* env > twirlhost.yaml > defaults.
// An empty cfgFile selects <projectRoot>/twirlhost.yaml when present.
func Load(projectRoot, cfgFile string, flags *pflag.FlagSet) (Config, error) {
	if projectRoot == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("resolve working directory: %w", err)
		}
		projectRoot = cwd
	}
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return Config{}, fmt.Errorf("resolve project root: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if cfgFile == "" {
		candidate := filepath.Join(root, FileName)
		if _, err := os.Stat(candidate); err == nil {
			cfgFile = candidate
		}
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", cfgFile, err)
		}
	}

	// TWIRLHOST_CACHE_SIZE -> cache_size
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if mapped, ok := flagKeys[f.Name]; ok {
				key = mapped
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return Config{}, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.ProjectRoot = root
	cfg.ConfigFile = cfgFile
	cfg.Artifacts = resolve(cfg.Artifacts, root)
	cfg.Ledger = resolve(cfg.Ledger, root)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Artifacts == "" {
		return fmt.Errorf("artifacts path is required")
	}
	if c.Ledger == "" {
		return fmt.Errorf("ledger path is required")
	}
	if c.CacheSize < 1 {
		return fmt.Errorf("cache_size must be at least 1, got %d", c.CacheSize)
	}
	if c.Jobs < 1 {
		return fmt.Errorf("jobs must be at least 1, got %d", c.Jobs)
	}
	if c.StartTimeout <= 0 {
		return fmt.Errorf("start_timeout must be positive")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be positive")
	}
	if strings.TrimSpace(c.DefaultVersion) == "" {
		return fmt.Errorf("default_version is required")
	}
	return nil
}

func resolve(path, root string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
