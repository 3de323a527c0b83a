package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment override: SHIMMER_BROWSER_REMOTE
// sets browser.remote.
const EnvPrefix = "SHIMMER_"

// DefaultFile is read when no path is given and it exists.
const DefaultFile = "shimmer.yaml"

// flagKeys maps command-line flag names to config keys. Flags not listed
// here are not configuration.
var flagKeys = map[string]string{
	"addr":          "server.addr",
	"remote":        "browser.remote",
	"chrome-bin":    "browser.bin",
	"headful":       "browser.headless",
	"stealth":       "browser.stealth",
	"max-stages":    "browser.max_stages",
	"width":         "measure.default_width",
	"retry-delay":   "measure.retry_delay",
	"retry-budget":  "measure.retry_budget",
	"settle":        "measure.settle",
	"journal":       "journal.path",
	"no-journal":    "journal.enabled",
	"no-sanitize":   "sanitize.enabled",
	"log-level":     "log.level",
	"log-format":    "log.format",
	"shimmer-color": "shimmer.shimmer_color",
	"background":    "shimmer.background_color",
	"duration":      "shimmer.duration_seconds",
	"radius":        "shimmer.fallback_radius_px",
}

// negated flags carry the opposite of their config key.
var negated = map[string]bool{
	"headful":     true,
	"no-journal":  true,
	"no-sanitize": true,
}

// Load builds the configuration. An empty path falls back to DefaultFile
// when it exists; an explicit path must exist. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultValues(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	path, err := ResolvePath(path)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			if negated[f.Name] {
				on, _ := flags.GetBool(f.Name)
				return key, !on
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("config: load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default is the configuration with no file, env or flags applied.
func Default() *Config {
	k := koanf.New(".")
	var cfg Config
	// The defaults map always decodes.
	_ = k.Load(confmap.Provider(defaultValues(), "."), nil)
	_ = k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"})
	cfg.applyDefaults()
	return &cfg
}

// ResolvePath returns the config file Load would read: path itself, which
// must exist, or DefaultFile when path is empty and it exists, or "".
func ResolvePath(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config: %w", err)
		}
		return path, nil
	}
	if _, err := os.Stat(DefaultFile); err == nil {
		return DefaultFile, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("config: %w", err)
	}
	return "", nil
}

// envKey maps SHIMMER_MEASURE_RETRY_DELAY to measure.retry_delay: the first
// segment names the section.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + rest
}
