package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TODO_"

// PathEnvVar names the variable holding the config file path.
const PathEnvVar = EnvPrefix + "CONFIG"

// DefaultConfigPaths are tried in order when no path is given.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/todod/config.yaml",
}

// sections are the top level keys. An environment variable is split after
// the section name only, so TODO_STORE_MAX_OPEN_CONNS maps to
// store.max_open_conns.
var sections = []string{"server", "store", "mongo", "cache", "events_breaker", "events", "nats", "log"}

// sliceFields are comma separated when set from the environment.
var sliceFields = []string{"server.cors_origins"}

// Load reads the configuration. An empty path falls back to $TODO_CONFIG
// and DefaultConfigPaths; a missing default file is not an error, a
// missing explicit file is.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	path, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}
	if err := splitSlices(k); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func resolvePath(path string) (string, error) {
	if path == "" {
		path = os.Getenv(PathEnvVar)
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file %s: %w", path, err)
		}
		return path, nil
	}
	for _, candidate := range DefaultConfigPaths {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("config file %s: %w", candidate, err)
		}
	}
	return "", nil
}

// envKey maps TODO_SECTION_SOME_KEY to section.some_key. Unknown sections
// and the config path variable are ignored.
func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	if key == "config" {
		return ""
	}
	for _, section := range sections {
		rest, ok := strings.CutPrefix(key, section+"_")
		if !ok || rest == "" {
			continue
		}
		return strings.ReplaceAll(section, "_", ".") + "." + rest
	}
	return ""
}

func splitSlices(k *koanf.Koanf) error {
	for _, path := range sliceFields {
		raw, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		var parts []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}
