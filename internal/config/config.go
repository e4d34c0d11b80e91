package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest dexsmith looks for next to its input.
const FileName = "dexsmith.toml"

// ErrUnknownPass is wrapped by Validate for every pass name the registry
// does not know.
var ErrUnknownPass = errors.New("unknown pass")

// Config is the root of a dexsmith.toml manifest.
type Config struct {
	Optimize OptimizeConfig `toml:"optimize"`
	Passes   PassesConfig   `toml:"passes"`
}

// OptimizeConfig drives the overall pipeline.
type OptimizeConfig struct {
	// Passes lists the transform passes to run, in order.
	Passes []string `toml:"passes"`
	// Jobs caps worker parallelism; 0 means one worker per CPU.
	Jobs int `toml:"jobs"`
	// LegacyCFG builds control-flow graphs with exceptional edges leaving
	// the throwing instruction's own block.
	LegacyCFG bool `toml:"legacy_cfg"`
	// MaxDiagnostics bounds the diagnostics collected per run.
	MaxDiagnostics int `toml:"max_diagnostics"`
}

// PassesConfig groups per-pass tables.
type PassesConfig struct {
	Builders BuildersConfig `toml:"builders"`
}

// BuildersConfig tunes the builder-removal pass.
type BuildersConfig struct {
	// Suffix selects builder classes by descriptor suffix.
	Suffix string `toml:"suffix"`
	// Blocklist lists class descriptors the pass must not touch.
	Blocklist []string `toml:"blocklist"`
	// UseLiveness lets inlining reuse caller registers that are dead
	// across the call. Off by default: a register holding a value only
	// reachable through a builder field looks dead at the call site but
	// is reused once the field reads are rewired to it.
	UseLiveness bool `toml:"use_liveness"`
	// MaxInlineSize skips callees above this many code units; 0 means
	// no limit.
	MaxInlineSize int `toml:"max_inline_size"`
}

// Default returns the configuration used when no manifest is present.
func Default() *Config {
	return &Config{
		Optimize: OptimizeConfig{
			Passes:         []string{"builders"},
			MaxDiagnostics: 100,
		},
		Passes: PassesConfig{
			Builders: BuildersConfig{
				Suffix: "Builder;",
			},
		},
	}
}

// Find walks up from startDir looking for a dexsmith.toml.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Load parses a manifest, layering it over Default. Keys the schema does
// not know are rejected rather than silently dropped.
func Load(path string) (*Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if meta.IsDefined("optimize", "jobs") && cfg.Optimize.Jobs < 0 {
		return nil, fmt.Errorf("%s: [optimize].jobs must be >= 0", path)
	}
	if meta.IsDefined("optimize", "max_diagnostics") && cfg.Optimize.MaxDiagnostics <= 0 {
		return nil, fmt.Errorf("%s: [optimize].max_diagnostics must be > 0", path)
	}
	if meta.IsDefined("passes", "builders", "suffix") && strings.TrimSpace(cfg.Passes.Builders.Suffix) == "" {
		return nil, fmt.Errorf("%s: [passes.builders].suffix must not be empty", path)
	}
	return cfg, nil
}

// Validate checks every configured pass name against the set of passes the
// caller knows how to run.
func (c *Config) Validate(known []string) error {
	index := make(map[string]bool, len(known))
	for _, name := range known {
		index[name] = true
	}
	for _, name := range c.Optimize.Passes {
		if !index[name] {
			return fmt.Errorf("%w: %q (known: %s)", ErrUnknownPass, name, strings.Join(known, ", "))
		}
	}
	return nil
}
