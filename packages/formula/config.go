package formula

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// DefaultMaxRecalcDepth bounds how many rounds of follow-up recalculations
// one change may cause
const DefaultMaxRecalcDepth = 64

// Config holds the engine settings
type Config struct {
	LogLevel string `yaml:"log_level"`
	// DebugFormulas logs every recalculation at trace level
	DebugFormulas bool `yaml:"debug_formulas"`
	// RandomSeed makes random functions repeatable; 0 is nondeterministic
	RandomSeed     uint64 `yaml:"random_seed"`
	MaxRecalcDepth int    `yaml:"max_recalc_depth"`
	// UseSafeSymbolNames sanitizes names into bare identifiers when
	// canonicalizing. turning it off only matches names spelled exactly.
	UseSafeSymbolNames bool `yaml:"use_safe_symbol_names"`
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		LogLevel:           "info",
		MaxRecalcDepth:     DefaultMaxRecalcDepth,
		UseSafeSymbolNames: true,
	}
}

// LoadConfig reads a YAML config file. keys missing from the file keep
// their defaults.
func LoadConfig(fs afero.Fs, path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// Validate reports every problem with the config at once
func (c Config) Validate() error {
	var result *multierror.Error
	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		result = multierror.Append(result, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	if c.MaxRecalcDepth < 1 {
		result = multierror.Append(result, fmt.Errorf("max_recalc_depth must be positive, got %d", c.MaxRecalcDepth))
	}
	return result.ErrorOrNil()
}
