package formula

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// NewLogger builds the engine logger. output defaults to stderr.
func NewLogger(cfg Config, output io.Writer) hclog.Logger {
	if output == nil {
		output = os.Stderr
	}
	level := hclog.LevelFromString(cfg.LogLevel)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	if cfg.DebugFormulas {
		level = hclog.Trace
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "formula",
		Level:  level,
		Output: output,
	})
}
