package main

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/bdougie/vidclassify/internal/config"
)

type commandContext struct {
	configFlag *string
	debugFlag  *bool

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func newCommandContext(configFlag *string, debugFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		debugFlag:  debugFlag,
	}
}

// loadConfig returns a copy so commands can apply their own flag overrides.
func (c *commandContext) loadConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.Load(path)
	})
	cfg := c.config
	cfg.Extensions = append([]string(nil), c.config.Extensions...)
	cfg.Labels = append([]string(nil), c.config.Labels...)
	return cfg, c.configErr
}

func (c *commandContext) debug() bool {
	return c.debugFlag != nil && *c.debugFlag
}

// newLogger writes tinted records to the command's stderr, tagged with a
// fresh run id.
func (c *commandContext) newLogger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	level := parseLevel(cfg.LogLevel)
	if c.debug() {
		level = slog.LevelDebug
	}
	w := cmd.ErrOrStderr()
	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
		NoColor:    !isTerminal(w),
	})
	return slog.New(handler).With("run", uuid.NewString())
}

func parseLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
