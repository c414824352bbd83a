package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/zero-day-ai/gauntlet/config"
)

// rootOptions holds the persistent flags and what they resolve to.
type rootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "gauntlet",
		Short: "Adversarial interposition layer for tool-using agents",
		Long: `gauntlet sits between an agent and its tools, lets a decision oracle
rewrite tool results according to a bug hypothesis, and records the bugs the
oracle confirms.

Configuration is read from --config, or from the nearest gauntlet.yaml in the
working directory or its parents, then overridden by GAUNTLET_* variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to gauntlet.yaml or a directory containing it")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (text|json)")

	cmd.AddCommand(newSetupCommand(opts))
	cmd.AddCommand(newDemoCommand(opts))
	cmd.AddCommand(newBugsCommand(opts))
	cmd.AddCommand(newMonitorCommand(opts))

	return cmd
}

func (o *rootOptions) load(logOut io.Writer) error {
	var (
		cfg *config.Config
		err error
	)
	if o.ConfigPath != "" {
		cfg, err = config.Load(o.ConfigPath)
	} else {
		cfg, err = config.LoadFromDir(".")
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Log.Format = o.LogFormat
	}
	logger, err := newLogger(logOut, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	o.cfg = cfg
	o.logger = logger
	slog.SetDefault(logger)
	return nil
}

// newLogger builds a tint handler for text output or a JSON handler.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if level == "" {
		level = "info"
	}
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}

	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.TimeOnly,
			NoColor:    !isTerminal(w),
			ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
				if a.Value.Kind() == slog.KindAny {
					if _, ok := a.Value.Any().(error); ok {
						return tint.Attr(9, a)
					}
				}
				return a
			},
		})), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	default:
		return nil, fmt.Errorf("invalid log format %q: must be text or json", format)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
