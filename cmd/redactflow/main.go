package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"

	"github.com/urfave/cli/v3"

	"redactflow/internal/config"
	"redactflow/internal/logger"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	v, c, d := version, commit, date

	// go install leaves ldflags unset; fall back to the module build info.
	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if mv := info.Main.Version; mv != "" && mv != "(devel)" {
				v = mv
			}
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					c = s.Value
				case "vcs.time":
					d = s.Value
				}
			}
		}
	}

	short := c
	if len(c) > 7 {
		short = c[:7]
	}
	return fmt.Sprintf("%s (%s) %s", v, short, d)
}

// Flags holds the global flag values shared by every command.
type Flags struct {
	ConfigPath string
	LogLevel   string

	Config *config.Config
}

func main() {
	app := newApp(os.Stdin, os.Stdout)
	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newApp builds the command tree. Command output goes to w; sanitize and
// detokenize read their text from r unless --in is given.
func newApp(r io.Reader, w io.Writer) *cli.Command {
	flags := &Flags{}

	return &cli.Command{
		Name:      "redactflow",
		Usage:     "Reversible tokenization of sensitive text",
		UsageText: "redactflow [global options] command [command options]",
		Description: `redactflow replaces sensitive values in text with stable tokens such as
[PERSON_1] and keeps the token map so the values can be restored later.

Run 'redactflow serve' to start the HTTP API.`,
		Version: build(),
		Reader:  r,
		Writer:  w,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("REDACT_CONFIG"),
				Value:       config.DefaultPath,
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error); overrides the config file",
				Sources:     cli.EnvVars("REDACT_LOG_LEVEL"),
				Destination: &flags.LogLevel,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			cfg, err := config.Load(flags.ConfigPath)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			if flags.LogLevel != "" {
				if !logger.ValidLevel(flags.LogLevel) {
					return ctx, fmt.Errorf("invalid log level %q", flags.LogLevel)
				}
				cfg.LogLevel = strings.ToLower(flags.LogLevel)
			}
			logger.Configure(os.Stderr, cfg.LogFormat)
			flags.Config = cfg
			return ctx, nil
		},
		Commands: []*cli.Command{
			serveCmd(flags),
			sanitizeCmd(flags),
			detokenizeCmd(flags),
			deleteCmd(flags),
			{
				Name:  "version",
				Usage: "print the version",
				Action: func(_ context.Context, c *cli.Command) error {
					_, err := fmt.Fprintln(c.Root().Writer, build())
					return err
				},
			},
		},
	}
}

// printBanner writes the startup summary for serve.
func printBanner(w io.Writer, cfg *config.Config) {
	store := "memory"
	if cfg.StorePath != "" {
		store = "bolt " + cfg.StorePath
	}
	auth := "disabled"
	if cfg.APIToken != "" {
		auth = "bearer token"
	}
	cache := "disabled"
	if cfg.DetectionCache.Capacity > 0 {
		cache = fmt.Sprintf("%d entries", cfg.DetectionCache.Capacity)
		if cfg.DetectionCache.Path != "" {
			cache += " (" + cfg.DetectionCache.Path + ")"
		}
	}

	fmt.Fprintf(w, "redactflow %s\n", build())
	fmt.Fprintf(w, "  Listen:       http://%s\n", cfg.Addr())
	fmt.Fprintf(w, "  Auth:         %s\n", auth)
	fmt.Fprintf(w, "  Detectors:    %s\n", strings.Join(cfg.Detectors, ", "))
	fmt.Fprintf(w, "  Entity types: %s\n", strings.Join(cfg.EntityTypes, ", "))
	fmt.Fprintf(w, "  Offsets:      %s\n", cfg.OffsetUnit)
	fmt.Fprintf(w, "  Sessions:     %s, ttl %s\n", store, cfg.SessionTTL)
	fmt.Fprintf(w, "  Cache:        %s\n", cache)
}
