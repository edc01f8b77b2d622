package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"redactflow/internal/api"
	"redactflow/internal/config"
	"redactflow/internal/detector"
	"redactflow/internal/logger"
	"redactflow/internal/metrics"
	"redactflow/internal/service"
	"redactflow/internal/session"
	"redactflow/internal/tokenmap"
)

// openStore opens the bolt session store when a path is configured and an
// in-memory store otherwise.
func openStore(cfg *config.Config, log *logger.Logger) (session.Store, error) {
	if cfg.StorePath == "" {
		return session.NewMemoryStore(cfg.SessionTTL), nil
	}
	return session.OpenBoltStore(cfg.StorePath, cfg.SessionTTL, log)
}

// stack bundles what every command needs. close releases it in reverse
// order of construction.
type stack struct {
	svc      *service.Service
	store    session.Store
	pipeline *detector.Pipeline
	metrics  *metrics.Metrics
}

func (rt *stack) close(log *logger.Logger) {
	if rt.pipeline != nil {
		if err := rt.pipeline.Close(); err != nil {
			log.Warnf("shutdown", "close detection cache: %v", err)
		}
	}
	if err := rt.store.Close(); err != nil {
		log.Warnf("shutdown", "close session store: %v", err)
	}
}

// newStack wires store, detectors and service. Detectors are only built
// when withDetectors is set.
func newStack(cfg *config.Config, withDetectors bool) (*stack, error) {
	m := &metrics.Metrics{}
	store, err := openStore(cfg, logger.New("STORE", cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	rt := &stack{store: store, metrics: m}

	var det detector.Detector
	if withDetectors {
		rt.pipeline, err = detector.FromConfig(cfg, m, logger.New("DETECT", cfg.LogLevel))
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("build detectors: %w", err)
		}
		det = rt.pipeline
	}

	rt.svc = service.New(store, det, m, logger.New("SERVICE", cfg.LogLevel), service.Options{
		WholeWordManual: cfg.WholeWordManual,
	})
	return rt, nil
}

func serveCmd(flags *Flags) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "start the HTTP API",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := flags.Config
			log := logger.New("MAIN", cfg.LogLevel)

			rt, err := newStack(cfg, true)
			if err != nil {
				return err
			}
			defer rt.close(log)

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			go rt.svc.RunSweeper(ctx, cfg.SweepInterval)

			printBanner(c.Root().Writer, cfg)
			srv := api.New(cfg, rt.svc, rt.metrics, logger.New("API", cfg.LogLevel), build())
			if err := srv.ListenAndServe(ctx); err != nil {
				return fmt.Errorf("api server: %w", err)
			}
			log.Info("shutdown", "server stopped")
			return nil
		},
	}
}

// readInput returns the contents of path, or of r when path is empty or "-".
func readInput(r io.Reader, path string) (string, error) {
	if path != "" && path != "-" {
		r2, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer func() { _ = r2.Close() }()
		r = r2
	}
	if r == nil {
		return "", errors.New("no input")
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type sanitizeOutput struct {
	TokenMapID    string                `json:"token_map_id"`
	SanitizedText string                `json:"sanitized_text"`
	Tokens        []tokenmap.Occurrence `json:"tokens"`
	ExpiresAt     time.Time             `json:"expires_at"`
}

func sanitizeCmd(flags *Flags) *cli.Command {
	return &cli.Command{
		Name:      "sanitize",
		Usage:     "detect and tokenize text, printing the session as JSON",
		UsageText: "redactflow sanitize [--in file] [--entities TYPE ...]",
		Description: `Reads text from --in or standard input. Offsets in the output are byte
offsets. Without storePath the session lives only for this invocation.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "in", Usage: "input file (default: stdin)"},
			&cli.StringSliceFlag{Name: "entities", Usage: "restrict detection to these entity types"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := flags.Config
			log := logger.New("MAIN", cfg.LogLevel)

			text, err := readInput(c.Root().Reader, c.String("in"))
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			rt, err := newStack(cfg, true)
			if err != nil {
				return err
			}
			defer rt.close(log)

			if cfg.StorePath == "" {
				log.Warn("sanitize", "no storePath configured; the token map will not outlive this command")
			}

			v, err := rt.svc.Sanitize(ctx, service.SanitizeRequest{Text: text, Entities: c.StringSlice("entities")})
			if err != nil {
				return err
			}
			return writeJSON(c.Root().Writer, sanitizeOutput{
				TokenMapID:    v.SessionID,
				SanitizedText: v.Text,
				Tokens:        v.Occurrences,
				ExpiresAt:     v.ExpiresAt,
			})
		},
	}
}

type detokenizeOutput struct {
	DetokenizedText string `json:"detokenized_text"`
	Restored        int    `json:"restored"`
	Unknown         int    `json:"unknown"`
}

func detokenizeCmd(flags *Flags) *cli.Command {
	return &cli.Command{
		Name:      "detokenize",
		Usage:     "restore tokens in text from a stored session",
		UsageText: "redactflow detokenize --session ID [--in file]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "token map id", Required: true},
			&cli.StringFlag{Name: "in", Usage: "input file (default: stdin)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := flags.Config
			log := logger.New("MAIN", cfg.LogLevel)

			text, err := readInput(c.Root().Reader, c.String("in"))
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			rt, err := newStack(cfg, false)
			if err != nil {
				return err
			}
			defer rt.close(log)

			out, stats, err := rt.svc.Detokenize(ctx, c.String("session"), text)
			if err != nil {
				return err
			}
			return writeJSON(c.Root().Writer, detokenizeOutput{
				DetokenizedText: out,
				Restored:        stats.Restored,
				Unknown:         stats.Unknown,
			})
		},
	}
}

func deleteCmd(flags *Flags) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "delete a stored session",
		UsageText: "redactflow delete --session ID",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "token map id", Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := flags.Config
			log := logger.New("MAIN", cfg.LogLevel)

			rt, err := newStack(cfg, false)
			if err != nil {
				return err
			}
			defer rt.close(log)

			id := c.String("session")
			if err := rt.svc.Delete(ctx, id); err != nil {
				return err
			}
			return writeJSON(c.Root().Writer, map[string]string{"deleted": id})
		},
	}
}
