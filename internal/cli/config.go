// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - config, models and usage commands.

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/jeranaias/stembot/internal/config"
	"github.com/jeranaias/stembot/internal/telemetry"
)

// =============================================================================
// CONFIG
// =============================================================================

// HandleConfig handles the "config" command.
// Subcommands:
//   - config init [--force]: write the defaults to the config file
//   - config show: print the effective configuration as TOML
//   - config validate: load and validate the config file
//   - config path: print the config file path
func HandleConfig(args Args) error {
	path := config.Path(args.ConfigPath)

	switch args.Subcommand {
	case "init":
		if _, err := os.Stat(path); err == nil && !args.Parser.BoolFlag("force") {
			return NewValidationError("config", path, "file exists, use --force to overwrite")
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err := config.Save(config.Default(), path); err != nil {
			return err
		}
		return OutputJSON(args.JSON, "config init", func() (any, error) {
			if !args.JSON {
				fmt.Fprintf(stdout, "Wrote %s\n", path)
			}
			return map[string]string{"path": path}, nil
		})

	case "", "show":
		cfg, err := loadConfig(args)
		if err != nil {
			return err
		}
		if args.JSON {
			return NewJSONResponse("config show", cfg).Print()
		}
		fmt.Fprint(stdout, cfg.String())
		return nil

	case "validate":
		if _, err := loadConfig(args); err != nil {
			return err
		}
		return OutputJSON(args.JSON, "config validate", func() (any, error) {
			if !args.JSON {
				fmt.Fprintf(stdout, "Configuration OK (%s)\n", path)
			}
			return map[string]any{"path": path, "valid": true}, nil
		})

	case "path":
		fmt.Fprintln(stdout, path)
		return nil

	default:
		return NewValidationError("subcommand", args.Subcommand, "expected init, show, validate or path")
	}
}

// =============================================================================
// MODELS
// =============================================================================

// HandleModels lists the models the Ollama server offers.
func HandleModels(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	client := newGateway(cfg, slog.Default()).Client()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	infos, err := client.ListModels(ctx)
	if err != nil {
		return NewCommandError("models", "list", "cannot reach "+cfg.Ollama.BaseURL, err)
	}

	names := make([]string, 0, len(infos))
	for _, m := range infos {
		names = append(names, m.Name)
	}
	sort.Strings(names)

	if args.JSON {
		return NewJSONResponse("models", map[string]any{
			"models":  names,
			"default": cfg.Ollama.DefaultModel,
		}).Print()
	}
	if len(names) == 0 {
		fmt.Fprintln(stdout, "The server offers no models.")
		return nil
	}
	for _, n := range names {
		marker := " "
		if n == cfg.Ollama.DefaultModel {
			marker = "*"
		}
		fmt.Fprintf(stdout, "%s %s\n", marker, n)
	}
	return nil
}

// =============================================================================
// USAGE
// =============================================================================

// HandleUsage prints per-model usage or prunes old records.
func HandleUsage(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	tracker, err := openUsage(cfg)
	if err != nil {
		return err
	}

	if args.Subcommand == "prune" {
		before := args.Parser.Flag("before")
		t, err := time.ParseInLocation(telemetry.DateLayout, before, time.Local)
		if err != nil {
			return &ValidationError{Field: "--before", Value: before, Reason: "expected a date", Example: "stembot usage prune --before 2025-01-31"}
		}
		n, err := tracker.DeleteBefore(t)
		if err != nil {
			return err
		}
		return OutputJSON(args.JSON, "usage prune", func() (any, error) {
			if !args.JSON {
				fmt.Fprintf(stdout, "%d daily records deleted.\n", n)
			}
			return map[string]int{"deleted": n}, nil
		})
	}
	if args.Subcommand != "" {
		return NewValidationError("subcommand", args.Subcommand, "expected prune or no subcommand")
	}

	days, err := args.Parser.FlagInt("days", 7)
	if err != nil {
		return err
	}
	summary, err := tracker.Summary(days)
	if err != nil {
		return err
	}
	if args.JSON {
		return NewJSONResponse("usage", summary).Print()
	}
	printUsage(summary)
	return nil
}

func printUsage(s *telemetry.UsageSummary) {
	fmt.Fprintf(stdout, "Usage over the last %d days\n\n", s.Days)
	if s.Total.Queries == 0 {
		fmt.Fprintln(stdout, "No model calls recorded.")
		return
	}

	names := make([]string, 0, len(s.Models))
	for name := range s.Models {
		names = append(names, name)
	}
	sort.Strings(names)

	row := "%-24s %8s %8s %10s %10s %8s\n"
	fmt.Fprintf(stdout, row, "MODEL", "QUERIES", "FAILED", "PROMPT", "REPLY", "AVG(s)")
	for _, name := range names {
		m := s.Models[name]
		fmt.Fprintf(stdout, row, name,
			fmt.Sprint(m.Queries), fmt.Sprint(m.Failures),
			fmt.Sprint(m.PromptTokens), fmt.Sprint(m.ReplyTokens),
			fmt.Sprintf("%.1f", m.AverageSeconds()))
	}
	t := s.Total
	fmt.Fprintf(stdout, row, "TOTAL",
		fmt.Sprint(t.Queries), fmt.Sprint(t.Failures),
		fmt.Sprint(t.PromptTokens), fmt.Sprint(t.ReplyTokens),
		fmt.Sprintf("%.1f", t.AverageSeconds()))
}
