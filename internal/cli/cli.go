// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - command parsing and dispatch for stembot.
package cli

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Output streams; tests replace them.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
	stdin  io.Reader = os.Stdin
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdServe Command = iota
	CmdUser
	CmdSessions
	CmdExport
	CmdModels
	CmdUsage
	CmdConfig
	CmdVersion
	CmdHelp
)

var commandNames = map[string]Command{
	"serve":    CmdServe,
	"user":     CmdUser,
	"users":    CmdUser,
	"sessions": CmdSessions,
	"session":  CmdSessions,
	"export":   CmdExport,
	"models":   CmdModels,
	"usage":    CmdUsage,
	"config":   CmdConfig,
	"version":  CmdVersion,
	"help":     CmdHelp,
}

var commandStrings = [...]string{"serve", "user", "sessions", "export", "models", "usage", "config", "version", "help"}

// String returns the canonical command name.
func (c Command) String() string {
	if c >= 0 && int(c) < len(commandStrings) {
		return commandStrings[c]
	}
	return "help"
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string // --config, overrides STEMBOT_CONFIG
	JSON       bool   // --json
	Verbose    bool   // -v, --verbose

	// Subcommand is the first positional argument after the command.
	Subcommand string

	// Parser holds the remaining flags and positionals.
	Parser *ArgParser
}

const usageText = `stembot - web chat front end for a local Ollama server

Usage:
  stembot serve                          Run the HTTP server (default)
  stembot user add <name>                Register an account (prompts for the password)
  stembot user list                      List registered accounts
  stembot user totp <name>               Enable a second factor, prints the otpauth URL
  stembot sessions list <user>           List a user's conversations, newest first
  stembot sessions show <user> <id>      Print a conversation
  stembot sessions delete <user> <id> --confirm
  stembot sessions delete-all <user> --confirm
  stembot export <user> <id>             Export a conversation
    --format txt|docx|pdf|xlsx|pptx      Export format (default: txt)
    --output DIR                         Output directory (default: exported_files)
    --no-user, --no-assistant            Leave out one side of the conversation
  stembot models                         List models offered by the Ollama server
  stembot usage [--days N]               Per-model usage summary (default: 7 days)
  stembot usage prune --before DATE      Delete usage records older than DATE (YYYY-MM-DD)
  stembot config init [--force]          Write a default stembot.toml
  stembot config show                    Print the effective configuration
  stembot config validate                Check the configuration file
  stembot version                        Show version information

Global Flags:
  --config FILE   Configuration file (default: $STEMBOT_CONFIG or stembot.toml)
  --json          Output in JSON format
  -v, --verbose   Debug logging
`

// Parse parses os.Args.
func Parse() (Command, Args) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs splits argv into a command and its arguments. An empty argv
// selects serve.
func ParseArgs(argv []string) (Command, Args) {
	cmd := CmdServe
	if len(argv) > 0 && !strings.HasPrefix(argv[0], "-") {
		c, ok := commandNames[strings.ToLower(argv[0])]
		if !ok {
			c = CmdHelp
		}
		cmd = c
		argv = argv[1:]
	}

	p := NewArgParser(argv)
	args := Args{
		ConfigPath: p.Flag("config"),
		JSON:       p.BoolFlag("json"),
		Verbose:    p.BoolFlag("verbose") || p.BoolFlag("v"),
		Subcommand: p.Subcommand(),
		Parser:     p,
	}
	if p.BoolFlag("help") || p.BoolFlag("h") {
		cmd = CmdHelp
	}
	return cmd, args
}

// Run executes cmd and returns the process exit code.
func Run(cmd Command, args Args) int {
	var err error
	switch cmd {
	case CmdServe:
		err = HandleServe(args)
	case CmdUser:
		err = HandleUser(args)
	case CmdSessions:
		err = HandleSessions(args)
	case CmdExport:
		err = HandleExport(args)
	case CmdModels:
		err = HandleModels(args)
	case CmdUsage:
		err = HandleUsage(args)
	case CmdConfig:
		err = HandleConfig(args)
	case CmdVersion:
		err = HandleVersion(args)
	default:
		fmt.Fprint(stdout, usageText)
		return ExitSuccess
	}
	if err != nil {
		DisplayError(err, cmd.String(), args.JSON)
		return GetExitCode(err)
	}
	return ExitSuccess
}

// VersionInfo is printed by the version command.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// HandleVersion prints version information.
func HandleVersion(args Args) error {
	info := VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if args.JSON {
		return NewJSONResponse("version", info).Print()
	}
	fmt.Fprintf(stdout, "stembot %s\n", info.Version)
	fmt.Fprintf(stdout, "  Commit:   %s\n", info.GitCommit)
	fmt.Fprintf(stdout, "  Built:    %s\n", info.BuildDate)
	fmt.Fprintf(stdout, "  Go:       %s\n", info.GoVersion)
	fmt.Fprintf(stdout, "  Platform: %s\n", info.Platform)
	return nil
}
