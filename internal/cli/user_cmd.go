// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// user_cmd.go - account administration.

package cli

import (
	"bufio"
	"fmt"
	"log/slog"
)

// HandleUser handles the "user" command.
// Subcommands:
//   - user add <name>: register an account, reading the password twice
//   - user list: list account names
//   - user totp <name>: enable a second factor
func HandleUser(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	users, err := openUsers(cfg, slog.Default())
	if err != nil {
		return NewCommandError("user", args.Subcommand, "cannot open user file", err)
	}

	switch args.Subcommand {
	case "", "list":
		return OutputJSON(args.JSON, "user list", func() (any, error) {
			names, err := users.Usernames()
			if err != nil {
				return nil, err
			}
			if !args.JSON {
				if len(names) == 0 {
					fmt.Fprintln(stdout, "No accounts registered.")
				}
				for _, n := range names {
					fmt.Fprintln(stdout, n)
				}
			}
			return map[string]any{"users": names}, nil
		})

	case "add":
		name, err := requirePositional(args.Parser, 1, "username", "stembot user add <name>")
		if err != nil {
			return err
		}
		lines := bufio.NewReader(stdin)
		password, err := readPassword("Password: ", lines)
		if err != nil {
			return err
		}
		confirm, err := readPassword("Confirm password: ", lines)
		if err != nil {
			return err
		}
		if err := users.Register(name, password, confirm); err != nil {
			return err
		}
		return OutputJSON(args.JSON, "user add", func() (any, error) {
			if !args.JSON {
				fmt.Fprintf(stdout, "Account '%s' registered.\n", name)
			}
			return map[string]string{"username": name}, nil
		})

	case "totp":
		name, err := requirePositional(args.Parser, 1, "username", "stembot user totp <name>")
		if err != nil {
			return err
		}
		url, err := users.EnrollTOTP(name)
		if err != nil {
			return err
		}
		return OutputJSON(args.JSON, "user totp", func() (any, error) {
			if !args.JSON {
				fmt.Fprintf(stdout, "Second factor enabled for '%s'.\n", name)
				fmt.Fprintf(stdout, "Add this URL to an authenticator app:\n  %s\n", url)
			}
			return map[string]string{"username": name, "otpauth_url": url}, nil
		})

	default:
		return NewValidationError("subcommand", args.Subcommand, "expected add, list or totp")
	}
}
