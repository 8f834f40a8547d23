// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// terminal.go - TTY detection and prompts.

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// isTTY reports whether stdin is an interactive terminal; tests replace it.
var isTTY = func() bool {
	f, ok := stdin.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// readPassword prompts on stderr and reads a line without echo when stdin
// is a terminal. Piped input is read as a plain line.
func readPassword(prompt string, lines *bufio.Reader) (string, error) {
	fmt.Fprint(stderr, prompt)
	if isTTY() {
		f := stdin.(*os.File)
		pw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(pw), nil
	}
	line, err := lines.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// RequireConfirmation returns true when --confirm was given or the user
// answers yes at the terminal. Without a terminal, --confirm is required.
func RequireConfirmation(confirmFlag bool, action string, jsonMode bool) (bool, error) {
	if confirmFlag {
		return true, nil
	}
	if jsonMode {
		return false, NewValidationError("--confirm", "", "required for destructive actions in JSON mode")
	}
	if !isTTY() {
		return false, NewValidationError("--confirm", "", "required when stdin is not a terminal")
	}

	fmt.Fprintf(stdout, "Are you sure you want to %s? [y/N]: ", action)
	input, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	response := strings.ToLower(strings.TrimSpace(input))
	return response == "y" || response == "yes", nil
}
