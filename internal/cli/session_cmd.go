// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// session_cmd.go - offline access to saved conversations.

package cli

import (
	"fmt"
	"slices"

	"github.com/jeranaias/stembot/internal/export"
	"github.com/jeranaias/stembot/internal/model"
	"github.com/jeranaias/stembot/internal/storage"
)

// =============================================================================
// SESSION COMMAND HANDLER
// =============================================================================

// HandleSessions handles the "sessions" command.
// Subcommands:
//   - sessions list <user>
//   - sessions show <user> <id>
//   - sessions delete <user> <id> --confirm
//   - sessions delete-all <user> --confirm
func HandleSessions(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return NewCommandError("sessions", args.Subcommand, "cannot open session store", err)
	}
	defer closeStore()

	switch args.Subcommand {
	case "list":
		return handleSessionList(store, args)
	case "show":
		return handleSessionShow(store, args)
	case "delete":
		return handleSessionDelete(store, args)
	case "delete-all":
		return handleSessionDeleteAll(store, args)
	case "":
		return ErrMissingArgument("subcommand", "stembot sessions [list|show|delete|delete-all] <user>")
	default:
		return NewValidationError("subcommand", args.Subcommand, "expected list, show, delete or delete-all")
	}
}

// SessionInfo is one row of "sessions list".
type SessionInfo struct {
	ID       string `json:"id"`
	Created  string `json:"created,omitempty"`
	Messages int    `json:"messages"`
}

func handleSessionList(store storage.Store, args Args) error {
	user, err := requirePositional(args.Parser, 1, "user", "stembot sessions list <user>")
	if err != nil {
		return err
	}
	ids, err := store.ListIDs(user)
	if err != nil {
		return err
	}

	infos := make([]SessionInfo, 0, len(ids))
	for _, id := range ids {
		info := SessionInfo{ID: id}
		if t, ok := model.ParseSessionID(id); ok {
			info.Created = t.Format("2006-01-02 15:04:05")
		}
		if msgs, err := store.Load(user, id); err == nil {
			info.Messages = len(msgs)
		}
		infos = append(infos, info)
	}

	if args.JSON {
		return NewJSONResponse("sessions list", map[string]any{"user": user, "sessions": infos}).Print()
	}
	if len(infos) == 0 {
		fmt.Fprintf(stdout, "No saved conversations for '%s'.\n", user)
		return nil
	}
	fmt.Fprintf(stdout, "%-16s  %-19s  %s\n", "ID", "CREATED", "MESSAGES")
	for _, info := range infos {
		fmt.Fprintf(stdout, "%-16s  %-19s  %d\n", info.ID, info.Created, info.Messages)
	}
	return nil
}

func handleSessionShow(store storage.Store, args Args) error {
	user, err := requirePositional(args.Parser, 1, "user", "stembot sessions show <user> <id>")
	if err != nil {
		return err
	}
	id, err := requirePositional(args.Parser, 2, "id", "stembot sessions show <user> <id>")
	if err != nil {
		return err
	}
	msgs, err := loadExisting(store, user, id)
	if err != nil {
		return err
	}

	if args.JSON {
		return NewJSONResponse("sessions show", map[string]any{"user": user, "id": id, "messages": msgs}).Print()
	}
	fmt.Fprintln(stdout, export.FormatConversationText(msgs, true, true))
	return nil
}

// loadExisting loads a transcript, reporting an absent one as not found.
func loadExisting(store storage.Store, user, id string) ([]model.Message, error) {
	msgs, err := store.Load(user, id)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		ids, err := store.ListIDs(user)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(ids, id) {
			return nil, NewNotFoundError("session", user+"/"+id)
		}
	}
	return msgs, nil
}

func handleSessionDelete(store storage.Store, args Args) error {
	usage := "stembot sessions delete <user> <id> --confirm"
	user, err := requirePositional(args.Parser, 1, "user", usage)
	if err != nil {
		return err
	}
	id, err := requirePositional(args.Parser, 2, "id", usage)
	if err != nil {
		return err
	}

	ok, err := RequireConfirmation(args.Parser.BoolFlag("confirm"), fmt.Sprintf("delete session %s of %s", id, user), args.JSON)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(stdout, "Cancelled.")
		return nil
	}

	deleted, err := store.Delete(user, id)
	if err != nil {
		return err
	}
	if !deleted {
		return NewNotFoundError("session", user+"/"+id)
	}
	if args.JSON {
		return NewJSONResponse("sessions delete", map[string]any{"deleted": true, "user": user, "id": id}).Print()
	}
	fmt.Fprintf(stdout, "Session '%s' deleted.\n", id)
	return nil
}

func handleSessionDeleteAll(store storage.Store, args Args) error {
	user, err := requirePositional(args.Parser, 1, "user", "stembot sessions delete-all <user> --confirm")
	if err != nil {
		return err
	}

	ok, err := RequireConfirmation(args.Parser.BoolFlag("confirm"), "delete every session of "+user, args.JSON)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(stdout, "Cancelled.")
		return nil
	}

	res, err := store.DeleteAll(user)
	if err != nil {
		return err
	}

	failures := make([]string, len(res.Failures))
	for i, f := range res.Failures {
		failures[i] = f.Error()
	}
	if args.JSON {
		return NewJSONResponse("sessions delete-all", map[string]any{
			"deleted":  res.Deleted,
			"failures": failures,
		}).Print()
	}

	for _, f := range failures {
		fmt.Fprintf(stderr, "[ERROR] %s\n", f)
	}
	switch {
	case res.Deleted > 0:
		fmt.Fprintf(stdout, "%d sessions deleted.\n", res.Deleted)
	case len(failures) == 0:
		fmt.Fprintln(stdout, "No sessions found to delete.")
	}
	if !res.OK() {
		return NewCommandError("sessions", "delete-all",
			fmt.Sprintf("%d of %d sessions could not be deleted", len(failures), len(failures)+res.Deleted), nil)
	}
	return nil
}

// =============================================================================
// EXPORT COMMAND
// =============================================================================

// HandleExport handles "export <user> <id> [--format F] [--output DIR]".
func HandleExport(args Args) error {
	usage := "stembot export <user> <id> --format txt|docx|pdf|xlsx|pptx"
	user, err := requirePositional(args.Parser, 0, "user", usage)
	if err != nil {
		return err
	}
	id, err := requirePositional(args.Parser, 1, "id", usage)
	if err != nil {
		return err
	}
	format, err := export.ParseFormat(args.Parser.FlagOrDefault("format", "txt"))
	if err != nil {
		return NewValidationError("--format", args.Parser.Flag("format"), err.Error())
	}

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return NewCommandError("export", string(format), "cannot open session store", err)
	}
	defer closeStore()

	msgs, err := loadExisting(store, user, id)
	if err != nil {
		return err
	}

	path, ok := newRenderer(cfg, nil).Export(format, msgs, export.Options{
		OutputDir:        args.Parser.FlagOrDefault("output", cfg.ExportDir()),
		Prefix:           id,
		Owner:            user,
		IncludeUser:      !args.Parser.BoolFlag("no-user"),
		IncludeAssistant: !args.Parser.BoolFlag("no-assistant"),
	})
	if !ok {
		return NewCommandError("export", string(format), "renderer failed, see the log for details", nil)
	}

	if args.JSON {
		return NewJSONResponse("export", map[string]string{"path": path, "format": string(format)}).Print()
	}
	fmt.Fprintf(stdout, "Exported to %s\n", path)
	return nil
}
