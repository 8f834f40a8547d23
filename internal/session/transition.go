// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jeranaias/stembot/internal/model"
)

// =============================================================================
// EVENTS
// =============================================================================

// Event is a user action or collaborator outcome applied by Transition.
type Event interface {
	eventName() string
}

// Login authenticates the connection and starts a fresh conversation.
type Login struct {
	Username     string
	Available    []string
	DefaultModel string
	At           time.Time
}

// Logout drops every field back to its default.
type Logout struct {
	Available    []string
	DefaultModel string
	At           time.Time
}

// SelectModel changes the model used for the next request. An empty
// Available list accepts any name.
type SelectModel struct {
	Model     string
	Available []string
}

// NewChat abandons the current conversation for an unsaved one.
type NewChat struct {
	At time.Time
}

// SelectSession switches to a saved conversation and its loaded history.
type SelectSession struct {
	ID      string
	History []model.Message
}

// UserMessage appends the user's turn.
type UserMessage struct {
	Content string
}

// AssistantReply appends the model's turn. SessionID names a new
// conversation; when empty the filename prefix is used.
type AssistantReply struct {
	Message   model.Message
	SessionID string
}

// AskDeleteAll arms the delete-all confirmation.
type AskDeleteAll struct{}

// CancelDeleteAll disarms the delete-all confirmation.
type CancelDeleteAll struct{}

// SessionsDeleted reports removed conversations. All means every one.
type SessionsDeleted struct {
	IDs []string
	All bool
	At  time.Time
}

// SetPage moves the transcript view to Page.
type SetPage struct {
	Page int
}

// FileUploaded resets the upload widget.
type FileUploaded struct{}

func (Login) eventName() string           { return "login" }
func (Logout) eventName() string          { return "logout" }
func (SelectModel) eventName() string     { return "select_model" }
func (NewChat) eventName() string         { return "new_chat" }
func (SelectSession) eventName() string   { return "select_session" }
func (UserMessage) eventName() string     { return "user_message" }
func (AssistantReply) eventName() string  { return "assistant_reply" }
func (AskDeleteAll) eventName() string    { return "ask_delete_all" }
func (CancelDeleteAll) eventName() string { return "cancel_delete_all" }
func (SessionsDeleted) eventName() string { return "sessions_deleted" }
func (SetPage) eventName() string         { return "set_page" }
func (FileUploaded) eventName() string    { return "file_uploaded" }

// EventName returns a stable name for logging.
func EventName(e Event) string {
	if e == nil {
		return "nil"
	}
	return e.eventName()
}

// =============================================================================
// TRANSITION
// =============================================================================

// Transition applies e to c and returns the resulting context. c is not
// modified. On error the returned context equals c.
func Transition(c Context, e Event) (Context, error) {
	switch e.(type) {
	case Login, Logout:
	default:
		if !c.Authenticated {
			return c, ErrNotAuthenticated
		}
	}

	next := c.Clone()

	switch ev := e.(type) {
	case Login:
		if strings.TrimSpace(ev.Username) == "" {
			return c, fmt.Errorf("%w: empty username", ErrInvalidEvent)
		}
		next = NewContext(ev.At, ev.Available, ev.DefaultModel)
		next.Username = ev.Username
		next.Authenticated = true

	case Logout:
		next = NewContext(ev.At, ev.Available, ev.DefaultModel)

	case SelectModel:
		if ev.Model == "" {
			return c, fmt.Errorf("%w: empty model", ErrInvalidEvent)
		}
		if len(ev.Available) > 0 && !slices.Contains(ev.Available, ev.Model) {
			return c, fmt.Errorf("%w: %s", ErrUnknownModel, ev.Model)
		}
		next.SelectedModel = ev.Model

	case NewChat:
		resetConversation(&next, ev.At)

	case SelectSession:
		if ev.ID == "" || model.IsNewSession(ev.ID) {
			return c, fmt.Errorf("%w: %q", ErrInvalidSession, ev.ID)
		}
		next.SessionID = ev.ID
		next.FilenamePrefix = ev.ID
		next.History = model.CloneMessages(ev.History)
		next.PageNum = 1

	case UserMessage:
		if strings.TrimSpace(ev.Content) == "" {
			return c, ErrEmptyPrompt
		}
		next.History = append(next.History, model.NewUserMessage(ev.Content))

	case AssistantReply:
		if ev.Message.Role != model.RoleAssistant {
			return c, fmt.Errorf("%w: reply has role %q", ErrInvalidEvent, ev.Message.Role)
		}
		next.History = append(next.History, ev.Message)
		if next.IsNew() {
			id := ev.SessionID
			if id == "" {
				id = next.FilenamePrefix
			}
			next.SessionID = id
			next.FilenamePrefix = id
		}

	case AskDeleteAll:
		next.ShowConfirmDeleteAll = true

	case CancelDeleteAll:
		next.ShowConfirmDeleteAll = false

	case SessionsDeleted:
		next.ShowConfirmDeleteAll = false
		if !next.IsNew() && (ev.All || slices.Contains(ev.IDs, next.SessionID)) {
			resetConversation(&next, ev.At)
		}

	case SetPage:
		if ev.Page < 1 {
			return c, fmt.Errorf("%w: %d", ErrInvalidPage, ev.Page)
		}
		next.PageNum = ev.Page

	case FileUploaded:
		next.UploaderKey++

	default:
		return c, fmt.Errorf("%w: %T", ErrInvalidEvent, e)
	}

	if err := next.Validate(); err != nil {
		return c, err
	}
	return next, nil
}

func resetConversation(c *Context, at time.Time) {
	c.SessionID = model.NewSession
	c.History = []model.Message{}
	c.FilenamePrefix = model.NewSessionID(at)
	c.PageNum = 1
}
