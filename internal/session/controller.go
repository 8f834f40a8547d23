// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/jeranaias/stembot/internal/export"
	"github.com/jeranaias/stembot/internal/model"
	"github.com/jeranaias/stembot/internal/ollama"
	"github.com/jeranaias/stembot/internal/storage"
	"github.com/jeranaias/stembot/internal/upload"
	"github.com/jeranaias/stembot/internal/util"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Gateway is the model gateway as seen by a Controller.
type Gateway interface {
	DefaultModel() string
	ListModels(ctx context.Context) []string
	Query(ctx context.Context, prompt string, history []model.Message, modelName string) ollama.QueryResult
}

// Exporter renders transcripts to files.
type Exporter interface {
	Export(format export.Format, messages []model.Message, opts export.Options) (string, bool)
}

// UsageRecorder receives one record per model call.
type UsageRecorder interface {
	Record(modelName string, promptTokens, replyTokens int, elapsed time.Duration, failed bool) error
}

// Deps are the collaborators shared by every Controller.
type Deps struct {
	Store    storage.Store
	Gateway  Gateway
	Exporter Exporter
	Uploads  *upload.Dir
	Usage    UsageRecorder // optional

	ExportDir string
	Logger    *slog.Logger
	Now       func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// =============================================================================
// NOTICES
// =============================================================================

// Notice levels.
const (
	NoticeInfo    = "info"
	NoticeWarning = "warning"
	NoticeError   = "error"
)

// Notice is user-visible feedback from an operation that still completed.
type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// =============================================================================
// REQUEST STATE MACHINE
// =============================================================================

const (
	stateIdle     = "Idle"
	stateQuerying = "Querying"

	triggerSend = "Send"
	triggerDone = "Done"
)

func newRequestMachine() *stateless.StateMachine {
	sm := stateless.NewStateMachine(stateIdle)
	sm.Configure(stateIdle).Permit(triggerSend, stateQuerying)
	sm.Configure(stateQuerying).Permit(triggerDone, stateIdle)
	return sm
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller runs one connection's Context against the shared collaborators.
// Reads are always allowed; state changes are refused with ErrBusy while a
// model request is outstanding.
type Controller struct {
	deps Deps

	mu  sync.Mutex
	ctx Context
	sm  *stateless.StateMachine
}

// NewController creates a Controller for an unauthenticated connection.
func NewController(deps Deps) *Controller {
	deps = deps.withDefaults()
	return &Controller{
		deps: deps,
		ctx:  NewContext(deps.Now(), nil, deps.Gateway.DefaultModel()),
		sm:   newRequestMachine(),
	}
}

// State returns a copy of the current Context.
func (c *Controller) State() Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx.Clone()
}

// Busy reports whether a model request is outstanding.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busyLocked()
}

func (c *Controller) busyLocked() bool {
	return c.sm.MustState() == stateQuerying
}

// apply runs Transition under the lock, refusing while busy.
func (c *Controller) apply(e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busyLocked() {
		return ErrBusy
	}
	return c.applyLocked(e)
}

func (c *Controller) applyLocked(e Event) error {
	next, err := Transition(c.ctx, e)
	if err != nil {
		c.deps.Logger.Debug("event rejected", "event", EventName(e), "error", err)
		return err
	}
	c.ctx = next
	return nil
}

// owner returns the logged-in username.
func (c *Controller) owner() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ctx.Authenticated {
		return "", ErrNotAuthenticated
	}
	return c.ctx.Username, nil
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

// Login marks the connection as username's and picks the model to use.
func (c *Controller) Login(ctx context.Context, username string) error {
	models := c.deps.Gateway.ListModels(ctx)
	return c.apply(Login{
		Username:     username,
		Available:    models,
		DefaultModel: c.deps.Gateway.DefaultModel(),
		At:           c.deps.Now(),
	})
}

// Logout resets the connection.
func (c *Controller) Logout() error {
	return c.apply(Logout{DefaultModel: c.deps.Gateway.DefaultModel(), At: c.deps.Now()})
}

// =============================================================================
// MODELS
// =============================================================================

// Models returns the server's model catalog, possibly empty.
func (c *Controller) Models(ctx context.Context) []string {
	return c.deps.Gateway.ListModels(ctx)
}

// SelectModel switches the model for subsequent requests.
func (c *Controller) SelectModel(ctx context.Context, name string) error {
	return c.apply(SelectModel{Model: name, Available: c.deps.Gateway.ListModels(ctx)})
}

// =============================================================================
// CONVERSATION
// =============================================================================

// SendResult is the outcome of Send.
type SendResult struct {
	Reply     model.Message `json:"reply"`
	SessionID string        `json:"session_id"`
	Failed    bool          `json:"failed"`
	Notices   []Notice      `json:"notices,omitempty"`
}

// Send appends prompt, asks the model, appends its reply and saves the
// conversation. Gateway failures still yield an apology reply; a save
// failure is reported as a notice.
func (c *Controller) Send(ctx context.Context, prompt string) (SendResult, error) {
	c.mu.Lock()
	if !c.ctx.Authenticated {
		c.mu.Unlock()
		return SendResult{}, ErrNotAuthenticated
	}
	if err := c.sm.Fire(triggerSend); err != nil {
		c.mu.Unlock()
		return SendResult{}, ErrBusy
	}
	if err := c.applyLocked(UserMessage{Content: prompt}); err != nil {
		c.finishLocked()
		c.mu.Unlock()
		return SendResult{}, err
	}
	history := model.CloneMessages(c.ctx.History)
	modelName := c.ctx.SelectedModel
	c.mu.Unlock()

	res := c.deps.Gateway.Query(ctx, prompt, history, modelName)
	if c.deps.Usage != nil {
		if err := c.deps.Usage.Record(modelName, res.PromptTokens, res.ReplyTokens, res.Elapsed, res.Failed()); err != nil {
			c.deps.Logger.Warn("failed to record usage", "error", err)
		}
	}
	reply := model.NewAssistantMessage(res.Reply, res.Thinking, res.ElapsedSeconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.finishLocked()

	out := SendResult{Reply: reply, Failed: res.Failed()}
	if res.Failed() {
		out.Notices = append(out.Notices, Notice{Level: NoticeError, Message: res.Err.Error()})
	}
	ev := AssistantReply{Message: reply}
	if c.ctx.IsNew() {
		// Held through Save so two tabs of one user cannot claim the same id.
		assignMu.Lock()
		defer assignMu.Unlock()
		ev.SessionID = c.freeSessionID(c.ctx.Username)
	}
	if err := c.applyLocked(ev); err != nil {
		return out, err
	}
	out.SessionID = c.ctx.SessionID

	if err := c.deps.Store.Save(c.ctx.Username, c.ctx.SessionID, c.ctx.History); err != nil {
		c.deps.Logger.Error("failed to save session",
			"user", c.ctx.Username, "session", c.ctx.SessionID, "error", err)
		out.Notices = append(out.Notices, Notice{
			Level:   NoticeError,
			Message: fmt.Sprintf("Failed to save session '%s': %v", c.ctx.SessionID, err),
		})
	}
	return out, nil
}

// assignMu serialises id allocation for new conversations across controllers.
var assignMu sync.Mutex

// freeSessionID returns the stamp for the current time, moved forward one
// second at a time past ids the owner already has.
func (c *Controller) freeSessionID(owner string) string {
	at := c.deps.Now()
	taken := map[string]bool{}
	ids, err := c.deps.Store.ListIDs(owner)
	if err != nil {
		c.deps.Logger.Warn("failed to list sessions", "user", owner, "error", err)
	}
	for _, id := range ids {
		taken[id] = true
	}
	id := model.NewSessionID(at)
	for taken[id] {
		at = at.Add(time.Second)
		id = model.NewSessionID(at)
	}
	return id
}

func (c *Controller) finishLocked() {
	if err := c.sm.Fire(triggerDone); err != nil {
		c.deps.Logger.Error("request state machine out of step", "error", err)
	}
}

// Page returns the current page of the transcript.
func (c *Controller) Page(perPage int) (items []model.Message, page, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, page, total = Paginate(c.ctx.History, c.ctx.PageNum, perPage)
	return model.CloneMessages(items), page, total
}

// SetPage moves the transcript view, rejecting pages past the end.
func (c *Controller) SetPage(page, perPage int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busyLocked() {
		return ErrBusy
	}
	if total := TotalPages(len(c.ctx.History), perPage); page > total {
		return fmt.Errorf("%w: %d of %d", ErrInvalidPage, page, total)
	}
	return c.applyLocked(SetPage{Page: page})
}

// =============================================================================
// SESSIONS
// =============================================================================

// Sessions lists the user's saved conversations, newest first.
func (c *Controller) Sessions() ([]string, error) {
	owner, err := c.owner()
	if err != nil {
		return nil, err
	}
	return c.deps.Store.ListIDs(owner)
}

// NewChat starts an unsaved conversation.
func (c *Controller) NewChat() error {
	return c.apply(NewChat{At: c.deps.Now()})
}

// Open switches to a saved conversation. A document that cannot be read
// opens as an empty conversation with a warning notice.
func (c *Controller) Open(id string) ([]Notice, error) {
	owner, err := c.owner()
	if err != nil {
		return nil, err
	}
	if c.Busy() {
		return nil, ErrBusy
	}
	if model.IsNewSession(id) || !util.ValidPathElement(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSession, id)
	}
	if _, ok := model.ParseSessionID(id); !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	ids, err := c.deps.Store.ListIDs(owner)
	if err != nil {
		c.deps.Logger.Error("failed to list sessions", "user", owner, "error", err)
		return nil, err
	}
	if !slices.Contains(ids, id) {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}

	var notices []Notice
	history, err := c.deps.Store.Load(owner, id)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidKey) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSession, id)
		}
		c.deps.Logger.Warn("failed to load session", "user", owner, "session", id, "error", err)
		notices = append(notices, Notice{
			Level:   NoticeWarning,
			Message: fmt.Sprintf("Failed to load session '%s': %v", id, err),
		})
	}
	return notices, c.apply(SelectSession{ID: id, History: history})
}

// DeleteSession removes one saved conversation. Deleting the open
// conversation starts a new one.
func (c *Controller) DeleteSession(id string) (bool, error) {
	owner, err := c.owner()
	if err != nil {
		return false, err
	}
	if c.Busy() {
		return false, ErrBusy
	}

	deleted, err := c.deps.Store.Delete(owner, id)
	if err != nil {
		c.deps.Logger.Error("failed to delete session", "user", owner, "session", id, "error", err)
		return false, err
	}
	if deleted {
		c.deps.Logger.Info("session deleted", "user", owner, "session", id)
		if err := c.apply(SessionsDeleted{IDs: []string{id}, At: c.deps.Now()}); err != nil {
			return true, err
		}
	}
	return deleted, nil
}

// RequestDeleteAll arms the delete-all confirmation.
func (c *Controller) RequestDeleteAll() error {
	return c.apply(AskDeleteAll{})
}

// CancelDeleteAll disarms the delete-all confirmation.
func (c *Controller) CancelDeleteAll() error {
	return c.apply(CancelDeleteAll{})
}

// ConfirmDeleteAll removes every saved conversation of the user. It fails
// with ErrNotArmed unless RequestDeleteAll came first. Documents that could
// not be removed are listed in the result.
func (c *Controller) ConfirmDeleteAll() (storage.DeleteAllResult, []Notice, error) {
	c.mu.Lock()
	if !c.ctx.Authenticated {
		c.mu.Unlock()
		return storage.DeleteAllResult{}, nil, ErrNotAuthenticated
	}
	if c.busyLocked() {
		c.mu.Unlock()
		return storage.DeleteAllResult{}, nil, ErrBusy
	}
	if !c.ctx.ShowConfirmDeleteAll {
		c.mu.Unlock()
		return storage.DeleteAllResult{}, nil, ErrNotArmed
	}
	owner := c.ctx.Username
	c.mu.Unlock()

	res, err := c.deps.Store.DeleteAll(owner)
	if err != nil {
		c.deps.Logger.Error("failed to delete sessions", "user", owner, "error", err)
		return res, nil, err
	}

	var notices []Notice
	for _, f := range res.Failures {
		notices = append(notices, Notice{Level: NoticeError, Message: f.Error()})
	}
	switch {
	case res.Deleted > 0:
		notices = append(notices, Notice{Level: NoticeInfo, Message: fmt.Sprintf("%d sessions deleted.", res.Deleted)})
	case len(res.Failures) == 0:
		notices = append(notices, Notice{Level: NoticeInfo, Message: "No sessions found to delete."})
	}
	c.deps.Logger.Info("sessions deleted", "user", owner, "deleted", res.Deleted, "failed", len(res.Failures))

	return res, notices, c.apply(SessionsDeleted{All: true, At: c.deps.Now()})
}

// =============================================================================
// EXPORT AND UPLOAD
// =============================================================================

// Export writes the conversation in format to the export directory and
// returns the file path.
func (c *Controller) Export(format export.Format, includeUser, includeAssistant bool) (string, error) {
	c.mu.Lock()
	if !c.ctx.Authenticated {
		c.mu.Unlock()
		return "", ErrNotAuthenticated
	}
	history := model.CloneMessages(c.ctx.History)
	opts := export.Options{
		OutputDir:        c.deps.ExportDir,
		Prefix:           c.ctx.FilenamePrefix,
		Owner:            c.ctx.Username,
		IncludeUser:      includeUser,
		IncludeAssistant: includeAssistant,
	}
	c.mu.Unlock()

	path, ok := c.deps.Exporter.Export(format, history, opts)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrExportFailed, format)
	}
	c.deps.Logger.Info("conversation exported", "user", opts.Owner, "format", string(format), "file", filepath.Base(path))
	return path, nil
}

// UploadPrompt builds the prompt that asks the model about an uploaded file.
func UploadPrompt(name, text, question string) string {
	if question == "" {
		question = "Please analyse the content of this file."
	}
	return fmt.Sprintf("%s\n\nFile: %s\n\n%s", question, name, text)
}

// Upload keeps the raw file, extracts its text and sends it to the model
// together with question.
func (c *Controller) Upload(ctx context.Context, name string, data []byte, question string) (SendResult, error) {
	owner, err := c.owner()
	if err != nil {
		return SendResult{}, err
	}
	if c.Busy() {
		return SendResult{}, ErrBusy
	}

	text, err := upload.Extract(name, data)
	if err != nil {
		return SendResult{}, err
	}

	var notices []Notice
	if c.deps.Uploads != nil {
		if _, err := c.deps.Uploads.Save(owner, name, data); err != nil {
			c.deps.Logger.Warn("failed to keep upload", "user", owner, "file", name, "error", err)
			notices = append(notices, Notice{Level: NoticeWarning, Message: "The uploaded file could not be stored."})
		}
	}
	if err := c.apply(FileUploaded{}); err != nil {
		return SendResult{}, err
	}

	res, err := c.Send(ctx, UploadPrompt(filepath.Base(name), text, question))
	res.Notices = append(notices, res.Notices...)
	return res, err
}
