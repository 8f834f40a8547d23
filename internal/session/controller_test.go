// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/stembot/internal/export"
	"github.com/jeranaias/stembot/internal/model"
	"github.com/jeranaias/stembot/internal/ollama"
	"github.com/jeranaias/stembot/internal/storage"
	"github.com/jeranaias/stembot/internal/upload"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeGateway struct {
	mu        sync.Mutex
	models    []string
	result    ollama.QueryResult
	release   chan struct{} // when set, Query blocks until closed
	started   chan struct{}
	prompts   []string
	histories [][]model.Message
}

func (g *fakeGateway) DefaultModel() string { return "STEMBot-4B" }

func (g *fakeGateway) ListModels(context.Context) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string{}, g.models...)
}

func (g *fakeGateway) Query(_ context.Context, prompt string, history []model.Message, _ string) ollama.QueryResult {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.histories = append(g.histories, history)
	release, started, res := g.release, g.started, g.result
	g.mu.Unlock()

	if started != nil {
		close(started)
	}
	if release != nil {
		<-release
	}
	return res
}

type fakeUsage struct {
	mu      sync.Mutex
	records int
	failed  int
}

func (u *fakeUsage) Record(_ string, _, _ int, _ time.Duration, failed bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.records++
	if failed {
		u.failed++
	}
	return nil
}

type fixture struct {
	dir     string
	store   *storage.FileStore
	gateway *fakeGateway
	usage   *fakeUsage
	ctrl    *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFileStore(filepath.Join(dir, "chat_sessions"))
	require.NoError(t, err)

	f := &fixture{
		dir:   dir,
		store: store,
		gateway: &fakeGateway{
			models: []string{"STEMBot-4B", "llama3"},
			result: ollama.QueryResult{Reply: "4", Thinking: "compute", Elapsed: 1500 * time.Millisecond},
		},
		usage: &fakeUsage{},
	}
	f.ctrl = NewController(Deps{
		Store:     store,
		Gateway:   f.gateway,
		Exporter:  export.NewRenderer(export.Config{}),
		Uploads:   upload.NewDir(filepath.Join(dir, "uploaded_files")),
		Usage:     f.usage,
		ExportDir: filepath.Join(dir, "exported_files"),
		Now:       func() time.Time { return t0 },
	})
	return f
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	require.NoError(t, f.ctrl.Login(context.Background(), "alice"))
}

// =============================================================================
// SEND
// =============================================================================

func TestController_SendRequiresLogin(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctrl.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestController_SendSavesConversation(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	res, err := f.ctrl.Send(context.Background(), "2+2?")
	require.NoError(t, err)
	assert.False(t, res.Failed)
	assert.Empty(t, res.Notices)
	assert.Equal(t, "4", res.Reply.Content)
	assert.Equal(t, "compute", res.Reply.ThinkingProcess)
	assert.InDelta(t, 1.5, res.Reply.TimeTaken, 1e-9)
	assert.Equal(t, "20250314092653", res.SessionID)

	// The gateway sees the user turn already appended.
	require.Len(t, f.gateway.histories, 1)
	assert.Equal(t, []model.Message{model.NewUserMessage("2+2?")}, f.gateway.histories[0])

	saved, err := f.store.Load("alice", res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, f.ctrl.State().History, saved)
	require.Len(t, saved, 2)

	assert.Equal(t, 1, f.usage.records)
}

func TestController_SendFailureStillAppends(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.gateway.result = ollama.QueryResult{
		Reply: ollama.ReplyTimeout,
		Err:   &ollama.ClientError{Type: ollama.ErrTypeTimeout, Message: "request timed out"},
	}

	res, err := f.ctrl.Send(context.Background(), "slow question")
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Equal(t, ollama.ReplyTimeout, res.Reply.Content)
	require.Len(t, res.Notices, 1)
	assert.Equal(t, NoticeError, res.Notices[0].Level)

	assert.Len(t, f.ctrl.State().History, 2)
	assert.Equal(t, 1, f.usage.failed)
}

func TestController_SendEmptyPrompt(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	_, err := f.ctrl.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.False(t, f.ctrl.Busy(), "a rejected prompt releases the request slot")
	assert.Empty(t, f.gateway.prompts)
}

func TestController_SecondSendWhileQueryingIsBusy(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.gateway.release = make(chan struct{})
	f.gateway.started = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Send(context.Background(), "first")
		done <- err
	}()
	<-f.gateway.started

	assert.True(t, f.ctrl.Busy())
	_, err := f.ctrl.Send(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, f.ctrl.NewChat(), ErrBusy)
	_, err = f.ctrl.Open("20240101120000")
	assert.ErrorIs(t, err, ErrBusy)

	// Reads stay available.
	assert.Len(t, f.ctrl.State().History, 1)

	f.gateway.mu.Lock()
	f.gateway.started = nil
	f.gateway.mu.Unlock()
	close(f.gateway.release)
	require.NoError(t, <-done)

	assert.False(t, f.ctrl.Busy())
	_, err = f.ctrl.Send(context.Background(), "third")
	assert.NoError(t, err)
}

func TestController_SaveFailureIsNotice(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	// A file where the owner directory should be makes every save fail.
	require.NoError(t, os.WriteFile(filepath.Join(f.store.BaseDir, "alice"), []byte("x"), 0644))

	res, err := f.ctrl.Send(context.Background(), "hello")
	require.NoError(t, err)
	require.NotEmpty(t, res.Notices)
	assert.Contains(t, res.Notices[len(res.Notices)-1].Message, "Failed to save session")
	assert.Len(t, f.ctrl.State().History, 2)
}

// =============================================================================
// SESSIONS
// =============================================================================

func TestController_OpenAndContinue(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	old := []model.Message{model.NewUserMessage("old q"), model.NewAssistantMessage("old a", "", 0)}
	require.NoError(t, f.store.Save("alice", "20240101120000", old))

	notices, err := f.ctrl.Open("20240101120000")
	require.NoError(t, err)
	assert.Empty(t, notices)
	assert.Equal(t, old, f.ctrl.State().History)

	res, err := f.ctrl.Send(context.Background(), "follow up")
	require.NoError(t, err)
	assert.Equal(t, "20240101120000", res.SessionID)

	saved, err := f.store.Load("alice", "20240101120000")
	require.NoError(t, err)
	assert.Len(t, saved, 4)
}

func TestController_OpenMalformedWarns(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	dir := filepath.Join(f.store.BaseDir, "alice")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20240101120000.json"), []byte("{not json"), 0644))

	notices, err := f.ctrl.Open("20240101120000")
	require.NoError(t, err)
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeWarning, notices[0].Level)
	assert.Empty(t, f.ctrl.State().History)
}

func TestController_OpenRejectsBadIDs(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	_, err := f.ctrl.Open("../bob/20240101120000")
	assert.ErrorIs(t, err, ErrInvalidSession)
	_, err = f.ctrl.Open(model.NewSession)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestController_OpenUnknownIDNotFound(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	require.NoError(t, f.store.Save("alice", "20240101120000", []model.Message{model.NewUserMessage("kept")}))

	for _, id := range []string{"not-a-session", "20000101000000"} {
		_, err := f.ctrl.Open(id)
		assert.ErrorIs(t, err, ErrSessionNotFound, id)
	}

	state := f.ctrl.State()
	assert.True(t, state.IsNew())
	assert.Empty(t, state.History)

	ids, err := f.ctrl.Sessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"20240101120000"}, ids, "a failed open must not create a document")
}

func TestController_NewChatsInSameSecondGetDistinctIDs(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	first, err := f.ctrl.Send(context.Background(), "first conversation")
	require.NoError(t, err)
	require.NoError(t, f.ctrl.NewChat())
	second, err := f.ctrl.Send(context.Background(), "second conversation")
	require.NoError(t, err)

	assert.Equal(t, "20250314092653", first.SessionID)
	assert.Equal(t, "20250314092654", second.SessionID)
	assert.Equal(t, second.SessionID, f.ctrl.State().FilenamePrefix)

	ids, err := f.ctrl.Sessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"20250314092654", "20250314092653"}, ids)

	for id, prompt := range map[string]string{
		first.SessionID:  "first conversation",
		second.SessionID: "second conversation",
	} {
		saved, err := f.store.Load("alice", id)
		require.NoError(t, err)
		require.Len(t, saved, 2)
		assert.Equal(t, prompt, saved[0].Content)
	}
}

func TestController_SessionsAndDelete(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	for _, id := range []string{"20240101120000", "20250101120000"} {
		require.NoError(t, f.store.Save("alice", id, []model.Message{model.NewUserMessage(id)}))
	}

	ids, err := f.ctrl.Sessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"20250101120000", "20240101120000"}, ids)

	_, err = f.ctrl.Open("20250101120000")
	require.NoError(t, err)

	deleted, err := f.ctrl.DeleteSession("20250101120000")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.True(t, f.ctrl.State().IsNew(), "deleting the open session starts a new chat")

	deleted, err = f.ctrl.DeleteSession("20250101120000")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestController_DeleteAllNeedsConfirmation(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	for _, id := range []string{"20240101120000", "20240201120000", "20240301120000"} {
		require.NoError(t, f.store.Save("alice", id, []model.Message{model.NewUserMessage(id)}))
	}

	_, _, err := f.ctrl.ConfirmDeleteAll()
	assert.ErrorIs(t, err, ErrNotArmed)

	require.NoError(t, f.ctrl.RequestDeleteAll())
	require.NoError(t, f.ctrl.CancelDeleteAll())
	_, _, err = f.ctrl.ConfirmDeleteAll()
	assert.ErrorIs(t, err, ErrNotArmed)

	require.NoError(t, f.ctrl.RequestDeleteAll())
	assert.True(t, f.ctrl.State().ShowConfirmDeleteAll)

	res, notices, err := f.ctrl.ConfirmDeleteAll()
	require.NoError(t, err)
	assert.Equal(t, 3, res.Deleted)
	require.Len(t, notices, 1)
	assert.Equal(t, "3 sessions deleted.", notices[0].Message)
	assert.False(t, f.ctrl.State().ShowConfirmDeleteAll)

	ids, err := f.ctrl.Sessions()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestController_SelectModel(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	require.NoError(t, f.ctrl.SelectModel(context.Background(), "llama3"))
	assert.Equal(t, "llama3", f.ctrl.State().SelectedModel)
	assert.ErrorIs(t, f.ctrl.SelectModel(context.Background(), "gpt-4"), ErrUnknownModel)
}

func TestController_LoginPicksFirstModelWhenDefaultMissing(t *testing.T) {
	f := newFixture(t)
	f.gateway.models = []string{"llama3", "qwen"}
	f.login(t)
	assert.Equal(t, "llama3", f.ctrl.State().SelectedModel)
}

func TestController_Pages(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	for i := 0; i < 6; i++ {
		_, err := f.ctrl.Send(context.Background(), "q")
		require.NoError(t, err)
	}

	items, page, total := f.ctrl.Page(5)
	assert.Len(t, items, 5)
	assert.Equal(t, 1, page)
	assert.Equal(t, 3, total)

	require.NoError(t, f.ctrl.SetPage(3, 5))
	items, page, _ = f.ctrl.Page(5)
	assert.Len(t, items, 2)
	assert.Equal(t, 3, page)

	assert.ErrorIs(t, f.ctrl.SetPage(4, 5), ErrInvalidPage)
}

// =============================================================================
// EXPORT AND UPLOAD
// =============================================================================

func TestController_ExportText(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	_, err := f.ctrl.Send(context.Background(), "2+2?")
	require.NoError(t, err)

	path, err := f.ctrl.Export(export.FormatText, true, true)
	require.NoError(t, err)
	assert.Equal(t, "20250314092653_alice.txt", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasPrefix(text, "User: 2+2?\n\nAssistant: 4"))
	assert.Contains(t, text, "  "+export.ThinkingLabel+":\n  compute")
}

func TestController_ExportExcelEmptyFails(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	_, err := f.ctrl.Export(export.FormatExcel, true, true)
	assert.ErrorIs(t, err, ErrExportFailed)
	assert.NoFileExists(t, filepath.Join(f.dir, "exported_files", "20250314092653_alice.xlsx"))
}

func TestController_Upload(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	res, err := f.ctrl.Upload(context.Background(), "notes.txt", []byte("Newton's second law"), "Summarise this.")
	require.NoError(t, err)
	assert.Equal(t, "4", res.Reply.Content)

	require.Len(t, f.gateway.prompts, 1)
	assert.Contains(t, f.gateway.prompts[0], "Summarise this.")
	assert.Contains(t, f.gateway.prompts[0], "Newton's second law")
	assert.Equal(t, 1, f.ctrl.State().UploaderKey)

	entries, err := os.ReadDir(filepath.Join(f.dir, "uploaded_files", "alice"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = f.ctrl.Upload(context.Background(), "scan.png", []byte{0x89}, "")
	assert.ErrorIs(t, err, upload.ErrUnsupported)
}

func TestController_Logout(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	_, err := f.ctrl.Send(context.Background(), "hi")
	require.NoError(t, err)

	require.NoError(t, f.ctrl.Logout())
	st := f.ctrl.State()
	assert.False(t, st.Authenticated)
	assert.Empty(t, st.History)
	_, err = f.ctrl.Sessions()
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}
