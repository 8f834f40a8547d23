// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/stembot/internal/model"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// newTestClient starts an httptest server with handler and returns a
// client pointed at it.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
}

// refusedURL returns the address of a server that is no longer listening.
func refusedURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func writeChat(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ChatResponse{
		Model:   "m",
		Message: Message{Role: "assistant", Content: content},
		Done:    true,
	})
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestBuildMessages(t *testing.T) {
	history := []model.Message{
		model.NewUserMessage("2+2?"),
		model.NewAssistantMessage("4", "compute", 1.5),
	}

	got := buildMessages(history, "and 3+3?")
	assert.Equal(t, []Message{
		{Role: "user", Content: "2+2?"},
		{Role: "assistant", Content: "4"},
		{Role: "user", Content: "and 3+3?"},
	}, got)

	retry := append(history, model.NewUserMessage("and 3+3?"))
	assert.Len(t, buildMessages(retry, "and 3+3?"), 3, "a trailing identical user turn is not repeated")
	assert.Equal(t, []Message{userTurn("hi")}, buildMessages(nil, "hi"))
}

func TestChatRequest_WireFormat(t *testing.T) {
	data, err := json.Marshal(ChatRequest{
		Model:    "STEMBot-4B",
		Messages: []Message{userTurn("2+2?")},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"STEMBot-4B","messages":[{"role":"user","content":"2+2?"}],"stream":false}`, string(data))
}

// =============================================================================
// CLIENT CONFIG TESTS
// =============================================================================

func TestNewClientWithConfig_Defaults(t *testing.T) {
	c := NewClientWithConfig(&ClientConfig{BaseURL: "http://example:11434/"})

	assert.Equal(t, "http://example:11434", c.BaseURL())
	assert.Equal(t, DefaultModel, c.DefaultModel())
	assert.Equal(t, DefaultTimeout, c.config.Timeout)
	assert.Equal(t, 600*time.Second, c.config.Timeout)
	assert.Equal(t, DefaultCatalogTimeout, c.config.CatalogTimeout)
}

func TestNewClientWithConfig_Nil(t *testing.T) {
	c := NewClientWithConfig(nil)
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
}

// =============================================================================
// CLIENT REQUEST TESTS
// =============================================================================

func TestClient_ListModels(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"b"},{"name":"a"}]}`))
	})

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "b", models[0].Name)
}

func TestClient_Chat(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "m1", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 1)

		writeChat(w, "pong")
	})

	resp, err := c.Chat(context.Background(), "m1", []Message{userTurn("ping")})
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Message.Content)
}

func TestClient_Chat_UsesDefaultModel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultModel, req.Model)
		writeChat(w, "ok")
	})

	_, err := c.Chat(context.Background(), "", nil)
	require.NoError(t, err)
}

func TestClient_Chat_HTTPErrorDetail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	})

	_, err := c.Chat(context.Background(), "m", nil)
	require.Error(t, err)

	var ce *ClientError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ErrTypeHTTP, ce.Type)
	assert.Equal(t, http.StatusInternalServerError, ce.StatusCode)
	assert.Equal(t, "boom", ce.Detail)
	assert.Contains(t, ce.Error(), "boom")
	assert.True(t, IsHTTPError(err))
	assert.True(t, ce.IsRemoteProtocol())
}

func TestClient_Chat_HTTPErrorWithoutDetail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "plain text", http.StatusBadGateway)
	})

	_, err := c.Chat(context.Background(), "m", nil)
	var ce *ClientError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ErrTypeHTTP, ce.Type)
	assert.Empty(t, ce.Detail)
}

func TestClient_Chat_ConnectionRefused(t *testing.T) {
	c := NewClientWithConfig(&ClientConfig{BaseURL: refusedURL(t)})

	_, err := c.Chat(context.Background(), "m", nil)
	require.Error(t, err)
	assert.True(t, IsNotRunning(err))
	assert.False(t, IsTimeout(err))
}

func TestClient_Chat_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})

	_, err := c.Chat(context.Background(), "m", nil)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	var ce *ClientError
	require.True(t, errors.As(err, &ce))
	assert.True(t, ce.IsTransport())
}

func TestClient_Chat_InvalidJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})

	_, err := c.Chat(context.Background(), "m", nil)
	var ce *ClientError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ErrTypeInvalidResponse, ce.Type)
}

func TestErrorType_String(t *testing.T) {
	assert.Equal(t, "timeout", ErrTypeTimeout.String())
	assert.Equal(t, "connection", ErrTypeConnection.String())
	assert.Equal(t, "http", ErrTypeHTTP.String())
	assert.Equal(t, "invalid_response", ErrTypeInvalidResponse.String())
	assert.Equal(t, "unknown", ErrTypeUnknown.String())
}
