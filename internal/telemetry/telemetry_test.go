// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/stembot/internal/config"
)

// =============================================================================
// USAGE
// =============================================================================

func newTracker(t *testing.T, now time.Time) *UsageTracker {
	t.Helper()
	u, err := NewUsageTracker(filepath.Join(t.TempDir(), "usage"))
	require.NoError(t, err)
	u.SetClock(func() time.Time { return now })
	return u
}

func TestUsageTracker_Record(t *testing.T) {
	day := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	u := newTracker(t, day)

	require.NoError(t, u.Record("STEMBot-4B", 10, 20, 2*time.Second, false))
	require.NoError(t, u.Record("STEMBot-4B", 5, 0, time.Second, true))
	require.NoError(t, u.Record("llama3", 1, 2, 500*time.Millisecond, false))

	got, err := u.Day(day)
	require.NoError(t, err)
	require.Contains(t, got.Models, "STEMBot-4B")

	m := got.Models["STEMBot-4B"]
	assert.Equal(t, 2, m.Queries)
	assert.Equal(t, 1, m.Failures)
	assert.Equal(t, 15, m.PromptTokens)
	assert.Equal(t, 20, m.ReplyTokens)
	assert.InDelta(t, 1.5, m.AverageSeconds(), 1e-9)

	total := got.Total()
	assert.Equal(t, 3, total.Queries)
	assert.Equal(t, 22, total.ReplyTokens)

	assert.FileExists(t, filepath.Join(u.dir, "2025-03-14.json"))
}

func TestUsageTracker_EmptyDay(t *testing.T) {
	u := newTracker(t, time.Now())

	got, err := u.Day(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, got.Models)
	assert.Zero(t, got.Total().AverageSeconds())
}

func TestUsageTracker_Summary(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	u := newTracker(t, now.AddDate(0, 0, -10))
	require.NoError(t, u.Record("old", 1, 1, time.Second, false))

	u.SetClock(func() time.Time { return now.AddDate(0, 0, -1) })
	require.NoError(t, u.Record("a", 1, 1, time.Second, false))

	u.SetClock(func() time.Time { return now })
	require.NoError(t, u.Record("a", 2, 3, time.Second, false))
	require.NoError(t, u.Record("b", 0, 0, time.Second, true))

	s, err := u.Summary(7)
	require.NoError(t, err)
	assert.Equal(t, 7, s.Days)
	assert.Equal(t, 3, s.Total.Queries)
	assert.Equal(t, 1, s.Total.Failures)
	assert.NotContains(t, s.Models, "old")
	assert.Equal(t, 2, s.Models["a"].Queries)
	assert.Equal(t, 4, s.Models["a"].ReplyTokens)

	require.Len(t, s.Daily, 2)
	assert.Equal(t, "2025-03-13", s.Daily[0].Date)
	assert.Equal(t, "2025-03-14", s.Daily[1].Date)
}

func TestUsageTracker_DeleteBefore(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	u := newTracker(t, now)
	for _, d := range []int{-40, -31, 0} {
		u.SetClock(func() time.Time { return now.AddDate(0, 0, d) })
		require.NoError(t, u.Record("m", 1, 1, time.Second, false))
	}
	require.NoError(t, os.WriteFile(filepath.Join(u.dir, "notes.txt"), []byte("x"), 0644))

	removed, err := u.DeleteBefore(now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	dates, err := u.Dates()
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-03-14"}, dates)
}

func TestUsageTracker_CorruptDay(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	u := newTracker(t, now)
	require.NoError(t, os.WriteFile(filepath.Join(u.dir, "2025-03-14.json"), []byte("{oops"), 0644))

	assert.Error(t, u.Record("m", 1, 1, time.Second, false))
	_, err := u.Summary(1)
	assert.Error(t, err)
}

func TestNewUsageTracker_RequiresDir(t *testing.T) {
	_, err := NewUsageTracker("")
	assert.Error(t, err)
}

// =============================================================================
// LOGGER
// =============================================================================

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("whatever"))
}

func TestInitLogger_WritesJSONToFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.SetDefaults()
	cfg.Logging.Stderr = false
	cfg.Logging.Level = "warn"

	logger, closeLog, err := InitLogger(cfg)
	require.NoError(t, err)

	logger.Info("dropped")
	slog.Warn("kept", "user", "alice")
	require.NoError(t, closeLog())

	data, err := os.ReadFile(cfg.LogFile())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), `"msg":"kept"`)
	assert.Contains(t, string(data), `"user":"alice"`)
}

// =============================================================================
// OPENTELEMETRY
// =============================================================================

func TestNewProviders_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()

	p, err := NewProviders(ctx, &buf, "test")
	require.NoError(t, err)

	_, span := p.Tracer.Tracer("test").Start(ctx, "ollama.chat")
	span.End()

	counter, err := p.Meter.Meter("test").Int64Counter("ollama.chat.errors")
	require.NoError(t, err)
	counter.Add(ctx, 1)

	require.NoError(t, p.Shutdown(ctx))
	assert.Contains(t, buf.String(), "ollama.chat")
	assert.Contains(t, buf.String(), ServiceName)
}

func TestInitTelemetry_Disabled(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.SetDefaults()
	cfg.Telemetry.Enabled = false

	shutdown, err := InitTelemetry(context.Background(), cfg, "test")
	require.NoError(t, err)
	shutdown()
	assert.NoFileExists(t, cfg.TelemetryFile())
}
