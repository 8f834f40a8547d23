// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/stembot/internal/ollama"
	"github.com/jeranaias/stembot/internal/storage"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T) (*Manager, *manualClock, *fakeGateway) {
	t.Helper()
	clock := &manualClock{now: t0}
	gw := &fakeGateway{result: ollama.QueryResult{Reply: "ok"}}
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return NewManager(Deps{Store: store, Gateway: gw, Now: clock.Now}, 30*time.Minute), clock, gw
}

func TestManager_CreateAndGet(t *testing.T) {
	m, _, _ := newTestManager(t)

	token, ctrl := m.Create()
	assert.Len(t, token, 36)

	got, ok := m.Get(token)
	require.True(t, ok)
	assert.Same(t, ctrl, got)

	_, ok = m.Get("unknown")
	assert.False(t, ok)

	other, _ := m.Create()
	assert.NotEqual(t, token, other)
	assert.Equal(t, 2, m.Len())
}

func TestManager_IdleExpiry(t *testing.T) {
	m, clock, _ := newTestManager(t)
	token, _ := m.Create()

	clock.Advance(29 * time.Minute)
	_, ok := m.Get(token)
	require.True(t, ok, "activity resets the idle timer")
	assert.Equal(t, 30*time.Minute, m.RemainingTime(token))

	clock.Advance(30 * time.Minute)
	_, ok = m.Get(token)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestManager_Sweep(t *testing.T) {
	m, clock, _ := newTestManager(t)
	stale, _ := m.Create()
	clock.Advance(20 * time.Minute)
	fresh, _ := m.Create()
	clock.Advance(15 * time.Minute)

	assert.Equal(t, 1, m.Sweep())
	_, ok := m.Get(stale)
	assert.False(t, ok)
	_, ok = m.Get(fresh)
	assert.True(t, ok)
}

func TestManager_BusyConnectionDoesNotExpire(t *testing.T) {
	m, clock, gw := newTestManager(t)
	gw.release = make(chan struct{})
	gw.started = make(chan struct{})

	token, ctrl := m.Create()
	require.NoError(t, ctrl.Login(context.Background(), "alice"))

	done := make(chan error, 1)
	go func() {
		_, err := ctrl.Send(context.Background(), "long question")
		done <- err
	}()
	<-gw.started

	clock.Advance(time.Hour)
	assert.Equal(t, 0, m.Sweep())
	_, ok := m.Get(token)
	assert.True(t, ok)

	close(gw.release)
	assert.NoError(t, <-done)
}

func TestManager_Remove(t *testing.T) {
	m, _, _ := newTestManager(t)
	token, _ := m.Create()
	m.Remove(token)
	_, ok := m.Get(token)
	assert.False(t, ok)
	assert.Zero(t, m.RemainingTime(token))
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
