// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultIdleTimeout expires connections nobody has used for this long.
const DefaultIdleTimeout = 30 * time.Minute

// =============================================================================
// SESSION MANAGER
// =============================================================================

type entry struct {
	ctrl         *Controller
	lastActivity time.Time
}

// Manager maps opaque connection tokens to Controllers and expires idle ones.
type Manager struct {
	mu      sync.Mutex
	deps    Deps
	timeout time.Duration
	entries map[string]*entry
}

// NewManager creates a manager whose Controllers share deps. A non-positive
// timeout selects DefaultIdleTimeout.
func NewManager(deps Deps, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	return &Manager{
		deps:    deps.withDefaults(),
		timeout: timeout,
		entries: make(map[string]*entry),
	}
}

// Timeout returns the idle expiry.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// Create registers a new Controller and returns its token.
func (m *Manager) Create() (string, *Controller) {
	token := uuid.NewString()
	ctrl := NewController(m.deps)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[token] = &entry{ctrl: ctrl, lastActivity: m.deps.Now()}
	return token, ctrl
}

// Get returns the Controller for token and records activity. Expired
// tokens are removed and reported as missing.
func (m *Manager) Get(token string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[token]
	if !ok {
		return nil, false
	}
	now := m.deps.Now()
	if m.expired(e, now) {
		delete(m.entries, token)
		return nil, false
	}
	e.lastActivity = now
	return e.ctrl, true
}

// Remove forgets token.
func (m *Manager) Remove(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, token)
}

// Len returns the number of live connections.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// RemainingTime returns how long token has before it expires.
func (m *Manager) RemainingTime(token string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[token]
	if !ok {
		return 0
	}
	remaining := m.timeout - m.deps.Now().Sub(e.lastActivity)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// expired reports whether e has been idle past the timeout. A connection
// with a request in flight never expires.
func (m *Manager) expired(e *entry, now time.Time) bool {
	return now.Sub(e.lastActivity) >= m.timeout && !e.ctrl.Busy()
}

// Sweep removes expired connections and returns how many were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.deps.Now()
	removed := 0
	for token, e := range m.entries {
		if m.expired(e, now) {
			delete(m.entries, token)
			removed++
		}
	}
	if removed > 0 {
		m.deps.Logger.Debug("expired idle connections", "count", removed)
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
