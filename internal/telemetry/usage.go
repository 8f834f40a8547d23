// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/stembot/internal/util"
)

// DateLayout names daily usage files.
const DateLayout = "2006-01-02"

// =============================================================================
// USAGE TYPES
// =============================================================================

// ModelUsage accumulates calls to one model.
type ModelUsage struct {
	Queries      int     `json:"queries"`
	Failures     int     `json:"failures"`
	PromptTokens int     `json:"prompt_tokens"`
	ReplyTokens  int     `json:"reply_tokens"`
	TotalSeconds float64 `json:"total_seconds"`
}

// AverageSeconds returns the mean call duration.
func (m ModelUsage) AverageSeconds() float64 {
	if m.Queries == 0 {
		return 0
	}
	return m.TotalSeconds / float64(m.Queries)
}

func (m *ModelUsage) add(o ModelUsage) {
	m.Queries += o.Queries
	m.Failures += o.Failures
	m.PromptTokens += o.PromptTokens
	m.ReplyTokens += o.ReplyTokens
	m.TotalSeconds += o.TotalSeconds
}

// DailyUsage is one day of usage keyed by model name.
type DailyUsage struct {
	Date   string                 `json:"date"`
	Models map[string]*ModelUsage `json:"models"`
}

// Total sums every model for the day.
func (d *DailyUsage) Total() ModelUsage {
	var t ModelUsage
	for _, m := range d.Models {
		t.add(*m)
	}
	return t
}

// UsageSummary aggregates usage over a window of days.
type UsageSummary struct {
	Days   int                   `json:"days"`
	Total  ModelUsage            `json:"total"`
	Models map[string]ModelUsage `json:"models"`
	Daily  []DailyUsage          `json:"daily"` // oldest first, days without usage omitted
}

// =============================================================================
// USAGE TRACKER
// =============================================================================

// UsageTracker records model calls into one JSON file per day.
type UsageTracker struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

// NewUsageTracker creates a tracker persisting under dir.
func NewUsageTracker(dir string) (*UsageTracker, error) {
	if dir == "" {
		return nil, errors.New("usage directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create usage directory: %w", err)
	}
	return &UsageTracker{dir: dir, now: time.Now}, nil
}

// SetClock replaces the tracker's time source.
func (u *UsageTracker) SetClock(now func() time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.now = now
}

func (u *UsageTracker) path(date string) string {
	return filepath.Join(u.dir, date+".json")
}

// load reads one day. A missing file is an empty day.
func (u *UsageTracker) load(date string) (*DailyUsage, error) {
	day := &DailyUsage{Date: date, Models: make(map[string]*ModelUsage)}
	data, err := os.ReadFile(u.path(date))
	if errors.Is(err, os.ErrNotExist) {
		return day, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, day); err != nil {
		return nil, fmt.Errorf("decode %s: %w", u.path(date), err)
	}
	if day.Models == nil {
		day.Models = make(map[string]*ModelUsage)
	}
	return day, nil
}

// Record adds one model call to today's totals.
func (u *UsageTracker) Record(modelName string, promptTokens, replyTokens int, elapsed time.Duration, failed bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	date := u.now().Format(DateLayout)
	day, err := u.load(date)
	if err != nil {
		return err
	}

	m, ok := day.Models[modelName]
	if !ok {
		m = &ModelUsage{}
		day.Models[modelName] = m
	}
	m.Queries++
	if failed {
		m.Failures++
	}
	m.PromptTokens += promptTokens
	m.ReplyTokens += replyTokens
	m.TotalSeconds += elapsed.Seconds()

	return util.WriteJSON(u.path(date), day, 0644)
}

// Day returns the usage recorded on the given day.
func (u *UsageTracker) Day(t time.Time) (*DailyUsage, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.load(t.Format(DateLayout))
}

// Summary aggregates the last days days, today included.
func (u *UsageTracker) Summary(days int) (*UsageSummary, error) {
	if days < 1 {
		days = 1
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	today := u.now()
	s := &UsageSummary{Days: days, Models: make(map[string]ModelUsage)}
	for i := days - 1; i >= 0; i-- {
		day, err := u.load(today.AddDate(0, 0, -i).Format(DateLayout))
		if err != nil {
			return nil, err
		}
		if len(day.Models) == 0 {
			continue
		}
		for name, m := range day.Models {
			agg := s.Models[name]
			agg.add(*m)
			s.Models[name] = agg
			s.Total.add(*m)
		}
		s.Daily = append(s.Daily, *day)
	}
	return s, nil
}

// Dates lists the days with recorded usage, oldest first.
func (u *UsageTracker) Dates() ([]string, error) {
	entries, err := os.ReadDir(u.dir)
	if err != nil {
		return nil, err
	}
	var dates []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		date := strings.TrimSuffix(name, ".json")
		if _, err := time.Parse(DateLayout, date); err != nil {
			continue
		}
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates, nil
}

// DeleteBefore removes daily files older than before and returns how many
// were removed.
func (u *UsageTracker) DeleteBefore(before time.Time) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	dates, err := u.Dates()
	if err != nil {
		return 0, err
	}
	cutoff := before.Format(DateLayout)
	removed := 0
	var errs []error
	for _, date := range dates {
		if date >= cutoff {
			break
		}
		if err := os.Remove(u.path(date)); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
