package filter

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/poisonednumber/scanner-map-client/internal/store"
	"github.com/poisonednumber/scanner-map-client/pkg/core"
)

// CategoryAll disables category filtering.
const CategoryAll = "ALL"

// Engine decides which stored calls are rendered. Visibility is the AND of
// three predicates: the rolling time window, the free-text search, and the
// selected category. Every pass is a full O(n) walk of the store; the
// window bounds n.
type Engine struct {
	store *store.Store

	mu         sync.Mutex
	rangeHours int
	search     string
	category   string

	now    func() time.Time
	logger *slog.Logger
}

// New creates an engine with the given time window.
func New(s *store.Store, rangeHours int, logger *slog.Logger) *Engine {
	return &Engine{
		store:      s,
		rangeHours: rangeHours,
		category:   CategoryAll,
		now:        time.Now,
		logger:     logger,
	}
}

// SetRangeHours changes the time window and recomputes visibility.
func (e *Engine) SetRangeHours(hours int) {
	e.mu.Lock()
	e.rangeHours = hours
	e.mu.Unlock()
	e.Apply()
}

// SetSearch changes the free-text filter and recomputes visibility.
func (e *Engine) SetSearch(text string) {
	e.mu.Lock()
	e.search = strings.ToLower(strings.TrimSpace(text))
	e.mu.Unlock()
	e.Apply()
}

// SetCategory changes the category filter and recomputes visibility.
func (e *Engine) SetCategory(category string) {
	e.mu.Lock()
	e.category = strings.ToUpper(strings.TrimSpace(category))
	if e.category == "" {
		e.category = CategoryAll
	}
	e.mu.Unlock()
	e.Apply()
}

// Category returns the currently selected category filter.
func (e *Engine) Category() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.category
}

// IsVisible evaluates all three predicates for a single call.
func (e *Engine) IsVisible(call core.Call) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isVisibleLocked(call)
}

func (e *Engine) isVisibleLocked(call core.Call) bool {
	return e.withinWindowLocked(call.Timestamp) &&
		e.matchesSearchLocked(call) &&
		e.matchesCategoryLocked(call)
}

func (e *Engine) withinWindowLocked(ts int64) bool {
	return e.now().Unix()-ts <= int64(e.rangeHours)*3600
}

func (e *Engine) matchesSearchLocked(call core.Call) bool {
	if e.search == "" {
		return true
	}
	return strings.Contains(strings.ToLower(call.Transcription), e.search) ||
		strings.Contains(strings.ToLower(call.NormalizedCategory()), e.search)
}

func (e *Engine) matchesCategoryLocked(call core.Call) bool {
	if e.category == CategoryAll {
		return true
	}
	return call.NormalizedCategory() == e.category
}

// Apply re-evaluates every stored call and returns the visible count. When
// the selected category yields zero visible calls, the filter resets to ALL
// and a second pass runs, so the sidebar never sticks in an empty state.
func (e *Engine) Apply() int {
	visible := e.applyOnce()

	e.mu.Lock()
	needsReset := visible == 0 && e.category != CategoryAll && e.store.Len() > 0
	if needsReset {
		e.logger.Info("category filter yielded no calls, resetting to ALL", "category", e.category)
		e.category = CategoryAll
	}
	e.mu.Unlock()

	if needsReset {
		visible = e.applyOnce()
	}
	return visible
}

func (e *Engine) applyOnce() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	visible := 0
	var toShow, toHide []int64
	e.store.ForEach(func(rec store.Record) {
		if e.isVisibleLocked(rec.Call) {
			visible++
			if !rec.Visible {
				toShow = append(toShow, rec.Call.ID)
			}
		} else if rec.Visible {
			toHide = append(toHide, rec.Call.ID)
		}
	})
	for _, id := range toShow {
		e.store.SetVisible(id, true)
	}
	for _, id := range toHide {
		e.store.SetVisible(id, false)
		e.store.ClearPulse(id)
	}
	return visible
}

// SweepTick is the expiry pass: it only re-checks the time window for calls
// currently visible, hiding the ones that aged out. Records stay in the
// store so widening the range re-shows them without a refetch. When the
// sweep empties the map while a category filter is active, the filter
// resets to ALL just like Apply does. Returns the number hidden; running
// it twice back to back hides nothing the second time.
func (e *Engine) SweepTick() int {
	e.mu.Lock()

	visible := 0
	var expired []int64
	e.store.ForEach(func(rec store.Record) {
		if !rec.Visible {
			return
		}
		if e.withinWindowLocked(rec.Call.Timestamp) {
			visible++
		} else {
			expired = append(expired, rec.Call.ID)
		}
	})
	for _, id := range expired {
		e.store.SetVisible(id, false)
		e.store.ClearPulse(id)
	}

	needsReset := visible == 0 && e.category != CategoryAll && e.store.Len() > 0
	if needsReset {
		e.logger.Info("sweep left no visible calls, resetting category to ALL", "category", e.category)
		e.category = CategoryAll
	}
	e.mu.Unlock()

	if needsReset {
		e.applyOnce()
	}
	return len(expired)
}

// SetNow overrides the clock; tests use this to move time.
func (e *Engine) SetNow(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}
