// Package llmplan defines the optional LLM navigation planner collaborator.
// The core must function correctly when no planner is configured; callers
// simply fall back to common selectors.
package llmplan

import (
	"context"
	"sync"

	"github.com/milesc-bot/gym-scraper/internal/model"
)

// Planner produces a navigation Plan from a page's rendered HTML.
type Planner interface {
	PlanPage(ctx context.Context, html string) (model.Plan, error)
	PlanLoginSelectors(ctx context.Context, html string) (usernameSel, passwordSel, submitSel string, err error)
}

// BudgetGuard tracks cumulative planner spend against a cap, shared across
// every call a Planner implementation makes in a process lifetime.
type BudgetGuard struct {
	mu         sync.Mutex
	capCents   int
	spentCents int
}

// NewBudgetGuard builds a guard with the given cumulative cap in cents.
func NewBudgetGuard(capCents int) *BudgetGuard {
	return &BudgetGuard{capCents: capCents}
}

// Reserve reports whether costCents more spend fits under the cap, and if
// so, commits it.
func (b *BudgetGuard) Reserve(costCents int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.spentCents+costCents > b.capCents {
		return false
	}
	b.spentCents += costCents
	return true
}
