// Package aggregate computes point-in-time sums over ledger entries:
// budget consumption within a period window and category scope, and the
// derived percentage / over-budget status.
package aggregate

import (
	"time"

	"moneybook/internal/category"
	"moneybook/internal/core"
	"moneybook/internal/period"
)

// Result is the outcome of one aggregation pass.
type Result struct {
	Sum   core.Money
	Count int
}

// BudgetProgress is the UI-facing view of one budget spec.
type BudgetProgress struct {
	Spec       core.BudgetSpec
	Window     period.Window
	Spent      core.Money
	Count      int
	Percent    float64
	OverBudget bool
}

// Compute filters entries to those dated inside the window (inclusive on
// both ends, compared at full resolution) and matching the category scope,
// then sums their amounts. Amounts are integral cents; no rounding happens.
func Compute(entries []core.LedgerEntry, w period.Window, scope core.BudgetScope) Result {
	var r Result
	for _, e := range entries {
		if !w.Contains(e.Date.Time) {
			continue
		}
		if !category.MatchesScope(e, scope) {
			continue
		}
		r.Sum.Cents += e.Amount.Cents
		r.Count++
	}
	return r
}

// Progress derives one budget's consumption for the period active at now.
//
// The over-budget threshold is inclusive: spending exactly the budget
// counts as over. A non-positive budget amount is substituted with 1 for
// the percentage so the division stays defined.
func Progress(spec core.BudgetSpec, entries []core.LedgerEntry, now time.Time) BudgetProgress {
	w := period.Current(now, spec)
	r := Compute(entries, w, spec.Scope)

	denom := spec.Amount.Cents
	if denom <= 0 {
		denom = 1
	}
	return BudgetProgress{
		Spec:       spec,
		Window:     w,
		Spent:      r.Sum,
		Count:      r.Count,
		Percent:    float64(r.Sum.Cents) / float64(denom) * 100,
		OverBudget: r.Sum.Cents >= spec.Amount.Cents,
	}
}

// ProgressAll computes progress for every spec against one shared entry
// set. This is the computeBudgetProgress operation exposed to
// presentation collaborators.
func ProgressAll(specs []core.BudgetSpec, entries []core.LedgerEntry, now time.Time) []BudgetProgress {
	out := make([]BudgetProgress, 0, len(specs))
	for _, spec := range specs {
		out = append(out, Progress(spec, entries, now))
	}
	return out
}
