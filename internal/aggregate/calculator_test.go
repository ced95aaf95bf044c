package aggregate

import (
	"math"
	"testing"
	"time"

	"moneybook/internal/core"
	"moneybook/internal/period"
)

func entry(owner string, cents int64, catID, catName string, d core.Date) core.LedgerEntry {
	return core.LedgerEntry{
		OwnerID:  owner,
		Amount:   core.Money{Cents: cents},
		Category: core.Category{ID: catID, Name: catName},
		Date:     d,
	}
}

func janWindow() period.Window {
	return period.Of(core.NewDate(2024, 1, 1), core.NewDate(2024, 1, 31))
}

func TestComputeFiltersByWindow(t *testing.T) {
	entries := []core.LedgerEntry{
		entry("u1", 200, "food", "", core.NewDate(2024, 1, 1)),  // start boundary
		entry("u1", 300, "food", "", core.NewDate(2024, 1, 31)), // end date, midnight
		entry("u1", 400, "food", "", core.NewDate(2024, 2, 1)),  // outside
		entry("u1", 500, "food", "", core.NewDate(2023, 12, 31)),
	}
	r := Compute(entries, janWindow(), core.BudgetScope{})
	if r.Sum.Cents != 500 || r.Count != 2 {
		t.Fatalf("Compute = %+v, want sum 500 count 2", r)
	}
}

func TestComputeMultiCategoryUnion(t *testing.T) {
	scope := core.BudgetScope{Categories: []string{"food", "transportation"}}
	entries := []core.LedgerEntry{
		entry("u1", 100, "", "交通", core.NewDate(2024, 1, 5)), // alias of transportation
		entry("u1", 250, "food", "", core.NewDate(2024, 1, 6)),
		entry("u1", 999, "", "娛樂", core.NewDate(2024, 1, 7)), // entertainment, excluded
	}
	r := Compute(entries, janWindow(), scope)
	if r.Sum.Cents != 350 || r.Count != 2 {
		t.Fatalf("Compute = %+v, want sum 350 count 2", r)
	}
}

func TestProgressPercentageAndStatus(t *testing.T) {
	now := time.Date(2024, 1, 20, 10, 0, 0, 0, time.Local)
	spec := core.BudgetSpec{Recurrence: core.Monthly, Amount: core.Money{Cents: 1000}}

	entries := []core.LedgerEntry{
		entry("u1", 850, "food", "", core.NewDate(2024, 1, 10)),
	}
	p := Progress(spec, entries, now)
	if math.Abs(p.Percent-85.0) > 1e-9 {
		t.Errorf("Percent = %v, want 85.0", p.Percent)
	}
	if p.OverBudget {
		t.Errorf("850 of 1000 must not be over budget")
	}
	if p.Spent.Cents != 850 || p.Count != 1 {
		t.Errorf("Spent = %+v Count = %d", p.Spent, p.Count)
	}
}

// The over-budget boundary is inclusive: reaching the budget exactly
// counts as over.
func TestProgressBoundaryIsInclusive(t *testing.T) {
	now := time.Date(2024, 1, 20, 10, 0, 0, 0, time.Local)
	spec := core.BudgetSpec{Recurrence: core.Monthly, Amount: core.Money{Cents: 1000}}
	entries := []core.LedgerEntry{
		entry("u1", 600, "food", "", core.NewDate(2024, 1, 5)),
		entry("u1", 400, "shopping", "", core.NewDate(2024, 1, 12)),
	}
	p := Progress(spec, entries, now)
	if !p.OverBudget {
		t.Fatalf("sum == budget must report over budget")
	}
	if math.Abs(p.Percent-100.0) > 1e-9 {
		t.Errorf("Percent = %v, want 100.0", p.Percent)
	}
}

// A non-positive budget amount must not produce NaN or Inf.
func TestProgressZeroBudgetGuard(t *testing.T) {
	now := time.Date(2024, 1, 20, 10, 0, 0, 0, time.Local)
	spec := core.BudgetSpec{Recurrence: core.Monthly, Amount: core.Money{Cents: 0}}
	entries := []core.LedgerEntry{
		entry("u1", 850, "food", "", core.NewDate(2024, 1, 10)),
	}
	p := Progress(spec, entries, now)
	if math.IsNaN(p.Percent) || math.IsInf(p.Percent, 0) {
		t.Fatalf("Percent = %v, must be finite", p.Percent)
	}
	if !p.OverBudget {
		t.Errorf("any spending against a zero budget is over")
	}
}

func TestProgressAll(t *testing.T) {
	now := time.Date(2024, 1, 20, 10, 0, 0, 0, time.Local)
	specs := []core.BudgetSpec{
		{ID: "overall", Recurrence: core.Monthly, Amount: core.Money{Cents: 100000}},
		{ID: "food", Recurrence: core.Monthly, Amount: core.Money{Cents: 20000},
			Scope: core.BudgetScope{Categories: []string{"food"}}},
	}
	entries := []core.LedgerEntry{
		entry("u1", 5000, "food", "", core.NewDate(2024, 1, 3)),
		entry("u1", 7000, "housing", "", core.NewDate(2024, 1, 4)),
	}
	got := ProgressAll(specs, entries, now)
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Spent.Cents != 12000 {
		t.Errorf("overall spent = %d, want 12000", got[0].Spent.Cents)
	}
	if got[1].Spent.Cents != 5000 {
		t.Errorf("food spent = %d, want 5000", got[1].Spent.Cents)
	}
}
