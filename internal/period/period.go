// Package period computes the currently active window of a recurring
// budget cycle. Each recurrence kind has its own resolver strategy,
// looked up through a registry.
//
// Windows are always re-derived from the caller-supplied "now"; nothing
// here caches a wall-clock read, so long-running processes see the real
// calendar date. Callers inject a Clock and pass Clock.Now() down.
package period

import (
	"fmt"
	"time"

	"moneybook/internal/core"
)

// Clock supplies the current instant. Production code uses SystemClock;
// tests use a fixed clock so window boundaries are deterministic.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Window is one instance of a recurring cycle, inclusive on both ends.
// Start is local midnight; End is the last instant of the end date.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window, inclusive.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Key is a compact identifier of the window, used to deduplicate
// per-period notification records.
func (w Window) Key() string {
	return w.Start.Format("2006-01-02") + ".." + core.DateOf(w.End).Format("2006-01-02")
}

// Of builds the window spanning two calendar dates.
func Of(start, end core.Date) Window {
	return Window{Start: start.Time, End: end.EndOfDay()}
}

// Resolver computes the currently active window for one recurrence kind.
type Resolver interface {
	// CurrentWindow derives the window containing now. The budget spec is
	// passed through for kinds that need per-spec data (custom ranges).
	CurrentWindow(now time.Time, spec core.BudgetSpec) Window
}

type DailyResolver struct{}

func (DailyResolver) CurrentWindow(now time.Time, _ core.BudgetSpec) Window {
	d := core.DateOf(now)
	return Of(d, d)
}

// WeeklyResolver starts weeks on Monday.
type WeeklyResolver struct{}

func (WeeklyResolver) CurrentWindow(now time.Time, _ core.BudgetSpec) Window {
	back := int(now.Weekday()) - 1
	if now.Weekday() == time.Sunday {
		back = 6
	}
	start := core.DateOf(now.AddDate(0, 0, -back))
	end := core.DateOf(start.AddDate(0, 0, 6))
	return Of(start, end)
}

type MonthlyResolver struct{}

func (MonthlyResolver) CurrentWindow(now time.Time, _ core.BudgetSpec) Window {
	now = now.Local()
	start := core.NewDate(now.Year(), int(now.Month()), 1)
	// day zero of the next month is the last day of this one
	last := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, time.Local)
	return Of(start, core.DateOf(last))
}

type YearlyResolver struct{}

func (YearlyResolver) CurrentWindow(now time.Time, _ core.BudgetSpec) Window {
	now = now.Local()
	return Of(core.NewDate(now.Year(), 1, 1), core.NewDate(now.Year(), 12, 31))
}

// CustomResolver uses the budget spec's explicit date pair; specs without
// one fall back to the monthly window.
type CustomResolver struct{}

func (CustomResolver) CurrentWindow(now time.Time, spec core.BudgetSpec) Window {
	if spec.CustomStart.IsZero() || spec.CustomEnd.IsZero() {
		return MonthlyResolver{}.CurrentWindow(now, spec)
	}
	return Of(spec.CustomStart, spec.CustomEnd)
}

var resolvers = map[core.RecurrenceKind]Resolver{
	core.Daily:   DailyResolver{},
	core.Weekly:  WeeklyResolver{},
	core.Monthly: MonthlyResolver{},
	core.Yearly:  YearlyResolver{},
	core.Custom:  CustomResolver{},
}

// Get returns the resolver registered for a recurrence kind.
func Get(kind core.RecurrenceKind) (Resolver, error) {
	r, ok := resolvers[kind]
	if !ok {
		return nil, fmt.Errorf("unknown recurrence kind: %s", kind)
	}
	return r, nil
}

// Register installs a resolver for a new recurrence kind.
func Register(kind core.RecurrenceKind, r Resolver) {
	resolvers[kind] = r
}

// Current is the common path: resolve the spec's recurrence kind and
// derive the active window. Unknown kinds fall back to monthly rather
// than failing a whole aggregation pass.
func Current(now time.Time, spec core.BudgetSpec) Window {
	r, err := Get(spec.Recurrence)
	if err != nil {
		r = MonthlyResolver{}
	}
	return r.CurrentWindow(now, spec)
}
