package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"moneybook/internal/aggregate"
	"moneybook/internal/core"
	"moneybook/internal/events"
	"moneybook/internal/period"
	"moneybook/internal/store"
)

// LoanDueSoonDays is how far ahead of a due date the reminder fires.
const LoanDueSoonDays = 3

// Notifier evaluates notification trigger conditions and materializes
// notification records. Evaluation is a pure read followed by a
// conditional insert; the lookup-before-insert dance on unread records
// keeps triggers from firing twice within the same period.
type Notifier struct {
	store store.Store
	clock period.Clock
	hub   *events.Hub
}

func NewNotifier(s store.Store, clock period.Clock, hub *events.Hub) *Notifier {
	return &Notifier{store: s, clock: clock, hub: hub}
}

// EvaluateAll sweeps every known user. A failing user is logged and
// skipped so one bad record never blocks the rest of the sweep.
func (n *Notifier) EvaluateAll(ctx context.Context) (int, error) {
	users, err := n.store.ListUserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	created := 0
	for _, uid := range users {
		c, err := n.EvaluateUser(ctx, uid)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to evaluate user notifications",
				"error", err, "user_id", uid)
			continue
		}
		created += c
	}
	return created, nil
}

// EvaluateUser checks every budget and open loan of one user and
// returns how many notifications it created.
func (n *Notifier) EvaluateUser(ctx context.Context, userID string) (int, error) {
	now := n.clock.Now()
	created := 0

	specs, err := n.store.BudgetsByOwner(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("load budgets: %w", err)
	}
	if len(specs) > 0 {
		entries, err := n.store.EntriesByOwner(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("load entries: %w", err)
		}
		for _, spec := range specs {
			ok, err := n.evaluateBudget(ctx, spec, entries, now)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to evaluate budget",
					"error", err, "budget_id", spec.ID, "user_id", userID)
				continue
			}
			if ok {
				created++
			}
		}
	}

	loans, err := n.store.OpenLoansByUser(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load open loans",
			"error", err, "user_id", userID)
		return created, nil
	}
	for _, loan := range loans {
		ok, err := n.evaluateLoan(ctx, loan, userID, now)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to evaluate loan",
				"error", err, "loan_id", loan.ID, "user_id", userID)
			continue
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// evaluateBudget fires once spending reaches 80% of the budget amount
// for the current period. The comparison stays in integer cents.
func (n *Notifier) evaluateBudget(ctx context.Context, spec core.BudgetSpec, entries []core.LedgerEntry, now time.Time) (bool, error) {
	p := aggregate.Progress(spec, entries, now)
	if p.Spent.Cents*5 < spec.Amount.Cents*4 {
		return false, nil
	}

	kind := core.NotifyBudgetThreshold
	title := "Budget alert"
	if !spec.Scope.IsOverall() {
		kind = core.NotifyCategoryBudgetThreshold
		title = "Category budget alert"
	}
	// keyed by spec and window so the trigger re-arms each new period
	subject := spec.ID + "|" + p.Window.Key()

	exists, err := n.store.UnreadNotificationExists(ctx, kind, spec.OwnerID, subject)
	if err != nil {
		return false, fmt.Errorf("notification lookup: %w", err)
	}
	if exists {
		return false, nil
	}

	record := core.NotificationRecord{
		ID:          uuid.NewString(),
		Kind:        kind,
		RecipientID: spec.OwnerID,
		SubjectKey:  subject,
		Title:       title,
		Body:        fmt.Sprintf("Spent %s of %s (%.0f%%)", p.Spent, spec.Amount, p.Percent),
		AmountCents: p.Spent.Cents,
		Percent:     p.Percent,
		CreatedAt:   now,
	}
	if err := n.store.PutNotification(ctx, record); err != nil {
		return false, fmt.Errorf("save notification: %w", err)
	}

	n.hub.Publish(events.Event{Kind: events.NotificationCreated, UserID: spec.OwnerID, At: now})
	slog.InfoContext(ctx, "Created budget notification",
		"kind", string(kind),
		"user_id", spec.OwnerID,
		"budget_id", spec.ID,
		"percent", p.Percent)
	return true, nil
}

// evaluateLoan reminds about loans due within LoanDueSoonDays and flags
// loans past their due date. Each state is deduplicated separately, so a
// due-soon reminder does not suppress the later overdue one.
func (n *Notifier) evaluateLoan(ctx context.Context, loan core.Loan, userID string, now time.Time) (bool, error) {
	if loan.DueDate.IsZero() {
		return false, nil
	}

	var (
		kind  core.NotificationKind
		title string
	)
	due := loan.DueDate.EndOfDay()
	switch {
	case now.After(due):
		kind = core.NotifyLoanOverdue
		title = "Loan overdue"
	case due.Sub(now) <= LoanDueSoonDays*24*time.Hour:
		kind = core.NotifyLoanDueSoon
		title = "Loan due soon"
	default:
		return false, nil
	}

	exists, err := n.store.UnreadNotificationExists(ctx, kind, userID, loan.ID)
	if err != nil {
		return false, fmt.Errorf("notification lookup: %w", err)
	}
	if exists {
		return false, nil
	}

	outstanding := loan.Outstanding()
	record := core.NotificationRecord{
		ID:          uuid.NewString(),
		Kind:        kind,
		RecipientID: userID,
		SubjectKey:  loan.ID,
		Title:       title,
		Body:        fmt.Sprintf("%s owes %s, due %s", loan.CounterpartName, outstanding, loan.DueDate.Format("2006-01-02")),
		AmountCents: outstanding.Cents,
		CreatedAt:   now,
	}
	if err := n.store.PutNotification(ctx, record); err != nil {
		return false, fmt.Errorf("save notification: %w", err)
	}

	n.hub.Publish(events.Event{Kind: events.NotificationCreated, UserID: userID, At: now})
	slog.InfoContext(ctx, "Created loan notification",
		"kind", string(kind),
		"user_id", userID,
		"loan_id", loan.ID)
	return true, nil
}
