package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Daily   RecurrenceKind = "daily"
	Weekly  RecurrenceKind = "weekly"
	Monthly RecurrenceKind = "monthly"
	Yearly  RecurrenceKind = "yearly"
	Custom  RecurrenceKind = "custom"
)

type (
	RecurrenceKind string

	// Date is a calendar date. The time component is always normalized to
	// local midnight; expenses carry no time-of-day semantics.
	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Category is the canonical category of a ledger entry, resolved once
	// at ingestion. Name keeps the display form the user originally chose,
	// which may be an alias of ID (e.g. "交通" for "transportation").
	Category struct {
		ID   string
		Name string
	}

	// LedgerEntry is a single recorded expense. The aggregation subsystems
	// never mutate it; only explicit user edits or deletion do.
	LedgerEntry struct {
		ID        string
		OwnerID   string
		Amount    Money
		Category  Category
		Date      Date
		Note      string
		SplitWith []string // participant user ids, empty when not shared
		Split     bool     // already reflected in a split record
	}

	// EntryDraft is the write-coordinator input. ClientRef is the temporary
	// client-side id of the optimistic UI entry; the outcome echoes it so
	// presentation can reconcile once the durable id is known.
	EntryDraft struct {
		ClientRef    string
		OwnerID      string
		Amount       Money
		CategoryID   string // structured id, may be empty
		CategoryName string // display name or bare-string category
		Date         Date
		Note         string
		SplitWith    []string
	}

	// BudgetScope selects which entries count toward a budget.
	// No categories means overall; one means single-category; several are
	// treated as one union bucket.
	BudgetScope struct {
		Categories []string
	}

	BudgetSpec struct {
		ID          string
		OwnerID     string
		Recurrence  RecurrenceKind
		Amount      Money
		Scope       BudgetScope
		CustomStart Date // custom recurrence only
		CustomEnd   Date
	}

	// EntrySummary is the lightweight contributing-entry record kept on a
	// leaderboard member so standings render without loading full entries.
	EntrySummary struct {
		EntryID  string
		Amount   Money
		Date     Date
		Category Category
	}

	// MemberAggregate is one participant's running total plus the entries
	// backing it. The total must equal the sum of the summaries restricted
	// to the leaderboard window; drift is repaired by resync.
	MemberAggregate struct {
		UserID     string
		Nickname   string
		PhotoURL   string
		Total      Money
		Entries    []EntrySummary
		ShowDetail bool // whether others may see entry detail once ended
	}

	LeaderboardSpec struct {
		ID      string
		Name    string
		OwnerID string
		Start   Date
		End     Date
		Members []MemberAggregate
	}

	// Profile is the user record the engine reads: display snapshot data
	// plus the list of leaderboards the user participates in.
	Profile struct {
		UserID       string
		Nickname     string
		PhotoURL     string
		Leaderboards []string
	}

	SplitShare struct {
		UserID   string
		Nickname string
		PhotoURL string
		Share    Money
	}

	// SplitRecord is the companion record of a shared expense. Participant
	// display data is snapshotted from profiles at write time, never taken
	// from client-supplied cached values.
	SplitRecord struct {
		ID        string
		EntryID   string
		PayerID   string
		Shares    []SplitShare
		CreatedAt time.Time
	}

	LoanStatus string

	Loan struct {
		ID              string
		LenderID        string
		BorrowerID      string
		CounterpartName string
		Amount          Money
		Repaid          Money
		DueDate         Date
		Status          LoanStatus
	}

	NotificationKind string

	// NotificationRecord doubles as payload and deduplication marker: at
	// most one unread record per (kind, recipient, subject) exists, enforced
	// by a lookup before insert rather than a database constraint.
	NotificationRecord struct {
		ID          string
		Kind        NotificationKind
		RecipientID string
		SubjectKey  string // period-window key or loan id
		Title       string
		Body        string
		AmountCents int64
		Percent     float64
		Read        bool
		CreatedAt   time.Time
	}
)

const (
	LoanOpen    LoanStatus = "open"
	LoanPartial LoanStatus = "partial"
	LoanSettled LoanStatus = "settled"
)

const (
	NotifyBudgetThreshold         NotificationKind = "budget_threshold"
	NotifyCategoryBudgetThreshold NotificationKind = "category_budget_threshold"
	NotifyLoanDueSoon             NotificationKind = "loan_due_soon"
	NotifyLoanOverdue             NotificationKind = "loan_overdue"
	NotifyLeaderboardEnded        NotificationKind = "leaderboard_ended"
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrMissingOwner  = errors.New("missing owner")
	ErrMissingDate   = errors.New("missing date")
	ErrInvalidPeriod = errors.New("invalid recurrence period")
	ErrCustomRange   = errors.New("custom period start after end")
	ErrEmptyScope    = errors.New("empty category in scope")
)

// NewDate creates a Date at local midnight.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.Local)}
}

// DateOf truncates an instant to its local calendar date.
func DateOf(t time.Time) Date {
	t = t.Local()
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// EndOfDay returns the last represented instant of the date, 23:59:59.999.
func (d Date) EndOfDay() time.Time {
	return d.AddDate(0, 0, 1).Add(-time.Millisecond)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrMissingDate
	}
	return nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (d EntryDraft) Validate() error {
	if err := d.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(d.OwnerID) == "" {
		return ErrMissingOwner
	}
	if err := d.Date.Validate(); err != nil {
		return err
	}
	return nil
}

// IsOverall reports whether the scope covers all categories.
func (s BudgetScope) IsOverall() bool {
	return len(s.Categories) == 0
}

func (b BudgetSpec) Validate() error {
	if err := b.Amount.Validate(); err != nil {
		return err
	}
	switch b.Recurrence {
	case Daily, Weekly, Monthly, Yearly:
	case Custom:
		if !b.CustomStart.IsZero() && !b.CustomEnd.IsZero() && b.CustomEnd.Before(b.CustomStart.Time) {
			return ErrCustomRange
		}
	default:
		return ErrInvalidPeriod
	}
	for _, c := range b.Scope.Categories {
		if strings.TrimSpace(c) == "" {
			return ErrEmptyScope
		}
	}
	return nil
}

// Member returns the aggregate for the given user, or nil.
func (l *LeaderboardSpec) Member(userID string) *MemberAggregate {
	for i := range l.Members {
		if l.Members[i].UserID == userID {
			return &l.Members[i]
		}
	}
	return nil
}

// ActiveAt reports whether the leaderboard still accepts incremental
// updates: now within [start, end-of-day(end)]. Already-ended leaderboards
// are read-only on the write path and only change through resync.
func (l LeaderboardSpec) ActiveAt(now time.Time) bool {
	if l.Start.IsZero() || l.End.IsZero() {
		return false
	}
	return !now.Before(l.Start.Time) && !now.After(l.End.EndOfDay())
}

// Outstanding returns the unpaid remainder of the loan.
func (l Loan) Outstanding() Money {
	return Money{Cents: l.Amount.Cents - l.Repaid.Cents}
}
