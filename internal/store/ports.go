// Package store defines the ports to the persistent document store.
// Implementations live in the sqlite and memory subpackages.
package store

import (
	"context"
	"errors"
	"time"

	"moneybook/internal/core"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

type (
	Ledger interface {
		// PutEntry inserts or replaces a ledger entry.
		PutEntry(ctx context.Context, e core.LedgerEntry) error
		GetEntry(ctx context.Context, id string) (core.LedgerEntry, error)
		DeleteEntry(ctx context.Context, id string) error
		EntriesByOwner(ctx context.Context, ownerID string) ([]core.LedgerEntry, error)
		// EntriesByOwnerInRange returns the owner's entries dated within
		// [from, to], inclusive on both ends.
		EntriesByOwnerInRange(ctx context.Context, ownerID string, from, to time.Time) ([]core.LedgerEntry, error)
		PutSplitRecord(ctx context.Context, s core.SplitRecord) error
		GetSplitRecord(ctx context.Context, id string) (core.SplitRecord, error)
	}

	Profiles interface {
		GetProfile(ctx context.Context, userID string) (core.Profile, error)
		PutProfile(ctx context.Context, p core.Profile) error
		// ListUserIDs returns every known user id, for full evaluator sweeps.
		ListUserIDs(ctx context.Context) ([]string, error)
	}

	Leaderboards interface {
		GetLeaderboard(ctx context.Context, id string) (core.LeaderboardSpec, error)
		// PutLeaderboard saves the spec wholesale, member list included. The
		// member list is the document-level unit of mutual exclusion.
		PutLeaderboard(ctx context.Context, lb core.LeaderboardSpec) error
		ListLeaderboards(ctx context.Context) ([]core.LeaderboardSpec, error)
	}

	Budgets interface {
		BudgetsByOwner(ctx context.Context, ownerID string) ([]core.BudgetSpec, error)
		PutBudgetSpec(ctx context.Context, b core.BudgetSpec) error
		DeleteBudgetSpec(ctx context.Context, id string) error
	}

	Loans interface {
		// OpenLoansByUser returns loans involving the user that are not yet
		// settled (open or partially repaid).
		OpenLoansByUser(ctx context.Context, userID string) ([]core.Loan, error)
		PutLoan(ctx context.Context, l core.Loan) error
	}

	Notifications interface {
		// UnreadNotificationExists is the lookup half of the
		// lookup-before-insert deduplication contract.
		UnreadNotificationExists(ctx context.Context, kind core.NotificationKind, recipientID, subjectKey string) (bool, error)
		PutNotification(ctx context.Context, n core.NotificationRecord) error
		NotificationsByRecipient(ctx context.Context, recipientID string) ([]core.NotificationRecord, error)
		MarkNotificationRead(ctx context.Context, id string) error
	}
)

// Store is the full document-store surface plus the atomic transaction
// primitive: read-then-write over an arbitrary set of documents with
// all-or-nothing commit.
type Store interface {
	Ledger
	Profiles
	Leaderboards
	Budgets
	Loans
	Notifications

	// RunInTransaction executes fn against a transactional view of the
	// store. If fn returns an error, or the commit fails, none of the
	// writes performed through tx are visible. Nested calls join the
	// enclosing transaction.
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error
}
