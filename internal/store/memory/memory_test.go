package memory

import (
	"context"
	"errors"
	"testing"

	"moneybook/internal/core"
	"moneybook/internal/store"
)

func TestTransactionCommit(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.PutEntry(ctx, core.LedgerEntry{ID: "e1", OwnerID: "u1", Amount: core.Money{Cents: 100}, Date: core.NewDate(2024, 1, 1)}); err != nil {
			return err
		}
		return tx.PutProfile(ctx, core.Profile{UserID: "u1", Nickname: "A"})
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	if _, err := s.GetEntry(ctx, "e1"); err != nil {
		t.Errorf("GetEntry after commit: %v", err)
	}
	if _, err := s.GetProfile(ctx, "u1"); err != nil {
		t.Errorf("GetProfile after commit: %v", err)
	}
}

// A failed transaction must leave no trace of any of its writes.
func TestTransactionRollback(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.PutProfile(ctx, core.Profile{UserID: "u1", Nickname: "before"}); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.PutEntry(ctx, core.LedgerEntry{ID: "e1", OwnerID: "u1"}); err != nil {
			return err
		}
		if err := tx.PutProfile(ctx, core.Profile{UserID: "u1", Nickname: "during"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTransaction = %v, want boom", err)
	}

	if _, err := s.GetEntry(ctx, "e1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("entry leaked out of failed transaction: %v", err)
	}
	p, err := s.GetProfile(ctx, "u1")
	if err != nil || p.Nickname != "before" {
		t.Errorf("profile = %+v, %v; want pre-transaction value", p, err)
	}
}

// Reads inside a transaction see that transaction's own writes.
func TestTransactionReadYourWrites(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.PutEntry(ctx, core.LedgerEntry{ID: "e1", OwnerID: "u1"}); err != nil {
			return err
		}
		if _, err := tx.GetEntry(ctx, "e1"); err != nil {
			return err
		}
		// nested calls join the transaction
		return tx.RunInTransaction(ctx, func(inner store.Store) error {
			_, err := inner.GetEntry(ctx, "e1")
			return err
		})
	})
	if err != nil {
		t.Fatalf("read-your-writes failed: %v", err)
	}
}

func TestEntriesByOwnerInRange(t *testing.T) {
	s := New()
	ctx := context.Background()
	dates := []core.Date{
		core.NewDate(2024, 1, 1),
		core.NewDate(2024, 1, 31),
		core.NewDate(2024, 2, 1),
	}
	for i, d := range dates {
		e := core.LedgerEntry{ID: string(rune('a' + i)), OwnerID: "u1", Amount: core.Money{Cents: 100}, Date: d}
		if err := s.PutEntry(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.PutEntry(ctx, core.LedgerEntry{ID: "x", OwnerID: "u2", Date: dates[0]}); err != nil {
		t.Fatal(err)
	}

	w := core.NewDate(2024, 1, 1)
	got, err := s.EntriesByOwnerInRange(ctx, "u1", w.Time, core.NewDate(2024, 1, 31).EndOfDay())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2 (boundaries inclusive, other owners excluded)", len(got))
	}
}

// Values handed out must be isolated copies; mutating them must not
// change the stored document.
func TestReadsAreIsolatedCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	lb := core.LeaderboardSpec{
		ID:      "lb1",
		Members: []core.MemberAggregate{{UserID: "u1", Total: core.Money{Cents: 100}}},
	}
	if err := s.PutLeaderboard(ctx, lb); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetLeaderboard(ctx, "lb1")
	got.Members[0].Total.Cents = 999999

	again, _ := s.GetLeaderboard(ctx, "lb1")
	if again.Members[0].Total.Cents != 100 {
		t.Fatalf("stored leaderboard mutated through a returned copy")
	}
}

func TestUnreadNotificationDedupLookup(t *testing.T) {
	s := New()
	ctx := context.Background()
	n := core.NotificationRecord{
		ID: "n1", Kind: core.NotifyBudgetThreshold, RecipientID: "u1", SubjectKey: "b1|2024-01-01..2024-01-31",
	}
	if err := s.PutNotification(ctx, n); err != nil {
		t.Fatal(err)
	}

	exists, err := s.UnreadNotificationExists(ctx, n.Kind, "u1", n.SubjectKey)
	if err != nil || !exists {
		t.Fatalf("exists = %v, %v; want true", exists, err)
	}

	if err := s.MarkNotificationRead(ctx, "n1"); err != nil {
		t.Fatal(err)
	}
	exists, _ = s.UnreadNotificationExists(ctx, n.Kind, "u1", n.SubjectKey)
	if exists {
		t.Fatalf("read records must not block new notifications")
	}
}

func TestOpenLoansExcludesSettled(t *testing.T) {
	s := New()
	ctx := context.Background()
	loans := []core.Loan{
		{ID: "l1", LenderID: "u1", Status: core.LoanOpen},
		{ID: "l2", BorrowerID: "u1", Status: core.LoanPartial},
		{ID: "l3", LenderID: "u1", Status: core.LoanSettled},
		{ID: "l4", LenderID: "other", Status: core.LoanOpen},
	}
	for _, l := range loans {
		if err := s.PutLoan(ctx, l); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.OpenLoansByUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d loans, want 2", len(got))
	}
}
