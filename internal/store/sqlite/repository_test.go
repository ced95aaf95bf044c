package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"moneybook/internal/core"
	"moneybook/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBudgetSpecRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	spec := core.BudgetSpec{
		ID:          "b1",
		OwnerID:     "u1",
		Recurrence:  core.Custom,
		Amount:      core.Money{Cents: 250000},
		Scope:       core.BudgetScope{Categories: []string{"food", "transportation"}},
		CustomStart: core.NewDate(2025, 6, 1),
		CustomEnd:   core.NewDate(2025, 6, 30),
	}
	if err := s.PutBudgetSpec(ctx, spec); err != nil {
		t.Fatalf("PutBudgetSpec: %v", err)
	}

	got, err := s.BudgetsByOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("BudgetsByOwner: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d specs, want 1", len(got))
	}
	b := got[0]
	if b.ID != spec.ID || b.Recurrence != core.Custom || b.Amount.Cents != 250000 {
		t.Errorf("round trip = %+v", b)
	}
	if len(b.Scope.Categories) != 2 || b.Scope.Categories[0] != "food" {
		t.Errorf("scope = %+v", b.Scope)
	}
	if !b.CustomStart.Equal(spec.CustomStart.Time) || !b.CustomEnd.Equal(spec.CustomEnd.Time) {
		t.Errorf("custom range = %v..%v, want %v..%v", b.CustomStart, b.CustomEnd, spec.CustomStart, spec.CustomEnd)
	}
}

func TestEntryRangeQueryInclusive(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, e := range []core.LedgerEntry{
		{ID: "e1", OwnerID: "u1", Amount: core.Money{Cents: 100}, Date: core.NewDate(2025, 5, 31)},
		{ID: "e2", OwnerID: "u1", Amount: core.Money{Cents: 200}, Date: core.NewDate(2025, 6, 1)},
		{ID: "e3", OwnerID: "u1", Amount: core.Money{Cents: 300}, Date: core.NewDate(2025, 6, 30)},
		{ID: "e4", OwnerID: "u1", Amount: core.Money{Cents: 400}, Date: core.NewDate(2025, 7, 1)},
		{ID: "e5", OwnerID: "u2", Amount: core.Money{Cents: 500}, Date: core.NewDate(2025, 6, 15)},
	} {
		if err := s.PutEntry(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	from := core.NewDate(2025, 6, 1)
	to := core.NewDate(2025, 6, 30)
	got, err := s.EntriesByOwnerInRange(ctx, "u1", from.Time, to.EndOfDay())
	if err != nil {
		t.Fatalf("EntriesByOwnerInRange: %v", err)
	}
	if len(got) != 2 || got[0].ID != "e2" || got[1].ID != "e3" {
		t.Errorf("range result = %+v, want e2 and e3", got)
	}
}

func TestLeaderboardMembersSurviveStorage(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	lb := core.LeaderboardSpec{
		ID:      "lb1",
		Name:    "June savings",
		OwnerID: "u1",
		Start:   core.NewDate(2025, 6, 1),
		End:     core.NewDate(2025, 6, 30),
		Members: []core.MemberAggregate{
			{
				UserID:   "u1",
				Nickname: "Ann",
				Total:    core.Money{Cents: 12345},
				Entries: []core.EntrySummary{
					{EntryID: "e1", Amount: core.Money{Cents: 12345}, Date: core.NewDate(2025, 6, 5), Category: core.Category{ID: "food", Name: "food"}},
				},
				ShowDetail: true,
			},
		},
	}
	if err := s.PutLeaderboard(ctx, lb); err != nil {
		t.Fatalf("PutLeaderboard: %v", err)
	}

	got, err := s.GetLeaderboard(ctx, "lb1")
	if err != nil {
		t.Fatalf("GetLeaderboard: %v", err)
	}
	if len(got.Members) != 1 {
		t.Fatalf("members = %d, want 1", len(got.Members))
	}
	m := got.Members[0]
	if m.Total.Cents != 12345 || !m.ShowDetail || len(m.Entries) != 1 || m.Entries[0].Category.ID != "food" {
		t.Errorf("member = %+v", m)
	}
	if !got.Start.Equal(lb.Start.Time) || !got.End.Equal(lb.End.Time) {
		t.Errorf("window = %v..%v", got.Start, got.End)
	}
}

func TestTransactionRollback(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	boom := errors.New("boom")
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.PutEntry(ctx, core.LedgerEntry{ID: "e1", OwnerID: "u1", Amount: core.Money{Cents: 100}, Date: core.NewDate(2025, 6, 1)}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if _, err := s.GetEntry(ctx, "e1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("entry visible after rollback: %v", err)
	}
}

func TestTransactionCommitAndNestedJoin(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.PutEntry(ctx, core.LedgerEntry{ID: "e1", OwnerID: "u1", Amount: core.Money{Cents: 100}, Date: core.NewDate(2025, 6, 1)}); err != nil {
			return err
		}
		// nested call joins the same transaction
		return tx.RunInTransaction(ctx, func(inner store.Store) error {
			return inner.PutEntry(ctx, core.LedgerEntry{ID: "e2", OwnerID: "u1", Amount: core.Money{Cents: 200}, Date: core.NewDate(2025, 6, 2)})
		})
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
	entries, err := s.EntriesByOwner(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("entries = %d, want 2", len(entries))
	}
}

func TestUnreadNotificationDedup(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	n := core.NotificationRecord{
		ID:          "n1",
		Kind:        core.NotifyBudgetThreshold,
		RecipientID: "u1",
		SubjectKey:  "b1|2025-06-01..2025-06-30",
		Title:       "Budget alert",
	}
	if err := s.PutNotification(ctx, n); err != nil {
		t.Fatal(err)
	}

	exists, err := s.UnreadNotificationExists(ctx, n.Kind, "u1", n.SubjectKey)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Error("unread record not found by dedup lookup")
	}

	if err := s.MarkNotificationRead(ctx, "n1"); err != nil {
		t.Fatal(err)
	}
	exists, err = s.UnreadNotificationExists(ctx, n.Kind, "u1", n.SubjectKey)
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("read record still matches the unread lookup")
	}
}
