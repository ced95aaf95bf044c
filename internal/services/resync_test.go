package services

import (
	"context"
	"reflect"
	"testing"
	"time"

	"moneybook/internal/core"
	"moneybook/internal/events"
	"moneybook/internal/store"
	"moneybook/internal/store/memory"
)

func seedDriftedLeaderboard(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	entries := []core.LedgerEntry{
		{ID: "e1", OwnerID: "u1", Amount: core.Money{Cents: 12000}, Category: core.Category{ID: "food", Name: "food"}, Date: core.NewDate(2025, 6, 5)},
		{ID: "e2", OwnerID: "u1", Amount: core.Money{Cents: 8000}, Category: core.Category{ID: "transportation", Name: "transportation"}, Date: core.NewDate(2025, 6, 20)},
		// outside the competition window, must not count
		{ID: "e3", OwnerID: "u1", Amount: core.Money{Cents: 99900}, Category: core.Category{ID: "food", Name: "food"}, Date: core.NewDate(2025, 5, 30)},
		{ID: "e4", OwnerID: "u2", Amount: core.Money{Cents: 30000}, Category: core.Category{ID: "shopping", Name: "shopping"}, Date: core.NewDate(2025, 6, 12)},
	}
	for _, e := range entries {
		if err := s.PutEntry(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	lb := core.LeaderboardSpec{
		ID:    "lb1",
		Name:  "June savings",
		Start: core.NewDate(2025, 6, 1),
		End:   core.NewDate(2025, 6, 30),
		Members: []core.MemberAggregate{
			// totals drifted away from the ledger
			{UserID: "u1", Nickname: "Ann", Total: core.Money{Cents: 77777}},
			{UserID: "u2", Nickname: "Ben", Total: core.Money{Cents: 1}},
		},
	}
	if err := s.PutLeaderboard(ctx, lb); err != nil {
		t.Fatal(err)
	}
}

func TestResyncRebuildsFromLedger(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	seedDriftedLeaderboard(t, mem)
	r := NewResyncer(mem, fixedClock{testNow}, events.NewHub())

	lb, err := r.ResyncByID(ctx, "lb1")
	if err != nil {
		t.Fatalf("ResyncByID: %v", err)
	}

	u1 := lb.Member("u1")
	if u1.Total.Cents != 20000 {
		t.Errorf("u1 total = %d, want 20000 (out-of-window entry excluded)", u1.Total.Cents)
	}
	if len(u1.Entries) != 2 {
		t.Errorf("u1 summaries = %d, want 2", len(u1.Entries))
	}
	u2 := lb.Member("u2")
	if u2.Total.Cents != 30000 || len(u2.Entries) != 1 {
		t.Errorf("u2 aggregate = %+v", u2)
	}

	saved, _ := mem.GetLeaderboard(ctx, "lb1")
	if !reflect.DeepEqual(saved, lb) {
		t.Error("resynced spec not persisted")
	}
}

func TestResyncSortsStandings(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	seedDriftedLeaderboard(t, mem)
	r := NewResyncer(mem, fixedClock{testNow}, events.NewHub())

	lb, err := r.ResyncByID(ctx, "lb1")
	if err != nil {
		t.Fatal(err)
	}
	if lb.Members[0].UserID != "u2" || lb.Members[1].UserID != "u1" {
		t.Errorf("standings order = %s, %s; want u2 first (30000 > 20000)",
			lb.Members[0].UserID, lb.Members[1].UserID)
	}
}

func TestResyncIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	seedDriftedLeaderboard(t, mem)
	r := NewResyncer(mem, fixedClock{testNow}, events.NewHub())

	first, err := r.ResyncByID(ctx, "lb1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.ResyncByID(ctx, "lb1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated resync diverged:\nfirst  = %+v\nsecond = %+v", first, second)
	}
}

func TestViewLeaderboardRepairsDrift(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	seedDriftedLeaderboard(t, mem)
	r := NewResyncer(mem, fixedClock{testNow}, events.NewHub())

	lb, err := r.ViewLeaderboard(ctx, "lb1")
	if err != nil {
		t.Fatal(err)
	}
	if lb.Member("u1").Total.Cents == 77777 {
		t.Error("view returned the stale total instead of resyncing first")
	}
}

func TestResyncEndedLeaderboardNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	seedDriftedLeaderboard(t, mem)
	afterEnd := time.Date(2025, 7, 2, 10, 0, 0, 0, time.Local)
	r := NewResyncer(mem, fixedClock{afterEnd}, events.NewHub())

	if _, err := r.ResyncByID(ctx, "lb1"); err != nil {
		t.Fatal(err)
	}
	for _, uid := range []string{"u1", "u2"} {
		records, _ := mem.NotificationsByRecipient(ctx, uid)
		if len(records) != 1 || records[0].Kind != core.NotifyLeaderboardEnded {
			t.Fatalf("records for %s = %+v, want one leaderboard_ended", uid, records)
		}
	}

	if _, err := r.ResyncByID(ctx, "lb1"); err != nil {
		t.Fatal(err)
	}
	records, _ := mem.NotificationsByRecipient(ctx, "u1")
	if len(records) != 1 {
		t.Errorf("repeated resync duplicated the ended notification: %d records", len(records))
	}
}

func TestResyncActiveLeaderboardDoesNotNotify(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	seedDriftedLeaderboard(t, mem)
	r := NewResyncer(mem, fixedClock{testNow}, events.NewHub())

	if _, err := r.ResyncByID(ctx, "lb1"); err != nil {
		t.Fatal(err)
	}
	records, _ := mem.NotificationsByRecipient(ctx, "u1")
	if len(records) != 0 {
		t.Errorf("active leaderboard produced ended notifications: %+v", records)
	}
}

func TestResyncAll(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	seedDriftedLeaderboard(t, mem)
	if err := mem.PutLeaderboard(ctx, core.LeaderboardSpec{
		ID:    "lb2",
		Name:  "Empty board",
		Start: core.NewDate(2025, 6, 1),
		End:   core.NewDate(2025, 6, 30),
	}); err != nil {
		t.Fatal(err)
	}

	r := NewResyncer(mem, fixedClock{testNow}, events.NewHub())
	done, err := r.ResyncAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if done != 2 {
		t.Errorf("done = %d, want 2", done)
	}
}
