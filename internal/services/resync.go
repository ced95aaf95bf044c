package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"moneybook/internal/core"
	"moneybook/internal/events"
	"moneybook/internal/period"
	"moneybook/internal/store"
)

// Resyncer rebuilds leaderboard aggregates wholesale from the ledger.
// The incremental updates on the write path can drift (compensating
// writes, edits, deletions); resync is the repair mechanism, and also
// the read path: viewing a leaderboard resyncs it first so standings
// are always derived from current entries.
type Resyncer struct {
	store store.Store
	clock period.Clock
	hub   *events.Hub
}

func NewResyncer(s store.Store, clock period.Clock, hub *events.Hub) *Resyncer {
	return &Resyncer{store: s, clock: clock, hub: hub}
}

// Resync recomputes every member's total and contributing entries from
// the entries dated inside the competition window, then saves the spec
// and re-sorts standings. A member whose entries cannot be loaded keeps
// the previous aggregate and is logged; the rest still resync.
func (r *Resyncer) Resync(ctx context.Context, lb core.LeaderboardSpec) (core.LeaderboardSpec, error) {
	w := period.Of(lb.Start, lb.End)

	for i := range lb.Members {
		m := &lb.Members[i]
		entries, err := r.store.EntriesByOwnerInRange(ctx, m.UserID, w.Start, w.End)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to load member entries, keeping previous aggregate",
				"error", err,
				"leaderboard_id", lb.ID,
				"user_id", m.UserID)
			continue
		}

		m.Total = core.Money{}
		m.Entries = m.Entries[:0]
		for _, e := range entries {
			m.Total.Cents += e.Amount.Cents
			m.Entries = append(m.Entries, core.EntrySummary{
				EntryID:  e.ID,
				Amount:   e.Amount,
				Date:     e.Date,
				Category: e.Category,
			})
		}
	}

	sortStandings(lb.Members)

	if err := r.store.PutLeaderboard(ctx, lb); err != nil {
		return lb, fmt.Errorf("save leaderboard: %w", err)
	}

	r.hub.Publish(events.Event{Kind: events.LeaderboardResynced, LeaderboardID: lb.ID})
	slog.InfoContext(ctx, "Resynced leaderboard",
		"leaderboard_id", lb.ID,
		"members", len(lb.Members))

	r.notifyEnded(ctx, lb)
	return lb, nil
}

// ResyncByID loads and resyncs one leaderboard. This is the handler
// behind queued resync requests.
func (r *Resyncer) ResyncByID(ctx context.Context, id string) (core.LeaderboardSpec, error) {
	lb, err := r.store.GetLeaderboard(ctx, id)
	if err != nil {
		return core.LeaderboardSpec{}, fmt.Errorf("load leaderboard: %w", err)
	}
	return r.Resync(ctx, lb)
}

// ViewLeaderboard is the presentation read path: resync, then return
// the fresh standings.
func (r *Resyncer) ViewLeaderboard(ctx context.Context, id string) (core.LeaderboardSpec, error) {
	return r.ResyncByID(ctx, id)
}

// RefreshLeaderboard is the manual user-triggered refresh; same as the
// view path.
func (r *Resyncer) RefreshLeaderboard(ctx context.Context, id string) (core.LeaderboardSpec, error) {
	return r.ResyncByID(ctx, id)
}

// ResyncAll sweeps every leaderboard, logging and skipping failures.
func (r *Resyncer) ResyncAll(ctx context.Context) (int, error) {
	boards, err := r.store.ListLeaderboards(ctx)
	if err != nil {
		return 0, fmt.Errorf("list leaderboards: %w", err)
	}

	done := 0
	for _, lb := range boards {
		if _, err := r.Resync(ctx, lb); err != nil {
			slog.ErrorContext(ctx, "Failed to resync leaderboard",
				"error", err, "leaderboard_id", lb.ID)
			continue
		}
		done++
	}
	return done, nil
}

// sortStandings orders members by total descending, then by user id so
// repeated resyncs of the same state produce identical documents.
func sortStandings(members []core.MemberAggregate) {
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].Total.Cents != members[j].Total.Cents {
			return members[i].Total.Cents > members[j].Total.Cents
		}
		return members[i].UserID < members[j].UserID
	})
}

// notifyEnded creates a final-standings notification for each member
// once the competition window has passed. The leaderboard id as subject
// makes this at-most-once per member per leaderboard.
func (r *Resyncer) notifyEnded(ctx context.Context, lb core.LeaderboardSpec) {
	now := r.clock.Now()
	if lb.End.IsZero() || !now.After(lb.End.EndOfDay()) {
		return
	}

	for rank, m := range lb.Members {
		exists, err := r.store.UnreadNotificationExists(ctx, core.NotifyLeaderboardEnded, m.UserID, lb.ID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to check ended notification",
				"error", err, "leaderboard_id", lb.ID, "user_id", m.UserID)
			continue
		}
		if exists {
			continue
		}

		record := core.NotificationRecord{
			ID:          uuid.NewString(),
			Kind:        core.NotifyLeaderboardEnded,
			RecipientID: m.UserID,
			SubjectKey:  lb.ID,
			Title:       "Leaderboard ended",
			Body:        fmt.Sprintf("%s has ended, you placed #%d with %s spent", lb.Name, rank+1, m.Total),
			AmountCents: m.Total.Cents,
			CreatedAt:   now,
		}
		if err := r.store.PutNotification(ctx, record); err != nil {
			slog.ErrorContext(ctx, "Failed to save ended notification",
				"error", err, "leaderboard_id", lb.ID, "user_id", m.UserID)
			continue
		}
		r.hub.Publish(events.Event{Kind: events.NotificationCreated, UserID: m.UserID, LeaderboardID: lb.ID, At: now})
	}
}
