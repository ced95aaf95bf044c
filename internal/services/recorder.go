// Package services hosts the engine's use cases: the transactional write
// coordinator, the notification trigger evaluator, and the leaderboard
// resync job. Each service takes the store port plus a clock and emits
// change events through the hub and, when configured, the message bus.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"moneybook/internal/category"
	"moneybook/internal/core"
	"moneybook/internal/events"
	"moneybook/internal/period"
	"moneybook/internal/store"
)

// Bus is the cross-process half of event publication. The AMQP client
// satisfies it; services tolerate a nil bus and stay in-process only.
type Bus interface {
	PublishAggregateChanged(ctx context.Context, kind, userID, entryID string, leaderboardIDs []string) error
	PublishResyncRequest(ctx context.Context, leaderboardID, reason string) error
}

// WritePath records which persistence strategy carried a write.
type WritePath string

const (
	WritePathAtomic       WritePath = "atomic"
	WritePathCompensating WritePath = "compensating"
)

// WriteOutcome is returned to presentation so the optimistic entry
// identified by ClientRef can be reconciled with durable ids.
type WriteOutcome struct {
	ClientRef string
	EntryID   string
	SplitID   string
	Path      WritePath
	// UpdatedLeaderboards were incremented in this write.
	UpdatedLeaderboards []string
	// StaleLeaderboards failed their compensating update and were handed
	// to the resync queue instead.
	StaleLeaderboards []string
}

// Recorder coordinates the multi-document write behind "record an
// expense": the ledger entry itself, the split record for shared
// expenses, and the incremental leaderboard updates. It first attempts
// one atomic transaction; if that commit fails it falls back to
// individual compensating writes so the primary record survives even
// when a secondary write keeps failing.
//
// RecordExpense is not idempotent: retrying a failed call can duplicate
// the entry. Callers surface the failure instead of retrying blindly.
type Recorder struct {
	store store.Store
	clock period.Clock
	hub   *events.Hub
	bus   Bus
}

func NewRecorder(s store.Store, clock period.Clock, hub *events.Hub, bus Bus) *Recorder {
	return &Recorder{store: s, clock: clock, hub: hub, bus: bus}
}

// RecordExpense validates the draft, resolves its category, and persists
// the entry plus derived documents. The draft is rejected before any
// write happens; after the first persisted write the operation never
// reports total failure unless the entry itself could not be stored.
func (r *Recorder) RecordExpense(ctx context.Context, draft core.EntryDraft) (WriteOutcome, error) {
	out := WriteOutcome{ClientRef: draft.ClientRef}
	if err := draft.Validate(); err != nil {
		return out, err
	}

	now := r.clock.Now()
	entry := core.LedgerEntry{
		ID:        uuid.NewString(),
		OwnerID:   draft.OwnerID,
		Amount:    draft.Amount,
		Category:  category.Resolve(draft.CategoryID, draft.CategoryName, draft.Note),
		Date:      core.DateOf(draft.Date.Time),
		Note:      draft.Note,
		SplitWith: draft.SplitWith,
	}
	out.EntryID = entry.ID

	if err := r.attemptAtomic(ctx, &entry, now, &out); err == nil {
		out.Path = WritePathAtomic
	} else {
		slog.WarnContext(ctx, "Atomic write failed, falling back to compensating writes",
			"error", err,
			"entry_id", entry.ID,
			"user_id", entry.OwnerID)
		if err := r.attemptCompensating(ctx, &entry, now, &out); err != nil {
			// Nothing durable exists; tell presentation to drop the
			// optimistic entry.
			r.hub.Publish(events.Event{
				Kind:      events.WriteReconcile,
				UserID:    draft.OwnerID,
				ClientRef: draft.ClientRef,
			})
			return out, err
		}
		out.Path = WritePathCompensating
	}

	r.announce(ctx, entry, out)
	return out, nil
}

// attemptAtomic performs every write in one transaction. Any failure
// rolls the whole set back.
func (r *Recorder) attemptAtomic(ctx context.Context, entry *core.LedgerEntry, now time.Time, out *WriteOutcome) error {
	return r.store.RunInTransaction(ctx, func(tx store.Store) error {
		if len(entry.SplitWith) > 0 {
			split, err := r.buildSplitRecord(ctx, tx, *entry, now)
			if err != nil {
				return err
			}
			entry.Split = true
			out.SplitID = split.ID
			if err := tx.PutEntry(ctx, *entry); err != nil {
				return fmt.Errorf("persist ledger entry: %w", err)
			}
			if err := tx.PutSplitRecord(ctx, split); err != nil {
				return fmt.Errorf("persist split record: %w", err)
			}
		} else if err := tx.PutEntry(ctx, *entry); err != nil {
			return fmt.Errorf("persist ledger entry: %w", err)
		}

		updated, err := r.updateLeaderboards(ctx, tx, *entry, now)
		if err != nil {
			return err
		}
		out.UpdatedLeaderboards = updated
		return nil
	})
}

// attemptCompensating writes each document individually. The ledger
// entry goes first and its failure aborts the operation; every later
// write is best-effort with its own failure logging, and a failed
// leaderboard update lands in StaleLeaderboards for the resync worker.
func (r *Recorder) attemptCompensating(ctx context.Context, entry *core.LedgerEntry, now time.Time, out *WriteOutcome) error {
	// discard whatever the rolled-back atomic attempt left on the shared
	// state; the split flag and ids are re-earned write by write below
	entry.Split = false
	out.SplitID = ""
	out.UpdatedLeaderboards = nil

	if err := r.store.PutEntry(ctx, *entry); err != nil {
		return fmt.Errorf("persist ledger entry: %w", err)
	}

	if len(entry.SplitWith) > 0 {
		if split, err := r.buildSplitRecord(ctx, r.store, *entry, now); err != nil {
			slog.ErrorContext(ctx, "Failed to build split record, entry left unshared",
				"error", err, "entry_id", entry.ID)
		} else if err := r.store.PutSplitRecord(ctx, split); err != nil {
			slog.ErrorContext(ctx, "Failed to persist split record, entry left unshared",
				"error", err, "entry_id", entry.ID)
		} else {
			entry.Split = true
			out.SplitID = split.ID
			if err := r.store.PutEntry(ctx, *entry); err != nil {
				slog.ErrorContext(ctx, "Failed to mark entry as split",
					"error", err, "entry_id", entry.ID)
			}
		}
	}

	profile, err := r.store.GetProfile(ctx, entry.OwnerID)
	if err != nil {
		if err != store.ErrNotFound {
			slog.ErrorContext(ctx, "Failed to load profile for leaderboard updates",
				"error", err, "user_id", entry.OwnerID)
		}
		return nil
	}
	for _, id := range profile.Leaderboards {
		ok, err := r.updateOneLeaderboard(ctx, r.store, id, *entry, now)
		if err != nil {
			slog.ErrorContext(ctx, "Leaderboard update failed, queueing resync",
				"error", err,
				"leaderboard_id", id,
				"entry_id", entry.ID)
			out.StaleLeaderboards = append(out.StaleLeaderboards, id)
			continue
		}
		if ok {
			out.UpdatedLeaderboards = append(out.UpdatedLeaderboards, id)
		}
	}
	return nil
}

// buildSplitRecord snapshots participant display data from their
// profiles at write time and splits the amount into equal shares, with
// the remainder cents on the payer.
func (r *Recorder) buildSplitRecord(ctx context.Context, s store.Store, entry core.LedgerEntry, now time.Time) (core.SplitRecord, error) {
	n := int64(len(entry.SplitWith) + 1)
	share := entry.Amount.Cents / n
	rest := entry.Amount.Cents - share*n

	record := core.SplitRecord{
		ID:        uuid.NewString(),
		EntryID:   entry.ID,
		PayerID:   entry.OwnerID,
		CreatedAt: now,
	}
	for _, uid := range append([]string{entry.OwnerID}, entry.SplitWith...) {
		sh := core.SplitShare{UserID: uid, Share: core.Money{Cents: share}}
		if uid == entry.OwnerID {
			sh.Share.Cents += rest
		}
		profile, err := s.GetProfile(ctx, uid)
		if err == nil {
			sh.Nickname = profile.Nickname
			sh.PhotoURL = profile.PhotoURL
		} else if err != store.ErrNotFound {
			return core.SplitRecord{}, fmt.Errorf("load profile %s: %w", uid, err)
		}
		record.Shares = append(record.Shares, sh)
	}
	return record, nil
}

// updateLeaderboards applies the entry to every leaderboard the owner
// participates in. Missing profile or leaderboard documents are skipped;
// store failures propagate and abort the enclosing transaction.
func (r *Recorder) updateLeaderboards(ctx context.Context, s store.Store, entry core.LedgerEntry, now time.Time) ([]string, error) {
	profile, err := s.GetProfile(ctx, entry.OwnerID)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	var updated []string
	for _, id := range profile.Leaderboards {
		ok, err := r.updateOneLeaderboard(ctx, s, id, entry, now)
		if err != nil {
			return nil, err
		}
		if ok {
			updated = append(updated, id)
		}
	}
	return updated, nil
}

func (r *Recorder) updateOneLeaderboard(ctx context.Context, s store.Store, id string, entry core.LedgerEntry, now time.Time) (bool, error) {
	lb, err := s.GetLeaderboard(ctx, id)
	if err == store.ErrNotFound {
		slog.WarnContext(ctx, "Profile references unknown leaderboard, skipping",
			"leaderboard_id", id, "user_id", entry.OwnerID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load leaderboard %s: %w", id, err)
	}

	if !applyToLeaderboard(&lb, entry, now) {
		return false, nil
	}
	if err := s.PutLeaderboard(ctx, lb); err != nil {
		return false, fmt.Errorf("save leaderboard %s: %w", id, err)
	}
	return true, nil
}

// applyToLeaderboard increments the owner's aggregate in place. The
// entry counts only when the leaderboard still accepts updates now AND
// the entry's date falls inside the competition window; an entry
// backdated before the window must not move an active leaderboard.
func applyToLeaderboard(lb *core.LeaderboardSpec, entry core.LedgerEntry, now time.Time) bool {
	if !lb.ActiveAt(now) {
		return false
	}
	if !period.Of(lb.Start, lb.End).Contains(entry.Date.Time) {
		return false
	}
	member := lb.Member(entry.OwnerID)
	if member == nil {
		return false
	}
	member.Total.Cents += entry.Amount.Cents
	member.Entries = append(member.Entries, core.EntrySummary{
		EntryID:  entry.ID,
		Amount:   entry.Amount,
		Date:     entry.Date,
		Category: entry.Category,
	})
	return true
}

func (r *Recorder) announce(ctx context.Context, entry core.LedgerEntry, out WriteOutcome) {
	r.hub.Publish(events.Event{
		Kind:      events.EntryRecorded,
		UserID:    entry.OwnerID,
		EntryID:   entry.ID,
		ClientRef: out.ClientRef,
	})
	for _, id := range out.UpdatedLeaderboards {
		r.hub.Publish(events.Event{
			Kind:          events.LeaderboardUpdated,
			UserID:        entry.OwnerID,
			EntryID:       entry.ID,
			LeaderboardID: id,
		})
	}

	if r.bus == nil {
		return
	}
	if err := r.bus.PublishAggregateChanged(ctx, string(events.EntryRecorded), entry.OwnerID, entry.ID, out.UpdatedLeaderboards); err != nil {
		slog.ErrorContext(ctx, "Failed to publish aggregate changed message",
			"error", err, "entry_id", entry.ID)
	}
	for _, id := range out.StaleLeaderboards {
		if err := r.bus.PublishResyncRequest(ctx, id, "compensating write failed"); err != nil {
			slog.ErrorContext(ctx, "Failed to publish resync request",
				"error", err, "leaderboard_id", id)
		}
	}
}

// EditExpense replaces the mutable fields of an existing entry. The
// leaderboard aggregates referencing the old amount go stale until the
// next resync, which is requested for every leaderboard the owner is in.
func (r *Recorder) EditExpense(ctx context.Context, id string, draft core.EntryDraft) (core.LedgerEntry, error) {
	if err := draft.Validate(); err != nil {
		return core.LedgerEntry{}, err
	}
	entry, err := r.store.GetEntry(ctx, id)
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("load entry: %w", err)
	}

	entry.Amount = draft.Amount
	entry.Category = category.Resolve(draft.CategoryID, draft.CategoryName, draft.Note)
	entry.Date = core.DateOf(draft.Date.Time)
	entry.Note = draft.Note
	if err := r.store.PutEntry(ctx, entry); err != nil {
		return core.LedgerEntry{}, fmt.Errorf("save entry: %w", err)
	}

	r.hub.Publish(events.Event{Kind: events.EntryEdited, UserID: entry.OwnerID, EntryID: entry.ID})
	r.requestOwnerResyncs(ctx, entry.OwnerID, "entry edited")
	return entry, nil
}

// DeleteExpense removes an entry. As with edits, affected leaderboards
// are repaired by resync rather than decremented in place.
func (r *Recorder) DeleteExpense(ctx context.Context, id string) error {
	entry, err := r.store.GetEntry(ctx, id)
	if err != nil {
		return fmt.Errorf("load entry: %w", err)
	}
	if err := r.store.DeleteEntry(ctx, id); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}

	r.hub.Publish(events.Event{Kind: events.EntryDeleted, UserID: entry.OwnerID, EntryID: entry.ID})
	r.requestOwnerResyncs(ctx, entry.OwnerID, "entry deleted")
	return nil
}

func (r *Recorder) requestOwnerResyncs(ctx context.Context, ownerID, reason string) {
	if r.bus == nil {
		return
	}
	profile, err := r.store.GetProfile(ctx, ownerID)
	if err != nil {
		if err != store.ErrNotFound {
			slog.ErrorContext(ctx, "Failed to load profile for resync requests",
				"error", err, "user_id", ownerID)
		}
		return
	}
	for _, id := range profile.Leaderboards {
		if err := r.bus.PublishResyncRequest(ctx, id, reason); err != nil {
			slog.ErrorContext(ctx, "Failed to publish resync request",
				"error", err, "leaderboard_id", id)
		}
	}
}
