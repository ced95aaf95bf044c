// Package memory is an in-memory store implementation used by tests and
// local runs. Transactions run against a deep copy of the state that is
// swapped in on commit, so a returned error really discards every write.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"moneybook/internal/core"
	"moneybook/internal/store"
)

type state struct {
	entries       map[string]core.LedgerEntry
	splits        map[string]core.SplitRecord
	profiles      map[string]core.Profile
	leaderboards  map[string]core.LeaderboardSpec
	budgets       map[string]core.BudgetSpec
	loans         map[string]core.Loan
	notifications map[string]core.NotificationRecord
}

func newState() *state {
	return &state{
		entries:       map[string]core.LedgerEntry{},
		splits:        map[string]core.SplitRecord{},
		profiles:      map[string]core.Profile{},
		leaderboards:  map[string]core.LeaderboardSpec{},
		budgets:       map[string]core.BudgetSpec{},
		loans:         map[string]core.Loan{},
		notifications: map[string]core.NotificationRecord{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.entries {
		c.entries[k] = cloneEntry(v)
	}
	for k, v := range s.splits {
		c.splits[k] = cloneSplit(v)
	}
	for k, v := range s.profiles {
		c.profiles[k] = cloneProfile(v)
	}
	for k, v := range s.leaderboards {
		c.leaderboards[k] = cloneLeaderboard(v)
	}
	for k, v := range s.budgets {
		c.budgets[k] = cloneBudget(v)
	}
	for k, v := range s.loans {
		c.loans[k] = v
	}
	for k, v := range s.notifications {
		c.notifications[k] = v
	}
	return c
}

func cloneEntry(e core.LedgerEntry) core.LedgerEntry {
	e.SplitWith = append([]string(nil), e.SplitWith...)
	return e
}

func cloneSplit(s core.SplitRecord) core.SplitRecord {
	s.Shares = append([]core.SplitShare(nil), s.Shares...)
	return s
}

func cloneProfile(p core.Profile) core.Profile {
	p.Leaderboards = append([]string(nil), p.Leaderboards...)
	return p
}

func cloneBudget(b core.BudgetSpec) core.BudgetSpec {
	b.Scope.Categories = append([]string(nil), b.Scope.Categories...)
	return b
}

func cloneLeaderboard(l core.LeaderboardSpec) core.LeaderboardSpec {
	members := make([]core.MemberAggregate, len(l.Members))
	for i, m := range l.Members {
		m.Entries = append([]core.EntrySummary(nil), m.Entries...)
		members[i] = m
	}
	l.Members = members
	return l
}

// Store is the exported, mutex-guarded store.
type Store struct {
	mu   sync.Mutex
	data *state
}

func New() *Store {
	return &Store{data: newState()}
}

// RunInTransaction clones the current state, runs fn against the clone,
// and swaps it in only when fn succeeds.
func (s *Store) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.data.clone()
	if err := fn(&txStore{data: snap}); err != nil {
		return err
	}
	s.data = snap
	return nil
}

func (s *Store) PutEntry(_ context.Context, e core.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.putEntry(e)
}

func (s *Store) GetEntry(_ context.Context, id string) (core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.getEntry(id)
}

func (s *Store) DeleteEntry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.deleteEntry(id)
}

func (s *Store) EntriesByOwner(_ context.Context, ownerID string) ([]core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.entriesByOwner(ownerID)
}

func (s *Store) EntriesByOwnerInRange(_ context.Context, ownerID string, from, to time.Time) ([]core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.entriesByOwnerInRange(ownerID, from, to)
}

func (s *Store) PutSplitRecord(_ context.Context, sp core.SplitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.putSplitRecord(sp)
}

func (s *Store) GetSplitRecord(_ context.Context, id string) (core.SplitRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.getSplitRecord(id)
}

func (s *Store) GetProfile(_ context.Context, userID string) (core.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.getProfile(userID)
}

func (s *Store) PutProfile(_ context.Context, p core.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.putProfile(p)
}

func (s *Store) ListUserIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.listUserIDs()
}

func (s *Store) GetLeaderboard(_ context.Context, id string) (core.LeaderboardSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.getLeaderboard(id)
}

func (s *Store) PutLeaderboard(_ context.Context, lb core.LeaderboardSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.putLeaderboard(lb)
}

func (s *Store) ListLeaderboards(_ context.Context) ([]core.LeaderboardSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.listLeaderboards()
}

func (s *Store) BudgetsByOwner(_ context.Context, ownerID string) ([]core.BudgetSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.budgetsByOwner(ownerID)
}

func (s *Store) PutBudgetSpec(_ context.Context, b core.BudgetSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.putBudgetSpec(b)
}

func (s *Store) DeleteBudgetSpec(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.deleteBudgetSpec(id)
}

func (s *Store) OpenLoansByUser(_ context.Context, userID string) ([]core.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.openLoansByUser(userID)
}

func (s *Store) PutLoan(_ context.Context, l core.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.putLoan(l)
}

func (s *Store) UnreadNotificationExists(_ context.Context, kind core.NotificationKind, recipientID, subjectKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.unreadNotificationExists(kind, recipientID, subjectKey)
}

func (s *Store) PutNotification(_ context.Context, n core.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.putNotification(n)
}

func (s *Store) NotificationsByRecipient(_ context.Context, recipientID string) ([]core.NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.notificationsByRecipient(recipientID)
}

func (s *Store) MarkNotificationRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.markNotificationRead(id)
}

// txStore is the transactional view handed to RunInTransaction callbacks.
// It operates on the cloned state without locking; the parent holds the
// store mutex for the whole transaction.
type txStore struct {
	data *state
}

// RunInTransaction on a transactional view joins the enclosing transaction.
func (t *txStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

func (t *txStore) PutEntry(_ context.Context, e core.LedgerEntry) error { return t.data.putEntry(e) }
func (t *txStore) GetEntry(_ context.Context, id string) (core.LedgerEntry, error) {
	return t.data.getEntry(id)
}
func (t *txStore) DeleteEntry(_ context.Context, id string) error { return t.data.deleteEntry(id) }
func (t *txStore) EntriesByOwner(_ context.Context, ownerID string) ([]core.LedgerEntry, error) {
	return t.data.entriesByOwner(ownerID)
}
func (t *txStore) EntriesByOwnerInRange(_ context.Context, ownerID string, from, to time.Time) ([]core.LedgerEntry, error) {
	return t.data.entriesByOwnerInRange(ownerID, from, to)
}
func (t *txStore) PutSplitRecord(_ context.Context, sp core.SplitRecord) error {
	return t.data.putSplitRecord(sp)
}
func (t *txStore) GetSplitRecord(_ context.Context, id string) (core.SplitRecord, error) {
	return t.data.getSplitRecord(id)
}
func (t *txStore) GetProfile(_ context.Context, userID string) (core.Profile, error) {
	return t.data.getProfile(userID)
}
func (t *txStore) PutProfile(_ context.Context, p core.Profile) error { return t.data.putProfile(p) }
func (t *txStore) ListUserIDs(_ context.Context) ([]string, error)    { return t.data.listUserIDs() }
func (t *txStore) GetLeaderboard(_ context.Context, id string) (core.LeaderboardSpec, error) {
	return t.data.getLeaderboard(id)
}
func (t *txStore) PutLeaderboard(_ context.Context, lb core.LeaderboardSpec) error {
	return t.data.putLeaderboard(lb)
}
func (t *txStore) ListLeaderboards(_ context.Context) ([]core.LeaderboardSpec, error) {
	return t.data.listLeaderboards()
}
func (t *txStore) BudgetsByOwner(_ context.Context, ownerID string) ([]core.BudgetSpec, error) {
	return t.data.budgetsByOwner(ownerID)
}
func (t *txStore) PutBudgetSpec(_ context.Context, b core.BudgetSpec) error {
	return t.data.putBudgetSpec(b)
}
func (t *txStore) DeleteBudgetSpec(_ context.Context, id string) error {
	return t.data.deleteBudgetSpec(id)
}
func (t *txStore) OpenLoansByUser(_ context.Context, userID string) ([]core.Loan, error) {
	return t.data.openLoansByUser(userID)
}
func (t *txStore) PutLoan(_ context.Context, l core.Loan) error { return t.data.putLoan(l) }
func (t *txStore) UnreadNotificationExists(_ context.Context, kind core.NotificationKind, recipientID, subjectKey string) (bool, error) {
	return t.data.unreadNotificationExists(kind, recipientID, subjectKey)
}
func (t *txStore) PutNotification(_ context.Context, n core.NotificationRecord) error {
	return t.data.putNotification(n)
}
func (t *txStore) NotificationsByRecipient(_ context.Context, recipientID string) ([]core.NotificationRecord, error) {
	return t.data.notificationsByRecipient(recipientID)
}
func (t *txStore) MarkNotificationRead(_ context.Context, id string) error {
	return t.data.markNotificationRead(id)
}

func (s *state) putEntry(e core.LedgerEntry) error {
	s.entries[e.ID] = cloneEntry(e)
	return nil
}

func (s *state) getEntry(id string) (core.LedgerEntry, error) {
	e, ok := s.entries[id]
	if !ok {
		return core.LedgerEntry{}, store.ErrNotFound
	}
	return cloneEntry(e), nil
}

func (s *state) deleteEntry(id string) error {
	if _, ok := s.entries[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.entries, id)
	return nil
}

func (s *state) entriesByOwner(ownerID string) ([]core.LedgerEntry, error) {
	var out []core.LedgerEntry
	for _, e := range s.entries {
		if e.OwnerID == ownerID {
			out = append(out, cloneEntry(e))
		}
	}
	sortEntries(out)
	return out, nil
}

func (s *state) entriesByOwnerInRange(ownerID string, from, to time.Time) ([]core.LedgerEntry, error) {
	var out []core.LedgerEntry
	for _, e := range s.entries {
		if e.OwnerID != ownerID {
			continue
		}
		if e.Date.Before(from) || e.Date.After(to) {
			continue
		}
		out = append(out, cloneEntry(e))
	}
	sortEntries(out)
	return out, nil
}

func sortEntries(entries []core.LedgerEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date.Time) {
			return entries[i].Date.Before(entries[j].Date.Time)
		}
		return entries[i].ID < entries[j].ID
	})
}

func (s *state) putSplitRecord(sp core.SplitRecord) error {
	s.splits[sp.ID] = cloneSplit(sp)
	return nil
}

func (s *state) getSplitRecord(id string) (core.SplitRecord, error) {
	sp, ok := s.splits[id]
	if !ok {
		return core.SplitRecord{}, store.ErrNotFound
	}
	return cloneSplit(sp), nil
}

func (s *state) getProfile(userID string) (core.Profile, error) {
	p, ok := s.profiles[userID]
	if !ok {
		return core.Profile{}, store.ErrNotFound
	}
	return cloneProfile(p), nil
}

func (s *state) putProfile(p core.Profile) error {
	s.profiles[p.UserID] = cloneProfile(p)
	return nil
}

func (s *state) listUserIDs() ([]string, error) {
	ids := make([]string, 0, len(s.profiles))
	for id := range s.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *state) getLeaderboard(id string) (core.LeaderboardSpec, error) {
	lb, ok := s.leaderboards[id]
	if !ok {
		return core.LeaderboardSpec{}, store.ErrNotFound
	}
	return cloneLeaderboard(lb), nil
}

func (s *state) putLeaderboard(lb core.LeaderboardSpec) error {
	s.leaderboards[lb.ID] = cloneLeaderboard(lb)
	return nil
}

func (s *state) listLeaderboards() ([]core.LeaderboardSpec, error) {
	out := make([]core.LeaderboardSpec, 0, len(s.leaderboards))
	for _, lb := range s.leaderboards {
		out = append(out, cloneLeaderboard(lb))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) budgetsByOwner(ownerID string) ([]core.BudgetSpec, error) {
	var out []core.BudgetSpec
	for _, b := range s.budgets {
		if b.OwnerID == ownerID {
			out = append(out, cloneBudget(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) putBudgetSpec(b core.BudgetSpec) error {
	s.budgets[b.ID] = cloneBudget(b)
	return nil
}

func (s *state) deleteBudgetSpec(id string) error {
	if _, ok := s.budgets[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.budgets, id)
	return nil
}

func (s *state) openLoansByUser(userID string) ([]core.Loan, error) {
	var out []core.Loan
	for _, l := range s.loans {
		if l.Status == core.LoanSettled {
			continue
		}
		if l.LenderID == userID || l.BorrowerID == userID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) putLoan(l core.Loan) error {
	s.loans[l.ID] = l
	return nil
}

func (s *state) unreadNotificationExists(kind core.NotificationKind, recipientID, subjectKey string) (bool, error) {
	for _, n := range s.notifications {
		if !n.Read && n.Kind == kind && n.RecipientID == recipientID && n.SubjectKey == subjectKey {
			return true, nil
		}
	}
	return false, nil
}

func (s *state) putNotification(n core.NotificationRecord) error {
	s.notifications[n.ID] = n
	return nil
}

func (s *state) notificationsByRecipient(recipientID string) ([]core.NotificationRecord, error) {
	var out []core.NotificationRecord
	for _, n := range s.notifications {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) markNotificationRead(id string) error {
	n, ok := s.notifications[id]
	if !ok {
		return store.ErrNotFound
	}
	n.Read = true
	s.notifications[id] = n
	return nil
}
