// Package sqlite implements the store ports on SQLite. Documents with
// nested lists (leaderboard members, split shares) keep those lists as
// JSON columns, preserving the document-level write granularity the
// engine relies on.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"moneybook/internal/core"
	"moneybook/internal/store"

	_ "modernc.org/sqlite"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

// Store is the SQLite-backed document store.
type Store struct {
	*queries
	db *sql.DB
}

// Open opens (creating if necessary) the database at dbPath and runs
// pending migrations.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := applySchema(dbPath); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{queries: &queries{db: db}, db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RunInTransaction wraps fn in a database transaction. The transactional
// view joins nested calls to the same transaction.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&txView{queries: &queries{db: tx}}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("rollback after %v: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type txView struct {
	*queries
}

func (t *txView) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

func (q *queries) PutEntry(ctx context.Context, e core.LedgerEntry) error {
	splitWith, err := json.Marshal(emptyIfNil(e.SplitWith))
	if err != nil {
		return fmt.Errorf("marshal split participants: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO ledger_entries
			(id, owner_id, amount_cents, category_id, category_name, occurred_on, note, split_with, is_split)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OwnerID, e.Amount.Cents, e.Category.ID, e.Category.Name,
		e.Date.Unix(), e.Note, string(splitWith), boolToInt(e.Split))
	if err != nil {
		return fmt.Errorf("put ledger entry: %w", err)
	}
	return nil
}

const entryColumns = `id, owner_id, amount_cents, category_id, category_name, occurred_on, note, split_with, is_split`

func (q *queries) GetEntry(ctx context.Context, id string) (core.LedgerEntry, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE id = ?`, id)
	return scanEntry(row)
}

func (q *queries) DeleteEntry(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM ledger_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete ledger entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (q *queries) EntriesByOwner(ctx context.Context, ownerID string) ([]core.LedgerEntry, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE owner_id = ? ORDER BY occurred_on, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("entries by owner: %w", err)
	}
	return scanEntries(rows)
}

func (q *queries) EntriesByOwnerInRange(ctx context.Context, ownerID string, from, to time.Time) ([]core.LedgerEntry, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries
		 WHERE owner_id = ? AND occurred_on >= ? AND occurred_on <= ?
		 ORDER BY occurred_on, id`,
		ownerID, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("entries by owner in range: %w", err)
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]core.LedgerEntry, error) {
	defer rows.Close()
	var out []core.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (core.LedgerEntry, error) {
	var (
		e         core.LedgerEntry
		occurred  int64
		splitJSON string
		isSplit   int
	)
	err := row.Scan(&e.ID, &e.OwnerID, &e.Amount.Cents, &e.Category.ID, &e.Category.Name,
		&occurred, &e.Note, &splitJSON, &isSplit)
	if err == sql.ErrNoRows {
		return core.LedgerEntry{}, store.ErrNotFound
	}
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("scan ledger entry: %w", err)
	}
	e.Date = core.DateOf(time.Unix(occurred, 0))
	e.Split = isSplit != 0
	if err := json.Unmarshal([]byte(splitJSON), &e.SplitWith); err != nil {
		return core.LedgerEntry{}, fmt.Errorf("unmarshal split participants: %w", err)
	}
	if len(e.SplitWith) == 0 {
		e.SplitWith = nil
	}
	return e, nil
}

func (q *queries) PutSplitRecord(ctx context.Context, sp core.SplitRecord) error {
	shares, err := json.Marshal(sp.Shares)
	if err != nil {
		return fmt.Errorf("marshal split shares: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO split_records (id, entry_id, payer_id, shares, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sp.ID, sp.EntryID, sp.PayerID, string(shares), sp.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("put split record: %w", err)
	}
	return nil
}

func (q *queries) GetSplitRecord(ctx context.Context, id string) (core.SplitRecord, error) {
	var (
		sp         core.SplitRecord
		sharesJSON string
		createdAt  int64
	)
	err := q.db.QueryRowContext(ctx,
		`SELECT id, entry_id, payer_id, shares, created_at FROM split_records WHERE id = ?`, id).
		Scan(&sp.ID, &sp.EntryID, &sp.PayerID, &sharesJSON, &createdAt)
	if err == sql.ErrNoRows {
		return core.SplitRecord{}, store.ErrNotFound
	}
	if err != nil {
		return core.SplitRecord{}, fmt.Errorf("get split record: %w", err)
	}
	sp.CreatedAt = time.Unix(createdAt, 0)
	if err := json.Unmarshal([]byte(sharesJSON), &sp.Shares); err != nil {
		return core.SplitRecord{}, fmt.Errorf("unmarshal split shares: %w", err)
	}
	return sp, nil
}

func (q *queries) GetProfile(ctx context.Context, userID string) (core.Profile, error) {
	var (
		p       core.Profile
		lbsJSON string
	)
	err := q.db.QueryRowContext(ctx,
		`SELECT user_id, nickname, photo_url, leaderboard_ids FROM profiles WHERE user_id = ?`, userID).
		Scan(&p.UserID, &p.Nickname, &p.PhotoURL, &lbsJSON)
	if err == sql.ErrNoRows {
		return core.Profile{}, store.ErrNotFound
	}
	if err != nil {
		return core.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	if err := json.Unmarshal([]byte(lbsJSON), &p.Leaderboards); err != nil {
		return core.Profile{}, fmt.Errorf("unmarshal leaderboard memberships: %w", err)
	}
	if len(p.Leaderboards) == 0 {
		p.Leaderboards = nil
	}
	return p, nil
}

func (q *queries) PutProfile(ctx context.Context, p core.Profile) error {
	lbs, err := json.Marshal(emptyIfNil(p.Leaderboards))
	if err != nil {
		return fmt.Errorf("marshal leaderboard memberships: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO profiles (user_id, nickname, photo_url, leaderboard_ids)
		VALUES (?, ?, ?, ?)`,
		p.UserID, p.Nickname, p.PhotoURL, string(lbs))
	if err != nil {
		return fmt.Errorf("put profile: %w", err)
	}
	return nil
}

func (q *queries) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT user_id FROM profiles ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (q *queries) GetLeaderboard(ctx context.Context, id string) (core.LeaderboardSpec, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, start_on, end_on, members FROM leaderboards WHERE id = ?`, id)
	return scanLeaderboard(row)
}

func (q *queries) PutLeaderboard(ctx context.Context, lb core.LeaderboardSpec) error {
	members, err := json.Marshal(lb.Members)
	if err != nil {
		return fmt.Errorf("marshal leaderboard members: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO leaderboards (id, name, owner_id, start_on, end_on, members)
		VALUES (?, ?, ?, ?, ?, ?)`,
		lb.ID, lb.Name, lb.OwnerID, lb.Start.Unix(), lb.End.Unix(), string(members))
	if err != nil {
		return fmt.Errorf("put leaderboard: %w", err)
	}
	return nil
}

func (q *queries) ListLeaderboards(ctx context.Context) ([]core.LeaderboardSpec, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, name, owner_id, start_on, end_on, members FROM leaderboards ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list leaderboards: %w", err)
	}
	defer rows.Close()
	var out []core.LeaderboardSpec
	for rows.Next() {
		lb, err := scanLeaderboard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lb)
	}
	return out, rows.Err()
}

func scanLeaderboard(row rowScanner) (core.LeaderboardSpec, error) {
	var (
		lb          core.LeaderboardSpec
		startOn     int64
		endOn       int64
		membersJSON string
	)
	err := row.Scan(&lb.ID, &lb.Name, &lb.OwnerID, &startOn, &endOn, &membersJSON)
	if err == sql.ErrNoRows {
		return core.LeaderboardSpec{}, store.ErrNotFound
	}
	if err != nil {
		return core.LeaderboardSpec{}, fmt.Errorf("scan leaderboard: %w", err)
	}
	lb.Start = core.DateOf(time.Unix(startOn, 0))
	lb.End = core.DateOf(time.Unix(endOn, 0))
	if err := json.Unmarshal([]byte(membersJSON), &lb.Members); err != nil {
		return core.LeaderboardSpec{}, fmt.Errorf("unmarshal leaderboard members: %w", err)
	}
	return lb, nil
}

func (q *queries) BudgetsByOwner(ctx context.Context, ownerID string) ([]core.BudgetSpec, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, owner_id, recurrence, amount_cents, categories, custom_start, custom_end
		FROM budget_specs WHERE owner_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("budgets by owner: %w", err)
	}
	defer rows.Close()
	var out []core.BudgetSpec
	for rows.Next() {
		var (
			b          core.BudgetSpec
			recurrence string
			catsJSON   string
			cs, ce     int64
		)
		if err := rows.Scan(&b.ID, &b.OwnerID, &recurrence, &b.Amount.Cents, &catsJSON, &cs, &ce); err != nil {
			return nil, fmt.Errorf("scan budget spec: %w", err)
		}
		b.Recurrence = core.RecurrenceKind(recurrence)
		if err := json.Unmarshal([]byte(catsJSON), &b.Scope.Categories); err != nil {
			return nil, fmt.Errorf("unmarshal budget categories: %w", err)
		}
		if len(b.Scope.Categories) == 0 {
			b.Scope.Categories = nil
		}
		if cs != 0 {
			b.CustomStart = core.DateOf(time.Unix(cs, 0))
		}
		if ce != 0 {
			b.CustomEnd = core.DateOf(time.Unix(ce, 0))
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (q *queries) PutBudgetSpec(ctx context.Context, b core.BudgetSpec) error {
	cats, err := json.Marshal(emptyIfNil(b.Scope.Categories))
	if err != nil {
		return fmt.Errorf("marshal budget categories: %w", err)
	}
	var cs, ce int64
	if !b.CustomStart.IsZero() {
		cs = b.CustomStart.Unix()
	}
	if !b.CustomEnd.IsZero() {
		ce = b.CustomEnd.Unix()
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO budget_specs
			(id, owner_id, recurrence, amount_cents, categories, custom_start, custom_end)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.OwnerID, string(b.Recurrence), b.Amount.Cents, string(cats), cs, ce)
	if err != nil {
		return fmt.Errorf("put budget spec: %w", err)
	}
	return nil
}

func (q *queries) DeleteBudgetSpec(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM budget_specs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete budget spec: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (q *queries) OpenLoansByUser(ctx context.Context, userID string) ([]core.Loan, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, lender_id, borrower_id, counterpart_name, amount_cents, repaid_cents, due_on, status
		FROM loans
		WHERE status != ? AND (lender_id = ? OR borrower_id = ?)
		ORDER BY id`,
		string(core.LoanSettled), userID, userID)
	if err != nil {
		return nil, fmt.Errorf("open loans by user: %w", err)
	}
	defer rows.Close()
	var out []core.Loan
	for rows.Next() {
		var (
			l      core.Loan
			status string
			dueOn  int64
		)
		if err := rows.Scan(&l.ID, &l.LenderID, &l.BorrowerID, &l.CounterpartName,
			&l.Amount.Cents, &l.Repaid.Cents, &dueOn, &status); err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		l.DueDate = core.DateOf(time.Unix(dueOn, 0))
		l.Status = core.LoanStatus(status)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (q *queries) PutLoan(ctx context.Context, l core.Loan) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO loans
			(id, lender_id, borrower_id, counterpart_name, amount_cents, repaid_cents, due_on, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.LenderID, l.BorrowerID, l.CounterpartName,
		l.Amount.Cents, l.Repaid.Cents, l.DueDate.Unix(), string(l.Status))
	if err != nil {
		return fmt.Errorf("put loan: %w", err)
	}
	return nil
}

func (q *queries) UnreadNotificationExists(ctx context.Context, kind core.NotificationKind, recipientID, subjectKey string) (bool, error) {
	var one int
	err := q.db.QueryRowContext(ctx, `
		SELECT 1 FROM notifications
		WHERE kind = ? AND recipient_id = ? AND subject_key = ? AND read = 0
		LIMIT 1`,
		string(kind), recipientID, subjectKey).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("unread notification lookup: %w", err)
	}
	return true, nil
}

func (q *queries) PutNotification(ctx context.Context, n core.NotificationRecord) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO notifications
			(id, kind, recipient_id, subject_key, title, body, amount_cents, percent, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, string(n.Kind), n.RecipientID, n.SubjectKey, n.Title, n.Body,
		n.AmountCents, n.Percent, boolToInt(n.Read), n.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("put notification: %w", err)
	}
	return nil
}

func (q *queries) NotificationsByRecipient(ctx context.Context, recipientID string) ([]core.NotificationRecord, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, kind, recipient_id, subject_key, title, body, amount_cents, percent, read, created_at
		FROM notifications WHERE recipient_id = ? ORDER BY created_at, id`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("notifications by recipient: %w", err)
	}
	defer rows.Close()
	var out []core.NotificationRecord
	for rows.Next() {
		var (
			n         core.NotificationRecord
			kind      string
			read      int
			createdAt int64
		)
		if err := rows.Scan(&n.ID, &kind, &n.RecipientID, &n.SubjectKey, &n.Title, &n.Body,
			&n.AmountCents, &n.Percent, &read, &createdAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Kind = core.NotificationKind(kind)
		n.Read = read != 0
		n.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (q *queries) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
