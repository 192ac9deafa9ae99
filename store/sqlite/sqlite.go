/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements rental.TxStore, rental.SweepRunStore and notify.InboxStore on
  SQLite. The same schema works on PostgreSQL with minor dialect changes.

KEY TABLES:
  contracts:      One row per landlord/tenant relationship
  payments:       Rent installments, one per (rental, billing period)
  end_requests:   End-of-rental negotiations
  reminders:      Dedupe keys for expiry reminders
  notifications:  Per-user inbox of delivered notifications
  sweep_runs:     History of sweep executions

INVARIANTS ENFORCED BY THE SCHEMA:
  - idx_payments_rental_period:  UNIQUE(rental_id, period), so a billing
    month can never hold two payments even if two generators race
  - idx_end_requests_active:     at most one PENDING end request per rental
  - ON DELETE CASCADE:           a contract owns its payments and requests

CONDITIONAL UPDATES:
  Every UPDATE carries "WHERE id = ? AND version = ?" and bumps the
  version. Zero rows affected means someone else wrote first, reported as
  generic.ErrConcurrentModification.

CONCURRENCY:
  The pool is limited to one connection. SQLite allows a single writer
  anyway, and ":memory:" databases are per-connection. WithTx holds that
  connection for the duration of the transaction.

USAGE:
  store, err := sqlite.New("./data/rental.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  svc := rental.NewService(store, notifier, logger)

SEE ALSO:
  - rental/store.go: Interface definitions
  - rental/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/rental-engine/generic"
	"github.com/warp/rental-engine/notify"
	"github.com/warp/rental-engine/rental"
)

// timestamps are stored fixed-width so string comparison orders them.
const (
	tsLayout   = "2006-01-02T15:04:05.000000000Z"
	dateLayout = "2006-01-02"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements rental.Store on top of a querier.
type conn struct {
	q querier
}

// Store implements all storage interfaces using SQLite.
type Store struct {
	*conn
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{conn: &conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		landlord_id TEXT NOT NULL,
		property_id TEXT NOT NULL DEFAULT '',
		property_title TEXT NOT NULL DEFAULT '',
		monthly_rent INTEGER NOT NULL DEFAULT 0,
		start_date TEXT,
		end_date TEXT,
		payment_due_day INTEGER NOT NULL DEFAULT 1,
		grace_period_days INTEGER NOT NULL DEFAULT 0,
		duration_months INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		auto_renewal BOOLEAN NOT NULL DEFAULT FALSE,
		payments_generated BOOLEAN NOT NULL DEFAULT FALSE,
		billed_from TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (end_date IS NULL OR start_date IS NULL OR end_date > start_date)
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_status_end
		ON contracts(status, end_date);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		rental_id TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
		amount INTEGER NOT NULL CHECK (amount > 0),
		due_date TEXT NOT NULL,
		period TEXT NOT NULL,
		status TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		paid_date TEXT,
		method TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL DEFAULT '',
		proof_image TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: one payment per rental per billing month
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_rental_period
		ON payments(rental_id, period);

	CREATE INDEX IF NOT EXISTS idx_payments_status_due
		ON payments(status, due_date);

	CREATE TABLE IF NOT EXISTS end_requests (
		id TEXT PRIMARY KEY,
		rental_id TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
		requested_by_id TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		auto_accept_at TEXT NOT NULL,
		responded_at TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- At most one unresolved end request per rental
	CREATE UNIQUE INDEX IF NOT EXISTS idx_end_requests_active
		ON end_requests(rental_id) WHERE status = 'PENDING';

	CREATE INDEX IF NOT EXISTS idx_end_requests_due
		ON end_requests(status, auto_accept_at);

	CREATE TABLE IF NOT EXISTS reminders (
		key TEXT PRIMARY KEY,
		sent_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_user
		ON notifications(user_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS sweep_runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		report_json TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (rental.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store rental.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// CONTRACTS
// =============================================================================

const contractColumns = `id, tenant_id, landlord_id, property_id, property_title, monthly_rent,
	start_date, end_date, payment_due_day, grace_period_days, duration_months, status,
	auto_renewal, payments_generated, billed_from, version, created_at, updated_at`

// CreateContract inserts a contract at version 1.
func (c *conn) CreateContract(ctx context.Context, k *rental.Contract) error {
	k.Version = 1
	_, err := c.q.ExecContext(ctx, `INSERT INTO contracts (`+contractColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.TenantID, k.LandlordID, k.PropertyID, k.PropertyTitle, int64(k.MonthlyRent),
		nullDate(&k.ContractStartDate), nullDate(k.ContractEndDate),
		k.PaymentDueDay, k.GracePeriodDays, k.ContractDurationMonths, string(k.Status),
		k.AutoRenewal, k.PaymentsGenerated, nullDate(k.BilledFrom), k.Version, formatTS(k.CreatedAt), formatTS(k.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert contract: %w", err)
	}
	return nil
}

// GetContract returns a contract by id.
func (c *conn) GetContract(ctx context.Context, id string) (*rental.Contract, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query contract: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, generic.ErrNotFound
	}
	k, err := scanContract(rows)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// UpdateContract writes every mutable column if the version still matches.
func (c *conn) UpdateContract(ctx context.Context, k *rental.Contract) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE contracts SET
			property_title = ?, monthly_rent = ?, start_date = ?, end_date = ?,
			payment_due_day = ?, grace_period_days = ?, duration_months = ?, status = ?,
			auto_renewal = ?, payments_generated = ?, billed_from = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		k.PropertyTitle, int64(k.MonthlyRent), nullDate(&k.ContractStartDate), nullDate(k.ContractEndDate),
		k.PaymentDueDay, k.GracePeriodDays, k.ContractDurationMonths, string(k.Status),
		k.AutoRenewal, k.PaymentsGenerated, nullDate(k.BilledFrom), formatTS(k.UpdatedAt),
		k.ID, k.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update contract: %w", err)
	}
	if err := c.checkVersioned(ctx, res, "contracts", k.ID); err != nil {
		return err
	}
	k.Version++
	return nil
}

// ListContracts returns contracts matching the filter ordered by id.
func (c *conn) ListContracts(ctx context.Context, f rental.ContractFilter) ([]rental.Contract, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if f.EndFrom != nil {
		where = append(where, "end_date IS NOT NULL AND end_date >= ?")
		args = append(args, f.EndFrom.String())
	}
	if f.EndTo != nil {
		where = append(where, "end_date IS NOT NULL AND end_date <= ?")
		args = append(args, f.EndTo.String())
	}

	query := `SELECT ` + contractColumns + ` FROM contracts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()

	var contracts []rental.Contract
	for rows.Next() {
		k, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, k)
	}
	return contracts, rows.Err()
}

func scanContract(rows *sql.Rows) (rental.Contract, error) {
	var (
		k                    rental.Contract
		rent                 int64
		startDate, endDate   sql.NullString
		billedFrom           sql.NullString
		status               string
		createdAt, updatedAt string
	)
	err := rows.Scan(
		&k.ID, &k.TenantID, &k.LandlordID, &k.PropertyID, &k.PropertyTitle, &rent,
		&startDate, &endDate, &k.PaymentDueDay, &k.GracePeriodDays, &k.ContractDurationMonths, &status,
		&k.AutoRenewal, &k.PaymentsGenerated, &billedFrom, &k.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return k, fmt.Errorf("failed to scan contract: %w", err)
	}
	k.MonthlyRent = generic.Money(rent)
	k.Status = rental.ContractStatus(status)
	if d := parseNullDate(startDate); d != nil {
		k.ContractStartDate = *d
	}
	k.ContractEndDate = parseNullDate(endDate)
	k.BilledFrom = parseNullDate(billedFrom)
	k.CreatedAt = parseTS(createdAt)
	k.UpdatedAt = parseTS(updatedAt)
	return k, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, rental_id, amount, due_date, period, status, description,
	paid_date, method, reference, proof_image, version, created_at, updated_at`

// CreatePayment inserts a payment; a second payment for the same period is rejected.
func (c *conn) CreatePayment(ctx context.Context, p *rental.Payment) error {
	p.Version = 1
	_, err := c.q.ExecContext(ctx, `INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.RentalID, int64(p.Amount), p.DueDate.String(), p.Period.Key(), string(p.Status), p.Description,
		nullTS(p.PaidDate), p.Method, p.Reference, p.ProofImage, p.Version,
		formatTS(p.CreatedAt), formatTS(p.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicatePeriod
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// GetPayment returns a payment by id.
func (c *conn) GetPayment(ctx context.Context, id string) (*rental.Payment, error) {
	ps, err := c.queryPayments(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return nil, generic.ErrNotFound
	}
	return &ps[0], nil
}

// UpdatePayment writes status and evidence if the version still matches.
func (c *conn) UpdatePayment(ctx context.Context, p *rental.Payment) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE payments SET
			amount = ?, status = ?, description = ?, paid_date = ?, method = ?,
			reference = ?, proof_image = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		int64(p.Amount), string(p.Status), p.Description, nullTS(p.PaidDate), p.Method,
		p.Reference, p.ProofImage, formatTS(p.UpdatedAt),
		p.ID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if err := c.checkVersioned(ctx, res, "payments", p.ID); err != nil {
		return err
	}
	p.Version++
	return nil
}

// DeletePayment removes a payment if the version still matches.
func (c *conn) DeletePayment(ctx context.Context, id string, version int64) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM payments WHERE id = ? AND version = ?`, id, version)
	if err != nil {
		return fmt.Errorf("failed to delete payment: %w", err)
	}
	return c.checkVersioned(ctx, res, "payments", id)
}

// ListPayments returns a rental's payments ordered by due date.
func (c *conn) ListPayments(ctx context.Context, rentalID string) ([]rental.Payment, error) {
	return c.queryPayments(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE rental_id = ? ORDER BY due_date ASC, id ASC`, rentalID)
}

// ListPaymentsDueBetween returns payments due in [from, to].
func (c *conn) ListPaymentsDueBetween(ctx context.Context, rentalID string, from, to generic.Date) ([]rental.Payment, error) {
	return c.queryPayments(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE rental_id = ? AND due_date >= ? AND due_date <= ?
		ORDER BY due_date ASC, id ASC`, rentalID, from.String(), to.String())
}

// ListPaymentsByStatus returns payments in status due strictly before dueBefore.
func (c *conn) ListPaymentsByStatus(ctx context.Context, status rental.PaymentStatus, dueBefore generic.Date) ([]rental.Payment, error) {
	return c.queryPayments(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE status = ? AND due_date < ?
		ORDER BY due_date ASC, id ASC`, string(status), dueBefore.String())
}

// CountUnresolvedPayments counts PENDING, OVERDUE and VERIFICATION payments.
func (c *conn) CountUnresolvedPayments(ctx context.Context, rentalID string) (int, error) {
	var n int
	err := c.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM payments
		WHERE rental_id = ? AND status IN (?, ?, ?)`,
		rentalID, string(rental.PaymentPending), string(rental.PaymentOverdue), string(rental.PaymentVerification),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count payments: %w", err)
	}
	return n, nil
}

func (c *conn) queryPayments(ctx context.Context, query string, args ...any) ([]rental.Payment, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []rental.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func scanPayment(rows *sql.Rows) (rental.Payment, error) {
	var (
		p                    rental.Payment
		amount               int64
		dueDate, period      string
		status               string
		paidDate             sql.NullString
		createdAt, updatedAt string
	)
	err := rows.Scan(
		&p.ID, &p.RentalID, &amount, &dueDate, &period, &status, &p.Description,
		&paidDate, &p.Method, &p.Reference, &p.ProofImage, &p.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}
	p.Amount = generic.Money(amount)
	if p.DueDate, err = generic.ParseDate(dueDate); err != nil {
		return p, err
	}
	if p.Period, err = generic.ParsePeriod(period); err != nil {
		return p, err
	}
	p.Status = rental.PaymentStatus(status)
	p.PaidDate = parseNullTS(paidDate)
	p.CreatedAt = parseTS(createdAt)
	p.UpdatedAt = parseTS(updatedAt)
	return p, nil
}

// =============================================================================
// END REQUESTS
// =============================================================================

const endRequestColumns = `id, rental_id, requested_by_id, reason, status, auto_accept_at,
	responded_at, version, created_at, updated_at`

// CreateEndRequest inserts a request. A second PENDING request for the same
// rental violates idx_end_requests_active and is reported as a conflict.
func (c *conn) CreateEndRequest(ctx context.Context, r *rental.EndRequest) error {
	r.Version = 1
	_, err := c.q.ExecContext(ctx, `INSERT INTO end_requests (`+endRequestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RentalID, r.RequestedByID, r.Reason, string(r.Status), formatTS(r.AutoAcceptAt),
		nullTS(r.RespondedAt), r.Version, formatTS(r.CreatedAt), formatTS(r.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrConcurrentModification
		}
		return fmt.Errorf("failed to insert end request: %w", err)
	}
	return nil
}

// GetEndRequest returns a request by id.
func (c *conn) GetEndRequest(ctx context.Context, id string) (*rental.EndRequest, error) {
	rs, err := c.queryEndRequests(ctx, `SELECT `+endRequestColumns+` FROM end_requests WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, generic.ErrNotFound
	}
	return &rs[0], nil
}

// GetActiveEndRequest returns the rental's PENDING request.
func (c *conn) GetActiveEndRequest(ctx context.Context, rentalID string) (*rental.EndRequest, error) {
	rs, err := c.queryEndRequests(ctx, `SELECT `+endRequestColumns+` FROM end_requests
		WHERE rental_id = ? AND status = ?`, rentalID, string(rental.EndPending))
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, generic.ErrNotFound
	}
	return &rs[0], nil
}

// UpdateEndRequest writes status and response time if the version still matches.
func (c *conn) UpdateEndRequest(ctx context.Context, r *rental.EndRequest) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE end_requests SET
			status = ?, responded_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		string(r.Status), nullTS(r.RespondedAt), formatTS(r.UpdatedAt),
		r.ID, r.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update end request: %w", err)
	}
	if err := c.checkVersioned(ctx, res, "end_requests", r.ID); err != nil {
		return err
	}
	r.Version++
	return nil
}

// ListEndRequests returns a rental's requests, newest first.
func (c *conn) ListEndRequests(ctx context.Context, rentalID string) ([]rental.EndRequest, error) {
	return c.queryEndRequests(ctx, `SELECT `+endRequestColumns+` FROM end_requests
		WHERE rental_id = ? ORDER BY created_at DESC`, rentalID)
}

// ListDueEndRequests returns PENDING requests whose deadline is at or before now.
func (c *conn) ListDueEndRequests(ctx context.Context, now time.Time) ([]rental.EndRequest, error) {
	return c.queryEndRequests(ctx, `SELECT `+endRequestColumns+` FROM end_requests
		WHERE status = ? AND auto_accept_at <= ?
		ORDER BY auto_accept_at ASC`, string(rental.EndPending), formatTS(now))
}

func (c *conn) queryEndRequests(ctx context.Context, query string, args ...any) ([]rental.EndRequest, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query end requests: %w", err)
	}
	defer rows.Close()

	var requests []rental.EndRequest
	for rows.Next() {
		var (
			r                    rental.EndRequest
			status, autoAcceptAt string
			respondedAt          sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&r.ID, &r.RentalID, &r.RequestedByID, &r.Reason, &status, &autoAcceptAt,
			&respondedAt, &r.Version, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan end request: %w", err)
		}
		r.Status = rental.EndRequestStatus(status)
		r.AutoAcceptAt = parseTS(autoAcceptAt)
		r.RespondedAt = parseNullTS(respondedAt)
		r.CreatedAt = parseTS(createdAt)
		r.UpdatedAt = parseTS(updatedAt)
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// =============================================================================
// REMINDERS
// =============================================================================

// RecordReminder inserts the dedupe key; false means it was already there.
func (c *conn) RecordReminder(ctx context.Context, key string, at time.Time) (bool, error) {
	res, err := c.q.ExecContext(ctx, `INSERT OR IGNORE INTO reminders (key, sent_at) VALUES (?, ?)`, key, formatTS(at))
	if err != nil {
		return false, fmt.Errorf("failed to record reminder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// =============================================================================
// SWEEP RUNS (rental.SweepRunStore interface)
// =============================================================================

// SaveSweepRun stores a sweep report.
func (s *Store) SaveSweepRun(ctx context.Context, run rental.SweepRun) error {
	reportJSON, err := json.Marshal(run.Report)
	if err != nil {
		return fmt.Errorf("failed to encode sweep report: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO sweep_runs (id, started_at, finished_at, report_json)
		VALUES (?, ?, ?, ?)`, run.ID, formatTS(run.StartedAt), formatTS(run.FinishedAt), string(reportJSON))
	if err != nil {
		return fmt.Errorf("failed to save sweep run: %w", err)
	}
	return nil
}

// ListSweepRuns returns the most recent runs first.
func (s *Store) ListSweepRuns(ctx context.Context, limit int) ([]rental.SweepRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, started_at, finished_at, report_json
		FROM sweep_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sweep runs: %w", err)
	}
	defer rows.Close()

	var runs []rental.SweepRun
	for rows.Next() {
		var (
			run                           rental.SweepRun
			startedAt, finishedAt, report string
		)
		if err := rows.Scan(&run.ID, &startedAt, &finishedAt, &report); err != nil {
			return nil, fmt.Errorf("failed to scan sweep run: %w", err)
		}
		run.StartedAt = parseTS(startedAt)
		run.FinishedAt = parseTS(finishedAt)
		if err := json.Unmarshal([]byte(report), &run.Report); err != nil {
			return nil, fmt.Errorf("failed to decode sweep report: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// NOTIFICATIONS (notify.InboxStore interface)
// =============================================================================

// SaveNotification appends to a user's inbox.
func (s *Store) SaveNotification(ctx context.Context, rec notify.Record) error {
	metadataJSON, _ := json.Marshal(rec.Metadata)
	_, err := s.db.ExecContext(ctx, `INSERT INTO notifications
		(id, user_id, kind, title, body, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Kind, rec.Title, rec.Body, string(metadataJSON), formatTS(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save notification: %w", err)
	}
	return nil
}

// ListNotifications returns a user's notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]notify.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, kind, title, body, metadata_json, created_at
		FROM notifications WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var out []notify.Record
	for rows.Next() {
		var (
			rec          notify.Record
			metadataJSON sql.NullString
			createdAt    string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Kind, &rec.Title, &rec.Body, &metadataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode notification %s metadata: %w", rec.ID, err)
			}
		}
		rec.CreatedAt = parseTS(createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Helper functions

// checkVersioned turns "0 rows affected" into NotFound or ConcurrentModification.
func (c *conn) checkVersioned(ctx context.Context, res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists int
	if err := c.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return generic.ErrNotFound
	}
	return generic.ErrConcurrentModification
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func nullTS(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTS(*t), Valid: true}
}

func parseNullTS(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTS(s.String)
	return &t
}

func nullDate(d *generic.Date) sql.NullString {
	if d == nil || d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(s sql.NullString) *generic.Date {
	if !s.Valid || s.String == "" {
		return nil
	}
	d, err := generic.ParseDate(s.String)
	if err != nil {
		return nil
	}
	return &d
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
