package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"smartwork_backend/internal/domain"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type SQLiteRepo struct {
	db *sql.DB
}

func NewSQLiteRepo(dsn string) (*SQLiteRepo, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// sqlite has a single writer; one connection keeps the pragmas below in
	// effect and turns lock contention into pool waits.
	db.SetMaxOpenConns(1)

	db.Exec("PRAGMA foreign_keys = ON;")
	db.Exec("PRAGMA journal_mode = WAL;")
	db.Exec("PRAGMA busy_timeout = 5000;")

	r := &SQLiteRepo{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return r, nil
}

func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepo) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS teams(
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			leader_id TEXT NOT NULL,
			plan TEXT NOT NULL DEFAULT 'FREE',
			plan_expired_at TEXT
		);

		CREATE TABLE IF NOT EXISTS payment_intents(
			id TEXT PRIMARY KEY,
			team_id TEXT NOT NULL REFERENCES teams(id),
			amount INTEGER NOT NULL,
			currency TEXT NOT NULL,
			provider TEXT NOT NULL,
			plan TEXT NOT NULL,
			status TEXT NOT NULL,
			reference_code TEXT NOT NULL UNIQUE,
			qr_url TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			expires_at TEXT,
			transaction_id TEXT,
			paid_at TEXT,
			failed_at TEXT,
			cancelled_at TEXT,
			failure_reason TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_pi_status ON payment_intents(status);
		CREATE INDEX IF NOT EXISTS idx_pi_team_created ON payment_intents(team_id, created_at);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_pi_one_pending
			ON payment_intents(team_id, plan) WHERE status = 'PENDING';

		CREATE TABLE IF NOT EXISTS processed_transactions(
			external_id TEXT PRIMARY KEY,
			payment_id TEXT NOT NULL REFERENCES payment_intents(id),
			processed_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_pt_payment ON processed_transactions(payment_id);
	`
	_, err := r.db.Exec(schema)
	return err
}

const paymentColumns = `
	id,
	team_id,
	amount,
	currency,
	provider,
	plan,
	status,
	reference_code,
	qr_url,
	created_by,
	created_at,
	expires_at,
	transaction_id,
	paid_at,
	failed_at,
	cancelled_at,
	failure_reason
`

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreatePendingPayment inserts p as PENDING unless the team already has a
// live PENDING payment for the same plan, in which case that one is returned
// with created=false. An expired PENDING payment is cancelled first.
func (r *SQLiteRepo) CreatePendingPayment(ctx context.Context, p *domain.Payment, now time.Time) (*domain.Payment, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	existing, err := r.pendingFor(ctx, tx, p.TeamID, p.Plan)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return nil, false, err
	case !existing.Expired(now):
		return existing, false, tx.Commit()
	default:
		if _, err := transition(ctx, tx, existing.ID, domain.StatusCancelled, "cancelled_at", now, "expired"); err != nil {
			return nil, false, err
		}
	}

	p.Status = domain.StatusPending
	q := `
		INSERT INTO payment_intents(
			id,
			team_id,
			amount,
			currency,
			provider,
			plan,
			status,
			reference_code,
			qr_url,
			created_by,
			created_at,
			expires_at
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`
	_, err = tx.ExecContext(
		ctx, q,
		p.ID,
		p.TeamID,
		p.Amount,
		p.Currency,
		p.Provider,
		string(p.Plan),
		string(p.Status),
		p.ReferenceCode,
		p.QRURL,
		p.CreatedBy,
		formatTime(p.CreatedAt),
		formatTimePtr(nonZero(p.ExpiresAt)),
	)
	if isConstraint(err) {
		// A concurrent create won the partial unique index.
		tx.Rollback()
		existing, gerr := r.pendingFor(ctx, r.db, p.TeamID, p.Plan)
		if gerr != nil {
			return nil, false, fmt.Errorf("insert payment: %w", err)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	p.ProcessedTransactionIDs = map[string]struct{}{}
	return p, true, nil
}

func (r *SQLiteRepo) pendingFor(ctx context.Context, q queryer, teamID string, plan domain.Plan) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_intents WHERE team_id = ? AND plan = ? AND status = ?`
	p, err := scanPayment(q.QueryRowContext(ctx, query, teamID, string(plan), string(domain.StatusPending)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, r.loadLedger(ctx, q, p)
}

func (r *SQLiteRepo) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payment_intents WHERE id = ?`, id)
}

func (r *SQLiteRepo) GetPaymentByReference(ctx context.Context, ref string) (*domain.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payment_intents WHERE reference_code = ? COLLATE NOCASE`, ref)
}

func (r *SQLiteRepo) LatestPaymentForTeam(ctx context.Context, teamID string) (*domain.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payment_intents WHERE team_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, teamID)
}

func (r *SQLiteRepo) getOne(ctx context.Context, q string, args ...any) (*domain.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, r.loadLedger(ctx, r.db, p)
}

func (r *SQLiteRepo) ListPendingPayments(ctx context.Context) ([]*domain.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payment_intents WHERE status = ? ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, q, string(domain.StatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, p := range res {
		if err := r.loadLedger(ctx, r.db, p); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r *SQLiteRepo) loadLedger(ctx context.Context, q queryer, p *domain.Payment) error {
	rows, err := q.QueryContext(ctx, `SELECT external_id FROM processed_transactions WHERE payment_id = ?`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	p.ProcessedTransactionIDs = map[string]struct{}{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		p.ProcessedTransactionIDs[id] = struct{}{}
	}
	return rows.Err()
}

// ProcessedTransactions maps each already applied external id in ids to the
// payment it was applied to.
func (r *SQLiteRepo) ProcessedTransactions(ctx context.Context, ids []string) (map[string]string, error) {
	res := make(map[string]string)
	if len(ids) == 0 {
		return res, nil
	}

	q := `SELECT external_id, payment_id FROM processed_transactions WHERE external_id IN (?` +
		strings.Repeat(", ?", len(ids)-1) + `)`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var ext, pid string
		if err := rows.Scan(&ext, &pid); err != nil {
			return nil, err
		}
		res[ext] = pid
	}
	return res, rows.Err()
}

// CommitSuccess moves the payment from PENDING to SUCCESS, records
// externalID in its ledger and applies grant to the team, all in one
// transaction. The status check and the write are one UPDATE, so of two
// concurrent callers exactly one sees committed=true. A ledger conflict
// returns domain.ErrDuplicateTransaction; that and any other error leave the
// payment PENDING and the team untouched.
func (r *SQLiteRepo) CommitSuccess(ctx context.Context, id, externalID string, paidAt time.Time, grant domain.Entitlement) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	q := `
		UPDATE payment_intents
		SET status = ?, paid_at = ?, transaction_id = ?
		WHERE id = ? AND status = ?
	`
	res, err := tx.ExecContext(ctx, q,
		string(domain.StatusSuccess),
		formatTime(paidAt),
		externalID,
		id,
		string(domain.StatusPending),
	)
	if err != nil {
		return false, err
	}

	aff, _ := res.RowsAffected()
	if aff == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO processed_transactions(external_id, payment_id, processed_at) VALUES(?, ?, ?)`,
		externalID, id, formatTime(paidAt),
	)
	if isConstraint(err) {
		return false, domain.ErrDuplicateTransaction
	}
	if err != nil {
		return false, err
	}

	if err := updateEntitlement(ctx, tx, grant); err != nil {
		return false, fmt.Errorf("grant team %s: %w", grant.TeamID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// MarkFailed moves a PENDING payment to FAILED.
func (r *SQLiteRepo) MarkFailed(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	return transition(ctx, r.db, id, domain.StatusFailed, "failed_at", at, reason)
}

// Cancel moves a PENDING payment to CANCELLED.
func (r *SQLiteRepo) Cancel(ctx context.Context, id string, at time.Time) (bool, error) {
	return transition(ctx, r.db, id, domain.StatusCancelled, "cancelled_at", at, "")
}

func transition(ctx context.Context, q queryer, id string, to domain.PaymentStatus, column string, at time.Time, reason string) (bool, error) {
	query := `UPDATE payment_intents SET status = ?, ` + column + ` = ?, failure_reason = ? WHERE id = ? AND status = ?`
	res, err := q.ExecContext(ctx, query, string(to), formatTime(at), reason, id, string(domain.StatusPending))
	if err != nil {
		return false, err
	}

	aff, _ := res.RowsAffected()
	return aff > 0, nil
}

func scanPayment(scanner interface {
	Scan(dest ...any) error
}) (*domain.Payment, error) {
	var p domain.Payment
	var plan, status, createdStr string
	var expiresStr, txID, paidStr, failedStr, cancelledStr *string

	if err := scanner.Scan(
		&p.ID,
		&p.TeamID,
		&p.Amount,
		&p.Currency,
		&p.Provider,
		&plan,
		&status,
		&p.ReferenceCode,
		&p.QRURL,
		&p.CreatedBy,
		&createdStr,
		&expiresStr,
		&txID,
		&paidStr,
		&failedStr,
		&cancelledStr,
		&p.FailureReason,
	); err != nil {
		return nil, err
	}

	p.Plan = domain.Plan(plan)
	p.Status = domain.PaymentStatus(status)
	if txID != nil {
		p.TransactionID = *txID
	}

	created, err := time.Parse(time.RFC3339Nano, createdStr)
	if err != nil {
		return nil, fmt.Errorf("parse created time: %w", err)
	}
	p.CreatedAt = created

	var expires *time.Time
	for _, f := range []struct {
		src *string
		dst **time.Time
	}{
		{expiresStr, &expires},
		{paidStr, &p.PaidAt},
		{failedStr, &p.FailedAt},
		{cancelledStr, &p.CancelledAt},
	} {
		t, err := parseTimePtr(f.src)
		if err != nil {
			return nil, err
		}
		*f.dst = t
	}
	if expires != nil {
		p.ExpiresAt = *expires
	}

	return &p, nil
}

func (r *SQLiteRepo) UpsertTeam(ctx context.Context, t *domain.Team) error {
	if t.Plan == "" {
		t.Plan = domain.PlanFree
	}

	q := `
		INSERT INTO teams(id, name, leader_id, plan, plan_expired_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, leader_id = excluded.leader_id
	`
	_, err := r.db.ExecContext(ctx, q, t.ID, t.Name, t.LeaderID, string(t.Plan), formatTimePtr(t.PlanExpiredAt))
	return err
}

func (r *SQLiteRepo) GetTeam(ctx context.Context, id string) (*domain.Team, error) {
	q := `SELECT id, name, leader_id, plan, plan_expired_at FROM teams WHERE id = ?`

	var t domain.Team
	var plan string
	var expStr *string
	err := r.db.QueryRowContext(ctx, q, id).Scan(&t.ID, &t.Name, &t.LeaderID, &plan, &expStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	t.Plan = domain.Plan(plan)
	if t.PlanExpiredAt, err = parseTimePtr(expStr); err != nil {
		return nil, err
	}
	return &t, nil
}

func updateEntitlement(ctx context.Context, q queryer, e domain.Entitlement) error {
	res, err := q.ExecContext(ctx,
		`UPDATE teams SET plan = ?, plan_expired_at = ? WHERE id = ?`,
		string(e.Plan), formatTime(e.ExpiresAt), e.TeamID,
	)
	if err != nil {
		return err
	}

	aff, _ := res.RowsAffected()
	if aff == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nonZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil, fmt.Errorf("parse time: %w", err)
	}
	return &t, nil
}

func isConstraint(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}
