package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MaksM89/equarium/internal/domain"
	"github.com/MaksM89/equarium/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DBTX is the subset of pgx executors queries run against, satisfied by
// both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries is the hand-written query set for the users and transactions tables.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a copy of the query set bound to a transaction.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

func (q *Queries) CreateUser(ctx context.Context, user *models.User) error {
	query := `INSERT INTO users (id, fullname, hashed_password, balance)
		VALUES ($1, $2, $3, $4)
		RETURNING password_set_time, created_at`
	err := q.db.QueryRow(ctx, query, user.ID, user.Fullname, user.HashedPassword, user.Balance).
		Scan(&user.PasswordSetTime, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.ErrUsernameTaken
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return q.getUser(ctx, `WHERE id = $1`, id)
}

func (q *Queries) GetUserByName(ctx context.Context, fullname string) (*models.User, error) {
	return q.getUser(ctx, `WHERE fullname = $1`, fullname)
}

func (q *Queries) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	user := &models.User{}
	query := `SELECT id, fullname, hashed_password, balance, password_set_time, created_at FROM users ` + where
	err := q.db.QueryRow(ctx, query, arg).
		Scan(&user.ID, &user.Fullname, &user.HashedPassword, &user.Balance, &user.PasswordSetTime, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (q *Queries) UpdateUserPassword(ctx context.Context, id uuid.UUID, hashedPassword string) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE users SET hashed_password = $2, password_set_time = NOW() WHERE id = $1`,
		id, hashedPassword)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

func (q *Queries) GetBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	return q.balance(ctx, id, `SELECT balance FROM users WHERE id = $1`)
}

// GetBalanceForUpdate reads a balance holding a row lock for the rest of
// the enclosing transaction. Callers lock multiple rows in ascending id
// order to avoid deadlocks.
func (q *Queries) GetBalanceForUpdate(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	return q.balance(ctx, id, `SELECT balance FROM users WHERE id = $1 FOR UPDATE`)
}

func (q *Queries) balance(ctx context.Context, id uuid.UUID, query string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	if err := q.db.QueryRow(ctx, query, id).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, models.ErrUserNotFound
		}
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// DebitBalance applies a conditional debit: the row is only updated when the
// current balance covers the amount. Returns the number of rows updated, so
// a zero result means the guard rejected the mutation.
func (q *Queries) DebitBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE users SET balance = balance - $2 WHERE id = $1 AND balance >= $2`,
		id, amount)
	if err != nil {
		return 0, fmt.Errorf("debit balance: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) CreditBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE users SET balance = balance + $2 WHERE id = $1`,
		id, amount)
	if err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertTransaction appends a CREATED transaction row. The id and timestamp
// are assigned by the store and returned to the caller. Balances are not
// touched here.
func (q *Queries) InsertTransaction(ctx context.Context, from, to uuid.UUID, amount decimal.Decimal) (*models.TransferReceipt, error) {
	receipt := &models.TransferReceipt{}
	query := `INSERT INTO transactions (from_user_id, to_user_id, amount)
		VALUES ($1, $2, $3)
		RETURNING id, dt, status`
	err := q.db.QueryRow(ctx, query, from, to, amount).Scan(&receipt.ID, &receipt.Dt, &receipt.Status)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return receipt, nil
}

// GetTransactionForUpdate loads a transaction holding its row lock, which
// serializes concurrent settlements of the same id.
func (q *Queries) GetTransactionForUpdate(ctx context.Context, id int64) (*models.Transaction, error) {
	t := &models.Transaction{}
	query := `SELECT id, dt, from_user_id, to_user_id, amount, status
		FROM transactions WHERE id = $1 FOR UPDATE`
	err := q.db.QueryRow(ctx, query, id).
		Scan(&t.ID, &t.Dt, &t.FromUserID, &t.ToUserID, &t.Amount, &t.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

func (q *Queries) UpdateTransactionStatus(ctx context.Context, id int64, status string) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE transactions SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return 0, fmt.Errorf("update transaction status: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountTransactionsForUser counts every transaction the user participates in,
// as sender or receiver, regardless of status or any history filter.
func (q *Queries) CountTransactionsForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var total int64
	query := `SELECT COUNT(id) FROM transactions WHERE from_user_id = $1 OR to_user_id = $1`
	if err := q.db.QueryRow(ctx, query, userID).Scan(&total); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return total, nil
}

// HistoryParams selects a page of the merged history view.
type HistoryParams struct {
	UserID  uuid.UUID
	DtStart *time.Time
	DtEnd   *time.Time
	Status  *string
	Limit   int32
	Offset  int32
}

// ListHistory merges the outgoing and incoming projections of the
// transactions table with a UNION ALL, signing amounts by direction, and
// returns one page ordered by dt descending with id descending as the
// tie-break.
func (q *Queries) ListHistory(ctx context.Context, p HistoryParams) ([]models.HistoryEntry, error) {
	args := []any{p.UserID}
	conds := ""
	if p.DtStart != nil {
		args = append(args, *p.DtStart)
		conds += fmt.Sprintf(" AND dt >= $%d", len(args))
	}
	if p.DtEnd != nil {
		args = append(args, *p.DtEnd)
		conds += fmt.Sprintf(" AND dt <= $%d", len(args))
	}
	if p.Status != nil {
		args = append(args, *p.Status)
		conds += fmt.Sprintf(" AND status = $%d", len(args))
	}

	// Both branches share the same placeholders; only the matched column
	// and the amount sign differ.
	branch := func(column, amountExpr, direction string) string {
		return fmt.Sprintf(
			`SELECT id, dt, '%s' AS direction, %s AS amount, status FROM transactions WHERE %s = $1%s`,
			direction, amountExpr, column, conds)
	}
	query := branch("from_user_id", "-amount", domain.DirectionOutcome) +
		" UNION ALL " +
		branch("to_user_id", "amount", domain.DirectionIncome) +
		" ORDER BY dt DESC, id DESC"

	args = append(args, p.Limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, p.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ID, &e.Date, &e.Direction, &e.Amount, &e.Status); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

// ListUnsettledTransactionIDs returns non-terminal transactions created
// before cutoff, oldest first. The settlement worker sweeps these so a
// transaction whose enqueue was lost still settles.
func (q *Queries) ListUnsettledTransactionIDs(ctx context.Context, cutoff time.Time, limit int32) ([]int64, error) {
	query := `SELECT id FROM transactions
		WHERE status IN ($1, $2) AND dt < $3
		ORDER BY id
		LIMIT $4`
	rows, err := q.db.Query(ctx, query, domain.TxStatusCreated, domain.TxStatusProcessed, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list unsettled transactions: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan transaction id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list unsettled transactions: %w", err)
	}
	return ids, nil
}

func (q *Queries) CountNegativeBalances(ctx context.Context) (int64, error) {
	var n int64
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE balance < 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count negative balances: %w", err)
	}
	return n, nil
}

// CountStuckSettlements counts transactions that entered PROCESSED before
// cutoff and never reached a terminal state.
func (q *Queries) CountStuckSettlements(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	query := `SELECT COUNT(*) FROM transactions WHERE status = $1 AND dt < $2`
	if err := q.db.QueryRow(ctx, query, domain.TxStatusProcessed, cutoff).Scan(&n); err != nil {
		return 0, fmt.Errorf("count stuck settlements: %w", err)
	}
	return n, nil
}

// AuditLogParams describes one immutable audit trail row.
type AuditLogParams struct {
	EntityType string
	EntityID   string
	Action     string
	PrevState  string
	NextState  string
}

func (q *Queries) InsertAuditLog(ctx context.Context, p AuditLogParams) error {
	query := `INSERT INTO audit_log (entity_type, entity_id, action, prev_state, next_state)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := q.db.Exec(ctx, query, p.EntityType, p.EntityID, p.Action, textParam(p.PrevState), textParam(p.NextState)); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func textParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
