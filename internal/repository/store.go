package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/MaksM89/equarium/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Querier is the query surface services operate on. *Queries implements it
// against Postgres; tests substitute an in-memory fake.
type Querier interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByName(ctx context.Context, fullname string) (*models.User, error)
	UpdateUserPassword(ctx context.Context, id uuid.UUID, hashedPassword string) error
	GetBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error)
	GetBalanceForUpdate(ctx context.Context, id uuid.UUID) (decimal.Decimal, error)
	DebitBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error)
	CreditBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error)
	InsertTransaction(ctx context.Context, from, to uuid.UUID, amount decimal.Decimal) (*models.TransferReceipt, error)
	GetTransactionForUpdate(ctx context.Context, id int64) (*models.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id int64, status string) (int64, error)
	CountTransactionsForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	ListHistory(ctx context.Context, p HistoryParams) ([]models.HistoryEntry, error)
	ListUnsettledTransactionIDs(ctx context.Context, cutoff time.Time, limit int32) ([]int64, error)
	CountNegativeBalances(ctx context.Context) (int64, error)
	CountStuckSettlements(ctx context.Context, cutoff time.Time) (int64, error)
	InsertAuditLog(ctx context.Context, p AuditLogParams) error
}

var _ Querier = (*Queries)(nil)

// Store provides access to the query set and transaction scoping.
type Store struct {
	db      *pgxpool.Pool
	queries *Queries
}

// NewStore creates a store wrapper around a pgx connection pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{
		db:      db,
		queries: New(db),
	}
}

// Queries returns the non-transactional query set.
func (s *Store) Queries() Querier {
	return s.queries
}

// RunInTx executes fn within a database transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
