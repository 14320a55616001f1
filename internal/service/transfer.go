package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/MaksM89/equarium/internal/domain"
	"github.com/MaksM89/equarium/internal/models"
	"github.com/MaksM89/equarium/internal/observability"
	"github.com/MaksM89/equarium/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SettlementScheduler accepts transaction ids for asynchronous settlement.
type SettlementScheduler interface {
	Schedule(transactionID int64)
}

// TransferService orchestrates the transfer lifecycle: creation with the
// advisory funds check, and settlement with the authoritative check and the
// atomic balance mutation.
type TransferService struct {
	store     QueryStore
	audit     *AuditService
	scheduler SettlementScheduler
}

func NewTransferService(store QueryStore, audit *AuditService) *TransferService {
	return &TransferService{
		store: store,
		audit: audit,
	}
}

// WithScheduler wires the asynchronous settlement trigger. Without one,
// transactions stay CREATED until the settlement sweep picks them up.
func (s *TransferService) WithScheduler(scheduler SettlementScheduler) *TransferService {
	s.scheduler = scheduler
	return s
}

// Create validates a transfer request and appends a CREATED transaction.
// The balance check here is advisory only: funds can move between creation
// and settlement, so settlement re-checks authoritatively. No balances are
// touched here.
func (s *TransferService) Create(ctx context.Context, fromID, toID uuid.UUID, amount decimal.Decimal) (*models.TransferReceipt, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	if fromID == toID {
		return nil, models.ErrSelfTransfer
	}

	queries := s.store.Queries()
	if _, err := queries.GetUserByID(ctx, toID); err != nil {
		return nil, err
	}
	balance, err := queries.GetBalance(ctx, fromID)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(amount) {
		return nil, models.ErrInsufficientFunds
	}

	receipt, err := queries.InsertTransaction(ctx, fromID, toID, amount)
	if err != nil {
		return nil, err
	}
	zap.L().Info("transaction created",
		zap.Int64("transaction_id", receipt.ID),
		zap.String("from", fromID.String()),
		zap.String("to", toID.String()),
		zap.String("amount", domain.FormatMoney(amount)),
	)

	if s.scheduler != nil {
		s.scheduler.Schedule(receipt.ID)
	}
	return receipt, nil
}

// Settle drives one transaction to a terminal state. It is safe to invoke
// again at any point: a terminal transaction is left untouched and balances
// are never mutated twice.
//
// The PROCESSED marker commits in its own transaction first, so concurrent
// history reads may observe it. The funds re-check and the balance mutation
// then run as one atomic unit: both account rows are locked in ascending id
// order, and the debit itself re-asserts balance >= amount against the
// current row.
func (s *TransferService) Settle(ctx context.Context, transactionID int64) error {
	settled := false
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		t, err := q.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		err = transitionTransactionStatus(ctx, q, s.audit, t, domain.TxStatusProcessed, "settlement.begin")
		if errors.Is(err, errAlreadyTerminal) {
			settled = true
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("mark transaction %d processed: %w", transactionID, err)
	}
	if settled {
		return nil
	}

	outcome := ""
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		t, err := q.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if t.Status != domain.TxStatusProcessed {
			// A concurrent settlement already finished this transaction.
			return nil
		}

		cancel := func() error {
			if err := transitionTransactionStatus(ctx, q, s.audit, t, domain.TxStatusCanceled, "settlement.cancel"); err != nil {
				return err
			}
			outcome = "canceled"
			return nil
		}

		if !t.FromUserID.Valid || !t.ToUserID.Valid {
			return cancel()
		}
		fromID, toID := t.FromUserID.UUID, t.ToUserID.UUID

		// Lock both account rows in ascending id order to avoid deadlocks
		// between settlements holding the accounts in opposite roles.
		balances := map[uuid.UUID]decimal.Decimal{}
		first, second := fromID, toID
		if first.String() > second.String() {
			first, second = second, first
		}
		for _, id := range []uuid.UUID{first, second} {
			balance, err := q.GetBalanceForUpdate(ctx, id)
			if err != nil {
				if errors.Is(err, models.ErrUserNotFound) {
					return cancel()
				}
				return err
			}
			balances[id] = balance
		}

		// The authoritative funds check. It supersedes the advisory check
		// from creation.
		if balances[fromID].LessThan(t.Amount) {
			return cancel()
		}

		rows, err := q.DebitBalance(ctx, fromID, t.Amount)
		if err != nil {
			return err
		}
		if rows == 0 {
			// The locked read said the funds were there; a rejected debit
			// here means the atomic-guard contract was bypassed.
			observability.IncrementGuardRejection()
			return fmt.Errorf("balance guard rejected debit of %s for transaction %d", domain.FormatMoney(t.Amount), t.ID)
		}
		rows, err = q.CreditBalance(ctx, toID, t.Amount)
		if err != nil {
			return err
		}
		if err := requireExactlyOne(rows, "credit receiver balance"); err != nil {
			return err
		}

		if err := transitionTransactionStatus(ctx, q, s.audit, t, domain.TxStatusDone, "settlement.complete"); err != nil {
			return err
		}
		outcome = "done"
		return nil
	})
	if err != nil {
		observability.IncrementSettlement("failed")
		return fmt.Errorf("settle transaction %d: %w", transactionID, err)
	}

	switch outcome {
	case "done":
		observability.IncrementSettlement("done")
		zap.L().Info("transaction settled", zap.Int64("transaction_id", transactionID))
	case "canceled":
		observability.IncrementSettlement("canceled")
		zap.L().Warn("transaction canceled", zap.Int64("transaction_id", transactionID))
	}
	return nil
}
