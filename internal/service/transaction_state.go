package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/MaksM89/equarium/internal/domain"
	"github.com/MaksM89/equarium/internal/models"
	"github.com/MaksM89/equarium/internal/repository"
)

// The lifecycle is a one-way walk: CREATED -> PROCESSED -> {DONE, CANCELED}.
var transactionTransitions = map[string]map[string]struct{}{
	domain.TxStatusCreated: {
		domain.TxStatusProcessed: {},
	},
	domain.TxStatusProcessed: {
		domain.TxStatusDone:     {},
		domain.TxStatusCanceled: {},
	},
	domain.TxStatusDone:     {},
	domain.TxStatusCanceled: {},
}

// errAlreadyTerminal marks a transition attempt on a DONE or CANCELED row.
// Settlement treats it as a no-op; anything else reaching it is a bug.
var errAlreadyTerminal = errors.New("transaction already in a terminal state")

func canTransition(current, next string) bool {
	nextStates, ok := transactionTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// transitionTransactionStatus advances t to nextStatus inside the caller's
// transaction scope. The caller must have loaded t with its row lock held
// (GetTransactionForUpdate), so concurrent settlements of the same id are
// serialized. Same-state calls are no-ops; transitions out of a terminal
// state return errAlreadyTerminal; any other illegal transition is a
// programming error and fails loudly.
func transitionTransactionStatus(ctx context.Context, qtx repository.Querier, audit *AuditService, t *models.Transaction, nextStatus, action string) error {
	current := t.Status
	if current == nextStatus {
		return nil
	}
	if domain.IsTerminalStatus(current) {
		return errAlreadyTerminal
	}
	if !canTransition(current, nextStatus) {
		return fmt.Errorf("invalid transaction state transition: %s -> %s", current, nextStatus)
	}

	rows, err := qtx.UpdateTransactionStatus(ctx, t.ID, nextStatus)
	if err != nil {
		return fmt.Errorf("update transaction state: %w", err)
	}
	if err := requireExactlyOne(rows, "update transaction state"); err != nil {
		return err
	}

	if err := audit.Write(ctx, qtx, "transaction", strconv.FormatInt(t.ID, 10), action, current, nextStatus); err != nil {
		return err
	}

	t.Status = nextStatus
	return nil
}
