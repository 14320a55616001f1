package service

import (
	"context"
	"fmt"
	"time"

	"github.com/MaksM89/equarium/internal/observability"
	"go.uber.org/zap"
)

// IntegrityService verifies the ledger invariants that settlement is
// supposed to preserve: no committed balance ever drops below zero, and
// PROCESSED is only ever a transient marker.
type IntegrityService struct {
	store       QueryStore
	staleWindow time.Duration
}

// NewIntegrityService creates an integrity checker. staleWindow is how long
// a transaction may sit in PROCESSED before it counts as stuck.
func NewIntegrityService(store QueryStore, staleWindow time.Duration) *IntegrityService {
	if staleWindow <= 0 {
		staleWindow = time.Minute
	}
	return &IntegrityService{store: store, staleWindow: staleWindow}
}

// Run performs one sweep. A negative balance means the atomic debit guard
// was bypassed somewhere; stuck settlements mean the worker lost track of a
// transaction (the settlement sweep should eventually retire them).
func (s *IntegrityService) Run(ctx context.Context) error {
	queries := s.store.Queries()

	negative, err := queries.CountNegativeBalances(ctx)
	if err != nil {
		return fmt.Errorf("count negative balances: %w", err)
	}
	if negative > 0 {
		observability.IncrementIntegrityViolation("negative_balance")
		zap.L().Error("CRITICAL: negative balances detected", zap.Int64("count", negative))
	}

	cutoff := time.Now().Add(-s.staleWindow)
	stuck, err := queries.CountStuckSettlements(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("count stuck settlements: %w", err)
	}
	if stuck > 0 {
		observability.IncrementIntegrityViolation("stuck_settlement")
		zap.L().Warn("transactions stuck in PROCESSED", zap.Int64("count", stuck), zap.Duration("older_than", s.staleWindow))
	}

	if negative == 0 && stuck == 0 {
		zap.L().Info("ledger invariants hold")
	}
	return nil
}
