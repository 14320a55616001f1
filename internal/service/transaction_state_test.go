package service

import (
	"context"
	"testing"

	"github.com/MaksM89/equarium/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		current string
		next    string
		ok      bool
	}{
		{domain.TxStatusCreated, domain.TxStatusProcessed, true},
		{domain.TxStatusProcessed, domain.TxStatusDone, true},
		{domain.TxStatusProcessed, domain.TxStatusCanceled, true},
		{domain.TxStatusCreated, domain.TxStatusDone, false},
		{domain.TxStatusCreated, domain.TxStatusCanceled, false},
		{domain.TxStatusDone, domain.TxStatusCanceled, false},
		{domain.TxStatusCanceled, domain.TxStatusDone, false},
		{domain.TxStatusDone, domain.TxStatusProcessed, false},
		{"UNKNOWN", domain.TxStatusDone, false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.current+"_to_"+tc.next, func(t *testing.T) {
			assert.Equal(t, tc.ok, canTransition(tc.current, tc.next))
		})
	}
}

func TestTransitionTransactionStatus(t *testing.T) {
	store := newFakeStore()
	audit := NewAuditService()
	ctx := context.Background()

	alice := seedUser(t, store, "alice", "100.00")
	bob := seedUser(t, store, "bob", "0.00")
	receipt, err := store.InsertTransaction(ctx, alice, bob, mustDecimal(t, "10.00"))
	require.NoError(t, err)

	tx, err := store.GetTransactionForUpdate(ctx, receipt.ID)
	require.NoError(t, err)

	// Same-state call is a silent no-op with no audit record.
	require.NoError(t, transitionTransactionStatus(ctx, store, audit, tx, domain.TxStatusCreated, "noop"))
	assert.Empty(t, store.auditLog)

	require.NoError(t, transitionTransactionStatus(ctx, store, audit, tx, domain.TxStatusProcessed, "settlement.begin"))
	assert.Equal(t, domain.TxStatusProcessed, tx.Status)
	require.Len(t, store.auditLog, 1)

	// Skipping PROCESSED is a programming error.
	tx2, err := store.GetTransactionForUpdate(ctx, receipt.ID)
	require.NoError(t, err)
	tx2.Status = domain.TxStatusCreated
	err = transitionTransactionStatus(ctx, store, audit, tx2, domain.TxStatusDone, "bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errAlreadyTerminal)

	require.NoError(t, transitionTransactionStatus(ctx, store, audit, tx, domain.TxStatusDone, "settlement.complete"))

	// Terminal rows refuse all further transitions.
	err = transitionTransactionStatus(ctx, store, audit, tx, domain.TxStatusCanceled, "late")
	assert.ErrorIs(t, err, errAlreadyTerminal)
}
