package domain

// Transaction lifecycle statuses. CREATED and PROCESSED are transient;
// DONE and CANCELED are terminal and never change again.
const (
	TxStatusCreated   = "CREATED"
	TxStatusProcessed = "PROCESSED"
	TxStatusDone      = "DONE"
	TxStatusCanceled  = "CANCELED"
)

// History direction labels, as seen by the account the history belongs to.
const (
	DirectionIncome  = "income"
	DirectionOutcome = "outcome"
)

// IsTerminalStatus reports whether no further transitions are permitted.
func IsTerminalStatus(status string) bool {
	return status == TxStatusDone || status == TxStatusCanceled
}

// IsValidStatus reports whether status names a known lifecycle state.
func IsValidStatus(status string) bool {
	switch status {
	case TxStatusCreated, TxStatusProcessed, TxStatusDone, TxStatusCanceled:
		return true
	}
	return false
}
