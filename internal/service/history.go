package service

import (
	"context"
	"fmt"
	"time"

	"github.com/MaksM89/equarium/internal/domain"
	"github.com/MaksM89/equarium/internal/models"
	"github.com/MaksM89/equarium/internal/repository"
	"github.com/google/uuid"
)

// HistoryService answers the merged, signed, filtered, paginated view of a
// user's transaction history. It is read-only and tolerates observing
// transactions mid-settlement.
type HistoryService struct {
	store    QueryStore
	pageSize int32
}

// NewHistoryService builds the service around a fixed page size. The page
// size is captured at construction so query results stay reproducible.
func NewHistoryService(store QueryStore, pageSize int32) *HistoryService {
	if pageSize < 1 {
		pageSize = 20
	}
	return &HistoryService{
		store:    store,
		pageSize: pageSize,
	}
}

// PageCount returns ceil(total / page size) over every transaction the user
// participates in, independent of any history filter.
func (s *HistoryService) PageCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	total, err := s.store.Queries().CountTransactionsForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	pageSize := int64(s.pageSize)
	return (total + pageSize - 1) / pageSize, nil
}

// HistoryQuery carries the page selector and the optional filters. Date
// bounds are inclusive; Status must name a known lifecycle state.
type HistoryQuery struct {
	Page    int
	DtStart *time.Time
	DtEnd   *time.Time
	Status  *string
}

// History returns one page of the user's money movement, newest first.
// Rows where the user is the sender carry a negative amount and the
// "outcome" direction; rows where the user is the receiver are positive
// "income" rows.
func (s *HistoryService) History(ctx context.Context, userID uuid.UUID, query HistoryQuery) ([]models.HistoryEntry, error) {
	page := query.Page
	if page < 1 {
		page = 1
	}
	if query.Status != nil && !domain.IsValidStatus(*query.Status) {
		return nil, fmt.Errorf("unknown transaction status %q", *query.Status)
	}

	return s.store.Queries().ListHistory(ctx, repository.HistoryParams{
		UserID:  userID,
		DtStart: query.DtStart,
		DtEnd:   query.DtEnd,
		Status:  query.Status,
		Limit:   s.pageSize,
		Offset:  int32(page-1) * s.pageSize,
	})
}
