package service

import (
	"context"
	"fmt"

	"github.com/MaksM89/equarium/internal/repository"
)

// AuditService writes immutable audit trail entries.
type AuditService struct{}

func NewAuditService() *AuditService {
	return &AuditService{}
}

// Write stores a single immutable audit record using the caller's
// transaction scope, so the record commits or rolls back together with the
// state change it describes.
func (s *AuditService) Write(ctx context.Context, qtx repository.Querier, entityType, entityID, action, prevState, nextState string) error {
	if err := qtx.InsertAuditLog(ctx, repository.AuditLogParams{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		PrevState:  prevState,
		NextState:  nextState,
	}); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}
