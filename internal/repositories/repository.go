package repositories

import (
	"context"

	"qrhub/internal/models"
)

// AccountRepository defines the interface for account data access.
// Create must report a taken username or email as common.ErrDuplicate;
// uniqueness is decided by the store alone.
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByUsername(ctx context.Context, username string) (*models.Account, error)
}

// RecordRepository defines the interface for generated and read QR content.
// List methods return records oldest first.
type RecordRepository interface {
	CreateGenerated(ctx context.Context, record *models.GeneratedRecord) error
	ListGenerated(ctx context.Context, username string) ([]models.GeneratedRecord, error)
	CreateRead(ctx context.Context, record *models.ReadRecord) error
	ListRead(ctx context.Context, username string) ([]models.ReadRecord, error)
}
