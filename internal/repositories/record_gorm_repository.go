package repositories

import (
	"context"

	"gorm.io/gorm"

	"qrhub/internal/models"
)

// GORMRecordRepository is a GORM implementation of RecordRepository.
type GORMRecordRepository struct {
	db *gorm.DB
}

// NewGORMRecordRepository creates a new GORMRecordRepository.
func NewGORMRecordRepository(db *gorm.DB) *GORMRecordRepository {
	return &GORMRecordRepository{db: db}
}

// CreateGenerated inserts record and sets its ID.
func (r *GORMRecordRepository) CreateGenerated(ctx context.Context, record *models.GeneratedRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return mapError("create generated record", err)
	}
	return nil
}

// ListGenerated returns the records generated by username, oldest first.
func (r *GORMRecordRepository) ListGenerated(ctx context.Context, username string) ([]models.GeneratedRecord, error) {
	var records []models.GeneratedRecord
	err := r.db.WithContext(ctx).
		Where("username = ?", username).
		Order("id").
		Find(&records).Error
	if err != nil {
		return nil, mapError("list generated records", err)
	}
	return records, nil
}

// CreateRead inserts record and sets its ID.
func (r *GORMRecordRepository) CreateRead(ctx context.Context, record *models.ReadRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return mapError("create read record", err)
	}
	return nil
}

// ListRead returns the reads attributed to username. Anonymous reads are
// never listed.
func (r *GORMRecordRepository) ListRead(ctx context.Context, username string) ([]models.ReadRecord, error) {
	var records []models.ReadRecord
	err := r.db.WithContext(ctx).
		Where("username = ?", username).
		Order("id").
		Find(&records).Error
	if err != nil {
		return nil, mapError("list read records", err)
	}
	return records, nil
}
