package repositories

import (
	"context"
	"fmt"
	"sync"
	"time"

	"qrhub/internal/common"
	"qrhub/internal/models"
)

// MemoryAccountRepository is an in-memory implementation of AccountRepository.
// It enforces the same username and email uniqueness as the SQL schema.
type MemoryAccountRepository struct {
	mu         sync.RWMutex
	nextID     uint
	byUsername map[string]models.Account
	emails     map[string]struct{}
}

// NewMemoryAccountRepository creates a new instance of MemoryAccountRepository.
func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{
		byUsername: make(map[string]models.Account),
		emails:     make(map[string]struct{}),
	}
}

// Create stores account, enforcing unique usernames and emails.
func (r *MemoryAccountRepository) Create(ctx context.Context, account *models.Account) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: create account: %w", common.ErrStorage, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUsername[account.Username]; ok {
		return fmt.Errorf("%w: username %s", common.ErrDuplicate, account.Username)
	}
	if _, ok := r.emails[account.Email]; ok {
		return fmt.Errorf("%w: email %s", common.ErrDuplicate, account.Email)
	}

	r.nextID++
	account.ID = r.nextID
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	r.byUsername[account.Username] = *account
	r.emails[account.Email] = struct{}{}
	return nil
}

// GetByUsername returns a copy of the stored account.
func (r *MemoryAccountRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: get account: %w", common.ErrStorage, err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.byUsername[username]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", common.ErrNotFound, username)
	}
	return &account, nil
}

// MemoryRecordRepository is an in-memory implementation of RecordRepository.
// Records are kept in insertion order, which is also ID order.
type MemoryRecordRepository struct {
	mu        sync.RWMutex
	generated []models.GeneratedRecord
	read      []models.ReadRecord
}

// NewMemoryRecordRepository creates an empty MemoryRecordRepository.
func NewMemoryRecordRepository() *MemoryRecordRepository {
	return &MemoryRecordRepository{}
}

// CreateGenerated appends record and assigns the next ID.
func (r *MemoryRecordRepository) CreateGenerated(ctx context.Context, record *models.GeneratedRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: create generated record: %w", common.ErrStorage, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	record.ID = uint(len(r.generated) + 1)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	r.generated = append(r.generated, *record)
	return nil
}

// ListGenerated returns the records generated by username, oldest first.
func (r *MemoryRecordRepository) ListGenerated(ctx context.Context, username string) ([]models.GeneratedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: list generated records: %w", common.ErrStorage, err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.GeneratedRecord
	for _, rec := range r.generated {
		if rec.Username == username {
			out = append(out, rec)
		}
	}
	return out, nil
}

// CreateRead appends record and assigns the next ID.
func (r *MemoryRecordRepository) CreateRead(ctx context.Context, record *models.ReadRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: create read record: %w", common.ErrStorage, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	record.ID = uint(len(r.read) + 1)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	stored := *record
	if record.Username != nil {
		u := *record.Username
		stored.Username = &u
	}
	r.read = append(r.read, stored)
	return nil
}

// ListRead returns the reads attributed to username.
func (r *MemoryRecordRepository) ListRead(ctx context.Context, username string) ([]models.ReadRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: list read records: %w", common.ErrStorage, err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.ReadRecord
	for _, rec := range r.read {
		if rec.Username != nil && *rec.Username == username {
			out = append(out, rec)
		}
	}
	return out, nil
}
