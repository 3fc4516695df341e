package repository

import (
	"context"

	"github.com/samrosenbaum/cracker/internal/domain"
	"gorm.io/gorm"
)

// CaseRepository handles case data operations.
type CaseRepository struct {
	db *gorm.DB
}

// NewCaseRepository creates a new CaseRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *CaseRepository: repository instance bound to db.
func NewCaseRepository(db *gorm.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

// Create inserts a new case record.
func (r *CaseRepository) Create(ctx context.Context, c *domain.Case) error {
	return r.db.WithContext(ctx).Create(c).Error
}

// GetByID retrieves a case by its ID.
func (r *CaseRepository) GetByID(ctx context.Context, id string) (*domain.Case, error) {
	var c domain.Case
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// Update updates an existing case record.
func (r *CaseRepository) Update(ctx context.Context, c *domain.Case) error {
	return r.db.WithContext(ctx).Save(c).Error
}

// List returns cases ordered by creation time, newest first.
func (r *CaseRepository) List(ctx context.Context, limit, offset int) ([]domain.Case, error) {
	var cases []domain.Case
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&cases).Error
	return cases, err
}
