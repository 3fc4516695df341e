package repository

import (
	"context"

	"github.com/samrosenbaum/cracker/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentRepository handles evidence document data operations.
type DocumentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository creates a new DocumentRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *DocumentRepository: repository instance bound to db.
func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts a new document record.
func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

// Upsert creates or updates a document record keyed by content hash, so
// re-uploading the same file refreshes metadata instead of duplicating rows.
func (r *DocumentRepository) Upsert(ctx context.Context, doc *domain.Document) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sha256"}},
		UpdateAll: true,
	}).Create(doc).Error
}

// Update updates an existing document record.
func (r *DocumentRepository) Update(ctx context.Context, doc *domain.Document) error {
	return r.db.WithContext(ctx).Save(doc).Error
}

// GetByID retrieves a document by its ID.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	var doc domain.Document
	if err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// ExistsBySHA256 checks whether a document with the given content hash exists.
func (r *DocumentRepository) ExistsBySHA256(ctx context.Context, hash string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Document{}).
		Where("sha256 = ?", hash).
		Count(&count).Error
	return count > 0, err
}

// ListByCase returns all documents attached to a case.
func (r *DocumentRepository) ListByCase(ctx context.Context, caseID string) ([]domain.Document, error) {
	var docs []domain.Document
	err := r.db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("created_at ASC").
		Find(&docs).Error
	return docs, err
}

// ListByStatus returns documents in the given state, oldest first, bounded
// by limit. Used by the extraction retry path.
func (r *DocumentRepository) ListByStatus(ctx context.Context, status domain.DocumentStatus, limit int) ([]domain.Document, error) {
	var docs []domain.Document
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&docs).Error
	return docs, err
}

// CountByCase returns the number of documents attached to a case.
func (r *DocumentRepository) CountByCase(ctx context.Context, caseID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Document{}).
		Where("case_id = ?", caseID).
		Count(&count).Error
	return count, err
}
