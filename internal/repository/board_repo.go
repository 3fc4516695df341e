package repository

import (
	"context"

	"github.com/samrosenbaum/cracker/internal/domain"
	"gorm.io/gorm"
)

// BoardRepository handles the investigation board collections: entities,
// connections, timeline events, and alibis. They are written together by the
// analysis pipeline and read together for case snapshots, so they share one
// repository.
type BoardRepository struct {
	db *gorm.DB
}

// NewBoardRepository creates a new BoardRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *BoardRepository: repository instance bound to db.
func NewBoardRepository(db *gorm.DB) *BoardRepository {
	return &BoardRepository{db: db}
}

// CreateEntities inserts entity rows in one batch.
func (r *BoardRepository) CreateEntities(ctx context.Context, entities []domain.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&entities).Error
}

// CreateConnections inserts connection rows in one batch.
func (r *BoardRepository) CreateConnections(ctx context.Context, conns []domain.Connection) error {
	if len(conns) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&conns).Error
}

// CreateTimelineEvents inserts timeline rows in one batch.
func (r *BoardRepository) CreateTimelineEvents(ctx context.Context, events []domain.TimelineEvent) error {
	if len(events) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&events).Error
}

// CreateAlibis inserts alibi rows in one batch.
func (r *BoardRepository) CreateAlibis(ctx context.Context, alibis []domain.Alibi) error {
	if len(alibis) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&alibis).Error
}

// ListEntities returns all board entities for a case.
func (r *BoardRepository) ListEntities(ctx context.Context, caseID string) ([]domain.Entity, error) {
	var entities []domain.Entity
	err := r.db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("created_at ASC").
		Find(&entities).Error
	return entities, err
}

// ListConnections returns all connections for a case.
func (r *BoardRepository) ListConnections(ctx context.Context, caseID string) ([]domain.Connection, error) {
	var conns []domain.Connection
	err := r.db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("created_at ASC").
		Find(&conns).Error
	return conns, err
}

// ListTimelineEvents returns the case timeline ordered by occurrence where
// known, falling back to insertion order.
func (r *BoardRepository) ListTimelineEvents(ctx context.Context, caseID string) ([]domain.TimelineEvent, error) {
	var events []domain.TimelineEvent
	err := r.db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("occurred_at ASC, created_at ASC").
		Find(&events).Error
	return events, err
}

// ListAlibis returns all alibis for a case.
func (r *BoardRepository) ListAlibis(ctx context.Context, caseID string) ([]domain.Alibi, error) {
	var alibis []domain.Alibi
	err := r.db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("created_at ASC").
		Find(&alibis).Error
	return alibis, err
}

// FindEntityByName looks up an entity by case and exact name. Used to
// dedupe entities across analysis runs.
func (r *BoardRepository) FindEntityByName(ctx context.Context, caseID, name string) (*domain.Entity, error) {
	var entity domain.Entity
	if err := r.db.WithContext(ctx).
		First(&entity, "case_id = ? AND name = ?", caseID, name).Error; err != nil {
		return nil, err
	}
	return &entity, nil
}

// Snapshot loads the full authoritative case payload in one call.
func (r *BoardRepository) Snapshot(ctx context.Context, caseID string, docs []domain.Document) (*domain.CaseSnapshot, error) {
	entities, err := r.ListEntities(ctx, caseID)
	if err != nil {
		return nil, err
	}
	conns, err := r.ListConnections(ctx, caseID)
	if err != nil {
		return nil, err
	}
	events, err := r.ListTimelineEvents(ctx, caseID)
	if err != nil {
		return nil, err
	}
	alibis, err := r.ListAlibis(ctx, caseID)
	if err != nil {
		return nil, err
	}

	return &domain.CaseSnapshot{
		Documents:      docs,
		Entities:       entities,
		Connections:    conns,
		TimelineEvents: events,
		Alibis:         alibis,
	}, nil
}
