package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"LeadPilot/internal/modules/ai/domain/knowledge"
	"LeadPilot/internal/modules/ai/domain/repository"
)

type knowledgeRepositoryImpl struct {
	db *gorm.DB
}

func NewKnowledgeRepository(db *gorm.DB) repository.KnowledgeRepository {
	return &knowledgeRepositoryImpl{db: db}
}

func (r *knowledgeRepositoryImpl) GetByID(ctx context.Context, id string) (*knowledge.KnowledgeItem, error) {
	var it knowledge.KnowledgeItem
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&it).Error
	if err == nil {
		return &it, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

// Create 同 id 重复提交时覆盖内容并重置为 pending
func (r *knowledgeRepositoryImpl) Create(ctx context.Context, item *knowledge.KnowledgeItem) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "type", "content", "status", "updated_at"}),
	}).Create(item).Error
}

func (r *knowledgeRepositoryImpl) Update(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	if _, ok := fields[knowledge.ColUpdatedAt]; !ok {
		fields[knowledge.ColUpdatedAt] = time.Now()
	}
	return r.db.WithContext(ctx).
		Model(&knowledge.KnowledgeItem{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *knowledgeRepositoryImpl) ListByChatbot(ctx context.Context, chatbotID string) ([]*knowledge.KnowledgeItem, error) {
	var items []*knowledge.KnowledgeItem
	err := r.db.WithContext(ctx).
		Where("chatbot_id = ?", chatbotID).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

func (r *knowledgeRepositoryImpl) ListByStatus(ctx context.Context, chatbotID, status string) ([]*knowledge.KnowledgeItem, error) {
	var items []*knowledge.KnowledgeItem
	q := r.db.WithContext(ctx).Where("status = ?", status)
	if chatbotID != "" {
		q = q.Where("chatbot_id = ?", chatbotID)
	}
	err := q.Order("created_at ASC").Find(&items).Error
	return items, err
}

func (r *knowledgeRepositoryImpl) ListStale(ctx context.Context, statuses []string, before time.Time) ([]*knowledge.KnowledgeItem, error) {
	var items []*knowledge.KnowledgeItem
	if len(statuses) == 0 {
		return items, nil
	}
	err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Where("updated_at <= ?", before).
		Order("updated_at ASC").
		Find(&items).Error
	return items, err
}

func (r *knowledgeRepositoryImpl) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&knowledge.KnowledgeItem{}).Error
}

func (r *knowledgeRepositoryImpl) LatestCreatedAt(ctx context.Context, chatbotID string) (time.Time, error) {
	var latest sql.NullTime
	err := r.db.WithContext(ctx).
		Model(&knowledge.KnowledgeItem{}).
		Select("MAX(created_at)").
		Where("chatbot_id = ?", chatbotID).
		Row().Scan(&latest)
	if err != nil {
		return time.Time{}, err
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return latest.Time, nil
}
