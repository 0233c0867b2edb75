package persistence

import (
	"context"

	"gorm.io/gorm"

	"LeadPilot/internal/modules/ai/domain/conversation"
	"LeadPilot/internal/modules/ai/domain/repository"
)

type messageRepositoryImpl struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) repository.MessageRepository {
	return &messageRepositoryImpl{db: db}
}

func (r *messageRepositoryImpl) ListRecent(ctx context.Context, conversationID string, limit int) ([]*conversation.Message, error) {
	if limit <= 0 {
		limit = 500
	}
	var msgs []*conversation.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	// 查询按时间倒序取最近 N 条，返回前翻转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *messageRepositoryImpl) Create(ctx context.Context, msg *conversation.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}
