package repository

import (
	"context"
	"time"

	"LeadPilot/internal/modules/ai/domain/knowledge"
)

// KnowledgeRepository 知识条目元数据存储
type KnowledgeRepository interface {
	// GetByID 不存在时返回 nil, nil
	GetByID(ctx context.Context, id string) (*knowledge.KnowledgeItem, error)
	Create(ctx context.Context, item *knowledge.KnowledgeItem) error
	// Update 按列名局部更新
	Update(ctx context.Context, id string, fields map[string]any) error
	ListByChatbot(ctx context.Context, chatbotID string) ([]*knowledge.KnowledgeItem, error)
	ListByStatus(ctx context.Context, chatbotID, status string) ([]*knowledge.KnowledgeItem, error)
	// ListStale 状态属于 statuses 且 updated_at 不晚于 before 的条目
	ListStale(ctx context.Context, statuses []string, before time.Time) ([]*knowledge.KnowledgeItem, error)
	Delete(ctx context.Context, id string) error
	// LatestCreatedAt 该 chatbot 最近一次新增条目的时间，没有条目时返回零值
	LatestCreatedAt(ctx context.Context, chatbotID string) (time.Time, error)
}
