package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"LeadPilot/internal/modules/ai/domain/conversation"
	"LeadPilot/internal/modules/ai/domain/knowledge"
	"LeadPilot/internal/modules/ai/domain/repository"
)

// MemoryKnowledgeRepository 未配置 MySQL 时的进程内实现，语义与 gorm 实现一致
type MemoryKnowledgeRepository struct {
	mu    sync.RWMutex
	items map[string]*knowledge.KnowledgeItem
	now   func() time.Time
}

func NewMemoryKnowledgeRepository() *MemoryKnowledgeRepository {
	return &MemoryKnowledgeRepository{items: make(map[string]*knowledge.KnowledgeItem), now: time.Now}
}

var _ repository.KnowledgeRepository = (*MemoryKnowledgeRepository)(nil)

func (r *MemoryKnowledgeRepository) GetByID(ctx context.Context, id string) (*knowledge.KnowledgeItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	cp := *it
	return &cp, nil
}

func (r *MemoryKnowledgeRepository) Create(ctx context.Context, item *knowledge.KnowledgeItem) error {
	if item == nil || item.Id == "" {
		return fmt.Errorf("knowledge item id is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if old, ok := r.items[item.Id]; ok {
		old.Title, old.Type, old.Content, old.Status = item.Title, item.Type, item.Content, item.Status
		old.UpdatedAt = now
		return nil
	}
	cp := *item
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	r.items[cp.Id] = &cp
	return nil
}

func (r *MemoryKnowledgeRepository) Update(ctx context.Context, id string, fields map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return nil
	}
	for k, v := range fields {
		if err := applyKnowledgeField(it, k, v); err != nil {
			return err
		}
	}
	if _, ok := fields[knowledge.ColUpdatedAt]; !ok {
		it.UpdatedAt = r.now()
	}
	return nil
}

func applyKnowledgeField(it *knowledge.KnowledgeItem, col string, v any) error {
	ok := true
	switch col {
	case knowledge.ColStatus:
		it.Status, ok = v.(string)
	case knowledge.ColChunkCount:
		it.ChunkCount, ok = v.(int)
	case knowledge.ColContentHash:
		it.ContentHash, ok = v.(string)
	case knowledge.ColVectorNamespace:
		it.VectorNamespace, ok = v.(string)
	case knowledge.ColEmbeddingModel:
		it.EmbeddingModel, ok = v.(string)
	case knowledge.ColEmbeddingDim:
		it.EmbeddingDim, ok = v.(int)
	case knowledge.ColErrorMessage:
		it.ErrorMessage, ok = v.(string)
	case knowledge.ColRetryable:
		it.Retryable, ok = v.(bool)
	case knowledge.ColRetryCount:
		it.RetryCount, ok = v.(int)
	case knowledge.ColProcessedAt:
		it.ProcessedAt, ok = v.(sql.NullTime)
	case knowledge.ColUpdatedAt:
		it.UpdatedAt, ok = v.(time.Time)
	default:
		return fmt.Errorf("unknown knowledge column %q", col)
	}
	if !ok {
		return fmt.Errorf("invalid value type %T for column %q", v, col)
	}
	return nil
}

func (r *MemoryKnowledgeRepository) ListByChatbot(ctx context.Context, chatbotID string) ([]*knowledge.KnowledgeItem, error) {
	return r.list(func(it *knowledge.KnowledgeItem) bool { return it.ChatbotId == chatbotID }), nil
}

func (r *MemoryKnowledgeRepository) ListByStatus(ctx context.Context, chatbotID, status string) ([]*knowledge.KnowledgeItem, error) {
	return r.list(func(it *knowledge.KnowledgeItem) bool {
		return it.Status == status && (chatbotID == "" || it.ChatbotId == chatbotID)
	}), nil
}

func (r *MemoryKnowledgeRepository) ListStale(ctx context.Context, statuses []string, before time.Time) ([]*knowledge.KnowledgeItem, error) {
	return r.list(func(it *knowledge.KnowledgeItem) bool {
		return slices.Contains(statuses, it.Status) && !it.UpdatedAt.After(before)
	}), nil
}

func (r *MemoryKnowledgeRepository) list(match func(*knowledge.KnowledgeItem) bool) []*knowledge.KnowledgeItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*knowledge.KnowledgeItem, 0)
	for _, it := range r.items {
		if match(it) {
			cp := *it
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Id < out[j].Id
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *MemoryKnowledgeRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

func (r *MemoryKnowledgeRepository) LatestCreatedAt(ctx context.Context, chatbotID string) (time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest time.Time
	for _, it := range r.items {
		if it.ChatbotId == chatbotID && it.CreatedAt.After(latest) {
			latest = it.CreatedAt
		}
	}
	return latest, nil
}

// MemoryMessageRepository 进程内消息存储
type MemoryMessageRepository struct {
	mu   sync.RWMutex
	msgs map[string][]*conversation.Message
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{msgs: make(map[string][]*conversation.Message)}
}

var _ repository.MessageRepository = (*MemoryMessageRepository)(nil)

func (r *MemoryMessageRepository) ListRecent(ctx context.Context, conversationID string, limit int) ([]*conversation.Message, error) {
	if limit <= 0 {
		limit = 500
	}
	r.mu.RLock()
	all := append([]*conversation.Message(nil), r.msgs[conversationID]...)
	r.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (r *MemoryMessageRepository) Create(ctx context.Context, msg *conversation.Message) error {
	if msg == nil || msg.ConversationId == "" {
		return fmt.Errorf("message conversation_id is empty")
	}
	cp := *msg
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	r.mu.Lock()
	r.msgs[cp.ConversationId] = append(r.msgs[cp.ConversationId], &cp)
	r.mu.Unlock()
	return nil
}
