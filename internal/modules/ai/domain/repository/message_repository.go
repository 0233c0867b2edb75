package repository

import (
	"context"

	"LeadPilot/internal/modules/ai/domain/conversation"
)

type MessageRepository interface {
	// ListRecent 按时间升序返回会话最近 limit 条消息
	ListRecent(ctx context.Context, conversationID string, limit int) ([]*conversation.Message, error)
	Create(ctx context.Context, msg *conversation.Message) error
}
