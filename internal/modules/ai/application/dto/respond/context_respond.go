package respond

import (
	"github.com/cloudwego/eino/schema"

	"LeadPilot/internal/modules/ai/domain/conversation"
	"LeadPilot/internal/modules/ai/domain/knowledge"
)

type AssembleContextRespond struct {
	Messages   []conversation.ContextMessage `json:"messages"`
	Metadata   conversation.ContextMetadata  `json:"metadata"`
	RAGContext string                        `json:"rag_context,omitempty"`
	Sources    []knowledge.SourceReference   `json:"sources,omitempty"`
	// Prompt 可直接交给 eino ChatModel 的消息序列
	Prompt []*schema.Message `json:"prompt"`
}
