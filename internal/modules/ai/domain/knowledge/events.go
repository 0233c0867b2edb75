package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

const EventTypeIngest = "knowledge_ingest"

// IngestEvent 异步入库消息体，按 ChatbotID 分区
type IngestEvent struct {
	KnowledgeID string    `json:"knowledge_id"`
	ChatbotID   string    `json:"chatbot_id"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// ContentHash 正文的 sha256，用于判断已完成的条目是否需要重新处理
func ContentHash(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}
