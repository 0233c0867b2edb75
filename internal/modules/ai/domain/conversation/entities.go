package conversation

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// 消息投递状态，failed 或空状态的消息不会进入上下文
const (
	MessageStatusPending   = "pending"
	MessageStatusSent      = "sent"
	MessageStatusCompleted = "completed"
	MessageStatusFailed    = "failed"
)

type Message struct {
	Id             string    `gorm:"column:id;type:varchar(64);primaryKey"`
	ConversationId string    `gorm:"column:conversation_id;type:varchar(64);not null;index:idx_ai_conv_msg_conv,priority:1"`
	ChatbotId      string    `gorm:"column:chatbot_id;type:varchar(64);not null"`
	Role           string    `gorm:"column:role;type:varchar(16);not null"`
	Content        string    `gorm:"column:content;type:text"`
	Status         string    `gorm:"column:status;type:varchar(16)"`
	CreatedAt      time.Time `gorm:"column:created_at;type:datetime(3);not null;index:idx_ai_conv_msg_conv,priority:2"`
}

func (Message) TableName() string { return "ai_conversation_message" }

// Usable 是否可以进入模型上下文
func (m *Message) Usable() bool {
	if m == nil {
		return false
	}
	return m.Status != "" && m.Status != MessageStatusFailed
}

// ContextMessage 交给模型的精简消息
type ContextMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ContextMetadata struct {
	TotalTokens     int     `json:"total_tokens"`
	WasCompacted    bool    `json:"was_compacted"`
	MessagesDropped int     `json:"messages_dropped"`
	RAGTokensUsed   int     `json:"rag_tokens_used"`
	BudgetStatus    string  `json:"budget_status"`
	Strategy        string  `json:"strategy"`
	UsageRatio      float64 `json:"usage_ratio"`
	Mode            string  `json:"mode"`
}

type Context struct {
	Messages []ContextMessage `json:"messages"`
	Metadata ContextMetadata  `json:"metadata"`
}
