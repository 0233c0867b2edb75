package knowledge

import (
	"database/sql"
	"time"
)

// 知识条目处理状态
const (
	StatusPending    = "pending"
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// 知识条目类型
const (
	TypeDocument = "document"
	TypeFAQ      = "faq"
	TypeURL      = "url"
	TypeText     = "text"
)

// KnowledgeItem 租户上传的一份知识（文档、FAQ、网页、纯文本），归属于某个 chatbot
type KnowledgeItem struct {
	Id              string       `gorm:"column:id;type:varchar(64);primaryKey"`
	ChatbotId       string       `gorm:"column:chatbot_id;type:varchar(64);not null;index:idx_ai_knowledge_chatbot"`
	Title           string       `gorm:"column:title;type:varchar(255);not null"`
	Type            string       `gorm:"column:type;type:varchar(20);not null"`
	Content         string       `gorm:"column:content;type:mediumtext"`
	ContentHash     string       `gorm:"column:content_hash;type:char(64)"`
	Status          string       `gorm:"column:status;type:varchar(20);not null;default:pending;index:idx_ai_knowledge_status"`
	ChunkCount      int          `gorm:"column:chunk_count;type:int;not null;default:0"`
	VectorNamespace string       `gorm:"column:vector_namespace;type:varchar(64)"`
	EmbeddingModel  string       `gorm:"column:embedding_model;type:varchar(64)"`
	EmbeddingDim    int          `gorm:"column:embedding_dim;type:int;not null;default:0"`
	ErrorMessage    string       `gorm:"column:error_message;type:varchar(255)"`
	Retryable       bool         `gorm:"column:retryable;not null;default:false"`
	RetryCount      int          `gorm:"column:retry_count;type:int;not null;default:0"`
	ProcessedAt     sql.NullTime `gorm:"column:processed_at;type:datetime"`
	CreatedAt       time.Time    `gorm:"column:created_at;type:datetime;not null"`
	UpdatedAt       time.Time    `gorm:"column:updated_at;type:datetime;not null"`
}

func (KnowledgeItem) TableName() string { return "ai_knowledge_item" }

// 按列名更新 KnowledgeItem 时使用的字段名
const (
	ColStatus          = "status"
	ColChunkCount      = "chunk_count"
	ColContentHash     = "content_hash"
	ColVectorNamespace = "vector_namespace"
	ColEmbeddingModel  = "embedding_model"
	ColEmbeddingDim    = "embedding_dim"
	ColErrorMessage    = "error_message"
	ColRetryable       = "retryable"
	ColRetryCount      = "retry_count"
	ColProcessedAt     = "processed_at"
	ColUpdatedAt       = "updated_at"
)

// Chunk 切分产物。Content 为核心片段，相邻 Chunk 的 Content 首尾相接；
// Text 在 Content 前后拼上重叠上下文，是真正送去向量化的文本。
type Chunk struct {
	Index            int
	Text             string
	Content          string
	Start            int
	End              int
	PageNumber       int
	HasBeforeContext bool
	HasAfterContext  bool
}

// ChunkMetadata 与向量一起写入向量库的元数据
type ChunkMetadata struct {
	KnowledgeID      string `json:"knowledgeId"`
	ChatbotID        string `json:"chatbotId"`
	ChunkIndex       int    `json:"chunkIndex"`
	Text             string `json:"text"`
	Title            string `json:"title"`
	Type             string `json:"type"`
	PageNumber       int    `json:"pageNumber,omitempty"`
	ChunkSize        int    `json:"chunkSize"`
	HasBeforeContext bool   `json:"hasBeforeContext"`
	HasAfterContext  bool   `json:"hasAfterContext"`
}

type VectorRecord struct {
	ID       string
	Vector   []float32
	Metadata ChunkMetadata
}

type VectorMatch struct {
	ID       string
	Score    float32
	Metadata ChunkMetadata
}
