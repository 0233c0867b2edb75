package request

// RAGQueryRequest RAG 召回查询请求
type RAGQueryRequest struct {
	ChatbotID string `json:"chatbot_id" binding:"required"`
	Query     string `json:"query" binding:"required"`
	TopK      int    `json:"top_k" binding:"omitempty,min=1,max=50"`
	// MinScore 不传时使用配置的默认阈值
	MinScore *float64 `json:"min_score" binding:"omitempty,min=0,max=1"`

	// IncludeContext 是否一并返回渲染好的上下文文本
	IncludeContext   bool `json:"include_context"`
	MaxContextChunks int  `json:"max_context_chunks" binding:"omitempty,min=1,max=50"`
}
