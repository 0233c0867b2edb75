package request

// ProcessKnowledgeRequest Async 为 true 时只入队，由消费者异步处理
type ProcessKnowledgeRequest struct {
	KnowledgeID string `json:"knowledge_id" binding:"required"`
	ChatbotID   string `json:"chatbot_id" binding:"required"`
	Async       bool   `json:"async"`
}

type BatchProcessRequest struct {
	ChatbotID    string   `json:"chatbot_id" binding:"required"`
	KnowledgeIDs []string `json:"knowledge_ids" binding:"required,min=1,max=100"`
}

type RetryFailedRequest struct {
	ChatbotID string `json:"chatbot_id" binding:"required"`
}
