package request

// AssembleContextRequest RAGContext 为空且 Query 非空时，先做一次召回再组装
type AssembleContextRequest struct {
	ChatbotID      string `json:"chatbot_id" binding:"required"`
	ConversationID string `json:"conversation_id" binding:"required"`
	Query          string `json:"query"`
	RAGContext     string `json:"rag_context"`
	SystemPrompt   string `json:"system_prompt"`
}
