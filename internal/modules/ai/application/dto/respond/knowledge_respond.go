package respond

import "LeadPilot/internal/modules/ai/domain/knowledge"

type ProcessKnowledgeRespond struct {
	KnowledgeID string                   `json:"knowledge_id"`
	Queued      bool                     `json:"queued"`
	Result      *knowledge.ProcessResult `json:"result,omitempty"`
}

type DeleteVectorsRespond struct {
	KnowledgeID    string `json:"knowledge_id,omitempty"`
	ChatbotID      string `json:"chatbot_id,omitempty"`
	VectorsDeleted int    `json:"vectors_deleted"`
}

type DeleteKnowledgeRespond struct {
	KnowledgeID string                      `json:"knowledge_id"`
	Cleanup     *knowledge.BestEffortResult `json:"cleanup"`
}

type KnowledgeVersionRespond struct {
	ChatbotID string `json:"chatbot_id"`
	Version   int64  `json:"version"`
}
