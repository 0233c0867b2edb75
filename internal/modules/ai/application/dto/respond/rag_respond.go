package respond

import "LeadPilot/internal/modules/ai/domain/knowledge"

// RAGQueryRespond RAG 召回查询响应，未命中时 Chunks 为空数组
type RAGQueryRespond struct {
	*knowledge.RAGResult
	Context string `json:"context,omitempty"`
}
