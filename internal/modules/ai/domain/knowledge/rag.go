package knowledge

// RetrievedChunk 一条通过阈值过滤的检索结果
type RetrievedChunk struct {
	ID          string  `json:"id"`
	KnowledgeID string  `json:"knowledge_id"`
	Title       string  `json:"title"`
	Type        string  `json:"type"`
	Text        string  `json:"text"`
	Score       float32 `json:"score"`
	ChunkIndex  int     `json:"chunk_index"`
	PageNumber  int     `json:"page_number,omitempty"`
}

// SourceReference 去重后的来源，每个知识条目只出现一次
type SourceReference struct {
	KnowledgeID string  `json:"knowledge_id"`
	Title       string  `json:"title"`
	Type        string  `json:"type"`
	Score       float32 `json:"score"`
}

type RAGResult struct {
	QueryID    string            `json:"query_id"`
	Chunks     []RetrievedChunk  `json:"chunks"`
	Sources    []SourceReference `json:"sources"`
	TotalFound int               `json:"total_found"`
	LatencyMs  int64             `json:"latency_ms"`
	Cached     bool              `json:"cached"`
}

// EmptyRAGResult 检索失败或无结果时的返回值
func EmptyRAGResult(queryID string, latencyMs int64) *RAGResult {
	return &RAGResult{
		QueryID:   queryID,
		Chunks:    []RetrievedChunk{},
		Sources:   []SourceReference{},
		LatencyMs: latencyMs,
	}
}

// BestEffortResult 主操作提交后的补偿动作结果，失败只记录不回滚
type BestEffortResult struct {
	Action    string `json:"action"`
	Attempted bool   `json:"attempted"`
	Succeeded bool   `json:"succeeded"`
	Affected  int    `json:"affected"`
	Error     string `json:"error,omitempty"`
}

// ProcessResult 单个知识条目的处理结果。处理失败不返回 error，由调用方检查 Success
type ProcessResult struct {
	KnowledgeID     string `json:"knowledge_id"`
	ChatbotID       string `json:"chatbot_id,omitempty"`
	ChunksCreated   int    `json:"chunks_created"`
	VectorsIndexed  int    `json:"vectors_indexed"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	Success         bool   `json:"success"`
	Error           string `json:"error,omitempty"`
	Retryable       bool   `json:"retryable"`
}

type BatchResult struct {
	Total           int             `json:"total"`
	Succeeded       int             `json:"succeeded"`
	Failed          int             `json:"failed"`
	Skipped         int             `json:"skipped"`
	Results         []ProcessResult `json:"results"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
}
