package pipeline

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	"LeadPilot/internal/modules/ai/domain/knowledge"
	"LeadPilot/internal/modules/ai/domain/repository"
)

const (
	defaultTopK = 10
	maxTopK     = 50
)

// QueryEmbedder 把用户问题转成向量
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// RetrieveRequest RAG 召回的输入
type RetrieveRequest struct {
	ChatbotID string
	Query     string
	TopK      int
	MinScore  float64
}

// RetrieveResult RAG 召回的输出，Chunks 按得分降序
type RetrieveResult struct {
	QueryID     string
	Namespace   string
	Chunks      []knowledge.RetrievedChunk
	Sources     []knowledge.SourceReference
	TotalFound  int
	EmbeddingMs int64
	SearchMs    int64
	DurationMs  int64
	Err         error
}

// RetrievePipeline 基于 Eino compose.Graph 的召回流程，只依赖 VectorStore 与 QueryEmbedder
type RetrievePipeline struct {
	embedder QueryEmbedder
	vs       repository.VectorStore
	r        compose.Runnable[*RetrieveRequest, *RetrieveResult]
}

func NewRetrievePipeline(embedder QueryEmbedder, vs repository.VectorStore) (*RetrievePipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("query embedder is nil")
	}
	if vs == nil {
		return nil, fmt.Errorf("vector store is nil")
	}
	p := &RetrievePipeline{embedder: embedder, vs: vs}
	r, err := p.buildGraph(context.Background())
	if err != nil {
		return nil, err
	}
	p.r = r
	return p, nil
}

func (p *RetrievePipeline) Retrieve(ctx context.Context, req RetrieveRequest) (*RetrieveResult, error) {
	res, err := p.r.Invoke(ctx, &req)
	if err != nil {
		return nil, err
	}
	return res, res.Err
}

func normalizeTopK(k int) int {
	if k <= 0 {
		return defaultTopK
	}
	if k > maxTopK {
		return maxTopK
	}
	return k
}
