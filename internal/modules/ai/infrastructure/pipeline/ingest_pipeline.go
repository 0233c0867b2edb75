package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/compose"

	"LeadPilot/internal/modules/ai/domain/knowledge"
	"LeadPilot/internal/modules/ai/domain/repository"
	"LeadPilot/internal/modules/ai/infrastructure/embedding"
)

// Splitter 把正文切分为带上下文的片段
type Splitter interface {
	Split(ctx context.Context, text string) ([]knowledge.Chunk, error)
}

// TextEmbedder 批量向量化，错误需归类为 knowledge.EmbeddingError
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) (*embedding.Result, error)
}

type IngestConfig struct {
	// MaxAttempts 单次处理内向量化与写入的最大尝试次数
	MaxAttempts   int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
}

func DefaultIngestConfig() IngestConfig {
	return IngestConfig{MaxAttempts: 3, RetryDelay: time.Second, RetryMaxDelay: 10 * time.Second}
}

type IngestRequest struct {
	KnowledgeID string
}

// IngestResult 无论成功失败都会返回
type IngestResult struct {
	KnowledgeID    string
	ChatbotID      string
	ChunksCreated  int
	VectorsIndexed int
	EmbeddingModel string
	// StaleCleanup 条目变短后清理多余旧向量的结果
	StaleCleanup *knowledge.BestEffortResult
	// Found 条目是否存在
	Found      bool
	DurationMs int64
	// Err 处理失败的原因，保留原始错误链以便判断是否可重试
	Err error
}

// IngestPipeline 单个知识条目的处理流程：加载 → 切分 → 向量化 → 写入向量库 → 回写状态
type IngestPipeline struct {
	repo     repository.KnowledgeRepository
	vs       repository.VectorStore
	splitter Splitter
	embedder TextEmbedder
	cfg      IngestConfig

	r compose.Runnable[*IngestRequest, *IngestResult]
}

func NewIngestPipeline(repo repository.KnowledgeRepository, vs repository.VectorStore, splitter Splitter, embedder TextEmbedder, cfg IngestConfig) (*IngestPipeline, error) {
	if repo == nil {
		return nil, fmt.Errorf("knowledge repository is nil")
	}
	if vs == nil {
		return nil, fmt.Errorf("vector store is nil")
	}
	if splitter == nil {
		return nil, fmt.Errorf("splitter is nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	p := &IngestPipeline{repo: repo, vs: vs, splitter: splitter, embedder: embedder, cfg: cfg}
	r, err := p.buildGraph(context.Background())
	if err != nil {
		return nil, err
	}
	p.r = r
	return p, nil
}

// Ingest 返回的 error 与 IngestResult.Err 一致；图本身执行失败时 result 为 nil
func (p *IngestPipeline) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	res, err := p.r.Invoke(ctx, &req)
	if err != nil {
		return nil, err
	}
	return res, res.Err
}
