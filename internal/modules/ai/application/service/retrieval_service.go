package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"LeadPilot/internal/modules/ai/domain/knowledge"
	"LeadPilot/internal/modules/ai/domain/repository"
	"LeadPilot/internal/modules/ai/infrastructure/cache"
	"LeadPilot/internal/modules/ai/infrastructure/pipeline"
	"LeadPilot/pkg/util"
	"LeadPilot/pkg/zlog"
)

// RetrievalService 对话链路上的 RAG 召回。召回失败只记日志，返回空结果
type RetrievalService interface {
	PerformRAG(ctx context.Context, query, chatbotID string, opts RAGOptions) *knowledge.RAGResult
	// BuildContextString 渲染前 maxChunks 个片段，maxChunks<=0 时使用配置值
	BuildContextString(chunks []knowledge.RetrievedChunk, maxChunks int) string
	// GetKnowledgeVersion 最近一次新增知识条目的时间戳（毫秒），没有条目时为 0
	GetKnowledgeVersion(ctx context.Context, chatbotID string) (int64, error)
}

// RAGOptions 为零值的字段使用默认配置
type RAGOptions struct {
	TopK     int
	MinScore *float64
}

// Retriever 由 pipeline.RetrievePipeline 实现
type Retriever interface {
	Retrieve(ctx context.Context, req pipeline.RetrieveRequest) (*pipeline.RetrieveResult, error)
}

type RetrievalConfig struct {
	DefaultTopK      int
	MinScore         float64
	MaxContextChunks int
	Timeout          time.Duration
}

type retrievalService struct {
	retriever Retriever
	repo      repository.KnowledgeRepository
	versions  *cache.VersionCache
	results   repository.RAGResultCache
	cfg       RetrievalConfig
}

func NewRetrievalService(retriever Retriever, repo repository.KnowledgeRepository, versions *cache.VersionCache, results repository.RAGResultCache, cfg RetrievalConfig) RetrievalService {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 10
	}
	if cfg.MaxContextChunks <= 0 {
		cfg.MaxContextChunks = 5
	}
	return &retrievalService{retriever: retriever, repo: repo, versions: versions, results: results, cfg: cfg}
}

func (s *retrievalService) PerformRAG(ctx context.Context, query, chatbotID string, opts RAGOptions) *knowledge.RAGResult {
	start := time.Now()
	topK := opts.TopK
	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}
	minScore := s.cfg.MinScore
	if opts.MinScore != nil {
		minScore = *opts.MinScore
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	// 版本号取不到时照常召回，只是不走缓存
	version, verErr := s.GetKnowledgeVersion(ctx, chatbotID)
	useCache := s.results != nil && verErr == nil
	fp := cache.Fingerprint(query, version, topK, minScore)
	// 代数必须在召回之前读取，召回期间的失效会让本次结果写到已作废的代数下
	var gen int64
	if useCache {
		var genErr error
		gen, genErr = s.results.Generation(ctx, chatbotID)
		useCache = genErr == nil
	}
	if useCache {
		if hit, ok := s.results.Load(ctx, chatbotID, gen, fp); ok {
			hit.Cached = true
			hit.LatencyMs = time.Since(start).Milliseconds()
			return hit
		}
	}

	res, err := s.retriever.Retrieve(ctx, pipeline.RetrieveRequest{
		ChatbotID: chatbotID,
		Query:     query,
		TopK:      topK,
		MinScore:  minScore,
	})
	if err != nil {
		err = fmt.Errorf("%w: %w", knowledge.ErrRetrieval, err)
		zlog.Warn("ai rag degraded to empty result",
			zap.String("chatbot_id", chatbotID),
			zap.Int("top_k", topK),
			zap.Error(err))
		return knowledge.EmptyRAGResult(util.GenerateID("rq"), time.Since(start).Milliseconds())
	}

	out := &knowledge.RAGResult{
		QueryID:    res.QueryID,
		Chunks:     res.Chunks,
		Sources:    res.Sources,
		TotalFound: res.TotalFound,
		LatencyMs:  time.Since(start).Milliseconds(),
	}
	if useCache {
		s.results.Store(ctx, chatbotID, gen, fp, out)
	}
	return out
}

func (s *retrievalService) BuildContextString(chunks []knowledge.RetrievedChunk, maxChunks int) string {
	if maxChunks <= 0 {
		maxChunks = s.cfg.MaxContextChunks
	}
	return BuildContextString(chunks, maxChunks)
}

// BuildContextString 每个片段渲染为 "[Source k: title, Page p]\ntext"，片段之间空一行
func BuildContextString(chunks []knowledge.RetrievedChunk, maxChunks int) string {
	if len(chunks) == 0 || maxChunks <= 0 {
		return ""
	}
	if len(chunks) > maxChunks {
		chunks = chunks[:maxChunks]
	}
	parts := make([]string, 0, len(chunks))
	for i, c := range chunks {
		var b strings.Builder
		b.WriteString("[Source ")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(": ")
		b.WriteString(c.Title)
		if c.PageNumber > 0 {
			b.WriteString(", Page ")
			b.WriteString(strconv.Itoa(c.PageNumber))
		}
		b.WriteString("]\n")
		b.WriteString(c.Text)
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n\n")
}

func (s *retrievalService) GetKnowledgeVersion(ctx context.Context, chatbotID string) (int64, error) {
	load := func(ctx context.Context) (int64, error) {
		t, err := s.repo.LatestCreatedAt(ctx, chatbotID)
		if err != nil {
			return 0, err
		}
		if t.IsZero() {
			return 0, nil
		}
		return t.UnixMilli(), nil
	}
	if s.versions == nil {
		return load(ctx)
	}
	return s.versions.GetOrLoad(ctx, chatbotID, load)
}
