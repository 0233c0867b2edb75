package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"LeadPilot/internal/modules/ai/domain/knowledge"
	"LeadPilot/internal/modules/ai/domain/repository"
	"LeadPilot/internal/modules/ai/infrastructure/cache"
	"LeadPilot/internal/modules/ai/infrastructure/pipeline"
	"LeadPilot/pkg/zlog"
)

// IngestionService 知识入库编排：处理、批处理、删除、失败重试
type IngestionService interface {
	ProcessKnowledge(ctx context.Context, knowledgeID string) *knowledge.ProcessResult
	ProcessBatch(ctx context.Context, knowledgeIDs []string) *knowledge.BatchResult
	// DeleteKnowledgeVectors 按存量 chunk 数重建向量 id 并删除，返回删除的 id 数
	DeleteKnowledgeVectors(ctx context.Context, knowledgeID string) (int, error)
	DeleteChatbotVectors(ctx context.Context, chatbotID string) error
	// DeleteKnowledge 先删元数据，再尽力清理向量；向量清理失败不影响返回的 error
	DeleteKnowledge(ctx context.Context, knowledgeID string) (*knowledge.BestEffortResult, error)
	RetryFailed(ctx context.Context, chatbotID string) (*knowledge.BatchResult, error)
	// RecoverStale 重新驱动停留在 queued/processing 超过 staleAfter 的条目
	RecoverStale(ctx context.Context, staleAfter time.Duration) (*knowledge.BatchResult, error)
	// ChatbotOf 知识条目所属的 chatbot，用于接口层鉴权
	ChatbotOf(ctx context.Context, knowledgeID string) (string, error)
}

// Ingester 由 pipeline.IngestPipeline 实现
type Ingester interface {
	Ingest(ctx context.Context, req pipeline.IngestRequest) (*pipeline.IngestResult, error)
}

type IngestionOptions struct {
	BatchDelay time.Duration
	// MaxRetries 失败条目自动重试的上限，达到后不再重试
	MaxRetries int
}

type ingestionService struct {
	repo     repository.KnowledgeRepository
	vs       repository.VectorStore
	ingester Ingester
	versions *cache.VersionCache
	results  repository.RAGResultCache
	opts     IngestionOptions
}

// NewIngestionService versions 与 results 可以为 nil
func NewIngestionService(repo repository.KnowledgeRepository, vs repository.VectorStore, ingester Ingester, versions *cache.VersionCache, results repository.RAGResultCache, opts IngestionOptions) IngestionService {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BatchDelay < 0 {
		opts.BatchDelay = 0
	}
	return &ingestionService{repo: repo, vs: vs, ingester: ingester, versions: versions, results: results, opts: opts}
}

func (s *ingestionService) ProcessKnowledge(ctx context.Context, knowledgeID string) *knowledge.ProcessResult {
	start := time.Now()
	id := strings.TrimSpace(knowledgeID)
	out := &knowledge.ProcessResult{KnowledgeID: id}

	res, err := s.ingester.Ingest(ctx, pipeline.IngestRequest{KnowledgeID: id})
	if res != nil {
		out.ChatbotID = res.ChatbotID
		out.ChunksCreated = res.ChunksCreated
		out.VectorsIndexed = res.VectorsIndexed
	}
	out.ExecutionTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		out.Error = err.Error()
		out.Retryable = knowledge.IsRetryable(err)
		return out
	}
	out.Success = true
	s.invalidate(ctx, out.ChatbotID)
	return out
}

func (s *ingestionService) ProcessBatch(ctx context.Context, knowledgeIDs []string) *knowledge.BatchResult {
	start := time.Now()
	out := &knowledge.BatchResult{Total: len(knowledgeIDs), Results: make([]knowledge.ProcessResult, 0, len(knowledgeIDs))}

	for i, id := range knowledgeIDs {
		if i > 0 && s.opts.BatchDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.opts.BatchDelay):
			}
		}
		var r *knowledge.ProcessResult
		if err := ctx.Err(); err != nil {
			r = &knowledge.ProcessResult{KnowledgeID: id, Error: err.Error(), Retryable: true}
		} else {
			r = s.ProcessKnowledge(ctx, id)
		}
		if r.Success {
			out.Succeeded++
		} else {
			out.Failed++
		}
		out.Results = append(out.Results, *r)
	}

	out.ExecutionTimeMs = time.Since(start).Milliseconds()
	zlog.Info("ai ingest batch done",
		zap.Int("total", out.Total),
		zap.Int("succeeded", out.Succeeded),
		zap.Int("failed", out.Failed),
		zap.Int64("ms", out.ExecutionTimeMs))
	return out
}

func (s *ingestionService) DeleteKnowledgeVectors(ctx context.Context, knowledgeID string) (int, error) {
	item, err := s.load(ctx, knowledgeID)
	if err != nil {
		return 0, err
	}
	ns, err := knowledge.NamespaceFor(item.ChatbotId)
	if err != nil {
		return 0, err
	}
	ids := knowledge.ChunkVectorIDs(item.Id, 0, item.ChunkCount)
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.vs.Delete(ctx, ns, ids); err != nil {
		return 0, err
	}
	s.invalidate(ctx, item.ChatbotId)
	zlog.Info("ai knowledge vectors deleted", zap.String("knowledge_id", item.Id), zap.String("namespace", ns), zap.Int("vectors", len(ids)))
	return len(ids), nil
}

func (s *ingestionService) DeleteChatbotVectors(ctx context.Context, chatbotID string) error {
	ns, err := knowledge.NamespaceFor(chatbotID)
	if err != nil {
		return err
	}
	if err := s.vs.DeleteNamespace(ctx, ns); err != nil {
		return err
	}
	s.invalidate(ctx, ns)
	zlog.Info("ai chatbot vectors deleted", zap.String("namespace", ns))
	return nil
}

func (s *ingestionService) DeleteKnowledge(ctx context.Context, knowledgeID string) (*knowledge.BestEffortResult, error) {
	item, err := s.load(ctx, knowledgeID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Delete(ctx, item.Id); err != nil {
		return nil, fmt.Errorf("delete knowledge metadata: %w", err)
	}

	ids := knowledge.ChunkVectorIDs(item.Id, 0, item.ChunkCount)
	cleanup := &knowledge.BestEffortResult{Action: "delete_knowledge_vectors", Affected: len(ids)}
	if len(ids) > 0 {
		cleanup.Attempted = true
		ns, err := knowledge.NamespaceFor(item.ChatbotId)
		if err == nil {
			err = s.vs.Delete(ctx, ns, ids)
		}
		if err != nil {
			cleanup.Error = err.Error()
			zlog.Warn("ai knowledge vector cleanup failed", zap.String("knowledge_id", item.Id), zap.Int("vectors", len(ids)), zap.Error(err))
		} else {
			cleanup.Succeeded = true
		}
	}
	s.invalidate(ctx, item.ChatbotId)
	return cleanup, nil
}

func (s *ingestionService) RetryFailed(ctx context.Context, chatbotID string) (*knowledge.BatchResult, error) {
	items, err := s.repo.ListByStatus(ctx, strings.TrimSpace(chatbotID), knowledge.StatusFailed)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	skipped := 0
	for _, it := range items {
		if !it.Retryable || it.RetryCount >= s.opts.MaxRetries {
			skipped++
			continue
		}
		ids = append(ids, it.Id)
	}
	out := s.ProcessBatch(ctx, ids)
	out.Skipped = skipped
	return out, nil
}

// RecoverStale 投递丢失、消费失败或进程崩溃都会让条目停在 queued/processing。
// 每次重新驱动计一次重试，达到上限的条目改为 failed，之后 RetryFailed 也不再处理。
func (s *ingestionService) RecoverStale(ctx context.Context, staleAfter time.Duration) (*knowledge.BatchResult, error) {
	items, err := s.repo.ListStale(ctx, []string{knowledge.StatusQueued, knowledge.StatusProcessing}, time.Now().Add(-staleAfter))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	skipped := 0
	for _, it := range items {
		if it.RetryCount >= s.opts.MaxRetries {
			skipped++
			if err := s.repo.Update(ctx, it.Id, map[string]any{
				knowledge.ColStatus:       knowledge.StatusFailed,
				knowledge.ColErrorMessage: "ingest stalled, retry limit reached",
				knowledge.ColRetryable:    false,
			}); err != nil {
				zlog.Warn("ai stale knowledge mark failed error", zap.String("knowledge_id", it.Id), zap.Error(err))
			}
			continue
		}
		if err := s.repo.Update(ctx, it.Id, map[string]any{knowledge.ColRetryCount: it.RetryCount + 1}); err != nil {
			return nil, err
		}
		zlog.Info("ai stale knowledge redriven",
			zap.String("knowledge_id", it.Id),
			zap.String("status", it.Status),
			zap.Time("updated_at", it.UpdatedAt))
		ids = append(ids, it.Id)
	}
	out := s.ProcessBatch(ctx, ids)
	out.Skipped = skipped
	return out, nil
}

func (s *ingestionService) ChatbotOf(ctx context.Context, knowledgeID string) (string, error) {
	item, err := s.load(ctx, knowledgeID)
	if err != nil {
		return "", err
	}
	return item.ChatbotId, nil
}

func (s *ingestionService) load(ctx context.Context, knowledgeID string) (*knowledge.KnowledgeItem, error) {
	id := strings.TrimSpace(knowledgeID)
	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("knowledge %s: %w", id, knowledge.ErrKnowledgeNotFound)
	}
	return item, nil
}

// invalidate 知识库变化后让版本号与检索结果缓存失效
func (s *ingestionService) invalidate(ctx context.Context, chatbotID string) {
	if chatbotID == "" {
		return
	}
	if s.versions != nil {
		s.versions.Invalidate(chatbotID)
	}
	if s.results != nil {
		s.results.Invalidate(ctx, chatbotID)
	}
}
