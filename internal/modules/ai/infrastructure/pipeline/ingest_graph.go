package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/cloudwego/eino/compose"
	"go.uber.org/zap"

	"LeadPilot/internal/modules/ai/domain/knowledge"
	"LeadPilot/internal/modules/ai/infrastructure/embedding"
	"LeadPilot/pkg/zlog"
)

type ingestState struct {
	Req       *IngestRequest
	Item      *knowledge.KnowledgeItem
	Namespace string
	Chunks    []knowledge.Chunk
	Embedded  *embedding.Result
	Indexed   int
	Cleanup   *knowledge.BestEffortResult
	Start     time.Time
	Err       error
}

func (p *IngestPipeline) buildGraph(ctx context.Context) (compose.Runnable[*IngestRequest, *IngestResult], error) {
	const (
		Prepare  = "Prepare"
		Chunk    = "Chunk"
		Embed    = "Embed"
		Upsert   = "Upsert"
		Finalize = "Finalize"
	)

	g := compose.NewGraph[*IngestRequest, *IngestResult]()

	_ = g.AddLambdaNode(Prepare, compose.InvokableLambdaWithOption(p.prepareNode), compose.WithNodeName(Prepare))
	_ = g.AddLambdaNode(Chunk, compose.InvokableLambdaWithOption(p.chunkNode), compose.WithNodeName(Chunk))
	_ = g.AddLambdaNode(Embed, compose.InvokableLambdaWithOption(p.embedNode), compose.WithNodeName(Embed))
	_ = g.AddLambdaNode(Upsert, compose.InvokableLambdaWithOption(p.upsertNode), compose.WithNodeName(Upsert))
	_ = g.AddLambdaNode(Finalize, compose.InvokableLambdaWithOption(p.finalizeNode), compose.WithNodeName(Finalize))

	_ = g.AddEdge(compose.START, Prepare)
	_ = g.AddEdge(Prepare, Chunk)
	_ = g.AddEdge(Chunk, Embed)
	_ = g.AddEdge(Embed, Upsert)
	_ = g.AddEdge(Upsert, Finalize)
	_ = g.AddEdge(Finalize, compose.END)

	return g.Compile(ctx, compose.WithGraphName("KnowledgeIngestPipeline"), compose.WithNodeTriggerMode(compose.AllPredecessor))
}

func (p *IngestPipeline) prepareNode(ctx context.Context, req *IngestRequest, _ ...any) (*ingestState, error) {
	st := &ingestState{Req: req, Start: time.Now()}
	if req == nil || strings.TrimSpace(req.KnowledgeID) == "" {
		st.Err = fmt.Errorf("missing knowledge_id: %w", knowledge.ErrKnowledgeNotFound)
		return st, nil
	}
	req.KnowledgeID = strings.TrimSpace(req.KnowledgeID)

	item, err := p.repo.GetByID(ctx, req.KnowledgeID)
	if err != nil {
		st.Err = fmt.Errorf("load knowledge item: %w", err)
		return st, nil
	}
	if item == nil {
		st.Err = fmt.Errorf("knowledge %s: %w", req.KnowledgeID, knowledge.ErrKnowledgeNotFound)
		return st, nil
	}
	st.Item = item

	ns, err := knowledge.NamespaceFor(item.ChatbotId)
	if err != nil {
		st.Err = err
		return st, nil
	}
	st.Namespace = ns

	if err := p.repo.Update(ctx, item.Id, map[string]any{
		knowledge.ColStatus:       knowledge.StatusProcessing,
		knowledge.ColErrorMessage: "",
	}); err != nil {
		st.Err = fmt.Errorf("mark processing: %w", err)
	}
	return st, nil
}

func (p *IngestPipeline) chunkNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st.Err != nil {
		return st, nil
	}
	if strings.TrimSpace(st.Item.Content) == "" {
		st.Err = fmt.Errorf("knowledge content is empty: %w", knowledge.ErrContent)
		return st, nil
	}
	chunks, err := p.splitter.Split(ctx, st.Item.Content)
	if err != nil {
		st.Err = fmt.Errorf("split content: %w", err)
		return st, nil
	}
	if len(chunks) == 0 {
		st.Err = fmt.Errorf("content too short to index: %w", knowledge.ErrContent)
		return st, nil
	}
	st.Chunks = chunks
	return st, nil
}

func (p *IngestPipeline) embedNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st.Err != nil {
		return st, nil
	}
	texts := make([]string, len(st.Chunks))
	for i, c := range st.Chunks {
		texts[i] = c.Text
	}

	var res *embedding.Result
	err := retry.Do(func() error {
		r, err := p.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return err
		}
		res = r
		return nil
	}, p.retryOptions(ctx, "embed", st.Item.Id)...)
	if err != nil {
		st.Err = err
		return st, nil
	}
	if len(res.Vectors) != len(st.Chunks) {
		st.Err = fmt.Errorf("embedding count mismatch: got %d want %d", len(res.Vectors), len(st.Chunks))
		return st, nil
	}
	st.Embedded = res
	return st, nil
}

func (p *IngestPipeline) upsertNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st.Err != nil {
		return st, nil
	}
	item := st.Item
	records := make([]knowledge.VectorRecord, 0, len(st.Chunks))
	for i, c := range st.Chunks {
		records = append(records, knowledge.VectorRecord{
			ID:     knowledge.ChunkVectorID(item.Id, c.Index),
			Vector: st.Embedded.Vectors[i],
			Metadata: knowledge.ChunkMetadata{
				KnowledgeID:      item.Id,
				ChatbotID:        item.ChatbotId,
				ChunkIndex:       c.Index,
				Text:             c.Text,
				Title:            item.Title,
				Type:             item.Type,
				PageNumber:       c.PageNumber,
				ChunkSize:        len([]rune(c.Text)),
				HasBeforeContext: c.HasBeforeContext,
				HasAfterContext:  c.HasAfterContext,
			},
		})
	}

	err := retry.Do(func() error {
		return p.vs.Upsert(ctx, st.Namespace, records)
	}, p.retryOptions(ctx, "upsert", item.Id)...)
	if err != nil {
		st.Err = err
		return st, nil
	}
	st.Indexed = len(records)

	// 条目变短时，旧的尾部向量不会被覆盖，需要单独删掉
	if prev := item.ChunkCount; prev > len(st.Chunks) {
		stale := knowledge.ChunkVectorIDs(item.Id, len(st.Chunks), prev)
		st.Cleanup = &knowledge.BestEffortResult{Action: "delete_stale_vectors", Attempted: true, Affected: len(stale)}
		if err := p.vs.Delete(ctx, st.Namespace, stale); err != nil {
			st.Cleanup.Error = err.Error()
			zlog.Warn("ai ingest stale vector cleanup failed",
				zap.String("knowledge_id", item.Id), zap.Int("stale", len(stale)), zap.Error(err))
		} else {
			st.Cleanup.Succeeded = true
		}
	}
	return st, nil
}

func (p *IngestPipeline) finalizeNode(ctx context.Context, st *ingestState, _ ...any) (*IngestResult, error) {
	res := &IngestResult{
		ChunksCreated:  len(st.Chunks),
		VectorsIndexed: st.Indexed,
		StaleCleanup:   st.Cleanup,
		Found:          st.Item != nil,
	}
	if st.Req != nil {
		res.KnowledgeID = st.Req.KnowledgeID
	}
	if st.Item != nil {
		res.ChatbotID = st.Item.ChatbotId
	}

	if st.Err == nil {
		now := time.Now()
		fields := map[string]any{
			knowledge.ColStatus:          knowledge.StatusCompleted,
			knowledge.ColChunkCount:      len(st.Chunks),
			knowledge.ColContentHash:     knowledge.ContentHash(st.Item.Content),
			knowledge.ColVectorNamespace: st.Namespace,
			knowledge.ColEmbeddingModel:  st.Embedded.Model,
			knowledge.ColEmbeddingDim:    st.Embedded.Dim,
			knowledge.ColErrorMessage:    "",
			knowledge.ColRetryable:       false,
			knowledge.ColRetryCount:      0,
			knowledge.ColProcessedAt:     sql.NullTime{Time: now, Valid: true},
		}
		if err := p.repo.Update(ctx, st.Item.Id, fields); err != nil {
			// 向量已写入而元数据未更新：下次重处理会按相同 id 覆盖
			st.Err = fmt.Errorf("update knowledge metadata: %w", err)
		} else {
			res.EmbeddingModel = st.Embedded.Model
		}
	}

	if st.Err != nil && st.Item != nil {
		p.markFailed(ctx, st.Item, st.Err)
	}

	res.DurationMs = time.Since(st.Start).Milliseconds()
	if st.Err != nil {
		zlog.Warn("ai ingest failed",
			zap.String("knowledge_id", res.KnowledgeID),
			zap.String("chatbot_id", res.ChatbotID),
			zap.Bool("retryable", knowledge.IsRetryable(st.Err)),
			zap.Int64("ms", res.DurationMs),
			zap.Error(st.Err))
		res.Err = st.Err
		return res, nil
	}
	zlog.Info("ai ingest done",
		zap.String("knowledge_id", res.KnowledgeID),
		zap.String("chatbot_id", res.ChatbotID),
		zap.Int("chunks", res.ChunksCreated),
		zap.Int("vectors", res.VectorsIndexed),
		zap.Int64("ms", res.DurationMs))
	return res, nil
}

func (p *IngestPipeline) markFailed(ctx context.Context, item *knowledge.KnowledgeItem, cause error) {
	err := p.repo.Update(ctx, item.Id, map[string]any{
		knowledge.ColStatus:       knowledge.StatusFailed,
		knowledge.ColErrorMessage: scrubErrMsg(cause.Error()),
		knowledge.ColRetryable:    knowledge.IsRetryable(cause),
		knowledge.ColRetryCount:   item.RetryCount + 1,
	})
	if err != nil {
		zlog.Error("ai ingest mark failed error", zap.String("knowledge_id", item.Id), zap.Error(err))
	}
}

func (p *IngestPipeline) retryOptions(ctx context.Context, op, knowledgeID string) []retry.Option {
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(uint(p.cfg.MaxAttempts)),
		retry.Delay(p.cfg.RetryDelay),
		retry.MaxDelay(p.cfg.RetryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(knowledge.IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			zlog.Warn("ai ingest retry",
				zap.String("op", op),
				zap.String("knowledge_id", knowledgeID),
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
	}
}

// scrubErrMsg 去掉可能带出的密钥，截断到列宽
func scrubErrMsg(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	low := strings.ToLower(s)
	if strings.Contains(low, "api_key") || strings.Contains(low, "apikey") || strings.Contains(low, "secret") || strings.Contains(s, "sk-") {
		return "redacted"
	}
	if r := []rune(s); len(r) > 255 {
		return string(r[:255])
	}
	return s
}
