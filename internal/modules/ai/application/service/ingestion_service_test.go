package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LeadPilot/internal/modules/ai/domain/knowledge"
	"LeadPilot/internal/modules/ai/infrastructure/cache"
	"LeadPilot/internal/modules/ai/infrastructure/chunking"
	"LeadPilot/internal/modules/ai/infrastructure/embedding"
	"LeadPilot/internal/modules/ai/infrastructure/mq"
	"LeadPilot/internal/modules/ai/infrastructure/persistence"
	"LeadPilot/internal/modules/ai/infrastructure/pipeline"
	"LeadPilot/internal/modules/ai/infrastructure/queue"
	"LeadPilot/internal/modules/ai/infrastructure/vectordb"
)

// recordingStore 记录删除调用，可注入删除失败
type recordingStore struct {
	*vectordb.MemoryStore
	deleted   []string
	deleteErr error
}

func (r *recordingStore) Delete(ctx context.Context, namespace string, ids []string) error {
	r.deleted = append(r.deleted, ids...)
	if r.deleteErr != nil {
		return r.deleteErr
	}
	return r.MemoryStore.Delete(ctx, namespace, ids)
}

// flakyEmbedder 对包含 marker 的文本返回给定错误，其余走 mock 向量
type flakyEmbedder struct {
	inner  *embedding.Client
	marker string
	err    error
}

func (f *flakyEmbedder) EmbedTexts(ctx context.Context, texts []string) (*embedding.Result, error) {
	for _, t := range texts {
		if f.marker != "" && strings.Contains(t, f.marker) {
			return nil, f.err
		}
	}
	return f.inner.EmbedTexts(ctx, texts)
}

type ingestionFixture struct {
	repo    *persistence.MemoryKnowledgeRepository
	store   *recordingStore
	emb     *flakyEmbedder
	results *cache.MemoryRAGCache
	svc     IngestionService
}

func newIngestionFixture(t *testing.T) *ingestionFixture {
	t.Helper()
	f := &ingestionFixture{
		repo:    persistence.NewMemoryKnowledgeRepository(),
		store:   &recordingStore{MemoryStore: vectordb.NewMemoryStore()},
		results: cache.NewMemoryRAGCache(time.Minute),
	}
	client := embedding.NewClient(embedding.NewMockEmbedder(16), embedding.EmbedderMeta{Provider: "mock", Model: "mock-16", Dim: 16}, embedding.ClientConfig{BatchSize: 5})
	f.emb = &flakyEmbedder{inner: client}

	chunker := chunking.NewChunker(chunking.Config{ChunkSize: 200, Overlap: 20, AfterContext: 10, MinContentLength: 100})
	p, err := pipeline.NewIngestPipeline(f.repo, f.store, chunker, f.emb, pipeline.IngestConfig{MaxAttempts: 2, RetryDelay: time.Millisecond, RetryMaxDelay: time.Millisecond})
	require.NoError(t, err)

	f.svc = NewIngestionService(f.repo, f.store, p, cache.NewVersionCache(time.Minute), f.results, IngestionOptions{MaxRetries: 3})
	return f
}

func (f *ingestionFixture) seed(t *testing.T, id, chatbotID, content string) {
	t.Helper()
	require.NoError(t, f.repo.Create(context.Background(), &knowledge.KnowledgeItem{
		Id: id, ChatbotId: chatbotID, Title: id, Type: knowledge.TypeDocument, Content: content, Status: knowledge.StatusPending,
	}))
}

func longText(topic string, sentences int) string {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&b, "The %s plan number %d includes onboarding and support. ", topic, i)
	}
	return b.String()
}

func TestProcessKnowledge_Success(t *testing.T) {
	f := newIngestionFixture(t)
	f.seed(t, "k1", "bot1", longText("pricing", 12))

	res := f.svc.ProcessKnowledge(context.Background(), "k1")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "bot1", res.ChatbotID)
	assert.Greater(t, res.ChunksCreated, 1)
	assert.Equal(t, res.ChunksCreated, res.VectorsIndexed)
	assert.Equal(t, res.ChunksCreated, f.store.Count("bot1"))
}

func TestProcessKnowledge_ShortDocumentFails(t *testing.T) {
	f := newIngestionFixture(t)
	f.seed(t, "k1", "bot1", strings.Repeat("x", 50))

	res := f.svc.ProcessKnowledge(context.Background(), "k1")
	assert.False(t, res.Success)
	assert.False(t, res.Retryable)
	assert.Equal(t, 0, res.ChunksCreated)
	assert.NotEmpty(t, res.Error)

	it, err := f.repo.GetByID(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, knowledge.StatusFailed, it.Status)
	assert.Equal(t, 0, it.ChunkCount)
}

func TestProcessKnowledge_InvalidatesResultCache(t *testing.T) {
	ctx := context.Background()
	f := newIngestionFixture(t)
	f.seed(t, "k1", "bot1", longText("pricing", 6))
	gen, err := f.results.Generation(ctx, "bot1")
	require.NoError(t, err)
	f.results.Store(ctx, "bot1", gen, "fp", &knowledge.RAGResult{QueryID: "old"})

	require.True(t, f.svc.ProcessKnowledge(ctx, "k1").Success)
	next, err := f.results.Generation(ctx, "bot1")
	require.NoError(t, err)
	assert.Greater(t, next, gen)
	_, ok := f.results.Load(ctx, "bot1", next, "fp")
	assert.False(t, ok)
}

func TestProcessBatch_ContinuesPastFailures(t *testing.T) {
	f := newIngestionFixture(t)
	f.seed(t, "k1", "bot1", longText("alpha", 6))
	f.seed(t, "k2", "bot1", "too short")
	f.seed(t, "k3", "bot1", longText("gamma", 6))

	out := f.svc.ProcessBatch(context.Background(), []string{"k1", "k2", "missing", "k3"})
	assert.Equal(t, 4, out.Total)
	assert.Equal(t, 2, out.Succeeded)
	assert.Equal(t, 2, out.Failed)
	require.Len(t, out.Results, 4)
	assert.True(t, out.Results[0].Success)
	assert.False(t, out.Results[1].Success)
	assert.False(t, out.Results[2].Success)
	assert.True(t, out.Results[3].Success)
}

func TestDeleteKnowledgeVectors_UsesDeterministicIDs(t *testing.T) {
	ctx := context.Background()
	f := newIngestionFixture(t)
	require.NoError(t, f.repo.Create(ctx, &knowledge.KnowledgeItem{Id: "doc", ChatbotId: "bot1", Status: knowledge.StatusCompleted}))
	require.NoError(t, f.repo.Update(ctx, "doc", map[string]any{knowledge.ColChunkCount: 7}))

	n, err := f.svc.DeleteKnowledgeVectors(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, []string{
		"doc-chunk-0", "doc-chunk-1", "doc-chunk-2", "doc-chunk-3", "doc-chunk-4", "doc-chunk-5", "doc-chunk-6",
	}, f.store.deleted)
}

func TestDeleteKnowledgeVectors_NotFound(t *testing.T) {
	f := newIngestionFixture(t)
	_, err := f.svc.DeleteKnowledgeVectors(context.Background(), "ghost")
	assert.ErrorIs(t, err, knowledge.ErrKnowledgeNotFound)
}

func TestDeleteKnowledge_VectorFailureDoesNotBlockMetadata(t *testing.T) {
	ctx := context.Background()
	f := newIngestionFixture(t)
	f.seed(t, "k1", "bot1", longText("pricing", 6))
	require.True(t, f.svc.ProcessKnowledge(ctx, "k1").Success)
	f.store.deleteErr = errors.New("milvus unavailable")

	cleanup, err := f.svc.DeleteKnowledge(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, cleanup.Attempted)
	assert.False(t, cleanup.Succeeded)
	assert.Contains(t, cleanup.Error, "milvus unavailable")

	it, err := f.repo.GetByID(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, it)
}

func TestDeleteKnowledge_RemovesVectors(t *testing.T) {
	ctx := context.Background()
	f := newIngestionFixture(t)
	f.seed(t, "k1", "bot1", longText("pricing", 6))
	f.seed(t, "k2", "bot1", longText("refunds", 6))
	require.True(t, f.svc.ProcessKnowledge(ctx, "k1").Success)
	require.True(t, f.svc.ProcessKnowledge(ctx, "k2").Success)
	before := f.store.Count("bot1")

	cleanup, err := f.svc.DeleteKnowledge(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, cleanup.Succeeded)
	assert.Equal(t, before-cleanup.Affected, f.store.Count("bot1"))
	for _, id := range f.store.IDs("bot1") {
		assert.True(t, strings.HasPrefix(id, "k2-chunk-"))
	}
}

func TestDeleteChatbotVectors(t *testing.T) {
	ctx := context.Background()
	f := newIngestionFixture(t)
	f.seed(t, "a", "bot1", longText("alpha", 6))
	f.seed(t, "b", "bot2", longText("beta", 6))
	require.True(t, f.svc.ProcessKnowledge(ctx, "a").Success)
	require.True(t, f.svc.ProcessKnowledge(ctx, "b").Success)

	require.NoError(t, f.svc.DeleteChatbotVectors(ctx, "bot1"))
	assert.Equal(t, 0, f.store.Count("bot1"))
	assert.Greater(t, f.store.Count("bot2"), 0)

	assert.ErrorIs(t, f.svc.DeleteChatbotVectors(ctx, ""), knowledge.ErrEmptyNamespace)
}

func TestRetryFailed_OnlyRetryableUnderCeiling(t *testing.T) {
	ctx := context.Background()
	f := newIngestionFixture(t)
	f.seed(t, "flaky", "bot1", longText("flaky", 6))
	f.seed(t, "bad", "bot1", "short")
	f.seed(t, "exhausted", "bot1", longText("exhausted", 6))

	f.emb.marker = "flaky"
	f.emb.err = &knowledge.EmbeddingError{Kind: knowledge.ErrEmbeddingConnection, Err: errors.New("reset")}
	assert.False(t, f.svc.ProcessKnowledge(ctx, "flaky").Success)
	assert.False(t, f.svc.ProcessKnowledge(ctx, "bad").Success)
	require.NoError(t, f.repo.Update(ctx, "exhausted", map[string]any{
		knowledge.ColStatus:     knowledge.StatusFailed,
		knowledge.ColRetryable:  true,
		knowledge.ColRetryCount: 3,
	}))

	f.emb.marker = ""
	out, err := f.svc.RetryFailed(ctx, "bot1")
	require.NoError(t, err)
	assert.Equal(t, 1, out.Total)
	assert.Equal(t, 1, out.Succeeded)
	assert.Equal(t, 2, out.Skipped)

	it, _ := f.repo.GetByID(ctx, "flaky")
	assert.Equal(t, knowledge.StatusCompleted, it.Status)
}

func TestRecoverStale_RedrivesStuckItemsUnderCeiling(t *testing.T) {
	ctx := context.Background()
	f := newIngestionFixture(t)
	f.seed(t, "queued", "bot1", longText("queued", 6))
	f.seed(t, "crashed", "bot1", longText("crashed", 6))
	f.seed(t, "exhausted", "bot1", longText("exhausted", 6))
	f.seed(t, "fresh", "bot1", longText("fresh", 6))

	old := time.Now().Add(-time.Hour)
	for id, fields := range map[string]map[string]any{
		"queued":    {knowledge.ColStatus: knowledge.StatusQueued, knowledge.ColUpdatedAt: old},
		"crashed":   {knowledge.ColStatus: knowledge.StatusProcessing, knowledge.ColRetryCount: 1, knowledge.ColUpdatedAt: old},
		"exhausted": {knowledge.ColStatus: knowledge.StatusProcessing, knowledge.ColRetryCount: 3, knowledge.ColUpdatedAt: old},
		"fresh":     {knowledge.ColStatus: knowledge.StatusQueued},
	} {
		require.NoError(t, f.repo.Update(ctx, id, fields))
	}

	out, err := f.svc.RecoverStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Total)
	assert.Equal(t, 2, out.Succeeded)
	assert.Equal(t, 1, out.Skipped)

	for _, id := range []string{"queued", "crashed"} {
		it, _ := f.repo.GetByID(ctx, id)
		assert.Equal(t, knowledge.StatusCompleted, it.Status, id)
		assert.Equal(t, 0, it.RetryCount, id)
	}
	it, _ := f.repo.GetByID(ctx, "exhausted")
	assert.Equal(t, knowledge.StatusFailed, it.Status)
	assert.False(t, it.Retryable)
	it, _ = f.repo.GetByID(ctx, "fresh")
	assert.Equal(t, knowledge.StatusQueued, it.Status)
}

// getFailsOnceRepo 第一次 GetByID 返回错误，之后恢复
type getFailsOnceRepo struct {
	*persistence.MemoryKnowledgeRepository
	calls atomic.Int32
}

func (r *getFailsOnceRepo) GetByID(ctx context.Context, id string) (*knowledge.KnowledgeItem, error) {
	if r.calls.Add(1) == 1 {
		return nil, errors.New("db down")
	}
	return r.MemoryKnowledgeRepository.GetByID(ctx, id)
}

func TestRetrySweeper_RecoversEventDroppedByConsumer(t *testing.T) {
	ctx := context.Background()
	f := newIngestionFixture(t)
	f.seed(t, "k1", "bot1", longText("pricing", 6))

	q := mq.NewInProc(4)
	require.NoError(t, NewAsyncIngestService(f.repo, q, "ingest").EnqueueKnowledge(ctx, "k1", "bot1"))

	flaky := &getFailsOnceRepo{MemoryKnowledgeRepository: f.repo}
	workerCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = queue.NewIngestConsumerWorker(q, flaky, f.svc, 3).Run(workerCtx)
	}()
	assert.Eventually(t, func() bool { return flaky.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-stopped

	it, _ := f.repo.GetByID(ctx, "k1")
	require.Equal(t, knowledge.StatusQueued, it.Status)

	require.NoError(t, f.repo.Update(ctx, "k1", map[string]any{knowledge.ColUpdatedAt: time.Now().Add(-time.Hour)}))
	res, err := queue.NewRetrySweeper(f.svc, time.Hour, 15*time.Minute).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)

	it, _ = f.repo.GetByID(ctx, "k1")
	assert.Equal(t, knowledge.StatusCompleted, it.Status)
	assert.Equal(t, 0, it.RetryCount)
}
