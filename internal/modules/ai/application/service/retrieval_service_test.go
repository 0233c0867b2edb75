package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LeadPilot/internal/modules/ai/domain/knowledge"
	"LeadPilot/internal/modules/ai/infrastructure/cache"
	"LeadPilot/internal/modules/ai/infrastructure/embedding"
	"LeadPilot/internal/modules/ai/infrastructure/persistence"
	"LeadPilot/internal/modules/ai/infrastructure/pipeline"
	"LeadPilot/internal/modules/ai/infrastructure/vectordb"
)

type stubRetriever struct {
	res    *pipeline.RetrieveResult
	err    error
	calls  int
	last   pipeline.RetrieveRequest
	during func(call int)
}

func (s *stubRetriever) Retrieve(ctx context.Context, req pipeline.RetrieveRequest) (*pipeline.RetrieveResult, error) {
	s.calls++
	s.last = req
	if s.during != nil {
		s.during(s.calls)
	}
	return s.res, s.err
}

func TestPerformRAG_FailureDegradesToEmpty(t *testing.T) {
	r := &stubRetriever{err: errors.New("milvus down")}
	svc := NewRetrievalService(r, persistence.NewMemoryKnowledgeRepository(), nil, nil, RetrievalConfig{})

	res := svc.PerformRAG(context.Background(), "pricing", "bot1", RAGOptions{})
	require.NotNil(t, res)
	assert.Empty(t, res.Chunks)
	assert.Empty(t, res.Sources)
	assert.Equal(t, 0, res.TotalFound)
	assert.NotEmpty(t, res.QueryID)
}

func TestPerformRAG_AppliesDefaultsAndOverrides(t *testing.T) {
	r := &stubRetriever{res: &pipeline.RetrieveResult{QueryID: "rq_1"}}
	svc := NewRetrievalService(r, persistence.NewMemoryKnowledgeRepository(), nil, nil, RetrievalConfig{DefaultTopK: 7, MinScore: 0.1})

	svc.PerformRAG(context.Background(), "q", "bot1", RAGOptions{})
	assert.Equal(t, 7, r.last.TopK)
	assert.InDelta(t, 0.1, r.last.MinScore, 1e-9)

	zero := 0.0
	svc.PerformRAG(context.Background(), "q", "bot1", RAGOptions{TopK: 3, MinScore: &zero})
	assert.Equal(t, 3, r.last.TopK)
	assert.Equal(t, 0.0, r.last.MinScore)
}

func TestPerformRAG_CachesByKnowledgeVersion(t *testing.T) {
	ctx := context.Background()
	repo := persistence.NewMemoryKnowledgeRepository()
	require.NoError(t, repo.Create(ctx, &knowledge.KnowledgeItem{Id: "k1", ChatbotId: "bot1", CreatedAt: time.Unix(100, 0)}))

	r := &stubRetriever{res: &pipeline.RetrieveResult{QueryID: "rq_1", TotalFound: 1,
		Chunks: []knowledge.RetrievedChunk{{ID: "k1-chunk-0", KnowledgeID: "k1", Text: "hello", Score: 0.9}}}}
	versions := cache.NewVersionCache(time.Minute)
	svc := NewRetrievalService(r, repo, versions, cache.NewMemoryRAGCache(time.Minute), RetrievalConfig{})

	first := svc.PerformRAG(ctx, "hello", "bot1", RAGOptions{})
	assert.False(t, first.Cached)
	second := svc.PerformRAG(ctx, "hello", "bot1", RAGOptions{})
	assert.True(t, second.Cached)
	assert.Equal(t, "rq_1", second.QueryID)
	assert.Equal(t, 1, r.calls)

	// 新增条目改变版本号，缓存自然失效
	require.NoError(t, repo.Create(ctx, &knowledge.KnowledgeItem{Id: "k2", ChatbotId: "bot1", CreatedAt: time.Unix(200, 0)}))
	versions.Invalidate("bot1")
	third := svc.PerformRAG(ctx, "hello", "bot1", RAGOptions{})
	assert.False(t, third.Cached)
	assert.Equal(t, 2, r.calls)
}

func TestPerformRAG_InvalidationDuringRetrieveIsNotCached(t *testing.T) {
	ctx := context.Background()
	repo := persistence.NewMemoryKnowledgeRepository()
	results := cache.NewMemoryRAGCache(time.Minute)
	r := &stubRetriever{res: &pipeline.RetrieveResult{QueryID: "rq_1", TotalFound: 1}}
	r.during = func(call int) {
		if call == 1 {
			results.Invalidate(ctx, "bot1")
		}
	}
	svc := NewRetrievalService(r, repo, cache.NewVersionCache(time.Minute), results, RetrievalConfig{})

	first := svc.PerformRAG(ctx, "hello", "bot1", RAGOptions{})
	assert.False(t, first.Cached)
	second := svc.PerformRAG(ctx, "hello", "bot1", RAGOptions{})
	assert.False(t, second.Cached)
	assert.Equal(t, 2, r.calls)

	third := svc.PerformRAG(ctx, "hello", "bot1", RAGOptions{})
	assert.True(t, third.Cached)
	assert.Equal(t, 2, r.calls)
}

func TestPerformRAG_EndToEndNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	repo := persistence.NewMemoryKnowledgeRepository()
	vs := vectordb.NewMemoryStore()
	client := embedding.NewClient(embedding.NewMockEmbedder(32), embedding.EmbedderMeta{Model: "mock", Dim: 32}, embedding.ClientConfig{})

	for _, seed := range []struct{ bot, id, text string }{
		{"bot1", "k1", "Our premium plan costs 99 dollars per month"},
		{"bot2", "k2", "Our premium plan costs 5 dollars per month"},
	} {
		emb, err := client.EmbedTexts(ctx, []string{seed.text})
		require.NoError(t, err)
		require.NoError(t, vs.Upsert(ctx, seed.bot, []knowledge.VectorRecord{{
			ID: knowledge.ChunkVectorID(seed.id, 0), Vector: emb.Vectors[0],
			Metadata: knowledge.ChunkMetadata{KnowledgeID: seed.id, ChatbotID: seed.bot, Text: seed.text, Title: seed.id},
		}}))
	}

	rp, err := pipeline.NewRetrievePipeline(client, vs)
	require.NoError(t, err)
	svc := NewRetrievalService(rp, repo, nil, nil, RetrievalConfig{})

	res := svc.PerformRAG(ctx, "how much does the premium plan cost", "bot1", RAGOptions{})
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "k1", res.Chunks[0].KnowledgeID)
	require.Len(t, res.Sources, 1)
}

func TestBuildContextString(t *testing.T) {
	assert.Equal(t, "", BuildContextString(nil, 5))

	chunks := []knowledge.RetrievedChunk{
		{Title: "Pricing", Text: "Plans start at 10.", PageNumber: 2},
		{Title: "FAQ", Text: "We ship worldwide."},
		{Title: "Extra", Text: "ignored"},
	}
	got := BuildContextString(chunks, 2)
	assert.Equal(t, "[Source 1: Pricing, Page 2]\nPlans start at 10.\n\n[Source 2: FAQ]\nWe ship worldwide.", got)

	svc := NewRetrievalService(&stubRetriever{}, persistence.NewMemoryKnowledgeRepository(), nil, nil, RetrievalConfig{MaxContextChunks: 1})
	assert.Equal(t, "[Source 1: Pricing, Page 2]\nPlans start at 10.", svc.BuildContextString(chunks, 0))
}

func TestGetKnowledgeVersion(t *testing.T) {
	ctx := context.Background()
	repo := persistence.NewMemoryKnowledgeRepository()
	svc := NewRetrievalService(&stubRetriever{}, repo, cache.NewVersionCache(time.Minute), nil, RetrievalConfig{})

	v, err := svc.GetKnowledgeVersion(ctx, "bot1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, &knowledge.KnowledgeItem{Id: "k1", ChatbotId: "bot2", CreatedAt: created}))
	v, err = svc.GetKnowledgeVersion(ctx, "bot2")
	require.NoError(t, err)
	assert.Equal(t, created.UnixMilli(), v)
}
