package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LeadPilot/internal/modules/ai/domain/knowledge"
	"LeadPilot/internal/modules/ai/infrastructure/vectordb"
)

type staticQueryEmbedder struct {
	vec []float32
	err error
}

func (s staticQueryEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return s.vec, s.err
}

func seedVectors(t *testing.T, vs *vectordb.MemoryStore, ns string, recs ...knowledge.VectorRecord) {
	t.Helper()
	require.NoError(t, vs.Upsert(context.Background(), ns, recs))
}

func vrec(id, kid string, vec ...float32) knowledge.VectorRecord {
	return knowledge.VectorRecord{ID: id, Vector: vec, Metadata: knowledge.ChunkMetadata{KnowledgeID: kid, Title: kid + " title", Text: id}}
}

func TestRetrieve_FiltersSortsAndDedupsSources(t *testing.T) {
	vs := vectordb.NewMemoryStore()
	seedVectors(t, vs, "bot1",
		vrec("a-chunk-0", "a", 1, 0),
		vrec("a-chunk-1", "a", 1, 0.2),
		vrec("b-chunk-0", "b", 1, 1),
		vrec("c-chunk-0", "c", 0, 1),
	)
	seedVectors(t, vs, "bot2", vrec("x-chunk-0", "x", 1, 0))

	p, err := NewRetrievePipeline(staticQueryEmbedder{vec: []float32{1, 0}}, vs)
	require.NoError(t, err)

	res, err := p.Retrieve(context.Background(), RetrieveRequest{ChatbotID: "bot1", Query: "pricing", TopK: 10, MinScore: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 4, res.TotalFound)
	require.Len(t, res.Chunks, 3)
	assert.Equal(t, "a-chunk-0", res.Chunks[0].ID)
	for i := 1; i < len(res.Chunks); i++ {
		assert.GreaterOrEqual(t, res.Chunks[i-1].Score, res.Chunks[i].Score)
	}
	require.Len(t, res.Sources, 2)
	assert.Equal(t, "a", res.Sources[0].KnowledgeID)
	assert.Equal(t, "b", res.Sources[1].KnowledgeID)
	assert.NotEmpty(t, res.QueryID)
}

func TestRetrieve_Errors(t *testing.T) {
	vs := vectordb.NewMemoryStore()
	p, err := NewRetrievePipeline(staticQueryEmbedder{err: errors.New("boom")}, vs)
	require.NoError(t, err)

	_, err = p.Retrieve(context.Background(), RetrieveRequest{ChatbotID: "bot1", Query: "hi"})
	assert.Error(t, err)

	_, err = p.Retrieve(context.Background(), RetrieveRequest{ChatbotID: "", Query: "hi"})
	assert.ErrorIs(t, err, knowledge.ErrEmptyNamespace)

	_, err = p.Retrieve(context.Background(), RetrieveRequest{ChatbotID: "bot1", Query: "  "})
	assert.Error(t, err)
}

func TestNormalizeTopK(t *testing.T) {
	assert.Equal(t, defaultTopK, normalizeTopK(0))
	assert.Equal(t, 3, normalizeTopK(3))
	assert.Equal(t, maxTopK, normalizeTopK(500))
}
