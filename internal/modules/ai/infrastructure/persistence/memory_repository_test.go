package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LeadPilot/internal/modules/ai/domain/conversation"
	"LeadPilot/internal/modules/ai/domain/knowledge"
)

func TestMemoryKnowledgeRepository_CreateUpdateList(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryKnowledgeRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, r.Create(ctx, &knowledge.KnowledgeItem{Id: "k2", ChatbotId: "bot", Status: knowledge.StatusPending, CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, r.Create(ctx, &knowledge.KnowledgeItem{Id: "k1", ChatbotId: "bot", Status: knowledge.StatusPending, CreatedAt: base}))
	require.NoError(t, r.Create(ctx, &knowledge.KnowledgeItem{Id: "x", ChatbotId: "other", Status: knowledge.StatusPending, CreatedAt: base}))

	require.NoError(t, r.Update(ctx, "k1", map[string]any{
		knowledge.ColStatus:      knowledge.StatusCompleted,
		knowledge.ColChunkCount:  3,
		knowledge.ColProcessedAt: sql.NullTime{Time: base, Valid: true},
	}))

	it, err := r.GetByID(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, knowledge.StatusCompleted, it.Status)
	assert.Equal(t, 3, it.ChunkCount)
	assert.True(t, it.ProcessedAt.Valid)

	items, err := r.ListByChatbot(ctx, "bot")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "k1", items[0].Id)

	pending, err := r.ListByStatus(ctx, "", knowledge.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	latest, err := r.LatestCreatedAt(ctx, "bot")
	require.NoError(t, err)
	assert.True(t, latest.Equal(base.Add(time.Minute)))

	missing, err := r.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryKnowledgeRepository_ListStale(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryKnowledgeRepository()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	for id, status := range map[string]string{"q": knowledge.StatusQueued, "p": knowledge.StatusProcessing, "f": knowledge.StatusFailed} {
		require.NoError(t, r.Create(ctx, &knowledge.KnowledgeItem{Id: id, ChatbotId: "bot", Status: status}))
	}
	now = now.Add(time.Hour)
	require.NoError(t, r.Create(ctx, &knowledge.KnowledgeItem{Id: "q2", ChatbotId: "bot", Status: knowledge.StatusQueued}))

	stale, err := r.ListStale(ctx, []string{knowledge.StatusQueued, knowledge.StatusProcessing}, now.Add(-30*time.Minute))
	require.NoError(t, err)
	ids := make([]string, 0, len(stale))
	for _, it := range stale {
		ids = append(ids, it.Id)
	}
	assert.ElementsMatch(t, []string{"q", "p"}, ids)

	none, err := r.ListStale(ctx, nil, now)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryKnowledgeRepository_RejectsBadField(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryKnowledgeRepository()
	require.NoError(t, r.Create(ctx, &knowledge.KnowledgeItem{Id: "k", ChatbotId: "bot"}))

	assert.Error(t, r.Update(ctx, "k", map[string]any{"bogus": 1}))
	assert.Error(t, r.Update(ctx, "k", map[string]any{knowledge.ColChunkCount: "3"}))
}

func TestMemoryMessageRepository_ListRecentAscending(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryMessageRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Create(ctx, &conversation.Message{
			Id: string(rune('a' + i)), ConversationId: "c", CreatedAt: base.Add(time.Duration(4-i) * time.Second),
		}))
	}

	msgs, err := r.ListRecent(ctx, "c", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	// 最新的三条按时间升序：c(2s) b(3s) a(4s)
	assert.Equal(t, []string{"c", "b", "a"}, []string{msgs[0].Id, msgs[1].Id, msgs[2].Id})
}
