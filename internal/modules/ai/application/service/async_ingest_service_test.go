package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"LeadPilot/internal/modules/ai/domain/knowledge"
	"LeadPilot/internal/modules/ai/infrastructure/mq"
	"LeadPilot/internal/modules/ai/infrastructure/persistence"
	"LeadPilot/pkg/xerr"
	"LeadPilot/pkg/zlog"
)

// failMarkRepo 把条目改成 failed 的更新会失败
type failMarkRepo struct {
	*persistence.MemoryKnowledgeRepository
}

func (r failMarkRepo) Update(ctx context.Context, id string, fields map[string]any) error {
	if fields[knowledge.ColStatus] == knowledge.StatusFailed {
		return errors.New("db down")
	}
	return r.MemoryKnowledgeRepository.Update(ctx, id, fields)
}

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	prev := zlog.L()
	zlog.Replace(zap.New(core))
	t.Cleanup(func() { zlog.Replace(prev) })
	return logs
}

func seedItem(t *testing.T, repo *persistence.MemoryKnowledgeRepository, id, chatbotID string) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), &knowledge.KnowledgeItem{
		Id: id, ChatbotId: chatbotID, Content: "body", Status: knowledge.StatusPending,
	}))
}

func closedQueue() *mq.InProc {
	q := mq.NewInProc(1)
	_ = q.Close()
	return q
}

func TestEnqueueKnowledge_PublishesAndMarksQueued(t *testing.T) {
	ctx := context.Background()
	repo := persistence.NewMemoryKnowledgeRepository()
	seedItem(t, repo, "k1", "bot1")
	q := mq.NewInProc(1)
	got := make(chan mq.Message, 1)
	go func() {
		_ = q.Run(ctx, mq.HandlerFunc(func(ctx context.Context, m mq.Message) error {
			got <- m
			return q.Close()
		}))
	}()

	require.NoError(t, NewAsyncIngestService(repo, q, "ingest").EnqueueKnowledge(ctx, " k1 ", "bot1"))

	it, _ := repo.GetByID(ctx, "k1")
	assert.Equal(t, knowledge.StatusQueued, it.Status)
	m := <-got
	assert.Equal(t, "ingest", m.Topic)
	assert.Equal(t, []byte("bot1"), m.Key)
	var ev knowledge.IngestEvent
	require.NoError(t, json.Unmarshal(m.Value, &ev))
	assert.Equal(t, "k1", ev.KnowledgeID)
}

func TestEnqueueKnowledge_RejectsForeignChatbot(t *testing.T) {
	repo := persistence.NewMemoryKnowledgeRepository()
	seedItem(t, repo, "k1", "bot1")

	err := NewAsyncIngestService(repo, mq.NewInProc(1), "ingest").EnqueueKnowledge(context.Background(), "k1", "bot2")
	var ce *xerr.CodeError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, xerr.BadRequest, ce.Code)
}

func TestEnqueueKnowledge_PublishFailureMarksRetryable(t *testing.T) {
	ctx := context.Background()
	repo := persistence.NewMemoryKnowledgeRepository()
	seedItem(t, repo, "k1", "bot1")

	err := NewAsyncIngestService(repo, closedQueue(), "ingest").EnqueueKnowledge(ctx, "k1", "bot1")
	var ce *xerr.CodeError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, xerr.ServiceUnavailable, ce.Code)
	assert.ErrorIs(t, err, mq.ErrClosed)

	it, _ := repo.GetByID(ctx, "k1")
	assert.Equal(t, knowledge.StatusFailed, it.Status)
	assert.True(t, it.Retryable)
}

func TestEnqueueKnowledge_LogsFailedStatusWriteBack(t *testing.T) {
	ctx := context.Background()
	logs := observeLogs(t)
	mem := persistence.NewMemoryKnowledgeRepository()
	seedItem(t, mem, "k1", "bot1")

	err := NewAsyncIngestService(failMarkRepo{mem}, closedQueue(), "ingest").EnqueueKnowledge(ctx, "k1", "bot1")
	var ce *xerr.CodeError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, xerr.ServiceUnavailable, ce.Code)

	entries := logs.FilterMessage("ai knowledge enqueue mark failed error").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "k1", entries[0].ContextMap()["knowledge_id"])

	it, _ := mem.GetByID(ctx, "k1")
	assert.Equal(t, knowledge.StatusQueued, it.Status)
}
