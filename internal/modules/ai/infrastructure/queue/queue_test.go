package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LeadPilot/internal/modules/ai/domain/knowledge"
	"LeadPilot/internal/modules/ai/infrastructure/mq"
	"LeadPilot/internal/modules/ai/infrastructure/persistence"
)

type fakeProcessor struct {
	ids []string
}

func (f *fakeProcessor) ProcessKnowledge(ctx context.Context, id string) *knowledge.ProcessResult {
	f.ids = append(f.ids, id)
	return &knowledge.ProcessResult{KnowledgeID: id, Success: true}
}

type errRepo struct {
	*persistence.MemoryKnowledgeRepository
}

func (errRepo) GetByID(ctx context.Context, id string) (*knowledge.KnowledgeItem, error) {
	return nil, errors.New("db down")
}

func event(t *testing.T, id string) mq.Message {
	t.Helper()
	b, err := json.Marshal(knowledge.IngestEvent{KnowledgeID: id, ChatbotID: "bot1", EnqueuedAt: time.Now()})
	require.NoError(t, err)
	return mq.Message{Topic: "ingest", Value: b, Headers: map[string]string{"event_type": knowledge.EventTypeIngest}}
}

func TestIngestConsumerWorker_Handle(t *testing.T) {
	ctx := context.Background()
	repo := persistence.NewMemoryKnowledgeRepository()
	items := []*knowledge.KnowledgeItem{
		{Id: "queued", ChatbotId: "bot1", Content: "body", Status: knowledge.StatusQueued},
		{Id: "done", ChatbotId: "bot1", Content: "body", Status: knowledge.StatusCompleted, ContentHash: knowledge.ContentHash("body")},
		{Id: "changed", ChatbotId: "bot1", Content: "new body", Status: knowledge.StatusCompleted, ContentHash: knowledge.ContentHash("body")},
		{Id: "terminal", ChatbotId: "bot1", Content: "body", Status: knowledge.StatusFailed, Retryable: false},
		{Id: "exhausted", ChatbotId: "bot1", Content: "body", Status: knowledge.StatusFailed, Retryable: true, RetryCount: 3},
		{Id: "retry", ChatbotId: "bot1", Content: "body", Status: knowledge.StatusFailed, Retryable: true, RetryCount: 1},
	}
	for _, it := range items {
		require.NoError(t, repo.Create(ctx, it))
	}

	proc := &fakeProcessor{}
	w := NewIngestConsumerWorker(mq.NewInProc(1), repo, proc, 3)
	for _, it := range items {
		require.NoError(t, w.Handle(ctx, event(t, it.Id)))
	}
	require.NoError(t, w.Handle(ctx, event(t, "missing")))
	require.NoError(t, w.Handle(ctx, mq.Message{Value: []byte("not json")}))
	require.NoError(t, w.Handle(ctx, mq.Message{Value: []byte(`{}`), Headers: map[string]string{"event_type": "other"}}))

	assert.Equal(t, []string{"queued", "changed", "retry"}, proc.ids)
}

func TestIngestConsumerWorker_RepositoryErrorIsReturned(t *testing.T) {
	w := NewIngestConsumerWorker(mq.NewInProc(1), errRepo{persistence.NewMemoryKnowledgeRepository()}, &fakeProcessor{}, 3)
	assert.Error(t, w.Handle(context.Background(), event(t, "k1")))
}

func TestIngestConsumerWorker_RunWithInProcQueue(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	repo := persistence.NewMemoryKnowledgeRepository()
	require.NoError(t, repo.Create(ctx, &knowledge.KnowledgeItem{Id: "k1", ChatbotId: "bot1", Status: knowledge.StatusQueued}))

	q := mq.NewInProc(4)
	done := make(chan string, 1)
	proc := processorFunc(func(ctx context.Context, id string) *knowledge.ProcessResult {
		done <- id
		return &knowledge.ProcessResult{KnowledgeID: id, Success: true}
	})
	w := NewIngestConsumerWorker(q, repo, proc, 3)
	go func() { _ = w.Run(ctx) }()

	_, err := q.Publish(ctx, event(t, "k1"))
	require.NoError(t, err)
	select {
	case id := <-done:
		assert.Equal(t, "k1", id)
	case <-ctx.Done():
		t.Fatal("event was not consumed")
	}
}

type processorFunc func(ctx context.Context, id string) *knowledge.ProcessResult

func (f processorFunc) ProcessKnowledge(ctx context.Context, id string) *knowledge.ProcessResult {
	return f(ctx, id)
}

type fakeRetrier struct {
	calls      atomic.Int32
	err        error
	staleAfter time.Duration
}

func (f *fakeRetrier) RetryFailed(ctx context.Context, chatbotID string) (*knowledge.BatchResult, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &knowledge.BatchResult{Total: 1, Succeeded: 1}, nil
}

func (f *fakeRetrier) RecoverStale(ctx context.Context, staleAfter time.Duration) (*knowledge.BatchResult, error) {
	f.staleAfter = staleAfter
	return &knowledge.BatchResult{Total: 2, Succeeded: 1, Failed: 1, Skipped: 1}, nil
}

func TestRetrySweeper_RunOnce(t *testing.T) {
	r := &fakeRetrier{}
	s := NewRetrySweeper(r, time.Hour, 10*time.Minute)
	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 10*time.Minute, r.staleAfter)

	r.err = errors.New("db down")
	_, err = s.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(2), r.calls.Load())
}

func TestRetrySweeper_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &fakeRetrier{}
	s := NewRetrySweeper(r, 5*time.Millisecond, 0)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	assert.Eventually(t, func() bool { return r.calls.Load() > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}
