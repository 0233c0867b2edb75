package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"LeadPilot/internal/modules/ai/domain/knowledge"
	"LeadPilot/internal/modules/ai/domain/repository"
	"LeadPilot/internal/modules/ai/infrastructure/mq"
	"LeadPilot/pkg/zlog"
)

// KnowledgeProcessor 由入库编排服务实现
type KnowledgeProcessor interface {
	ProcessKnowledge(ctx context.Context, knowledgeID string) *knowledge.ProcessResult
}

// IngestConsumerWorker 消费入库队列并调用 ProcessKnowledge。
// 只有读取元数据失败才返回 error（不提交位点），处理失败已记录在条目上。
type IngestConsumerWorker struct {
	consumer   mq.Consumer
	repo       repository.KnowledgeRepository
	proc       KnowledgeProcessor
	maxRetries int
}

func NewIngestConsumerWorker(consumer mq.Consumer, repo repository.KnowledgeRepository, proc KnowledgeProcessor, maxRetries int) *IngestConsumerWorker {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &IngestConsumerWorker{consumer: consumer, repo: repo, proc: proc, maxRetries: maxRetries}
}

func (w *IngestConsumerWorker) Run(ctx context.Context) error {
	if w == nil || w.consumer == nil {
		return errors.New("consumer is nil")
	}
	if w.repo == nil {
		return errors.New("knowledge repo is nil")
	}
	if w.proc == nil {
		return errors.New("knowledge processor is nil")
	}
	return w.consumer.Run(ctx, w)
}

func (w *IngestConsumerWorker) Handle(ctx context.Context, msg mq.Message) error {
	if et := strings.TrimSpace(msg.Headers["event_type"]); et != "" && et != knowledge.EventTypeIngest {
		return nil
	}
	var ev knowledge.IngestEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil || strings.TrimSpace(ev.KnowledgeID) == "" {
		zlog.Warn("ai ingest consumer invalid event", zap.String("topic", msg.Topic), zap.Int("bytes", len(msg.Value)))
		return nil
	}

	item, err := w.repo.GetByID(ctx, ev.KnowledgeID)
	if err != nil {
		zlog.Warn("ai ingest consumer load knowledge failed", zap.String("knowledge_id", ev.KnowledgeID), zap.Error(err))
		return err
	}
	if item == nil {
		zlog.Info("ai ingest consumer knowledge gone", zap.String("knowledge_id", ev.KnowledgeID))
		return nil
	}
	if skip, reason := w.shouldSkip(item); skip {
		zlog.Info("ai ingest consumer skipped",
			zap.String("knowledge_id", item.Id),
			zap.String("status", item.Status),
			zap.String("reason", reason))
		return nil
	}

	res := w.proc.ProcessKnowledge(ctx, item.Id)
	if !res.Success {
		zlog.Warn("ai ingest consumer event failed",
			zap.String("knowledge_id", res.KnowledgeID),
			zap.String("chatbot_id", ev.ChatbotID),
			zap.Bool("retryable", res.Retryable),
			zap.String("error", res.Error))
	}
	return nil
}

// shouldSkip 内容未变的已完成条目、以及不会再自动重试的失败条目直接跳过
func (w *IngestConsumerWorker) shouldSkip(item *knowledge.KnowledgeItem) (bool, string) {
	switch item.Status {
	case knowledge.StatusCompleted:
		if item.ContentHash != "" && item.ContentHash == knowledge.ContentHash(item.Content) {
			return true, "content unchanged"
		}
	case knowledge.StatusFailed:
		if !item.Retryable {
			return true, "not retryable"
		}
		if item.RetryCount >= w.maxRetries {
			return true, "retry limit reached"
		}
	}
	return false, ""
}
