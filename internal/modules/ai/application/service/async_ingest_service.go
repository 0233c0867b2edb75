package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"LeadPilot/internal/modules/ai/domain/knowledge"
	"LeadPilot/internal/modules/ai/domain/repository"
	"LeadPilot/internal/modules/ai/infrastructure/mq"
	"LeadPilot/pkg/xerr"
	"LeadPilot/pkg/zlog"
)

// AsyncIngestService 上传方确认正文落库后调用，把条目投递到入库队列
type AsyncIngestService interface {
	EnqueueKnowledge(ctx context.Context, knowledgeID, chatbotID string) error
}

type asyncIngestService struct {
	repo  repository.KnowledgeRepository
	pub   mq.Publisher
	topic string
}

func NewAsyncIngestService(repo repository.KnowledgeRepository, pub mq.Publisher, topic string) AsyncIngestService {
	return &asyncIngestService{repo: repo, pub: pub, topic: strings.TrimSpace(topic)}
}

func (s *asyncIngestService) EnqueueKnowledge(ctx context.Context, knowledgeID, chatbotID string) error {
	kid := strings.TrimSpace(knowledgeID)
	bot := strings.TrimSpace(chatbotID)
	if kid == "" || bot == "" {
		return xerr.New(xerr.BadRequest, "missing knowledge_id or chatbot_id")
	}
	if s.pub == nil || s.topic == "" {
		return xerr.ErrUnavailable
	}

	item, err := s.repo.GetByID(ctx, kid)
	if err != nil {
		return err
	}
	if item == nil {
		return xerr.Wrap(xerr.NotFound, "knowledge not found", knowledge.ErrKnowledgeNotFound)
	}
	if item.ChatbotId != bot {
		return xerr.New(xerr.BadRequest, "knowledge does not belong to chatbot")
	}

	b, err := json.Marshal(knowledge.IngestEvent{KnowledgeID: kid, ChatbotID: bot, EnqueuedAt: time.Now()})
	if err != nil {
		return err
	}

	if err := s.repo.Update(ctx, kid, map[string]any{
		knowledge.ColStatus:       knowledge.StatusQueued,
		knowledge.ColErrorMessage: "",
	}); err != nil {
		return err
	}

	res, err := s.pub.Publish(ctx, mq.Message{
		Topic: s.topic,
		Key:   []byte(bot),
		Value: b,
		Headers: map[string]string{
			"event_type":   knowledge.EventTypeIngest,
			"knowledge_id": kid,
			"chatbot_id":   bot,
		},
	})
	if err != nil {
		// 投递失败可以由重试任务捞回；状态回写也失败时条目停在 queued，由超时扫描兜底
		if uerr := s.repo.Update(ctx, kid, map[string]any{
			knowledge.ColStatus:       knowledge.StatusFailed,
			knowledge.ColErrorMessage: "enqueue failed",
			knowledge.ColRetryable:    true,
		}); uerr != nil {
			zlog.Error("ai knowledge enqueue mark failed error", zap.String("knowledge_id", kid), zap.Error(uerr))
		}
		zlog.Warn("ai knowledge enqueue failed", zap.String("knowledge_id", kid), zap.String("chatbot_id", bot), zap.Error(err))
		return xerr.Wrap(xerr.ServiceUnavailable, "enqueue failed", fmt.Errorf("publish %s: %w", s.topic, err))
	}

	zlog.Info("ai knowledge enqueued",
		zap.String("knowledge_id", kid),
		zap.String("chatbot_id", bot),
		zap.Int32("partition", res.Partition),
		zap.Int64("offset", res.Offset))
	return nil
}
