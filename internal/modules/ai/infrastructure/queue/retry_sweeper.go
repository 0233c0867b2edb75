package queue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"LeadPilot/internal/modules/ai/domain/knowledge"
	"LeadPilot/pkg/zlog"
)

// IngestRetrier 由入库编排服务实现，chatbotID 为空表示全部
type IngestRetrier interface {
	RetryFailed(ctx context.Context, chatbotID string) (*knowledge.BatchResult, error)
	RecoverStale(ctx context.Context, staleAfter time.Duration) (*knowledge.BatchResult, error)
}

// RetrySweeper 定期重处理可重试的失败条目，以及卡在 queued/processing 的条目
type RetrySweeper struct {
	retrier    IngestRetrier
	interval   time.Duration
	staleAfter time.Duration
}

func NewRetrySweeper(retrier IngestRetrier, interval, staleAfter time.Duration) *RetrySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return &RetrySweeper{retrier: retrier, interval: interval, staleAfter: staleAfter}
}

// Run 阻塞直到 ctx 取消；出错时按指数退避，最长 30 分钟
func (s *RetrySweeper) Run(ctx context.Context) error {
	if s.retrier == nil {
		return errors.New("retrier is nil")
	}
	wait := s.interval
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		if _, err := s.RunOnce(ctx); err != nil {
			wait = min(wait*2, 30*time.Minute)
			continue
		}
		wait = s.interval
	}
}

func (s *RetrySweeper) RunOnce(ctx context.Context) (*knowledge.BatchResult, error) {
	res, err := s.retrier.RetryFailed(ctx, "")
	if err != nil {
		zlog.Warn("ai retry sweep failed", zap.Error(err))
		return nil, err
	}
	stale, err := s.retrier.RecoverStale(ctx, s.staleAfter)
	if err != nil {
		zlog.Warn("ai stale sweep failed", zap.Error(err))
		return nil, err
	}
	res.Total += stale.Total
	res.Succeeded += stale.Succeeded
	res.Failed += stale.Failed
	res.Skipped += stale.Skipped
	res.Results = append(res.Results, stale.Results...)
	if res.Total > 0 || res.Skipped > 0 {
		zlog.Info("ai retry sweep done",
			zap.Int("total", res.Total),
			zap.Int("succeeded", res.Succeeded),
			zap.Int("failed", res.Failed),
			zap.Int("skipped", res.Skipped))
	}
	return res, nil
}
