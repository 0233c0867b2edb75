package budget

import "LeadPilot/internal/modules/ai/domain/conversation"

// CompactionResult Retained 保持原有顺序
type CompactionResult struct {
	Retained    []*conversation.Message
	Dropped     []*conversation.Message
	TotalTokens int
	Strategy    Strategy
}

// Compactor 从最旧的消息开始丢弃，直到不超过目标或只剩 MinMessages 条
type Compactor struct {
	estimator   TokenEstimator
	minMessages int
}

func NewCompactor(est TokenEstimator, minMessages int) *Compactor {
	if est == nil {
		est = NewCharEstimator()
	}
	return &Compactor{estimator: est, minMessages: max(0, minMessages)}
}

// Compact msgs 需按时间升序。StrategyNone 原样返回。
// 达到最少保留条数后即使仍超出目标也停止丢弃。
func (c *Compactor) Compact(msgs []*conversation.Message, targetTokens int, strategy Strategy) CompactionResult {
	tokens := make([]int, len(msgs))
	total := 0
	for i, m := range msgs {
		tokens[i] = EstimateMessage(c.estimator, m)
		total += tokens[i]
	}

	res := CompactionResult{Strategy: strategy}
	if strategy == StrategyNone {
		res.Retained = msgs
		res.TotalTokens = total
		return res
	}

	cut := 0
	for total > targetTokens && len(msgs)-cut > c.minMessages {
		total -= tokens[cut]
		cut++
	}
	res.Dropped = msgs[:cut]
	res.Retained = msgs[cut:]
	res.TotalTokens = total
	return res
}
