package budget

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LeadPilot/internal/modules/ai/domain/conversation"
)

func msgWithTokens(i, tokens int) *conversation.Message {
	// 内容 token = tokens - 开销，每 token 4 个字符
	body := strings.Repeat("a", (tokens-MessageOverheadTokens)*DefaultCharsPerToken)
	return &conversation.Message{
		Id:             fmt.Sprintf("m%02d", i),
		ConversationId: "c1",
		Role:           []string{conversation.RoleUser, conversation.RoleAssistant}[i%2],
		Content:        body,
		Status:         conversation.MessageStatusSent,
		CreatedAt:      time.Unix(int64(1000+i), 0),
	}
}

func TestCharEstimator(t *testing.T) {
	est := NewCharEstimator()
	assert.Equal(t, 0, est.Estimate(""))
	assert.Equal(t, 1, est.Estimate("abc"))
	assert.Equal(t, 1, est.Estimate("abcd"))
	assert.Equal(t, 2, est.Estimate("abcde"))
	// 按 rune 计数
	assert.Equal(t, 1, est.Estimate("你好世界"))

	m := &conversation.Message{Content: "abcdefgh"}
	assert.Equal(t, 2+MessageOverheadTokens, EstimateMessage(est, m))
}

func TestAvailableForHistory(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 122000, cfg.AvailableForHistory())

	cfg.SystemReserve = cfg.ContextWindow
	assert.Equal(t, 0, cfg.AvailableForHistory())
}

func TestGetTokenBudgetStatus_Thresholds(t *testing.T) {
	cfg := Config{ContextWindow: 1000, WarningThreshold: 0.75, CompactionThreshold: 0.90,
		EmergencyThreshold: 0.95, CriticalTarget: 0.7, EmergencyTarget: 0.5}

	assert.Equal(t, StatusHealthy, GetTokenBudgetStatus(0, cfg))
	assert.Equal(t, StatusHealthy, GetTokenBudgetStatus(749, cfg))
	assert.Equal(t, StatusWarning, GetTokenBudgetStatus(750, cfg))
	assert.Equal(t, StatusCritical, GetTokenBudgetStatus(900, cfg))
	assert.Equal(t, StatusEmergency, GetTokenBudgetStatus(950, cfg))
	assert.Equal(t, StatusEmergency, GetTokenBudgetStatus(5000, cfg))

	assert.False(t, NeedsCompaction(StatusWarning))
	assert.True(t, NeedsCompaction(StatusCritical))
	assert.True(t, NeedsCompaction(StatusEmergency))
}

func TestGetTokenBudgetStatus_Monotonic(t *testing.T) {
	cfg := DefaultConfig()
	rank := map[Status]int{StatusHealthy: 0, StatusWarning: 1, StatusCritical: 2, StatusEmergency: 3}
	prev := 0
	for tokens := 0; tokens <= cfg.AvailableForHistory()+1000; tokens += 250 {
		r := rank[GetTokenBudgetStatus(tokens, cfg)]
		require.GreaterOrEqual(t, r, prev, "tokens=%d", tokens)
		prev = r
	}
}

func TestStatusFor_ZeroAvailable(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, StatusHealthy, StatusFor(0, 0, cfg))
	assert.Equal(t, StatusEmergency, StatusFor(1, 0, cfg))
}

func TestEvaluate_Targets(t *testing.T) {
	cfg := DefaultConfig()

	d := Evaluate(370, 400, cfg)
	assert.Equal(t, StatusCritical, d.Status)
	assert.Equal(t, StrategyCritical, d.Strategy)
	assert.Equal(t, 280, d.TargetTokens)

	d = Evaluate(450, 400, cfg)
	assert.Equal(t, StatusEmergency, d.Status)
	assert.Equal(t, 200, d.TargetTokens)

	d = Evaluate(100, 400, cfg)
	assert.False(t, d.NeedsCompaction)
	assert.Equal(t, StrategyNone, d.Strategy)
}

func TestCompactor_DropsOldestFirst(t *testing.T) {
	msgs := make([]*conversation.Message, 0, 20)
	for i := 0; i < 20; i++ {
		msgs = append(msgs, msgWithTokens(i, 20))
	}
	c := NewCompactor(NewCharEstimator(), 5)

	res := c.Compact(msgs, 200, StrategyCritical)
	require.Len(t, res.Retained, 10)
	require.Len(t, res.Dropped, 10)
	assert.Equal(t, 200, res.TotalTokens)
	assert.Equal(t, "m10", res.Retained[0].Id)
	assert.Equal(t, "m19", res.Retained[9].Id)
	assert.Equal(t, "m00", res.Dropped[0].Id)
}

func TestCompactor_RespectsFloor(t *testing.T) {
	msgs := make([]*conversation.Message, 0, 12)
	for i := 0; i < 12; i++ {
		msgs = append(msgs, msgWithTokens(i, 50))
	}
	c := NewCompactor(NewCharEstimator(), 10)

	res := c.Compact(msgs, 100, StrategyEmergency)
	assert.Len(t, res.Retained, 10)
	assert.Equal(t, 500, res.TotalTokens)

	short := msgs[:8]
	res = c.Compact(short, 10, StrategyEmergency)
	assert.Len(t, res.Retained, 8)
	assert.Empty(t, res.Dropped)
}

func TestCompactor_NoneStrategyKeepsAll(t *testing.T) {
	msgs := []*conversation.Message{msgWithTokens(0, 30), msgWithTokens(1, 30)}
	res := NewCompactor(nil, 0).Compact(msgs, 1, StrategyNone)
	assert.Len(t, res.Retained, 2)
	assert.Equal(t, 60, res.TotalTokens)
}

// 500 窗口、5 系统预留、15 回复预留，RAG 占 80，20 条消息共 450 token
func TestCompaction_SmallWindowScenario(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContextWindow, cfg.SystemReserve, cfg.ResponseReserve = 500, 5, 15
	est := NewCharEstimator()

	msgs := make([]*conversation.Message, 0, 20)
	for i := 0; i < 20; i++ {
		tokens := 22
		if i < 10 {
			tokens = 23
		}
		msgs = append(msgs, msgWithTokens(i, tokens))
	}
	require.Equal(t, 450, EstimateMessages(est, msgs))

	effective := cfg.AvailableForHistory() - 80
	require.Equal(t, 400, effective)

	d := Evaluate(450, effective, cfg)
	require.True(t, d.NeedsCompaction)

	res := NewCompactor(est, cfg.MinMessages).Compact(msgs, d.TargetTokens, d.Strategy)
	assert.LessOrEqual(t, res.TotalTokens, 280)
	assert.GreaterOrEqual(t, len(res.Retained), cfg.MinMessages)
	assert.Equal(t, "m19", res.Retained[len(res.Retained)-1].Id)
}
